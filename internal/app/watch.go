package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/pipewright/internal/rules"
)

// Watch re-validates the pipeline definition whenever a watched .hcl file
// changes, until the context is canceled. Edit-save cycles produce bursts of
// events, so changes are debounced before re-validating.
func (a *App) Watch(ctx context.Context, trigger rules.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, p := range a.pipelinePaths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		a.logger.Info("Watching for changes.", "dir", dir)
	}

	validate := func() {
		if err := a.Validate(ctx, trigger); err != nil {
			a.logger.Error("Pipeline definition is invalid.", "error", err)
		}
	}
	validate()

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".hcl") {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			a.logger.Debug("Definition changed.", "file", ev.Name, "op", ev.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			validate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("Watcher error.", "error", err)
		}
	}
}
