// Package app wires configuration, stores, executors, scheduler and server
// into the commands the CLI exposes.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vk/pipewright/internal/executor"
	"github.com/vk/pipewright/internal/history"
	"github.com/vk/pipewright/internal/metrics"
	"github.com/vk/pipewright/internal/scheduler"
	"github.com/vk/pipewright/internal/store"
)

// App holds the long-lived pieces of the engine. One App serves one process,
// whether that process runs a single pipeline or the HTTP API.
type App struct {
	cfg     *Config
	logger  *slog.Logger
	blobs   *store.Store
	archive *history.Store
	metrics *metrics.Metrics
	pool    *executor.Pool

	// pipelinePaths are the pipeline definition files or directories this
	// App loads documents from.
	pipelinePaths []string

	mu     sync.Mutex
	active map[string]*scheduler.Scheduler
}

// New builds a fully wired App. The caller owns Close.
func New(cfg *Config, pipelinePaths []string, outW io.Writer) (*App, error) {
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, outW)
	logger.Debug("Logger configured successfully.")

	blobs, err := store.Open(store.Config{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	archive, err := history.Open(cfg.History.Path)
	if err != nil {
		blobs.Close()
		return nil, fmt.Errorf("opening history: %w", err)
	}

	adapters := make([]executor.Adapter, 0, len(cfg.Executors))
	for _, e := range cfg.Executors {
		adapters = append(adapters, executor.NewShell(e.Name, e.Tags))
	}
	pool := executor.NewPool(cfg.AcquireWait.Duration, adapters...)
	logger.Debug("Executor pool ready.", "executors", len(adapters))

	return &App{
		cfg:           cfg,
		logger:        logger,
		blobs:         blobs,
		archive:       archive,
		metrics:       metrics.New(),
		pool:          pool,
		pipelinePaths: pipelinePaths,
		active:        make(map[string]*scheduler.Scheduler),
	}, nil
}

// Logger exposes the App's logger for the CLI layer.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases the stores.
func (a *App) Close() error {
	var firstErr error
	if err := a.archive.Close(); err != nil {
		firstErr = err
	}
	if err := a.blobs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
