package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/vk/pipewright/internal/ctxlog"
)

// Shell executes scripts with the local system shell, one command per script
// line, in the request's working directory. It is the in-process counterpart
// of a remote or containerized runner.
type Shell struct {
	name string
	tags []string
}

// NewShell creates a shell executor with the given placement tags.
func NewShell(name string, tags []string) *Shell {
	return &Shell{name: name, tags: tags}
}

func (s *Shell) Name() string { return s.name }

func (s *Shell) Tags() []string { return s.tags }

// Execute runs each script line via `sh -c`, stopping at the first nonzero
// exit. Output is the combined stdout/stderr of all lines run so far.
func (s *Shell) Execute(ctx context.Context, req Request) (Result, error) {
	logger := ctxlog.FromContext(ctx).With("executor", s.name, "job", req.JobName)
	if req.Image != "" {
		logger.Debug("Image requested but shell executor has no container backend, ignoring.", "image", req.Image)
	}

	env := os.Environ()
	for _, k := range sortedEnvKeys(req.Env) {
		env = append(env, k+"="+req.Env[k])
	}

	var output bytes.Buffer
	start := time.Now()
	for _, line := range req.Script {
		if err := ctx.Err(); err != nil {
			return Result{ExitCode: -1, Output: output.Bytes(), Duration: time.Since(start)}, err
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", line)
		cmd.Dir = req.WorkDir
		cmd.Env = env
		cmd.Stdout = &output
		cmd.Stderr = &output
		// The context kill only reaches the sh process; children it spawned
		// can keep the output pipe open. WaitDelay abandons the pipe so a
		// canceled or timed-out job returns promptly instead of waiting for
		// orphans to exit.
		cmd.WaitDelay = 2 * time.Second

		logger.Debug("Running script line.")
		if err := cmd.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// The process was killed by cancellation or timeout, not by
				// its own exit.
				return Result{ExitCode: -1, Output: output.Bytes(), Duration: time.Since(start)}, ctxErr
			}
			if exitErr, ok := err.(*exec.ExitError); ok {
				return Result{
					ExitCode: exitErr.ExitCode(),
					Output:   output.Bytes(),
					Duration: time.Since(start),
				}, nil
			}
			// Not an exit status: the executor itself failed to run the line.
			return Result{ExitCode: -1, Output: output.Bytes(), Duration: time.Since(start)},
				fmt.Errorf("running script line: %w", err)
		}
	}

	return Result{ExitCode: 0, Output: output.Bytes(), Duration: time.Since(start)}, nil
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
