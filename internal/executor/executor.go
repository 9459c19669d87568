// Package executor is the boundary between the scheduler and whatever
// actually runs job scripts. The core hands an adapter an opaque ordered
// command list plus environment and placement hints, and gets back an exit
// status with captured output. Script contents are never parsed here or
// anywhere else in the core.
package executor

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when no executor matching a job's tag
// constraints could be acquired within the bounded wait.
var ErrUnavailable = errors.New("no matching executor available")

// errTransient marks acquire-side failures worth retrying with backoff.
var errTransient = errors.New("executor transiently unavailable")

// Request describes one job execution. Script lines are opaque; Image is a
// hint that shell-backed adapters ignore.
type Request struct {
	JobName string
	Script  []string
	Env     map[string]string
	Image   string
	WorkDir string
}

// Result is the outcome of a completed execution. A nonzero ExitCode with a
// nil error is an ordinary job failure, not a system fault.
type Result struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
}

// Adapter runs one request to completion. Implementations must honor context
// cancellation as a best-effort stop signal: the scheduler cancels the
// context on pipeline cancellation and on per-job timeout.
type Adapter interface {
	// Name identifies the executor in logs and results.
	Name() string
	// Tags are the placement capabilities this executor offers. A job may
	// run here when its tag set is a subset of these.
	Tags() []string
	// Execute runs the script list sequentially and returns the final exit
	// status. An error return means the executor itself failed, distinct
	// from the script exiting nonzero.
	Execute(ctx context.Context, req Request) (Result, error)
}
