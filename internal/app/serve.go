package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pipewright/internal/ctxlog"
	"github.com/vk/pipewright/internal/rules"
	"github.com/vk/pipewright/internal/scheduler"
	"github.com/vk/pipewright/internal/server"
)

// StartPipeline launches a pipeline in the background for an API trigger and
// returns its id as soon as the run is registered. Part of the
// server.PipelineRunner contract.
func (a *App) StartPipeline(ctx context.Context, trigger rules.Context) (string, error) {
	// The run must outlive the HTTP request that triggered it.
	runCtx := ctxlog.WithLogger(context.WithoutCancel(ctx), a.logger)

	doc, err := a.loadDocument(runCtx)
	if err != nil {
		return "", err
	}
	outcomes, err := a.evaluate(doc, trigger)
	if err != nil {
		return "", err
	}

	started := make(chan string, 1)
	go func() {
		result, err := a.runGraph(runCtx, doc, outcomes, trigger, true, started)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Background pipeline failed.", "error", err)
			return
		}
		if result != nil {
			a.logger.Info("Background pipeline finished.", "pipelineID", result.ID, "state", result.State)
		}
	}()

	id := <-started
	if id == "" {
		return "", fmt.Errorf("pipeline could not be started")
	}
	return id, nil
}

// PlayJob routes a manual trigger to the live pipeline.
func (a *App) PlayJob(pipelineID, job string) error {
	a.mu.Lock()
	sched, ok := a.active[pipelineID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline %s is not running", pipelineID)
	}
	return sched.Play(job)
}

// CancelPipeline cancels a live pipeline.
func (a *App) CancelPipeline(pipelineID string) error {
	a.mu.Lock()
	sched, ok := a.active[pipelineID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline %s is not running", pipelineID)
	}
	sched.Cancel()
	return nil
}

// ActivePipeline returns a live snapshot of a running pipeline.
func (a *App) ActivePipeline(pipelineID string) (*scheduler.PipelineResult, bool) {
	a.mu.Lock()
	sched, ok := a.active[pipelineID]
	a.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sched.Snapshot()
}

// Serve runs the HTTP API until the context is canceled.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(a.cfg.Server.Addr, a, a.archive, a.metrics, a.logger)
	return srv.Run(ctxlog.WithLogger(ctx, a.logger))
}
