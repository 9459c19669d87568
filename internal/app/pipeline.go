package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/pipewright/internal/config"
	"github.com/vk/pipewright/internal/ctxlog"
	"github.com/vk/pipewright/internal/graph"
	"github.com/vk/pipewright/internal/history"
	"github.com/vk/pipewright/internal/rules"
	"github.com/vk/pipewright/internal/scheduler"
)

// ErrWorkflowSkipped means the workflow rules decided no pipeline should be
// created for this trigger. Not a failure.
var ErrWorkflowSkipped = errors.New("pipeline skipped by workflow rules")

// loadDocument loads, merges, resolves and validates the pipeline
// definition.
func (a *App) loadDocument(ctx context.Context) (*config.Document, error) {
	doc, err := config.Load(ctx, a.pipelinePaths...)
	if err != nil {
		return nil, err
	}
	if err := config.Resolve(doc); err != nil {
		return nil, err
	}
	if err := config.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// evaluate runs the workflow gate and every job's rules against the trigger.
func (a *App) evaluate(doc *config.Document, trigger rules.Context) (map[string]rules.Outcome, error) {
	workflow, err := rules.CompileWorkflow(doc.Workflow)
	if err != nil {
		return nil, err
	}
	gate, err := workflow.Evaluate(trigger)
	if err != nil {
		return nil, err
	}
	if gate.Decision == rules.Skip {
		return nil, ErrWorkflowSkipped
	}

	outcomes := make(map[string]rules.Outcome, len(doc.Jobs))
	for name, job := range doc.Jobs {
		rs, err := rules.CompileJob(job)
		if err != nil {
			return nil, err
		}
		out, err := rs.Evaluate(trigger)
		if err != nil {
			return nil, err
		}
		outcomes[name] = out
	}
	return outcomes, nil
}

// Validate checks the pipeline definition end to end without running
// anything: parse, merge, resolve templates, semantic checks, and a graph
// build against the given trigger to surface cycle and needs errors.
func (a *App) Validate(ctx context.Context, trigger rules.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	doc, err := a.loadDocument(ctx)
	if err != nil {
		return err
	}
	outcomes, err := a.evaluate(doc, trigger)
	if errors.Is(err, ErrWorkflowSkipped) {
		a.logger.Info("Workflow rules skip this trigger; definition itself is valid.")
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := graph.Build(ctx, doc, outcomes); err != nil {
		return err
	}
	a.logger.Info("✅ Pipeline definition is valid.",
		"jobs", len(doc.Jobs), "stages", len(doc.Stages))
	return nil
}

// RunPipeline executes one pipeline for the trigger and blocks until it
// finishes. With blockOnManual the run stays open while manual jobs wait for
// a trigger; without it they are reported as waiting and left unrun.
func (a *App) RunPipeline(ctx context.Context, trigger rules.Context, blockOnManual bool) (*scheduler.PipelineResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	doc, err := a.loadDocument(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := a.evaluate(doc, trigger)
	if err != nil {
		return nil, err
	}
	return a.runGraph(ctx, doc, outcomes, trigger, blockOnManual, nil)
}

// runGraph builds and executes the graph. When started is non-nil the
// pipeline id is sent on it as soon as the run is registered, so API callers
// get the id before the pipeline finishes.
func (a *App) runGraph(ctx context.Context, doc *config.Document, outcomes map[string]rules.Outcome,
	trigger rules.Context, blockOnManual bool, started chan<- string) (*scheduler.PipelineResult, error) {

	g, err := graph.Build(ctx, doc, outcomes)
	if err != nil {
		if started != nil {
			started <- ""
		}
		return nil, err
	}

	id := uuid.NewString()
	sched := scheduler.New(g, a.pool, a.blobs, scheduler.Options{
		PipelineID:     id,
		Workspace:      a.cfg.Workspace,
		MaxConcurrency: a.cfg.Concurrency,
		DefaultTimeout: a.cfg.DefaultTimeout.Duration,
		BlockOnManual:  blockOnManual,
		Trigger:        trigger,
		GlobalVars:     doc.Variables,
		Metrics:        a.metrics,
	})

	a.mu.Lock()
	a.active[id] = sched
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.active, id)
		a.mu.Unlock()
	}()
	if started != nil {
		started <- id
	}

	if err := a.archive.RecordPipeline(id, trigger.Branch, trigger.Source, time.Now()); err != nil {
		a.logger.Warn("History write failed, continuing without it.", "error", err)
	}

	result, err := sched.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("running pipeline %s: %w", id, err)
	}
	a.recordResult(result)
	return result, nil
}

// recordResult persists a finished pipeline. History failures degrade to
// warnings so a full archive disk never breaks pipeline execution.
func (a *App) recordResult(result *scheduler.PipelineResult) {
	for _, jr := range result.Jobs {
		rec := &history.JobRecord{
			Name:       jr.Name,
			Stage:      jr.Stage,
			State:      jr.State.String(),
			Reason:     jr.Reason,
			ExitCode:   jr.ExitCode,
			Duration:   jr.Duration,
			FinishedAt: jr.FinishedAt,
		}
		if err := a.archive.RecordJob(result.ID, rec); err != nil {
			a.logger.Warn("History write failed.", "job", jr.Name, "error", err)
		}
	}
	if err := a.archive.FinishPipeline(result.ID, result.State, result.FinishedAt); err != nil {
		a.logger.Warn("History write failed.", "pipelineID", result.ID, "error", err)
	}
}

// History exposes the run archive for the CLI's history command.
func (a *App) History() *history.Store {
	return a.archive
}
