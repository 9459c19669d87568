// Package scheduler drives one pipeline from graph to terminal result. A
// single coordinating goroutine owns all job state; worker goroutines run
// jobs and report back over a completion channel, and manual triggers and
// cancellation arrive over their own channels, so no state needs locking.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/pipewright/internal/ctxlog"
	"github.com/vk/pipewright/internal/executor"
	"github.com/vk/pipewright/internal/graph"
	"github.com/vk/pipewright/internal/metrics"
	"github.com/vk/pipewright/internal/rules"
	"github.com/vk/pipewright/internal/store"
)

// Options configures one pipeline run.
type Options struct {
	PipelineID string
	// Workspace is the root under which per-job working directories are
	// created as <workspace>/<pipeline id>/<job name>.
	Workspace string
	// MaxConcurrency bounds simultaneously running jobs. Defaults to 4.
	MaxConcurrency int
	// DefaultTimeout applies to jobs without their own timeout. Defaults to
	// one hour.
	DefaultTimeout time.Duration
	// BlockOnManual keeps Run open while manual jobs wait for a Play call.
	// When false, an eligible manual job is recorded as waiting and the run
	// finishes without it.
	BlockOnManual bool
	// Trigger is the evaluation context the pipeline was started with. Its
	// fields become predefined environment variables.
	Trigger rules.Context
	// GlobalVars are the document-level variables.
	GlobalVars map[string]string
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// completion is a worker's report back to the coordinator.
type completion struct {
	name   string
	result JobResult
	dotenv map[string]string
}

type playRequest struct {
	job   string
	reply chan error
}

type snapshotRequest struct {
	reply chan *PipelineResult
}

// nodeState is the coordinator's private bookkeeping for one job. Only the
// coordinator goroutine touches it.
type nodeState struct {
	node        *graph.Node
	state       State
	pendingDeps int
	played      bool
	dotenv      map[string]string
}

// Scheduler runs one pipeline graph. Run may be called once; Play and Cancel
// are safe from other goroutines while Run is in flight.
type Scheduler struct {
	graph *graph.Graph
	pool  *executor.Pool
	blobs *store.Store
	opts  Options

	playCh     chan playRequest
	snapCh     chan snapshotRequest
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// New prepares a scheduler for one pipeline run.
func New(g *graph.Graph, pool *executor.Pool, blobs *store.Store, opts Options) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = time.Hour
	}
	return &Scheduler{
		graph:    g,
		pool:     pool,
		blobs:    blobs,
		opts:     opts,
		playCh:   make(chan playRequest),
		snapCh:   make(chan snapshotRequest),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Play triggers a manual job. It returns an error if the job is unknown, not
// manual, already started, or the pipeline has finished.
func (s *Scheduler) Play(job string) error {
	req := playRequest{job: job, reply: make(chan error, 1)}
	select {
	case s.playCh <- req:
		return <-req.reply
	case <-s.done:
		return fmt.Errorf("pipeline has already finished")
	}
}

// Snapshot returns the pipeline's current per-job view while Run is in
// flight. It returns false once the pipeline has finished.
func (s *Scheduler) Snapshot() (*PipelineResult, bool) {
	req := snapshotRequest{reply: make(chan *PipelineResult, 1)}
	select {
	case s.snapCh <- req:
		return <-req.reply, true
	case <-s.done:
		return nil, false
	}
}

// Cancel requests pipeline cancellation. Running jobs get their contexts
// canceled; everything not yet started becomes Canceled.
func (s *Scheduler) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Run executes the graph to completion and returns the per-job outcomes. The
// returned error covers coordinator-level faults only; job failures are
// expressed in the result.
func (s *Scheduler) Run(ctx context.Context) (*PipelineResult, error) {
	logger := ctxlog.FromContext(ctx).With("pipelineID", s.opts.PipelineID)
	defer close(s.done)

	runCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()

	start := time.Now()
	result := &PipelineResult{
		ID:        s.opts.PipelineID,
		Jobs:      make(map[string]*JobResult, len(s.graph.Nodes)+len(s.graph.Skipped)),
		StartedAt: start,
	}
	for _, name := range s.graph.Skipped {
		result.Jobs[name] = &JobResult{
			Name: name, State: Skipped, StateName: Skipped.String(),
			Reason: ReasonRules, FinishedAt: start,
		}
	}

	states := make(map[string]*nodeState, len(s.graph.Nodes))
	for name, n := range s.graph.Nodes {
		states[name] = &nodeState{node: n, pendingDeps: len(n.Deps)}
	}

	events := make(chan completion)
	var ready []*nodeState
	running := 0
	remaining := len(states)
	wasCanceled := false

	record := func(st *nodeState, res JobResult) {
		res.StateName = res.State.String()
		st.state = res.State
		result.Jobs[res.Name] = &res
		if res.State.Terminal() {
			remaining--
		}
	}

	enqueue := func(st *nodeState) {
		if st.node.Decision == rules.Manual && !st.played {
			st.state = ManualWait
			logger.Info("⏸️ Job waiting for manual trigger.", "job", st.node.Job.Name)
			return
		}
		st.state = Ready
		ready = append(ready, st)
	}

	var skipDependents func(st *nodeState, reason string)
	skipDependents = func(st *nodeState, reason string) {
		for _, dep := range st.node.Dependents {
			dst := states[dep.Job.Name]
			if dst.state != Pending {
				continue
			}
			logger.Warn("Skipping job due to upstream failure.",
				"job", dep.Job.Name, "upstream", st.node.Job.Name)
			record(dst, JobResult{
				Name: dep.Job.Name, Stage: dep.Job.Stage, State: Skipped,
				Reason: reason, FinishedAt: time.Now(),
			})
			skipDependents(dst, reason)
		}
	}

	dispatch := func() {
		for running < s.opts.MaxConcurrency && len(ready) > 0 {
			best := 0
			for i, st := range ready {
				if st.node.Fanout > ready[best].node.Fanout {
					best = i
				}
			}
			st := ready[best]
			ready = append(ready[:best], ready[best+1:]...)
			st.state = Running
			running++
			if m := s.opts.Metrics; m != nil {
				m.JobsRunning.Inc()
			}
			logger.Info("▶️ Starting job.", "job", st.node.Job.Name, "stage", st.node.Job.Stage)
			go s.runJob(runCtx, events, st.node, s.snapshotInputs(st, states))
		}
	}

	handleCompletion := func(ev completion) {
		running--
		st := states[ev.name]
		st.dotenv = ev.dotenv
		record(st, ev.result)
		if m := s.opts.Metrics; m != nil {
			m.JobsRunning.Dec()
			m.JobsTotal.WithLabelValues(ev.result.State.String()).Inc()
			m.JobDuration.Observe(ev.result.Duration.Seconds())
		}

		switch {
		case ev.result.State == Succeeded:
			logger.Info("✅ Job succeeded.", "job", ev.name, "duration", ev.result.Duration)
		case ev.result.State == Failed && ev.result.AllowedFailure:
			logger.Warn("Job failed but failure is allowed.", "job", ev.name, "reason", ev.result.Reason)
		default:
			logger.Error("Job did not succeed.", "job", ev.name,
				"state", ev.result.State.String(), "reason", ev.result.Reason)
		}

		satisfied := ev.result.State == Succeeded ||
			(ev.result.State == Failed && ev.result.AllowedFailure)
		if !satisfied {
			skipDependents(st, ReasonUpstreamFailed)
			return
		}
		for _, dep := range st.node.Dependents {
			dst := states[dep.Job.Name]
			if dst.state != Pending {
				continue
			}
			dst.pendingDeps--
			if dst.pendingDeps == 0 {
				enqueue(dst)
			}
		}
	}

	handlePlay := func(name string) error {
		st, ok := states[name]
		if !ok {
			return fmt.Errorf("job %q is not scheduled in this pipeline", name)
		}
		if st.node.Decision != rules.Manual {
			return fmt.Errorf("job %q is not a manual job", name)
		}
		switch st.state {
		case ManualWait:
			st.played = true
			st.state = Ready
			ready = append(ready, st)
			logger.Info("▶️ Manual job triggered.", "job", name)
			return nil
		case Pending:
			// Deps not satisfied yet; remember the trigger so the job starts
			// as soon as they are.
			st.played = true
			logger.Info("Manual job triggered early, will start when dependencies finish.", "job", name)
			return nil
		default:
			return fmt.Errorf("job %q is %s and cannot be triggered", name, st.state)
		}
	}

	snapshot := func() *PipelineResult {
		snap := &PipelineResult{
			ID:        result.ID,
			State:     "running",
			Jobs:      make(map[string]*JobResult, len(result.Jobs)+remaining),
			StartedAt: result.StartedAt,
		}
		for name, jr := range result.Jobs {
			copied := *jr
			snap.Jobs[name] = &copied
		}
		for name, st := range states {
			if _, ok := snap.Jobs[name]; ok {
				continue
			}
			snap.Jobs[name] = &JobResult{
				Name: name, Stage: st.node.Job.Stage,
				State: st.state, StateName: st.state.String(),
			}
		}
		return snap
	}

	cancelAll := func() {
		if wasCanceled {
			return
		}
		wasCanceled = true
		logger.Warn("Pipeline cancellation requested.")
		cancelJobs()
		now := time.Now()
		for _, st := range states {
			if st.state.Terminal() || st.state == Running {
				continue
			}
			record(st, JobResult{
				Name: st.node.Job.Name, Stage: st.node.Job.Stage,
				State: Canceled, Reason: ReasonCanceled, FinishedAt: now,
			})
		}
		ready = nil
	}

	// Seed the ready queue with every job that waits on nothing; all later
	// enqueues happen as dependencies complete.
	for _, st := range states {
		if st.pendingDeps == 0 {
			enqueue(st)
		}
	}

	logger.Info("🚀 Pipeline started.", "jobs", len(states), "skippedByRules", len(s.graph.Skipped))

	ctxDone := ctx.Done()
	cancelRequests := s.cancelCh
	for {
		if !wasCanceled {
			dispatch()
		}
		if running == 0 {
			if wasCanceled || remaining == 0 {
				break
			}
			if len(ready) == 0 && !s.opts.BlockOnManual {
				// Everything left is a manual job nobody triggered, or is
				// blocked behind one. Finish without them.
				break
			}
		}
		select {
		case ev := <-events:
			handleCompletion(ev)
		case req := <-s.playCh:
			req.reply <- handlePlay(req.job)
		case req := <-s.snapCh:
			req.reply <- snapshot()
		case <-cancelRequests:
			cancelAll()
			cancelRequests = nil
		case <-ctxDone:
			cancelAll()
			ctxDone = nil
		}
	}

	// Whatever is left never ran: manual jobs stay recorded as waiting,
	// their pending dependents become Skipped.
	now := time.Now()
	for _, st := range states {
		switch st.state {
		case ManualWait:
			record(st, JobResult{
				Name: st.node.Job.Name, Stage: st.node.Job.Stage,
				State: ManualWait, FinishedAt: now,
			})
		case Pending, Ready:
			record(st, JobResult{
				Name: st.node.Job.Name, Stage: st.node.Job.Stage,
				State: Skipped, Reason: ReasonManualBlocked, FinishedAt: now,
			})
		}
	}

	result.FinishedAt = time.Now()
	result.State = derivePipelineState(result, wasCanceled)
	if m := s.opts.Metrics; m != nil {
		m.PipelinesTotal.WithLabelValues(result.State).Inc()
	}
	logger.Info("🏁 Pipeline finished.", "state", result.State, "duration", result.FinishedAt.Sub(start))
	return result, nil
}

// snapshotInputs gathers everything a worker needs from other jobs' state
// before it leaves the coordinator goroutine: dotenv variables exported by
// dependencies and the list of dependencies whose artifacts must be fetched.
func (s *Scheduler) snapshotInputs(st *nodeState, states map[string]*nodeState) jobInputs {
	in := jobInputs{dotenv: make(map[string]string)}
	for name, dep := range st.node.Deps {
		dst := states[name]
		for k, v := range dst.dotenv {
			in.dotenv[k] = v
		}
		if a := dep.Job.Artifacts; a != nil && len(a.Paths) > 0 && dst.state == Succeeded {
			in.artifactProducers = append(in.artifactProducers, name)
		}
	}
	return in
}

func derivePipelineState(r *PipelineResult, wasCanceled bool) string {
	failed, manual := false, false
	for _, jr := range r.Jobs {
		if jr.State == Failed && !jr.AllowedFailure {
			failed = true
		}
		if jr.State == ManualWait {
			manual = true
		}
	}
	switch {
	case wasCanceled:
		return PipelineCanceled
	case failed:
		return PipelineFailed
	case manual:
		return PipelineManual
	default:
		return PipelineSucceeded
	}
}
