package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/pipewright/internal/config"
	"github.com/vk/pipewright/internal/ctxlog"
	"github.com/vk/pipewright/internal/executor"
	"github.com/vk/pipewright/internal/graph"
	"github.com/vk/pipewright/internal/store"
)

// jobInputs is the coordinator's snapshot of cross-job inputs, taken before
// the worker goroutine starts so workers never touch shared state.
type jobInputs struct {
	dotenv            map[string]string
	artifactProducers []string
}

// runJob executes one job end to end on a worker goroutine and reports the
// terminal result over the events channel.
func (s *Scheduler) runJob(ctx context.Context, events chan<- completion, node *graph.Node, in jobInputs) {
	job := node.Job
	logger := ctxlog.FromContext(ctx).With("job", job.Name, "stage", job.Stage)
	start := time.Now()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := func(state State, reason string, exitCode int, output []byte, dotenv map[string]string) {
		events <- completion{
			name: job.Name,
			result: JobResult{
				Name:           job.Name,
				Stage:          job.Stage,
				State:          state,
				Reason:         reason,
				ExitCode:       exitCode,
				Output:         string(output),
				Duration:       time.Since(start),
				FinishedAt:     time.Now(),
				AllowedFailure: node.AllowFailure,
			},
			dotenv: dotenv,
		}
	}

	// interrupted translates a context-related failure into timeout versus
	// cancellation. Returns false when the context is still live.
	interrupted := func(output []byte) bool {
		switch {
		case ctx.Err() != nil:
			report(Canceled, ReasonCanceled, -1, output, nil)
			return true
		case jobCtx.Err() != nil:
			logger.Error("Job exceeded its timeout.", "timeout", timeout)
			report(Failed, ReasonTimeout, -1, output, nil)
			return true
		}
		return false
	}

	workdir := filepath.Join(s.opts.Workspace, s.opts.PipelineID, job.Name)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		logger.Error("Failed to create working directory.", "dir", workdir, "error", err)
		report(Failed, ReasonExecutorError, -1, nil, nil)
		return
	}

	lease, err := s.pool.Acquire(jobCtx, job.Tags)
	if err != nil {
		if interrupted(nil) {
			return
		}
		if errors.Is(err, executor.ErrUnavailable) {
			logger.Error("No executor available for job.", "tags", job.Tags, "error", err)
			report(Failed, ReasonFailedToSchedule, -1, nil, nil)
			return
		}
		logger.Error("Executor acquisition failed.", "error", err)
		report(Failed, ReasonExecutorError, -1, nil, nil)
		return
	}
	defer lease.Release()
	logger.Debug("Executor acquired.", "executor", lease.Adapter.Name())

	env := s.buildEnv(job, in.dotenv)

	// Caches first, then artifacts: an artifact restore wins over a cache
	// restore of the same path.
	if c := job.Cache; c != nil && c.Policy != config.PolicyPush {
		key := store.ExpandKey(c.KeyTemplate, s.keyVars(job))
		if blob, ok := s.blobs.FetchCache(key); ok {
			if err := store.RestoreTo(workdir, blob); err != nil {
				logger.Warn("Cache restore failed, running cache-cold.", "key", key, "error", err)
			} else {
				logger.Debug("Cache restored.", "key", key)
			}
		} else {
			logger.Debug("Cache miss.", "key", key)
		}
	}

	for _, producer := range in.artifactProducers {
		blob, err := s.blobs.FetchArtifact(s.opts.PipelineID, producer)
		if err != nil {
			logger.Error("Required artifact unavailable.", "producer", producer, "error", err)
			report(Failed, ReasonArtifactMissing, -1, nil, nil)
			return
		}
		if err := store.RestoreTo(workdir, blob); err != nil {
			logger.Error("Artifact restore failed.", "producer", producer, "error", err)
			report(Failed, ReasonArtifactMissing, -1, nil, nil)
			return
		}
		logger.Debug("Artifact restored.", "producer", producer)
	}

	script := make([]string, 0, len(job.BeforeScript)+len(job.Script))
	script = append(script, job.BeforeScript...)
	script = append(script, job.Script...)

	res, execErr := lease.Adapter.Execute(jobCtx, executor.Request{
		JobName: job.Name,
		Script:  script,
		Env:     env,
		Image:   job.Image,
		WorkDir: workdir,
	})
	output := res.Output

	// after_script always runs, even for a failed job, with its own short
	// grace window so a timed-out job can still clean up.
	if len(job.AfterScript) > 0 {
		afterCtx, afterCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		afterRes, afterErr := lease.Adapter.Execute(afterCtx, executor.Request{
			JobName: job.Name,
			Script:  job.AfterScript,
			Env:     env,
			Image:   job.Image,
			WorkDir: workdir,
		})
		afterCancel()
		output = append(output, afterRes.Output...)
		if afterErr != nil || afterRes.ExitCode != 0 {
			logger.Warn("after_script did not complete cleanly.",
				"exitCode", afterRes.ExitCode, "error", afterErr)
		}
	}

	if execErr != nil {
		if interrupted(output) {
			return
		}
		logger.Error("Executor failed while running job.", "error", execErr)
		report(Failed, ReasonExecutorError, -1, output, nil)
		return
	}
	if res.ExitCode != 0 {
		if interrupted(output) {
			return
		}
		report(Failed, ReasonScriptFailure, res.ExitCode, output, nil)
		return
	}

	if c := job.Cache; c != nil && c.Policy != config.PolicyPull {
		key := store.ExpandKey(c.KeyTemplate, s.keyVars(job))
		if blob, err := store.CapturePaths(workdir, c.Paths); err != nil {
			logger.Warn("Cache capture failed, entry not stored.", "key", key, "error", err)
		} else {
			s.blobs.StoreCache(key, blob)
			logger.Debug("Cache stored.", "key", key, "bytes", len(blob))
		}
	}

	var dotenv map[string]string
	if a := job.Artifacts; a != nil {
		if len(a.Paths) > 0 {
			blob, err := store.CapturePaths(workdir, a.Paths)
			if err != nil {
				logger.Error("Artifact capture failed.", "error", err)
				report(Failed, ReasonStoreIO, res.ExitCode, output, nil)
				return
			}
			if err := s.blobs.PublishArtifact(s.opts.PipelineID, job.Name, blob, a.ExpireIn); err != nil {
				logger.Error("Artifact publish failed.", "error", err)
				report(Failed, ReasonStoreIO, res.ExitCode, output, nil)
				return
			}
			logger.Debug("Artifact published.", "bytes", len(blob))
		}
		if a.Dotenv != "" {
			data, err := os.ReadFile(filepath.Join(workdir, filepath.FromSlash(a.Dotenv)))
			if err != nil {
				logger.Error("Declared dotenv report not produced.", "path", a.Dotenv, "error", err)
				report(Failed, ReasonArtifactMissing, res.ExitCode, output, nil)
				return
			}
			dotenv, err = store.ParseDotenv(data)
			if err != nil {
				logger.Error("Dotenv report is malformed.", "path", a.Dotenv, "error", err)
				report(Failed, ReasonStoreIO, res.ExitCode, output, nil)
				return
			}
			logger.Debug("Dotenv report parsed.", "vars", len(dotenv))
		}
	}

	report(Succeeded, "", 0, output, dotenv)
}

// buildEnv layers the job's environment: document variables, then job
// variables, then pipeline trigger variables, then dotenv exports from
// dependencies, with the predefined PW_* context values on top.
func (s *Scheduler) buildEnv(job *config.Job, depDotenv map[string]string) map[string]string {
	env := make(map[string]string)
	for k, v := range s.opts.GlobalVars {
		env[k] = v
	}
	for k, v := range job.Variables {
		env[k] = v
	}
	for k, v := range s.opts.Trigger.Vars {
		env[k] = v
	}
	for k, v := range depDotenv {
		env[k] = v
	}
	env["PW_PIPELINE_ID"] = s.opts.PipelineID
	env["PW_JOB_NAME"] = job.Name
	env["PW_STAGE"] = job.Stage
	env["PW_BRANCH"] = s.opts.Trigger.Branch
	env["PW_SOURCE"] = s.opts.Trigger.Source
	env["PW_TAG"] = s.opts.Trigger.Tag
	return env
}

// keyVars are the substitutions available to cache key templates.
func (s *Scheduler) keyVars(job *config.Job) map[string]string {
	vars := map[string]string{
		"branch": s.opts.Trigger.Branch,
		"source": s.opts.Trigger.Source,
		"tag":    s.opts.Trigger.Tag,
		"job":    job.Name,
		"stage":  job.Stage,
	}
	for k, v := range s.opts.GlobalVars {
		vars[k] = v
	}
	for k, v := range s.opts.Trigger.Vars {
		vars[k] = v
	}
	return vars
}
