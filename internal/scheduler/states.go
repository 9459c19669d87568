package scheduler

import "time"

// State is the lifecycle position of one job inside a running pipeline.
type State int

const (
	// Pending means at least one dependency has not finished yet.
	Pending State = iota
	// Ready means all dependencies are satisfied and the job is queued for a
	// worker slot.
	Ready
	// Running means a worker is executing the job.
	Running
	// ManualWait means dependencies are satisfied but the job requires an
	// explicit trigger before it may run.
	ManualWait
	// Succeeded, Failed, Skipped and Canceled are terminal.
	Succeeded
	Failed
	Skipped
	Canceled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case ManualWait:
		return "manual_wait"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped || s == Canceled
}

// Reason codes attached to terminal job states. ReasonArtifactMissing covers
// a declared dependency whose artifact could not be fetched and a declared
// dotenv report the job never produced; ReasonStoreIO covers publish and
// parse failures on the producing side.
const (
	ReasonRules            = "rules"
	ReasonScriptFailure    = "script_failure"
	ReasonTimeout          = "timeout"
	ReasonFailedToSchedule = "failed_to_schedule"
	ReasonExecutorError    = "executor_error"
	ReasonUpstreamFailed   = "upstream_failed"
	ReasonArtifactMissing  = "artifact_missing"
	ReasonStoreIO          = "store_io"
	ReasonCanceled         = "canceled"
	ReasonManualBlocked    = "manual_blocked"
)

// JobResult is the terminal record of one job.
type JobResult struct {
	Name           string        `json:"name"`
	Stage          string        `json:"stage"`
	State          State         `json:"-"`
	StateName      string        `json:"state"`
	Reason         string        `json:"reason,omitempty"`
	ExitCode       int           `json:"exit_code"`
	Output         string        `json:"output,omitempty"`
	Duration       time.Duration `json:"duration"`
	FinishedAt     time.Time     `json:"finished_at"`
	AllowedFailure bool          `json:"allowed_failure,omitempty"`
}

// Pipeline terminal states.
const (
	PipelineSucceeded = "succeeded"
	PipelineFailed    = "failed"
	PipelineCanceled  = "canceled"
	// PipelineManual means execution stopped with manual jobs still waiting
	// for a trigger and nothing failed.
	PipelineManual = "manual"
)

// PipelineResult is the outcome of one full pipeline run.
type PipelineResult struct {
	ID         string                `json:"id"`
	State      string                `json:"state"`
	Jobs       map[string]*JobResult `json:"jobs"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Failed reports whether the pipeline ended in a state the caller should
// treat as unsuccessful.
func (r *PipelineResult) Failed() bool {
	return r.State == PipelineFailed || r.State == PipelineCanceled
}
