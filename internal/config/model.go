package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"
)

// When values accepted on jobs and rules.
const (
	WhenOnSuccess = "on_success"
	WhenAlways    = "always"
	WhenNever     = "never"
	WhenManual    = "manual"
)

// CachePolicy controls which half of the cache round-trip a job performs.
type CachePolicy string

const (
	PolicyPullPush CachePolicy = "pull-push"
	PolicyPull     CachePolicy = "pull"
	PolicyPush     CachePolicy = "push"
)

// Document is the unified, format-agnostic representation of one pipeline
// definition, possibly assembled from several HCL files.
type Document struct {
	// Stages is the ordered list of stage names.
	Stages []string
	// Variables are pipeline-global variables.
	Variables map[string]string
	// Workflow gates the whole pipeline before any job rule is evaluated.
	Workflow []*Rule
	// Jobs are schedulable work units, keyed by name.
	Jobs map[string]*Job
	// Templates are inheritance-only job shapes. Never scheduled.
	Templates map[string]*Job
}

// Job is the format-agnostic representation of a `job` or `template` block.
// After Resolve, every job's Extends chain has been folded in and Extends is
// empty.
type Job struct {
	Name         string
	Stage        string
	Script       []string
	BeforeScript []string
	AfterScript  []string
	Image        string
	Tags         []string
	Variables    map[string]string
	Needs        []string
	Extends      []string
	Rules        []*Rule
	Only         *Filter
	Except       *Filter
	When         string
	AllowFailure *bool
	Timeout      time.Duration
	Cache        *Cache
	Artifacts    *Artifacts
}

// Rule is one ordered (condition, action) pair. A nil If matches
// unconditionally and usually serves as the trailing default.
type Rule struct {
	If           hcl.Expression
	When         string
	AllowFailure *bool
}

// Filter is the legacy only/except form. It compiles to an equivalent rule
// sequence before evaluation.
type Filter struct {
	Refs    []string
	Changes []string
}

// Cache declares a best-effort, cross-pipeline blob keyed by a templated
// string. Variables in the key use `$NAME` form and are substituted from the
// trigger context at run time.
type Cache struct {
	KeyTemplate string
	Paths       []string
	Policy      CachePolicy
}

// Artifacts declares guaranteed job output captured after a successful run.
// Dotenv, when set, names a KEY=VALUE file within the captured paths whose
// entries are injected into the environment of every dependent job.
type Artifacts struct {
	Paths    []string
	Dotenv   string
	ExpireIn time.Duration
}

// AllowedFailure reports whether a failure of this job is tolerated by the
// pipeline. A nil AllowFailure means false.
func (j *Job) AllowedFailure() bool {
	return j.AllowFailure != nil && *j.AllowFailure
}
