package rules

// Trigger sources, matching the `source` value visible to rule conditions.
const (
	SourcePush         = "push"
	SourceMergeRequest = "merge_request"
	SourceSchedule     = "schedule"
	SourceAPI          = "api"
	SourceManual       = "manual"
)

// Context is the immutable trigger context for one pipeline. It is built once
// per trigger event and passed explicitly wherever a decision or an
// environment is constructed.
type Context struct {
	// Branch is the commit branch, empty for tag pipelines.
	Branch string
	// Source is the trigger kind (push, merge_request, schedule, api, manual).
	Source string
	// Tag is the git tag, if the trigger was a tag push.
	Tag string
	// Changed is the set of repository paths modified by the triggering
	// change, slash-separated and repo-relative.
	Changed []string
	// Vars are trigger-supplied variables, visible to conditions as vars.NAME.
	Vars map[string]string
}
