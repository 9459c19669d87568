package config

// reservedNames may not be used as job names: they collide with document
// keywords or with names the pipeline format treats specially.
var reservedNames = map[string]struct{}{
	"stages":        {},
	"variables":     {},
	"workflow":      {},
	"template":      {},
	"job":           {},
	"image":         {},
	"before_script": {},
	"after_script":  {},
	"cache":         {},
	"include":       {},
	"default":       {},
}

// IsReservedName reports whether name is on the fixed job-name denylist.
func IsReservedName(name string) bool {
	_, ok := reservedNames[name]
	return ok
}

// Validate checks structural invariants of a resolved Document. It must run
// after Resolve so that inherited fields are present on every job.
func Validate(doc *Document) error {
	if len(doc.Stages) == 0 {
		return errf("", "stages", "pipeline declares no stages")
	}
	stageIndex := make(map[string]int, len(doc.Stages))
	for i, s := range doc.Stages {
		if _, dup := stageIndex[s]; dup {
			return errf("", "stages", "stage %q listed twice", s)
		}
		stageIndex[s] = i
	}

	for _, r := range doc.Workflow {
		if err := validateRuleWhen("", r, false); err != nil {
			return err
		}
	}

	for name, job := range doc.Jobs {
		if IsReservedName(name) {
			return errf(name, "", "job name is reserved")
		}
		if _, shadow := doc.Templates[name]; shadow {
			return errf(name, "", "job and template share a name")
		}
		if _, ok := stageIndex[job.Stage]; !ok {
			if job.Stage == "" {
				return errf(name, "stage", "job declares no stage")
			}
			return errf(name, "stage", "unknown stage %q", job.Stage)
		}
		if len(job.Script) == 0 {
			return errf(name, "script", "job has no script")
		}
		switch job.When {
		case "", WhenManual:
		default:
			return errf(name, "when", "job-level when must be %q, got %q", WhenManual, job.When)
		}
		for _, r := range job.Rules {
			if err := validateRuleWhen(name, r, true); err != nil {
				return err
			}
		}
		if job.Cache != nil {
			switch job.Cache.Policy {
			case PolicyPullPush, PolicyPull, PolicyPush:
			default:
				return errf(name, "cache.policy", "unknown policy %q", job.Cache.Policy)
			}
			if job.Cache.KeyTemplate == "" {
				return errf(name, "cache.key", "cache key is empty")
			}
		}
		if job.Artifacts != nil && len(job.Artifacts.Paths) == 0 && job.Artifacts.Dotenv == "" {
			return errf(name, "artifacts", "artifacts block declares no paths and no dotenv file")
		}
		for _, need := range job.Needs {
			if need == name {
				return errf(name, "needs", "job needs itself")
			}
			if _, ok := doc.Jobs[need]; !ok {
				return errf(name, "needs", "unknown job %q", need)
			}
		}
	}

	return nil
}

func validateRuleWhen(job string, r *Rule, manualAllowed bool) error {
	switch r.When {
	case "", WhenOnSuccess, WhenAlways, WhenNever:
		return nil
	case WhenManual:
		if manualAllowed {
			return nil
		}
		return errf(job, "workflow.rule.when", "%q is not valid in workflow rules", WhenManual)
	default:
		field := "rule.when"
		if job == "" {
			field = "workflow.rule.when"
		}
		return errf(job, field, "unknown when value %q", r.When)
	}
}
