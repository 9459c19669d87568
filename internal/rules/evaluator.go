package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pipewright/internal/config"
	"github.com/vk/pipewright/internal/glob"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Decision is the outcome of rule evaluation for a pipeline or job.
type Decision int

const (
	// Run schedules the job normally.
	Run Decision = iota
	// Skip excludes the job from the pipeline entirely.
	Skip
	// Manual parks the job until an explicit trigger event arrives.
	Manual
)

func (d Decision) String() string {
	switch d {
	case Run:
		return "run"
	case Skip:
		return "skip"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome carries the decision plus any rule-level allow_failure override.
type Outcome struct {
	Decision     Decision
	AllowFailure *bool
}

// EvalError reports a malformed condition expression. It surfaces at pipeline
// build time and is fatal, exactly like a configuration error.
type EvalError struct {
	Job string
	Err error
}

func (e *EvalError) Error() string {
	if e.Job == "" {
		return fmt.Sprintf("workflow rule evaluation: %v", e.Err)
	}
	return fmt.Sprintf("rule evaluation for job %q: %v", e.Job, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// rule is one compiled (condition, action) pair. A nil cond matches always.
type rule struct {
	cond         func(Context) (bool, error)
	when         string
	allowFailure *bool
}

// RuleSet is an ordered, compiled rule sequence for one job or for the
// workflow gate.
type RuleSet struct {
	job   string
	rules []rule
}

// CompileWorkflow compiles the pipeline-level gate. An empty workflow block
// list means the pipeline always runs.
func CompileWorkflow(ws []*config.Rule) (*RuleSet, error) {
	if len(ws) == 0 {
		return &RuleSet{rules: []rule{{when: config.WhenOnSuccess}}}, nil
	}
	rs := &RuleSet{}
	for _, r := range ws {
		c, err := compileRule("", r, config.WhenOnSuccess)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, c)
	}
	return rs, nil
}

// CompileJob compiles a job's rules. Legacy only/except filters are syntactic
// sugar: they compile to an equivalent rule sequence here and are never
// consulted again. Mixing `rule` blocks with only/except is rejected.
func CompileJob(j *config.Job) (*RuleSet, error) {
	if len(j.Rules) > 0 && (j.Only != nil || j.Except != nil) {
		return nil, &EvalError{Job: j.Name, Err: fmt.Errorf("rule blocks cannot be combined with only/except")}
	}

	// A rule without an explicit `when` inherits the job-level one, so
	// `when = "manual"` on the job makes every matching rule manual.
	defaultWhen := config.WhenOnSuccess
	if j.When == config.WhenManual {
		defaultWhen = config.WhenManual
	}

	rs := &RuleSet{job: j.Name}

	if len(j.Rules) > 0 {
		for _, r := range j.Rules {
			c, err := compileRule(j.Name, r, defaultWhen)
			if err != nil {
				return nil, err
			}
			rs.rules = append(rs.rules, c)
		}
		return rs, nil
	}

	if j.Except != nil {
		for _, ref := range j.Except.Refs {
			cond, err := refCond(j.Name, ref)
			if err != nil {
				return nil, err
			}
			rs.rules = append(rs.rules, rule{cond: cond, when: config.WhenNever})
		}
	}
	if j.Only != nil {
		cond, err := onlyCond(j.Name, j.Only)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, rule{cond: cond, when: defaultWhen})
		// only/except is inclusion-based: nothing matched means skip, which
		// the fail-closed default already provides.
		return rs, nil
	}

	// No rules and no inclusion filter: the job runs unless excluded above.
	rs.rules = append(rs.rules, rule{when: defaultWhen})
	return rs, nil
}

// Evaluate walks the ordered sequence first-match-wins. No match and no
// trailing default means Skip: inclusion must be explicit.
func (rs *RuleSet) Evaluate(rc Context) (Outcome, error) {
	for _, r := range rs.rules {
		if r.cond != nil {
			ok, err := r.cond(rc)
			if err != nil {
				return Outcome{}, &EvalError{Job: rs.job, Err: err}
			}
			if !ok {
				continue
			}
		}
		switch r.when {
		case config.WhenNever:
			return Outcome{Decision: Skip}, nil
		case config.WhenManual:
			return Outcome{Decision: Manual, AllowFailure: r.allowFailure}, nil
		default:
			return Outcome{Decision: Run, AllowFailure: r.allowFailure}, nil
		}
	}
	return Outcome{Decision: Skip}, nil
}

func compileRule(job string, r *config.Rule, defaultWhen string) (rule, error) {
	when := r.When
	if when == "" {
		when = defaultWhen
	}
	c := rule{when: when, allowFailure: r.AllowFailure}
	if r.If != nil {
		c.cond = exprCond(r.If)
	}
	return c, nil
}

// exprCond wraps an HCL expression into a boolean condition over the context.
func exprCond(expr hcl.Expression) func(Context) (bool, error) {
	return func(rc Context) (bool, error) {
		val, diags := expr.Value(evalContext(rc))
		if diags.HasErrors() {
			return false, diags
		}
		if val.IsNull() {
			return false, fmt.Errorf("condition evaluated to null")
		}
		b, err := convert.Convert(val, cty.Bool)
		if err != nil {
			return false, fmt.Errorf("condition is not boolean: %w", err)
		}
		return b.True(), nil
	}
}

// refCond matches a ref entry against the branch (or tag). Entries wrapped in
// slashes, like /^release\//, are regular expressions.
func refCond(job, ref string) (func(Context) (bool, error), error) {
	if strings.HasPrefix(ref, "/") && strings.HasSuffix(ref, "/") && len(ref) > 1 {
		re, err := regexp.Compile(strings.TrimSuffix(strings.TrimPrefix(ref, "/"), "/"))
		if err != nil {
			return nil, &EvalError{Job: job, Err: fmt.Errorf("invalid ref pattern %s: %w", ref, err)}
		}
		return func(rc Context) (bool, error) {
			return re.MatchString(rc.Branch) || (rc.Tag != "" && re.MatchString(rc.Tag)), nil
		}, nil
	}
	return func(rc Context) (bool, error) {
		return rc.Branch == ref || (rc.Tag != "" && rc.Tag == ref), nil
	}, nil
}

// onlyCond is the conjunction of the refs inclusion list (any entry) and the
// changes glob list (any pattern).
func onlyCond(job string, f *config.Filter) (func(Context) (bool, error), error) {
	var refConds []func(Context) (bool, error)
	for _, ref := range f.Refs {
		c, err := refCond(job, ref)
		if err != nil {
			return nil, err
		}
		refConds = append(refConds, c)
	}
	changes := append([]string(nil), f.Changes...)

	return func(rc Context) (bool, error) {
		if len(refConds) > 0 {
			matched := false
			for _, c := range refConds {
				ok, err := c(rc)
				if err != nil {
					return false, err
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		}
		if len(changes) > 0 {
			matched := false
			for _, file := range rc.Changed {
				if glob.MatchAny(changes, file) {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}, nil
}
