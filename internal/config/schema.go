package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"
)

// --- HCL decode targets ---

// documentSchema represents the top-level structure of one pipeline file.
type documentSchema struct {
	Stages    []string          `hcl:"stages,optional"`
	Variables map[string]string `hcl:"variables,optional"`
	Workflow  *workflowSchema   `hcl:"workflow,block"`
	Templates []*jobSchema      `hcl:"template,block"`
	Jobs      []*jobSchema      `hcl:"job,block"`
}

type workflowSchema struct {
	Rules []*ruleSchema `hcl:"rule,block"`
}

// jobSchema is shared by `job` and `template` blocks; templates may leave any
// field unset and supply it through inheritance instead.
type jobSchema struct {
	Name         string            `hcl:"name,label"`
	Stage        string            `hcl:"stage,optional"`
	Script       []string          `hcl:"script,optional"`
	BeforeScript []string          `hcl:"before_script,optional"`
	AfterScript  []string          `hcl:"after_script,optional"`
	Image        string            `hcl:"image,optional"`
	Tags         []string          `hcl:"tags,optional"`
	Variables    map[string]string `hcl:"variables,optional"`
	Needs        []string          `hcl:"needs,optional"`
	Extends      []string          `hcl:"extends,optional"`
	Rules        []*ruleSchema     `hcl:"rule,block"`
	Only         *filterSchema     `hcl:"only,block"`
	Except       *filterSchema     `hcl:"except,block"`
	When         string            `hcl:"when,optional"`
	AllowFailure *bool             `hcl:"allow_failure,optional"`
	Timeout      string            `hcl:"timeout,optional"`
	Cache        *cacheSchema      `hcl:"cache,block"`
	Artifacts    *artifactsSchema  `hcl:"artifacts,block"`
}

// ruleSchema captures the `if` condition unevaluated; the rule evaluator
// evaluates it later against the trigger context.
type ruleSchema struct {
	If           hcl.Expression `hcl:"if,optional"`
	When         string         `hcl:"when,optional"`
	AllowFailure *bool          `hcl:"allow_failure,optional"`
}

type filterSchema struct {
	Refs    []string `hcl:"refs,optional"`
	Changes []string `hcl:"changes,optional"`
}

type cacheSchema struct {
	Key    string   `hcl:"key"`
	Paths  []string `hcl:"paths"`
	Policy string   `hcl:"policy,optional"`
}

type artifactsSchema struct {
	Paths    []string `hcl:"paths,optional"`
	Dotenv   string   `hcl:"dotenv,optional"`
	ExpireIn string   `hcl:"expire_in,optional"`
}

// --- translation into the agnostic model ---

func translateJob(s *jobSchema) (*Job, error) {
	j := &Job{
		Name:         s.Name,
		Stage:        s.Stage,
		Script:       s.Script,
		BeforeScript: s.BeforeScript,
		AfterScript:  s.AfterScript,
		Image:        s.Image,
		Tags:         s.Tags,
		Variables:    s.Variables,
		Needs:        s.Needs,
		Extends:      s.Extends,
		When:         s.When,
		AllowFailure: s.AllowFailure,
	}

	for _, r := range s.Rules {
		j.Rules = append(j.Rules, translateRule(r))
	}
	if s.Only != nil {
		j.Only = &Filter{Refs: s.Only.Refs, Changes: s.Only.Changes}
	}
	if s.Except != nil {
		j.Except = &Filter{Refs: s.Except.Refs, Changes: s.Except.Changes}
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, errf(s.Name, "timeout", "invalid duration %q: %v", s.Timeout, err)
		}
		if d <= 0 {
			return nil, errf(s.Name, "timeout", "duration must be positive, got %q", s.Timeout)
		}
		j.Timeout = d
	}

	if s.Cache != nil {
		policy := PolicyPullPush
		if s.Cache.Policy != "" {
			policy = CachePolicy(s.Cache.Policy)
		}
		j.Cache = &Cache{
			KeyTemplate: s.Cache.Key,
			Paths:       s.Cache.Paths,
			Policy:      policy,
		}
	}

	if s.Artifacts != nil {
		a := &Artifacts{Paths: s.Artifacts.Paths, Dotenv: s.Artifacts.Dotenv}
		if s.Artifacts.ExpireIn != "" {
			d, err := time.ParseDuration(s.Artifacts.ExpireIn)
			if err != nil {
				return nil, errf(s.Name, "artifacts.expire_in", "invalid duration %q: %v", s.Artifacts.ExpireIn, err)
			}
			a.ExpireIn = d
		}
		j.Artifacts = a
	}

	return j, nil
}

func translateRule(s *ruleSchema) *Rule {
	return &Rule{If: s.If, When: s.When, AllowFailure: s.AllowFailure}
}
