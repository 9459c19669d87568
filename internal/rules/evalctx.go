package rules

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pipewright/internal/glob"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// evalContext exposes the trigger context to HCL conditions: the strings
// `branch`, `source` and `tag`, the `vars` map, and the `changes` and `match`
// functions.
func evalContext(rc Context) *hcl.EvalContext {
	vars := cty.MapValEmpty(cty.String)
	if len(rc.Vars) > 0 {
		m := make(map[string]cty.Value, len(rc.Vars))
		for k, v := range rc.Vars {
			m[k] = cty.StringVal(v)
		}
		vars = cty.MapVal(m)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"branch": cty.StringVal(rc.Branch),
			"source": cty.StringVal(rc.Source),
			"tag":    cty.StringVal(rc.Tag),
			"vars":   vars,
		},
		Functions: map[string]function.Function{
			"changes": changesFunc(rc.Changed),
			"match":   matchFunc,
		},
	}
}

// changesFunc builds the changed-file-set predicate: changes("glob") is true
// when any modified path matches the pattern.
func changesFunc(changed []string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "pattern", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			pattern := args[0].AsString()
			for _, f := range changed {
				if glob.Match(pattern, f) {
					return cty.True, nil
				}
			}
			return cty.False, nil
		},
	})
}

// matchFunc is match(s, re): anchored nowhere, plain RE2 substring semantics.
var matchFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "s", Type: cty.String},
		{Name: "pattern", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		ok, err := regexp.MatchString(args[1].AsString(), args[0].AsString())
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid pattern: %w", err)
		}
		return cty.BoolVal(ok), nil
	},
})
