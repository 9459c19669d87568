package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() *Document {
	return &Document{
		Stages: []string{"build", "test"},
		Jobs: map[string]*Job{
			"compile": {Name: "compile", Stage: "build", Script: []string{"make"}},
			"verify": {
				Name: "verify", Stage: "test", Script: []string{"make test"},
				Needs: []string{"compile"},
			},
		},
		Templates: map[string]*Job{},
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(validDoc()))
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{
			name:    "no stages",
			mutate:  func(d *Document) { d.Stages = nil },
			wantErr: "no stages",
		},
		{
			name:    "duplicate stage",
			mutate:  func(d *Document) { d.Stages = []string{"build", "build"} },
			wantErr: "listed twice",
		},
		{
			name:    "unknown stage",
			mutate:  func(d *Document) { d.Jobs["compile"].Stage = "ship" },
			wantErr: `unknown stage "ship"`,
		},
		{
			name:    "missing script",
			mutate:  func(d *Document) { d.Jobs["compile"].Script = nil },
			wantErr: "no script",
		},
		{
			name: "reserved job name",
			mutate: func(d *Document) {
				d.Jobs["stages"] = &Job{Name: "stages", Stage: "build", Script: []string{"true"}}
			},
			wantErr: "reserved",
		},
		{
			name:    "job-level when must be manual",
			mutate:  func(d *Document) { d.Jobs["compile"].When = WhenAlways },
			wantErr: "job-level when",
		},
		{
			name: "manual not valid in workflow rules",
			mutate: func(d *Document) {
				d.Workflow = []*Rule{{When: WhenManual}}
			},
			wantErr: "not valid in workflow rules",
		},
		{
			name:    "self need",
			mutate:  func(d *Document) { d.Jobs["verify"].Needs = []string{"verify"} },
			wantErr: "needs itself",
		},
		{
			name:    "unknown need",
			mutate:  func(d *Document) { d.Jobs["verify"].Needs = []string{"ghost"} },
			wantErr: `unknown job "ghost"`,
		},
		{
			name: "bad cache policy",
			mutate: func(d *Document) {
				d.Jobs["compile"].Cache = &Cache{KeyTemplate: "k", Policy: CachePolicy("sync")}
			},
			wantErr: `unknown policy "sync"`,
		},
		{
			name: "empty artifacts block",
			mutate: func(d *Document) {
				d.Jobs["compile"].Artifacts = &Artifacts{}
			},
			wantErr: "no paths and no dotenv",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := validDoc()
			tc.mutate(doc)
			err := Validate(doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}
