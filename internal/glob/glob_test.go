package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "cmd/main.go", false},
		{"**/*.go", "cmd/main.go", true},
		{"**/*.go", "a/b/c/main.go", true},
		{"**/*.go", "main.go", true},
		{"services/api/**", "services/api/src/index.js", true},
		{"services/api/**", "services/web/src/index.js", false},
		{"services/*/Dockerfile", "services/api/Dockerfile", true},
		{"services/*/Dockerfile", "services/api/build/Dockerfile", false},
		{"docs/", "docs/README.md", true},
		{"docs/", "docs", true},
		{"docs/", "docs2/README.md", false},
		{"a/**/z", "a/z", true},
		{"a/**/z", "a/b/c/z", true},
		{"a/**/z", "a/b/c", false},
		{"?.txt", "a.txt", true},
		{"./src/*.ts", "src/app.ts", true},
	}

	for _, tc := range cases {
		t.Run(tc.pattern+"_"+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.pattern, tc.name))
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"*.md", "docs/"}
	assert.True(t, MatchAny(patterns, "README.md"))
	assert.True(t, MatchAny(patterns, "docs/guide/intro.md"))
	assert.False(t, MatchAny(patterns, "main.go"))
	assert.False(t, MatchAny(nil, "anything"))
}
