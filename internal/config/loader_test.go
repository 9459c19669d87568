package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePipeline drops HCL sources into a temp dir and returns the dir.
func writePipeline(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	return dir
}

func TestLoad_FullDocument(t *testing.T) {
	t.Parallel()

	dir := writePipeline(t, map[string]string{"pipeline.hcl": `
stages = ["build", "test"]

variables = {
  REGION = "eu-1"
}

workflow {
  rule {
    if = "branch == \"main\""
  }
}

template "base" {
  stage = "build"
  tags  = ["docker"]
}

job "compile" {
  extends = ["base"]
  script  = ["make compile"]
  timeout = "90s"

  cache {
    key    = "deps-$branch"
    paths  = ["vendor/"]
    policy = "pull"
  }

  artifacts {
    paths     = ["bin/"]
    dotenv    = "build.env"
    expire_in = "24h"
  }
}

job "verify" {
  stage         = "test"
  needs         = ["compile"]
  script        = ["make verify"]
  allow_failure = true

  rule {
    if   = "source == \"push\""
    when = "manual"
  }
}
`})

	doc, err := Load(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "test"}, doc.Stages)
	assert.Equal(t, map[string]string{"REGION": "eu-1"}, doc.Variables)
	require.Len(t, doc.Workflow, 1)
	assert.NotNil(t, doc.Workflow[0].If)

	require.Contains(t, doc.Templates, "base")
	assert.Equal(t, []string{"docker"}, doc.Templates["base"].Tags)

	compile := doc.Jobs["compile"]
	require.NotNil(t, compile)
	assert.Equal(t, []string{"base"}, compile.Extends)
	assert.Equal(t, 90*time.Second, compile.Timeout)
	require.NotNil(t, compile.Cache)
	assert.Equal(t, "deps-$branch", compile.Cache.KeyTemplate)
	assert.Equal(t, PolicyPull, compile.Cache.Policy)
	require.NotNil(t, compile.Artifacts)
	assert.Equal(t, "build.env", compile.Artifacts.Dotenv)
	assert.Equal(t, 24*time.Hour, compile.Artifacts.ExpireIn)

	verify := doc.Jobs["verify"]
	require.NotNil(t, verify)
	assert.Equal(t, []string{"compile"}, verify.Needs)
	require.NotNil(t, verify.AllowFailure)
	assert.True(t, *verify.AllowFailure)
	require.Len(t, verify.Rules, 1)
	assert.Equal(t, WhenManual, verify.Rules[0].When)
}

func TestLoad_MergesAcrossFiles(t *testing.T) {
	t.Parallel()

	dir := writePipeline(t, map[string]string{
		"a.hcl": `
stages = ["build"]
variables = { A = "1", SHARED = "a" }

job "one" {
  stage  = "build"
  script = ["true"]
}
`,
		"b.hcl": `
variables = { SHARED = "b" }

job "two" {
  stage  = "build"
  script = ["true"]
}
`,
	})

	doc, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, doc.Jobs, 2)
	// Files merge in lexical order, so b.hcl wins the shared variable.
	assert.Equal(t, "b", doc.Variables["SHARED"])
	assert.Equal(t, "1", doc.Variables["A"])
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name: "duplicate job across files",
			files: map[string]string{
				"a.hcl": `job "dup" { script = ["true"] }`,
				"b.hcl": `job "dup" { script = ["true"] }`,
			},
			wantErr: "duplicate job",
		},
		{
			name: "stages in two files",
			files: map[string]string{
				"a.hcl": `stages = ["x"]`,
				"b.hcl": `stages = ["y"]`,
			},
			wantErr: "stage list defined in both",
		},
		{
			name: "invalid timeout",
			files: map[string]string{
				"a.hcl": "job \"j\" {\n  script  = [\"true\"]\n  timeout = \"soon\"\n}\n",
			},
			wantErr: "invalid duration",
		},
		{
			name: "syntax error",
			files: map[string]string{
				"a.hcl": `job "j" {`,
			},
			wantErr: "parsing",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := writePipeline(t, tc.files)
			_, err := Load(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_NoFiles(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pipeline files")
}
