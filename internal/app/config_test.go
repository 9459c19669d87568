package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipewright.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_EmptyPathIsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, time.Hour, cfg.DefaultTimeout.Duration)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	require.Len(t, cfg.Executors, 1)
	assert.Equal(t, "local", cfg.Executors[0].Name)
	assert.Empty(t, cfg.Executors[0].Tags)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
concurrency = 8
default_timeout = "90s"

[log]
level = "debug"

[store]
in_memory = true

[[executor]]
name = "builder"
tags = ["linux", "docker"]

[[executor]]
name = "gpu"
tags = ["gpu"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.DefaultTimeout.Duration)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Store.InMemory)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.AcquireWait.Duration)

	// An explicit executor list replaces the default one.
	require.Len(t, cfg.Executors, 2)
	assert.Equal(t, []string{"linux", "docker"}, cfg.Executors[0].Tags)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown key",
			body: "concurency = 4\n",
			want: "unknown keys",
		},
		{
			name: "bad duration",
			body: `default_timeout = "soon"` + "\n",
			want: "reading config",
		},
		{
			name: "zero concurrency",
			body: "concurrency = 0\n",
			want: "concurrency must be positive",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfig(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
