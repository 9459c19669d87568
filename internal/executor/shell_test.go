package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShell_Execute(t *testing.T) {
	t.Parallel()
	sh := NewShell("test", nil)

	t.Run("sequential lines share the workdir", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		res, err := sh.Execute(context.Background(), Request{
			JobName: "build",
			Script:  []string{"echo one > out.txt", "echo two >> out.txt"},
			WorkDir: dir,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)

		data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("environment injection", func(t *testing.T) {
		t.Parallel()
		res, err := sh.Execute(context.Background(), Request{
			JobName: "env",
			Script:  []string{"echo value is $MY_VAR"},
			Env:     map[string]string{"MY_VAR": "42"},
			WorkDir: t.TempDir(),
		})
		require.NoError(t, err)
		assert.Contains(t, string(res.Output), "value is 42")
	})

	t.Run("nonzero exit is not an error", func(t *testing.T) {
		t.Parallel()
		res, err := sh.Execute(context.Background(), Request{
			JobName: "fail",
			Script:  []string{"echo before", "exit 3", "echo never"},
			WorkDir: t.TempDir(),
		})
		require.NoError(t, err, "script failure is a result, not an executor fault")
		assert.Equal(t, 3, res.ExitCode)
		assert.Contains(t, string(res.Output), "before")
		assert.NotContains(t, string(res.Output), "never")
	})

	t.Run("cancellation stops the script", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := sh.Execute(ctx, Request{
			JobName: "slow",
			Script:  []string{"sleep 30"},
			WorkDir: t.TempDir(),
		})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("image hint is ignored", func(t *testing.T) {
		t.Parallel()
		res, err := sh.Execute(context.Background(), Request{
			JobName: "img",
			Script:  []string{"true"},
			Image:   "golang:1.24",
			WorkDir: t.TempDir(),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
	})
}
