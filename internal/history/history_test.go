package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPipelineLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordPipeline("p-1", "main", "push", started))

	got, err := s.Get("p-1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.State)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.Jobs)

	require.NoError(t, s.RecordJob("p-1", &JobRecord{
		Name: "compile", Stage: "build", State: "succeeded",
		Duration: 3 * time.Second, FinishedAt: started.Add(3 * time.Second),
	}))
	require.NoError(t, s.RecordJob("p-1", &JobRecord{
		Name: "verify", Stage: "test", State: "failed", Reason: "script_failure",
		ExitCode: 2, Duration: time.Second, FinishedAt: started.Add(5 * time.Second),
	}))
	require.NoError(t, s.FinishPipeline("p-1", "failed", started.Add(6*time.Second)))

	got, err = s.Get("p-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.State)
	require.NotNil(t, got.FinishedAt)
	require.Len(t, got.Jobs, 2)
	assert.Equal(t, "compile", got.Jobs[0].Name, "jobs come back in finish order")
	assert.Equal(t, "verify", got.Jobs[1].Name)
	assert.Equal(t, 2, got.Jobs[1].ExitCode)
	assert.Equal(t, "script_failure", got.Jobs[1].Reason)
	assert.Equal(t, time.Second, got.Jobs[1].Duration)
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	_, err := s.Get("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.RecordPipeline(id, "main", "push", base.Add(time.Duration(i)*time.Hour)))
	}

	records, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)

	all, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
