package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireByTags(t *testing.T) {
	t.Parallel()

	pool := NewPool(time.Second,
		NewShell("plain", nil),
		NewShell("docker", []string{"docker", "linux"}),
	)

	t.Run("untagged job takes any executor", func(t *testing.T) {
		lease, err := pool.Acquire(context.Background(), nil)
		require.NoError(t, err)
		defer lease.Release()
		assert.NotNil(t, lease.Adapter)
	})

	t.Run("tagged job needs a superset executor", func(t *testing.T) {
		lease, err := pool.Acquire(context.Background(), []string{"docker"})
		require.NoError(t, err)
		defer lease.Release()
		assert.Equal(t, "docker", lease.Adapter.Name())
	})

	t.Run("impossible tags fail immediately", func(t *testing.T) {
		start := time.Now()
		_, err := pool.Acquire(context.Background(), []string{"windows"})
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Less(t, time.Since(start), 500*time.Millisecond,
			"a tag no executor offers must not wait out the full acquire window")
	})
}

func TestPool_BusyExecutorBoundedWait(t *testing.T) {
	t.Parallel()

	pool := NewPool(300*time.Millisecond, NewShell("only", nil))

	lease, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)

	// Second acquire must give up once AcquireWait elapses.
	_, err = pool.Acquire(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnavailable)

	lease.Release()
	lease2, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	lease2.Release()
}

func TestPool_AcquireWaitsForRelease(t *testing.T) {
	t.Parallel()

	pool := NewPool(5*time.Second, NewShell("only", nil))
	lease, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l, err := pool.Acquire(context.Background(), nil)
		assert.NoError(t, err)
		if err == nil {
			l.Release()
		}
	}()

	time.Sleep(100 * time.Millisecond)
	lease.Release()
	wg.Wait()
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	pool := NewPool(time.Minute, NewShell("only", nil))
	lease, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, nil)
	require.Error(t, err)
}

func TestLease_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := NewPool(time.Second, NewShell("only", nil))
	lease, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	again, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	again.Release()
}
