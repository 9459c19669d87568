package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/pipewright/internal/ctxlog"
)

// Pool tracks registered executors and leases them to jobs by tag match.
// Acquire blocks with a bounded wait; transient contention is retried with
// backoff before giving up with ErrUnavailable.
type Pool struct {
	mu        sync.Mutex
	executors []*slot

	// AcquireWait bounds how long a job waits for a matching executor to
	// free up before it fails to schedule.
	AcquireWait time.Duration
}

type slot struct {
	adapter Adapter
	busy    bool
}

// Lease is a held executor. Release must be called exactly once.
type Lease struct {
	Adapter Adapter
	pool    *Pool
	slot    *slot
	once    sync.Once
}

// Release returns the executor to the pool.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.mu.Lock()
		l.slot.busy = false
		l.pool.mu.Unlock()
	})
}

// NewPool creates a pool with the given bounded acquire wait.
func NewPool(acquireWait time.Duration, adapters ...Adapter) *Pool {
	p := &Pool{AcquireWait: acquireWait}
	for _, a := range adapters {
		p.executors = append(p.executors, &slot{adapter: a})
	}
	return p
}

// Register adds an executor to the pool.
func (p *Pool) Register(a Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executors = append(p.executors, &slot{adapter: a})
}

// Acquire leases an idle executor whose tags cover the job's tags. If every
// matching executor is busy it retries with backoff until the bounded wait
// expires. If no registered executor could ever match, it fails immediately:
// waiting would not help.
func (p *Pool) Acquire(ctx context.Context, tags []string) (*Lease, error) {
	logger := ctxlog.FromContext(ctx)

	deadline := time.Now().Add(p.AcquireWait)
	backoff := 50 * time.Millisecond

	for {
		lease, err := p.tryAcquire(tags)
		if err == nil {
			return lease, nil
		}
		if err != errTransient {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s (tags %v)", ErrUnavailable, p.AcquireWait, tags)
		}

		logger.Debug("All matching executors busy, backing off.", "backoff", backoff, "tags", tags)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func (p *Pool) tryAcquire(tags []string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	anyMatch := false
	for _, s := range p.executors {
		if !covers(s.adapter.Tags(), tags) {
			continue
		}
		anyMatch = true
		if s.busy {
			continue
		}
		s.busy = true
		return &Lease{Adapter: s.adapter, pool: p, slot: s}, nil
	}
	if !anyMatch {
		return nil, fmt.Errorf("%w: no executor offers tags %v", ErrUnavailable, tags)
	}
	return nil, errTransient
}

// covers reports whether the executor's tag set includes every required tag.
func covers(offered, required []string) bool {
	set := make(map[string]bool, len(offered))
	for _, t := range offered {
		set[t] = true
	}
	for _, t := range required {
		if !set[t] {
			return false
		}
	}
	return true
}
