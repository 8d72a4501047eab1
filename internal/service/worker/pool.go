// Package worker bounds how many transcriptions run at once across sessions.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"meeting-asr-service/internal/observability/metrics"
)

// Pool is a fixed number of slots shared by all sessions.
type Pool struct {
	sem     *semaphore.Weighted
	size    int64
	metrics *metrics.Metrics
}

// New creates a pool with size slots. Sizes below 1 become 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		metrics: metrics.DefaultMetrics,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Do runs fn in the caller's goroutine once a slot is free. It returns
// ctx.Err() without running fn if ctx ends first.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	p.metrics.RecordWorkerWait(time.Since(start).Seconds())

	fn()
	return nil
}

// Drain waits until every slot is free.
func (p *Pool) Drain(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return err
	}
	p.sem.Release(p.size)
	return nil
}
