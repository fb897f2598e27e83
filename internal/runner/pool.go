package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a snapshot of pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool caps how many handlers run at once. Work is submitted through
// passes: the interaction monitor opens a Pass per sweep, fans its expiries
// out, and waits for that sweep alone, so overlapping sweeps never wait on
// each other's goroutines. Shutdown still drains everything in flight.
type WorkerPool struct {
	sem    chan struct{}
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		sem:    make(chan struct{}, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Pass groups the submissions of one sweep. Not safe for concurrent Submit
// calls from multiple goroutines; each sweep owns its Pass.
type Pass struct {
	pool *WorkerPool
	wg   sync.WaitGroup
}

// Pass opens a new submission group.
func (p *WorkerPool) Pass() *Pass {
	return &Pass{pool: p}
}

// Submit hands fn to the pool, blocking while the pool is at capacity.
// Returns the context error if cancelled while waiting, or ErrPoolShutdown.
func (ps *Pass) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p := ps.pool

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// The wg.Add must happen under the lock so Shutdown's wg.Wait cannot
	// race with a submission that already holds a slot.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	ps.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go p.run(ctx, ps, fn)
	return nil
}

// Wait blocks until every handler submitted through this pass has finished.
// Handlers from other passes keep running.
func (ps *Pass) Wait() {
	ps.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, ps *Pass, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			p.logger.Error("worker pool handler panicked", "panic", r)
		}
		p.active.Add(-1)
		<-p.sem
		ps.wg.Done()
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// Shutdown prevents new submissions and waits for all in-flight handlers,
// across every pass.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
