package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedWork(t *testing.T) {
	p := NewWorkerPool(4, nil)
	defer p.Shutdown()

	var count atomic.Int64
	pass := p.Pass()
	for i := 0; i < 20; i++ {
		err := pass.Submit(context.Background(), func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	pass.Wait()
	assert.Equal(t, int64(20), count.Load())
	assert.Equal(t, int64(20), p.Metrics().Completed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2, nil)
	defer p.Shutdown()

	var active, peak atomic.Int64
	pass := p.Pass()
	for i := 0; i < 10; i++ {
		err := pass.Submit(context.Background(), func(ctx context.Context) error {
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}

	pass.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestWorkerPoolPassWaitsOnlyItsOwnWork(t *testing.T) {
	p := NewWorkerPool(4, nil)
	defer p.Shutdown()

	block := make(chan struct{})
	slow := p.Pass()
	require.NoError(t, slow.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	var done atomic.Bool
	fast := p.Pass()
	require.NoError(t, fast.Submit(context.Background(), func(ctx context.Context) error {
		done.Store(true)
		return nil
	}))

	// The fast pass completes while the slow pass's handler is still blocked.
	fast.Wait()
	assert.True(t, done.Load())

	close(block)
	slow.Wait()
}

func TestWorkerPoolShutdownRejectsNewWork(t *testing.T) {
	p := NewWorkerPool(1, nil)
	p.Shutdown()

	err := p.Pass().Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	p := NewWorkerPool(1, nil)
	defer p.Shutdown()

	pass := p.Pass()
	require.NoError(t, pass.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, pass.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("bad")
	}))

	pass.Wait()
	m := p.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(2), m.Failed)
}

func TestWorkerPoolSubmitRespectsContext(t *testing.T) {
	p := NewWorkerPool(1, nil)
	defer p.Shutdown()

	block := make(chan struct{})
	pass := p.Pass()
	require.NoError(t, pass.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pass.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	pass.Wait()
}
