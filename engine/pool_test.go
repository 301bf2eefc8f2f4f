package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolExecutesTasks(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var (
		wg      sync.WaitGroup
		counter atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), func() {
			defer wg.Done()
			counter.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int32(10), counter.Load())
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Close()

	err := pool.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolCloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Close()
	assert.NotPanics(t, pool.Close)
}

func TestWorkerPoolCloseWaitsForRunning(t *testing.T) {
	pool := NewWorkerPool(1)

	started := make(chan struct{})
	var done atomic.Bool
	err := pool.Submit(context.Background(), func() {
		close(started)
		done.Store(true)
	})
	require.NoError(t, err)

	<-started
	pool.Close()
	assert.True(t, done.Load())
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	// Park the single worker and fill the one-slot queue so the next submit
	// has to block.
	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func() { <-release }))
	require.NoError(t, pool.Submit(context.Background(), func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}
