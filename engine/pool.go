package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after the pool has been closed.
var ErrPoolClosed = errors.New("engine: worker pool closed")

// WorkerPool runs query execution bodies on a fixed set of goroutines, so
// a burst of queries queues instead of spawning unbounded concurrency
// against the backend.
type WorkerPool struct {
	tasks  chan func()
	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.RWMutex
}

// NewWorkerPool creates a pool with numWorkers goroutines. Non-positive
// sizes default to GOMAXPROCS.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{
		tasks: make(chan func(), numWorkers),
		stop:  make(chan struct{}),
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
		}
	}
}

// Submit enqueues a task and returns once it is accepted. Blocks when all
// workers are busy and the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.stop:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the pool and waits for running tasks to finish. Queued tasks
// that have not started are dropped. Idempotent.
func (p *WorkerPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	close(p.stop)
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
