package poller

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// JobHandler processes one device id.
type JobHandler func(ctx context.Context, deviceID int64)

// WorkerPool runs device jobs on a fixed number of goroutines. A device that
// is still being processed is not dispatched again, so each terminal sees one
// caller at a time.
type WorkerPool struct {
	size    int
	jobs    chan int64
	handle  JobHandler
	logger  *zap.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[int64]struct{}
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, handle JobHandler, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size),
		handle:  handle,
		logger:  logger,
		pending: make(map[int64]struct{}),
	}
}

// Start launches the worker goroutines. They exit when ctx is done.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (wp *WorkerPool) Wait() { wp.wg.Wait() }

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.logger.Debug("Worker started", zap.Int("worker", id))
	for {
		select {
		case deviceID := <-wp.jobs:
			wp.handle(ctx, deviceID)
			wp.mu.Lock()
			delete(wp.pending, deviceID)
			wp.mu.Unlock()
		case <-ctx.Done():
			wp.logger.Debug("Worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a device. It reports false when the device is already
// queued or running, or when ctx ends first.
func (wp *WorkerPool) Dispatch(ctx context.Context, deviceID int64) bool {
	wp.mu.Lock()
	if _, busy := wp.pending[deviceID]; busy {
		wp.mu.Unlock()
		return false
	}
	wp.pending[deviceID] = struct{}{}
	wp.mu.Unlock()

	select {
	case wp.jobs <- deviceID:
		return true
	case <-ctx.Done():
		wp.mu.Lock()
		delete(wp.pending, deviceID)
		wp.mu.Unlock()
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}
