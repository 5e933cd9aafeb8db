package concurrency

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned when a task is submitted after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is a unit of work run by the pool. The context is cancelled when
// the pool is stopped with StopNow.
type Task func(ctx context.Context)

// WorkerPool manages a pool of workers to limit concurrent transition applies
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan Task
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopped    bool
	mu         sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified max workers
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 10 // default
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, maxWorkers*2), // buffer to avoid blocking
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the worker pool
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// worker drains the queue until it is closed
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		task(p.ctx)
	}
}

// Submit queues a task, blocking while the queue is full. A pool that was
// never started runs the task synchronously.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if !p.started {
		task(ctx)
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.taskQueue <- task:
		return nil
	}
}

// Stop stops accepting tasks and waits for queued ones to finish
func (p *WorkerPool) Stop() {
	p.stop(false)
}

// StopNow cancels the context handed to running tasks, then waits like Stop.
// It may be called while a Stop is already waiting.
func (p *WorkerPool) StopNow() {
	p.stop(true)
}

func (p *WorkerPool) stop(cancel bool) {
	if cancel {
		p.cancel()
	}

	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.taskQueue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// QueueLength returns the current number of tasks in the queue
func (p *WorkerPool) QueueLength() int {
	return len(p.taskQueue)
}

// MaxWorkers returns the maximum number of workers in the pool
func (p *WorkerPool) MaxWorkers() int {
	return p.maxWorkers
}
