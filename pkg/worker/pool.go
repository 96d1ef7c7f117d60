// Package worker runs background tasks on a fixed pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/storyloom/storyloom/pkg/logger"
)

var (
	// ErrPoolStopped is returned when submitting to a stopped pool.
	ErrPoolStopped = errors.New("worker: pool stopped")

	// ErrQueueFull is returned by TrySubmit when no slot is free.
	ErrQueueFull = errors.New("worker: queue full")
)

// Task is a unit of background work. Run receives the pool context, which is
// canceled when the pool stops.
type Task struct {
	ID  string
	Run func(ctx context.Context)
}

// Pool manages a pool of goroutines for executing tasks.
type Pool struct {
	workers int
	taskCh  chan Task
	logger  logger.Logger

	// State
	mu       sync.Mutex
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Metrics
	tasksProcessed atomic.Int64
	panics         atomic.Int64
}

// New creates a pool of workers goroutines with a queue of queueSize
// pending tasks.
func New(workers, queueSize int, l logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if l == nil {
		l = logger.Global()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		taskCh:  make(chan Task, queueSize),
		logger:  l,
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
}

// Start starts the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return
	}
	select {
	case <-p.stopCh:
		return
	default:
	}
	p.running.Store(true)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the pool context, lets the workers drain queued tasks and
// waits for them to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.running.Store(false)
		p.cancel()
		close(p.stopCh)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// Submit queues a task, blocking until a slot is free, ctx is done or the
// pool stops.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrPoolStopped
	}
}

// TrySubmit queues a task without blocking.
func (p *Pool) TrySubmit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskCh <- task:
		return nil
	default:
		return fmt.Errorf("%w: task %s", ErrQueueFull, task.ID)
	}
}

// worker is the main loop for each worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.taskCh:
			p.process(id, task)
		case <-p.stopCh:
			// Drain what is already queued.
			for {
				select {
				case task := <-p.taskCh:
					p.process(id, task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("worker task panicked", "worker", id, "task_id", task.ID, "panic", r)
		}
	}()

	task.Run(p.ctx)
	p.tasksProcessed.Add(1)
}

// TasksProcessed returns the number of tasks that ran to completion.
func (p *Pool) TasksProcessed() int64 {
	return p.tasksProcessed.Load()
}

// Panics returns the number of tasks that panicked.
func (p *Pool) Panics() int64 {
	return p.panics.Load()
}

// IsRunning returns true if the pool accepts tasks.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}
