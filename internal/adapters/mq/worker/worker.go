// Package worker runs queued client operations off the caller's goroutine.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/podium/internal/adapters/mq/queue"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

const (
	defaultWorkerCount = 2
	defaultTaskTimeout = 30 * time.Second
)

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Pool manages a fixed set of workers draining one queue.
type Pool struct {
	queue       Queue
	count       int
	taskTimeout time.Duration

	wg      sync.WaitGroup
	once    sync.Once
	started bool
	mu      sync.Mutex

	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		queue:       q,
		count:       workerCount,
		taskTimeout: defaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}
	return p
}

// Start launches the workers. They run until ctx is cancelled or the queue
// is closed and drained. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, p.logger.Named("worker-"+strconv.Itoa(i)))
	}
}

func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()

	tasks := p.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			p.process(ctx, log, task)
		}
	}
}

// process runs a single task; a panic is logged and does not kill the worker.
func (p *Pool) process(ctx context.Context, log logger.Logger, task queue.Task) {
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerTaskLatency(float64(time.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			log.Error(ctx, "task panicked", logger.String("task", task.Name), logger.Any("panic", r))
		}
	}()

	if task.Run == nil {
		return
	}
	taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	log.Debug(ctx, "running task", logger.String("task", task.Name))
	task.Run(taskCtx)
}

// Shutdown closes the queue if it can be closed and waits for the workers
// to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(err))
			}
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
