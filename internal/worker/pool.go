// Package worker runs persistence and archiving jobs off the crawl loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/user/tender-service/internal/monitoring"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a unit of background work. Name labels logs and metrics.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool is a fixed set of workers draining a bounded queue.
type Pool struct {
	workers int
	metrics *monitoring.Metrics
	logger  *zap.Logger

	taskQueue chan Task
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueSize int, m *monitoring.Metrics, l *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:   workers,
		metrics:   m,
		logger:    l,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit enqueues a task, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.taskQueue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, running tasks are cancelled and ctx's error is returned.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.taskQueue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		if p.ctx.Err() != nil {
			p.logger.Warn("dropping task after shutdown deadline", zap.String("task", task.Name))
			p.metrics.IncTask(task.Name, "dropped")
			continue
		}
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	err := p.safeRun(task)
	if err != nil {
		p.logger.Error("background task failed", zap.String("task", task.Name), zap.Error(err))
		p.metrics.IncTask(task.Name, "failed")
		return
	}
	p.metrics.IncTask(task.Name, "ok")
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(p.ctx)
}
