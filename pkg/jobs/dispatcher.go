package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of background work, typically one outbound email.
type Task struct {
	ID       string
	Kind     string
	Run      func(context.Context) error
	Attempt  int
	Enqueued time.Time
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Dispatcher runs tasks on a fixed goroutine pool. Failures are retried a
// bounded number of times and then dropped with a log line; nothing ever
// propagates back to the producer.
type Dispatcher struct {
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewDispatcher builds a dispatcher with sane defaults for zero values.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 8
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		tasks:      make(chan Task, cfg.BufferSize),
	}
}

// Start launches the worker pool. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.started = true
	d.logger.Sugar().Infow("dispatcher started", "workers", d.workers)
}

// Stop cancels workers and waits for them to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Sugar().Infow("dispatcher stopped")
}

// Enqueue submits a task. Blocks only while the buffer is full.
func (d *Dispatcher) Enqueue(task Task) error {
	d.mu.Lock()
	ctx := d.ctx
	started := d.started
	d.mu.Unlock()

	if !started {
		return fmt.Errorf("dispatcher not started")
	}
	if task.Enqueued.IsZero() {
		task.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("dispatcher stopped: %w", ctx.Err())
	case d.tasks <- task:
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-d.tasks:
			if err := task.Run(d.ctx); err != nil {
				d.retry(task, err)
			}
		}
	}
}

func (d *Dispatcher) retry(task Task, err error) {
	task.Attempt++
	if task.Attempt > d.maxRetries {
		d.logger.Sugar().Errorw("task exceeded retries, dropping",
			"task_id", task.ID, "kind", task.Kind, "error", err)
		return
	}
	d.logger.Sugar().Warnw("task failed, retrying",
		"task_id", task.ID, "kind", task.Kind, "attempt", task.Attempt, "error", err)

	go func(t Task) {
		timer := time.NewTimer(d.retryDelay)
		defer timer.Stop()
		select {
		case <-d.ctx.Done():
		case <-timer.C:
			select {
			case <-d.ctx.Done():
			case d.tasks <- t:
			}
		}
	}(task)
}
