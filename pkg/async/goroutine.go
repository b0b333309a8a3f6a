package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolShutDown is returned when work is submitted to a stopped pool
var ErrPoolShutDown = errors.New("worker pool shut down")

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the logger used for background task failures. It must
// be called before any task is started.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// run executes fn with a timeout and converts a panic into an error. A
// timeout of zero or less means no timeout.
func run(parent context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// SafeGo runs fn in a goroutine with a timeout and panic recovery. Failures
// are logged, never propagated.
//
//	async.SafeGo(ctx, 5*time.Second, "cache invalidation", func(ctx context.Context) error {
//		return invalidator.Run(ctx, nil)
//	})
func SafeGo(parent context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		if err := run(parent, timeout, fn); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of goroutines
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	workCh   chan func(context.Context) error
	errCh    chan error
	doneCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts a pool of workers. Each task gets its own timeout.
//
//	pool := async.NewWorkerPool(ctx, 4, "permission cache rebuild", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*16),
		errCh:    make(chan error, workers*10),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker()
		}()
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()
	return p
}

// Submit queues a task. It blocks while the queue is full and fails once
// the pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolShutDown
	}
	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolShutDown
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks
// to finish.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	defer p.cancel()
	select {
	case <-p.doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
	}
}

// Errors returns task failures. Failures are dropped when nobody reads them.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker() {
	for fn := range p.workCh {
		if p.ctx.Err() != nil {
			return
		}
		err := run(p.ctx, p.timeout, fn)
		if err == nil {
			continue
		}
		logger.WithError(err).WithField("task", p.taskName).Warn("Worker task failed")
		select {
		case p.errCh <- err:
		default:
		}
	}
}

// Batch runs fn over items with at most workers in flight and returns every
// failure. Items not started before ctx is done fail with the context error.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {
	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	sem := make(chan struct{}, workers)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			record(err)
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := run(ctx, timeout, func(ctx context.Context) error { return fn(ctx, item) }); err != nil {
				record(fmt.Errorf("%s: %w", taskName, err))
			}
		}(item)
	}
	wg.Wait()
	return errs
}
