// Package workers runs background tasks on a fixed set of goroutines fed by
// a bounded queue.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
)

var (
	// ErrQueueFull is returned by Submit when every slot is taken.
	ErrQueueFull = errors.New("worker queue full")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("worker pool closed")
)

// Task is a unit of work. The context carries the per-task timeout.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool owns its workers. Tasks run detached from the submitting request.
type Pool struct {
	queue       chan Task
	taskTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu     sync.RWMutex
	closed bool

	group  *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithTaskTimeout bounds each task. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) { p.taskTimeout = d }
}

// New starts size workers draining a queue of queueSize.
func New(size, queueSize int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	p := &Pool{
		queue:  make(chan Task, queueSize),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	for i := 0; i < size; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(p.done)
	}()
	return p
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- task:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued tasks to finish. When ctx
// expires first, running tasks are cancelled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Pool) work(ctx context.Context) {
	for task := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.run(ctx, task)
	}
}

func (p *Pool) run(parent context.Context, task Task) {
	ctx := parent
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.metrics.IncPoolPanic()
			p.logger.ErrorContext(ctx, "worker task panicked",
				"task", task.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := task.Run(ctx); err != nil {
		p.logger.DebugContext(ctx, "worker task returned error", "task", task.Name, "error", err)
	}
}
