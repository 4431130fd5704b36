// Package publisher delivers audit events asynchronously.
//
// Emit never blocks the caller: events go into a bounded buffer and a single
// worker forwards them to the configured store. A full buffer drops the
// event. A failing store trips a circuit breaker, and events are dropped
// until the cooldown passes.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit/worker"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

// ErrBufferFull is returned when an event is dropped for lack of space.
var ErrBufferFull = errors.New("audit buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

const defaultBufferSize = 1024

// Publisher is an asynchronous audit.Emitter.
type Publisher struct {
	inbox   chan audit.Event
	done    chan struct{}
	breaker *CircuitBreaker
	sampler *Sampler
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Option configures the Publisher.
type Option func(*config)

type config struct {
	bufferSize int
	breaker    *CircuitBreaker
	sampler    *Sampler
	metrics    *Metrics
	logger     *slog.Logger
}

// WithBuffer sets the buffer capacity.
func WithBuffer(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithCircuitBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *config) { c.breaker = cb }
}

// WithSampler enables sampling of operational events.
func WithSampler(s *Sampler) Option {
	return func(c *config) { c.sampler = s }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New starts a publisher delivering to store.
func New(store audit.Store, opts ...Option) *Publisher {
	cfg := config{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.breaker == nil {
		cfg.breaker = NewCircuitBreaker(5, 30*time.Second)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	p := &Publisher{
		inbox:   make(chan audit.Event, cfg.bufferSize),
		done:    make(chan struct{}),
		breaker: cfg.breaker,
		sampler: cfg.sampler,
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}

	w := worker.NewWorker(&guardedStore{store: store, p: p}, p.inbox, nil)
	go func() {
		defer close(p.done)
		_ = w.Run(context.Background())
	}()
	return p
}

// Emit queues an event. It returns ErrBufferFull when the event was dropped.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = event.Normalized(time.Now().UTC())
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if p.sampler != nil && !p.sampler.Keep(event) {
		p.metrics.incDropped("sampled")
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.metrics.incDropped("buffer_full")
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return ErrBufferFull
	}
}

// Close stops intake and waits for buffered events to be delivered or ctx
// to expire.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// guardedStore applies the circuit breaker around the real store.
type guardedStore struct {
	store audit.Store
	p     *Publisher
}

func (g *guardedStore) Append(ctx context.Context, event audit.Event) error {
	p := g.p
	if !p.breaker.Allow() {
		p.metrics.incDropped("circuit_open")
		return nil
	}
	if err := g.store.Append(ctx, event); err != nil {
		p.metrics.incDeliveryFailures()
		if p.breaker.RecordFailure() {
			p.logger.Warn("audit sink circuit opened", "error", err)
		}
		p.metrics.setBreakerOpen(p.breaker.IsOpen())
		p.logger.Debug("audit delivery failed", "action", event.Action, "error", err)
		return err
	}
	p.breaker.RecordSuccess()
	p.metrics.setBreakerOpen(false)
	p.metrics.incDelivered(string(event.Category))
	return nil
}
