package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/circuit"
)

const defaultProbeEvery = 10

// Store is a byte-oriented key/value backend with per-key TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// FallbackStore serves from primary until its breaker opens, then from
// secondary. While open, every probeEvery-th call still goes to primary so
// enough successes can close the breaker again.
type FallbackStore struct {
	primary    Store
	secondary  Store
	breaker    *circuit.Breaker
	probeEvery int64
	calls      atomic.Int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type FallbackOption func(*FallbackStore)

func WithProbeEvery(n int) FallbackOption {
	return func(s *FallbackStore) {
		if n > 0 {
			s.probeEvery = int64(n)
		}
	}
}

func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(s *FallbackStore) { s.logger = logger }
}

func WithFallbackMetrics(m *metrics.Metrics) FallbackOption {
	return func(s *FallbackStore) { s.metrics = m }
}

func NewFallback(primary, secondary Store, breaker *circuit.Breaker, opts ...FallbackOption) *FallbackStore {
	s := &FallbackStore{
		primary:    primary,
		secondary:  secondary,
		breaker:    breaker,
		probeEvery: defaultProbeEvery,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetBreakerState(breaker.Name(), 0)
	return s
}

func (s *FallbackStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.shouldTryPrimary() {
		return s.secondary.Get(ctx, key)
	}
	value, ok, err := s.primary.Get(ctx, key)
	if s.record(ctx, err) {
		return value, ok, nil
	}
	return s.secondary.Get(ctx, key)
}

// Set always lands in secondary while the breaker is open so reads made
// during an outage can still hit.
func (s *FallbackStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.shouldTryPrimary() {
		return s.secondary.Set(ctx, key, value, ttl)
	}
	err := s.primary.Set(ctx, key, value, ttl)
	if s.record(ctx, err) {
		return nil
	}
	return s.secondary.Set(ctx, key, value, ttl)
}

// Delete removes key from both stores; entries written during an outage
// live in secondary.
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	err := s.secondary.Delete(ctx, key)
	if s.shouldTryPrimary() {
		s.record(ctx, s.primary.Delete(ctx, key))
	}
	return err
}

// Ping reports the primary's health; the fallback keeps serving either way.
func (s *FallbackStore) Ping(ctx context.Context) error {
	return s.primary.Ping(ctx)
}

func (s *FallbackStore) Close() error {
	return errors.Join(s.primary.Close(), s.secondary.Close())
}

// Degraded reports whether reads are served by the secondary.
func (s *FallbackStore) Degraded() bool {
	return s.breaker.IsOpen()
}

func (s *FallbackStore) shouldTryPrimary() bool {
	if !s.breaker.IsOpen() {
		return true
	}
	return s.calls.Add(1)%s.probeEvery == 0
}

// record feeds the breaker and reports whether the primary result stands.
func (s *FallbackStore) record(ctx context.Context, err error) bool {
	if err != nil {
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.calls.Store(0)
			s.metrics.SetBreakerState(s.breaker.Name(), 2)
			s.logger.WarnContext(ctx, "cache primary failing, serving from in-memory fallback",
				"breaker", s.breaker.Name(),
				"error", err,
			)
		} else {
			s.logger.DebugContext(ctx, "cache primary error", "error", err)
		}
		return false
	}
	usePrimary, change := s.breaker.RecordSuccess()
	if change.Closed {
		s.metrics.SetBreakerState(s.breaker.Name(), 0)
		s.logger.InfoContext(ctx, "cache primary recovered", "breaker", s.breaker.Name())
	}
	return usePrimary
}
