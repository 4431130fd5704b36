package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/models"
)

// InMemoryBucketStore counts requests per key in fixed windows. The window
// starts at a key's first request and resets when it elapses. Not shared
// across instances; use RedisStore for that.
type InMemoryBucketStore struct {
	mu        sync.Mutex
	buckets   map[string]*fixedWindow
	now       func() time.Time
	lastSweep time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// Option configures the store.
type Option func(*InMemoryBucketStore)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryBucketStore) { s.now = now }
}

// New creates an in-memory bucket store.
func New(opts ...Option) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*fixedWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow counts one request and reports whether it fits in the window.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now, window)

	fw := s.buckets[key]
	if fw == nil || !now.Before(fw.resetAt) {
		fw = &fixedWindow{resetAt: now.Add(window)}
		s.buckets[key] = fw
	}
	fw.count++
	return models.NewResult(fw.count, limit, fw.resetAt, now), nil
}

// Reset clears the counter for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// GetCurrentCount returns the request count in the key's live window.
func (s *InMemoryBucketStore) GetCurrentCount(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fw := s.buckets[key]
	if fw == nil || !s.now().Before(fw.resetAt) {
		return 0, nil
	}
	return fw.count, nil
}

// sweep drops expired windows at most once per window length.
// Must be called while holding s.mu.
func (s *InMemoryBucketStore) sweep(now time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	s.lastSweep = now
	for key, fw := range s.buckets {
		if !now.Before(fw.resetAt) {
			delete(s.buckets, key)
		}
	}
}
