// Package store holds the recency backends: a bounded in-process map and a
// Redis keyspace shared across instances.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
)

const defaultJanitorInterval = time.Minute

type entry struct {
	at        time.Time
	expiresAt time.Time
}

// InMemoryStore remembers when each national id was last enriched. Entries
// live for ttl; the map never holds more than capacity ids.
type InMemoryStore struct {
	mu       sync.Mutex
	entries  map[domain.NationalID]entry
	ttl      time.Duration
	capacity int
	now      func() time.Time

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

type Option func(*InMemoryStore)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) { s.now = now }
}

// WithJanitorInterval sets how often expired entries are swept.
func WithJanitorInterval(d time.Duration) Option {
	return func(s *InMemoryStore) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewInMemory starts the store and its janitor. Call Close to stop it.
func NewInMemory(ttl time.Duration, capacity int, opts ...Option) *InMemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	s := &InMemoryStore{
		entries:  make(map[domain.NationalID]entry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		interval: defaultJanitorInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor()
	return s
}

func (s *InMemoryStore) LastEnriched(_ context.Context, id domain.NationalID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

// Record stores at for id. When the map is full, expired entries go first,
// then the oldest record.
func (s *InMemoryStore) Record(_ context.Context, id domain.NationalID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists && len(s.entries) >= s.capacity {
		s.removeExpired(s.now())
		if len(s.entries) >= s.capacity {
			s.evictOldest()
		}
	}
	s.entries[id] = entry{at: at, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Len returns the number of tracked ids, expired or not.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

// Close stops the janitor. Safe to call more than once.
func (s *InMemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

// Sweep drops expired entries now and returns how many were removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeExpired(s.now())
}

func (s *InMemoryStore) janitor() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *InMemoryStore) removeExpired(now time.Time) int {
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *InMemoryStore) evictOldest() {
	var (
		oldest   domain.NationalID
		oldestAt time.Time
		found    bool
	)
	for id, e := range s.entries {
		if !found || e.at.Before(oldestAt) {
			oldest, oldestAt, found = id, e.at, true
		}
	}
	if found {
		delete(s.entries, oldest)
	}
}
