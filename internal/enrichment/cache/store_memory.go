package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
}

// MemoryStore is a TTL and capacity bounded map. At capacity, expired
// items are dropped first, then the oldest.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]memoryItem
	capacity int
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemory(capacity int, opts ...MemoryOption) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	s := &MemoryStore{
		items:    make(map[string]memoryItem),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil, false, nil
	}
	return it.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.items[key]; !exists && len(s.items) >= s.capacity {
		for k, it := range s.items {
			if !now.Before(it.expiresAt) {
				delete(s.items, k)
			}
		}
		if len(s.items) >= s.capacity {
			s.evictOldest()
		}
	}
	s.items[key] = memoryItem{value: value, storedAt: now, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, it := range s.items {
		if oldestKey == "" || it.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, it.storedAt
		}
	}
	delete(s.items, oldestKey)
}
