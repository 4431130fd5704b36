package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
)

// InMemoryStore is the dev-mode ledger used when no database is configured.
// Events survive only as long as the process.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[models.NaturalKey]*models.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[models.NaturalKey]*models.Event)}
}

func (s *InMemoryStore) Insert(_ context.Context, event *models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(event.Key)
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	stored := *event
	stored.Key = key
	s.events[key] = &stored
	return true, nil
}

func (s *InMemoryStore) Transition(_ context.Context, key models.NaturalKey, from, to models.Status, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[normalize(key)]
	if !ok || event.Status != from {
		return sentinel.ErrInvalidState
	}
	event.Status = to
	event.Error = errMsg
	if to.IsTerminal() {
		processed := at
		event.ProcessedAt = &processed
	}
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, key models.NaturalKey) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[normalize(key)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *event
	return &out, nil
}

func (s *InMemoryStore) ListStuck(_ context.Context, statuses []models.Status, olderThan time.Time) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Event
	for _, event := range s.events {
		if slices.Contains(statuses, event.Status) && event.ReceivedAt.Before(olderThan) {
			e := *event
			out = append(out, &e)
		}
	}
	slices.SortFunc(out, func(a, b *models.Event) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return out, nil
}

// Count returns the number of rows, for tests.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}

// normalize makes keys comparable regardless of the time.Location they
// were built with.
func normalize(key models.NaturalKey) models.NaturalKey {
	return models.NaturalKey{LeadID: key.LeadID, OccurredAt: key.OccurredAt.UTC()}
}
