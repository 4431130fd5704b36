// Package store holds the canonical store backends and the circuit breaker
// that guards them.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
)

type contactKey struct {
	partyID domain.PartyID
	kind    models.ContactKind
	value   string
}

type addressLinkKey struct {
	partyID domain.PartyID
	address models.Address
}

// InMemoryStore is the dev-mode canonical store.
type InMemoryStore struct {
	mu        sync.RWMutex
	parties   map[domain.PartyID]*models.Party
	contacts  map[contactKey]models.ContactRecord
	links     map[addressLinkKey]models.AddressInput
	snapshots map[domain.PartyID]models.Snapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		parties:   make(map[domain.PartyID]*models.Party),
		contacts:  make(map[contactKey]models.ContactRecord),
		links:     make(map[addressLinkKey]models.AddressInput),
		snapshots: make(map[domain.PartyID]models.Snapshot),
	}
}

func (s *InMemoryStore) UpsertParty(_ context.Context, in models.PartyInput, at time.Time) (*models.Party, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.latestLocked(in.NationalID); existing != nil {
		in.MergeInto(existing)
		existing.Enriched = true
		existing.UpdatedAt = at
		out := *existing
		return &out, false, nil
	}

	party := &models.Party{
		ID:         domain.NewPartyID(),
		Kind:       in.Kind,
		NationalID: in.NationalID,
		Enriched:   true,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	in.MergeInto(party)
	s.parties[party.ID] = party
	out := *party
	return &out, true, nil
}

func (s *InMemoryStore) UpsertContacts(_ context.Context, partyID domain.PartyID, contacts []models.ContactRecord, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[partyID]; !ok {
		return 0, sentinel.ErrNotFound
	}
	inserted := 0
	for _, c := range contacts {
		key := contactKey{partyID: partyID, kind: c.Kind, value: c.Value}
		if _, exists := s.contacts[key]; exists {
			continue
		}
		c.PartyID = partyID
		s.contacts[key] = c
		inserted++
	}
	return inserted, nil
}

func (s *InMemoryStore) LinkAddresses(_ context.Context, partyID domain.PartyID, addresses []models.AddressInput, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[partyID]; !ok {
		return 0, sentinel.ErrNotFound
	}
	linked := 0
	for _, a := range addresses {
		key := addressLinkKey{partyID: partyID, address: a.Address}
		if _, exists := s.links[key]; exists {
			continue
		}
		s.links[key] = a
		linked++
	}
	return linked, nil
}

func (s *InMemoryStore) SaveSnapshot(_ context.Context, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[snap.PartyID]; !ok {
		return sentinel.ErrNotFound
	}
	if prev, ok := s.snapshots[snap.PartyID]; ok && prev.QualityScore > snap.QualityScore {
		snap.QualityScore = prev.QualityScore
	}
	s.snapshots[snap.PartyID] = snap
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

// FindParty returns the most recent party for id.
func (s *InMemoryStore) FindParty(_ context.Context, id domain.NationalID) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.latestLocked(id)
	if p == nil {
		return nil, sentinel.ErrNotFound
	}
	out := *p
	return &out, nil
}

// Snapshot returns the stored snapshot for a party.
func (s *InMemoryStore) Snapshot(_ context.Context, partyID domain.PartyID) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[partyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &snap, nil
}

// Contacts returns the stored contacts of a party in no particular order.
func (s *InMemoryStore) Contacts(_ context.Context, partyID domain.PartyID) []models.ContactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ContactRecord
	for k, c := range s.contacts {
		if k.partyID == partyID {
			out = append(out, c)
		}
	}
	return out
}

// PartyCount returns the number of stored parties.
func (s *InMemoryStore) PartyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.parties)
}

func (s *InMemoryStore) latestLocked(id domain.NationalID) *models.Party {
	var latest *models.Party
	for _, p := range s.parties {
		if p.NationalID != id {
			continue
		}
		if latest == nil || p.UpdatedAt.After(latest.UpdatedAt) {
			latest = p
		}
	}
	return latest
}
