package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
)

type InMemoryStoreSuite struct {
	suite.Suite
	now   time.Time
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemory(time.Minute, 2,
		WithClock(func() time.Time { return s.now }),
		WithJanitorInterval(time.Hour),
	)
}

func (s *InMemoryStoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

var (
	idA = domain.MustNationalID("11111111111")
	idB = domain.MustNationalID("22222222222")
	idC = domain.MustNationalID("33333333333")
)

func (s *InMemoryStoreSuite) TestRecordAndRead() {
	ctx := context.Background()
	s.Require().NoError(s.store.Record(ctx, idA, s.now))

	at, ok, err := s.store.LastEnriched(ctx, idA)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(s.now, at)

	_, ok, err = s.store.LastEnriched(ctx, idB)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *InMemoryStoreSuite) TestEntriesExpireAfterTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Record(ctx, idA, s.now))

	s.now = s.now.Add(time.Minute)
	_, ok, err := s.store.LastEnriched(ctx, idA)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(0, s.store.Len())
}

func (s *InMemoryStoreSuite) TestCapacityEvictsExpiredFirst() {
	ctx := context.Background()
	s.Require().NoError(s.store.Record(ctx, idA, s.now))
	s.now = s.now.Add(30 * time.Second)
	s.Require().NoError(s.store.Record(ctx, idB, s.now))

	// idA has expired, idB has not.
	s.now = s.now.Add(45 * time.Second)
	s.Require().NoError(s.store.Record(ctx, idC, s.now))

	s.Equal(2, s.store.Len())
	_, ok, _ := s.store.LastEnriched(ctx, idB)
	s.True(ok)
	_, ok, _ = s.store.LastEnriched(ctx, idC)
	s.True(ok)
}

func (s *InMemoryStoreSuite) TestCapacityEvictsOldestWhenNothingExpired() {
	ctx := context.Background()
	s.Require().NoError(s.store.Record(ctx, idA, s.now))
	s.Require().NoError(s.store.Record(ctx, idB, s.now.Add(time.Second)))
	s.Require().NoError(s.store.Record(ctx, idC, s.now.Add(2*time.Second)))

	s.Equal(2, s.store.Len())
	_, ok, _ := s.store.LastEnriched(ctx, idA)
	s.False(ok)
}

func (s *InMemoryStoreSuite) TestRerecordDoesNotEvict() {
	ctx := context.Background()
	s.Require().NoError(s.store.Record(ctx, idA, s.now))
	s.Require().NoError(s.store.Record(ctx, idB, s.now))
	s.Require().NoError(s.store.Record(ctx, idA, s.now.Add(time.Second)))

	s.Equal(2, s.store.Len())
}

func (s *InMemoryStoreSuite) TestSweep() {
	ctx := context.Background()
	s.Require().NoError(s.store.Record(ctx, idA, s.now))
	s.Require().NoError(s.store.Record(ctx, idB, s.now))

	s.now = s.now.Add(2 * time.Minute)
	s.Equal(2, s.store.Sweep())
	s.Equal(0, s.store.Len())
}

func (s *InMemoryStoreSuite) TestCloseIsIdempotent() {
	s.NoError(s.store.Close())
	s.NoError(s.store.Close())
}
