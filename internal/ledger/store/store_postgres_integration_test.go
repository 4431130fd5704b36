//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/store"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "webhook_events"))
	s.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *PostgresLedgerSuite) event(leadID string) *models.Event {
	return &models.Event{
		ID:         uuid.New(),
		Key:        models.NaturalKey{LeadID: leadID, OccurredAt: s.now},
		ActionKind: "on_update",
		RawPayload: []byte(`{"id":"` + leadID + `"}`),
		Status:     models.StatusReceived,
		ReceivedAt: s.now,
	}
}

func (s *PostgresLedgerSuite) TestConcurrentDeliveriesInsertOneRow() {
	ctx := context.Background()
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.Insert(ctx, s.event("L1"))
			s.NoError(err)
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), accepted.Load())

	var rows int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT count(*) FROM webhook_events WHERE lead_id = 'L1'`).Scan(&rows))
	s.Equal(1, rows)
}

func (s *PostgresLedgerSuite) TestTransitionsAreScopedByKey() {
	ctx := context.Background()
	older := s.event("L1")
	newer := s.event("L1")
	newer.Key.OccurredAt = s.now.Add(time.Minute)
	for _, e := range []*models.Event{older, newer} {
		ok, err := s.store.Insert(ctx, e)
		s.Require().NoError(err)
		s.Require().True(ok)
	}

	s.Require().NoError(s.store.Transition(ctx, newer.Key, models.StatusReceived, models.StatusProcessing, "", s.now))
	s.Require().NoError(s.store.Transition(ctx, newer.Key, models.StatusProcessing, models.StatusCompleted, "", s.now.Add(time.Second)))

	// A stale worker on the older key cannot touch the newer row.
	err := s.store.Transition(ctx, older.Key, models.StatusProcessing, models.StatusFailed, "stale", s.now)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	found, err := s.store.Find(ctx, newer.Key)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, found.Status)
	s.Empty(found.Error)
	s.NotNil(found.ProcessedAt)
	s.Equal("on_update", found.ActionKind)

	found, err = s.store.Find(ctx, older.Key)
	s.Require().NoError(err)
	s.Equal(models.StatusReceived, found.Status)
}

func (s *PostgresLedgerSuite) TestListStuck() {
	ctx := context.Background()
	stale := s.event("stale")
	stale.ReceivedAt = s.now.Add(-time.Hour)
	_, err := s.store.Insert(ctx, stale)
	s.Require().NoError(err)
	_, err = s.store.Insert(ctx, s.event("fresh"))
	s.Require().NoError(err)

	stuck, err := s.store.ListStuck(ctx, []models.Status{models.StatusReceived, models.StatusProcessing}, s.now.Add(-10*time.Minute))
	s.Require().NoError(err)
	s.Require().Len(stuck, 1)
	s.Equal("stale", stuck[0].Key.LeadID)
}

func (s *PostgresLedgerSuite) TestFindMissing() {
	_, err := s.store.Find(context.Background(), models.NaturalKey{LeadID: "none", OccurredAt: s.now})
	s.ErrorIs(err, sentinel.ErrNotFound)
}
