//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/store"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/testutil/containers"
)

type PostgresCanonicalSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	ctx      context.Context
	now      time.Time
	nid      domain.NationalID
}

func TestPostgresCanonicalSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCanonicalSuite))
}

func (s *PostgresCanonicalSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresCanonicalSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.postgres.TruncateTables(s.ctx,
		"enrichment_snapshots", "party_addresses", "addresses", "party_contacts", "parties"))
	s.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nid = domain.MustNationalID("12345678909")
}

func strPtr(v string) *string { return &v }

func (s *PostgresCanonicalSuite) party() *models.Party {
	p, created, err := s.store.UpsertParty(s.ctx, models.PartyInput{
		NationalID: s.nid,
		Kind:       models.PartyKindPerson,
		FullName:   strPtr("MARIA"),
	}, s.now)
	s.Require().NoError(err)
	s.True(created)
	return p
}

func (s *PostgresCanonicalSuite) TestUpsertPartyMergesNullFields() {
	first := s.party()

	later := s.now.Add(time.Hour)
	p, created, err := s.store.UpsertParty(s.ctx, models.PartyInput{
		NationalID: s.nid,
		Kind:       models.PartyKindPerson,
		FullName:   strPtr("OTHER"),
		MotherName: strPtr("ANA"),
	}, later)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, p.ID)
	s.Equal("MARIA", *p.FullName)
	s.Equal("ANA", *p.MotherName)
	s.True(p.Enriched)
	s.True(p.UpdatedAt.Equal(later))
}

func (s *PostgresCanonicalSuite) TestUpsertPartyKeepsFirstBirthDate() {
	s.party()

	upsert := func(birth *time.Time, at time.Time) *models.Party {
		p, created, err := s.store.UpsertParty(s.ctx, models.PartyInput{
			NationalID: s.nid,
			Kind:       models.PartyKindPerson,
			BirthDate:  birth,
		}, at)
		s.Require().NoError(err)
		s.False(created)
		return p
	}

	first := time.Date(1985, 3, 15, 0, 0, 0, 0, time.UTC)
	p := upsert(&first, s.now.Add(time.Hour))
	s.Require().NotNil(p.BirthDate)
	s.Equal("1985-03-15", p.BirthDate.Format(time.DateOnly))

	other := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	upsert(&other, s.now.Add(2*time.Hour))

	found, err := s.store.FindParty(s.ctx, s.nid)
	s.Require().NoError(err)
	s.Require().NotNil(found.BirthDate)
	s.Equal("1985-03-15", found.BirthDate.Format(time.DateOnly))
}

func (s *PostgresCanonicalSuite) TestUpsertPartyPicksMostRecentDuplicate() {
	older := s.party()
	_, err := s.postgres.DB.ExecContext(s.ctx, `
		INSERT INTO parties (id, kind, national_id, enriched, created_at, updated_at)
		VALUES ($1, 'person', $2, FALSE, $3, $3)
	`, domain.NewPartyID().String(), s.nid.String(), s.now.Add(time.Minute))
	s.Require().NoError(err)

	p, _, err := s.store.UpsertParty(s.ctx, models.PartyInput{NationalID: s.nid, Kind: models.PartyKindPerson, FullName: strPtr("NEW")}, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.NotEqual(older.ID, p.ID)
	s.Equal("NEW", *p.FullName)

	found, err := s.store.FindParty(s.ctx, s.nid)
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
}

func (s *PostgresCanonicalSuite) TestContactsAreInsertedOnce() {
	p := s.party()
	contacts := []models.ContactRecord{
		{Kind: models.ContactKindEmail, Value: "maria@example.com", Primary: true, Confidence: domain.ConfidenceHigh, Source: "work_api"},
		{Kind: models.ContactKindPhone, Value: "11987654321", Confidence: domain.ConfidenceSecond, Source: "work_api"},
	}

	n, err := s.store.UpsertContacts(s.ctx, p.ID, contacts, s.now)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.store.UpsertContacts(s.ctx, p.ID, contacts, s.now)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresCanonicalSuite) TestAddressesAreSharedBetweenParties() {
	p := s.party()
	other, _, err := s.store.UpsertParty(s.ctx, models.PartyInput{
		NationalID: domain.MustNationalID("98765432100"),
		Kind:       models.PartyKindPerson,
	}, s.now)
	s.Require().NoError(err)

	addr := []models.AddressInput{{
		Address:    models.Address{Street: "RUA A", Number: "1", PostalCode: "01000000"},
		Confidence: domain.ConfidenceHigh,
		Primary:    true,
	}}

	var wg sync.WaitGroup
	for _, id := range []domain.PartyID{p.ID, other.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.store.LinkAddresses(s.ctx, id, addr, s.now)
			s.NoError(err)
			s.Equal(1, n)
		}()
	}
	wg.Wait()

	var count int
	s.Require().NoError(s.postgres.DB.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM addresses`).Scan(&count))
	s.Equal(1, count)

	n, err := s.store.LinkAddresses(s.ctx, p.ID, addr, s.now)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresCanonicalSuite) TestSnapshotKeepsHighestQuality() {
	p := s.party()
	income := 1900.0

	s.Require().NoError(s.store.SaveSnapshot(s.ctx, models.Snapshot{
		PartyID: p.ID, Provider: "work_api", Payload: []byte(`{"a":1}`),
		QualityScore: 0.875, Financial: models.Financial{Income: &income}, EnrichedAt: s.now,
	}))
	s.Require().NoError(s.store.SaveSnapshot(s.ctx, models.Snapshot{
		PartyID: p.ID, Provider: "work_api", Payload: []byte(`{"b":2}`),
		QualityScore: 0.125, EnrichedAt: s.now.Add(time.Hour),
	}))

	snap, err := s.store.Snapshot(s.ctx, p.ID)
	s.Require().NoError(err)
	s.InDelta(0.875, snap.QualityScore, 1e-9)
	s.JSONEq(`{"b":2}`, string(snap.Payload))
	s.Require().NotNil(snap.Financial.Income)
	s.InDelta(1900.0, *snap.Financial.Income, 1e-9)
}

func (s *PostgresCanonicalSuite) TestSnapshotMissing() {
	_, err := s.store.Snapshot(s.ctx, domain.NewPartyID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
