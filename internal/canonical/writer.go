// Package canonical persists broker profiles into the golden-record store.
//
// A profile is written as a sequence of independent upserts: party, then
// contacts, then addresses, then the snapshot. Only the party step is
// fatal. A later failure is logged and reported as a partial result, and
// nothing already written is rolled back.
package canonical

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/mapper"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

//go:generate mockgen -source=writer.go -destination=mocks/mocks.go -package=mocks Store

// Provider names the broker in stored snapshots.
const Provider = "work_api"

// Store is the canonical persistence contract. Every method is idempotent.
type Store interface {
	// UpsertParty fills null fields of the most recent party with this
	// national id, or inserts a new one. created reports an insert.
	UpsertParty(ctx context.Context, in models.PartyInput, at time.Time) (party *models.Party, created bool, err error)
	// UpsertContacts ignores records that already exist.
	UpsertContacts(ctx context.Context, partyID domain.PartyID, contacts []models.ContactRecord, at time.Time) (inserted int, err error)
	// LinkAddresses creates missing addresses and links. Existing links are kept.
	LinkAddresses(ctx context.Context, partyID domain.PartyID, addresses []models.AddressInput, at time.Time) (linked int, err error)
	// SaveSnapshot replaces the payload and keeps the higher quality score.
	SaveSnapshot(ctx context.Context, snapshot models.Snapshot) error
	Ping(ctx context.Context) error
}

type Writer struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Writer)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

func NewWriter(store Store, opts ...Option) *Writer {
	w := &Writer{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Persist maps payload and writes it for id.
func (w *Writer) Persist(ctx context.Context, id domain.NationalID, payload json.RawMessage) (*models.PersistResult, error) {
	profile, err := mapper.Map(id, payload)
	if err != nil {
		return nil, err
	}
	return w.PersistProfile(ctx, profile, payload)
}

// PersistProfile writes an already mapped profile.
func (w *Writer) PersistProfile(ctx context.Context, profile *models.Profile, payload json.RawMessage) (*models.PersistResult, error) {
	start := time.Now()
	defer w.metrics.ObserveStage("store_persist", start)

	now := requestcontext.Now(ctx)
	masked := profile.Party.NationalID.Masked()

	party, created, err := w.store.UpsertParty(ctx, profile.Party, now)
	if err != nil {
		return nil, err
	}
	result := &models.PersistResult{Party: party, Created: created}

	fail := func(step string, err error) {
		result.Partial = true
		result.Failures = append(result.Failures, step)
		w.logger.WarnContext(ctx, "partial enrichment write",
			"step", step,
			"party_id", party.ID.String(),
			"national_id", masked,
			"error", err,
		)
	}

	if len(profile.Contacts) > 0 {
		n, err := w.store.UpsertContacts(ctx, party.ID, profile.Contacts, now)
		result.ContactsInserted = n
		if err != nil {
			fail("contacts", err)
		}
	}
	if len(profile.Addresses) > 0 {
		n, err := w.store.LinkAddresses(ctx, party.ID, profile.Addresses, now)
		result.AddressesLinked = n
		if err != nil {
			fail("addresses", err)
		}
	}

	err = w.store.SaveSnapshot(ctx, models.Snapshot{
		PartyID:      party.ID,
		Provider:     Provider,
		Payload:      payload,
		QualityScore: profile.QualityScore,
		Financial:    profile.Financial,
		EnrichedAt:   now,
	})
	if err != nil {
		fail("snapshot", err)
	} else {
		result.SnapshotSaved = true
	}

	w.logger.InfoContext(ctx, "party persisted",
		"party_id", party.ID.String(),
		"national_id", masked,
		"created", created,
		"contacts_inserted", result.ContactsInserted,
		"addresses_linked", result.AddressesLinked,
		"partial", result.Partial,
	)
	return result, nil
}

// Ready fails fast when the store cannot take writes. Stores without a
// readiness notion are always ready.
func (w *Writer) Ready() error {
	if r, ok := w.store.(interface{ Ready() error }); ok {
		return r.Ready()
	}
	return nil
}
