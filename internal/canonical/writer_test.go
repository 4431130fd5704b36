package canonical

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/mocks"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/store"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

const richPayload = `{
  "DadosBasicos": {"nome": "MARIA DA SILVA", "dataNascimento": "15/03/1985", "sexo": "F", "nomeMae": "ANA DA SILVA"},
  "DadosEconomicos": {"renda": "1000,00", "score": {"scoreCSBA": 700, "scoreCSBAFaixaRisco": "BAIXO"}},
  "emails": [{"email": "maria@example.com", "qualidade": "BOM"}],
  "telefones": [{"telefone": "11987654321", "whatsapp": "SIM"}],
  "enderecos": [{"logradouro": "RUA A", "logradouroNumero": "1", "cep": "01000000"}]
}`

const thinPayload = `{"DadosBasicos": {"nome": "MARIA SOUZA"}}`

var (
	nid   = domain.MustNationalID("12345678909")
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func TestPersistWritesEveryStep(t *testing.T) {
	s := store.NewInMemoryStore()
	w := NewWriter(s, WithLogger(quiet))

	res, err := w.Persist(context.Background(), nid, []byte(richPayload))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Failures)
	assert.True(t, res.SnapshotSaved)
	assert.Equal(t, 3, res.ContactsInserted, "email, phone and whatsapp")
	assert.Equal(t, 1, res.AddressesLinked)

	snap, err := s.Snapshot(context.Background(), res.Party.ID)
	require.NoError(t, err)
	assert.Equal(t, Provider, snap.Provider)
	assert.JSONEq(t, richPayload, string(snap.Payload))
}

func TestPersistIsIdempotent(t *testing.T) {
	s := store.NewInMemoryStore()
	w := NewWriter(s, WithLogger(quiet))
	ctx := context.Background()

	first, err := w.Persist(ctx, nid, []byte(richPayload))
	require.NoError(t, err)
	second, err := w.Persist(ctx, nid, []byte(richPayload))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Party.ID, second.Party.ID)
	assert.Zero(t, second.ContactsInserted)
	assert.Zero(t, second.AddressesLinked)
	assert.Equal(t, 1, s.PartyCount())
	assert.Len(t, s.Contacts(ctx, first.Party.ID), 3)
}

func TestPersistMergesWithoutOverwriting(t *testing.T) {
	s := store.NewInMemoryStore()
	w := NewWriter(s, WithLogger(quiet))
	ctx := context.Background()

	_, err := w.Persist(ctx, nid, []byte(thinPayload))
	require.NoError(t, err)
	res, err := w.Persist(ctx, nid, []byte(richPayload))
	require.NoError(t, err)

	p := res.Party
	assert.Equal(t, "MARIA SOUZA", *p.FullName, "existing name is kept")
	require.NotNil(t, p.MotherName)
	assert.Equal(t, "ANA DA SILVA", *p.MotherName, "null field is filled")
	require.NotNil(t, p.BirthDate)
	assert.True(t, p.Enriched)
}

func TestPersistKeepsFirstBirthDate(t *testing.T) {
	s := store.NewInMemoryStore()
	w := NewWriter(s, WithLogger(quiet))
	ctx := context.Background()

	res, err := w.Persist(ctx, nid, []byte(thinPayload))
	require.NoError(t, err)
	assert.Nil(t, res.Party.BirthDate)

	res, err = w.Persist(ctx, nid, []byte(`{"DadosBasicos": {"nome": "MARIA SOUZA", "dataNascimento": "15/03/1985"}}`))
	require.NoError(t, err)
	require.NotNil(t, res.Party.BirthDate)

	res, err = w.Persist(ctx, nid, []byte(`{"DadosBasicos": {"nome": "MARIA SOUZA", "dataNascimento": "01/01/2000"}}`))
	require.NoError(t, err)
	require.NotNil(t, res.Party.BirthDate)
	assert.Equal(t, time.Date(1985, 3, 15, 0, 0, 0, 0, time.UTC), *res.Party.BirthDate)

	stored, err := s.FindParty(ctx, nid)
	require.NoError(t, err)
	require.NotNil(t, stored.BirthDate)
	assert.Equal(t, "1985-03-15", stored.BirthDate.Format(time.DateOnly))
}

func TestPersistKeepsHighestQuality(t *testing.T) {
	s := store.NewInMemoryStore()
	w := NewWriter(s, WithLogger(quiet))
	ctx := context.Background()

	rich, err := w.Persist(ctx, nid, []byte(richPayload))
	require.NoError(t, err)
	before, err := s.Snapshot(ctx, rich.Party.ID)
	require.NoError(t, err)

	_, err = w.Persist(ctx, nid, []byte(thinPayload))
	require.NoError(t, err)
	after, err := s.Snapshot(ctx, rich.Party.ID)
	require.NoError(t, err)

	assert.Equal(t, before.QualityScore, after.QualityScore)
	assert.JSONEq(t, thinPayload, string(after.Payload), "payload is replaced")
}

func TestPersistRejectsMalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := mocks.NewMockStore(ctrl)
	w := NewWriter(s, WithLogger(quiet))

	_, err := w.Persist(context.Background(), nid, []byte(`[`))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestPersistProfilePartialFailures(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)
	party := &models.Party{ID: domain.NewPartyID(), NationalID: nid}
	profile := &models.Profile{
		Party:     models.PartyInput{NationalID: nid, Kind: models.PartyKindPerson},
		Contacts:  []models.ContactRecord{{Kind: models.ContactKindEmail, Value: "a@b.com"}},
		Addresses: []models.AddressInput{{Address: models.Address{Street: "RUA A"}}},
	}

	t.Run("party failure aborts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mocks.NewMockStore(ctrl)
		w := NewWriter(s, WithLogger(quiet))

		boom := errors.New("connection refused")
		s.EXPECT().UpsertParty(gomock.Any(), profile.Party, at).Return(nil, false, boom)

		_, err := w.PersistProfile(ctx, profile, []byte(`{}`))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("later failures are reported but not fatal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mocks.NewMockStore(ctrl)
		w := NewWriter(s, WithLogger(quiet))

		s.EXPECT().UpsertParty(gomock.Any(), profile.Party, at).Return(party, true, nil)
		s.EXPECT().UpsertContacts(gomock.Any(), party.ID, profile.Contacts, at).Return(0, errors.New("deadlock"))
		s.EXPECT().LinkAddresses(gomock.Any(), party.ID, profile.Addresses, at).Return(1, nil)
		s.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		res, err := w.PersistProfile(ctx, profile, []byte(`{}`))
		require.NoError(t, err)
		assert.True(t, res.Partial)
		assert.Equal(t, []string{"contacts", "snapshot"}, res.Failures)
		assert.Equal(t, 1, res.AddressesLinked)
		assert.False(t, res.SnapshotSaved)
	})

	t.Run("empty lists skip their steps", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		s := mocks.NewMockStore(ctrl)
		w := NewWriter(s, WithLogger(quiet))

		s.EXPECT().UpsertParty(gomock.Any(), gomock.Any(), at).Return(party, false, nil)
		s.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, snap models.Snapshot) error {
				assert.Equal(t, party.ID, snap.PartyID)
				assert.Equal(t, at, snap.EnrichedAt)
				return nil
			})

		res, err := w.PersistProfile(ctx, &models.Profile{Party: profile.Party}, []byte(`{}`))
		require.NoError(t, err)
		assert.False(t, res.Partial)
	})
}

func TestWriterReady(t *testing.T) {
	t.Run("plain store is always ready", func(t *testing.T) {
		assert.NoError(t, NewWriter(store.NewInMemoryStore()).Ready())
	})

	t.Run("open breaker is not ready", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		backend := mocks.NewMockStore(ctrl)
		backend.EXPECT().SaveSnapshot(gomock.Any(), gomock.Any()).Return(errors.New("down"))

		b := store.NewBreaker(backend, 1, time.Minute, store.WithBreakerLogger(quiet))
		_ = b.SaveSnapshot(context.Background(), models.Snapshot{})

		err := NewWriter(b).Ready()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}
