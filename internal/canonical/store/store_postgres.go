package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	txcontext "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/tx"
)

const uniqueViolation = "23505"

// SQLSTATE classes for rows the database refused: data exceptions and
// integrity constraint violations.
const (
	classDataException      = "22"
	classConstraintViolated = "23"
)

// PostgresStore writes the parties, party_contacts, addresses,
// party_addresses and enrichment_snapshots tables. Each entity is its own
// transaction.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: txcontext.DefaultTimeout}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const partyColumns = `id, kind, national_id, full_name, normalized_name, birth_date, sex, mother_name, father_name, enriched, created_at, updated_at`

// UpsertParty locks the most recent party for the national id and fills
// its null columns, or inserts a new row when there is none.
func (s *PostgresStore) UpsertParty(ctx context.Context, in models.PartyInput, at time.Time) (*models.Party, bool, error) {
	var (
		party   *models.Party
		created bool
	)
	err := txcontext.Run(ctx, s.db, s.timeout, func(ctx context.Context) error {
		var id uuid.UUID
		err := s.execer(ctx).QueryRowContext(ctx, `
			SELECT id FROM parties
			WHERE national_id = $1
			ORDER BY updated_at DESC
			LIMIT 1
			FOR UPDATE
		`, in.NationalID.String()).Scan(&id)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
			party, err = scanParty(s.execer(ctx).QueryRowContext(ctx, `
				INSERT INTO parties (id, kind, national_id, full_name, normalized_name, birth_date, sex, mother_name, father_name, enriched, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $10)
				RETURNING `+partyColumns,
				uuid.New(), string(in.Kind), in.NationalID.String(),
				in.FullName, in.NormalizedName, in.BirthDate, in.Sex, in.MotherName, in.FatherName,
				at,
			))
			return err
		case err != nil:
			return err
		}

		party, err = scanParty(s.execer(ctx).QueryRowContext(ctx, `
			UPDATE parties SET
				full_name       = COALESCE(full_name, $2),
				normalized_name = COALESCE(normalized_name, $3),
				birth_date      = COALESCE(birth_date, $4),
				sex             = COALESCE(sex, $5),
				mother_name     = COALESCE(mother_name, $6),
				father_name     = COALESCE(father_name, $7),
				enriched        = TRUE,
				updated_at      = $8
			WHERE id = $1
			RETURNING `+partyColumns,
			id, in.FullName, in.NormalizedName, in.BirthDate, in.Sex, in.MotherName, in.FatherName, at,
		))
		return err
	})
	if err != nil {
		return nil, false, dErrors.Wrap(err, codeFor(err), "upsert party")
	}
	return party, created, nil
}

// UpsertContacts inserts every record in one transaction. Existing
// (party, kind, value) rows are left as they are.
func (s *PostgresStore) UpsertContacts(ctx context.Context, partyID domain.PartyID, contacts []models.ContactRecord, at time.Time) (int, error) {
	inserted := 0
	err := txcontext.Run(ctx, s.db, s.timeout, func(ctx context.Context) error {
		inserted = 0
		for _, c := range contacts {
			res, err := s.execer(ctx).ExecContext(ctx, `
				INSERT INTO party_contacts (id, party_id, kind, value, is_primary, verified, whatsapp, confidence, source, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (party_id, kind, value) DO NOTHING
			`, uuid.New(), uuid.UUID(partyID), string(c.Kind), c.Value, c.Primary, c.Verified,
				c.Kind == models.ContactKindWhatsApp, c.Confidence.Value(), c.Source, at)
			if err != nil {
				return fmt.Errorf("insert %s contact: %w", c.Kind, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, dErrors.Wrap(err, codeFor(err), "upsert contacts")
	}
	return inserted, nil
}

// LinkAddresses stores each address and its link separately; one bad
// address does not stop the others.
func (s *PostgresStore) LinkAddresses(ctx context.Context, partyID domain.PartyID, addresses []models.AddressInput, at time.Time) (int, error) {
	linked := 0
	var errs []error
	for _, a := range addresses {
		n, err := s.linkAddress(ctx, partyID, a, at)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		linked += n
	}
	if err := errors.Join(errs...); err != nil {
		return linked, dErrors.Wrap(err, codeFor(errs...), "link addresses")
	}
	return linked, nil
}

func (s *PostgresStore) linkAddress(ctx context.Context, partyID domain.PartyID, in models.AddressInput, at time.Time) (int, error) {
	addressID, err := s.ensureAddress(ctx, in.Address, at)
	if err != nil {
		return 0, err
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO party_addresses (party_id, address_id, relationship, confidence, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (party_id, address_id) DO NOTHING
	`, uuid.UUID(partyID), addressID, string(in.Relationship), in.Confidence.Value(), in.Primary, at)
	if err != nil {
		return 0, fmt.Errorf("link address: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ensureAddress inserts the address or, when another writer got there
// first, returns the existing row's id.
func (s *PostgresStore) ensureAddress(ctx context.Context, a models.Address, at time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO addresses (id, street, number, complement, neighborhood, city, state, postal_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, a.Street, a.Number, a.Complement, a.Neighborhood, a.City, a.State, a.PostalCode, at)
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("insert address: %w", err)
	}
	err = s.execer(ctx).QueryRowContext(ctx, `
		SELECT id FROM addresses
		WHERE street = $1 AND number = $2 AND complement = $3 AND postal_code = $4
	`, a.Street, a.Number, a.Complement, a.PostalCode).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find existing address: %w", err)
	}
	return id, nil
}

// SaveSnapshot keeps one row per party. The stored quality score never
// decreases.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO enrichment_snapshots (party_id, provider, payload, quality_score, income, credit_score, risk_score, enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (party_id) DO UPDATE SET
			provider      = EXCLUDED.provider,
			payload       = EXCLUDED.payload,
			quality_score = GREATEST(enrichment_snapshots.quality_score, EXCLUDED.quality_score),
			income        = COALESCE(EXCLUDED.income, enrichment_snapshots.income),
			credit_score  = COALESCE(EXCLUDED.credit_score, enrichment_snapshots.credit_score),
			risk_score    = COALESCE(EXCLUDED.risk_score, enrichment_snapshots.risk_score),
			enriched_at   = EXCLUDED.enriched_at
	`, uuid.UUID(snap.PartyID), snap.Provider, []byte(snap.Payload), snap.QualityScore,
		snap.Financial.Income, snap.Financial.CreditScore, snap.Financial.RiskScore, snap.EnrichedAt)
	if err != nil {
		return dErrors.Wrap(err, codeFor(err), "save snapshot")
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindParty returns the most recently updated party for id.
func (s *PostgresStore) FindParty(ctx context.Context, id domain.NationalID) (*models.Party, error) {
	p, err := scanParty(s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+partyColumns+` FROM parties
		WHERE national_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find party: %w", err)
	}
	return p, nil
}

// Snapshot returns the stored snapshot for a party.
func (s *PostgresStore) Snapshot(ctx context.Context, partyID domain.PartyID) (*models.Snapshot, error) {
	var (
		snap   models.Snapshot
		pid    uuid.UUID
		income sql.NullFloat64
		credit sql.NullInt64
		risk   sql.NullFloat64
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT party_id, provider, payload, quality_score, income, credit_score, risk_score, enriched_at
		FROM enrichment_snapshots WHERE party_id = $1
	`, uuid.UUID(partyID)).Scan(&pid, &snap.Provider, &snap.Payload, &snap.QualityScore, &income, &credit, &risk, &snap.EnrichedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	snap.PartyID = domain.PartyID(pid)
	if income.Valid {
		snap.Financial.Income = &income.Float64
	}
	if credit.Valid {
		v := int(credit.Int64)
		snap.Financial.CreditScore = &v
	}
	if risk.Valid {
		snap.Financial.RiskScore = &risk.Float64
	}
	return &snap, nil
}

func scanParty(row *sql.Row) (*models.Party, error) {
	var (
		p          models.Party
		id         uuid.UUID
		kind       string
		nationalID string
		fullName   sql.NullString
		normalized sql.NullString
		birthDate  sql.NullTime
		sex        sql.NullString
		mother     sql.NullString
		father     sql.NullString
	)
	err := row.Scan(&id, &kind, &nationalID, &fullName, &normalized, &birthDate, &sex, &mother, &father,
		&p.Enriched, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	nid, err := domain.ParseNationalID(nationalID)
	if err != nil {
		return nil, fmt.Errorf("stored national id: %w", err)
	}
	p.ID = domain.PartyID(id)
	p.Kind = models.PartyKind(kind)
	p.NationalID = nid
	p.FullName = nullString(fullName)
	p.NormalizedName = nullString(normalized)
	p.Sex = nullString(sex)
	p.MotherName = nullString(mother)
	p.FatherName = nullString(father)
	if birthDate.Valid {
		d := birthDate.Time.UTC()
		p.BirthDate = &d
	}
	return &p, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// sqlState extracts the SQLSTATE code from either driver's error.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == uniqueViolation
}

// codeFor is CodeValidation when every error is a row the database
// rejected, CodeDatabase otherwise.
func codeFor(errs ...error) dErrors.Code {
	for _, err := range errs {
		state := sqlState(err)
		if len(state) < 2 {
			return dErrors.CodeDatabase
		}
		if class := state[:2]; class != classDataException && class != classConstraintViolated {
			return dErrors.CodeDatabase
		}
	}
	return dErrors.CodeValidation
}
