package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	txcontext "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/tx"
)

// PostgresStore persists ledger events in the webhook_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
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

// Insert writes the event unless its natural key already exists. The unique
// constraint makes this atomic across concurrent deliveries.
func (s *PostgresStore) Insert(ctx context.Context, event *models.Event) (bool, error) {
	query := `
		INSERT INTO webhook_events (id, lead_id, occurred_at, action_kind, raw_payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (lead_id, occurred_at) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		event.Key.LeadID,
		event.Key.OccurredAt,
		event.ActionKind,
		[]byte(event.RawPayload),
		string(event.Status),
		event.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert webhook event rows affected: %w", err)
	}
	return n == 1, nil
}

// Transition moves an event between statuses. The WHERE clause pins both the
// natural key and the expected current status.
func (s *PostgresStore) Transition(ctx context.Context, key models.NaturalKey, from, to models.Status, errMsg string, at time.Time) error {
	query := `
		UPDATE webhook_events
		SET status = $4,
		    error = NULLIF($5, ''),
		    processed_at = CASE WHEN $6 THEN $7 ELSE processed_at END
		WHERE lead_id = $1 AND occurred_at = $2 AND status = $3
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		key.LeadID,
		key.OccurredAt,
		string(from),
		string(to),
		errMsg,
		to.IsTerminal(),
		at,
	)
	if err != nil {
		return fmt.Errorf("transition webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition webhook event rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, key models.NaturalKey) (*models.Event, error) {
	query := `
		SELECT id, lead_id, occurred_at, action_kind, raw_payload, status, error, received_at, processed_at
		FROM webhook_events
		WHERE lead_id = $1 AND occurred_at = $2
	`
	event, err := scanEvent(s.execer(ctx).QueryRowContext(ctx, query, key.LeadID, key.OccurredAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find webhook event: %w", err)
	}
	return event, nil
}

// ListStuck returns events in any of statuses received before olderThan.
func (s *PostgresStore) ListStuck(ctx context.Context, statuses []models.Status, olderThan time.Time) ([]*models.Event, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `
		SELECT id, lead_id, occurred_at, action_kind, raw_payload, status, error, received_at, processed_at
		FROM webhook_events
		WHERE status = ANY($1) AND received_at < $2
		ORDER BY received_at ASC
		LIMIT 500
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(names), olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stuck webhook events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		event       models.Event
		status      string
		errMsg      sql.NullString
		processedAt sql.NullTime
		payload     []byte
	)
	if err := row.Scan(&event.ID, &event.Key.LeadID, &event.Key.OccurredAt, &event.ActionKind,
		&payload, &status, &errMsg, &event.ReceivedAt, &processedAt); err != nil {
		return nil, err
	}
	event.Key.OccurredAt = event.Key.OccurredAt.UTC()
	event.RawPayload = payload
	event.Status = models.Status(status)
	event.Error = errMsg.String
	if processedAt.Valid {
		t := processedAt.Time
		event.ProcessedAt = &t
	}
	return &event, nil
}
