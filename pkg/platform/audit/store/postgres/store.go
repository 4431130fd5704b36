package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	txcontext "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table.
// Inserts are idempotent on the event ID so a retried delivery is harmless.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts an event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("marshal audit attributes: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, category, action, occurred_at, lead_id, subject, reason, request_id, attributes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		string(event.Action),
		event.Timestamp,
		event.LeadID,
		event.Subject,
		event.Reason,
		event.RequestID,
		attrs,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByLead returns a lead's events, oldest first.
func (s *Store) ListByLead(ctx context.Context, leadID string) ([]audit.Event, error) {
	query := `
		SELECT id, category, action, occurred_at, lead_id, subject, reason, request_id, attributes
		FROM audit_events
		WHERE lead_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			action   string
			attrs    []byte
		)
		if err := rows.Scan(&event.ID, &category, &action, &event.Timestamp, &event.LeadID,
			&event.Subject, &event.Reason, &event.RequestID, &attrs); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Action = audit.Action(action)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &event.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal audit attributes: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
