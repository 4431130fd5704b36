// Package logsink writes audit events to a structured logger. It is the
// default sink when no broker or database is configured.
package logsink

import (
	"context"
	"log/slog"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
)

// Store logs each event at info level under the "audit" group.
type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	attrs := []any{
		"id", event.ID.String(),
		"category", string(event.Category),
		"action", string(event.Action),
		"timestamp", event.Timestamp,
	}
	if event.LeadID != "" {
		attrs = append(attrs, "lead_id", event.LeadID)
	}
	if event.Subject != "" {
		attrs = append(attrs, "subject", event.Subject)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "audit event", slog.Group("audit", attrs...))
	return nil
}
