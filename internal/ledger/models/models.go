package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle position of a ledger event.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NaturalKey identifies a webhook event. The CRM redelivers the same
// (lead, updated_at) pair on retries, so it is the idempotency key.
type NaturalKey struct {
	LeadID     string
	OccurredAt time.Time
}

func (k NaturalKey) String() string {
	return k.LeadID + "@" + k.OccurredAt.Format(time.RFC3339Nano)
}

// Event is one ledger row. Rows are never deleted.
type Event struct {
	ID          uuid.UUID
	Key         NaturalKey
	ActionKind  string
	RawPayload  json.RawMessage
	Status      Status
	Error       string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// IngestResult is the per-batch outcome returned to the webhook caller.
type IngestResult struct {
	Received   int      `json:"received"`
	Processed  int      `json:"processed"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected,omitempty"`
	Saturated  int      `json:"saturated,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}
