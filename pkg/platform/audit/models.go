package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// Sinks use it for routing and retention.
type EventCategory string

const (
	// CategoryCompliance covers acquisition and storage of personal data
	// from the broker. These are never sampled.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected webhooks and cache tampering.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine pipeline activity. Can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Action names what happened.
type Action string

const (
	// Ledger
	ActionLeadReceived   Action = "lead_received"
	ActionLeadDuplicate  Action = "lead_duplicate"
	ActionLeadRejected   Action = "lead_rejected"
	ActionWebhookDenied  Action = "webhook_denied"
	ActionLeadSaturated  Action = "lead_saturated"
	ActionLeadStuck      Action = "lead_stuck"
	ActionLeadCompleted  Action = "lead_completed"
	ActionLeadFailed     Action = "lead_failed"
	ActionCRMMessageSent Action = "crm_message_sent"

	// Enrichment
	ActionEnrichmentCompleted  Action = "enrichment_completed"
	ActionEnrichmentSuppressed Action = "enrichment_suppressed"
	ActionEnrichmentFailed     Action = "enrichment_failed"
	ActionCacheIntegrityFailed Action = "cache_integrity_failed"
)

// eventCategories maps each action to its category.
var eventCategories = map[Action]EventCategory{
	ActionEnrichmentCompleted: CategoryCompliance,
	ActionCRMMessageSent:      CategoryCompliance,

	ActionWebhookDenied:        CategorySecurity,
	ActionCacheIntegrityFailed: CategorySecurity,

	ActionLeadReceived:         CategoryOperations,
	ActionLeadDuplicate:        CategoryOperations,
	ActionLeadRejected:         CategoryOperations,
	ActionLeadSaturated:        CategoryOperations,
	ActionLeadStuck:            CategoryOperations,
	ActionLeadCompleted:        CategoryOperations,
	ActionLeadFailed:           CategoryOperations,
	ActionEnrichmentSuppressed: CategoryOperations,
	ActionEnrichmentFailed:     CategoryOperations,
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := eventCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from the ledger and the pipeline. It is transport-agnostic
// so stores and sinks can fan out.
//
// Subject carries a masked national ID when one is involved. Raw identifiers
// never enter the audit trail.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Category   EventCategory     `json:"category"`
	Action     Action            `json:"action"`
	Timestamp  time.Time         `json:"timestamp"`
	LeadID     string            `json:"lead_id,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Normalized fills ID, category and timestamp when absent.
func (e Event) Normalized(now time.Time) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return e
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
