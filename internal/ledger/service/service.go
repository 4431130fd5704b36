// Package service implements the event ledger: natural-key idempotent
// ingestion of webhook events and the guarded status transitions the
// pipeline drives.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

// ReasonSaturated is recorded when the worker pool refuses an event.
const ReasonSaturated = "pipeline saturated"

// Store persists ledger events.
type Store interface {
	Insert(ctx context.Context, event *models.Event) (bool, error)
	Transition(ctx context.Context, key models.NaturalKey, from, to models.Status, errMsg string, at time.Time) error
	Find(ctx context.Context, key models.NaturalKey) (*models.Event, error)
	ListStuck(ctx context.Context, statuses []models.Status, olderThan time.Time) ([]*models.Event, error)
}

// Dispatcher hands an accepted event to background processing. It must not
// block on the processing itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.Event) error
}

type Service struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	auditor    audit.Emitter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditor(a audit.Emitter) Option {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  slog.Default(),
		auditor: audit.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher sets the dispatcher after construction, for a dispatcher
// that itself depends on the service.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Ingest records each event of the batch and dispatches the new ones. A bad
// event never fails the batch; only a store failure does, and a retried
// delivery then sees the already-recorded events as duplicates.
func (s *Service) Ingest(ctx context.Context, batch models.RawBatch) (*models.IngestResult, error) {
	result := &models.IngestResult{Received: len(batch.Events)}

	for i, raw := range batch.Events {
		key, err := raw.Key()
		if err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, err.Error())
			s.metrics.IncIngested("rejected")
			s.logger.WarnContext(ctx, "webhook event rejected",
				"index", i,
				"lead_id", raw.ID,
				"error", err,
			)
			s.emit(ctx, audit.Event{Action: audit.ActionLeadRejected, LeadID: raw.ID, Reason: err.Error()})
			continue
		}

		event := &models.Event{
			ID:         uuid.New(),
			Key:        key,
			ActionKind: raw.HookAction,
			RawPayload: raw.Raw,
			Status:     models.StatusReceived,
			ReceivedAt: requestcontext.Now(ctx),
		}
		inserted, err := s.store.Insert(ctx, event)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record webhook event", "lead_id", key.LeadID, "error", err)
			return nil, dErrors.Wrap(err, dErrors.CodeDatabase, "failed to record event")
		}
		if !inserted {
			result.Duplicates++
			s.metrics.IncIngested("duplicate")
			s.logger.InfoContext(ctx, "duplicate webhook event skipped", "lead_id", key.LeadID, "occurred_at", key.OccurredAt)
			s.emit(ctx, audit.Event{Action: audit.ActionLeadDuplicate, LeadID: key.LeadID})
			continue
		}

		result.Processed++
		s.metrics.IncIngested("accepted")
		s.logger.InfoContext(ctx, "webhook event received",
			"lead_id", key.LeadID,
			"action", raw.HookAction,
			"caller", requestcontext.Caller(ctx),
		)
		s.emit(ctx, audit.Event{Action: audit.ActionLeadReceived, LeadID: key.LeadID,
			Attributes: map[string]string{"hook_action": raw.HookAction}})

		if err := s.dispatch(ctx, event); err != nil {
			result.Saturated++
			s.metrics.IncIngested("saturated")
			s.logger.ErrorContext(ctx, "pipeline refused event", "lead_id", key.LeadID, "error", err)
			s.emit(ctx, audit.Event{Action: audit.ActionLeadSaturated, LeadID: key.LeadID, Reason: err.Error()})
			s.failSaturated(ctx, key)
		}
	}

	return result, nil
}

func (s *Service) dispatch(ctx context.Context, event *models.Event) error {
	if s.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	return s.dispatcher.Dispatch(ctx, event)
}

func (s *Service) failSaturated(ctx context.Context, key models.NaturalKey) {
	if err := s.MarkProcessing(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark saturated event processing", "lead_id", key.LeadID, "error", err)
		return
	}
	if err := s.MarkFailed(ctx, key, ReasonSaturated); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark saturated event failed", "lead_id", key.LeadID, "error", err)
	}
}

// MarkProcessing moves an event from received to processing.
func (s *Service) MarkProcessing(ctx context.Context, key models.NaturalKey) error {
	return s.transition(ctx, key, models.StatusReceived, models.StatusProcessing, "")
}

// MarkCompleted moves an event from processing to completed.
func (s *Service) MarkCompleted(ctx context.Context, key models.NaturalKey) error {
	return s.transition(ctx, key, models.StatusProcessing, models.StatusCompleted, "")
}

// MarkFailed moves an event from processing to failed with a reason meant
// for humans reading the ledger.
func (s *Service) MarkFailed(ctx context.Context, key models.NaturalKey, reason string) error {
	if reason == "" {
		reason = "processing failed"
	}
	return s.transition(ctx, key, models.StatusProcessing, models.StatusFailed, reason)
}

func (s *Service) transition(ctx context.Context, key models.NaturalKey, from, to models.Status, reason string) error {
	err := s.store.Transition(ctx, key, from, to, reason, requestcontext.Now(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "event is not "+string(from))
	}
	return dErrors.Wrap(err, dErrors.CodeDatabase, "failed to update event status")
}

// Find returns the ledger row for a key.
func (s *Service) Find(ctx context.Context, key models.NaturalKey) (*models.Event, error) {
	event, err := s.store.Find(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "event not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDatabase, "failed to load event")
	}
	return event, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.DebugContext(ctx, "audit event dropped", "action", event.Action, "error", err)
	}
}
