// Package pipeline runs the background unit of work for one accepted
// webhook event: validate contacts, resolve identities, enrich and store
// each one, then post the result to the CRM.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/mapper"
	cmodels "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/contact"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/enrichment"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/identity"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/recency"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/upstream"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

//go:generate mockgen -source=orchestrator.go -destination=mocks/mocks.go -package=mocks Ledger,Resolver,RecencyGate,Enricher,Persister,Messenger

const (
	tracerName = "github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/pipeline"

	// finishTimeout bounds the final ledger write, which runs even when the
	// task context has expired.
	finishTimeout = 5 * time.Second
)

// Ledger drives the event's status transitions.
type Ledger interface {
	MarkProcessing(ctx context.Context, key models.NaturalKey) error
	MarkCompleted(ctx context.Context, key models.NaturalKey) error
	MarkFailed(ctx context.Context, key models.NaturalKey, reason string) error
}

type Resolver interface {
	Resolve(ctx context.Context, contacts contact.Contacts) (*identity.Resolution, error)
}

type RecencyGate interface {
	Check(ctx context.Context, id domain.NationalID) recency.Decision
	Record(ctx context.Context, id domain.NationalID)
}

type Enricher interface {
	Fetch(ctx context.Context, id domain.NationalID) (*enrichment.Result, error)
}

// Persister writes a broker payload to the canonical store. Ready fails
// when a write would be rejected without reaching the store.
type Persister interface {
	Persist(ctx context.Context, id domain.NationalID, payload json.RawMessage) (*cmodels.PersistResult, error)
	Ready() error
}

type Messenger interface {
	SendMessage(ctx context.Context, leadID, text string) error
}

// IdentityStatus is the per-identity outcome.
type IdentityStatus string

const (
	IdentityEnriched   IdentityStatus = "enriched"
	IdentitySuppressed IdentityStatus = "suppressed"
	IdentityFailed     IdentityStatus = "failed"
)

type IdentityOutcome struct {
	NationalID domain.NationalID
	Channel    identity.Channel
	Status     IdentityStatus
	PartyID    domain.PartyID
	FromCache  bool
	Partial    bool
	Reason     string

	err     error
	payload *mapper.Payload
}

// Result summarizes one processed event.
type Result struct {
	LeadID      string
	SamePerson  bool
	Identities  []IdentityOutcome
	MessageSent bool
	StoredCount int
}

type Orchestrator struct {
	ledger    Ledger
	resolver  Resolver
	recency   RecencyGate
	enricher  Enricher
	persister Persister
	messenger Messenger

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Emitter
	tracer  trace.Tracer
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithAuditor(a audit.Emitter) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.auditor = a
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func New(ledger Ledger, resolver Resolver, gate RecencyGate, enricher Enricher, persister Persister, messenger Messenger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:    ledger,
		resolver:  resolver,
		recency:   gate,
		enricher:  enricher,
		persister: persister,
		messenger: messenger,
		logger:    slog.Default(),
		auditor:   audit.Nop{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the pipeline for one event and records the outcome on the
// ledger. The returned error is the reason the event failed.
func (o *Orchestrator) Process(ctx context.Context, event *models.Event) (*Result, error) {
	key := event.Key
	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("lead.id", key.LeadID),
		attribute.String("lead.action", event.ActionKind),
	))
	defer span.End()

	if err := o.ledger.MarkProcessing(ctx, key); err != nil {
		// Someone else owns this event, or the ledger is down; either way
		// there is no processing row to finish.
		o.logger.ErrorContext(ctx, "failed to claim event", "lead_id", key.LeadID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return nil, err
	}

	start := time.Now()
	result, err := o.run(ctx, event)
	o.metrics.ObserveStage("pipeline", start)
	o.finish(ctx, key, result, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FailureReason(err))
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, event *models.Event) (*Result, error) {
	lead, err := ExtractLead(event)
	if err != nil {
		return nil, err
	}
	result := &Result{LeadID: lead.ID}

	contacts, problems := contact.Normalize(lead.ContactInput())
	for _, p := range problems {
		o.logger.InfoContext(ctx, "contact discarded", "lead_id", lead.ID, "reason", p.Error())
	}

	resolution, err := o.resolve(ctx, contacts)
	if err != nil {
		return result, err
	}
	result.SamePerson = resolution.SamePerson

	result.Identities = o.enrichAll(ctx, lead, resolution.Identities)
	differentPeople := len(resolution.Identities) > 1

	var (
		sections []Section
		firstErr error
		failed   int
	)
	for _, out := range result.Identities {
		section := Section{Channel: out.Channel, Contact: contactFor(out.Channel, contacts)}
		switch out.Status {
		case IdentityEnriched:
			result.StoredCount++
			section.Payload = out.payload
		case IdentitySuppressed:
			section.Note = suppressedNote
		case IdentityFailed:
			failed++
			if firstErr == nil {
				firstErr = out.err
			}
			section.Note = failedNote(out.Reason)
		}
		if section.Payload != nil || differentPeople {
			sections = append(sections, section)
		}
	}

	if result.StoredCount == 0 {
		if failed > 0 {
			return result, firstErr
		}
		o.logger.InfoContext(ctx, "all identities recently enriched, no message sent", "lead_id", lead.ID)
		return result, nil
	}

	message := FormatMessage(resolution.SamePerson, differentPeople, sections)
	if err := o.send(ctx, lead.ID, message); err != nil {
		return result, err
	}
	result.MessageSent = true
	return result, nil
}

func (o *Orchestrator) resolve(ctx context.Context, contacts contact.Contacts) (*identity.Resolution, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.resolve")
	defer span.End()
	defer o.metrics.ObserveStage("resolve", time.Now())

	res, err := o.resolver.Resolve(ctx, contacts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("identities", len(res.Identities)),
		attribute.Bool("same_person", res.SamePerson),
	)
	return res, nil
}

// enrichAll handles each identity on its own goroutine. Outcomes keep the
// resolution order.
func (o *Orchestrator) enrichAll(ctx context.Context, lead Lead, ids []identity.Identity) []IdentityOutcome {
	outcomes := make([]IdentityOutcome, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = o.enrich(ctx, lead, id)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) enrich(ctx context.Context, lead Lead, id identity.Identity) IdentityOutcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.enrich", trace.WithAttributes(
		attribute.String("identity.channel", string(id.Channel)),
	))
	defer span.End()

	out := IdentityOutcome{NationalID: id.NationalID, Channel: id.Channel}
	masked := id.NationalID.Masked()

	if d := o.recency.Check(ctx, id.NationalID); d.Suppressed {
		out.Status = IdentitySuppressed
		out.Reason = fmt.Sprintf("enriched %s ago", d.Since.Round(time.Second))
		o.emit(ctx, audit.Event{Action: audit.ActionEnrichmentSuppressed, LeadID: lead.ID, Subject: masked})
		return out
	}

	fail := func(err error) IdentityOutcome {
		out.Status = IdentityFailed
		out.err = err
		out.Reason = FailureReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Reason)
		o.logger.WarnContext(ctx, "identity enrichment failed",
			"lead_id", lead.ID,
			"national_id", masked,
			"channel", id.Channel,
			"reason", out.Reason,
			"error", err,
		)
		o.emit(ctx, audit.Event{Action: audit.ActionEnrichmentFailed, LeadID: lead.ID, Subject: masked, Reason: out.Reason})
		return out
	}

	// An open store breaker would reject the write, so the broker call
	// is not spent.
	if err := o.persister.Ready(); err != nil {
		return fail(err)
	}

	fetched, err := o.enricher.Fetch(ctx, id.NationalID)
	if err != nil {
		return fail(upstream.ToDomain(err, "broker has no record for this national id"))
	}
	out.FromCache = fetched.FromCache

	payload, err := mapper.Parse(fetched.Payload)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeValidation, "malformed broker payload"))
	}

	persisted, err := o.persister.Persist(ctx, id.NationalID, fetched.Payload)
	if err != nil {
		return fail(err)
	}
	o.recency.Record(ctx, id.NationalID)

	out.Status = IdentityEnriched
	out.PartyID = persisted.Party.ID
	out.Partial = persisted.Partial
	out.payload = payload
	if persisted.Partial {
		out.Reason = "partial write: " + strings.Join(persisted.Failures, ", ")
	}
	o.emit(ctx, audit.Event{
		Action:  audit.ActionEnrichmentCompleted,
		LeadID:  lead.ID,
		Subject: masked,
		Attributes: map[string]string{
			"party_id":   persisted.Party.ID.String(),
			"from_cache": fmt.Sprint(fetched.FromCache),
			"partial":    fmt.Sprint(persisted.Partial),
		},
	})
	return out
}

func (o *Orchestrator) send(ctx context.Context, leadID, message string) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.crm_send")
	defer span.End()
	defer o.metrics.ObserveStage("crm_send", time.Now())

	if err := o.messenger.SendMessage(ctx, leadID, message); err != nil {
		span.RecordError(err)
		return upstream.ToDomain(err, "lead not found in crm")
	}
	o.emit(ctx, audit.Event{Action: audit.ActionCRMMessageSent, LeadID: leadID,
		Attributes: map[string]string{"length": fmt.Sprint(len(message))}})
	return nil
}

// finish records the outcome on a context that survives the task's own
// deadline, so a timed-out event is still marked failed.
func (o *Orchestrator) finish(ctx context.Context, key models.NaturalKey, result *Result, runErr error) {
	fctx, cancel := context.WithTimeout(requestcontext.Detach(ctx), finishTimeout)
	defer cancel()

	if runErr == nil {
		if err := o.ledger.MarkCompleted(fctx, key); err != nil {
			o.logger.ErrorContext(ctx, "failed to mark event completed", "lead_id", key.LeadID, "error", err)
			return
		}
		o.metrics.IncOutcome(string(models.StatusCompleted))
		o.logger.InfoContext(ctx, "lead processed",
			"lead_id", key.LeadID,
			"same_person", result.SamePerson,
			"identities", len(result.Identities),
			"stored", result.StoredCount,
			"message_sent", result.MessageSent,
		)
		o.emit(fctx, audit.Event{Action: audit.ActionLeadCompleted, LeadID: key.LeadID})
		return
	}

	reason := FailureReason(runErr)
	if err := o.ledger.MarkFailed(fctx, key, reason); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark event failed", "lead_id", key.LeadID, "error", err)
		return
	}
	o.metrics.IncOutcome(string(models.StatusFailed))
	o.logger.WarnContext(ctx, "lead processing failed", "lead_id", key.LeadID, "reason", reason, "error", runErr)
	o.emit(fctx, audit.Event{Action: audit.ActionLeadFailed, LeadID: key.LeadID, Reason: reason})
}

func (o *Orchestrator) emit(ctx context.Context, event audit.Event) {
	if err := o.auditor.Emit(ctx, event); err != nil {
		o.logger.DebugContext(ctx, "audit event dropped", "action", event.Action, "error", err)
	}
}

func contactFor(c identity.Channel, contacts contact.Contacts) string {
	if c == identity.ChannelEmail {
		return contacts.Email
	}
	return contacts.Phone
}

// FailureReason renders err for the ledger's error column. It never
// includes the wrapped cause chain.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Service + " " + strings.ReplaceAll(string(ue.Category), "_", " ")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "processing timed out"
	}
	return "internal error"
}
