package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/middleware"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/httputil"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

// WebhookPath is where the CRM delivers lead events.
const WebhookPath = "/api/v1/webhooks/c2s"

const healthTimeout = 2 * time.Second

// Service records webhook batches in the ledger.
type Service interface {
	Ingest(ctx context.Context, batch models.RawBatch) (*models.IngestResult, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves the webhook and health endpoints.
type Handler struct {
	service   Service
	logger    *slog.Logger
	verifier  middleware.SecretVerifier
	maxBody   int64
	rateLimit func(http.Handler) http.Handler
	auditor   audit.Emitter
	checks    map[string]HealthCheck
}

type Option func(*Handler)

// WithSecret requires X-Webhook-Token to verify against v.
func WithSecret(v middleware.SecretVerifier) Option {
	return func(h *Handler) { h.verifier = v }
}

func WithMaxBody(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithRateLimit installs the per-IP limiter in front of the webhook.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.rateLimit = mw }
}

func WithAuditor(a audit.Emitter) Option {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

// WithHealthCheck adds a named dependency to GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
		maxBody: 5 << 20,
		auditor: audit.Nop{},
		checks:  make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes. The router is expected to already run the
// request id, client metadata and request time middleware.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rateLimit != nil {
			r.Use(h.rateLimit)
		}
		r.Use(middleware.LimitBody(h.maxBody))
		r.Use(middleware.RequireWebhookSecret(h.verifier, h.logger, h.onDenied))
		r.Post(WebhookPath, h.handleWebhook)
	})
	r.Get("/health", h.handleHealth)
}

type webhookResponse struct {
	Status string `json:"status"`
	*models.IngestResult
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "request body too large"))
			return
		}
		h.logger.WarnContext(ctx, "failed to read webhook body", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read request body"))
		return
	}

	batch, err := models.DecodeBatch(body)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid webhook body", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
		return
	}

	result, err := h.service.Ingest(ctx, batch)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to ingest webhook batch", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "webhook batch received",
		"request_id", requestID,
		"kind", batch.Kind,
		"received", result.Received,
		"processed", result.Processed,
		"duplicates", result.Duplicates,
		"rejected", result.Rejected,
	)
	httputil.WriteJSON(w, http.StatusOK, webhookResponse{Status: "received", IngestResult: result})
}

func (h *Handler) onDenied(r *http.Request) {
	ctx := r.Context()
	_ = h.auditor.Emit(ctx, audit.Event{
		Action: audit.ActionWebhookDenied,
		Attributes: map[string]string{
			"client_ip": requestcontext.ClientIP(ctx),
			"caller":    requestcontext.Caller(ctx),
		},
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}
