// Package middleware enforces the per-IP request limit on the webhook surface.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/circuit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/httputil"
	metadata "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/middleware/metadata"
)

// StatusHeader is set to "degraded" while the fallback store answers.
const StatusHeader = "X-RateLimit-Status"

// BucketStore counts requests per key in fixed windows.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// Metrics is the subset of platform metrics the limiter reports to.
type Metrics interface {
	IncRateLimited()
	SetBreakerState(name string, state float64)
}

type Middleware struct {
	primary   BucketStore
	fallback  BucketStore
	breaker   *circuit.Breaker
	limit     int
	window    time.Duration
	logger    *slog.Logger
	metrics   Metrics
	disabled  bool
	onLimited func(r *http.Request, result *models.RateLimitResult)
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback answers from store while the primary keeps failing.
func WithFallback(store BucketStore, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = store
		m.breaker = breaker
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// WithOnLimited registers a hook called for every rejected request.
func WithOnLimited(fn func(r *http.Request, result *models.RateLimitResult)) Option {
	return func(m *Middleware) {
		m.onLimited = fn
	}
}

func New(store BucketStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: store,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit rejects requests from an IP that exceeded the window's limit.
// Store errors fail open.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := metadata.GetClientIP(ctx)

		result, degraded, err := m.check(ctx, models.NewIPRateLimitKey(ip))
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check IP rate limit", "error", err, "ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if degraded {
			w.Header().Set(StatusHeader, "degraded")
		}

		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.IncRateLimited()
			}
			if m.onLimited != nil {
				m.onLimited(r, result)
			}
			writeRateLimitExceeded(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// check consults the primary store and switches to the fallback once the
// breaker opens. The primary is still tried while open so the breaker can
// observe recovery.
func (m *Middleware) check(ctx context.Context, key string) (*models.RateLimitResult, bool, error) {
	result, err := m.primary.Allow(ctx, key, m.limit, m.window)
	if m.breaker == nil || m.fallback == nil {
		return result, false, err
	}

	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback", "error", err)
			m.setBreakerState(2)
		}
		if !useFallback {
			return nil, false, err
		}
		fb, fbErr := m.fallback.Allow(ctx, key, m.limit, m.window)
		return fb, true, fbErr
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.logger.InfoContext(ctx, "rate limit store recovered")
		m.setBreakerState(0)
	}
	if !usePrimary {
		fb, fbErr := m.fallback.Allow(ctx, key, m.limit, m.window)
		return fb, true, fbErr
	}
	return result, false, nil
}

func (m *Middleware) setBreakerState(state float64) {
	if m.metrics != nil {
		m.metrics.SetBreakerState(m.breaker.Name(), state)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
