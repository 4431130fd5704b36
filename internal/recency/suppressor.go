// Package recency suppresses repeat enrichment of the same national id
// inside a cooldown window.
package recency

import (
	"context"
	"log/slog"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

const DefaultCooldown = 60 * time.Second

// Store remembers the last successful enrichment per national id.
type Store interface {
	LastEnriched(ctx context.Context, id domain.NationalID) (time.Time, bool, error)
	Record(ctx context.Context, id domain.NationalID, at time.Time) error
}

// Decision is the outcome of Check. Since is the age of the last
// enrichment when Suppressed is true.
type Decision struct {
	Suppressed bool
	Since      time.Duration
}

type Suppressor struct {
	store    Store
	cooldown time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Suppressor)

func WithCooldown(d time.Duration) Option {
	return func(s *Suppressor) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Suppressor) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Suppressor) { s.metrics = m }
}

func New(store Store, opts ...Option) *Suppressor {
	s := &Suppressor{
		store:    store,
		cooldown: DefaultCooldown,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether id was enriched within the cooldown. A failing
// store never blocks enrichment.
func (s *Suppressor) Check(ctx context.Context, id domain.NationalID) Decision {
	last, ok, err := s.store.LastEnriched(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "recency lookup failed, not suppressing",
			"national_id", id.Masked(),
			"error", err,
		)
		return Decision{}
	}
	if !ok {
		return Decision{}
	}
	since := requestcontext.Now(ctx).Sub(last)
	if since < 0 {
		since = 0
	}
	if since >= s.cooldown {
		return Decision{}
	}
	s.metrics.IncSuppressed()
	return Decision{Suppressed: true, Since: since}
}

// Record marks id as enriched now. Call it only after a successful
// enrichment; failures are logged and swallowed.
func (s *Suppressor) Record(ctx context.Context, id domain.NationalID) {
	if err := s.store.Record(ctx, id, requestcontext.Now(ctx)); err != nil {
		s.logger.WarnContext(ctx, "recency record failed",
			"national_id", id.Masked(),
			"error", err,
		)
	}
}

func (s *Suppressor) Cooldown() time.Duration { return s.cooldown }
