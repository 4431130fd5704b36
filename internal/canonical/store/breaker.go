package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
)

// BreakerName labels the canonical store breaker in logs and metrics.
const BreakerName = "canonical_store"

// Backend is the store a Breaker guards.
type Backend interface {
	UpsertParty(ctx context.Context, in models.PartyInput, at time.Time) (*models.Party, bool, error)
	UpsertContacts(ctx context.Context, partyID domain.PartyID, contacts []models.ContactRecord, at time.Time) (int, error)
	LinkAddresses(ctx context.Context, partyID domain.PartyID, addresses []models.AddressInput, at time.Time) (int, error)
	SaveSnapshot(ctx context.Context, snapshot models.Snapshot) error
	Ping(ctx context.Context) error
}

// ErrCircuitOpen is returned without touching the backend while the
// breaker is open.
var ErrCircuitOpen = dErrors.New(dErrors.CodeUnavailable, "canonical store circuit open")

// Breaker trips after consecutive write failures and rejects calls until
// the cooldown elapses. One trial call is let through when half-open.
type Breaker struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type BreakerOption func(*Breaker)

func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

func WithBreakerMetrics(m *metrics.Metrics) BreakerOption {
	return func(b *Breaker) { b.metrics = m }
}

func NewBreaker(backend Backend, failures int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if failures <= 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	threshold := uint32(failures)

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A cancelled caller or a rejected row says nothing about the
		// database's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || isDataError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			b.metrics.SetBreakerState(name, stateValue(to))
		},
	})
	b.metrics.SetBreakerState(BreakerName, 0)
	return b
}

var dataErrorCodes = []dErrors.Code{
	dErrors.CodeValidation,
	dErrors.CodeInvalidInput,
	dErrors.CodeInvariantViolation,
	dErrors.CodeConflict,
}

func isDataError(err error) bool {
	for _, code := range dataErrorCodes {
		if dErrors.HasCode(err, code) {
			return true
		}
	}
	return false
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Ready reports ErrCircuitOpen while the breaker is open, so callers can
// skip the broker call for a write that would be rejected anyway.
func (b *Breaker) Ready() error {
	if b.cb.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) UpsertParty(ctx context.Context, in models.PartyInput, at time.Time) (*models.Party, bool, error) {
	type upserted struct {
		party   *models.Party
		created bool
	}
	res, err := execute(b, func() (upserted, error) {
		p, created, err := b.backend.UpsertParty(ctx, in, at)
		return upserted{party: p, created: created}, err
	})
	return res.party, res.created, err
}

func (b *Breaker) UpsertContacts(ctx context.Context, partyID domain.PartyID, contacts []models.ContactRecord, at time.Time) (int, error) {
	return execute(b, func() (int, error) {
		return b.backend.UpsertContacts(ctx, partyID, contacts, at)
	})
}

func (b *Breaker) LinkAddresses(ctx context.Context, partyID domain.PartyID, addresses []models.AddressInput, at time.Time) (int, error) {
	return execute(b, func() (int, error) {
		return b.backend.LinkAddresses(ctx, partyID, addresses, at)
	})
}

func (b *Breaker) SaveSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	_, err := execute(b, func() (struct{}, error) {
		return struct{}{}, b.backend.SaveSnapshot(ctx, snapshot)
	})
	return err
}

// Ping bypasses the breaker so health checks see the real backend.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.backend.Ping(ctx)
}

// execute runs fn through the breaker. Partial results from fn are kept
// even when it fails.
func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	_, err := b.cb.Execute(func() (interface{}, error) {
		var err error
		out, err = fn()
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrCircuitOpen
	}
	return out, err
}
