package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/requestcontext"
)

const keyPrefix = "broker:"

// Key is the cache key for one broker operation on one subject.
func Key(op, id string) string {
	return keyPrefix + op + ":" + id
}

// IntegrityCache wraps a Store with checksummed entries. Reads never fail:
// store errors and checksum mismatches are both misses, and a mismatched
// entry is deleted so the next read goes to the broker.
type IntegrityCache struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Emitter
}

type IntegrityOption func(*IntegrityCache)

func WithLogger(logger *slog.Logger) IntegrityOption {
	return func(c *IntegrityCache) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) IntegrityOption {
	return func(c *IntegrityCache) { c.metrics = m }
}

func WithAuditor(a audit.Emitter) IntegrityOption {
	return func(c *IntegrityCache) { c.auditor = a }
}

func NewIntegrityCache(store Store, ttl time.Duration, opts ...IntegrityOption) *IntegrityCache {
	c := &IntegrityCache{
		store:   store,
		ttl:     ttl,
		logger:  slog.Default(),
		auditor: audit.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached data for (op, subject). subject is the raw key
// component; maskedSubject is what goes into logs and audit.
func (c *IntegrityCache) Get(ctx context.Context, op, subject, maskedSubject string) ([]byte, bool) {
	raw, ok, err := c.store.Get(ctx, Key(op, subject))
	if err != nil {
		c.logger.WarnContext(ctx, "cache read failed", "op", op, "subject", maskedSubject, "error", err)
		c.metrics.IncCacheMiss()
		return nil, false
	}
	if !ok {
		c.metrics.IncCacheMiss()
		return nil, false
	}

	data, valid := Decode(raw)
	if !valid {
		c.metrics.IncCacheIntegrityFailure()
		c.metrics.IncCacheMiss()
		c.logger.WarnContext(ctx, "potential cache poisoning: checksum mismatch",
			"op", op,
			"subject", maskedSubject,
			"stored_bytes", len(raw),
		)
		if err := c.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionCacheIntegrityFailed,
			Subject:   maskedSubject,
			Reason:    "checksum mismatch",
			RequestID: requestcontext.RequestID(ctx),
			Attributes: map[string]string{
				"op": op,
			},
		}); err != nil {
			c.logger.WarnContext(ctx, "audit emit failed", "error", err)
		}
		if err := c.store.Delete(ctx, Key(op, subject)); err != nil {
			c.logger.WarnContext(ctx, "evicting poisoned entry failed", "op", op, "subject", maskedSubject, "error", err)
		}
		return nil, false
	}
	c.metrics.IncCacheHit()
	return data, true
}

// Put stores data under a freshly computed checksum.
func (c *IntegrityCache) Put(ctx context.Context, op, subject string, data []byte) error {
	raw, err := NewEntry(data).Encode()
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(op, subject), raw, c.ttl)
}
