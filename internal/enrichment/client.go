// Package enrichment fetches broker profiles through a checksummed
// response cache.
package enrichment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/enrichment/broker"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Broker,Cache

// Broker is the upstream data source.
type Broker interface {
	Fetch(ctx context.Context, id domain.NationalID) (json.RawMessage, error)
}

// Cache is satisfied by cache.IntegrityCache.
type Cache interface {
	Get(ctx context.Context, op, subject, maskedSubject string) ([]byte, bool)
	Put(ctx context.Context, op, subject string, data []byte) error
}

// Result is a broker payload and where it came from.
type Result struct {
	Payload   json.RawMessage
	FromCache bool
}

type Client struct {
	broker  Broker
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(b Broker, cache Cache, opts ...Option) *Client {
	c := &Client{
		broker: b,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch serves from cache when a valid entry exists, otherwise calls the
// broker and caches the answer. A failed cache write does not fail Fetch.
func (c *Client) Fetch(ctx context.Context, id domain.NationalID) (*Result, error) {
	if data, ok := c.cache.Get(ctx, broker.Module, id.String(), id.Masked()); ok {
		c.logger.DebugContext(ctx, "broker cache hit", "national_id", id.Masked())
		return &Result{Payload: json.RawMessage(data), FromCache: true}, nil
	}

	start := time.Now()
	payload, err := c.broker.Fetch(ctx, id)
	c.metrics.ObserveStage("broker_fetch", start)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Put(ctx, broker.Module, id.String(), payload); err != nil {
		c.logger.WarnContext(ctx, "broker cache write failed",
			"national_id", id.Masked(),
			"error", err,
		)
	}
	return &Result{Payload: payload}, nil
}
