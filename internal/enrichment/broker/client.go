// Package broker is the HTTP client for the Work API data broker, which
// returns the full profile behind a national id.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/metrics"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/upstream"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
)

const (
	maxResponseBytes = 8 << 20
	redacted         = "[REDACTED]"

	// Module is the broker query that returns every section at the root of
	// the payload.
	Module = "cpf"
)

// Client calls GET {base}/api?token=..&modulo=cpf&consulta={id}. Outbound
// requests share one token bucket.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound requests per second. A non-positive rate
// removes the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the raw broker payload for id. An unknown id is an
// upstream not_found error.
func (c *Client) Fetch(ctx context.Context, id domain.NationalID) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.IncBrokerCall("rate_wait")
		return nil, upstream.New(upstream.CategoryTimeout, upstream.ServiceBroker, "waiting for outbound rate limit", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(id, c.token), nil)
	if err != nil {
		return nil, upstream.New(upstream.CategoryInternal, upstream.ServiceBroker, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncBrokerCall("transport_error")
		return nil, upstream.FromTransport(upstream.ServiceBroker, c.redactError(err))
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "broker request",
		"url", c.requestURL(id, redacted),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.IncBrokerCall("transport_error")
		return nil, upstream.FromTransport(upstream.ServiceBroker, err)
	}

	payload, err := parseResponse(resp.StatusCode, body)
	c.metrics.IncBrokerCall(resultLabel(err))
	return payload, err
}

func (c *Client) requestURL(id domain.NationalID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("modulo", Module)
	q.Set("consulta", id.String())
	return c.baseURL + "/api?" + q.Encode()
}

// redactError strips the token from *url.Error, which embeds the full
// request URL in its message.
func (c *Client) redactError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && c.token != "" {
		uerr.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(c.token), redacted)
	}
	return err
}

// parseResponse accepts a 2xx JSON object that carries DadosBasicos.
func parseResponse(status int, body []byte) (json.RawMessage, error) {
	if status == http.StatusNotFound {
		return nil, upstream.New(upstream.CategoryNotFound, upstream.ServiceBroker, "no record for national id", nil)
	}
	if status < 200 || status > 299 {
		return nil, upstream.FromStatus(upstream.ServiceBroker, status, "broker returned error")
	}

	body = bytes.TrimSpace(body)
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(body, &sections); err != nil {
		return nil, upstream.New(upstream.CategoryBadData, upstream.ServiceBroker, "malformed broker payload", err)
	}
	if len(sections) == 0 {
		return nil, upstream.New(upstream.CategoryNotFound, upstream.ServiceBroker, "empty broker payload", nil)
	}
	basic, ok := sections["DadosBasicos"]
	if !ok || isNull(basic) {
		return nil, upstream.New(upstream.CategoryNotFound, upstream.ServiceBroker, "broker payload has no DadosBasicos", nil)
	}
	return json.RawMessage(body), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(upstream.CategoryOf(err))
}
