// Package crm delivers enrichment notes to the CRM, either through the
// message gateway or straight to the CRM integration API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/upstream"
)

const maxErrorBody = 4 << 10

// Mode names how messages leave the service.
type Mode string

const (
	ModeGateway Mode = "gateway"
	ModeDirect  Mode = "direct"
)

type Client struct {
	mode    Mode
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New picks gateway mode when gatewayURL is set, otherwise direct mode
// against baseURL with token.
func New(baseURL, token, gatewayURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		mode:    ModeDirect,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	if gatewayURL != "" {
		c.mode = ModeGateway
		c.baseURL = strings.TrimRight(gatewayURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Mode() Mode { return c.mode }

type gatewayMessage struct {
	Message string `json:"message"`
}

type directMessage struct {
	LeadID string `json:"lead_id"`
	Body   string `json:"body"`
}

// SendMessage posts text as a note on the lead. The gateway accepts any
// 2xx; the CRM API answers 201 Created and anything else is a failure.
func (c *Client) SendMessage(ctx context.Context, leadID, text string) error {
	var (
		endpoint string
		payload  any
	)
	escaped := url.PathEscape(leadID)
	if c.mode == ModeGateway {
		endpoint = c.baseURL + "/leads/" + escaped + "/messages"
		payload = gatewayMessage{Message: text}
	} else {
		endpoint = c.baseURL + "/integration/leads/" + escaped + "/create_message"
		payload = directMessage{LeadID: leadID, Body: text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return upstream.New(upstream.CategoryInternal, upstream.ServiceCRM, "encode message", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return upstream.New(upstream.CategoryInternal, upstream.ServiceCRM, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.mode == ModeDirect {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return upstream.FromTransport(upstream.ServiceCRM, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "crm message sent",
		"lead_id", leadID,
		"mode", c.mode,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"length", len(text),
	)

	if c.accepted(resp.StatusCode) {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.WarnContext(ctx, "crm rejected message",
		"lead_id", leadID,
		"status", resp.StatusCode,
		"body", string(snippet),
	)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return upstream.New(upstream.CategoryBadData, upstream.ServiceCRM,
			fmt.Sprintf("unexpected status %d (expected 201)", resp.StatusCode), nil)
	}
	return upstream.FromStatus(upstream.ServiceCRM, resp.StatusCode, "crm rejected message")
}

func (c *Client) accepted(status int) bool {
	if c.mode == ModeGateway {
		return status >= 200 && status < 300
	}
	return status == http.StatusCreated
}
