// Package directory is the HTTP client for the Diretrix identity directory,
// which maps a phone number or email address to a national id.
package directory

import (
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
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/sentinel"
	pstrings "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/strings"
)

const maxResponseBytes = 1 << 20

// Client queries the directory with basic auth.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL, user, password string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		http:     &http.Client{Timeout: timeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LookupByPhone resolves an E.164 phone. The directory expects the national
// number, so the +55 country code is stripped.
func (c *Client) LookupByPhone(ctx context.Context, e164 string) (domain.NationalID, error) {
	digits := pstrings.DigitsOnly(e164)
	if strings.HasPrefix(digits, "55") && len(digits) > 2 {
		digits = digits[2:]
	}
	return c.lookup(ctx, "/Consultas/Pessoa/Telefone/"+url.PathEscape(digits))
}

// LookupByEmail resolves an email address.
func (c *Client) LookupByEmail(ctx context.Context, email string) (domain.NationalID, error) {
	return c.lookup(ctx, "/Consultas/Pessoa/Email/"+url.PathEscape(email))
}

func (c *Client) lookup(ctx context.Context, path string) (domain.NationalID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.NationalID{}, upstream.New(upstream.CategoryInternal, upstream.ServiceDirectory, "build request", err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NationalID{}, upstream.FromTransport(upstream.ServiceDirectory, err)
	}
	defer resp.Body.Close()
	c.logger.DebugContext(ctx, "directory lookup", "endpoint", strings.Split(strings.TrimPrefix(path, "/Consultas/Pessoa/"), "/")[0], "status", resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.NationalID{}, upstream.FromTransport(upstream.ServiceDirectory, err)
	}
	return parseSearchResponse(resp.StatusCode, body)
}

type searchResult struct {
	CPF  string `json:"cpf"`
	Nome string `json:"nome"`
}

// parseSearchResponse takes the first match. An empty list or a 404 is an
// absent identity, reported as sentinel.ErrNotFound.
func parseSearchResponse(status int, body []byte) (domain.NationalID, error) {
	if status == http.StatusNotFound {
		return domain.NationalID{}, sentinel.ErrNotFound
	}
	if status < 200 || status > 299 {
		return domain.NationalID{}, upstream.FromStatus(upstream.ServiceDirectory, status, "directory returned error")
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return domain.NationalID{}, upstream.New(upstream.CategoryBadData, upstream.ServiceDirectory, "malformed search response", err)
	}
	if len(results) == 0 || strings.TrimSpace(results[0].CPF) == "" {
		return domain.NationalID{}, sentinel.ErrNotFound
	}

	nid, err := domain.ParseNationalID(results[0].CPF)
	if err != nil {
		return domain.NationalID{}, upstream.New(upstream.CategoryBadData, upstream.ServiceDirectory,
			fmt.Sprintf("directory returned invalid national id (%d chars)", len(results[0].CPF)), err)
	}
	return nid, nil
}
