// Package upstream normalizes failures from the third-party services the
// pipeline calls: the identity directory, the data broker and the CRM.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
)

// Category is the normalized failure taxonomy.
type Category string

const (
	// CategoryTimeout means the service took too long to respond.
	CategoryTimeout Category = "timeout"

	// CategoryBadData means the service returned invalid or malformed data.
	CategoryBadData Category = "bad_data"

	// CategoryAuthentication means credentials were rejected.
	CategoryAuthentication Category = "authentication"

	// CategoryOutage means the service is unreachable or returned 5xx.
	CategoryOutage Category = "provider_outage"

	// CategoryNotFound means the service has no record for the subject.
	CategoryNotFound Category = "not_found"

	// CategoryRateLimited means the service throttled us.
	CategoryRateLimited Category = "rate_limited"

	CategoryInternal Category = "internal"
)

// Service names used in errors and logs.
const (
	ServiceDirectory = "directory"
	ServiceBroker    = "broker"
	ServiceCRM       = "crm"
)

// Error wraps an upstream failure with its category.
type Error struct {
	Category   Category
	Service    string
	Message    string
	StatusCode int
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Service, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Service, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether a later attempt could succeed. The pipeline does
// not retry on its own; callers use this for logging and metrics.
func (e *Error) Retryable() bool {
	return e.Category == CategoryTimeout ||
		e.Category == CategoryOutage ||
		e.Category == CategoryRateLimited
}

// New creates an upstream error.
func New(category Category, service, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Service:    service,
		Message:    message,
		Underlying: underlying,
	}
}

// FromStatus classifies a non-success HTTP status.
func FromStatus(service string, status int, message string) *Error {
	var category Category
	switch {
	case status == http.StatusNotFound:
		category = CategoryNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		category = CategoryAuthentication
	case status == http.StatusTooManyRequests:
		category = CategoryRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		category = CategoryTimeout
	case status >= 500:
		category = CategoryOutage
	default:
		category = CategoryBadData
	}
	return &Error{
		Category:   category,
		Service:    service,
		Message:    fmt.Sprintf("%s (status %d)", message, status),
		StatusCode: status,
	}
}

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(service string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(CategoryTimeout, service, "request timed out", err)
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return New(CategoryTimeout, service, "request timed out", err)
	}
	return New(CategoryOutage, service, "request failed", err)
}

// CategoryOf extracts the category from an error chain.
func CategoryOf(err error) Category {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Category
	}
	return CategoryInternal
}

// IsNotFound reports whether err is an upstream not-found.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// ToDomain maps an upstream error onto the domain error taxonomy. Not-found
// stays distinguishable from service failures; errors that are not upstream
// errors pass through unchanged.
func ToDomain(err error, notFoundMsg string) error {
	var ue *Error
	if !errors.As(err, &ue) {
		return err
	}
	switch ue.Category {
	case CategoryNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFoundMsg)
	case CategoryTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, ue.Service+" timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeExternalService, ue.Service+" unavailable")
	}
}
