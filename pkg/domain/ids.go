// Package domain holds identifier and score primitives shared by the ledger,
// resolver, enrichment and canonical store packages.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	pstrings "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/strings"
)

// PartyID identifies a canonical party row.
type PartyID uuid.UUID

// EventID identifies a ledger row. Idempotency is keyed on the natural key,
// not on this ID.
type EventID uuid.UUID

// NewPartyID mints a random party ID.
func NewPartyID() PartyID { return PartyID(uuid.New()) }

// NewEventID mints a random event ID.
func NewEventID() EventID { return EventID(uuid.New()) }

func (id PartyID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero UUID.
func (id PartyID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParsePartyID parses a party ID at a trust boundary.
func ParsePartyID(s string) (PartyID, error) {
	u, err := parseUUID(s, "party ID")
	return PartyID(u), err
}

// ParseEventID parses an event ID at a trust boundary.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event ID")
	return EventID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// NationalID is a Brazilian tax identifier: an 11-digit CPF for people or a
// 14-digit CNPJ for companies. Only digits are kept.
type NationalID struct {
	value string
}

const (
	personIDLength  = 11
	companyIDLength = 14
)

// ParseNationalID strips punctuation ("123.456.789-01") and checks the length.
func ParseNationalID(raw string) (NationalID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return NationalID{}, dErrors.New(dErrors.CodeInvalidInput, "national ID required")
	}
	digits := pstrings.DigitsOnly(trimmed)
	if len(digits) != personIDLength && len(digits) != companyIDLength {
		return NationalID{}, dErrors.New(dErrors.CodeInvalidInput, "national ID must have 11 or 14 digits")
	}
	return NationalID{value: digits}, nil
}

// MustNationalID panics on invalid input. Tests and constants only.
func MustNationalID(raw string) NationalID {
	id, err := ParseNationalID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (n NationalID) String() string { return n.value }

// IsZero reports whether the ID is uninitialized.
func (n NationalID) IsZero() bool { return n.value == "" }

// IsCompany reports whether the ID is a CNPJ.
func (n NationalID) IsCompany() bool { return len(n.value) == companyIDLength }

// Masked is the only form that goes into logs.
func (n NationalID) Masked() string {
	if len(n.value) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(n.value)-4) + n.value[len(n.value)-4:]
}
