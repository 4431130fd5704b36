package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BatchKind tags how the webhook body was shaped.
type BatchKind string

const (
	BatchSingle BatchKind = "single"
	BatchMany   BatchKind = "many"
)

var (
	ErrEmptyBody    = errors.New("empty request body")
	ErrInvalidShape = errors.New("body must be a JSON object or array")
)

// RawBatch is the webhook body resolved once into a tagged union.
type RawBatch struct {
	Kind   BatchKind
	Events []RawEvent
}

// RawEvent is one webhook element. Raw keeps the original bytes so the
// ledger stores exactly what was delivered. DecodeErr is set when the
// element was valid JSON but not an event object.
type RawEvent struct {
	ID         string        `json:"id"`
	HookAction string        `json:"hook_action"`
	Attributes RawAttributes `json:"attributes"`

	Raw       json.RawMessage `json:"-"`
	DecodeErr error           `json:"-"`
}

type RawAttributes struct {
	UpdatedAt string       `json:"updated_at"`
	Customer  *RawCustomer `json:"customer"`
}

type RawCustomer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// DecodeBatch parses a webhook body. Only a body that is not JSON at all, or
// whose top level is neither an object nor an array, is an error; elements
// that fail to decode are carried with DecodeErr so the rest of the batch
// proceeds.
func DecodeBatch(body []byte) (RawBatch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return RawBatch{}, ErrEmptyBody
	}
	if !json.Valid(trimmed) {
		return RawBatch{}, fmt.Errorf("malformed JSON body")
	}

	switch trimmed[0] {
	case '{':
		return RawBatch{Kind: BatchSingle, Events: []RawEvent{decodeEvent(trimmed)}}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return RawBatch{}, fmt.Errorf("decode batch: %w", err)
		}
		events := make([]RawEvent, 0, len(elems))
		for _, elem := range elems {
			events = append(events, decodeEvent(elem))
		}
		return RawBatch{Kind: BatchMany, Events: events}, nil
	default:
		return RawBatch{}, ErrInvalidShape
	}
}

func decodeEvent(raw json.RawMessage) RawEvent {
	var ev RawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		ev = RawEvent{DecodeErr: fmt.Errorf("decode event: %w", err)}
	}
	ev.Raw = append(json.RawMessage(nil), raw...)
	return ev
}

// Key extracts the natural key. A missing id or missing/unparsable
// updated_at fails only this event.
func (e RawEvent) Key() (NaturalKey, error) {
	if e.DecodeErr != nil {
		return NaturalKey{}, e.DecodeErr
	}
	leadID := strings.TrimSpace(e.ID)
	if leadID == "" {
		return NaturalKey{}, errors.New("missing lead id")
	}
	if strings.TrimSpace(e.Attributes.UpdatedAt) == "" {
		return NaturalKey{}, errors.New("missing updated_at")
	}
	at, err := ParseTimestamp(e.Attributes.UpdatedAt)
	if err != nil {
		return NaturalKey{}, err
	}
	return NaturalKey{LeadID: leadID, OccurredAt: at}, nil
}

var timestampLayouts = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02 15:04:05.999999999 -0700", false},
	{"2006-01-02 15:04:05.999999999", true},
}

// ParseTimestamp accepts RFC3339, a space-separated form with a numeric
// offset, and a naive form assumed to be UTC. The result is UTC truncated to
// microseconds, the precision PostgreSQL stores, so the same instant always
// produces the same key.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.naive {
			t, err = time.ParseInLocation(l.layout, s, time.UTC)
		} else {
			t, err = time.Parse(l.layout, s)
		}
		if err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable updated_at %q", raw)
}
