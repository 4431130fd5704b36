// Package contact validates and canonicalizes the phone and email carried by
// a lead before either is used as a lookup key. Rejected values never reach
// the directory.
package contact

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"

	pstrings "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/strings"
)

const (
	defaultRegion  = "BR"
	minPhoneDigits = 8
	minEmailLength = 5
	maxEmailLength = 254
)

// ValidationError explains why a contact value was dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// placeholderRuns are digit runs CRM users type when they have no real
// address, e.g. 1199999999333@gmail.com.
var placeholderRuns = []string{"999999", "111111", "000000", "123456789"}

var emailPattern = regexp.MustCompile(
	"^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$",
)

// ValidatePhone parses raw against the Brazilian numbering plan and returns
// it in E.164 form, e.g. +5511987654321.
func ValidatePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(pstrings.DigitsOnly(trimmed)) < minPhoneDigits {
		return "", &ValidationError{Field: "phone", Reason: "phone too short"}
	}

	num, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return "", &ValidationError{Field: "phone", Reason: "unparseable phone number"}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &ValidationError{Field: "phone", Reason: "invalid Brazilian phone number"}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// ValidateEmail reports whether raw looks like a deliverable address.
func ValidateEmail(raw string) bool {
	_, err := validateEmail(raw)
	return err == nil
}

func validateEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if len(email) < minEmailLength || !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return "", &ValidationError{Field: "email", Reason: "email too short or missing @ or ."}
	}
	if len(email) > maxEmailLength {
		return "", &ValidationError{Field: "email", Reason: "email too long"}
	}
	for _, run := range placeholderRuns {
		if strings.Contains(email, run) {
			return "", &ValidationError{Field: "email", Reason: "placeholder pattern " + run}
		}
	}
	if !emailPattern.MatchString(email) {
		return "", &ValidationError{Field: "email", Reason: "invalid email format"}
	}
	return strings.ToLower(email), nil
}

// Input is the contact data extracted from a lead.
type Input struct {
	RawPhone string
	RawEmail string
}

// Contacts holds canonical values. An empty field means absent.
type Contacts struct {
	Phone string
	Email string
}

// IsEmpty reports whether neither value survived validation.
func (c Contacts) IsEmpty() bool {
	return c.Phone == "" && c.Email == ""
}

// Normalize validates both values. Invalid values become absent; the reasons
// come back for logging. Blank inputs are simply absent, not errors.
func Normalize(in Input) (Contacts, []error) {
	var (
		out  Contacts
		errs []error
	)
	if strings.TrimSpace(in.RawPhone) != "" {
		phone, err := ValidatePhone(in.RawPhone)
		if err != nil {
			errs = append(errs, err)
		}
		out.Phone = phone
	}
	if strings.TrimSpace(in.RawEmail) != "" {
		email, err := validateEmail(in.RawEmail)
		if err != nil {
			errs = append(errs, err)
		}
		out.Email = email
	}
	return out, errs
}
