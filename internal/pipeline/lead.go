package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/contact"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ledger/models"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
)

// UnknownName stands in for a lead without a customer name.
const UnknownName = "Unknown"

// Lead is the customer data the pipeline reads from a webhook event.
type Lead struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// ContactInput returns the raw values for contact validation.
func (l Lead) ContactInput() contact.Input {
	return contact.Input{RawPhone: l.Phone, RawEmail: l.Email}
}

// ExtractLead reads the customer block of a stored webhook event.
func ExtractLead(event *models.Event) (Lead, error) {
	var raw models.RawEvent
	if err := json.Unmarshal(event.RawPayload, &raw); err != nil {
		return Lead{}, dErrors.Wrap(err, dErrors.CodeValidation, "stored lead payload is not an event object")
	}
	customer := raw.Attributes.Customer
	if customer == nil {
		return Lead{}, dErrors.New(dErrors.CodeValidation, "lead has no customer")
	}

	lead := Lead{
		ID:    event.Key.LeadID,
		Name:  strings.TrimSpace(customer.Name),
		Phone: strings.TrimSpace(customer.Phone),
		Email: strings.TrimSpace(customer.Email),
	}
	if lead.Name == "" {
		lead.Name = UnknownName
	}
	return lead, nil
}
