// Package models holds the canonical party record and its satellites:
// contacts, address links and the enrichment snapshot.
package models

import (
	"encoding/json"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
)

type PartyKind string

const (
	PartyKindPerson  PartyKind = "person"
	PartyKindCompany PartyKind = "company"
)

// KindFor derives the party kind from the national id length.
func KindFor(id domain.NationalID) PartyKind {
	if id.IsCompany() {
		return PartyKindCompany
	}
	return PartyKindPerson
}

// Party is the golden record for one national id. national_id is not
// unique; historical duplicates resolve to the most recently updated row.
type Party struct {
	ID             domain.PartyID
	Kind           PartyKind
	NationalID     domain.NationalID
	FullName       *string
	NormalizedName *string
	BirthDate      *time.Time
	Sex            *string
	MotherName     *string
	FatherName     *string
	Enriched       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName is the full name or empty.
func (p *Party) DisplayName() string {
	if p.FullName == nil {
		return ""
	}
	return *p.FullName
}

// PartyInput carries the mapped fields. Nil means the payload had no
// value; an upsert never writes nil over a stored value.
type PartyInput struct {
	NationalID     domain.NationalID
	Kind           PartyKind
	FullName       *string
	NormalizedName *string
	BirthDate      *time.Time
	Sex            *string
	MotherName     *string
	FatherName     *string
}

// MergeInto fills the null fields of p from in and reports whether any
// field changed.
func (in PartyInput) MergeInto(p *Party) bool {
	changed := false
	fillString := func(dst **string, src *string) {
		if *dst == nil && src != nil {
			v := *src
			*dst = &v
			changed = true
		}
	}
	fillString(&p.FullName, in.FullName)
	fillString(&p.NormalizedName, in.NormalizedName)
	fillString(&p.Sex, in.Sex)
	fillString(&p.MotherName, in.MotherName)
	fillString(&p.FatherName, in.FatherName)
	if p.BirthDate == nil && in.BirthDate != nil {
		v := *in.BirthDate
		p.BirthDate = &v
		changed = true
	}
	return changed
}

type ContactKind string

const (
	ContactKindEmail    ContactKind = "email"
	ContactKindPhone    ContactKind = "phone"
	ContactKindWhatsApp ContactKind = "whatsapp"
)

// ContactRecord is unique per (party, kind, value).
type ContactRecord struct {
	PartyID    domain.PartyID
	Kind       ContactKind
	Value      string
	Primary    bool
	Verified   bool
	Confidence domain.Confidence
	Source     string
}

type Address struct {
	Street       string
	Number       string
	Complement   string
	Neighborhood string
	City         string
	State        string
	PostalCode   string
}

// IsEmpty reports whether there is nothing to locate the address by.
func (a Address) IsEmpty() bool {
	return a.Street == "" && a.PostalCode == ""
}

type Relationship string

const (
	RelationshipNone    Relationship = ""
	RelationshipSpousal Relationship = "spousal"
	RelationshipParent  Relationship = "parent"
	RelationshipOther   Relationship = "other"
)

// AddressInput links an address to a party. Confidence comes from the
// address's position in the payload and its relationship tag.
type AddressInput struct {
	Address      Address
	Relationship Relationship
	Confidence   domain.Confidence
	Primary      bool
}

// Financial holds the economic block of the payload. Income already has
// the reporting multiplier applied.
type Financial struct {
	Income      *float64
	CreditScore *int
	RiskLabel   string
	RiskScore   *float64
}

// Snapshot is one-to-one with a party. Re-enrichment replaces the
// payload; QualityScore only ever grows.
type Snapshot struct {
	PartyID      domain.PartyID
	Provider     string
	Payload      json.RawMessage
	QualityScore float64
	Financial    Financial
	EnrichedAt   time.Time
}

// Profile is the mapper's output for one broker payload.
type Profile struct {
	Party        PartyInput
	Contacts     []ContactRecord
	Addresses    []AddressInput
	Financial    Financial
	QualityScore float64
}

// PersistResult reports what a Writer managed to store. Partial is set when
// the party was written but a later step failed.
type PersistResult struct {
	Party            *Party
	Created          bool
	ContactsInserted int
	AddressesLinked  int
	SnapshotSaved    bool
	Partial          bool
	Failures         []string
}
