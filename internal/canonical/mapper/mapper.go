// Package mapper turns a broker payload into canonical records: the party
// fields, contacts with confidence, address links and a quality score.
package mapper

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/models"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/contact"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
	pstrings "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/strings"
)

const (
	// Source tags every contact written from a broker payload.
	Source = "work_api"

	birthDateLayout = "02/01/2006"
	noInformation   = "SEM INFORMAÇÃO"

	primaryContactConfidence = 0.9
	otherContactConfidence   = 0.7
	verifiedBonus            = 0.1

	qualitySignals = 8
)

// Map parses raw and derives the canonical profile for id.
func Map(id domain.NationalID, raw []byte) (*models.Profile, error) {
	p, err := Parse(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed broker payload")
	}
	return FromPayload(id, p), nil
}

// FromPayload maps an already parsed payload.
func FromPayload(id domain.NationalID, p *Payload) *models.Profile {
	profile := &models.Profile{
		Party: models.PartyInput{
			NationalID: id,
			Kind:       models.KindFor(id),
		},
	}
	if b := p.DadosBasicos; b != nil {
		mapBasic(&profile.Party, b)
	}
	if e := p.DadosEconomicos; e != nil {
		profile.Financial = mapFinancial(e)
	}
	profile.Contacts = append(mapEmails(p.Emails), mapPhones(p.Telefones)...)
	profile.Addresses = mapAddresses(p.Enderecos)
	profile.QualityScore = QualityScore(profile)
	return profile
}

func mapBasic(party *models.PartyInput, b *BasicData) {
	if name := strings.Join(strings.Fields(b.Nome.String()), " "); name != "" {
		party.FullName = &name
		normalized := NormalizeName(name)
		party.NormalizedName = &normalized
	}
	if d, err := time.Parse(birthDateLayout, b.DataNascimento.String()); err == nil {
		party.BirthDate = &d
	}
	if sex := b.Sexo.String(); sex != "" {
		letter := strings.ToUpper(string([]rune(sex)[0]))
		party.Sex = &letter
	}
	party.MotherName = b.NomeMae.Ptr()
	if pai := b.NomePai.String(); pai != "" && !strings.EqualFold(pai, noInformation) {
		party.FatherName = &pai
	}
}

func mapFinancial(e *EconomicData) models.Financial {
	var f models.Financial
	if income, ok := AdjustedIncome(e.Renda.String()); ok {
		f.Income = &income
	}
	if e.Score != nil {
		if score, ok := ParseAmount(e.Score.CSBA.String()); ok {
			v := int(score)
			f.CreditScore = &v
		}
		f.RiskLabel = e.Score.CSBAFaixaRisco.String()
		if risk, ok := RiskScore(f.RiskLabel); ok {
			f.RiskScore = &risk
		}
	}
	return f
}

func contactConfidence(primary, verified bool) domain.Confidence {
	base := domain.ConfidenceSecond
	if primary {
		base = domain.ConfidenceHigh
	}
	if verified {
		return base.Plus(verifiedBonus)
	}
	return base
}

func mapEmails(emails []Email) []models.ContactRecord {
	var out []models.ContactRecord
	seen := map[string]bool{}
	for _, e := range emails {
		value := pstrings.TrimLower(e.Email.String())
		if value == "" || seen[value] || !contact.ValidateEmail(value) {
			continue
		}
		seen[value] = true
		primary := len(out) == 0
		verified := strings.EqualFold(e.Qualidade.String(), "BOM")
		out = append(out, models.ContactRecord{
			Kind:       models.ContactKindEmail,
			Value:      value,
			Primary:    primary,
			Verified:   verified,
			Confidence: contactConfidence(primary, verified),
			Source:     Source,
		})
	}
	return out
}

func mapPhones(phones []Phone) []models.ContactRecord {
	var out []models.ContactRecord
	seen := map[string]bool{}
	primaryTaken := false
	whatsappTaken := false
	for _, ph := range phones {
		value := pstrings.DigitsOnly(ph.Telefone.String())
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true

		primary := !primaryTaken
		primaryTaken = true
		out = append(out, models.ContactRecord{
			Kind:       models.ContactKindPhone,
			Value:      value,
			Primary:    primary,
			Confidence: contactConfidence(primary, false),
			Source:     Source,
		})
		if strings.EqualFold(ph.WhatsApp.String(), "SIM") {
			wPrimary := !whatsappTaken
			whatsappTaken = true
			out = append(out, models.ContactRecord{
				Kind:       models.ContactKindWhatsApp,
				Value:      value,
				Primary:    wPrimary,
				Confidence: contactConfidence(wPrimary, false),
				Source:     Source,
			})
		}
	}
	return out
}

func mapAddresses(addrs []Address) []models.AddressInput {
	var out []models.AddressInput
	for _, a := range addrs {
		addr := models.Address{
			Street:       joinStreet(a.TipoLogradouro.String(), a.Logradouro.String()),
			Number:       a.LogradouroNumero.String(),
			Complement:   a.Complemento.String(),
			Neighborhood: a.Bairro.String(),
			City:         a.Cidade.String(),
			State:        strings.ToUpper(a.UF.String()),
			PostalCode:   pstrings.DigitsOnly(a.CEP.String()),
		}
		if addr.IsEmpty() {
			continue
		}
		tag := a.Relacionamento.String()
		if tag == "" {
			tag = a.Vinculo.String()
		}
		rel := ClassifyRelationship(tag)
		first := len(out) == 0
		out = append(out, models.AddressInput{
			Address:      addr,
			Relationship: rel,
			Confidence:   AddressConfidence(first, rel),
			Primary:      first,
		})
	}
	return out
}

func joinStreet(kind, street string) string {
	if kind == "" || street == "" || strings.HasPrefix(strings.ToUpper(street), strings.ToUpper(kind)+" ") {
		return street
	}
	return kind + " " + street
}

var (
	spousalTags = []string{"CONJUGE", "ESPOSA", "ESPOSO", "MARIDO", "COMPANHEIR"}
	parentTags  = []string{"MAE", "PAI", "GENITOR"}
	selfTags    = []string{"TITULAR", "PROPRIO", "PROPRIA"}
)

// ClassifyRelationship buckets a free-text relationship tag.
func ClassifyRelationship(tag string) models.Relationship {
	t := strings.ToUpper(foldAccents(strings.TrimSpace(tag)))
	if t == "" {
		return models.RelationshipNone
	}
	for _, s := range selfTags {
		if strings.Contains(t, s) {
			return models.RelationshipNone
		}
	}
	for _, s := range spousalTags {
		if strings.Contains(t, s) {
			return models.RelationshipSpousal
		}
	}
	for _, s := range parentTags {
		if t == s || strings.HasPrefix(t, s+" ") || strings.HasPrefix(t, s+"/") {
			return models.RelationshipParent
		}
	}
	return models.RelationshipOther
}

// AddressConfidence scores an address by position and relationship.
func AddressConfidence(first bool, rel models.Relationship) domain.Confidence {
	switch rel {
	case models.RelationshipParent:
		return domain.ConfidenceLowest
	case models.RelationshipSpousal, models.RelationshipOther:
		return domain.ConfidenceLow
	}
	if first {
		return domain.ConfidenceHigh
	}
	return domain.ConfidenceMedium
}

// QualityScore is the fraction of the eight completeness signals present.
func QualityScore(p *models.Profile) float64 {
	var hasEmail, hasPhone bool
	for _, c := range p.Contacts {
		switch c.Kind {
		case models.ContactKindEmail:
			hasEmail = true
		case models.ContactKindPhone:
			hasPhone = true
		}
	}
	signals := []bool{
		p.Party.FullName != nil,
		p.Party.BirthDate != nil,
		p.Party.Sex != nil,
		p.Party.MotherName != nil,
		hasEmail,
		hasPhone,
		len(p.Addresses) > 0,
		p.Financial.RiskScore != nil,
	}
	present := 0
	for _, s := range signals {
		if s {
			present++
		}
	}
	return float64(present) / qualitySignals
}

// NormalizeName lowercases, strips accents and collapses whitespace.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(foldAccents(name)), " "))
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
