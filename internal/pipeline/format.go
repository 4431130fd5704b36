package pipeline

import (
	"fmt"
	"strings"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/canonical/mapper"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/identity"
)

const (
	samePersonHeader      = "📞📧 Telefone e e-mail da mesma pessoa\n\n"
	differentPeopleHeader = "⚠️ Telefone e e-mail relacionados a PESSOAS DIFERENTES!\n\n"

	maxEmails    = 3
	maxPhones    = 3
	maxAddresses = 2
	maxCompanies = 3
)

// Section is one person in the CRM message. A section without a payload
// carries a Note saying why the person was not enriched this time.
type Section struct {
	Channel identity.Channel
	// Contact is the lead value the identity was resolved from.
	Contact string
	Payload *mapper.Payload
	Note    string
}

// One-line statuses for a person listed without a profile.
const suppressedNote = "ℹ️ Enriquecido recentemente, dados na nota anterior\n"

func failedNote(reason string) string {
	return fmt.Sprintf("❌ Não foi possível enriquecer (%s)\n", reason)
}

// FormatMessage builds the CRM note. Different people get numbered
// sections labelled with the contact that found them, so the agent never
// reads two profiles as one. Each of them gets a section even when only
// one was enriched. Outside that case, sections without a payload are
// skipped.
func FormatMessage(samePerson, differentPeople bool, sections []Section) string {
	var b strings.Builder
	switch {
	case samePerson && len(sections) > 0:
		b.WriteString(samePersonHeader)
		if first := enriched(sections); len(first) > 0 {
			b.WriteString(FormatProfile(first[0].Payload))
		}
	case differentPeople:
		b.WriteString(differentPeopleHeader)
		for i, s := range sections {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "═══ PESSOA %d (%s: %s) ═══\n", i+1, channelLabel(s.Channel), s.Contact)
			if s.Payload == nil {
				b.WriteString(s.Note)
				continue
			}
			b.WriteString(FormatProfile(s.Payload))
		}
	default:
		for i, s := range enriched(sections) {
			if i > 0 {
				b.WriteString("\n---\n\n")
			}
			b.WriteString(FormatProfile(s.Payload))
		}
	}
	return b.String()
}

func enriched(sections []Section) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s.Payload != nil {
			out = append(out, s)
		}
	}
	return out
}

func channelLabel(c identity.Channel) string {
	if c == identity.ChannelEmail {
		return "Email"
	}
	return "Telefone"
}

// FormatProfile renders one broker payload. Income figures are scaled by
// mapper.IncomeMultiplier.
func FormatProfile(p *mapper.Payload) string {
	var b strings.Builder
	b.WriteString("✅ DADOS PESSOAIS\n")
	if p == nil {
		return b.String()
	}

	if d := p.DadosBasicos; d != nil {
		line(&b, "Nome", d.Nome)
		line(&b, "CPF", d.CPF)
		line(&b, "Data Nascimento", d.DataNascimento)
		line(&b, "Sexo", d.Sexo)
		line(&b, "Mãe", d.NomeMae)
	}

	if e := p.DadosEconomicos; e != nil {
		b.WriteString("\n💰 DADOS FINANCEIROS\n")
		if renda := e.Renda.String(); renda != "" {
			if v, ok := mapper.AdjustedIncome(renda); ok {
				fmt.Fprintf(&b, "Renda: R$ %.2f\n", v)
			} else {
				fmt.Fprintf(&b, "Renda: R$ %s\n", renda)
			}
		}
		if pa := e.PoderAquisitivo; pa != nil {
			line(&b, "Poder Aquisitivo", pa.Descricao)
			if faixa := pa.Faixa.String(); faixa != "" {
				fmt.Fprintf(&b, "Faixa de Renda: %s\n", mapper.ScaleCurrencyRange(faixa))
			}
		}
		if s := e.Score; s != nil {
			line(&b, "Score de Crédito", s.CSBA)
			line(&b, "Risco", s.CSBAFaixaRisco)
		}
	}

	if len(p.Emails) > 0 {
		b.WriteString("\n📧 EMAILS\n")
		for i, e := range first(p.Emails, maxEmails) {
			if e.Email == "" {
				continue
			}
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, e.Email, orDefault(e.Prioridade, "N/A"))
		}
	}

	if len(p.Telefones) > 0 {
		b.WriteString("\n📱 TELEFONES\n")
		for i, ph := range first(p.Telefones, maxPhones) {
			if ph.Telefone == "" {
				continue
			}
			entry := fmt.Sprintf("%d. %s - %s", i+1, ph.Telefone, orDefault(ph.Tipo, "N/A"))
			if ph.WhatsApp == "SIM" {
				entry += " ✅"
			}
			b.WriteString(entry + "\n")
		}
	}

	if len(p.Enderecos) > 0 {
		b.WriteString("\n🏠 ENDEREÇOS\n")
		for i, a := range first(p.Enderecos, maxAddresses) {
			fmt.Fprintf(&b, "%d. %s %s, %s - %s/%s - CEP: %s\n",
				i+1, a.Logradouro, a.LogradouroNumero, a.Bairro, a.Cidade, a.UF, a.CEP)
		}
	}

	if len(p.Empresas) > 0 {
		b.WriteString("\n🏢 EMPRESAS\n")
		for i, c := range first(p.Empresas, maxCompanies) {
			fmt.Fprintf(&b, "%d. CNPJ: %s - %s\n", i+1, c.CNPJ, orDefault(c.Relacao, "SOCIO"))
		}
	}

	return b.String()
}

func line(b *strings.Builder, label string, v mapper.Text) {
	if v != "" {
		fmt.Fprintf(b, "%s: %s\n", label, v)
	}
}

func orDefault(v mapper.Text, def string) string {
	if v == "" {
		return def
	}
	return v.String()
}

func first[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
