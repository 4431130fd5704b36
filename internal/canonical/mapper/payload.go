package mapper

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Text decodes a JSON string or number into its textual form. The broker
// is inconsistent about quoting numeric fields.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// Objects and arrays where a scalar was expected are ignored.
		*t = ""
		return nil
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return string(t) }

// Ptr returns nil for an empty value.
func (t Text) Ptr() *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}

// Payload is the subset of the broker response this service reads.
type Payload struct {
	DadosBasicos    *BasicData    `json:"DadosBasicos"`
	DadosEconomicos *EconomicData `json:"DadosEconomicos"`
	Emails          []Email       `json:"emails"`
	Telefones       []Phone       `json:"telefones"`
	Enderecos       []Address     `json:"enderecos"`
	Empresas        []Company     `json:"empresas"`
}

type BasicData struct {
	Nome           Text `json:"nome"`
	CPF            Text `json:"cpf"`
	DataNascimento Text `json:"dataNascimento"`
	Sexo           Text `json:"sexo"`
	NomeMae        Text `json:"nomeMae"`
	NomePai        Text `json:"nomePai"`
}

type EconomicData struct {
	Renda           Text             `json:"renda"`
	PoderAquisitivo *PurchasingPower `json:"poderAquisitivo"`
	Score           *Score           `json:"score"`
}

type PurchasingPower struct {
	Descricao Text `json:"poderAquisitivoDescricao"`
	Faixa     Text `json:"faixaPoderAquisitivo"`
}

type Score struct {
	CSBA           Text `json:"scoreCSBA"`
	CSBAFaixaRisco Text `json:"scoreCSBAFaixaRisco"`
}

type Email struct {
	Email      Text `json:"email"`
	Prioridade Text `json:"prioridade"`
	Qualidade  Text `json:"qualidade"`
}

type Phone struct {
	Telefone Text `json:"telefone"`
	Tipo     Text `json:"tipo"`
	WhatsApp Text `json:"whatsapp"`
}

type Address struct {
	TipoLogradouro   Text `json:"tipoLogradouro"`
	Logradouro       Text `json:"logradouro"`
	LogradouroNumero Text `json:"logradouroNumero"`
	Complemento      Text `json:"complemento"`
	Bairro           Text `json:"bairro"`
	Cidade           Text `json:"cidade"`
	UF               Text `json:"uf"`
	CEP              Text `json:"cep"`
	Relacionamento   Text `json:"relacionamento"`
	Vinculo          Text `json:"vinculo"`
}

type Company struct {
	CNPJ    Text `json:"cnpj"`
	Relacao Text `json:"relacao"`
}

// Parse decodes a broker payload.
func Parse(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
