// Package parcel defines the typed property schema of a land parcel (gleba)
// shared by the attribute form, the REST API and storage.
package parcel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Parcel holds the known domain fields of a parcel. Nullable numbers are
// pointers so that an absent value is distinct from zero.
type Parcel struct {
	NoGleba   string   `json:"no_gleba,omitempty" gorm:"size:50;index;column:no_gleba" validate:"omitempty,max=50"`
	NomeGleba string   `json:"nome_gleba,omitempty" gorm:"size:100;column:nome_gleba" validate:"omitempty,max=100"`
	Area      *float64 `json:"area,omitempty" gorm:"column:area" validate:"omitempty,gte=0"`
	Perimetro *float64 `json:"perimetro,omitempty" gorm:"column:perimetro" validate:"omitempty,gte=0"`

	Proprietario string `json:"proprietario,omitempty" gorm:"size:100;column:proprietario" validate:"omitempty,max=100"`
	CPF          string `json:"cpf,omitempty" gorm:"size:14;column:cpf" validate:"omitempty,cpf"`
	RG           string `json:"rg,omitempty" gorm:"size:20;column:rg" validate:"omitempty,max=20"`

	Rua    string `json:"rua,omitempty" gorm:"size:200;column:rua" validate:"omitempty,max=200"`
	Bairro string `json:"bairro,omitempty" gorm:"size:100;column:bairro" validate:"omitempty,max=100"`
	Quadra string `json:"quadra,omitempty" gorm:"size:50;column:quadra" validate:"omitempty,max=50"`
	CEP    string `json:"cep,omitempty" gorm:"size:9;column:cep" validate:"omitempty,cep"`
	Cidade string `json:"cidade,omitempty" gorm:"size:100;column:cidade" validate:"omitempty,max=100"`
	UF     string `json:"uf,omitempty" gorm:"size:2;column:uf" validate:"omitempty,len=2,alpha"`

	TestadaFrente   *float64 `json:"testada_frente,omitempty" gorm:"column:testada_frente" validate:"omitempty,gte=0"`
	TestadaFundo    *float64 `json:"testada_fundo,omitempty" gorm:"column:testada_fundo" validate:"omitempty,gte=0"`
	TestadaEsquerda *float64 `json:"testada_esquerda,omitempty" gorm:"column:testada_esquerda" validate:"omitempty,gte=0"`
	TestadaDireita  *float64 `json:"testada_direita,omitempty" gorm:"column:testada_direita" validate:"omitempty,gte=0"`

	ConfrontacaoFrente   string `json:"confrontacao_frente,omitempty" gorm:"size:200;column:confrontacao_frente"`
	ConfrontacaoFundo    string `json:"confrontacao_fundo,omitempty" gorm:"size:200;column:confrontacao_fundo"`
	ConfrontacaoEsquerda string `json:"confrontacao_esquerda,omitempty" gorm:"size:200;column:confrontacao_esquerda"`
	ConfrontacaoDireita  string `json:"confrontacao_direita,omitempty" gorm:"size:200;column:confrontacao_direita"`

	ValorImovel        *float64 `json:"valor_imovel,omitempty" gorm:"column:valor_imovel" validate:"omitempty,gte=0"`
	Matricula          string   `json:"matricula,omitempty" gorm:"size:50;column:matricula"`
	InscricaoMunicipal string   `json:"inscricao_municipal,omitempty" gorm:"size:50;column:inscricao_municipal"`
	Zoneamento         string   `json:"zoneamento,omitempty" gorm:"size:50;column:zoneamento"`
	Finalidade         string   `json:"finalidade,omitempty" gorm:"size:50;column:finalidade"`
	PadraoConstrutivo  string   `json:"padrao_construtivo,omitempty" gorm:"size:50;column:padrao_construtivo"`
	SituacaoFundiaria  string   `json:"situacao_fundiaria,omitempty" gorm:"size:50;column:situacao_fundiaria"`
	OcupacaoAtual      string   `json:"ocupacao_atual,omitempty" gorm:"size:50;column:ocupacao_atual"`
	DescricaoImovel    string   `json:"descricao_imovel,omitempty" gorm:"type:text;column:descricao_imovel"`
	Observacoes        string   `json:"observacoes,omitempty" gorm:"type:text;column:observacoes"`

	// Extra holds form keys outside the schema.
	Extra map[string]any `json:"-" gorm:"-"`
}

// knownKeys lists every JSON key mapped onto a Parcel field.
var knownKeys = func() map[string]bool {
	raw, _ := json.Marshal(fullParcel())
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	keys := make(map[string]bool, len(m))
	for k := range m {
		keys[k] = true
	}
	return keys
}()

func fullParcel() Parcel {
	f := 1.0
	return Parcel{
		NoGleba: "x", NomeGleba: "x", Area: &f, Perimetro: &f,
		Proprietario: "x", CPF: "x", RG: "x",
		Rua: "x", Bairro: "x", Quadra: "x", CEP: "x", Cidade: "x", UF: "x",
		TestadaFrente: &f, TestadaFundo: &f, TestadaEsquerda: &f, TestadaDireita: &f,
		ConfrontacaoFrente: "x", ConfrontacaoFundo: "x", ConfrontacaoEsquerda: "x", ConfrontacaoDireita: "x",
		ValorImovel: &f, Matricula: "x", InscricaoMunicipal: "x", Zoneamento: "x", Finalidade: "x",
		PadraoConstrutivo: "x", SituacaoFundiaria: "x", OcupacaoAtual: "x", DescricaoImovel: "x", Observacoes: "x",
	}
}

// IsKnownKey reports whether key is part of the typed schema.
func IsKnownKey(key string) bool {
	return knownKeys[key]
}

// FromProperties splits an open property mapping into typed fields and Extra.
// Numeric fields given as strings, as HTML forms submit them, are parsed.
func FromProperties(props map[string]any) (Parcel, error) {
	known := make(map[string]any, len(props))
	extra := make(map[string]any)

	for k, v := range props {
		if !knownKeys[k] {
			extra[k] = v
			continue
		}
		known[k] = normalizeValue(k, v)
	}

	raw, err := json.Marshal(known)
	if err != nil {
		return Parcel{}, err
	}

	var p Parcel
	if err := json.Unmarshal(raw, &p); err != nil {
		return Parcel{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(extra) > 0 {
		p.Extra = extra
	}
	p.CPF = applyMask(p.CPF, 11, MaskCPF)
	p.CEP = applyMask(p.CEP, 8, MaskCEP)
	p.RG = applyMask(p.RG, 13, MaskRG)
	return p, nil
}

// applyMask formats raw digit input; partial or non-numeric values are kept
// as typed so validation still reports them.
func applyMask(s string, size int, fn func(string) string) string {
	if s == "" || len(digits(s, size+1)) != size {
		return s
	}
	return fn(s)
}

// Properties flattens the parcel back into an open mapping, Extra included.
func (p Parcel) Properties() map[string]any {
	out := make(map[string]any)
	for k, v := range p.Extra {
		out[k] = v
	}

	raw, _ := json.Marshal(p)
	var typed map[string]any
	_ = json.Unmarshal(raw, &typed)
	for k, v := range typed {
		out[k] = v
	}
	return out
}

var numericKeys = map[string]bool{
	"area": true, "perimetro": true, "valor_imovel": true,
	"testada_frente": true, "testada_fundo": true, "testada_esquerda": true, "testada_direita": true,
}

// IsNumericKey reports whether key maps onto a nullable number.
func IsNumericKey(key string) bool {
	return numericKeys[key]
}

func normalizeValue(key string, v any) any {
	s, ok := v.(string)
	if !ok {
		if numericKeys[key] {
			return v
		}
		if v == nil {
			return nil
		}
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64)
		case int:
			return strconv.Itoa(n)
		}
		return v
	}
	if !numericKeys[key] {
		return s
	}
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

// SuggestNumber returns a parcel number derived from the clock, GL-<6 digits>.
func SuggestNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	return "GL-" + ms[len(ms)-6:]
}
