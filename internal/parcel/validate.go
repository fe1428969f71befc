package parcel

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validation errors.
var (
	ErrNumberRequired = errors.New("no_gleba is required")
	ErrInvalid        = errors.New("invalid parcel")
)

var (
	cpfPattern = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
	cepPattern = regexp.MustCompile(`^\d{5}-\d{3}$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the parcel rules registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("cpf", func(fl validator.FieldLevel) bool {
			return cpfPattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("cep", func(fl validator.FieldLevel) bool {
			return cepPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the typed fields. Errors name the offending JSON keys.
func (p Parcel) Validate() error {
	err := Validator().Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", jsonName(fe.StructField()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// ValidateRecord checks a parcel stored as a standalone record, which must
// carry a number.
func (p Parcel) ValidateRecord() error {
	if strings.TrimSpace(p.NoGleba) == "" {
		return ErrNumberRequired
	}
	return p.Validate()
}

var fieldNames = map[string]string{
	"NoGleba": "no_gleba", "NomeGleba": "nome_gleba", "CPF": "cpf", "CEP": "cep", "UF": "uf", "RG": "rg",
	"Area": "area", "Perimetro": "perimetro", "ValorImovel": "valor_imovel",
	"TestadaFrente": "testada_frente", "TestadaFundo": "testada_fundo",
	"TestadaEsquerda": "testada_esquerda", "TestadaDireita": "testada_direita",
}

func jsonName(field string) string {
	if n, ok := fieldNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

// MaskCPF formats up to 11 digits as 000.000.000-00, ignoring other runes.
func MaskCPF(s string) string {
	return mask(digits(s, 11), []int{3, 6, 9}, []string{".", ".", "-"})
}

// MaskCEP formats up to 8 digits as 00000-000.
func MaskCEP(s string) string {
	return mask(digits(s, 8), []int{5}, []string{"-"})
}

// MaskRG formats up to 13 digits with the final digit split off as a check
// digit, 000000000000-0.
func MaskRG(s string) string {
	d := digits(s, 13)
	if len(d) <= 12 {
		return d
	}
	return d[:12] + "-" + d[12:]
}

func digits(s string, limit int) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == limit {
				break
			}
		}
	}
	return b.String()
}

func mask(d string, at []int, sep []string) string {
	var b strings.Builder
	for i, r := range d {
		for j, pos := range at {
			if i == pos {
				b.WriteString(sep[j])
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
