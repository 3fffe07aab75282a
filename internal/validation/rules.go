package validation

import (
	"regexp"
	"strings"
	"unicode"
)

// Mensagens exibidas inline pela UI
const (
	MsgEmailRequired      = "Email is required"
	MsgEmailInvalid       = "Invalid email address"
	MsgPasswordRequired   = "Password is required"
	MsgLoginPasswordMin   = "Password must be at least 6 characters"
	MsgSignUpPasswordMin  = "Password must be at least 8 characters"
	MsgPasswordComplexity = "Password must contain at least one uppercase letter, one lowercase letter, and one number"
	MsgConfirmRequired    = "Please confirm your password"
	MsgPasswordsMustMatch = "Passwords must match"
	MsgTermsRequired      = "You must accept the terms and conditions"
)

const (
	LoginPasswordMin  = 6
	SignUpPasswordMin = 8
)

// local@dominio.tld, sem espaços e com TLD de pelo menos duas letras
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*\.[A-Za-z]{2,}$`)

// Rule retorna a mensagem de erro ou "" quando o valor é válido
type Rule func(value string) string

// Check aplica as regras em ordem e retorna a primeira falha
func Check(value string, rules ...Rule) string {
	for _, rule := range rules {
		if msg := rule(value); msg != "" {
			return msg
		}
	}
	return ""
}

// Required falha para valores vazios ou só com espaços
func Required(message string) Rule {
	return func(value string) string {
		if strings.TrimSpace(value) == "" {
			return message
		}
		return ""
	}
}

// NonEmpty falha só para o valor vazio; espaços contam como conteúdo (senhas)
func NonEmpty(message string) Rule {
	return func(value string) string {
		if value == "" {
			return message
		}
		return ""
	}
}

func Email(message string) Rule {
	return func(value string) string {
		if !emailPattern.MatchString(strings.TrimSpace(value)) {
			return message
		}
		return ""
	}
}

// MinLength conta runes, não bytes
func MinLength(n int, message string) Rule {
	return func(value string) string {
		if len([]rune(value)) < n {
			return message
		}
		return ""
	}
}

// Composed exige ao menos uma minúscula, uma maiúscula e um dígito
func Composed(message string) Rule {
	return func(value string) string {
		var lower, upper, digit bool
		for _, r := range value {
			switch {
			case unicode.IsLower(r):
				lower = true
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsDigit(r):
				digit = true
			}
		}
		if !lower || !upper || !digit {
			return message
		}
		return ""
	}
}

func EqualTo(other string, message string) Rule {
	return func(value string) string {
		if value != other {
			return message
		}
		return ""
	}
}

// ValidateEmail aplica as regras de email comuns aos três formulários
func ValidateEmail(value string) string {
	return Check(value, Required(MsgEmailRequired), Email(MsgEmailInvalid))
}
