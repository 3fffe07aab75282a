package validation

import (
	"sort"
	"strings"
)

// Nomes de campo usados como chave de FieldErrors (iguais aos da UI)
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldAcceptTerms     = "acceptTerms"
)

// FieldErrors mapeia campo -> mensagem. Vazio significa válido.
type FieldErrors map[string]string

// Error implementa error para permitir retorno direto da validação
func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// OK indica ausência de erros
func (e FieldErrors) OK() bool { return len(e) == 0 }

func (e FieldErrors) add(field, msg string) {
	if msg != "" {
		e[field] = msg
	}
}

// LoginValues são os campos do formulário de login.
// Remember é aceito, mas a sessão sempre persiste.
type LoginValues struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// SignUpValues são os campos do formulário de cadastro
type SignUpValues struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	AcceptTerms     bool   `json:"acceptTerms"`
}

// ForgotPasswordValues é o campo do formulário de recuperação
type ForgotPasswordValues struct {
	Email string `json:"email"`
}

func ValidateLogin(v LoginValues) FieldErrors {
	errs := FieldErrors{}
	errs.add(FieldEmail, ValidateEmail(v.Email))
	errs.add(FieldPassword, Check(v.Password,
		NonEmpty(MsgPasswordRequired),
		MinLength(LoginPasswordMin, MsgLoginPasswordMin),
	))
	return errs
}

func ValidateSignUp(v SignUpValues) FieldErrors {
	errs := FieldErrors{}
	errs.add(FieldEmail, ValidateEmail(v.Email))
	errs.add(FieldPassword, ValidateSignUpPassword(v.Password))
	errs.add(FieldConfirmPassword, Check(v.ConfirmPassword,
		NonEmpty(MsgConfirmRequired),
		EqualTo(v.Password, MsgPasswordsMustMatch),
	))
	if !v.AcceptTerms {
		errs.add(FieldAcceptTerms, MsgTermsRequired)
	}
	return errs
}

func ValidateForgotPassword(v ForgotPasswordValues) FieldErrors {
	errs := FieldErrors{}
	errs.add(FieldEmail, ValidateEmail(v.Email))
	return errs
}

// ValidateSignUpPassword aplica as regras compostas da senha de cadastro
func ValidateSignUpPassword(password string) string {
	return Check(password,
		NonEmpty(MsgPasswordRequired),
		MinLength(SignUpPasswordMin, MsgSignUpPasswordMin),
		Composed(MsgPasswordComplexity),
	)
}
