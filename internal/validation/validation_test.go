package validation

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{value: "user@example.com", want: ""},
		{value: "  first.last+tag@sub.example.co ", want: ""},
		{value: "not-an-email", want: MsgEmailInvalid},
		{value: "user@localhost", want: MsgEmailInvalid},
		{value: "user @example.com", want: MsgEmailInvalid},
		{value: "", want: MsgEmailRequired},
		{value: "   ", want: MsgEmailRequired},
	}

	for _, tt := range tests {
		if got := ValidateEmail(tt.value); got != tt.want {
			t.Fatalf("ValidateEmail(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestValidateSignUpPassword(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{value: "Abcdef1!", want: ""},
		{value: "abcdefgh", want: MsgPasswordComplexity},
		{value: "ABCDEFG1", want: MsgPasswordComplexity},
		{value: "Abc1", want: MsgSignUpPasswordMin},
		{value: "", want: MsgPasswordRequired},
	}

	for _, tt := range tests {
		if got := ValidateSignUpPassword(tt.value); got != tt.want {
			t.Fatalf("ValidateSignUpPassword(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestValidateLogin(t *testing.T) {
	if errs := ValidateLogin(LoginValues{Email: "user@example.com", Password: "secret"}); !errs.OK() {
		t.Fatalf("expected valid login, got %v", errs)
	}

	errs := ValidateLogin(LoginValues{Email: "user@example.com", Password: "12345"})
	if errs[FieldPassword] != MsgLoginPasswordMin {
		t.Fatalf("password error = %q", errs[FieldPassword])
	}

	errs = ValidateLogin(LoginValues{})
	if errs[FieldEmail] != MsgEmailRequired || errs[FieldPassword] != MsgPasswordRequired {
		t.Fatalf("unexpected errors for empty login: %v", errs)
	}
}

func TestValidateSignUp(t *testing.T) {
	valid := SignUpValues{
		Email:           "user@example.com",
		Password:        "Abcdef1!",
		ConfirmPassword: "Abcdef1!",
		AcceptTerms:     true,
	}
	if errs := ValidateSignUp(valid); !errs.OK() {
		t.Fatalf("expected valid sign up, got %v", errs)
	}

	mismatch := valid
	mismatch.ConfirmPassword = "Abcdef2!"
	if errs := ValidateSignUp(mismatch); errs[FieldConfirmPassword] != MsgPasswordsMustMatch {
		t.Fatalf("confirm error = %q", errs[FieldConfirmPassword])
	}

	missingConfirm := valid
	missingConfirm.ConfirmPassword = ""
	if errs := ValidateSignUp(missingConfirm); errs[FieldConfirmPassword] != MsgConfirmRequired {
		t.Fatalf("confirm error = %q", errs[FieldConfirmPassword])
	}

	noTerms := valid
	noTerms.AcceptTerms = false
	errs := ValidateSignUp(noTerms)
	if errs[FieldAcceptTerms] != MsgTermsRequired {
		t.Fatalf("terms error = %q", errs[FieldAcceptTerms])
	}
	if len(errs) != 1 {
		t.Fatalf("only the terms field should fail, got %v", errs)
	}
}

func TestValidateForgotPassword(t *testing.T) {
	if errs := ValidateForgotPassword(ForgotPasswordValues{Email: "not-an-email"}); errs[FieldEmail] != MsgEmailInvalid {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestFieldErrorsMessageIsStable(t *testing.T) {
	errs := FieldErrors{FieldPassword: "b", FieldEmail: "a"}
	got := errs.Error()
	if !strings.HasPrefix(got, "validation failed: email: a; password: b") {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestWhitespacePasswordsHitLengthAndCompositionRules(t *testing.T) {
	errs := ValidateLogin(LoginValues{Email: "user@example.com", Password: "   "})
	if errs[FieldPassword] != MsgLoginPasswordMin {
		t.Fatalf("login password error = %q, want %q", errs[FieldPassword], MsgLoginPasswordMin)
	}

	if got := ValidateSignUpPassword("        "); got != MsgPasswordComplexity {
		t.Fatalf("ValidateSignUpPassword(spaces) = %q, want %q", got, MsgPasswordComplexity)
	}
	if got := ValidateSignUpPassword("   "); got != MsgSignUpPasswordMin {
		t.Fatalf("ValidateSignUpPassword(short spaces) = %q, want %q", got, MsgSignUpPasswordMin)
	}

	if got := Check("", NonEmpty(MsgPasswordRequired)); got != MsgPasswordRequired {
		t.Fatalf("empty password should still be required, got %q", got)
	}
}
