package forms

import (
	"context"

	"authdesk/internal/auth"
	"authdesk/internal/validation"
)

// LoginForm controla o formulário de login
type LoginForm struct {
	controller
	gateway Gateway
}

func NewLoginForm(gateway Gateway) *LoginForm {
	return &LoginForm{controller: controller{state: State{Form: "login"}}, gateway: gateway}
}

// Submit valida e chama SignIn. O store é atualizado pelo gateway;
// o formulário só reflete busy e o banner de erro.
func (f *LoginForm) Submit(ctx context.Context, values validation.LoginValues) (*auth.Result, error) {
	if err := f.begin(validation.ValidateLogin(values)); err != nil {
		return nil, err
	}
	result, err := f.gateway.SignIn(ctx, values.Email, values.Password)
	f.finish(err, nil)
	return result, err
}

// SignUpForm controla o formulário de cadastro
type SignUpForm struct {
	controller
	gateway Gateway
}

func NewSignUpForm(gateway Gateway) *SignUpForm {
	return &SignUpForm{controller: controller{state: State{Form: "signup"}}, gateway: gateway}
}

// Submit valida (inclusive aceite dos termos) e chama SignUp.
// Cadastro sem sessão imediata deixa o formulário em "check your email".
func (f *SignUpForm) Submit(ctx context.Context, values validation.SignUpValues) (*auth.Result, error) {
	if err := f.begin(validation.ValidateSignUp(values)); err != nil {
		return nil, err
	}
	result, err := f.gateway.SignUp(ctx, values.Email, values.Password)
	f.finish(err, func(st *State) {
		if result != nil && result.PendingVerification {
			st.PendingVerification = true
			st.PendingEmail = result.Email
		}
	})
	return result, err
}

// Reset volta do estado "check your email" para o formulário vazio
func (f *SignUpForm) Reset() {
	f.update(func(st *State) {
		st.PendingVerification = false
		st.PendingEmail = ""
		st.FieldErrors = nil
		st.Banner = nil
	})
}

// ForgotPasswordForm controla o formulário de recuperação de senha
type ForgotPasswordForm struct {
	controller
	gateway Gateway
}

func NewForgotPasswordForm(gateway Gateway) *ForgotPasswordForm {
	return &ForgotPasswordForm{controller: controller{state: State{Form: "forgot-password"}}, gateway: gateway}
}

// Submit pede o email de reset e, em sucesso, mostra a confirmação
func (f *ForgotPasswordForm) Submit(ctx context.Context, values validation.ForgotPasswordValues) error {
	if err := f.begin(validation.ValidateForgotPassword(values)); err != nil {
		return err
	}
	err := f.gateway.ResetPasswordRequest(ctx, values.Email)
	f.finish(err, func(st *State) { st.EmailSent = true })
	return err
}

// TryAgain sai da confirmação e volta ao formulário
func (f *ForgotPasswordForm) TryAgain() {
	f.update(func(st *State) {
		st.EmailSent = false
		st.Banner = nil
	})
}
