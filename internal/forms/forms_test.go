package forms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"authdesk/internal/auth"
	"authdesk/internal/store"
	"authdesk/internal/validation"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	result  *auth.Result
	err     error
	release chan struct{}
	started chan struct{}
}

func (f *fakeGateway) call() (*auth.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGateway) SignIn(ctx context.Context, email, password string) (*auth.Result, error) {
	return f.call()
}

func (f *fakeGateway) SignUp(ctx context.Context, email, password string) (*auth.Result, error) {
	return f.call()
}

func (f *fakeGateway) ResetPasswordRequest(ctx context.Context, email string) error {
	_, err := f.call()
	return err
}

func validSignUp() validation.SignUpValues {
	return validation.SignUpValues{
		Email:           "user@example.com",
		Password:        "Abcdef1!",
		ConfirmPassword: "Abcdef1!",
		AcceptTerms:     true,
	}
}

func TestSignUpWithoutTermsMakesNoNetworkCall(t *testing.T) {
	gw := &fakeGateway{}
	form := NewSignUpForm(gw)

	values := validSignUp()
	values.AcceptTerms = false
	_, err := form.Submit(context.Background(), values)

	var fieldErrs validation.FieldErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if fieldErrs[validation.FieldAcceptTerms] != validation.MsgTermsRequired {
		t.Fatalf("terms error = %q", fieldErrs[validation.FieldAcceptTerms])
	}
	if gw.callCount() != 0 {
		t.Fatalf("validation failure must not reach the gateway")
	}
	st := form.Snapshot()
	if st.Busy || st.FieldErrors[validation.FieldAcceptTerms] == "" {
		t.Fatalf("unexpected form state: %+v", st)
	}
}

func TestSignUpPendingVerificationState(t *testing.T) {
	gw := &fakeGateway{result: &auth.Result{PendingVerification: true, Email: "user@example.com"}}
	form := NewSignUpForm(gw)

	if _, err := form.Submit(context.Background(), validSignUp()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	st := form.Snapshot()
	if !st.PendingVerification || st.PendingEmail != "user@example.com" {
		t.Fatalf("expected check-your-email state, got %+v", st)
	}

	form.Reset()
	if form.Snapshot().PendingVerification {
		t.Fatalf("Reset should leave the pending state")
	}
}

func TestLoginFailureShowsBanner(t *testing.T) {
	gw := &fakeGateway{err: &auth.AuthError{Op: "signIn", Kind: auth.ErrInvalidCredentials, Message: "Invalid login credentials"}}
	form := NewLoginForm(gw)

	var states []State
	form.OnChange(func(st State) { states = append(states, st) })

	_, err := form.Submit(context.Background(), validation.LoginValues{Email: "user@example.com", Password: "secret1"})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	st := form.Snapshot()
	if st.Busy {
		t.Fatalf("busy flag must clear after the call resolves")
	}
	if st.Banner == nil || st.Banner.Message != "Invalid login credentials" || st.Banner.Kind != "invalid_credentials" {
		t.Fatalf("unexpected banner: %+v", st.Banner)
	}
	if len(states) != 2 || !states[0].Busy {
		t.Fatalf("expected busy then resolved notifications, got %+v", states)
	}

	form.DismissBanner()
	if form.Snapshot().Banner != nil {
		t.Fatalf("banner should be dismissed")
	}
}

func TestSubmitWhileInFlightIsRejected(t *testing.T) {
	gw := &fakeGateway{
		result:  &auth.Result{Identity: &store.Identity{ID: "u1"}},
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	form := NewLoginForm(gw)
	values := validation.LoginValues{Email: "user@example.com", Password: "secret1"}

	done := make(chan error, 1)
	go func() {
		_, err := form.Submit(context.Background(), values)
		done <- err
	}()
	<-gw.started

	if !form.Snapshot().Busy {
		t.Fatalf("form should be busy while the call is in flight")
	}
	if _, err := form.Submit(context.Background(), values); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}

	close(gw.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	if gw.callCount() != 1 {
		t.Fatalf("expected a single gateway call, got %d", gw.callCount())
	}
}

func TestLateResultAfterDisposeIsDropped(t *testing.T) {
	gw := &fakeGateway{
		err:     &auth.AuthError{Op: "reset", Kind: auth.ErrNetwork, Message: "offline"},
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	form := NewForgotPasswordForm(gw)

	notified := 0
	form.OnChange(func(State) { notified++ })

	done := make(chan error, 1)
	go func() {
		done <- form.Submit(context.Background(), validation.ForgotPasswordValues{Email: "user@example.com"})
	}()
	<-gw.started

	form.Dispose()
	close(gw.release)
	<-done

	st := form.Snapshot()
	if st.Banner != nil {
		t.Fatalf("late result must not update a disposed form: %+v", st)
	}
	if notified != 1 {
		t.Fatalf("only the busy notification should have fired, got %d", notified)
	}
	if err := form.Submit(context.Background(), validation.ForgotPasswordValues{Email: "user@example.com"}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestForgotPasswordEmailSentAndTryAgain(t *testing.T) {
	gw := &fakeGateway{}
	form := NewForgotPasswordForm(gw)

	if err := form.Submit(context.Background(), validation.ForgotPasswordValues{Email: "user@example.com"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !form.Snapshot().EmailSent {
		t.Fatalf("expected email sent confirmation")
	}

	form.TryAgain()
	if form.Snapshot().EmailSent {
		t.Fatalf("TryAgain should return to the form")
	}

	err := form.Submit(context.Background(), validation.ForgotPasswordValues{Email: ""})
	var fieldErrs validation.FieldErrors
	if !errors.As(err, &fieldErrs) || fieldErrs[validation.FieldEmail] != validation.MsgEmailRequired {
		t.Fatalf("expected required email error, got %v", err)
	}
	if gw.callCount() != 1 {
		t.Fatalf("invalid submit must not reach the gateway")
	}
}
