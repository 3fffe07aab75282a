package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kinds de AuthError. Use errors.Is(err, auth.ErrInvalidCredentials) etc.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("account conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrNetwork            = errors.New("network error")
	ErrProvider           = errors.New("provider error")
	ErrSessionMissing     = errors.New("session missing")
	ErrNotConfigured      = errors.New("auth provider not configured")
)

const genericProviderMessage = "authentication provider returned an error"

// AuthError é o formato único reportado à UI para falhas do provedor.
// Message é legível e nunca contém tokens.
type AuthError struct {
	Op      string
	Kind    error
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Kind }

func newAuthError(op string, kind error, message string, status int) *AuthError {
	if strings.TrimSpace(message) == "" {
		message = defaultMessage(kind)
	}
	return &AuthError{Op: op, Kind: kind, Message: message, Status: status}
}

func networkError(op string, err error) *AuthError {
	return &AuthError{
		Op:      op,
		Kind:    ErrNetwork,
		Message: "Unable to reach the authentication server. Check your connection and try again.",
		Status:  0,
	}
}

func defaultMessage(kind error) string {
	switch {
	case errors.Is(kind, ErrInvalidCredentials):
		return "Invalid login credentials"
	case errors.Is(kind, ErrConflict):
		return "User already registered"
	case errors.Is(kind, ErrRateLimited):
		return "Too many requests. Please wait a moment and try again."
	case errors.Is(kind, ErrNetwork):
		return "Unable to reach the authentication server."
	case errors.Is(kind, ErrSessionMissing):
		return "Auth session missing"
	case errors.Is(kind, ErrNotConfigured):
		return "Authentication is not configured"
	default:
		return genericProviderMessage
	}
}

type providerErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// summarizeAuthErrorBody extrai só campos de erro conhecidos do corpo da resposta.
// Nunca ecoa o corpo cru (pode conter tokens).
func summarizeAuthErrorBody(body []byte) string {
	var parsed providerErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return genericProviderMessage
	}
	for _, candidate := range []string{parsed.ErrorDescription, parsed.Msg, parsed.Message, parsed.Error} {
		if msg := strings.TrimSpace(candidate); msg != "" {
			return msg
		}
	}
	return genericProviderMessage
}

func errorCodeFromBody(body []byte) string {
	var parsed providerErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.ErrorCode != "" {
		return parsed.ErrorCode
	}
	return parsed.Error
}

// classifyProviderError converte status + corpo de erro do GoTrue em AuthError
func classifyProviderError(op string, status int, body []byte) *AuthError {
	message := summarizeAuthErrorBody(body)
	code := strings.ToLower(errorCodeFromBody(body))

	var kind error
	switch {
	case code == "user_already_exists" || code == "email_exists" || status == http.StatusConflict:
		kind = ErrConflict
	case status == http.StatusTooManyRequests || code == "over_request_rate_limit" || code == "over_email_send_rate_limit":
		kind = ErrRateLimited
	case code == "invalid_grant" || code == "invalid_credentials" || code == "email_not_confirmed":
		kind = ErrInvalidCredentials
	case code == "session_not_found" || code == "refresh_token_not_found" || code == "refresh_token_already_used":
		kind = ErrSessionMissing
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrInvalidCredentials
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(message), "already"):
		kind = ErrConflict
	default:
		kind = ErrProvider
	}
	if message == genericProviderMessage {
		message = ""
	}
	return newAuthError(op, kind, message, status)
}

// ErrorPayload é o contrato de erro enviado à UI via bindings/eventos
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Describe normaliza qualquer erro do gateway para o payload da UI
func Describe(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr != nil {
		return &ErrorPayload{Kind: kindName(authErr.Kind), Message: authErr.Error()}
	}
	return &ErrorPayload{Kind: "unknown", Message: "Something went wrong. Please try again."}
}

func kindName(kind error) string {
	switch {
	case errors.Is(kind, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(kind, ErrConflict):
		return "conflict"
	case errors.Is(kind, ErrRateLimited):
		return "rate_limited"
	case errors.Is(kind, ErrNetwork):
		return "network"
	case errors.Is(kind, ErrSessionMissing):
		return "session_missing"
	case errors.Is(kind, ErrNotConfigured):
		return "not_configured"
	case errors.Is(kind, ErrProvider):
		return "provider"
	default:
		return "unknown"
	}
}

// isRetryable indica falhas transitórias (rede/5xx) em que a sessão local deve ser mantida
func isRetryable(err error) bool {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return true
	}
	if errors.Is(authErr.Kind, ErrNetwork) || errors.Is(authErr.Kind, ErrRateLimited) {
		return true
	}
	return authErr.Status >= 500
}
