package auth

import (
	"context"
	"time"

	"authdesk/internal/store"
)

// EventName identifica uma notificação de mudança de estado do provedor
type EventName string

const (
	EventSignedIn         EventName = "SIGNED_IN"
	EventSignedOut        EventName = "SIGNED_OUT"
	EventTokenRefreshed   EventName = "TOKEN_REFRESHED"
	EventUserUpdated      EventName = "USER_UPDATED"
	EventPasswordRecovery EventName = "PASSWORD_RECOVERY"
)

// Event é entregue pelo canal onAuthStateChange do provedor.
// Seq cresce monotonicamente por cliente; Session nil significa deslogado.
type Event struct {
	Name    EventName        `json:"event"`
	Session *ProviderSession `json:"session,omitempty"`
	Seq     uint64           `json:"seq"`
}

// ProviderUser é o usuário no formato do GoTrue
type ProviderUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
}

// AttrCreatedAt é a chave de Identity.Attributes com a data de criação da conta (RFC 3339)
const AttrCreatedAt = "created_at"

// ProviderSession é a resposta de sessão do GoTrue (também o formato persistido)
type ProviderSession struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	ExpiresAt    int64        `json:"expires_at,omitempty"`
	TokenType    string       `json:"token_type"`
	User         ProviderUser `json:"user"`
}

// AuthResponse agrupa o resultado de uma chamada ao provedor.
// Session nil com User presente = cadastro aguardando confirmação de email.
type AuthResponse struct {
	Session *ProviderSession
	User    *ProviderUser
	Seq     uint64
}

// Subscription cancela a inscrição em onAuthStateChange
type Subscription interface {
	Unsubscribe()
}

// Provider é a fronteira com o serviço de autenticação hospedado.
// O sistema confia nas respostas e não revalida tokens.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error)
	SignUp(ctx context.Context, email, password string) (*AuthResponse, error)
	SignOut(ctx context.Context) (uint64, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	GetSession(ctx context.Context) (*AuthResponse, error)
	GetUser(ctx context.Context) (*ProviderUser, error)
	OnAuthStateChange(callback func(Event)) Subscription
}

// Result é o retorno normalizado de SignIn/SignUp
type Result struct {
	Identity            *store.Identity `json:"identity,omitempty"`
	Session             *store.Session  `json:"session,omitempty"`
	PendingVerification bool            `json:"pendingVerification"`
	Email               string          `json:"email,omitempty"`
}

// AuthState é o estado de autenticação exposto à UI
type AuthState struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	IsLoading       bool            `json:"isLoading"`
	IsInitialized   bool            `json:"isInitialized"`
	Identity        *store.Identity `json:"identity,omitempty"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
}

// StateFromStore projeta o estado do store sem expor tokens
func StateFromStore(st store.State) *AuthState {
	out := &AuthState{
		IsAuthenticated: st.IsAuthenticated(),
		IsLoading:       st.IsLoading,
		IsInitialized:   st.IsInitialized,
		Identity:        st.Identity,
	}
	if st.Session != nil {
		out.ExpiresAt = st.Session.ExpiresAt
	}
	return out
}

// NormalizeUser converte o usuário do provedor em Identity
func NormalizeUser(user *ProviderUser) *store.Identity {
	if user == nil || user.ID == "" {
		return nil
	}
	id := &store.Identity{
		ID:    user.ID,
		Email: user.Email,
	}
	if len(user.UserMetadata) > 0 || user.CreatedAt != "" {
		id.Attributes = make(map[string]any, len(user.UserMetadata)+1)
		for k, v := range user.UserMetadata {
			id.Attributes[k] = v
		}
		if user.CreatedAt != "" {
			id.Attributes[AttrCreatedAt] = user.CreatedAt
		}
	}
	return id
}

// NormalizeSession converte a sessão do provedor no par Identity/Session do store.
// Retorna nil, nil quando a sessão não tem tokens ou usuário.
func NormalizeSession(ps *ProviderSession) (*store.Identity, *store.Session) {
	if ps == nil || ps.AccessToken == "" {
		return nil, nil
	}
	identity := NormalizeUser(&ps.User)
	if identity == nil {
		return nil, nil
	}
	session := &store.Session{
		AccessToken:  ps.AccessToken,
		RefreshToken: ps.RefreshToken,
		TokenType:    ps.TokenType,
		Identity:     *identity,
	}
	if exp := ps.expiry(); !exp.IsZero() {
		session.ExpiresAt = &exp
	}
	return identity, session
}

func (ps *ProviderSession) expiry() time.Time {
	if ps == nil || ps.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.Unix(ps.ExpiresAt, 0).UTC()
}

// stampExpiry preenche expires_at a partir de expires_in quando o provedor não envia
func (ps *ProviderSession) stampExpiry(now time.Time) {
	if ps == nil || ps.ExpiresAt > 0 || ps.ExpiresIn <= 0 {
		return
	}
	ps.ExpiresAt = now.Add(time.Duration(ps.ExpiresIn) * time.Second).Unix()
}

func (ps *ProviderSession) clone() *ProviderSession {
	if ps == nil {
		return nil
	}
	out := *ps
	return &out
}
