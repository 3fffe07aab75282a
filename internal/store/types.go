package store

import (
	"time"
)

// Identity representa o principal autenticado reportado pelo provedor
type Identity struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Session é o pacote de tokens vinculado a uma Identity
type Session struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	TokenType    string     `json:"tokenType"`
	Identity     Identity   `json:"identity"`
}

// Expired reporta se a sessão passou da expiração (sem expiração = nunca expira)
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// State é o estado observável do Session Store.
// Identity e Session estão presentes juntos ou ausentes juntos.
type State struct {
	Identity      *Identity `json:"identity,omitempty"`
	Session       *Session  `json:"session,omitempty"`
	IsLoading     bool      `json:"isLoading"`
	IsInitialized bool      `json:"isInitialized"`
	Revision      uint64    `json:"revision"`
}

// IsAuthenticated é true quando há identidade presente
func (s State) IsAuthenticated() bool {
	return s.Identity != nil
}

// persistedState é o subconjunto durável; isLoading nunca é gravado
type persistedState struct {
	Identity      *Identity `json:"identity"`
	Session       *Session  `json:"session"`
	IsInitialized bool      `json:"isInitialized"`
}

// persistedEnvelope mantém o formato {state, version} do armazenamento
type persistedEnvelope struct {
	State   persistedState `json:"state"`
	Version int            `json:"version"`
}

const persistVersion = 0

// ISessionStore define o contrato do Session Store consumido pelo gateway e pelo router
type ISessionStore interface {
	Snapshot() State
	SetAuth(identity *Identity, session *Session)
	ApplyAuth(identity *Identity, session *Session, resolve bool)
	SetIdentity(identity *Identity)
	SetSession(session *Session)
	SetLoading(loading bool)
	SetInitialized(initialized bool)
	Resolve()
	Clear()
	Subscribe(fn func(State)) func()
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	out := *id
	if id.Attributes != nil {
		out.Attributes = make(map[string]any, len(id.Attributes))
		for k, v := range id.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	if id := cloneIdentity(&s.Identity); id != nil {
		out.Identity = *id
	}
	return &out
}

func (s State) clone() State {
	out := s
	out.Identity = cloneIdentity(s.Identity)
	out.Session = cloneSession(s.Session)
	return out
}
