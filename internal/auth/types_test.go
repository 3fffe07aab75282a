package auth

import (
	"encoding/json"
	"testing"
)

func TestNormalizeSessionCarriesCreatedAt(t *testing.T) {
	raw := `{"access_token":"a1","refresh_token":"r1","expires_at":1900000000,"token_type":"bearer",
		"user":{"id":"u1","email":"u1@example.com","created_at":"2024-04-26T12:00:00Z","user_metadata":{"name":"Test"}}}`
	var ps ProviderSession
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	identity, session := NormalizeSession(&ps)
	if identity == nil || session == nil {
		t.Fatalf("expected identity and session")
	}
	if got := identity.Attributes[AttrCreatedAt]; got != "2024-04-26T12:00:00Z" {
		t.Fatalf("created_at = %v", got)
	}
	if identity.Attributes["name"] != "Test" {
		t.Fatalf("user metadata lost: %+v", identity.Attributes)
	}
	if session.Identity.Attributes[AttrCreatedAt] != "2024-04-26T12:00:00Z" {
		t.Fatalf("session identity missing created_at: %+v", session.Identity)
	}
}

func TestNormalizeUserWithoutExtras(t *testing.T) {
	identity := NormalizeUser(&ProviderUser{ID: "u1", Email: "u1@example.com"})
	if identity == nil || identity.Attributes != nil {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if NormalizeUser(&ProviderUser{}) != nil {
		t.Fatalf("user without id must normalize to nil")
	}
}
