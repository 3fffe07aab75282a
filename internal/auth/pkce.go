package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// PKCEChallenge representa os dados do PKCE flow usado no link de reset de senha
type PKCEChallenge struct {
	CodeVerifier  string `json:"codeVerifier"`
	CodeChallenge string `json:"codeChallenge"`
}

// GeneratePKCE gera os componentes do PKCE flow (code_verifier + code_challenge)
func GeneratePKCE() (*PKCEChallenge, error) {
	// code_verifier: 32 bytes aleatórios -> 43 chars base64url
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, err
	}
	codeVerifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	return &PKCEChallenge{
		CodeVerifier:  codeVerifier,
		CodeChallenge: challengeFor(codeVerifier),
	}, nil
}

// challengeFor calcula BASE64URL(SHA256(code_verifier))
func challengeFor(codeVerifier string) string {
	sum := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
