package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const verifierLength = 64

// RFC 7636 unreserved characters.
const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// OAuthState binds one authorization attempt to a PKCE verifier/challenge
// pair and a CSRF state token. It is single-use: the token exchange consumes
// it.
type OAuthState struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
}

// NewOAuthState generates a fresh PKCE pair and CSRF state token.
func NewOAuthState() (*OAuthState, error) {
	verifier, err := randomVerifier()
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}
	state, err := randomToken(16)
	if err != nil {
		return nil, fmt.Errorf("generating csrf state: %w", err)
	}
	return &OAuthState{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: ChallengeFor(verifier),
	}, nil
}

// ChallengeFor derives the S256 code challenge for a verifier.
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomVerifier() (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = verifierCharset[int(b)%len(verifierCharset)]
	}
	return string(buf), nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
