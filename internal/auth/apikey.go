package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "public-trader/internal/errors"
)

const accessTokenPath = "/userapiauthservice/personal/access-tokens"

// HTTPDoer is the slice of the API client the auth flows need.
type HTTPDoer interface {
	Post(ctx context.Context, path string, body interface{}, out interface{}) error
	Delete(ctx context.Context, path string) error
}

// ApiKeyConfig configures the API-key credential flow.
type ApiKeyConfig struct {
	SecretKey string
	// Validity is the requested token lifetime, bounded to 5..1440 minutes.
	Validity time.Duration
	// ExpiryBuffer overrides DefaultExpiryBuffer when positive.
	ExpiryBuffer time.Duration
}

// ApiKeyProvider exchanges a personal secret key for short-lived access
// tokens.
type ApiKeyProvider struct {
	*tokenCache
	client    HTTPDoer
	secretKey string
	validity  time.Duration
}

type accessTokenRequest struct {
	Secret            string `json:"secret"`
	ValidityInMinutes int    `json:"validityInMinutes"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// NewApiKeyProvider creates an API-key auth provider. The validity bound is
// enforced here, before any network call is made.
func NewApiKeyProvider(client HTTPDoer, cfg ApiKeyConfig, log zerolog.Logger) (*ApiKeyProvider, error) {
	if cfg.SecretKey == "" {
		return nil, apperrors.NewValidationError("secretKey", "api secret key is required")
	}
	validity := cfg.Validity
	if validity == 0 {
		validity = MaxValidity
	}
	if err := ValidateValidity(validity); err != nil {
		return nil, err
	}

	p := &ApiKeyProvider{
		client:    client,
		secretKey: cfg.SecretKey,
		validity:  validity,
	}
	p.tokenCache = newTokenCache(p.exchangeSecret, cfg.ExpiryBuffer, log)
	return p, nil
}

func (p *ApiKeyProvider) exchangeSecret(ctx context.Context, _ Credential, _ bool) (Credential, error) {
	req := accessTokenRequest{
		Secret:            p.secretKey,
		ValidityInMinutes: int(p.validity / time.Minute),
	}
	var resp accessTokenResponse
	if err := p.client.Post(ctx, accessTokenPath, req, &resp); err != nil {
		return Credential{}, err
	}
	if resp.AccessToken == "" {
		return Credential{}, apperrors.ErrInvalidCredentials
	}
	return Credential{
		AccessToken: resp.AccessToken,
		IssuedAt:    time.Now(),
		Validity:    p.validity,
	}, nil
}

// RevokeToken drops the cached credential and invalidates it server-side.
func (p *ApiKeyProvider) RevokeToken(ctx context.Context) error {
	cred, had := p.clear()
	if !had || cred.AccessToken == "" {
		return nil
	}
	return p.client.Delete(ctx, accessTokenPath)
}
