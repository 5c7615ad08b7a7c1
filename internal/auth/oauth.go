package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "public-trader/internal/errors"
)

const (
	defaultAuthorizeURL = "https://public.com/oauth/authorize"
	oauthTokenPath      = "/userapiauthservice/oauth/token"
	oauthRevokePath     = "/userapiauthservice/oauth/revoke"
)

// OAuthConfig configures the OAuth authorization-code flow with PKCE.
type OAuthConfig struct {
	ClientID     string
	RedirectURI  string
	Scopes       []string
	AuthorizeURL string
	// ExpiryBuffer overrides DefaultExpiryBuffer when positive.
	ExpiryBuffer time.Duration
}

// OAuthProvider implements the OAuth/PKCE credential flow. Authorization
// attempts are tracked by CSRF state token and consumed on exchange.
type OAuthProvider struct {
	*tokenCache
	client       HTTPDoer
	clientID     string
	redirectURI  string
	scopes       []string
	authorizeURL string

	pendingMu sync.Mutex
	pending   map[string]*OAuthState
}

type oauthTokenRequest struct {
	GrantType    string `json:"grantType"`
	ClientID     string `json:"clientId"`
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
	RedirectURI  string `json:"redirectUri,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type oauthTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// NewOAuthProvider creates an OAuth/PKCE auth provider.
func NewOAuthProvider(client HTTPDoer, cfg OAuthConfig, log zerolog.Logger) (*OAuthProvider, error) {
	if cfg.ClientID == "" {
		return nil, apperrors.NewValidationError("clientId", "oauth client id is required")
	}
	if cfg.RedirectURI == "" {
		return nil, apperrors.NewValidationError("redirectUri", "oauth redirect uri is required")
	}
	authorizeURL := cfg.AuthorizeURL
	if authorizeURL == "" {
		authorizeURL = defaultAuthorizeURL
	}

	p := &OAuthProvider{
		client:       client,
		clientID:     cfg.ClientID,
		redirectURI:  cfg.RedirectURI,
		scopes:       cfg.Scopes,
		authorizeURL: authorizeURL,
		pending:      make(map[string]*OAuthState),
	}
	p.tokenCache = newTokenCache(p.refreshGrant, cfg.ExpiryBuffer, log)
	return p, nil
}

// BuildAuthorizationURL constructs the browser URL for one authorization
// attempt and returns the OAuthState bound to it.
func (p *OAuthProvider) BuildAuthorizationURL() (string, *OAuthState, error) {
	state, err := NewOAuthState()
	if err != nil {
		return "", nil, err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", p.redirectURI)
	q.Set("state", state.State)
	q.Set("code_challenge", state.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	if len(p.scopes) > 0 {
		q.Set("scope", strings.Join(p.scopes, " "))
	}

	p.pendingMu.Lock()
	p.pending[state.State] = state
	p.pendingMu.Unlock()

	return p.authorizeURL + "?" + q.Encode(), state, nil
}

// ExchangeCode trades an authorization code for a credential. The state must
// match one issued by BuildAuthorizationURL and not yet consumed; a reused
// or unknown state fails with CsrfValidationError.
func (p *OAuthProvider) ExchangeCode(ctx context.Context, code, state string) (Credential, error) {
	p.pendingMu.Lock()
	issued, ok := p.pending[state]
	if ok {
		delete(p.pending, state)
	}
	p.pendingMu.Unlock()

	if !ok {
		return Credential{}, apperrors.NewCsrfValidationError("state does not match any issued authorization attempt")
	}

	req := oauthTokenRequest{
		GrantType:    "authorization_code",
		ClientID:     p.clientID,
		Code:         code,
		CodeVerifier: issued.CodeVerifier,
		RedirectURI:  p.redirectURI,
	}
	var resp oauthTokenResponse
	if err := p.client.Post(ctx, oauthTokenPath, req, &resp); err != nil {
		return Credential{}, err
	}
	if resp.AccessToken == "" {
		return Credential{}, apperrors.ErrInvalidCredentials
	}

	cred := Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     time.Now(),
		Validity:     time.Duration(resp.ExpiresIn) * time.Second,
	}
	p.SetToken(cred)
	return cred, nil
}

// refreshGrant exchanges the refresh token for a fresh credential. Without
// a completed authorization there is nothing to refresh.
func (p *OAuthProvider) refreshGrant(ctx context.Context, prev Credential, hasPrev bool) (Credential, error) {
	if !hasPrev || prev.RefreshToken == "" {
		return Credential{}, apperrors.ErrNotAuthenticated
	}

	req := oauthTokenRequest{
		GrantType:    "refresh_token",
		ClientID:     p.clientID,
		RefreshToken: prev.RefreshToken,
	}
	var resp oauthTokenResponse
	if err := p.client.Post(ctx, oauthTokenPath, req, &resp); err != nil {
		return Credential{}, err
	}
	if resp.AccessToken == "" {
		return Credential{}, apperrors.ErrInvalidCredentials
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = prev.RefreshToken
	}
	return Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		IssuedAt:     time.Now(),
		Validity:     time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

// RevokeToken drops the cached credential and revokes it server-side.
func (p *OAuthProvider) RevokeToken(ctx context.Context) error {
	cred, had := p.clear()
	if !had || cred.AccessToken == "" {
		return nil
	}
	return p.client.Delete(ctx, oauthRevokePath)
}
