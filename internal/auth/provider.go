package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "public-trader/internal/errors"
)

// Provider issues and refreshes credentials.
type Provider interface {
	// GetToken returns a credential guaranteed not to expire within the
	// safety buffer, refreshing synchronously if needed.
	GetToken(ctx context.Context) (Credential, error)
	// SetToken installs a credential manually, bypassing refresh until it
	// nears expiry.
	SetToken(cred Credential)
	// RevokeToken invalidates the current credential.
	RevokeToken(ctx context.Context) error
}

// refreshFunc performs one credential refresh. Implemented by the concrete
// flows (API key exchange, OAuth refresh grant).
type refreshFunc func(ctx context.Context, prev Credential, hasPrev bool) (Credential, error)

type refreshCall struct {
	done chan struct{}
	cred Credential
	err  error
}

// tokenCache owns credential storage and enforces at-most-one concurrent
// refresh. Callers arriving during an in-flight refresh wait for its result
// instead of triggering another one.
type tokenCache struct {
	refresh refreshFunc
	buffer  time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	cred    Credential
	hasCred bool
	call    *refreshCall
}

func newTokenCache(refresh refreshFunc, buffer time.Duration, log zerolog.Logger) *tokenCache {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	return &tokenCache{refresh: refresh, buffer: buffer, log: log}
}

// GetToken implements the cached-or-refresh contract. A failed refresh is
// reported to every waiter as a TokenRefreshError; the expired cached
// credential is never silently reused.
func (tc *tokenCache) GetToken(ctx context.Context) (Credential, error) {
	tc.mu.Lock()
	if tc.hasCred && !tc.cred.ExpiredWithBuffer(time.Now(), tc.buffer) {
		cred := tc.cred
		tc.mu.Unlock()
		return cred, nil
	}

	if tc.call != nil {
		call := tc.call
		tc.mu.Unlock()
		select {
		case <-call.done:
			return call.cred, call.err
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	tc.call = call
	prev, hasPrev := tc.cred, tc.hasCred
	tc.mu.Unlock()

	cred, err := tc.refresh(ctx, prev, hasPrev)

	tc.mu.Lock()
	if err != nil {
		call.err = apperrors.NewTokenRefreshError(err)
		tc.log.Error().Err(err).Msg("Token refresh failed")
	} else {
		tc.cred = cred
		tc.hasCred = true
		call.cred = cred
		tc.log.Debug().Time("expires_at", cred.ExpiresAt()).Msg("Token refreshed")
	}
	tc.call = nil
	tc.mu.Unlock()

	close(call.done)
	return call.cred, call.err
}

// SetToken installs a credential manually.
func (tc *tokenCache) SetToken(cred Credential) {
	tc.mu.Lock()
	tc.cred = cred
	tc.hasCred = true
	tc.mu.Unlock()
}

// clear drops the cached credential.
func (tc *tokenCache) clear() (Credential, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	cred, had := tc.cred, tc.hasCred
	tc.cred = Credential{}
	tc.hasCred = false
	return cred, had
}

// current returns the cached credential without triggering a refresh.
func (tc *tokenCache) current() (Credential, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.cred, tc.hasCred
}
