// Package auth provides credential issuance, caching, and refresh for the
// trading API.
package auth

import (
	"time"

	apperrors "public-trader/internal/errors"
)

// API-key token validity bounds enforced by the gateway.
const (
	MinValidity = 5 * time.Minute
	MaxValidity = 1440 * time.Minute
)

// DefaultExpiryBuffer is the safety margin subtracted from a credential's
// true expiry so a token is never presented when it could expire mid-request.
const DefaultExpiryBuffer = 5 * time.Minute

// Credential is an issued access token with its validity window.
type Credential struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	Validity     time.Duration
}

// ExpiresAt returns the true expiry timestamp of the credential.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.Validity)
}

// ExpiredWithBuffer reports whether the credential is within buffer of its
// true expiry. A credential inside the buffer window is treated as expired.
func (c Credential) ExpiredWithBuffer(now time.Time, buffer time.Duration) bool {
	return !now.Before(c.ExpiresAt().Add(-buffer))
}

// ValidateValidity rejects API-key validity durations outside the enforced
// 5 to 1440 minute range.
func ValidateValidity(validity time.Duration) error {
	if validity < MinValidity || validity > MaxValidity {
		return apperrors.NewValidationError("validity",
			"token validity must be between "+MinValidity.String()+" and "+MaxValidity.String())
	}
	return nil
}
