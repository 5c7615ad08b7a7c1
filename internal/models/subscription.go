package models

import (
	"time"

	apperrors "public-trader/internal/errors"
)

// Polling interval bounds enforced for all subscriptions.
const (
	MinPollingInterval = 100 * time.Millisecond
	MaxPollingInterval = 60 * time.Second
)

// SubscriptionConfig controls the polling behavior of one subscription.
type SubscriptionConfig struct {
	// PollingInterval is the delay between poll cycles.
	PollingInterval time.Duration
	// RetryOnError keeps the poll loop alive across fetch failures.
	RetryOnError bool
	// MaxRetries is the number of consecutive fetch failures tolerated
	// before the loop gives up on the target. Ignored when RetryOnError
	// is false.
	MaxRetries int
}

// DefaultSubscriptionConfig returns the default subscription configuration.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		PollingInterval: time.Second,
		RetryOnError:    true,
		MaxRetries:      3,
	}
}

// Validate rejects polling intervals outside the enforced range.
func (c SubscriptionConfig) Validate() error {
	var v apperrors.ValidationError
	if c.PollingInterval < MinPollingInterval || c.PollingInterval > MaxPollingInterval {
		v.Add("pollingInterval", "polling interval must be between "+
			MinPollingInterval.String()+" and "+MaxPollingInterval.String())
	}
	if c.RetryOnError && c.MaxRetries < 0 {
		v.Add("maxRetries", "max retries must be non-negative")
	}
	if v.HasViolations() {
		return &v
	}
	return nil
}
