// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrSessionExpired       = errors.New("session expired")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrNoAccount            = errors.New("no account id provided and no default configured")
	ErrNotFound             = errors.New("resource not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrEngineStopped        = errors.New("subscription engine stopped")
	ErrStateConsumed        = errors.New("oauth state already consumed")
	ErrRateLimited          = errors.New("rate limited")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrInsecureEndpoint     = errors.New("insecure http endpoint rejected")
)

// Violation is a single field-level validation failure.
type Violation struct {
	Field   string
	Message string
}

// ValidationError reports every violated constraint found during
// construction-time validation, not just the first.
type ValidationError struct {
	Violations []Violation
}

// Add appends a field-level violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// HasViolations reports whether any constraint was violated.
func (e *ValidationError) HasViolations() bool {
	return len(e.Violations) > 0
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation error"
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("validation error: %s", strings.Join(parts, "; "))
}

// FieldViolated reports whether the error contains a violation for field.
func (e *ValidationError) FieldViolated(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

// NewValidationError creates a ValidationError with a single violation.
func NewValidationError(field, message string) *ValidationError {
	e := &ValidationError{}
	e.Add(field, message)
	return e
}

// InvalidTransitionError reports a stale or illegal order status change.
// It is non-fatal: polling loops log it and drop the snapshot.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(from, to, reason string) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to, Reason: reason}
}

// APIError represents an error response from the trading API.
type APIError struct {
	StatusCode int
	Message    string
	Body       map[string]interface{}
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError.
func NewAPIError(statusCode int, message string, body map[string]interface{}) *APIError {
	return &APIError{StatusCode: statusCode, Message: message, Body: body}
}

// WrapAPIError creates an APIError wrapping a transport-level failure.
func WrapAPIError(message string, err error) *APIError {
	return &APIError{Message: message, Err: err}
}

// RateLimitError represents a 429 response. RetryAfter is zero when the
// server sent no Retry-After header.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(message string, retryAfter time.Duration) *RateLimitError {
	if message == "" {
		message = "too many requests"
	}
	return &RateLimitError{Message: message, RetryAfter: retryAfter}
}

// WaitTimeoutError reports that a wait primitive exceeded its deadline.
// LastStatus carries the last order status observed before the deadline.
type WaitTimeoutError struct {
	OrderID    string
	LastStatus string
	Timeout    time.Duration
}

func (e *WaitTimeoutError) Error() string {
	if e.LastStatus != "" {
		return fmt.Sprintf("timed out after %s waiting on order %s (last status %s)",
			e.Timeout, e.OrderID, e.LastStatus)
	}
	return fmt.Sprintf("timed out after %s waiting on order %s", e.Timeout, e.OrderID)
}

// NewWaitTimeoutError creates a new WaitTimeoutError.
func NewWaitTimeoutError(orderID, lastStatus string, timeout time.Duration) *WaitTimeoutError {
	return &WaitTimeoutError{OrderID: orderID, LastStatus: lastStatus, Timeout: timeout}
}

// CsrfValidationError reports an OAuth state mismatch or reuse. The exchange
// attempt it belongs to is unrecoverable.
type CsrfValidationError struct {
	Reason string
}

func (e *CsrfValidationError) Error() string {
	return fmt.Sprintf("csrf validation failed: %s", e.Reason)
}

// NewCsrfValidationError creates a new CsrfValidationError.
func NewCsrfValidationError(reason string) *CsrfValidationError {
	return &CsrfValidationError{Reason: reason}
}

// TokenRefreshError reports a failed credential refresh. Callers never
// receive the stale cached token in its place.
type TokenRefreshError struct {
	Err error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error {
	return e.Err
}

// NewTokenRefreshError creates a new TokenRefreshError.
func NewTokenRefreshError(err error) *TokenRefreshError {
	return &TokenRefreshError{Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
