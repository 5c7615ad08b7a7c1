package subscription

import (
	"context"
	"time"

	apperrors "public-trader/internal/errors"
	"public-trader/internal/models"
)

// waitPollInterval is the polling interval used by wait primitives' internal
// subscriptions. Kept at the minimum so deadlines stay tight.
const waitPollInterval = models.MinPollingInterval

// WaitForStatus blocks until the order's status is a member of targets or
// the timeout elapses. A target already met at call time returns
// immediately. On timeout the returned error is a WaitTimeoutError carrying
// the last observed status. The internal subscription is always removed
// before return.
func (e *Engine) WaitForStatus(ctx context.Context, orderID string, targets []models.OrderStatus, timeout time.Duration) (models.Order, error) {
	set := make(map[models.OrderStatus]bool, len(targets))
	for _, s := range targets {
		set[s] = true
	}
	return e.waitFor(ctx, orderID, timeout, func(o models.Order) bool {
		return set[o.Status]
	})
}

// WaitForFill waits until the order is filled, counting a partial fill that
// covers the full quantity as filled.
func (e *Engine) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (models.Order, error) {
	return e.waitFor(ctx, orderID, timeout, func(o models.Order) bool {
		return o.IsFullyFilled()
	})
}

// WaitForTerminalStatus waits until the order reaches any terminal status.
// An already terminal order returns without blocking.
func (e *Engine) WaitForTerminalStatus(ctx context.Context, orderID string, timeout time.Duration) (models.Order, error) {
	return e.waitFor(ctx, orderID, timeout, func(o models.Order) bool {
		return o.Status.IsTerminal()
	})
}

func (e *Engine) waitFor(ctx context.Context, orderID string, timeout time.Duration, satisfied func(models.Order) bool) (models.Order, error) {
	// Fast path: cached or directly fetched state already satisfies the
	// predicate, so no subscription and no sleep is needed.
	current, ok := e.CachedOrder(orderID)
	if !ok {
		fetched, err := e.fetch(ctx, orderID)
		if err != nil {
			return models.Order{}, err
		}
		current = fetched
	}
	if current != nil && satisfied(*current) {
		return *current, nil
	}

	lastStatus := models.OrderStatus("")
	if current != nil {
		lastStatus = current.Status
	}

	updates := make(chan models.OrderUpdate, 16)
	handle, err := e.Subscribe(orderID,
		models.SubscriptionConfig{PollingInterval: waitPollInterval, RetryOnError: true, MaxRetries: 3},
		func(u models.OrderUpdate) {
			select {
			case updates <- u:
			default:
			}
		})
	if err != nil {
		return models.Order{}, err
	}
	defer func() {
		_ = e.Unsubscribe(handle)
	}()

	// The poll loop may have applied the satisfying transition between the
	// read above and the registration landing; such an update is never
	// re-dispatched, so re-check the cache now that the callback is
	// registered.
	if cached, ok := e.CachedOrder(orderID); ok {
		lastStatus = cached.Status
		if satisfied(*cached) {
			return *cached, nil
		}
	}

	// time.Timer gives a monotonic deadline, immune to wall clock jumps.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case u := <-updates:
			lastStatus = u.NewStatus
			if satisfied(u.Order) {
				return u.Order, nil
			}
		case <-timer.C:
			return models.Order{}, apperrors.NewWaitTimeoutError(orderID, string(lastStatus), timeout)
		case <-ctx.Done():
			return models.Order{}, ctx.Err()
		}
	}
}
