// Package subscription provides polling-based order and quote update
// delivery with callback dispatch and blocking wait primitives.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "public-trader/internal/errors"
	"public-trader/internal/models"
)

// OrderFetcher retrieves the current state of an order.
type OrderFetcher func(ctx context.Context, orderID string) (*models.Order, error)

// OrderCallback is invoked with each detected order change. Callbacks run on
// the poll loop's goroutine, never on the subscriber's call stack.
type OrderCallback func(update models.OrderUpdate)

// Handle identifies one subscription registration.
type Handle string

const fetchTimeout = 10 * time.Second

// Engine maintains one polling loop per subscribed order and dispatches
// updates to registered callbacks. It exclusively owns the order-state
// cache.
type Engine struct {
	fetch       OrderFetcher
	transitions models.TransitionTable
	log         zerolog.Logger

	mu      sync.RWMutex
	targets map[string]*pollTarget
	handles map[Handle]*registration
	stopped bool

	wg sync.WaitGroup
}

type registration struct {
	id       Handle
	orderID  string
	callback OrderCallback
	config   models.SubscriptionConfig
	paused   bool
}

type pollTarget struct {
	orderID string
	stopCh  chan struct{}
	// wake nudges the poll loop to re-arm its timer when a registration
	// change lowers the effective interval.
	wake chan struct{}

	// Cached state, guarded by Engine.mu.
	lastOrder *models.Order
	lastTS    time.Time
	failures  int
}

// NewEngine creates a subscription engine polling through fetch.
func NewEngine(fetch OrderFetcher, transitions models.TransitionTable, log zerolog.Logger) *Engine {
	if transitions == nil {
		transitions = models.DefaultTransitionTable()
	}
	return &Engine{
		fetch:       fetch,
		transitions: transitions,
		log:         log,
		targets:     make(map[string]*pollTarget),
		handles:     make(map[Handle]*registration),
	}
}

// Subscribe registers a callback for an order's updates. Subscriptions to
// the same order share one poll loop and cached state but keep independent
// callbacks and pause state.
func (e *Engine) Subscribe(orderID string, config models.SubscriptionConfig, callback OrderCallback) (Handle, error) {
	if orderID == "" {
		return "", apperrors.NewValidationError("orderId", "order id is required")
	}
	if callback == nil {
		return "", apperrors.NewValidationError("callback", "callback is required")
	}
	if err := config.Validate(); err != nil {
		return "", err
	}

	reg := &registration{
		id:       Handle(uuid.NewString()),
		orderID:  orderID,
		callback: callback,
		config:   config,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return "", apperrors.ErrEngineStopped
	}

	e.handles[reg.id] = reg
	if t, ok := e.targets[orderID]; ok {
		// The new registration may carry a shorter interval; wake the
		// loop so it applies before the sleep already in flight ends.
		select {
		case t.wake <- struct{}{}:
		default:
		}
	} else {
		t := &pollTarget{
			orderID: orderID,
			stopCh:  make(chan struct{}),
			wake:    make(chan struct{}, 1),
		}
		e.targets[orderID] = t
		e.wg.Add(1)
		go e.pollLoop(t)
	}
	return reg.id, nil
}

// Unsubscribe removes a registration. The last registration on an order
// stops that order's poll loop before its next cycle; no background
// activity for the order survives the call.
func (e *Engine) Unsubscribe(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(h)
}

func (e *Engine) removeLocked(h Handle) error {
	reg, ok := e.handles[h]
	if !ok {
		return apperrors.ErrSubscriptionNotFound
	}
	delete(e.handles, h)

	if e.countLocked(reg.orderID) == 0 {
		if t, ok := e.targets[reg.orderID]; ok {
			close(t.stopCh)
			delete(e.targets, reg.orderID)
		}
	}
	return nil
}

// Pause suspends delivery to one registration without touching others on
// the same order.
func (e *Engine) Pause(h Handle) error {
	return e.setPaused(h, true)
}

// Resume re-enables delivery to a paused registration.
func (e *Engine) Resume(h Handle) error {
	return e.setPaused(h, false)
}

func (e *Engine) setPaused(h Handle, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.handles[h]
	if !ok {
		return apperrors.ErrSubscriptionNotFound
	}
	reg.paused = paused
	return nil
}

// UnsubscribeAll removes every registration and stops every poll loop.
func (e *Engine) UnsubscribeAll() {
	e.mu.Lock()
	for id := range e.handles {
		delete(e.handles, id)
	}
	for key, t := range e.targets {
		close(t.stopCh)
		delete(e.targets, key)
	}
	e.mu.Unlock()
}

// Stop shuts the engine down and blocks until every poll loop has exited.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for id := range e.handles {
		delete(e.handles, id)
	}
	for key, t := range e.targets {
		close(t.stopCh)
		delete(e.targets, key)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// CachedOrder returns the engine's last observed snapshot for an order.
func (e *Engine) CachedOrder(orderID string) (*models.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.targets[orderID]
	if !ok || t.lastOrder == nil {
		return nil, false
	}
	snapshot := *t.lastOrder
	return &snapshot, true
}

// SubscriberCount returns the number of registrations for an order.
func (e *Engine) SubscriberCount(orderID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.countLocked(orderID)
}

// ActiveOrders returns the order ids with running poll loops.
func (e *Engine) ActiveOrders() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.targets))
	for id := range e.targets {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) countLocked(orderID string) int {
	n := 0
	for _, reg := range e.handles {
		if reg.orderID == orderID {
			n++
		}
	}
	return n
}

// intervalFor returns the shortest interval among the order's registrations.
func (e *Engine) intervalFor(orderID string) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	interval := models.MaxPollingInterval
	found := false
	for _, reg := range e.handles {
		if reg.orderID != orderID {
			continue
		}
		found = true
		if reg.config.PollingInterval < interval {
			interval = reg.config.PollingInterval
		}
	}
	if !found {
		return models.DefaultSubscriptionConfig().PollingInterval
	}
	return interval
}

func (e *Engine) pollLoop(t *pollTarget) {
	defer e.wg.Done()

	timer := time.NewTimer(e.intervalFor(t.orderID))
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-t.wake:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(e.intervalFor(t.orderID))
			continue
		case <-timer.C:
		}

		if !e.pollOnce(t) {
			return
		}

		select {
		case <-t.stopCh:
			return
		default:
		}
		timer.Reset(e.intervalFor(t.orderID))
	}
}

// pollOnce runs one fetch-diff-dispatch cycle. It returns false when the
// loop should give up on the target.
func (e *Engine) pollOnce(t *pollTarget) bool {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	order, err := e.fetch(ctx, t.orderID)
	cancel()

	if err != nil {
		return e.recordFailure(t, err)
	}
	if order == nil {
		return e.recordFailure(t, apperrors.ErrOrderNotFound)
	}

	update, callbacks := e.applySnapshot(t, order)
	if update == nil {
		return true
	}

	for _, cb := range callbacks {
		e.dispatch(t.orderID, cb, *update)
	}
	return true
}

func (e *Engine) recordFailure(t *pollTarget, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t.failures++
	retry, maxRetries := e.retryPolicyLocked(t.orderID)
	e.log.Warn().Err(err).Str("order_id", t.orderID).Int("failures", t.failures).
		Msg("Order poll failed")

	if retry && t.failures <= maxRetries {
		return true
	}

	// Give up: tear the target down so no stale loop lingers.
	for id, reg := range e.handles {
		if reg.orderID == t.orderID {
			delete(e.handles, id)
		}
	}
	if cur, ok := e.targets[t.orderID]; ok && cur == t {
		delete(e.targets, t.orderID)
	}
	e.log.Error().Str("order_id", t.orderID).Msg("Order poll loop abandoned after repeated failures")
	return false
}

// retryPolicyLocked picks the most permissive retry policy among the
// order's registrations.
func (e *Engine) retryPolicyLocked(orderID string) (bool, int) {
	retry := false
	maxRetries := 0
	for _, reg := range e.handles {
		if reg.orderID != orderID {
			continue
		}
		if reg.config.RetryOnError {
			retry = true
			if reg.config.MaxRetries > maxRetries {
				maxRetries = reg.config.MaxRetries
			}
		}
	}
	return retry, maxRetries
}

// applySnapshot diffs a fetched snapshot against the cache and, when it
// represents a new observation, returns the update to deliver plus the
// active callbacks. Stale (older timestamp) and table-invalid transitions
// are dropped.
func (e *Engine) applySnapshot(t *pollTarget, order *models.Order) (*models.OrderUpdate, []OrderCallback) {
	ts := order.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t.failures = 0

	prev := t.lastOrder
	if prev != nil {
		if ts.Before(t.lastTS) {
			e.log.Debug().Str("order_id", t.orderID).
				Time("snapshot_ts", ts).Time("last_ts", t.lastTS).
				Msg("Dropping stale order snapshot")
			return nil, nil
		}
		if prev.Status == order.Status && prev.FilledQuantity == order.FilledQuantity {
			t.lastTS = ts
			return nil, nil
		}
		if prev.Status != order.Status {
			if _, err := e.transitions.Apply(prev.Status, order.Status); err != nil {
				e.log.Warn().Err(err).Str("order_id", t.orderID).
					Msg("Dropping snapshot with invalid status transition")
				return nil, nil
			}
		}
	}

	snapshot := *order
	t.lastOrder = &snapshot
	t.lastTS = ts

	oldStatus := order.Status
	if prev != nil {
		oldStatus = prev.Status
	}
	update := &models.OrderUpdate{
		OrderID:        t.orderID,
		OldStatus:      oldStatus,
		NewStatus:      order.Status,
		FilledQuantity: order.FilledQuantity,
		Timestamp:      ts,
		Order:          snapshot,
	}

	var callbacks []OrderCallback
	for _, reg := range e.handles {
		if reg.orderID == t.orderID && !reg.paused {
			callbacks = append(callbacks, reg.callback)
		}
	}
	return update, callbacks
}

// dispatch invokes one callback, containing panics so a failing callback
// neither kills the poll loop nor starves other callbacks.
func (e *Engine) dispatch(orderID string, cb OrderCallback, update models.OrderUpdate) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("order_id", orderID).
				Msg("Order update callback panicked")
		}
	}()
	cb(update)
}
