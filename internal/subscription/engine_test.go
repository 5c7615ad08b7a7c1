package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "public-trader/internal/errors"
	"public-trader/internal/models"
)

// scriptedFetcher replays a sequence of order snapshots, holding the last one
// once the script is exhausted.
type scriptedFetcher struct {
	mu      sync.Mutex
	states  []models.Order
	idx     int
	calls   int32
	failErr error
}

func (f *scriptedFetcher) fetch(ctx context.Context, orderID string) (*models.Order, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	if len(f.states) == 0 {
		return nil, apperrors.ErrOrderNotFound
	}
	state := f.states[f.idx]
	if f.idx < len(f.states)-1 {
		f.idx++
	}
	return &state, nil
}

func (f *scriptedFetcher) fetchCalls() int32 {
	return atomic.LoadInt32(&f.calls)
}

func orderAt(status models.OrderStatus, filled float64, ts time.Time) models.Order {
	return models.Order{
		OrderID:        "ord-1",
		Instrument:     models.Instrument{Symbol: "AAPL", Type: models.InstrumentEquity},
		Side:           models.OrderSideBuy,
		Type:           models.OrderTypeMarket,
		Status:         status,
		Quantity:       10,
		FilledQuantity: filled,
		UpdatedAt:      ts,
	}
}

func fastConfig() models.SubscriptionConfig {
	return models.SubscriptionConfig{
		PollingInterval: models.MinPollingInterval,
		RetryOnError:    true,
		MaxRetries:      3,
	}
}

// collectUpdates drains updates into a slice under a mutex.
type updateCollector struct {
	mu      sync.Mutex
	updates []models.OrderUpdate
}

func (c *updateCollector) callback(u models.OrderUpdate) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func (c *updateCollector) snapshot() []models.OrderUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.OrderUpdate, len(c.updates))
	copy(out, c.updates)
	return out
}

func (c *updateCollector) waitForCount(t *testing.T, n int, timeout time.Duration) []models.OrderUpdate {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := c.snapshot()
	t.Fatalf("timed out waiting for %d updates, got %d: %v", n, len(got), got)
	return nil
}

func TestSubscribeValidatesInput(t *testing.T) {
	e := NewEngine(func(ctx context.Context, orderID string) (*models.Order, error) {
		return nil, apperrors.ErrOrderNotFound
	}, nil, zerolog.Nop())
	defer e.Stop()

	if _, err := e.Subscribe("", fastConfig(), func(models.OrderUpdate) {}); err == nil {
		t.Error("empty order id must be rejected")
	}
	if _, err := e.Subscribe("ord-1", fastConfig(), nil); err == nil {
		t.Error("nil callback must be rejected")
	}

	bad := fastConfig()
	bad.PollingInterval = time.Millisecond
	if _, err := e.Subscribe("ord-1", bad, func(models.OrderUpdate) {}); err == nil {
		t.Error("out-of-range polling interval must be rejected")
	}
}

func TestEngineDeliversStatusProgression(t *testing.T) {
	base := time.Now()
	fetcher := &scriptedFetcher{states: []models.Order{
		orderAt(models.OrderStatusNew, 0, base),
		orderAt(models.OrderStatusOpen, 0, base.Add(time.Second)),
		orderAt(models.OrderStatusPartiallyFilled, 4, base.Add(2*time.Second)),
		orderAt(models.OrderStatusFilled, 10, base.Add(3*time.Second)),
	}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var c updateCollector
	if _, err := e.Subscribe("ord-1", fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	updates := c.waitForCount(t, 4, 5*time.Second)

	// The first update is the baseline observation.
	if updates[0].OldStatus != models.OrderStatusNew || updates[0].NewStatus != models.OrderStatusNew {
		t.Errorf("baseline update should carry the initial status, got %+v", updates[0])
	}
	want := []models.OrderStatus{
		models.OrderStatusNew, models.OrderStatusOpen,
		models.OrderStatusPartiallyFilled, models.OrderStatusFilled,
	}
	for i, status := range want {
		if updates[i].NewStatus != status {
			t.Errorf("update %d: expected %s, got %s", i, status, updates[i].NewStatus)
		}
	}
	if updates[3].FilledQuantity != 10 {
		t.Errorf("final update should carry filled quantity, got %v", updates[3].FilledQuantity)
	}
}

func TestEngineSharesPollLoopAcrossSubscribers(t *testing.T) {
	base := time.Now()
	fetcher := &scriptedFetcher{states: []models.Order{
		orderAt(models.OrderStatusOpen, 0, base),
		orderAt(models.OrderStatusFilled, 10, base.Add(time.Second)),
	}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var c1, c2 updateCollector
	h1, err := e.Subscribe("ord-1", fastConfig(), c1.callback)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := e.Subscribe("ord-1", fastConfig(), c2.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if got := e.SubscriberCount("ord-1"); got != 2 {
		t.Errorf("expected 2 subscribers, got %d", got)
	}
	if got := len(e.ActiveOrders()); got != 1 {
		t.Errorf("two subscriptions to one order must share a loop, got %d loops", got)
	}

	c1.waitForCount(t, 2, 5*time.Second)
	c2.waitForCount(t, 2, 5*time.Second)

	// Removing one subscriber leaves the loop running for the survivor.
	if err := e.Unsubscribe(h1); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got := e.SubscriberCount("ord-1"); got != 1 {
		t.Errorf("expected 1 subscriber after unsubscribe, got %d", got)
	}
	if got := len(e.ActiveOrders()); got != 1 {
		t.Errorf("loop must survive while a subscriber remains, got %d loops", got)
	}
}

func TestSubscribeShortensIntervalInFlight(t *testing.T) {
	fetcher := &scriptedFetcher{states: []models.Order{orderAt(models.OrderStatusOpen, 0, time.Now())}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	slow := models.SubscriptionConfig{
		PollingInterval: 30 * time.Second,
		RetryOnError:    true,
		MaxRetries:      3,
	}
	var c updateCollector
	if _, err := e.Subscribe("ord-1", slow, c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// A second registration with a shorter interval must take effect
	// before the 30s sleep already in flight completes.
	if _, err := e.Subscribe("ord-1", fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.waitForCount(t, 1, 2*time.Second)
}

func TestUnsubscribeLastStopsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{states: []models.Order{orderAt(models.OrderStatusOpen, 0, time.Now())}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	h, err := e.Subscribe("ord-1", fastConfig(), func(models.OrderUpdate) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	if err := e.Unsubscribe(h); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got := len(e.ActiveOrders()); got != 0 {
		t.Fatalf("expected no active loops, got %d", got)
	}

	// Wait out any in-flight cycle, then confirm polling stopped.
	time.Sleep(250 * time.Millisecond)
	calls := fetcher.fetchCalls()
	time.Sleep(300 * time.Millisecond)
	if fetcher.fetchCalls() != calls {
		t.Error("fetches continued after the last unsubscribe")
	}

	if err := e.Unsubscribe(h); err != apperrors.ErrSubscriptionNotFound {
		t.Errorf("double unsubscribe should report ErrSubscriptionNotFound, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	base := time.Now()
	fetcher := &scriptedFetcher{states: []models.Order{
		orderAt(models.OrderStatusNew, 0, base),
		orderAt(models.OrderStatusOpen, 0, base.Add(time.Second)),
		orderAt(models.OrderStatusPartiallyFilled, 2, base.Add(2*time.Second)),
		orderAt(models.OrderStatusFilled, 10, base.Add(3*time.Second)),
	}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var paused, active updateCollector
	hPaused, err := e.Subscribe("ord-1", fastConfig(), paused.callback)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := e.Subscribe("ord-1", fastConfig(), active.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := e.Pause(hPaused); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	active.waitForCount(t, 4, 5*time.Second)
	if got := paused.snapshot(); len(got) != 0 {
		t.Errorf("paused subscriber received %d updates", len(got))
	}

	// Resume delivers future updates only; the missed ones stay missed.
	if err := e.Resume(hPaused); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := e.Pause("no-such-handle"); err != apperrors.ErrSubscriptionNotFound {
		t.Errorf("unknown handle should report ErrSubscriptionNotFound, got %v", err)
	}
}

func TestCallbackPanicDoesNotKillLoop(t *testing.T) {
	base := time.Now()
	fetcher := &scriptedFetcher{states: []models.Order{
		orderAt(models.OrderStatusOpen, 0, base),
		orderAt(models.OrderStatusFilled, 10, base.Add(time.Second)),
	}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var sane updateCollector
	if _, err := e.Subscribe("ord-1", fastConfig(), func(models.OrderUpdate) {
		panic("callback exploded")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := e.Subscribe("ord-1", fastConfig(), sane.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Both the baseline and the transition arrive despite the panicking
	// sibling callback.
	sane.waitForCount(t, 2, 5*time.Second)
}

func TestStaleSnapshotsDropped(t *testing.T) {
	base := time.Now()
	fetcher := &scriptedFetcher{states: []models.Order{
		orderAt(models.OrderStatusOpen, 0, base),
		orderAt(models.OrderStatusPartiallyFilled, 5, base.Add(2*time.Second)),
		// Out-of-order snapshot: older timestamp, earlier status.
		orderAt(models.OrderStatusOpen, 0, base.Add(time.Second)),
	}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var c updateCollector
	if _, err := e.Subscribe("ord-1", fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	c.waitForCount(t, 2, 5*time.Second)
	time.Sleep(500 * time.Millisecond)

	for _, u := range c.snapshot() {
		if u.NewStatus == models.OrderStatusOpen && u.OldStatus == models.OrderStatusPartiallyFilled {
			t.Errorf("stale regression was delivered: %+v", u)
		}
	}
	if cached, ok := e.CachedOrder("ord-1"); !ok || cached.Status != models.OrderStatusPartiallyFilled {
		t.Errorf("cache should hold the newest snapshot, got %+v", cached)
	}
}

func TestInvalidTransitionsDropped(t *testing.T) {
	base := time.Now()
	fetcher := &scriptedFetcher{states: []models.Order{
		orderAt(models.OrderStatusFilled, 10, base),
		// A terminal order must not resurrect even with a newer timestamp.
		orderAt(models.OrderStatusOpen, 0, base.Add(time.Second)),
	}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var c updateCollector
	if _, err := e.Subscribe("ord-1", fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	updates := c.waitForCount(t, 1, 5*time.Second)
	time.Sleep(500 * time.Millisecond)

	for _, u := range c.snapshot() {
		if u.NewStatus != models.OrderStatusFilled {
			t.Errorf("update left the terminal status: %+v", u)
		}
	}
	if updates[0].NewStatus != models.OrderStatusFilled {
		t.Errorf("baseline should be FILLED, got %s", updates[0].NewStatus)
	}
}

func TestRetryPolicyTearsDownAfterExhaustion(t *testing.T) {
	fetcher := &scriptedFetcher{failErr: apperrors.ErrConnectionFailed}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	cfg := fastConfig()
	cfg.MaxRetries = 2
	if _, err := e.Subscribe("ord-1", cfg, func(models.OrderUpdate) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.ActiveOrders()) == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(e.ActiveOrders()); got != 0 {
		t.Fatalf("loop should abandon the order after retries are exhausted, still %d active", got)
	}
	if got := e.SubscriberCount("ord-1"); got != 0 {
		t.Errorf("registrations should be removed with the loop, got %d", got)
	}
}

func TestRetryDisabledFailsFast(t *testing.T) {
	fetcher := &scriptedFetcher{failErr: apperrors.ErrConnectionFailed}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	cfg := fastConfig()
	cfg.RetryOnError = false
	if _, err := e.Subscribe("ord-1", cfg, func(models.OrderUpdate) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.ActiveOrders()) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if fetcher.fetchCalls() != 1 {
		t.Errorf("expected a single fetch before giving up, got %d", fetcher.fetchCalls())
	}
}

func TestUnsubscribeAll(t *testing.T) {
	fetcher := &scriptedFetcher{states: []models.Order{orderAt(models.OrderStatusOpen, 0, time.Now())}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	for _, id := range []string{"ord-1", "ord-2", "ord-3"} {
		if _, err := e.Subscribe(id, fastConfig(), func(models.OrderUpdate) {}); err != nil {
			t.Fatalf("Subscribe %s: %v", id, err)
		}
	}
	if got := len(e.ActiveOrders()); got != 3 {
		t.Fatalf("expected 3 loops, got %d", got)
	}

	e.UnsubscribeAll()
	if got := len(e.ActiveOrders()); got != 0 {
		t.Errorf("expected no loops after UnsubscribeAll, got %d", got)
	}

	// The engine remains usable afterwards.
	if _, err := e.Subscribe("ord-4", fastConfig(), func(models.OrderUpdate) {}); err != nil {
		t.Errorf("Subscribe after UnsubscribeAll: %v", err)
	}
}

func TestStopRejectsNewSubscriptions(t *testing.T) {
	fetcher := &scriptedFetcher{states: []models.Order{orderAt(models.OrderStatusOpen, 0, time.Now())}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())

	if _, err := e.Subscribe("ord-1", fastConfig(), func(models.OrderUpdate) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	e.Stop()

	if _, err := e.Subscribe("ord-2", fastConfig(), func(models.OrderUpdate) {}); err != apperrors.ErrEngineStopped {
		t.Errorf("expected ErrEngineStopped, got %v", err)
	}

	// Stop is idempotent.
	e.Stop()
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	fetcher := &scriptedFetcher{states: []models.Order{orderAt(models.OrderStatusOpen, 0, time.Now())}}
	e := NewEngine(fetcher.fetch, nil, zerolog.Nop())
	defer e.Stop()

	var wg sync.WaitGroup
	orderIDs := []string{"ord-1", "ord-2", "ord-3", "ord-4"}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				h, err := e.Subscribe(orderIDs[(i+j)%len(orderIDs)], fastConfig(), func(models.OrderUpdate) {})
				if err != nil {
					t.Errorf("Subscribe: %v", err)
					return
				}
				if j%2 == 0 {
					e.Pause(h)
					e.Resume(h)
				}
				if err := e.Unsubscribe(h); err != nil {
					t.Errorf("Unsubscribe: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// Every handle was released, so the registry must be empty.
	for _, id := range orderIDs {
		if got := e.SubscriberCount(id); got != 0 {
			t.Errorf("%s: expected 0 subscribers, got %d", id, got)
		}
	}
	if got := len(e.ActiveOrders()); got != 0 {
		t.Errorf("expected no active loops, got %d", got)
	}
}
