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

func equity(symbol string) models.Instrument {
	return models.Instrument{Symbol: symbol, Type: models.InstrumentEquity}
}

// quoteSource serves monotonically increasing prices and records the batch
// composition of each fetch.
type quoteSource struct {
	mu      sync.Mutex
	price   float64
	batches [][]models.Instrument
	calls   int32
}

func (s *quoteSource) fetch(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]models.Instrument(nil), instruments...))
	s.price++
	quotes := make([]models.Quote, len(instruments))
	for i, instr := range instruments {
		quotes[i] = models.Quote{
			Instrument: instr,
			Last:       s.price,
			Bid:        s.price - 0.01,
			Ask:        s.price + 0.01,
			Timestamp:  time.Now(),
		}
	}
	return quotes, nil
}

func (s *quoteSource) fetchCalls() int32 {
	return atomic.LoadInt32(&s.calls)
}

func (s *quoteSource) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

type quoteCollector struct {
	mu      sync.Mutex
	updates []models.QuoteUpdate
}

func (c *quoteCollector) callback(u models.QuoteUpdate) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func (c *quoteCollector) snapshot() []models.QuoteUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.QuoteUpdate, len(c.updates))
	copy(out, c.updates)
	return out
}

func (c *quoteCollector) waitForCount(t *testing.T, n int, timeout time.Duration) []models.QuoteUpdate {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d quote updates, got %d", n, len(c.snapshot()))
	return nil
}

func TestPriceSubscribeValidatesInput(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())

	if _, err := e.Subscribe(nil, fastConfig(), func(models.QuoteUpdate) {}); err == nil {
		t.Error("empty instrument list must be rejected")
	}
	if _, err := e.Subscribe([]models.Instrument{equity("AAPL")}, fastConfig(), nil); err == nil {
		t.Error("nil callback must be rejected")
	}
}

func TestPriceEngineDeliversUpdates(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())
	e.Start()
	defer e.Stop()

	var c quoteCollector
	if _, err := e.Subscribe([]models.Instrument{equity("AAPL")}, fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	updates := c.waitForCount(t, 3, 5*time.Second)

	// First observation has no previous quote; later ones do.
	if updates[0].Previous != nil {
		t.Error("first update should have no previous quote")
	}
	if updates[1].Previous == nil {
		t.Fatal("second update should carry the previous quote")
	}
	if updates[1].Previous.Last != updates[0].Current.Last {
		t.Errorf("previous quote mismatch: %v vs %v",
			updates[1].Previous.Last, updates[0].Current.Last)
	}
	if updates[0].Instrument.Symbol != "AAPL" {
		t.Errorf("unexpected instrument %s", updates[0].Instrument.Symbol)
	}
}

// All subscribed instruments across all subscriptions share one batched
// fetch per cycle.
func TestPriceEngineBatchesFetches(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())
	e.Start()
	defer e.Stop()

	var c1, c2 quoteCollector
	if _, err := e.Subscribe([]models.Instrument{equity("AAPL"), equity("MSFT")}, fastConfig(), c1.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// MSFT overlaps with the first subscription and must not be fetched
	// twice in a cycle.
	if _, err := e.Subscribe([]models.Instrument{equity("MSFT"), equity("TSLA")}, fastConfig(), c2.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	c1.waitForCount(t, 2, 5*time.Second)
	c2.waitForCount(t, 2, 5*time.Second)

	for _, size := range src.batchSizes() {
		if size > 3 {
			t.Errorf("batch contained %d instruments, expected at most 3 distinct", size)
		}
	}
}

func TestPriceEnginePauseResume(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())
	e.Start()
	defer e.Stop()

	var c quoteCollector
	h, err := e.Subscribe([]models.Instrument{equity("AAPL")}, fastConfig(), c.callback)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	c.waitForCount(t, 1, 5*time.Second)
	if err := e.Pause(h); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := len(e.ActiveSubscriptions()); got != 0 {
		t.Errorf("paused subscription should not be active, got %d", got)
	}

	time.Sleep(300 * time.Millisecond)
	count := len(c.snapshot())
	time.Sleep(300 * time.Millisecond)
	if got := len(c.snapshot()); got != count {
		t.Errorf("paused subscription received %d new updates", got-count)
	}

	if err := e.Resume(h); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	c.waitForCount(t, count+1, 5*time.Second)
}

func TestPriceEngineUnsubscribeAllClearsState(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())
	e.Start()
	defer e.Stop()

	var c quoteCollector
	if _, err := e.Subscribe([]models.Instrument{equity("AAPL")}, fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := e.Subscribe([]models.Instrument{equity("MSFT")}, fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.waitForCount(t, 2, 5*time.Second)

	e.UnsubscribeAll()
	if got := e.SubscriptionCount(); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}

	// With no subscriptions the loop stops fetching.
	time.Sleep(200 * time.Millisecond)
	calls := src.fetchCalls()
	time.Sleep(300 * time.Millisecond)
	if src.fetchCalls() != calls {
		t.Error("fetches continued with no subscriptions")
	}
}

func TestPriceEngineCallbackPanicIsolated(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())
	e.Start()
	defer e.Stop()

	var c quoteCollector
	if _, err := e.Subscribe([]models.Instrument{equity("AAPL")}, fastConfig(), func(models.QuoteUpdate) {
		panic("boom")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := e.Subscribe([]models.Instrument{equity("AAPL")}, fastConfig(), c.callback); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	c.waitForCount(t, 2, 5*time.Second)
}

func TestPriceEngineUnsubscribeUnknownHandle(t *testing.T) {
	src := &quoteSource{}
	e := NewPriceEngine(src.fetch, zerolog.Nop())

	if err := e.Unsubscribe("nope"); err != apperrors.ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
