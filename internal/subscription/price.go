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

// QuoteFetcher retrieves quotes for a batch of instruments.
type QuoteFetcher func(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error)

// QuoteCallback is invoked with each quote observation.
type QuoteCallback func(update models.QuoteUpdate)

// PriceEngine polls quotes for subscribed instruments on a single loop,
// batching all instruments into one fetch per cycle.
type PriceEngine struct {
	fetch QuoteFetcher
	log   zerolog.Logger

	mu         sync.RWMutex
	subs       map[Handle]*priceSubscription
	lastQuotes map[string]models.Quote
	started    bool
	stopCh     chan struct{}

	wg sync.WaitGroup
}

type priceSubscription struct {
	id          Handle
	instruments []models.Instrument
	callback    QuoteCallback
	config      models.SubscriptionConfig
	paused      bool
}

// NewPriceEngine creates a quote polling engine.
func NewPriceEngine(fetch QuoteFetcher, log zerolog.Logger) *PriceEngine {
	return &PriceEngine{
		fetch:      fetch,
		log:        log,
		subs:       make(map[Handle]*priceSubscription),
		lastQuotes: make(map[string]models.Quote),
	}
}

// Start launches the poll loop. Starting an already started engine is a
// no-op.
func (e *PriceEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.pollLoop(e.stopCh)
}

// Stop halts the poll loop and waits for it to exit.
func (e *PriceEngine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.mu.Unlock()
	e.wg.Wait()
}

// Subscribe registers a callback for quote updates on the instruments.
func (e *PriceEngine) Subscribe(instruments []models.Instrument, config models.SubscriptionConfig, callback QuoteCallback) (Handle, error) {
	if len(instruments) == 0 {
		return "", apperrors.NewValidationError("instruments", "at least one instrument is required")
	}
	if callback == nil {
		return "", apperrors.NewValidationError("callback", "callback is required")
	}
	if err := config.Validate(); err != nil {
		return "", err
	}

	sub := &priceSubscription{
		id:          Handle(uuid.NewString()),
		instruments: append([]models.Instrument(nil), instruments...),
		callback:    callback,
		config:      config,
	}

	e.mu.Lock()
	e.subs[sub.id] = sub
	e.mu.Unlock()
	return sub.id, nil
}

// Unsubscribe removes a registration and drops cached quotes no other
// registration references.
func (e *PriceEngine) Unsubscribe(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[h]; !ok {
		return apperrors.ErrSubscriptionNotFound
	}
	delete(e.subs, h)
	e.pruneQuotesLocked()
	return nil
}

// UnsubscribeAll removes every registration and clears the quote cache.
func (e *PriceEngine) UnsubscribeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.subs {
		delete(e.subs, id)
	}
	e.pruneQuotesLocked()
}

// Pause suspends delivery to one registration.
func (e *PriceEngine) Pause(h Handle) error {
	return e.setPaused(h, true)
}

// Resume re-enables delivery to a paused registration.
func (e *PriceEngine) Resume(h Handle) error {
	return e.setPaused(h, false)
}

func (e *PriceEngine) setPaused(h Handle, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[h]
	if !ok {
		return apperrors.ErrSubscriptionNotFound
	}
	sub.paused = paused
	return nil
}

// SubscriptionCount returns the number of live registrations.
func (e *PriceEngine) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// ActiveSubscriptions returns the handles currently receiving updates.
func (e *PriceEngine) ActiveSubscriptions() []Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handles := make([]Handle, 0, len(e.subs))
	for id, sub := range e.subs {
		if !sub.paused {
			handles = append(handles, id)
		}
	}
	return handles
}

func (e *PriceEngine) pruneQuotesLocked() {
	referenced := make(map[string]bool)
	for _, sub := range e.subs {
		for _, instr := range sub.instruments {
			referenced[instr.Key()] = true
		}
	}
	for key := range e.lastQuotes {
		if !referenced[key] {
			delete(e.lastQuotes, key)
		}
	}
}

func (e *PriceEngine) interval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	interval := models.DefaultSubscriptionConfig().PollingInterval
	for _, sub := range e.subs {
		if sub.config.PollingInterval < interval {
			interval = sub.config.PollingInterval
		}
	}
	return interval
}

func (e *PriceEngine) pollLoop(stopCh chan struct{}) {
	defer e.wg.Done()

	timer := time.NewTimer(e.interval())
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		e.pollOnce()

		select {
		case <-stopCh:
			return
		default:
		}
		timer.Reset(e.interval())
	}
}

// pollOnce fetches all subscribed instruments in one batch and dispatches
// per-subscription updates.
func (e *PriceEngine) pollOnce() {
	e.mu.RLock()
	seen := make(map[string]bool)
	var batch []models.Instrument
	for _, sub := range e.subs {
		for _, instr := range sub.instruments {
			if !seen[instr.Key()] {
				seen[instr.Key()] = true
				batch = append(batch, instr)
			}
		}
	}
	e.mu.RUnlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	quotes, err := e.fetch(ctx, batch)
	cancel()
	if err != nil {
		e.log.Warn().Err(err).Int("instruments", len(batch)).Msg("Quote poll failed")
		return
	}

	now := time.Now()
	type delivery struct {
		cb     QuoteCallback
		update models.QuoteUpdate
	}
	var deliveries []delivery

	e.mu.Lock()
	for _, q := range quotes {
		key := q.Instrument.Key()
		var prev *models.Quote
		if last, ok := e.lastQuotes[key]; ok {
			snapshot := last
			prev = &snapshot
		}
		e.lastQuotes[key] = q

		update := models.QuoteUpdate{
			Instrument: q.Instrument,
			Previous:   prev,
			Current:    q,
			Timestamp:  now,
		}
		for _, sub := range e.subs {
			if sub.paused {
				continue
			}
			for _, instr := range sub.instruments {
				if instr.Key() == key {
					deliveries = append(deliveries, delivery{cb: sub.callback, update: update})
					break
				}
			}
		}
	}
	e.mu.Unlock()

	for _, d := range deliveries {
		e.dispatchQuote(d.cb, d.update)
	}
}

func (e *PriceEngine) dispatchQuote(cb QuoteCallback, update models.QuoteUpdate) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("symbol", update.Instrument.Symbol).
				Msg("Quote update callback panicked")
		}
	}()
	cb(update)
}
