// Package pricefeed implements the Price Feed Cache (C2): last-known
// price per instrument with a freshness bound. Grounded on the
// teacher's feeds.BinanceFeed (price map + RWMutex + subscriber fan-out),
// generalized from a single hardcoded exchange poller to a
// single-writer, multi-reader cache fed by an external market-data
// adapter (out of scope per spec.md §1 — this package only consumes
// marks, it does not fetch them).
package pricefeed

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

// DefaultMaxAge is the freshness bound from spec.md §4.2.
const DefaultMaxAge = 60 * time.Second

type entry struct {
	price      money.Amount
	observedAt time.Time
}

// PriceUpdate is published to subscribers whenever Update is called.
type PriceUpdate struct {
	Instrument types.Symbol
	Price      money.Amount
	ObservedAt time.Time
}

// Cache is the single-writer, multi-reader last-price store.
type Cache struct {
	mu      sync.RWMutex
	prices  map[types.Symbol]entry
	maxAge  time.Duration
	now     func() time.Time

	subMu       sync.Mutex
	subscribers []chan PriceUpdate
}

// New creates a Cache with the given staleness bound. A zero maxAge
// falls back to DefaultMaxAge.
func New(maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		prices: make(map[types.Symbol]entry),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Update records a new mark for instrument. It is the only mutator and
// must be called by exactly one market-data adapter goroutine per
// instrument (single-writer, per spec.md §4.2).
func (c *Cache) Update(instrument types.Symbol, price money.Amount, observedAt time.Time) {
	c.mu.Lock()
	c.prices[instrument] = entry{price: price, observedAt: observedAt}
	c.mu.Unlock()

	c.publish(PriceUpdate{Instrument: instrument, Price: price, ObservedAt: observedAt})
}

// LastPrice returns the most recent mark for instrument, failing with
// a StalePrice-classified error when the mark is older than maxAge or
// MissingPrice when no mark has ever been recorded.
func (c *Cache) LastPrice(instrument types.Symbol) (money.Amount, error) {
	c.mu.RLock()
	e, ok := c.prices[instrument]
	c.mu.RUnlock()

	if !ok {
		return money.Zero, coreerr.New(coreerr.KindMissingPrice, string(instrument))
	}

	age := c.now().Sub(e.observedAt)
	if age > c.maxAge {
		return money.Zero, coreerr.New(coreerr.KindStalePrice,
			string(instrument)+": age "+age.String()+" exceeds max "+c.maxAge.String())
	}
	return e.price, nil
}

// Snapshot returns every currently-cached price, stale or not — used
// by the Portfolio Store to value open positions at snapshot time; the
// caller decides whether a stale mark disqualifies the snapshot.
func (c *Cache) Snapshot() map[types.Symbol]money.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.Symbol]money.Amount, len(c.prices))
	for sym, e := range c.prices {
		out[sym] = e.price
	}
	return out
}

// Subscribe returns a channel that receives every future Update call.
// The channel is buffered; a slow subscriber drops updates rather than
// blocking the writer, logged at debug level.
func (c *Cache) Subscribe() <-chan PriceUpdate {
	ch := make(chan PriceUpdate, 64)
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Cache) publish(u PriceUpdate) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- u:
		default:
			log.Debug().Str("instrument", string(u.Instrument)).Msg("price subscriber full, dropping update")
		}
	}
}
