// Package aggregator applies each live trade to its token's aggregation
// buffer and maintains the process-wide all-time-high cache.
package aggregator

import (
	"sync"
	"time"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

// MicroTradeThreshold is the strict-less-than boundary below which a
// trade counts as "micro". A trade of exactly this amount does not count.
const MicroTradeThreshold = 0.01

// Target is anything the aggregator can look up and mutate a watchlist
// entry on. internal/watchlist's Watchlist implements this; tests use a
// small in-memory map.
type Target interface {
	// Entry returns the watchlist entry for mint, if tracked.
	Entry(mint model.Mint) (*model.WatchlistEntry, bool)
	// Watchdog returns the watchdog state for mint, creating one lazily.
	Watchdog(mint model.Mint) *model.WatchdogState
}

// AthCache is the process-wide Mint→price all-time-high tracker plus its
// dirty subset. Safe for concurrent use since the ATH sink reads it on
// its own cadence.
type AthCache struct {
	mu     sync.Mutex
	prices map[model.Mint]float64
	dirty  map[model.Mint]struct{}
}

// NewAthCache builds an empty AthCache.
func NewAthCache() *AthCache {
	return &AthCache{prices: make(map[model.Mint]float64), dirty: make(map[model.Mint]struct{})}
}

// Seed raises mint's ATH to the given value if it is higher than the
// cached one (or none is cached), without marking it dirty, used by the
// registry refresh to seed from the store.
func (a *AthCache) Seed(mint model.Mint, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.prices[mint]; !ok || price > cur {
		a.prices[mint] = price
	}
}

// observe updates the ATH if price is a new high, marking mint dirty.
func (a *AthCache) observe(mint model.Mint, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.prices[mint]; !ok || price > cur {
		a.prices[mint] = price
		a.dirty[mint] = struct{}{}
	}
}

// Get returns the current ATH for mint.
func (a *AthCache) Get(mint model.Mint) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.prices[mint]
	return p, ok
}

// DrainDirty returns and clears the dirty set, for the ATH sink.
func (a *AthCache) DrainDirty() map[model.Mint]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[model.Mint]float64, len(a.dirty))
	for mint := range a.dirty {
		out[mint] = a.prices[mint]
	}
	a.dirty = make(map[model.Mint]struct{})
	return out
}

// Restore re-marks mints dirty, used when a sink's batch write fails and
// the dirty set must be retained for the next flush.
func (a *AthCache) Restore(mints map[model.Mint]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for mint := range mints {
		a.dirty[mint] = struct{}{}
	}
}

// Aggregator applies trades to watchlist buffers.
type Aggregator struct {
	target         Target
	ath            *AthCache
	whaleThreshold float64
}

// New builds an Aggregator. whaleThreshold is WHALE_THRESHOLD_SOL,
// default 1.0.
func New(target Target, ath *AthCache, whaleThreshold float64) *Aggregator {
	return &Aggregator{target: target, ath: ath, whaleThreshold: whaleThreshold}
}

// Process applies one trade to its token's buffer. A trade for a mint
// not in the watchlist is a no-op; malformed trades never reach here
// since internal/wire.Decode already dropped them.
func (a *Aggregator) Process(trade wire.TradeEvent, now time.Time) {
	entry, ok := a.target.Entry(trade.Mint)
	if !ok {
		return
	}
	if trade.VTokensInBondingCurve == 0 {
		return
	}

	buf := entry.Buffer
	price := trade.VSolInBondingCurve / trade.VTokensInBondingCurve

	if !buf.HasOpen {
		buf.Open = price
		buf.HasOpen = true
	}
	buf.Close = price
	if price > buf.High {
		buf.High = price
	}
	if price < buf.Low {
		buf.Low = price
	}

	buf.Vol += trade.SolAmount

	switch trade.Side {
	case wire.SideBuy:
		buf.Buys++
		buf.VolBuy += trade.SolAmount
		if trade.SolAmount > buf.MaxBuy {
			buf.MaxBuy = trade.SolAmount
		}
		if trade.SolAmount >= a.whaleThreshold {
			buf.WhaleBuys++
			buf.WhaleBuyVol += trade.SolAmount
		}
	case wire.SideSell:
		buf.Sells++
		buf.VolSell += trade.SolAmount
		if trade.SolAmount > buf.MaxSell {
			buf.MaxSell = trade.SolAmount
		}
		if trade.SolAmount >= a.whaleThreshold {
			buf.WhaleSells++
			buf.WhaleSellVol += trade.SolAmount
		}
		if entry.Meta.CreatorAddress != "" && trade.TraderPublicKey == entry.Meta.CreatorAddress {
			buf.DevSoldAmount += trade.SolAmount
		}
	}

	if trade.SolAmount < MicroTradeThreshold {
		buf.MicroTrades++
	}

	if buf.Wallets == nil {
		buf.Wallets = make(map[string]struct{})
	}
	buf.Wallets[trade.TraderPublicKey] = struct{}{}
	buf.VSol = trade.VSolInBondingCurve
	buf.Mcap = price * 1e9

	wd := a.target.Watchdog(trade.Mint)
	wd.LastTradeAt = now

	a.ath.observe(trade.Mint, price)
}
