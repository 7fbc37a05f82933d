// Package cache implements the discovery cache: a bounded-TTL holding
// area for tokens seen on the wire but not yet promoted into the active
// watchlist. Trades arriving before promotion are buffered per entry and
// replayed, in arrival order, when the entry is promoted.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

// bufferedTrade is one trade observed before its token was promoted,
// ordered by ArrivedAt: arrival order, not payload order.
type bufferedTrade struct {
	ArrivedAt time.Time
	Trade     wire.TradeEvent
}

type entry struct {
	discoveredAt time.Time
	metadata     wire.CreateEvent
	trades       []bufferedTrade
	activated    bool
	forwarded    bool
}

// Stats is a point-in-time snapshot for operators.
type Stats struct {
	Total     int
	Activated int
	Expired   int
	OldestAge time.Duration
	NewestAge time.Duration
}

// Cache is the discovery cache. All methods are safe for concurrent use,
// though in practice it is only ever touched by the supervisor's single
// read loop. The HTTP API never calls it: it sees cache stats only
// through the snapshot the supervisor publishes.
type Cache struct {
	ttl         time.Duration
	tradeBuffer time.Duration

	mu      sync.Mutex
	entries map[model.Mint]*entry

	activations int
	expirations int
}

// New creates a Cache with the given entry TTL. tradeBuffer caps how
// long a pre-activation trade is retained (TRADE_BUFFER_SECONDS); zero
// means buffered trades are kept for the entry's whole lifetime.
func New(ttl, tradeBuffer time.Duration) *Cache {
	return &Cache{ttl: ttl, tradeBuffer: tradeBuffer, entries: make(map[model.Mint]*entry)}
}

// Insert adds or replaces a cache entry for mint. Idempotent-by-key: a
// second insert for the same mint replaces metadata and clears any
// buffered trades.
func (c *Cache) Insert(mint model.Mint, metadata wire.CreateEvent, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[mint] = &entry{discoveredAt: now, metadata: metadata}
}

// AppendTrade buffers a trade for a not-yet-activated mint. A no-op if
// the mint is absent or already activated.
func (c *Cache) AppendTrade(mint model.Mint, trade wire.TradeEvent, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[mint]
	if !ok || e.activated {
		return
	}
	e.trades = append(e.trades, bufferedTrade{ArrivedAt: now, Trade: trade})
	if c.tradeBuffer > 0 {
		cutoff := now.Add(-c.tradeBuffer)
		kept := e.trades[:0]
		for _, bt := range e.trades {
			if !bt.ArrivedAt.Before(cutoff) {
				kept = append(kept, bt)
			}
		}
		e.trades = kept
	}
}

// Contains reports whether mint has a live (not necessarily activated)
// cache entry.
func (c *Cache) Contains(mint model.Mint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[mint]
	return ok
}

// Promote marks mint activated and returns its buffered trades sorted
// ascending by arrival instant. Calling Promote again on an
// already-activated mint returns an empty slice and leaves state
// unchanged.
func (c *Cache) Promote(mint model.Mint) []wire.TradeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[mint]
	if !ok || e.activated {
		return nil
	}
	sort.SliceStable(e.trades, func(i, j int) bool {
		return e.trades[i].ArrivedAt.Before(e.trades[j].ArrivedAt)
	})
	out := make([]wire.TradeEvent, len(e.trades))
	for i, bt := range e.trades {
		out[i] = bt.Trade
	}
	e.activated = true
	c.activations++
	return out
}

// Metadata returns the stored creation payload for mint, if present.
func (c *Cache) Metadata(mint model.Mint) (wire.CreateEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[mint]
	if !ok {
		return wire.CreateEvent{}, false
	}
	return e.metadata, true
}

// MarkForwarded records that mint was included in a successful automation
// batch.
func (c *Cache) MarkForwarded(mint model.Mint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[mint]; ok {
		e.forwarded = true
	}
}

// Evict removes mint from the cache unconditionally.
func (c *Cache) Evict(mint model.Mint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, mint)
}

// Reconcile iterates entries whose age exceeds the TTL: a mint present
// in activeSet is promoted (the caller is responsible for taking
// ownership of the returned trades immediately); otherwise it is
// evicted. Returns the mints of each outcome for this call.
func (c *Cache) Reconcile(now time.Time, activeSet map[model.Mint]struct{}) (promoted, expired []model.Mint) {
	c.mu.Lock()
	var toPromote, toEvict []model.Mint
	for mint, e := range c.entries {
		if e.activated {
			continue
		}
		if now.Sub(e.discoveredAt) <= c.ttl {
			continue
		}
		if _, active := activeSet[mint]; active {
			toPromote = append(toPromote, mint)
		} else {
			toEvict = append(toEvict, mint)
		}
	}
	for _, mint := range toEvict {
		delete(c.entries, mint)
		c.expirations++
	}
	c.mu.Unlock()

	// toPromote is returned, not promoted here: the caller must call
	// Promote(mint) itself to take ownership of the replayed trades.
	// Promoting here would mark the entry activated and strand its
	// buffered trades, since a second Promote call on an
	// already-activated mint returns nil.

	// Defensive independent pass: evict any un-activated entry older than
	// TTL regardless of reconciliation order. Entries already selected for
	// promotion above must be excluded here: they are not yet activated
	// (the caller hasn't called Promote yet) but are owned by the caller
	// as of this Reconcile call, so this pass must not delete them out
	// from under the pending Promote.
	promoting := make(map[model.Mint]struct{}, len(toPromote))
	for _, mint := range toPromote {
		promoting[mint] = struct{}{}
	}

	c.mu.Lock()
	var stragglers []model.Mint
	for mint, e := range c.entries {
		if _, selected := promoting[mint]; selected {
			continue
		}
		if !e.activated && now.Sub(e.discoveredAt) > c.ttl {
			stragglers = append(stragglers, mint)
		}
	}
	for _, mint := range stragglers {
		delete(c.entries, mint)
		c.expirations++
	}
	c.mu.Unlock()

	return toPromote, append(toEvict, stragglers...)
}

// Stats returns a point-in-time snapshot.
func (c *Cache) Stats(now time.Time) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Total: len(c.entries), Expired: c.expirations, Activated: c.activations}
	first := true
	for _, e := range c.entries {
		age := now.Sub(e.discoveredAt)
		if first {
			s.OldestAge, s.NewestAge = age, age
			first = false
			continue
		}
		if age > s.OldestAge {
			s.OldestAge = age
		}
		if age < s.NewestAge {
			s.NewestAge = age
		}
	}
	return s
}
