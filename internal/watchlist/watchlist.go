// Package watchlist holds the live per-Mint tracking state: one entry
// and one watchdog record per actively-tracked token. It is the single
// mutable structure shared (read/write) by the supervisor's read loop,
// the aggregator and the scheduler. It is touched only from
// that one logical task; the HTTP API sees only the watchlist size, through
// the snapshot the supervisor publishes. Its methods still lock, so they
// are safe for concurrent use.
package watchlist

import (
	"sync"

	"github.com/pumpstream/ingest/pkg/model"
)

// Watchlist is the engine's table of tracked tokens.
type Watchlist struct {
	mu        sync.RWMutex
	entries   map[model.Mint]*model.WatchlistEntry
	watchdogs map[model.Mint]*model.WatchdogState
}

// New builds an empty Watchlist.
func New() *Watchlist {
	return &Watchlist{
		entries:   make(map[model.Mint]*model.WatchlistEntry),
		watchdogs: make(map[model.Mint]*model.WatchdogState),
	}
}

// Install adds or replaces a watchlist entry, used when the discovery
// cache promotes a mint.
func (w *Watchlist) Install(mint model.Mint, entry *model.WatchlistEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[mint] = entry
	if _, ok := w.watchdogs[mint]; !ok {
		w.watchdogs[mint] = &model.WatchdogState{}
	}
}

// Entry returns the watchlist entry for mint.
func (w *Watchlist) Entry(mint model.Mint) (*model.WatchlistEntry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entries[mint]
	return e, ok
}

// Contains reports whether mint is tracked.
func (w *Watchlist) Contains(mint model.Mint) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entries[mint]
	return ok
}

// Watchdog returns (creating lazily) the watchdog state for mint.
func (w *Watchlist) Watchdog(mint model.Mint) *model.WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	wd, ok := w.watchdogs[mint]
	if !ok {
		wd = &model.WatchdogState{}
		w.watchdogs[mint] = wd
	}
	return wd
}

// Remove retires mint from the watchlist entirely.
func (w *Watchlist) Remove(mint model.Mint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, mint)
	delete(w.watchdogs, mint)
}

// Range calls fn for every tracked entry. fn may mutate the entry it is
// given and may call back into Watchlist (Range holds no lock across fn
// to allow that, but concurrent structural mutation during Range from
// another goroutine is not supported; only the owning task calls Range).
func (w *Watchlist) Range(fn func(mint model.Mint, entry *model.WatchlistEntry)) {
	w.mu.RLock()
	mints := make([]model.Mint, 0, len(w.entries))
	for mint := range w.entries {
		mints = append(mints, mint)
	}
	w.mu.RUnlock()

	for _, mint := range mints {
		w.mu.RLock()
		entry, ok := w.entries[mint]
		w.mu.RUnlock()
		if ok {
			fn(mint, entry)
		}
	}
}

// Len returns the number of tracked entries, for status reporting.
func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Mints returns a snapshot of all tracked mints.
func (w *Watchlist) Mints() []model.Mint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Mint, 0, len(w.entries))
	for mint := range w.entries {
		out = append(out, mint)
	}
	return out
}
