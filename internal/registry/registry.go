// Package registry implements the in-memory mirror of the store's set
// of actively-tracked token streams, refreshed on a fixed cadence from
// the coin_streams/discovered_coins join.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pumpstream/ingest/internal/store"
	"github.com/pumpstream/ingest/pkg/model"
)

// DefaultRefreshInterval is DB_REFRESH_INTERVAL's default, pinned to 10s.
const DefaultRefreshInterval = 10 * time.Second

// AthSeeder receives the max-of-stored-and-in-memory ATH seed on load:
// ath_cache[mint] is seeded to the maximum of the stored ATH and the
// in-memory value.
type AthSeeder interface {
	Seed(mint model.Mint, price float64)
}

// Registry mirrors the store's active-stream set.
type Registry struct {
	st  *store.Store
	ath AthSeeder

	mu     sync.RWMutex
	active map[model.Mint]model.ActiveStream
}

// New builds a Registry.
func New(st *store.Store, ath AthSeeder) *Registry {
	return &Registry{st: st, ath: ath, active: make(map[model.Mint]model.ActiveStream)}
}

// SetStore repoints the registry at a freshly (re)created store handle.
// Used when a DSN change forces the connection pool to be drained and
// recreated before the next refresh.
func (r *Registry) SetStore(st *store.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st = st
}

// Refresh reloads the active set from the store. Rows with no timezone
// are assumed UTC.
func (r *Registry) Refresh(ctx context.Context) (map[model.Mint]model.ActiveStream, error) {
	r.mu.RLock()
	st := r.st
	r.mu.RUnlock()

	rows, err := st.LoadActiveStreams(ctx)
	if err != nil {
		return nil, err
	}

	next := make(map[model.Mint]model.ActiveStream, len(rows))
	for _, row := range rows {
		mint := model.Mint(row.TokenAddress)
		as := model.ActiveStream{
			Mint:           mint,
			PhaseID:        model.PhaseID(row.CurrentPhaseID),
			CreatedAt:      normalizeUTC(row.TokenCreatedAt),
			StartedAt:      normalizeUTC(row.StartedAt),
			CreatorAddress: row.TraderPublicKey,
			AthPriceSol:    row.AthPriceSol,
		}
		next[mint] = as
		r.ath.Seed(mint, row.AthPriceSol)
	}

	r.mu.Lock()
	r.active = next
	r.mu.Unlock()

	return next, nil
}

// normalizeUTC converts t to UTC, treating a zero value as already
// "absent" (caller then just gets the zero UTC instant).
func normalizeUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// Contains reports whether mint is currently in the active set (used by
// the scheduler's retirement check).
func (r *Registry) Contains(mint model.Mint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[mint]
	return ok
}

// Get returns the active-stream record for mint.
func (r *Registry) Get(mint model.Mint) (model.ActiveStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	as, ok := r.active[mint]
	return as, ok
}

// Snapshot returns a copy of the current active set, for reconciliation
// diffs and read-only HTTP status.
func (r *Registry) Snapshot() map[model.Mint]model.ActiveStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.Mint]model.ActiveStream, len(r.active))
	for k, v := range r.active {
		out[k] = v
	}
	return out
}

// Len reports the size of the active set.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
