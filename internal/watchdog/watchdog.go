// Package watchdog implements a coarse sweep, independent of the
// scheduler's per-flush check, that detects fully idle ("zombie")
// subscriptions and forces a resubscribe.
package watchdog

import (
	"time"

	"github.com/pumpstream/ingest/pkg/model"
)

// IdleThreshold is the zombie-subscription threshold: exactly 10
// minutes idle does not trigger a resubscribe, strictly more than 10
// minutes does.
const IdleThreshold = 600 * time.Second

// Watchlist is the subset of the shared watchlist the watchdog sweeps.
type Watchlist interface {
	Range(func(mint model.Mint, entry *model.WatchlistEntry))
	Watchdog(mint model.Mint) *model.WatchdogState
}

// Resubscriber is the subscription manager's force-resubscribe hook.
type Resubscriber interface {
	ForceResubscribe(mint model.Mint)
}

// Watchdog runs the coarse idle sweep.
type Watchdog struct {
	watchlist Watchlist
	sub       Resubscriber
}

// New builds a Watchdog.
func New(watchlist Watchlist, sub Resubscriber) *Watchdog {
	return &Watchdog{watchlist: watchlist, sub: sub}
}

// Sweep checks every watchlist entry's last-trade instant and force-
// resubscribes any mint idle for strictly more than IdleThreshold.
// Returns the mints it acted on, for logging/metrics.
func (w *Watchdog) Sweep(now time.Time) []model.Mint {
	var zombies []model.Mint
	w.watchlist.Range(func(mint model.Mint, _ *model.WatchlistEntry) {
		wd := w.watchlist.Watchdog(mint)
		if wd.LastTradeAt.IsZero() {
			return
		}
		if now.Sub(wd.LastTradeAt) > IdleThreshold {
			zombies = append(zombies, mint)
			w.sub.ForceResubscribe(mint)
		}
	})
	return zombies
}
