// Package scheduler runs the periodic sweep that graduates or ages out
// watchlist entries, transitions phases by age, and flushes due buffers
// into metric rows.
package scheduler

import (
	"time"

	"github.com/pumpstream/ingest/pkg/model"
)

// MetricRow is one flushed aggregation window, shaped to match
// coin_metrics's columns.
type MetricRow struct {
	Mint               model.Mint
	Timestamp          time.Time
	PhaseIDAtTime      model.PhaseID
	PriceOpen          float64
	PriceHigh          float64
	PriceLow           float64
	PriceClose         float64
	MarketCapClose     float64
	BondingCurvePct    float64
	VirtualSolReserves float64
	IsKoth             bool
	VolumeSol          float64
	BuyVolumeSol       float64
	SellVolumeSol      float64
	NumBuys            int
	NumSells           int
	UniqueWallets      int
	NumMicroTrades     int
	DevSoldAmount      float64
	MaxSingleBuySol    float64
	MaxSingleSellSol   float64
	NetVolumeSol       float64
	VolatilityPct      float64
	AvgTradeSizeSol    float64
	WhaleBuyVolumeSol  float64
	WhaleSellVolumeSol float64
	NumWhaleBuys       int
	NumWhaleSells      int
	BuyPressureRatio   float64
	UniqueSignerRatio  float64
}

// KothThreshold is the market-cap-close floor past which a row is marked
// "king of the hill": is_koth ≡ mcap_close > 30000.
const KothThreshold = 30000.0

// GraduationPct is the bonding-curve-fill percentage at or past which a
// token graduates.
const GraduationPct = 99.5

// Registry is the subset of the active registry the scheduler needs:
// whether a mint is still in the active set, so it can retire entries
// the registry has dropped.
type Registry interface {
	Contains(mint model.Mint) bool
}

// Resubscriber is the subscription manager's force-resubscribe hook,
// invoked on phase transitions and stale-signature escalation.
type Resubscriber interface {
	ForceResubscribe(mint model.Mint)
}

// StoreWriter persists phase/terminal-state transitions to the relational
// store, invoked from here per-mint. The flushed metric batch and ATH
// values reach the store through the sinks, not through this interface.
type StoreWriter interface {
	SetPhase(mint model.Mint, phase model.PhaseID)
	SetGraduated(mint model.Mint)
	SetFinished(mint model.Mint)
}

// Watchlist is the mutable set of tracked entries the scheduler iterates
// and trims.
type Watchlist interface {
	Range(func(mint model.Mint, entry *model.WatchlistEntry))
	Remove(mint model.Mint)
	Watchdog(mint model.Mint) *model.WatchdogState
}

// Scheduler runs the periodic phase/flush sweep.
type Scheduler struct {
	phases          *model.PhaseTable
	watchlist       Watchlist
	registry        Registry
	sub             Resubscriber
	store           StoreWriter
	solReservesFull float64
	ageOffsetMin    float64
}

// Config bundles the scheduler's tunables.
type Config struct {
	SolReservesFull float64 // SOL_RESERVES_FULL
	AgeOffsetMin    float64 // AGE_CALCULATION_OFFSET_MIN
}

// New builds a Scheduler.
func New(phases *model.PhaseTable, watchlist Watchlist, registry Registry, sub Resubscriber, store StoreWriter, cfg Config) *Scheduler {
	return &Scheduler{
		phases:          phases,
		watchlist:       watchlist,
		registry:        registry,
		sub:             sub,
		store:           store,
		solReservesFull: cfg.SolReservesFull,
		ageOffsetMin:    cfg.AgeOffsetMin,
	}
}

// Sweep runs one pass over the watchlist. It returns the batch of rows
// due for this sweep, for the caller to hand to the metric sink.
func (s *Scheduler) Sweep(now time.Time) []MetricRow {
	var toRemove []model.Mint
	var rows []MetricRow

	s.watchlist.Range(func(mint model.Mint, entry *model.WatchlistEntry) {
		// Retire entries the active registry no longer carries.
		if !s.registry.Contains(mint) {
			toRemove = append(toRemove, mint)
			return
		}

		bondingPct := 0.0
		if s.solReservesFull > 0 {
			bondingPct = entry.Buffer.VSol / s.solReservesFull * 100
		}
		if bondingPct >= GraduationPct {
			entry.Meta.PhaseID = model.PhaseGraduated
			s.store.SetGraduated(mint)
			toRemove = append(toRemove, mint)
			return
		}

		ageMinutes := now.Sub(entry.Meta.CreatedAt).Minutes() - s.ageOffsetMin
		if ageMinutes < 0 {
			ageMinutes = 0
		}
		cur, ok := s.phases.Get(entry.Meta.PhaseID)
		if ok && float64(cur.MaxAgeMinutes) < ageMinutes {
			next, found := s.phases.Next(entry.Meta.PhaseID)
			if !found {
				entry.Meta.PhaseID = model.PhaseFinished
				s.store.SetFinished(mint)
				toRemove = append(toRemove, mint)
				return
			}
			entry.Meta.PhaseID = next.ID
			entry.IntervalSeconds = next.IntervalSeconds
			entry.NextFlushAt = now.Add(time.Duration(next.IntervalSeconds) * time.Second)
			s.store.SetPhase(mint, next.ID)
			s.sub.ForceResubscribe(mint)
		}

		if now.Before(entry.NextFlushAt) {
			return
		}

		if row, emit := s.flush(mint, entry, now); emit {
			rows = append(rows, row)
		}
		entry.Buffer.Reset()
		entry.NextFlushAt = now.Add(time.Duration(entry.IntervalSeconds) * time.Second)
	})

	for _, mint := range toRemove {
		s.watchlist.Remove(mint)
	}

	return rows
}

// flush computes the emitted row (if any) for one due entry, applying
// stale-signature suppression and the additive flush-time zombie check.
func (s *Scheduler) flush(mint model.Mint, entry *model.WatchlistEntry, now time.Time) (MetricRow, bool) {
	buf := entry.Buffer
	wd := s.watchlist.Watchdog(mint)

	if buf.Empty() {
		return MetricRow{}, false
	}

	sig := buf.Signature()
	if wd.HasSavedSignature && sig == wd.LastSavedSignature {
		wd.StaleWarnings++
		if wd.StaleWarnings >= 2 && now.Sub(wd.LastTradeAt) > 300*time.Second {
			s.sub.ForceResubscribe(mint)
		}
		return MetricRow{}, false
	}

	derived := buf.Derived()
	mcapClose := buf.Close * 1e9
	bondingPct := 0.0
	if s.solReservesFull > 0 {
		bondingPct = buf.VSol / s.solReservesFull * 100
	}

	row := MetricRow{
		Mint:               mint,
		Timestamp:          now,
		PhaseIDAtTime:      entry.Meta.PhaseID,
		PriceOpen:          buf.Open,
		PriceHigh:          buf.High,
		PriceLow:           buf.Low,
		PriceClose:         buf.Close,
		MarketCapClose:     mcapClose,
		BondingCurvePct:    bondingPct,
		VirtualSolReserves: buf.VSol,
		IsKoth:             mcapClose > KothThreshold,
		VolumeSol:          buf.Vol,
		BuyVolumeSol:       buf.VolBuy,
		SellVolumeSol:      buf.VolSell,
		NumBuys:            buf.Buys,
		NumSells:           buf.Sells,
		UniqueWallets:      len(buf.Wallets),
		NumMicroTrades:     buf.MicroTrades,
		DevSoldAmount:      buf.DevSoldAmount,
		MaxSingleBuySol:    buf.MaxBuy,
		MaxSingleSellSol:   buf.MaxSell,
		NetVolumeSol:       derived.NetVolume,
		VolatilityPct:      derived.VolatilityPct,
		AvgTradeSizeSol:    derived.AvgTradeSize,
		WhaleBuyVolumeSol:  buf.WhaleBuyVol,
		WhaleSellVolumeSol: buf.WhaleSellVol,
		NumWhaleBuys:       buf.WhaleBuys,
		NumWhaleSells:      buf.WhaleSells,
		BuyPressureRatio:   derived.BuyPressure,
		UniqueSignerRatio:  derived.UniqueSignerRatio,
	}

	wd.LastSavedSignature = sig
	wd.HasSavedSignature = true
	wd.StaleWarnings = 0

	return row, true
}
