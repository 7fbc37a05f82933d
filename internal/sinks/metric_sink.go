// Package sinks implements the batch sinks: the metric sink and ATH
// sink write through internal/store; the automation sink POSTs
// discovery batches to the configured webhook with retry.
package sinks

import (
	"context"
	"log/slog"
	"time"

	"github.com/pumpstream/ingest/internal/scheduler"
	"github.com/pumpstream/ingest/internal/store"
)

// MetricStore is the subset of internal/store.Store the metric sink
// needs.
type MetricStore interface {
	InsertMetrics(ctx context.Context, rows []store.MetricRow) error
}

// MetricSink writes the scheduler's flushed rows in one multi-row insert
// per sweep. On failure it increments an insert-error counter and drops
// the batch, acceptable under at-most-once-per-window delivery.
type MetricSink struct {
	store  MetricStore
	logger *slog.Logger

	insertErrors int
}

// NewMetricSink builds a MetricSink.
func NewMetricSink(store MetricStore, logger *slog.Logger) *MetricSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricSink{store: store, logger: logger}
}

// SetStore repoints the sink at a freshly (re)created store handle,
// used when a DSN change forces the connection pool to be recreated.
func (s *MetricSink) SetStore(store MetricStore) {
	s.store = store
}

// Flush writes rows to the store. Returns whether the write succeeded;
// the caller is not expected to retry a failed batch; that sweep's
// side effects are dropped.
func (s *MetricSink) Flush(ctx context.Context, rows []scheduler.MetricRow) bool {
	if len(rows) == 0 {
		return true
	}
	converted := make([]store.MetricRow, len(rows))
	for i, r := range rows {
		converted[i] = store.MetricRow{
			Mint:               string(r.Mint),
			Timestamp:          r.Timestamp,
			PhaseIDAtTime:      int(r.PhaseIDAtTime),
			PriceOpen:          r.PriceOpen,
			PriceHigh:          r.PriceHigh,
			PriceLow:           r.PriceLow,
			PriceClose:         r.PriceClose,
			MarketCapClose:     r.MarketCapClose,
			BondingCurvePct:    r.BondingCurvePct,
			VirtualSolReserves: r.VirtualSolReserves,
			IsKoth:             r.IsKoth,
			VolumeSol:          r.VolumeSol,
			BuyVolumeSol:       r.BuyVolumeSol,
			SellVolumeSol:      r.SellVolumeSol,
			NumBuys:            r.NumBuys,
			NumSells:           r.NumSells,
			UniqueWallets:      r.UniqueWallets,
			NumMicroTrades:     r.NumMicroTrades,
			DevSoldAmount:      r.DevSoldAmount,
			MaxSingleBuySol:    r.MaxSingleBuySol,
			MaxSingleSellSol:   r.MaxSingleSellSol,
			NetVolumeSol:       r.NetVolumeSol,
			VolatilityPct:      r.VolatilityPct,
			AvgTradeSizeSol:    r.AvgTradeSizeSol,
			WhaleBuyVolumeSol:  r.WhaleBuyVolumeSol,
			WhaleSellVolumeSol: r.WhaleSellVolumeSol,
			NumWhaleBuys:       r.NumWhaleBuys,
			NumWhaleSells:      r.NumWhaleSells,
			BuyPressureRatio:   r.BuyPressureRatio,
			UniqueSignerRatio:  r.UniqueSignerRatio,
		}
	}

	if err := s.store.InsertMetrics(ctx, converted); err != nil {
		s.insertErrors++
		s.logger.Error("metric sink: insert failed, dropping batch", "error", err, "rows", len(rows))
		return false
	}
	return true
}

// InsertErrors reports the running count of failed flush attempts.
func (s *MetricSink) InsertErrors() int { return s.insertErrors }

// AthStore is the subset of internal/store.Store the ATH sink needs.
type AthStore interface {
	UpdateAth(ctx context.Context, updates []store.AthUpdate, now time.Time) error
}
