package sinks

import (
	"context"
	"log/slog"
	"time"

	"github.com/pumpstream/ingest/internal/store"
	"github.com/pumpstream/ingest/pkg/model"
)

// DirtyAthSource is the aggregator's ATH cache: the dirty subset is
// drained on the sink's own cadence, independent of the scheduler's
// flush cadence.
type DirtyAthSource interface {
	DrainDirty() map[model.Mint]float64
	Restore(map[model.Mint]float64)
}

// DefaultAthFlushInterval is ATH_FLUSH_INTERVAL's default.
const DefaultAthFlushInterval = 5 * time.Second

// ATHSink flushes the dirty ATH set on its own cadence. On failure the
// dirty set is retained (re-marked dirty) for the next flush.
type ATHSink struct {
	store  AthStore
	ath    DirtyAthSource
	logger *slog.Logger
}

// NewATHSink builds an ATHSink.
func NewATHSink(store AthStore, ath DirtyAthSource, logger *slog.Logger) *ATHSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ATHSink{store: store, ath: ath, logger: logger}
}

// SetStore repoints the sink at a freshly (re)created store handle,
// used when a DSN change forces the connection pool to be recreated.
func (s *ATHSink) SetStore(store AthStore) {
	s.store = store
}

// Flush drains the dirty set and writes it as one multi-row update. On
// failure the drained entries are restored to dirty.
func (s *ATHSink) Flush(ctx context.Context, now time.Time) bool {
	dirty := s.ath.DrainDirty()
	if len(dirty) == 0 {
		return true
	}

	updates := make([]store.AthUpdate, 0, len(dirty))
	for mint, price := range dirty {
		updates = append(updates, store.AthUpdate{Mint: string(mint), Price: price})
	}

	if err := s.store.UpdateAth(ctx, updates, now); err != nil {
		s.logger.Error("ath sink: update failed, retaining dirty set", "error", err, "count", len(updates))
		s.ath.Restore(dirty)
		return false
	}
	return true
}
