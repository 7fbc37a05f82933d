package supervisor

import (
	"time"

	"github.com/pumpstream/ingest/internal/httpapi"
	"github.com/pumpstream/ingest/pkg/model"
)

// Snapshot returns the most recently published read-only view of engine
// state, for internal/httpapi. It is the Supervisor's only externally
// visible state beyond Run's error return.
func (s *Supervisor) Snapshot() httpapi.Snapshot {
	p := s.snapshot.Load()
	if p == nil {
		return httpapi.Snapshot{}
	}
	return *p
}

func (s *Supervisor) publishSnapshot(now time.Time) {
	lastRows := make(map[model.Mint]httpapi.MetricRowView, len(s.lastRows))
	for mint, row := range s.lastRows {
		lastRows[mint] = httpapi.MetricRowView{
			Timestamp:      row.Timestamp,
			PriceClose:     row.PriceClose,
			MarketCapClose: row.MarketCapClose,
			VolumeSol:      row.VolumeSol,
			NumBuys:        row.NumBuys,
			NumSells:       row.NumSells,
			IsKoth:         row.IsKoth,
		}
	}

	stats := s.cache.Stats(now)
	snap := &httpapi.Snapshot{
		Now:            now,
		WSConnected:    s.wsConnected.Load(),
		DBConnected:    s.dbConnected.Load(),
		Reconnects:     s.reconnects.Load(),
		CacheTotal:     stats.Total,
		CacheActivated: stats.Activated,
		CacheExpired:   stats.Expired,
		WatchlistSize:  s.watchlist.Len(),
		LastRows:       lastRows,
	}
	s.snapshot.Store(snap)
}
