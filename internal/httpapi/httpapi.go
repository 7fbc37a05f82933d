// Package httpapi is the thin, read-only HTTP surface: health, status
// and per-token query endpoints plus Prometheus exposition. Every
// handler except /metrics (which serves the Prometheus registry) reads
// only the Supervisor's atomically published Snapshot, never live engine
// state, so it can run on its own goroutine without touching the read
// loop's data.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pumpstream/ingest/pkg/model"
)

// SnapshotSource is the subset of *supervisor.Supervisor the API needs.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// Snapshot is the read-only state the Supervisor publishes. It is
// defined here rather than in internal/supervisor because supervisor
// imports httpapi, so httpapi cannot import supervisor.
type Snapshot struct {
	Now            time.Time
	WSConnected    bool
	DBConnected    bool
	Reconnects     int64
	CacheTotal     int
	CacheActivated int
	CacheExpired   int
	WatchlistSize  int
	LastRows       map[model.Mint]MetricRowView
}

// MetricRowView is the read-only projection of a watchlist entry's last
// flushed row, for GET /tokens/{mint}.
type MetricRowView struct {
	Timestamp      time.Time `json:"timestamp"`
	PriceClose     float64   `json:"price_close"`
	MarketCapClose float64   `json:"market_cap_close"`
	VolumeSol      float64   `json:"volume_sol"`
	NumBuys        int       `json:"num_buys"`
	NumSells       int       `json:"num_sells"`
	IsKoth         bool      `json:"is_koth"`
}

// New builds the http.Handler exposing /healthz, /status, /metrics and
// /tokens/{mint}. gatherer is the Prometheus registry promhttp serves.
func New(src SnapshotSource, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(src))
	mux.HandleFunc("/status", statusHandler(src))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/tokens/", tokenHandler(src))
	return mux
}

func healthzHandler(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		status := http.StatusOK
		if !snap.WSConnected || !snap.DBConnected {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"ws_connected": snap.WSConnected,
			"db_connected": snap.DBConnected,
			"as_of":        snap.Now,
		})
	}
}

func statusHandler(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"ws_connected":    snap.WSConnected,
			"db_connected":    snap.DBConnected,
			"reconnects":      snap.Reconnects,
			"cache_total":     snap.CacheTotal,
			"cache_activated": snap.CacheActivated,
			"cache_expired":   snap.CacheExpired,
			"watchlist_size":  snap.WatchlistSize,
			"as_of":           snap.Now,
		})
	}
}

func tokenHandler(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mint := model.Mint(r.URL.Path[len("/tokens/"):])
		if mint == "" {
			http.NotFound(w, r)
			return
		}
		snap := src.Snapshot()
		row, ok := snap.LastRows[mint]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
