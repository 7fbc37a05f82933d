// Package metrics declares the Prometheus collectors the Supervisor
// updates and internal/httpapi exposes via promhttp. It owns no business
// logic itself: every Set/Inc call site lives in internal/supervisor,
// which records each value as it reads or computes it (cache stats,
// watchlist size, sink outcomes, reconnects).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles one Registry's worth of collectors. Constructed once
// at startup and handed to the Supervisor (which builds its own if given
// nil); the Supervisor records every observation.
type Metrics struct {
	Registry *prometheus.Registry

	CacheSize        prometheus.Gauge
	CacheActivations prometheus.Gauge
	CacheExpirations prometheus.Gauge

	FilterRejections *prometheus.CounterVec

	WatchlistSize prometheus.Gauge

	WSReconnects prometheus.Counter
	WSConnected  prometheus.Gauge
	ForceResubs  prometheus.Counter

	MetricInsertErrors prometheus.Counter
	AthFlushErrors     prometheus.Counter

	AutomationForwarded prometheus.Counter
	AutomationFailures  prometheus.Counter
	AutomationDisabled  prometheus.Gauge

	MalformedEvents prometheus.Counter
	TradesProcessed prometheus.Counter
	RowsFlushed     prometheus.Counter
}

// New builds a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpstream_cache_size", Help: "Current discovery cache entry count.",
		}),
		CacheActivations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpstream_cache_activations", Help: "Discovery cache entries promoted into the watchlist (running total).",
		}),
		CacheExpirations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpstream_cache_expirations", Help: "Discovery cache entries evicted past TTL (running total).",
		}),
		FilterRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpstream_filter_rejections_total", Help: "Creation events rejected by the name/burst filter, by reason.",
		}, []string{"reason"}),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpstream_watchlist_size", Help: "Current watchlist entry count.",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_ws_reconnects_total", Help: "Upstream WebSocket reconnect attempts.",
		}),
		WSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpstream_ws_connected", Help: "1 if the upstream WebSocket is currently connected.",
		}),
		ForceResubs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_force_resubscribes_total", Help: "Forced resubscribes triggered by phase transitions or watchdog sweeps.",
		}),
		MetricInsertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_metric_insert_errors_total", Help: "Failed metric-row batch inserts.",
		}),
		AthFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_ath_flush_errors_total", Help: "Failed ATH batch updates.",
		}),
		AutomationForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_automation_forwarded_total", Help: "Tokens successfully forwarded to the automation endpoint.",
		}),
		AutomationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_automation_failures_total", Help: "Automation batches dropped after exhausting retries.",
		}),
		AutomationDisabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpstream_automation_disabled", Help: "1 if automation forwarding was permanently disabled (404).",
		}),
		MalformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_malformed_events_total", Help: "Upstream frames dropped for failing to parse.",
		}),
		TradesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_trades_processed_total", Help: "Trade events applied to a watchlist buffer.",
		}),
		RowsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpstream_rows_flushed_total", Help: "Metric rows emitted by the scheduler sweep.",
		}),
	}

	reg.MustRegister(
		m.CacheSize, m.CacheActivations, m.CacheExpirations,
		m.FilterRejections, m.WatchlistSize,
		m.WSReconnects, m.WSConnected, m.ForceResubs,
		m.MetricInsertErrors, m.AthFlushErrors,
		m.AutomationForwarded, m.AutomationFailures, m.AutomationDisabled,
		m.MalformedEvents, m.TradesProcessed, m.RowsFlushed,
	)
	return m
}
