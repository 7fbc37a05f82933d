package model

import "time"

// WatchlistEntry is a per-Mint tracking record: the active stream
// metadata, its live aggregation buffer and its next scheduled flush.
type WatchlistEntry struct {
	Meta            ActiveStream
	Buffer          *AggregationBuffer
	IntervalSeconds int
	NextFlushAt     time.Time
}

// WatchdogState is the per-Mint liveness bookkeeping used to detect
// no-change flushes and idle ("zombie") subscriptions.
type WatchdogState struct {
	LastTradeAt        time.Time
	LastSavedSignature Signature
	HasSavedSignature  bool
	StaleWarnings      int
}
