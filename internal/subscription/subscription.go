// Package subscription owns the single outbound WebSocket connection's
// subscribe/unsubscribe state, debounces mutations into batched frames,
// and restores the subscribed set across reconnects.
package subscription

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

// Conn is the subset of *websocket.Conn (github.com/gorilla/websocket)
// the manager needs, so tests can substitute a fake.
type Conn interface {
	WriteJSON(v any) error
}

// BatchSize is the max number of keys drained into one subscribe/
// unsubscribe frame per batcher tick.
const BatchSize = 50

// BatchInterval is the batcher task's tick cadence.
const BatchInterval = 2 * time.Second

// ResubscribeDelay is the pause between the unsubscribe and subscribe
// frames in a forced resubscribe, giving the upstream time to process
// the unsubscribe first.
const ResubscribeDelay = 100 * time.Millisecond

// Manager owns one WebSocket connection's subscription state.
type Manager struct {
	logger *slog.Logger

	mu                 sync.Mutex
	conn               Conn
	subscribed         map[model.Mint]struct{}
	pendingSubscribe   map[model.Mint]struct{}
	pendingUnsubscribe map[model.Mint]struct{}

	// writeMu serializes every write to conn: the batcher goroutine and
	// the read loop's forced resubscribes both send on the same
	// connection, and gorilla/websocket forbids concurrent writers. Kept
	// separate from mu so network I/O never blocks state reads.
	writeMu sync.Mutex

	sleep func(time.Duration)
}

// New builds a Manager. logger defaults to slog.Default() if nil.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:             logger,
		subscribed:         make(map[model.Mint]struct{}),
		pendingSubscribe:   make(map[model.Mint]struct{}),
		pendingUnsubscribe: make(map[model.Mint]struct{}),
		sleep:              time.Sleep,
	}
}

// OnConnected attaches the new connection and restores the previously
// subscribed set: it sends subscribeNewToken, then, if `subscribed` is
// non-empty, resends the full set as one message. If that resend fails,
// the entries are moved back into pending_subscribe for the batcher to
// retry, rather than lost.
func (m *Manager) OnConnected(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	mints := m.snapshotSubscribedLocked()
	m.mu.Unlock()

	if err := m.writeJSON(conn, wire.EncodeSubscribeNewToken()); err != nil {
		m.logger.Warn("subscribeNewToken send failed", "error", err)
	}

	if len(mints) == 0 {
		return
	}
	if err := m.writeJSON(conn, wire.EncodeSubscribeTokenTrade(mints)); err != nil {
		m.logger.Warn("resubscribe send failed, requeueing", "error", err, "count", len(mints))
		m.mu.Lock()
		for _, mint := range mints {
			delete(m.subscribed, mint)
			m.pendingSubscribe[mint] = struct{}{}
		}
		m.mu.Unlock()
	}
}

// writeJSON sends one frame on conn under writeMu.
func (m *Manager) writeJSON(conn Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (m *Manager) snapshotSubscribedLocked() []model.Mint {
	out := make([]model.Mint, 0, len(m.subscribed))
	for mint := range m.subscribed {
		out = append(out, mint)
	}
	return out
}

// EnqueueSubscribe marks mint for the next subscribe batch. Idempotent.
func (m *Manager) EnqueueSubscribe(mint model.Mint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingSubscribe[mint] = struct{}{}
	delete(m.pendingUnsubscribe, mint)
}

// EnqueueUnsubscribe marks mint for the next unsubscribe batch.
func (m *Manager) EnqueueUnsubscribe(mint model.Mint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingUnsubscribe[mint] = struct{}{}
	delete(m.pendingSubscribe, mint)
}

// drainBatch copies up to BatchSize entries from set (subscribe or
// unsubscribe) for one batcher tick. It does not remove them; tick deletes
// them from the pending set once the send succeeds.
func drainBatch(set map[model.Mint]struct{}) []model.Mint {
	out := make([]model.Mint, 0, BatchSize)
	for mint := range set {
		if len(out) >= BatchSize {
			break
		}
		out = append(out, mint)
	}
	return out
}

// RunBatcher runs the 2s batcher task until stop is closed. It is meant
// to be run in its own goroutine by the supervisor; cancellation drops
// any in-flight (undrained) batch; the entries stay in
// pending_subscribe/unsubscribe and are retried next tick.
func (m *Manager) RunBatcher(stop <-chan struct{}) {
	ticker := time.NewTicker(BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	conn := m.conn
	subBatch := drainBatch(m.pendingSubscribe)
	unsubBatch := drainBatch(m.pendingUnsubscribe)
	m.mu.Unlock()

	if conn == nil {
		return
	}

	if len(subBatch) > 0 {
		if err := m.writeJSON(conn, wire.EncodeSubscribeTokenTrade(subBatch)); err != nil {
			m.logger.Warn("subscribe batch send failed, requeueing", "error", err, "count", len(subBatch))
		} else {
			m.mu.Lock()
			for _, mint := range subBatch {
				delete(m.pendingSubscribe, mint)
				m.subscribed[mint] = struct{}{}
			}
			m.mu.Unlock()
		}
	}

	if len(unsubBatch) > 0 {
		if err := m.writeJSON(conn, wire.EncodeUnsubscribeTokenTrade(unsubBatch)); err != nil {
			m.logger.Warn("unsubscribe batch send failed, requeueing", "error", err, "count", len(unsubBatch))
		} else {
			m.mu.Lock()
			for _, mint := range unsubBatch {
				delete(m.pendingUnsubscribe, mint)
				delete(m.subscribed, mint)
			}
			m.mu.Unlock()
		}
	}
}

// ForceResubscribe sends an unsubscribe for mint, waits ResubscribeDelay,
// then sends a subscribe. Used by scheduler/watchdog-triggered actions.
func (m *Manager) ForceResubscribe(mint model.Mint) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	if err := m.writeJSON(conn, wire.EncodeUnsubscribeTokenTrade([]model.Mint{mint})); err != nil {
		m.logger.Warn("force resubscribe: unsubscribe send failed", "mint", mint, "error", err)
	}
	m.sleep(ResubscribeDelay)
	if err := m.writeJSON(conn, wire.EncodeSubscribeTokenTrade([]model.Mint{mint})); err != nil {
		m.logger.Warn("force resubscribe: subscribe send failed", "mint", mint, "error", err)
	}
}

// Subscribed reports whether mint is currently confirmed subscribed.
func (m *Manager) Subscribed(mint model.Mint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscribed[mint]
	return ok
}

// SubscribedSet returns a snapshot of the confirmed-subscribed set, used
// by the supervisor's registry-diff reconciliation.
func (m *Manager) SubscribedSet() map[model.Mint]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.Mint]struct{}, len(m.subscribed))
	for mint := range m.subscribed {
		out[mint] = struct{}{}
	}
	return out
}

// OnDisconnected clears the live connection handle; `subscribed` itself
// is retained so the next OnConnected can restore it.
func (m *Manager) OnDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = nil
}
