// Package supervisor implements the top-level loop
// that connects the store and the single upstream WebSocket, demuxes
// incoming frames to the discovery cache / filter / aggregator, and
// drives the periodic registry-refresh, flush-sweep, ATH-flush and
// watchdog ticks.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pumpstream/ingest/internal/aggregator"
	"github.com/pumpstream/ingest/internal/cache"
	"github.com/pumpstream/ingest/internal/config"
	"github.com/pumpstream/ingest/internal/filter"
	"github.com/pumpstream/ingest/internal/httpapi"
	"github.com/pumpstream/ingest/internal/logging"
	"github.com/pumpstream/ingest/internal/metrics"
	"github.com/pumpstream/ingest/internal/registry"
	"github.com/pumpstream/ingest/internal/scheduler"
	"github.com/pumpstream/ingest/internal/sinks"
	"github.com/pumpstream/ingest/internal/store"
	"github.com/pumpstream/ingest/internal/subscription"
	"github.com/pumpstream/ingest/internal/watchdog"
	"github.com/pumpstream/ingest/internal/watchlist"
	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

// errTransientUpstream marks a WebSocket-side failure: reconnect with
// backoff, retaining `subscribed` so the next connection can restore it.
var errTransientUpstream = errors.New("supervisor: transient upstream error")

// errTransientStore marks a store-side failure: individual query
// failures during a sweep drop that sweep's side effects rather than
// crashing the process.
var errTransientStore = errors.New("supervisor: transient store error")

// watchdogSweepInterval is the zombie-subscription sweep's coarse cadence.
const watchdogSweepInterval = 60 * time.Second

// Supervisor owns every piece of mutable engine state and is the single
// logical task that mutates it (plus the subscription batcher and ping
// goroutines it spawns, which touch only their own state).
type Supervisor struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  Dialer

	st       *store.Store
	dsn      string
	phases   *model.PhaseTable
	registry *registry.Registry

	cache          *cache.Cache
	filter         *filter.Filter
	watchlist      *watchlist.Watchlist
	athCache       *aggregator.AthCache
	aggregator     *aggregator.Aggregator
	sub            *subscription.Manager
	scheduler      *scheduler.Scheduler
	watchdog       *watchdog.Watchdog
	storeWriter    *storeWriterAdapter
	metricSink     *sinks.MetricSink
	athSink        *sinks.ATHSink
	automationSink *sinks.AutomationSink

	wsConnected atomic.Bool
	dbConnected atomic.Bool
	reconnects  atomic.Int64

	// forceReconnect/pendingDSN implement the forced DSN change:
	// RequestDSNChange sets both; the next registry refresh drains and
	// recreates the store's connection pool before querying.
	forceReconnect atomic.Bool
	pendingDSN     atomic.Pointer[string]

	lastRows map[model.Mint]scheduler.MetricRow
	snapshot atomic.Pointer[httpapi.Snapshot]
}

// RequestDSNChange records a pending store DSN change and arms the
// forced-reconnect flag: the next registry refresh will drain and
// recreate the store's connection pool against the new DSN before
// querying. This is the one-shot hook the config-edit surface calls
// after a validated config.Config.Reload.
func (s *Supervisor) RequestDSNChange(dsn string) {
	if dsn == "" || dsn == s.dsn {
		return
	}
	s.pendingDSN.Store(&dsn)
	s.forceReconnect.Store(true)
}

// Registry exposes the Prometheus registry for internal/httpapi's
// /metrics endpoint.
func (s *Supervisor) Registry() *prometheus.Registry { return s.metrics.Registry }

// New constructs every dependency-free component (the cache, filter,
// watchlist, subscription manager and automation sink). Components that
// need a live store connection (registry, scheduler, metric and ATH
// sinks) are built during Run, after the store connects and the phase
// table loads.
func New(cfg config.Config, logger *slog.Logger, mtr *metrics.Metrics, dialer Dialer) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if mtr == nil {
		mtr = metrics.New()
	}
	if dialer == nil {
		dialer = GorillaDialer{}
	}

	f, err := filter.New(cfg.BadNamesPattern, cfg.SpamBurstWindow)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build filter: %w", err)
	}

	s := &Supervisor{
		cfg:       cfg,
		logger:    logger,
		metrics:   mtr,
		dialer:    dialer,
		dsn:       cfg.DBDSN,
		cache:     cache.New(cfg.CoinCacheSeconds, cfg.TradeBufferSeconds),
		filter:    f,
		watchlist: watchlist.New(),
		athCache:  aggregator.NewAthCache(),
		sub:       subscription.New(logging.For(logger, "subscription")),
		lastRows:  make(map[model.Mint]scheduler.MetricRow),
	}
	s.aggregator = aggregator.New(s.watchlist, s.athCache, cfg.WhaleThresholdSol)
	s.automationSink = sinks.NewAutomationSink(cfg.N8NWebhookURL, sinks.Method(cfg.N8NWebhookMethod), logging.For(logger, "automation_sink")).
		WithBatching(cfg.BatchSize, cfg.BatchTimeout)

	return s, nil
}

// Run executes the supervisor's top-level loop until ctx is cancelled.
// It blocks connecting to the store, then loops connecting/reconnecting
// the WebSocket with bounded exponential backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.connectStore(ctx); err != nil {
		return err
	}
	if err := s.loadPhasesAndRegistry(ctx); err != nil {
		return err
	}

	s.storeWriter = &storeWriterAdapter{st: s.st, logger: logging.For(s.logger, "store_writer")}
	s.scheduler = scheduler.New(s.phases, s.watchlist, s.registry, s.sub, s.storeWriter, scheduler.Config{
		SolReservesFull: s.cfg.SolReservesFull,
		AgeOffsetMin:    s.cfg.AgeCalculationOffset,
	})
	s.watchdog = watchdog.New(s.watchlist, s.sub)
	s.metricSink = sinks.NewMetricSink(s.st, logging.For(s.logger, "metric_sink"))
	s.athSink = sinks.NewATHSink(s.st, s.athCache, logging.For(s.logger, "ath_sink"))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.dialWithBackoff(ctx)
		if err != nil {
			return err
		}

		s.logger.Info("ws connected", "uri", s.cfg.WSURI)
		s.wsConnected.Store(true)
		s.metrics.WSConnected.Set(1)

		runErr := s.runConnection(ctx, conn)

		s.wsConnected.Store(false)
		s.metrics.WSConnected.Set(0)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		n := s.reconnects.Load()
		delay := backoffDelay(s.cfg.WSRetryDelay, s.cfg.WSMaxRetryDelay, n)
		s.logger.Warn("ws disconnected, reconnecting", "error", runErr, "attempt", n, "delay", delay)
		s.reconnects.Add(1)
		s.metrics.WSReconnects.Inc()
		sleepCtx(ctx, delay)
	}
}

// backoffDelay computes delay_n = min(base*(1+n*0.5), max).
func backoffDelay(base, max time.Duration, n int64) time.Duration {
	d := time.Duration(float64(base) * (1 + float64(n)*0.5))
	if d > max {
		d = max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// connectStore blocks, retrying on cfg.DBRetryDelay, until the store
// connects or ctx is cancelled.
func (s *Supervisor) connectStore(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st, err := store.Open(s.dsn)
		if err == nil {
			s.st = st
			s.dbConnected.Store(true)
			s.logger.Info("store connected")
			return nil
		}
		s.logger.Warn("store connect failed, retrying", "error", err, "delay", s.cfg.DBRetryDelay)
		sleepCtx(ctx, s.cfg.DBRetryDelay)
	}
}

// reconnectStore drains and recreates the store's connection pool
// against the pending DSN (or the current one, if none is pending), then
// repoints every component holding a store handle at the new pool. The
// old pool is closed only once the new one opens successfully, so a bad
// DSN leaves the service on its previous working pool instead of
// stranding it without one.
func (s *Supervisor) reconnectStore(ctx context.Context) error {
	newDSN := s.dsn
	if p := s.pendingDSN.Load(); p != nil {
		newDSN = *p
	}

	st, err := store.Open(newDSN)
	if err != nil {
		return fmt.Errorf("store: forced reconnect: %w", err)
	}

	old := s.st
	s.st = st
	s.dsn = newDSN
	s.registry.SetStore(st)
	if s.storeWriter != nil {
		s.storeWriter.st = st
	}
	if s.metricSink != nil {
		s.metricSink.SetStore(st)
	}
	if s.athSink != nil {
		s.athSink.SetStore(st)
	}
	if old != nil {
		_ = old.Close()
	}

	s.logger.Info("store pool recreated on forced DSN change")
	return nil
}

// loadPhasesAndRegistry loads the phase table and performs the initial
// registry refresh, retrying on cfg.DBRetryDelay rather than crashing
// the process.
func (s *Supervisor) loadPhasesAndRegistry(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rows, err := s.st.LoadPhases(ctx)
		if err != nil {
			s.logger.Warn("load phases failed, retrying", "error", err, "delay", s.cfg.DBRetryDelay)
			sleepCtx(ctx, s.cfg.DBRetryDelay)
			continue
		}
		modelRows := make([]model.PhaseRef, len(rows))
		for i, r := range rows {
			modelRows[i] = model.PhaseRef{ID: model.PhaseID(r.ID), Name: r.Name, IntervalSeconds: r.IntervalSeconds, MaxAgeMinutes: r.MaxAgeMinutes}
		}
		phases, err := model.NewPhaseTable(modelRows)
		if err != nil {
			s.logger.Warn("phase table empty, retrying", "error", err, "delay", s.cfg.DBRetryDelay)
			sleepCtx(ctx, s.cfg.DBRetryDelay)
			continue
		}
		s.phases = phases
		s.registry = registry.New(s.st, s.athCache)
		if _, err := s.registry.Refresh(ctx); err != nil {
			s.logger.Warn("initial registry refresh failed, retrying", "error", err, "delay", s.cfg.DBRetryDelay)
			sleepCtx(ctx, s.cfg.DBRetryDelay)
			continue
		}
		return nil
	}
}

// dialWithBackoff connects the WebSocket, retrying with the same
// bounded-exponential backoff as a mid-stream reconnect.
func (s *Supervisor) dialWithBackoff(ctx context.Context) (WSConn, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		conn, err := s.dialer.Dial(ctx, s.cfg.WSURI, s.cfg.InsecureSkipVerify)
		if err == nil {
			return conn, nil
		}
		n := s.reconnects.Load()
		delay := backoffDelay(s.cfg.WSRetryDelay, s.cfg.WSMaxRetryDelay, n)
		s.logger.Warn("ws dial failed, retrying", "error", err, "attempt", n, "delay", delay)
		s.reconnects.Add(1)
		s.metrics.WSReconnects.Inc()
		sleepCtx(ctx, delay)
	}
}

// runConnection drives one WebSocket connection's lifetime: restores
// subscriptions, starts the batcher and ping goroutines, and runs the
// read loop interleaved with the periodic refresh/sweep/flush ticks.
// Reads run in their own goroutine because the WebSocket library treats
// any read error, a timeout included, as fatal for the connection, so
// the main loop selects on a frame channel plus a 1s ticker instead of
// polling ReadMessage with a deadline. It returns when the connection is
// lost or ctx is cancelled (in which case the returned error is
// ctx.Err()).
func (s *Supervisor) runConnection(ctx context.Context, conn WSConn) error {
	s.sub.OnConnected(conn)
	s.reconnects.Store(0)

	stopBatcher := make(chan struct{})
	go s.sub.RunBatcher(stopBatcher)
	defer close(stopBatcher)
	defer s.sub.OnDisconnected()

	pingErr := make(chan error, 1)
	stopPing := make(chan struct{})
	go s.pingLoop(conn, stopPing, pingErr)
	defer close(stopPing)

	frames := make(chan []byte, 256)
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	defer close(readDone)
	go readPump(conn, frames, readErr, readDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	now := time.Now()
	lastMsgAt := now
	nextDBRefresh := now.Add(s.cfg.DBRefreshInterval)
	nextAthFlush := now.Add(s.cfg.AthFlushInterval)
	nextWatchdog := now.Add(watchdogSweepInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pingErr:
			return fmt.Errorf("%w: ping failed: %w", errTransientUpstream, err)
		case err := <-readErr:
			return fmt.Errorf("%w: read: %w", errTransientUpstream, err)
		case raw := <-frames:
			now = time.Now()
			lastMsgAt = now
			s.handleFrame(raw, now)
		case <-ticker.C:
			now = time.Now()
			if now.Sub(lastMsgAt) > s.cfg.WSConnectionTimeout {
				return fmt.Errorf("%w: idle past connection timeout", errTransientUpstream)
			}
		}

		if !now.Before(nextDBRefresh) {
			s.refreshRegistry(ctx, now)
			nextDBRefresh = now.Add(s.cfg.DBRefreshInterval)
		}

		s.reconcileAndSweep(ctx, now)

		if !now.Before(nextAthFlush) {
			if !s.athSink.Flush(ctx, now) {
				s.metrics.AthFlushErrors.Inc()
			}
			nextAthFlush = now.Add(s.cfg.AthFlushInterval)
		}

		if !now.Before(nextWatchdog) {
			zombies := s.watchdog.Sweep(now)
			if len(zombies) > 0 {
				s.metrics.ForceResubs.Add(float64(len(zombies)))
				s.logger.Info("watchdog forced resubscribe", "count", len(zombies))
			}
			nextWatchdog = now.Add(watchdogSweepInterval)
		}

		if s.automationSink.Due(now) {
			forwarded := s.automationSink.Flush(ctx, now)
			if len(forwarded) > 0 {
				s.metrics.AutomationForwarded.Add(float64(len(forwarded)))
				for _, mint := range forwarded {
					s.cache.MarkForwarded(mint)
				}
			} else if !s.automationSink.Disabled() {
				// Due was true, so the buffer was non-empty: an empty
				// forwarded list means the batch was dropped.
				s.metrics.AutomationFailures.Inc()
			}
			if s.automationSink.Disabled() {
				s.metrics.AutomationDisabled.Set(1)
			}
		}

		s.publishSnapshot(now)
	}
}

// handleFrame decodes one upstream frame and dispatches it by kind. A
// malformed frame is dropped silently save for a counter bump.
func (s *Supervisor) handleFrame(raw []byte, now time.Time) {
	ev, ok := wire.Decode(raw)
	if !ok {
		s.metrics.MalformedEvents.Inc()
		return
	}

	switch ev.Kind {
	case wire.KindCreate:
		s.handleCreate(ev.Create, now)
	case wire.KindTrade:
		s.handleTrade(ev.Trade, now)
	}
}

func (s *Supervisor) handleCreate(create wire.CreateEvent, now time.Time) {
	accept, reason := s.filter.Evaluate(create.Name, create.Symbol, now)
	if !accept {
		s.metrics.FilterRejections.WithLabelValues(string(reason)).Inc()
		return
	}
	s.cache.Insert(create.Mint, create, now)
	s.automationSink.Enqueue(create.Mint, create)
	s.sub.EnqueueSubscribe(create.Mint)
}

func (s *Supervisor) handleTrade(trade wire.TradeEvent, now time.Time) {
	switch {
	case s.watchlist.Contains(trade.Mint):
		s.aggregator.Process(trade, now)
		s.metrics.TradesProcessed.Inc()
	case s.cache.Contains(trade.Mint):
		s.cache.AppendTrade(trade.Mint, trade, now)
	}
}

// refreshRegistry reloads the active set and diffs it against the
// subscription manager's confirmed-subscribed set, enqueueing the
// mismatch. A refresh failure is a TransientStore error: it is logged
// and retried on the next tick rather than propagated.
func (s *Supervisor) refreshRegistry(ctx context.Context, now time.Time) {
	if s.forceReconnect.CompareAndSwap(true, false) {
		if err := s.reconnectStore(ctx); err != nil {
			s.logger.Warn("forced store reconnect failed, will retry next refresh", "error", err)
			s.forceReconnect.Store(true)
			return
		}
	}

	active, err := s.registry.Refresh(ctx)
	if err != nil {
		s.dbConnected.Store(false)
		s.logger.Warn("registry refresh failed", "error", fmt.Errorf("%w: %w", errTransientStore, err))
		return
	}
	s.dbConnected.Store(true)

	subscribed := s.sub.SubscribedSet()
	for mint := range active {
		if _, ok := subscribed[mint]; !ok {
			s.sub.EnqueueSubscribe(mint)
		}
	}
	for mint := range subscribed {
		if _, ok := active[mint]; !ok {
			s.sub.EnqueueUnsubscribe(mint)
		}
	}
}

// reconcileAndSweep runs the cache reconcile (promote/expire against the
// registry's current active set), installs newly-promoted watchlist
// entries with their replayed trades, and runs the scheduler's flush
// sweep.
func (s *Supervisor) reconcileAndSweep(ctx context.Context, now time.Time) {
	activeSet := make(map[model.Mint]struct{})
	for mint := range s.registry.Snapshot() {
		activeSet[mint] = struct{}{}
	}

	promoted, _ := s.cache.Reconcile(now, activeSet)
	for _, mint := range promoted {
		s.installWatchlistEntry(mint, now)
	}

	stats := s.cache.Stats(now)
	s.metrics.CacheSize.Set(float64(stats.Total))
	s.metrics.CacheActivations.Set(float64(stats.Activated))
	s.metrics.CacheExpirations.Set(float64(stats.Expired))
	s.metrics.WatchlistSize.Set(float64(s.watchlist.Len()))

	rows := s.scheduler.Sweep(now)
	for mint := range s.lastRows {
		if !s.watchlist.Contains(mint) {
			delete(s.lastRows, mint)
		}
	}
	if len(rows) == 0 {
		return
	}
	if !s.metricSink.Flush(ctx, rows) {
		s.metrics.MetricInsertErrors.Inc()
		return
	}
	for _, row := range rows {
		s.lastRows[row.Mint] = row
		s.metrics.RowsFlushed.Inc()
	}
}

// installWatchlistEntry takes ownership of a just-promoted cache entry:
// it builds the watchlist entry from the registry's active-stream record
// and the current phase's interval, then replays the cache's buffered
// trades in arrival order before any further live trade reaches the
// aggregator for this mint.
func (s *Supervisor) installWatchlistEntry(mint model.Mint, now time.Time) {
	as, ok := s.registry.Get(mint)
	if !ok {
		return
	}
	phase, ok := s.phases.Get(as.PhaseID)
	if !ok {
		phase = s.phases.Smallest()
	}

	entry := &model.WatchlistEntry{
		Meta:            as,
		Buffer:          model.NewAggregationBuffer(),
		IntervalSeconds: phase.IntervalSeconds,
		NextFlushAt:     now.Add(time.Duration(phase.IntervalSeconds) * time.Second),
	}
	s.watchlist.Install(mint, entry)

	trades := s.cache.Promote(mint)
	for _, trade := range trades {
		s.aggregator.Process(trade, now)
	}
	s.cache.Evict(mint)
}

// pingLoop proactively sends WebSocket ping control frames on the
// configured interval, since gorilla/websocket's client does not do this
// on its own. A write failure is reported on errCh so the read loop can
// force a reconnect.
func (s *Supervisor) pingLoop(conn WSConn, stop <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WSPingTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
		}
	}
}

// readPump forwards every frame from conn to frames until the first read
// error, which it reports on errCh and exits. done guards the frame send
// so the pump cannot block once the read loop has returned; the blocked
// ReadMessage itself is unblocked by Run closing the connection.
func readPump(conn WSConn, frames chan<- []byte, errCh chan<- error, done <-chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		select {
		case frames <- raw:
		case <-done:
			return
		}
	}
}

// storeWriterAdapter implements scheduler.StoreWriter against the real
// store, logging (rather than propagating) failures: an individual query
// failure during a sweep drops that sweep's side effect, it does not
// halt the loop.
type storeWriterAdapter struct {
	st     *store.Store
	logger *slog.Logger
}

func (a *storeWriterAdapter) SetPhase(mint model.Mint, phase model.PhaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.st.SetPhase(ctx, string(mint), int(phase)); err != nil {
		a.logger.Error("set phase failed", "mint", mint, "error", err)
	}
}

func (a *storeWriterAdapter) SetGraduated(mint model.Mint) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.st.SetGraduated(ctx, string(mint)); err != nil {
		a.logger.Error("set graduated failed", "mint", mint, "error", err)
	}
}

func (a *storeWriterAdapter) SetFinished(mint model.Mint) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.st.SetFinished(ctx, string(mint)); err != nil {
		a.logger.Error("set finished failed", "mint", mint, "error", err)
	}
}
