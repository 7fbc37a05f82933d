package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

// Method selects how the automation payload is delivered: POST with a
// JSON body (default) or GET with the body url-encoded as `data`.
type Method string

const (
	MethodPOST Method = "POST"
	MethodGET  Method = "GET"
)

// Defaults for the automation sink's batching. DefaultMaxRetries counts
// retries after the initial attempt, so a transiently failing endpoint
// sees up to 4 requests per batch.
const (
	DefaultBatchSize    = 10
	DefaultBatchTimeout = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultHTTPTimeout  = 15 * time.Second
)

// automationPayload is the exact webhook body shape.
type automationPayload struct {
	Source    string            `json:"source"`
	Count     int               `json:"count"`
	Timestamp string            `json:"timestamp"`
	Data      []json.RawMessage `json:"data"`
}

// AutomationSink buffers newly-discovered tokens and forwards them in
// batches to the configured webhook.
type AutomationSink struct {
	url          string
	method       Method
	client       *http.Client
	logger       *slog.Logger
	batchSize    int
	batchTimeout time.Duration
	maxRetries   int
	retryDelay   time.Duration

	mu        sync.Mutex
	buffer    []bufferedToken
	lastFlush time.Time

	disabled atomic.Bool // tripped on a 404, a fatal response
}

type bufferedToken struct {
	mint model.Mint
	raw  json.RawMessage
}

// NewAutomationSink builds an AutomationSink with its default batching
// and retry settings. WithBatching overrides the batching settings; the
// retry settings have no option.
func NewAutomationSink(webhookURL string, method Method, logger *slog.Logger) *AutomationSink {
	if logger == nil {
		logger = slog.Default()
	}
	if method == "" {
		method = MethodPOST
	}
	s := &AutomationSink{
		url:          webhookURL,
		method:       method,
		client:       &http.Client{Timeout: DefaultHTTPTimeout},
		logger:       logger,
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		lastFlush:    time.Now(),
	}
	return s
}

// WithBatching overrides BATCH_SIZE/BATCH_TIMEOUT.
func (s *AutomationSink) WithBatching(size int, timeout time.Duration) *AutomationSink {
	s.batchSize = size
	s.batchTimeout = timeout
	return s
}

// Enqueue buffers a newly-discovered token's raw creation payload. A
// no-op once forwarding has been disabled, so the buffer cannot grow
// unboundedly for the rest of the process run.
func (s *AutomationSink) Enqueue(mint model.Mint, create wire.CreateEvent) {
	if s.disabled.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, bufferedToken{mint: mint, raw: create.Raw})
}

// Due reports whether the buffer should be flushed now: len >= batch_size
// or now - last_flush > batch_timeout.
func (s *AutomationSink) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return false
	}
	return len(s.buffer) >= s.batchSize || now.Sub(s.lastFlush) > s.batchTimeout
}

// Disabled reports whether forwarding has been permanently disabled for
// this process run, which happens once the webhook has returned a 404.
func (s *AutomationSink) Disabled() bool { return s.disabled.Load() }

// Flush sends the current buffer if non-empty, with bounded retries.
// Returns the mints that were successfully forwarded (caller marks them
// `forwarded=true` in the cache). On a final failure or when forwarding
// is disabled, the buffer is cleared without retention: best-effort,
// at-most-once delivery.
func (s *AutomationSink) Flush(ctx context.Context, now time.Time) []model.Mint {
	if s.disabled.Load() {
		s.mu.Lock()
		s.buffer = nil
		s.lastFlush = now
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.lastFlush = now
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	body, err := s.buildPayload(batch, now)
	if err != nil {
		s.logger.Error("automation sink: build payload failed, dropping batch", "error", err)
		return nil
	}

	ok := s.sendWithRetry(ctx, body)
	if !ok {
		s.logger.Warn("automation sink: final failure, dropping batch", "count", len(batch))
		return nil
	}

	mints := make([]model.Mint, len(batch))
	for i, t := range batch {
		mints[i] = t.mint
	}
	return mints
}

func (s *AutomationSink) buildPayload(batch []bufferedToken, now time.Time) ([]byte, error) {
	data := make([]json.RawMessage, len(batch))
	for i, t := range batch {
		data[i] = t.raw
	}
	payload := automationPayload{
		Source:    "unified_pump_service",
		Count:     len(batch),
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}
	return json.Marshal(payload)
}

// linearBackOff grows its delay by one retryDelay increment per call,
// satisfying backoff.BackOff so sendWithRetry can drive it with
// backoff.Retry.
type linearBackOff struct {
	delay   time.Duration
	attempt uint64
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.delay * time.Duration(b.attempt)
}

// fatalError wraps a 404 so backoff.Permanent aborts the retry loop
// immediately instead of exhausting maxRetries.
type fatalError struct{ status int }

func (e *fatalError) Error() string { return fmt.Sprintf("fatal status %d", e.status) }

// sendWithRetry issues the request, retrying up to maxRetries times
// after the initial attempt with linear backoff (retry_delay * attempt),
// aborting immediately without retry on a 404.
func (s *AutomationSink) sendWithRetry(ctx context.Context, body []byte) bool {
	attempt := 0
	operation := func() error {
		attempt++
		status, err := s.send(ctx, body)
		if err == nil && status == http.StatusOK {
			return nil
		}
		if status == http.StatusNotFound {
			return backoff.Permanent(&fatalError{status: status})
		}
		s.logger.Warn("automation sink: attempt failed", "attempt", attempt, "status", status, "error", err)
		return fmt.Errorf("automation sink: status %d: %w", status, err)
	}

	policy := backoff.WithMaxRetries(&linearBackOff{delay: s.retryDelay}, uint64(s.maxRetries))
	err := backoff.Retry(operation, policy)
	if err == nil {
		return true
	}
	var fatal *fatalError
	if errors.As(err, &fatal) {
		s.logger.Error("automation sink: endpoint returned 404, disabling forwarding")
		s.disabled.Store(true)
	}
	return false
}

func (s *AutomationSink) send(ctx context.Context, body []byte) (int, error) {
	var req *http.Request
	var err error

	switch s.method {
	case MethodGET:
		u, perr := url.Parse(s.url)
		if perr != nil {
			return 0, fmt.Errorf("automation sink: parse url: %w", perr)
		}
		q := u.Query()
		q.Set("data", string(body))
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return 0, fmt.Errorf("automation sink: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("automation sink: do request: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
