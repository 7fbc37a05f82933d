package sinks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

func newToken(mint model.Mint) wire.CreateEvent {
	return wire.CreateEvent{Raw: json.RawMessage(`{"mint":"` + string(mint) + `"}`)}
}

func TestAutomationSink_Due_TriggersOnBatchSize(t *testing.T) {
	sink := NewAutomationSink("http://example.invalid", MethodPOST, nil).WithBatching(2, time.Hour)
	now := time.Now()

	sink.Enqueue("M1", newToken("M1"))
	assert.False(t, sink.Due(now))

	sink.Enqueue("M2", newToken("M2"))
	assert.True(t, sink.Due(now))
}

func TestAutomationSink_Due_TriggersOnTimeout(t *testing.T) {
	sink := NewAutomationSink("http://example.invalid", MethodPOST, nil).WithBatching(100, time.Second)
	now := time.Now()

	sink.Enqueue("M1", newToken("M1"))
	assert.False(t, sink.Due(now))
	assert.True(t, sink.Due(now.Add(2*time.Second)))
}

func TestAutomationSink_Flush_SuccessReturnsForwardedMints(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewAutomationSink(srv.URL, MethodPOST, nil)
	sink.Enqueue("M1", newToken("M1"))
	sink.Enqueue("M2", newToken("M2"))

	forwarded := sink.Flush(t.Context(), time.Now())
	require.Len(t, forwarded, 2)
	assert.Equal(t, "unified_pump_service", gotBody["source"])
	assert.Equal(t, float64(2), gotBody["count"])
}

func TestAutomationSink_Flush_404DisablesForwardingPermanently(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sink := NewAutomationSink(srv.URL, MethodPOST, nil)
	sink.Enqueue("M1", newToken("M1"))

	forwarded := sink.Flush(t.Context(), time.Now())
	assert.Nil(t, forwarded)
	assert.True(t, sink.Disabled())
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	sink.Enqueue("M2", newToken("M2"))
	forwarded = sink.Flush(t.Context(), time.Now())
	assert.Nil(t, forwarded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "disabled sink must not issue further requests")
}

func TestAutomationSink_Flush_RetriesTransientFailureThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewAutomationSink(srv.URL, MethodPOST, nil)
	sink.retryDelay = time.Millisecond
	sink.Enqueue("M1", newToken("M1"))

	forwarded := sink.Flush(t.Context(), time.Now())
	require.Len(t, forwarded, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestAutomationSink_Flush_ExhaustedRetriesDropsBatch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewAutomationSink(srv.URL, MethodPOST, nil)
	sink.retryDelay = time.Millisecond
	sink.Enqueue("M1", newToken("M1"))

	forwarded := sink.Flush(t.Context(), time.Now())
	assert.Nil(t, forwarded)
	assert.False(t, sink.Disabled())
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits), "initial attempt plus three retries")
}

func TestAutomationSink_Flush_GETEncodesDataInQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("data")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewAutomationSink(srv.URL, MethodGET, nil)
	sink.Enqueue("M1", newToken("M1"))

	forwarded := sink.Flush(t.Context(), time.Now())
	require.Len(t, forwarded, 1)
	assert.Contains(t, gotQuery, "M1")
}
