package subscription

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []wire.Command
	failNext int // fail this many WriteJSON calls in a row
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return assertErr
	}
	cmd := v.(wire.Command)
	c.messages = append(c.messages, cmd)
	return nil
}

func (c *fakeConn) snapshot() []wire.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Command, len(c.messages))
	copy(out, c.messages)
	return out
}

type testErr string

func (e testErr) Error() string { return string(e) }

const assertErr = testErr("write failed")

func TestOnConnected_SendsSubscribeNewTokenWhenNothingSubscribed(t *testing.T) {
	m := New(nil)
	conn := &fakeConn{}
	m.OnConnected(conn)

	msgs := conn.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.MethodSubscribeNewToken, msgs[0].Method)
}

func TestOnConnected_RestoresPreviousSubscribedSet(t *testing.T) {
	m := New(nil)
	initialConn := &fakeConn{}
	m.conn = initialConn
	m.subscribed = map[model.Mint]struct{}{"A": {}, "B": {}, "C": {}}

	newConn := &fakeConn{}
	m.OnConnected(newConn)

	msgs := newConn.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, wire.MethodSubscribeNewToken, msgs[0].Method)
	assert.Equal(t, wire.MethodSubscribeTokenTrade, msgs[1].Method)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, msgs[1].Keys)
}

func TestOnConnected_ResendFailureRequeues(t *testing.T) {
	m := New(nil)
	m.subscribed = map[model.Mint]struct{}{"A": {}}

	// subscribeNewToken succeeds, the batched resubscribe fails
	failingConn := &failAfterNConn{n: 1}
	m.OnConnected(failingConn)

	assert.False(t, m.Subscribed("A"))
	m.mu.Lock()
	_, pending := m.pendingSubscribe["A"]
	m.mu.Unlock()
	assert.True(t, pending)
}

type failAfterNConn struct {
	mu    sync.Mutex
	count int
	n     int
}

func (c *failAfterNConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if c.count > c.n {
		return assertErr
	}
	return nil
}

func TestTick_DrainsSubscribeBatch(t *testing.T) {
	m := New(nil)
	conn := &fakeConn{}
	m.conn = conn
	m.EnqueueSubscribe("A")
	m.EnqueueSubscribe("B")

	m.tick()

	assert.True(t, m.Subscribed("A"))
	assert.True(t, m.Subscribed("B"))
	msgs := conn.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.MethodSubscribeTokenTrade, msgs[0].Method)
}

func TestTick_DrainsUnsubscribeBatch(t *testing.T) {
	m := New(nil)
	conn := &fakeConn{}
	m.conn = conn
	m.subscribed = map[model.Mint]struct{}{"A": {}}
	m.EnqueueUnsubscribe("A")

	m.tick()

	assert.False(t, m.Subscribed("A"))
}

func TestTick_NoConnDoesNothing(t *testing.T) {
	m := New(nil)
	m.EnqueueSubscribe("A")
	m.tick()
	assert.False(t, m.Subscribed("A"))
	m.mu.Lock()
	_, pending := m.pendingSubscribe["A"]
	m.mu.Unlock()
	assert.True(t, pending)
}

func TestTick_SendFailureRequeues(t *testing.T) {
	m := New(nil)
	conn := &fakeConn{failNext: 1}
	m.conn = conn
	m.EnqueueSubscribe("A")

	m.tick()

	assert.False(t, m.Subscribed("A"))
	m.mu.Lock()
	_, pending := m.pendingSubscribe["A"]
	m.mu.Unlock()
	assert.True(t, pending)
}

func TestForceResubscribe_SendsUnsubscribeThenSubscribeWithDelay(t *testing.T) {
	m := New(nil)
	conn := &fakeConn{}
	m.conn = conn
	var slept time.Duration
	m.sleep = func(d time.Duration) { slept = d }

	m.ForceResubscribe("M")

	msgs := conn.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, wire.MethodUnsubscribeTokenTrade, msgs[0].Method)
	assert.Equal(t, []string{"M"}, msgs[0].Keys)
	assert.Equal(t, wire.MethodSubscribeTokenTrade, msgs[1].Method)
	assert.Equal(t, []string{"M"}, msgs[1].Keys)
	assert.Equal(t, ResubscribeDelay, slept)
}

func TestEnqueueSubscribe_ClearsPendingUnsubscribe(t *testing.T) {
	m := New(nil)
	m.EnqueueUnsubscribe("A")
	m.EnqueueSubscribe("A")

	m.mu.Lock()
	_, inUnsub := m.pendingUnsubscribe["A"]
	_, inSub := m.pendingSubscribe["A"]
	m.mu.Unlock()
	assert.False(t, inUnsub)
	assert.True(t, inSub)
}
