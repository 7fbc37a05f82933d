package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFilter(t *testing.T, window time.Duration) *Filter {
	t.Helper()
	f, err := New("", window)
	require.NoError(t, err)
	return f
}

func TestEvaluate_BadNames(t *testing.T) {
	cases := []string{"TestCoin", "Trading Bot", "RugPull Coin", "Not A Scam", "Honeypot Token", "Free Faucet"}
	now := time.Now()
	for _, name := range cases {
		f := mustFilter(t, 30*time.Second)
		accept, reason := f.Evaluate(name, "SYM", now)
		assert.False(t, accept, name)
		assert.Equal(t, ReasonBadName, reason, name)
	}
}

func TestEvaluate_CaseInsensitive(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	accept, reason := f.Evaluate("TESTCOIN", "TEST", time.Now())
	assert.False(t, accept)
	assert.Equal(t, ReasonBadName, reason)
}

func TestEvaluate_GoodCoinPasses(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	accept, reason := f.Evaluate("Moon Rocket", "MOON", time.Now())
	assert.True(t, accept)
	assert.Equal(t, ReasonNone, reason)
	assert.Equal(t, 1, f.RecentLen())
}

func TestEvaluate_SpamBurstIdenticalName(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	now := time.Now()
	accept1, _ := f.Evaluate("Duplicate Coin", "DUP1", now)
	require.True(t, accept1)

	accept2, reason2 := f.Evaluate("Duplicate Coin", "DUP2", now.Add(time.Second))
	assert.False(t, accept2)
	assert.Equal(t, ReasonSpamBurst, reason2)
}

func TestEvaluate_SpamBurstIdenticalSymbol(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	now := time.Now()
	accept1, _ := f.Evaluate("First Coin", "SAME", now)
	require.True(t, accept1)

	accept2, reason2 := f.Evaluate("Second Coin", "SAME", now.Add(time.Second))
	assert.False(t, accept2)
	assert.Equal(t, ReasonSpamBurst, reason2)
}

func TestEvaluate_OutsideWindowAllowed(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	now := time.Now()
	_, _ = f.Evaluate("Time Coin", "TIME", now)

	accept, _ := f.Evaluate("Time Coin", "TIME2", now.Add(31*time.Second))
	assert.True(t, accept)
}

func TestEvaluate_PrunesAt2xWindow(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	now := time.Now()
	for i := 0; i < 3; i++ {
		_, _ = f.Evaluate("Old Coin", "OLD", now)
	}
	// advance past 2x window (60s) then evaluate a fresh coin, which prunes.
	_, _ = f.Evaluate("New Coin", "NEW", now.Add(61*time.Second))
	assert.LessOrEqual(t, f.RecentLen(), 2)
}

func TestEvaluate_SimilarNamesPass(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	now := time.Now()
	_, _ = f.Evaluate("Moon Coin", "MOON1", now)
	accept, _ := f.Evaluate("Moon Token", "MOON2", now)
	assert.True(t, accept)
}

func TestSetPattern_InvalidRegexRejected(t *testing.T) {
	f := mustFilter(t, 30*time.Second)
	err := f.SetPattern("(unterminated")
	assert.Error(t, err)
	// existing pattern still works
	accept, reason := f.Evaluate("TestCoin", "T", time.Now())
	assert.False(t, accept)
	assert.Equal(t, ReasonBadName, reason)
}
