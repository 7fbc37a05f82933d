package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpstream/ingest/internal/wire"
	"github.com/pumpstream/ingest/pkg/model"
)

type fakeTarget struct {
	entries   map[model.Mint]*model.WatchlistEntry
	watchdogs map[model.Mint]*model.WatchdogState
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		entries:   make(map[model.Mint]*model.WatchlistEntry),
		watchdogs: make(map[model.Mint]*model.WatchdogState),
	}
}

func (f *fakeTarget) add(mint model.Mint, creator string) *model.WatchlistEntry {
	e := &model.WatchlistEntry{
		Meta:   model.ActiveStream{Mint: mint, CreatorAddress: creator},
		Buffer: model.NewAggregationBuffer(),
	}
	f.entries[mint] = e
	return e
}

func (f *fakeTarget) Entry(mint model.Mint) (*model.WatchlistEntry, bool) {
	e, ok := f.entries[mint]
	return e, ok
}

func (f *fakeTarget) Watchdog(mint model.Mint) *model.WatchdogState {
	wd, ok := f.watchdogs[mint]
	if !ok {
		wd = &model.WatchdogState{}
		f.watchdogs[mint] = wd
	}
	return wd
}

func buyTrade(mint model.Mint, sol, vSol, vTok float64, trader string) wire.TradeEvent {
	return wire.TradeEvent{Mint: mint, Side: wire.SideBuy, SolAmount: sol, VSolInBondingCurve: vSol, VTokensInBondingCurve: vTok, TraderPublicKey: trader}
}

func sellTrade(mint model.Mint, sol, vSol, vTok float64, trader string) wire.TradeEvent {
	return wire.TradeEvent{Mint: mint, Side: wire.SideSell, SolAmount: sol, VSolInBondingCurve: vSol, VTokensInBondingCurve: vTok, TraderPublicKey: trader}
}

func TestProcess_BuyUpdatesBuffer(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	agg.Process(buyTrade("M1", 0.5, 10, 1000, "wallet1"), time.Now())

	buf := target.entries["M1"].Buffer
	assert.Equal(t, 1, buf.Buys)
	assert.Equal(t, 0.5, buf.VolBuy)
	assert.Equal(t, 0.5, buf.MaxBuy)
}

func TestProcess_SellUpdatesBuffer(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	agg.Process(sellTrade("M1", 0.3, 10, 1000, "wallet1"), time.Now())

	buf := target.entries["M1"].Buffer
	assert.Equal(t, 1, buf.Sells)
	assert.Equal(t, 0.3, buf.VolSell)
	assert.Equal(t, 0.3, buf.MaxSell)
}

func TestProcess_WhaleDetectionBuy(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	agg.Process(buyTrade("M1", 1.0, 10, 1000, "whale"), time.Now())

	buf := target.entries["M1"].Buffer
	assert.Equal(t, 1, buf.WhaleBuys)
	assert.Equal(t, 1.0, buf.WhaleBuyVol)
}

func TestProcess_WhaleBoundaryExactlyAtThreshold(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	agg.Process(buyTrade("M1", 1.0, 10, 1000, "w"), time.Now())
	assert.Equal(t, 1, target.entries["M1"].Buffer.WhaleBuys)
}

func TestProcess_NonWhaleNotCounted(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	agg.Process(buyTrade("M1", 0.99, 10, 1000, "w"), time.Now())
	assert.Equal(t, 0, target.entries["M1"].Buffer.WhaleBuys)
}

func TestProcess_DevSoldAmountOnlyForCreatorSells(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "creator-addr")
	agg := New(target, NewAthCache(), 1.0)

	agg.Process(sellTrade("M1", 0.4, 10, 1000, "creator-addr"), time.Now())
	assert.Equal(t, 0.4, target.entries["M1"].Buffer.DevSoldAmount)

	target.add("M2", "creator-addr")
	agg.Process(sellTrade("M2", 0.4, 10, 1000, "not-creator"), time.Now())
	assert.Equal(t, 0.0, target.entries["M2"].Buffer.DevSoldAmount)
}

func TestProcess_MicroTradeBoundary(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	// strictly below 0.01 counts as micro
	agg.Process(buyTrade("M1", 0.005, 10, 1000, "w1"), time.Now())
	assert.Equal(t, 1, target.entries["M1"].Buffer.MicroTrades)

	// exactly 0.01 does NOT count as micro
	agg.Process(buyTrade("M1", 0.01, 10, 1000, "w2"), time.Now())
	assert.Equal(t, 1, target.entries["M1"].Buffer.MicroTrades)
}

func TestProcess_OpenHighLowClose(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	// price 0.00001
	agg.Process(buyTrade("M1", 0.1, 10, 1000000, "w1"), time.Now())
	// price 0.00002 (higher)
	agg.Process(buyTrade("M1", 0.1, 20, 1000000, "w2"), time.Now())
	// price 0.000005 (lower, last)
	agg.Process(sellTrade("M1", 0.1, 5, 1000000, "w3"), time.Now())

	buf := target.entries["M1"].Buffer
	assert.InDelta(t, 0.00001, buf.Open, 1e-9)
	assert.InDelta(t, 0.000005, buf.Close, 1e-9)
	assert.InDelta(t, 0.00002, buf.High, 1e-9)
	assert.InDelta(t, 0.000005, buf.Low, 1e-9)
}

func TestProcess_WalletsSet(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	for i := 0; i < 5; i++ {
		agg.Process(buyTrade("M1", 0.1, 10, 1000, string(rune('a'+i))), time.Now())
	}
	assert.Len(t, target.entries["M1"].Buffer.Wallets, 5)

	agg.Process(buyTrade("M1", 0.1, 10, 1000, "a"), time.Now())
	assert.Len(t, target.entries["M1"].Buffer.Wallets, 5)
}

func TestProcess_AthCacheUpdatesOnNewHigh(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	ath := NewAthCache()
	agg := New(target, ath, 1.0)

	agg.Process(buyTrade("M1", 0.1, 10, 1000, "w"), time.Now()) // price 0.01
	price, ok := ath.Get("M1")
	require.True(t, ok)
	assert.InDelta(t, 0.01, price, 1e-9)
	dirty := ath.DrainDirty()
	assert.Contains(t, dirty, model.Mint("M1"))
}

func TestProcess_AthCacheIgnoresLowerPrice(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	ath := NewAthCache()
	ath.Seed("M1", 1.0)
	agg := New(target, ath, 1.0)

	agg.Process(sellTrade("M1", 0.1, 0.00001, 1, "w"), time.Now())
	price, _ := ath.Get("M1")
	assert.Equal(t, 1.0, price)
	assert.NotContains(t, ath.DrainDirty(), model.Mint("M1"))
}

func TestProcess_UpdatesWatchdogLastTradeAt(t *testing.T) {
	target := newFakeTarget()
	target.add("M1", "")
	agg := New(target, NewAthCache(), 1.0)

	before := time.Now()
	agg.Process(buyTrade("M1", 0.1, 10, 1000, "w"), time.Now())
	after := time.Now()

	wd := target.Watchdog("M1")
	assert.True(t, !wd.LastTradeAt.Before(before) && !wd.LastTradeAt.After(after))
}

func TestProcess_UnknownMintNoop(t *testing.T) {
	target := newFakeTarget()
	agg := New(target, NewAthCache(), 1.0)
	agg.Process(buyTrade("unknown", 0.1, 10, 1000, "w"), time.Now())
	_, ok := target.Entry("unknown")
	assert.False(t, ok)
}
