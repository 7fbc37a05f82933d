package model

import "math"

// AggregationBuffer is the per-token aggregation window. It is reset to
// its zero-value-equivalent (via Reset) on every flush.
type AggregationBuffer struct {
	Open, Close    float64
	HasOpen        bool
	High, Low      float64
	Vol            float64
	VolBuy         float64
	VolSell        float64
	Buys           int
	Sells          int
	MaxBuy         float64
	MaxSell        float64
	WhaleBuyVol    float64
	WhaleSellVol   float64
	WhaleBuys      int
	WhaleSells     int
	MicroTrades    int
	DevSoldAmount  float64
	Wallets        map[string]struct{}
	VSol           float64
	Mcap           float64
}

// NewAggregationBuffer returns a buffer with High seeded to -inf and Low
// to +inf, so the first trade always sets both extrema.
func NewAggregationBuffer() *AggregationBuffer {
	b := &AggregationBuffer{}
	b.Reset()
	return b
}

// Reset clears the buffer for the next window.
func (b *AggregationBuffer) Reset() {
	b.Open = 0
	b.Close = 0
	b.HasOpen = false
	b.High = math.Inf(-1)
	b.Low = math.Inf(1)
	b.Vol = 0
	b.VolBuy = 0
	b.VolSell = 0
	b.Buys = 0
	b.Sells = 0
	b.MaxBuy = 0
	b.MaxSell = 0
	b.WhaleBuyVol = 0
	b.WhaleSellVol = 0
	b.WhaleBuys = 0
	b.WhaleSells = 0
	b.MicroTrades = 0
	b.DevSoldAmount = 0
	b.Wallets = make(map[string]struct{})
	// VSol and Mcap are last-observed values, not windowed; they survive
	// a reset.
}

// Empty reports whether any trade has landed in the current window.
func (b *AggregationBuffer) Empty() bool {
	return b.Vol == 0
}

// Signature is the (close, vol, buys+sells) tuple used by the watchdog
// to detect a no-change flush.
type Signature struct {
	Close  float64
	Vol    float64
	Trades int
}

// Signature computes the current window's signature.
func (b *AggregationBuffer) Signature() Signature {
	return Signature{Close: b.Close, Vol: b.Vol, Trades: b.Buys + b.Sells}
}

// Derived holds the metrics computed only at flush time.
type Derived struct {
	NetVolume         float64
	VolatilityPct     float64
	AvgTradeSize      float64
	BuyPressure       float64
	UniqueSignerRatio float64
}

// Derived computes the flush-time-only metrics from the current window.
func (b *AggregationBuffer) Derived() Derived {
	var d Derived
	d.NetVolume = b.VolBuy - b.VolSell
	if b.Open > 0 {
		d.VolatilityPct = (b.High - b.Low) / b.Open * 100
	}
	trades := b.Buys + b.Sells
	if trades > 0 {
		d.AvgTradeSize = b.Vol / float64(trades)
		d.UniqueSignerRatio = float64(len(b.Wallets)) / float64(trades)
	}
	if denom := b.VolBuy + b.VolSell; denom > 0 {
		d.BuyPressure = b.VolBuy / denom
	}
	return d
}
