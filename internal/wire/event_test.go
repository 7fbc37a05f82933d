package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Create(t *testing.T) {
	raw := []byte(`{"txType":"create","mint":"M1","name":"Foo","symbol":"FOO",
		"marketCapSol":12.5,"vTokensInBondingCurve":1000000,"vSolInBondingCurve":30,
		"bondingCurveKey":"BK","traderPublicKey":"creator1"}`)

	ev, ok := Decode(raw)
	require.True(t, ok)
	assert.Equal(t, KindCreate, ev.Kind)
	assert.EqualValues(t, "M1", ev.Create.Mint)
	assert.Equal(t, "Foo", ev.Create.Name)
	assert.Equal(t, "FOO", ev.Create.Symbol)
	assert.Equal(t, 30.0, ev.Create.VSolInBondingCurve)
	assert.Equal(t, 1000000.0, ev.Create.VTokensInBondingCurve)
	assert.Equal(t, "creator1", ev.Create.TraderPublicKey)
	assert.NotEmpty(t, ev.Create.Raw, "raw payload must be kept for verbatim forwarding")
}

func TestDecode_BuyAndSell(t *testing.T) {
	buy := []byte(`{"txType":"buy","mint":"M1","solAmount":0.25,"vSolInBondingCurve":30,
		"vTokensInBondingCurve":1000000,"traderPublicKey":"w1"}`)
	ev, ok := Decode(buy)
	require.True(t, ok)
	assert.Equal(t, KindTrade, ev.Kind)
	assert.Equal(t, SideBuy, ev.Trade.Side)
	assert.Equal(t, 0.25, ev.Trade.SolAmount)

	sell := []byte(`{"txType":"sell","mint":"M1","solAmount":0.25,"vSolInBondingCurve":30,
		"vTokensInBondingCurve":1000000,"traderPublicKey":"w1"}`)
	ev, ok = Decode(sell)
	require.True(t, ok)
	assert.Equal(t, SideSell, ev.Trade.Side)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, ok := Decode([]byte(`not json`))
	assert.False(t, ok)
}

func TestDecode_MissingMint(t *testing.T) {
	_, ok := Decode([]byte(`{"txType":"buy","solAmount":1,"vSolInBondingCurve":1,"vTokensInBondingCurve":1}`))
	assert.False(t, ok)
}

func TestDecode_MissingRequiredNumericFields(t *testing.T) {
	// A trade missing vSolInBondingCurve/vTokensInBondingCurve must be dropped,
	// not default to zero (would corrupt price = vSol / vTokens).
	_, ok := Decode([]byte(`{"txType":"buy","mint":"M1","solAmount":1}`))
	assert.False(t, ok)
}

func TestDecode_NonPositiveSolAmountRejected(t *testing.T) {
	_, ok := Decode([]byte(`{"txType":"buy","mint":"M1","solAmount":0,"vSolInBondingCurve":1,"vTokensInBondingCurve":1,"traderPublicKey":"w"}`))
	assert.False(t, ok)

	_, ok = Decode([]byte(`{"txType":"buy","mint":"M1","solAmount":-1,"vSolInBondingCurve":1,"vTokensInBondingCurve":1,"traderPublicKey":"w"}`))
	assert.False(t, ok)
}

func TestDecode_UnknownTxTypeRejected(t *testing.T) {
	_, ok := Decode([]byte(`{"txType":"other","mint":"M1"}`))
	assert.False(t, ok)
}

func TestDecode_CreateMissingReservesStillAccepted(t *testing.T) {
	// Nothing in the creation path reads the reserves, so a create
	// carrying only a mint must still reach the discovery cache.
	ev, ok := Decode([]byte(`{"txType":"create","mint":"M1","name":"Foo"}`))
	require.True(t, ok)
	assert.Equal(t, KindCreate, ev.Kind)
	assert.EqualValues(t, "M1", ev.Create.Mint)
	assert.Zero(t, ev.Create.VSolInBondingCurve)
}
