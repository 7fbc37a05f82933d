// Package wire decodes the upstream market-data feed's JSON frames into a
// typed, tagged variant. Parsing failures are demoted to a dropped-event
// counter at the call site rather than surfaced as errors: the feed is
// untrusted and malformed frames are expected traffic, not exceptional.
package wire

import (
	"encoding/json"

	"github.com/pumpstream/ingest/pkg/model"
)

// Kind discriminates the two upstream event shapes.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindTrade
)

// Side is a trade's buy/sell direction.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// CreateEvent is the upstream token-creation payload, kept close to the
// wire shape since downstream (cache, filter) needs the full payload to
// forward to the automation endpoint verbatim.
type CreateEvent struct {
	Mint                  model.Mint
	Name                  string
	Symbol                string
	MarketCapSol          float64
	VTokensInBondingCurve float64
	VSolInBondingCurve    float64
	BondingCurveKey       string
	TraderPublicKey       string
	Raw                   json.RawMessage // full payload, forwarded verbatim
}

// TradeEvent is the upstream buy/sell payload.
type TradeEvent struct {
	Mint                  model.Mint
	Side                  Side
	SolAmount             float64
	VSolInBondingCurve    float64
	VTokensInBondingCurve float64
	TraderPublicKey       string
}

// Event is the tagged variant the Supervisor's demux switches on.
type Event struct {
	Kind   Kind
	Create CreateEvent
	Trade  TradeEvent
}

// wireFrame mirrors the raw JSON shape of both event kinds; a
// zero/absent field is fine for whichever variant doesn't use it.
type wireFrame struct {
	TxType                string   `json:"txType"`
	Mint                  string   `json:"mint"`
	Name                  string   `json:"name"`
	Symbol                string   `json:"symbol"`
	MarketCapSol          *float64 `json:"marketCapSol"`
	VTokensInBondingCurve *float64 `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    *float64 `json:"vSolInBondingCurve"`
	BondingCurveKey       string   `json:"bondingCurveKey"`
	TraderPublicKey       string   `json:"traderPublicKey"`
	SolAmount             *float64 `json:"solAmount"`
}

// Decode parses one upstream frame. ok is false for any malformed or
// unrecognized frame; the caller (supervisor) must drop the event
// silently.
func Decode(raw []byte) (Event, bool) {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, false
	}
	if f.Mint == "" {
		return Event{}, false
	}

	switch f.TxType {
	case "create":
		// Creation only needs the mint: the cache, filter and automation
		// forward never read the reserves, so a create missing them is
		// still a valid discovery.
		return Event{
			Kind: KindCreate,
			Create: CreateEvent{
				Mint:                  model.Mint(f.Mint),
				Name:                  f.Name,
				Symbol:                f.Symbol,
				MarketCapSol:          derefOr(f.MarketCapSol, 0),
				VTokensInBondingCurve: derefOr(f.VTokensInBondingCurve, 0),
				VSolInBondingCurve:    derefOr(f.VSolInBondingCurve, 0),
				BondingCurveKey:       f.BondingCurveKey,
				TraderPublicKey:       f.TraderPublicKey,
				Raw:                   json.RawMessage(raw),
			},
		}, true
	case "buy", "sell":
		if f.SolAmount == nil || f.VSolInBondingCurve == nil || f.VTokensInBondingCurve == nil {
			return Event{}, false
		}
		if *f.SolAmount <= 0 {
			return Event{}, false
		}
		side := SideBuy
		if f.TxType == "sell" {
			side = SideSell
		}
		return Event{
			Kind: KindTrade,
			Trade: TradeEvent{
				Mint:                  model.Mint(f.Mint),
				Side:                  side,
				SolAmount:             *f.SolAmount,
				VSolInBondingCurve:    *f.VSolInBondingCurve,
				VTokensInBondingCurve: *f.VTokensInBondingCurve,
				TraderPublicKey:       f.TraderPublicKey,
			},
		}, true
	default:
		return Event{}, false
	}
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
