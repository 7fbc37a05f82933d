package model

import "time"

// ActiveStream is the operator's mirror of a row in the
// coin_streams/discovered_coins join, one per token the store says is
// actively tracked.
type ActiveStream struct {
	Mint           Mint
	PhaseID        PhaseID
	CreatedAt      time.Time // token creation instant, UTC
	StartedAt      time.Time // tracking start instant, UTC
	CreatorAddress string    // nullable in the store; "" means null
	AthPriceSol    float64
}
