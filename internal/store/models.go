// Package store is the thin GORM/Postgres layer providing read-only
// access to the phase reference table and the active-stream join, plus
// append-only/update writes for metrics, ATH and terminal phase
// transitions. Schema creation and migration are owned elsewhere: Store
// never calls AutoMigrate.
package store

import "time"

// PhaseRow mirrors ref_coin_phases.
type PhaseRow struct {
	ID              int    `gorm:"column:id;primaryKey"`
	Name            string `gorm:"column:name"`
	IntervalSeconds int    `gorm:"column:interval_seconds"`
	MaxAgeMinutes   int    `gorm:"column:max_age_minutes"`
}

// TableName pins the ref_coin_phases table name for GORM.
func (PhaseRow) TableName() string { return "ref_coin_phases" }

// ActiveStreamRow mirrors the coin_streams ⋈ discovered_coins join: one
// row per token the store says is actively tracked.
type ActiveStreamRow struct {
	TokenAddress    string    `gorm:"column:token_address"`
	CurrentPhaseID  int       `gorm:"column:current_phase_id"`
	IsActive        bool      `gorm:"column:is_active"`
	IsGraduated     bool      `gorm:"column:is_graduated"`
	StartedAt       time.Time `gorm:"column:started_at"`
	AthPriceSol     float64   `gorm:"column:ath_price_sol"`
	AthTimestamp    time.Time `gorm:"column:ath_timestamp"`
	TraderPublicKey string    `gorm:"column:trader_public_key"`
	TokenCreatedAt  time.Time `gorm:"column:token_created_at"`
}

// TableName pins the coin_streams table name for GORM (the join target).
func (ActiveStreamRow) TableName() string { return "coin_streams" }

// MetricRow mirrors one row of coin_metrics, written append-only, one
// row per flushed aggregation window.
type MetricRow struct {
	ID                 uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Mint               string    `gorm:"column:mint"`
	Timestamp          time.Time `gorm:"column:timestamp"`
	PhaseIDAtTime      int       `gorm:"column:phase_id_at_time"`
	PriceOpen          float64   `gorm:"column:price_open"`
	PriceHigh          float64   `gorm:"column:price_high"`
	PriceLow           float64   `gorm:"column:price_low"`
	PriceClose         float64   `gorm:"column:price_close"`
	MarketCapClose     float64   `gorm:"column:market_cap_close"`
	BondingCurvePct    float64   `gorm:"column:bonding_curve_pct"`
	VirtualSolReserves float64   `gorm:"column:virtual_sol_reserves"`
	IsKoth             bool      `gorm:"column:is_koth"`
	VolumeSol          float64   `gorm:"column:volume_sol"`
	BuyVolumeSol       float64   `gorm:"column:buy_volume_sol"`
	SellVolumeSol      float64   `gorm:"column:sell_volume_sol"`
	NumBuys            int       `gorm:"column:num_buys"`
	NumSells           int       `gorm:"column:num_sells"`
	UniqueWallets      int       `gorm:"column:unique_wallets"`
	NumMicroTrades     int       `gorm:"column:num_micro_trades"`
	DevSoldAmount      float64   `gorm:"column:dev_sold_amount"`
	MaxSingleBuySol    float64   `gorm:"column:max_single_buy_sol"`
	MaxSingleSellSol   float64   `gorm:"column:max_single_sell_sol"`
	NetVolumeSol       float64   `gorm:"column:net_volume_sol"`
	VolatilityPct      float64   `gorm:"column:volatility_pct"`
	AvgTradeSizeSol    float64   `gorm:"column:avg_trade_size_sol"`
	WhaleBuyVolumeSol  float64   `gorm:"column:whale_buy_volume_sol"`
	WhaleSellVolumeSol float64   `gorm:"column:whale_sell_volume_sol"`
	NumWhaleBuys       int       `gorm:"column:num_whale_buys"`
	NumWhaleSells      int       `gorm:"column:num_whale_sells"`
	BuyPressureRatio   float64   `gorm:"column:buy_pressure_ratio"`
	UniqueSignerRatio  float64   `gorm:"column:unique_signer_ratio"`
}

// TableName pins the coin_metrics table name for GORM.
func (MetricRow) TableName() string { return "coin_metrics" }
