package domain

import "time"

// PositionConfig holds the per-position parameters set at activation and
// mutable only through an explicit config update.
type PositionConfig struct {
	PositionID         string    `json:"position_id"`
	Pool               string    `json:"pool"`
	LPTokenID          uint64    `json:"lp_token_id"`
	HedgeSymbol        string    `json:"hedge_symbol"`
	HedgedAsset        AssetSide `json:"hedged_asset"`
	HedgeRatio         float64   `json:"hedge_ratio"`
	RebalanceThreshold float64   `json:"rebalance_threshold"`
	EmergencyThreshold float64   `json:"emergency_threshold"`
	ActivatedAt        time.Time `json:"activated_at"`
}

// RebalanceRecord is one executed hedge adjustment, kept both in the bounded
// per-position history and in the append-only audit store.
type RebalanceRecord struct {
	ID             string      `json:"id"`
	PositionID     string      `json:"position_id"`
	Trigger        string      `json:"trigger"`
	Reason         string      `json:"reason"`
	Emergency      bool        `json:"emergency"`
	BeforeSize     float64     `json:"before_size"`
	AfterSize      float64     `json:"after_size"`
	BeforeNotional float64     `json:"before_notional"`
	AfterNotional  float64     `json:"after_notional"`
	Price          float64     `json:"price"`
	RealizedUSD    float64     `json:"realized_usd"`
	PnL            PnLSnapshot `json:"pnl"`
	ExecutedAt     time.Time   `json:"executed_at"`
}

// TrackedPosition is the full persisted state for one hedged liquidity
// position. The whole record is serialized as a single document so that a
// newer schema can read older rows: fields absent in stored JSON simply
// unmarshal to their zero values (an absent reference price becomes 0, which
// the engine treats as "no reference yet").
type TrackedPosition struct {
	Config PositionConfig `json:"config"`

	// LastHedge is the hedge state the engine itself last set. It is kept for
	// display and crash recovery only; the venue remains the source of truth.
	LastHedge HedgeState `json:"last_hedge"`

	LastPrice          float64   `json:"last_price"`
	LastRebalancePrice float64   `json:"last_rebalance_price"`
	LastRebalanceAt    time.Time `json:"last_rebalance_at"`

	DailyCount     int       `json:"daily_count"`
	DailyResetDate string    `json:"daily_reset_date"`
	HourlyCount    int       `json:"hourly_count"`
	HourlyResetAt  time.Time `json:"hourly_reset_at"`

	PnL PnLState `json:"pnl"`

	Rebalances []RebalanceRecord `json:"rebalances"`
}

// HasReferencePrice reports whether a rebalance has ever established the
// reference price that price-movement triggers compare against.
func (p *TrackedPosition) HasReferencePrice() bool {
	return p.LastRebalancePrice > 0
}
