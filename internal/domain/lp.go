package domain

import "time"

// RangeStatus describes where the pool's current price sits relative to a
// liquidity position's configured tick range.
type RangeStatus string

const (
	RangeStatusIn    RangeStatus = "in_range"
	RangeStatusAbove RangeStatus = "above_range"
	RangeStatusBelow RangeStatus = "below_range"
)

// AssetSide selects which of the two pool assets a hedge covers.
type AssetSide string

const (
	AssetToken0 AssetSide = "token0"
	AssetToken1 AssetSide = "token1"
)

// LPSnapshot is a read-only view of a concentrated-liquidity position at a
// single cycle. Amounts are expressed in whole-token units, the price is
// token0 denominated in token1 (e.g. ETH/USDC), and fee amounts are the
// uncollected fees accrued since the last collect.
type LPSnapshot struct {
	PositionID string
	Pool       string
	Amount0    float64
	Amount1    float64
	Price      float64
	Range      RangeStatus
	Fees0      float64
	Fees1      float64
	TickLower  int
	TickUpper  int
	ObservedAt time.Time
}

// ValueUSD returns the total USD value of the position assuming token1 is the
// quote/stable asset.
func (s LPSnapshot) ValueUSD() float64 {
	return s.Amount0*s.Price + s.Amount1
}

// FeesUSD returns the USD value of the uncollected fees.
func (s LPSnapshot) FeesUSD() float64 {
	return s.Fees0*s.Price + s.Fees1
}

// HedgedAmount returns the pool amount of the asset selected for hedging.
func (s LPSnapshot) HedgedAmount(side AssetSide) float64 {
	if side == AssetToken1 {
		return s.Amount1
	}
	return s.Amount0
}
