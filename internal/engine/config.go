package engine

import "time"

// Config holds the engine-wide rebalancing parameters. Per-position price
// thresholds live in domain.PositionConfig; everything here applies to every
// tracked position.
type Config struct {
	// RebalanceInterval is the scheduled-timer trigger interval.
	RebalanceInterval time.Duration

	// Cooldown is the minimum elapsed time between two non-bypassing
	// rebalances. Typically configured equal to RebalanceInterval, in which
	// case the timer trigger is the qualifying event and the cooldown check
	// that follows it is structurally satisfied.
	Cooldown time.Duration

	// HedgeRatioFloor is the minimum non-zero base hedge ratio.
	HedgeRatioFloor float64

	// FundingCutoff is the negative hourly funding rate below which the
	// in-range hedge ratio drops to its reduced tier.
	FundingCutoff float64

	MinNotionalUSD   float64
	MaxNotionalUSD   float64
	DuplicateEpsilon float64

	MaxDailyRebalances  int
	MaxHourlyRebalances int

	// PriceSanityFloor aborts a position's cycle when the observed price
	// falls below it; readings that low are treated as a probable
	// unit/decimals error in the upstream feed rather than a market move.
	PriceSanityFloor float64

	// TakerFeeRate is the venue taker fee charged on every adjustment.
	TakerFeeRate float64

	// HistoryLimit bounds the per-position rebalance history.
	HistoryLimit int

	// AuditRetries bounds best-effort audit sink delivery attempts.
	AuditRetries int
}

// Normalized returns a copy of c with zero values replaced by defaults.
func (c Config) Normalized() Config {
	out := c
	if out.RebalanceInterval <= 0 {
		out.RebalanceInterval = time.Hour
	}
	if out.Cooldown <= 0 {
		out.Cooldown = time.Hour
	}
	if out.HedgeRatioFloor <= 0 {
		out.HedgeRatioFloor = reducedHedgeRatio
	}
	if out.FundingCutoff >= 0 {
		out.FundingCutoff = -0.0001
	}
	if out.MinNotionalUSD <= 0 {
		out.MinNotionalUSD = 10
	}
	if out.MaxNotionalUSD <= 0 {
		out.MaxNotionalUSD = 250_000
	}
	if out.DuplicateEpsilon <= 0 {
		out.DuplicateEpsilon = 1e-4
	}
	if out.MaxDailyRebalances <= 0 {
		out.MaxDailyRebalances = 24
	}
	if out.MaxHourlyRebalances <= 0 {
		out.MaxHourlyRebalances = 6
	}
	if out.PriceSanityFloor <= 0 {
		out.PriceSanityFloor = 0.01
	}
	if out.TakerFeeRate <= 0 {
		out.TakerFeeRate = 0.00045
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = 50
	}
	if out.AuditRetries <= 0 {
		out.AuditRetries = 3
	}
	return out
}
