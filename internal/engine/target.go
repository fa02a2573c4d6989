// Package engine implements the rebalancing decision engine for delta-neutral
// hedging of concentrated-liquidity positions: the hedge target calculator,
// the prioritized trigger chain, the safety gate, and the virtual accounting
// tracker that attributes the economic outcome of every adjustment.
package engine

import "github.com/alanyoungcy/lphedger/internal/domain"

// Funding-dependent base ratios for in-range positions. The hedge is
// progressively de-risked as the cost of holding the short rises.
const (
	fullHedgeRatio    = 1.0
	softHedgeRatio    = 0.98
	reducedHedgeRatio = 0.90
)

// ComputeTarget maps the current pool composition and funding cost to the
// short size the venue position should be moved to.
//
// The base ratio follows the range status: 0 when the pool no longer holds
// the hedged asset, 1.0 when the pool is entirely the hedged asset, and a
// funding-dependent tier in between. A non-zero base ratio is floored at
// ratioFloor, then scaled by the per-position hedge ratio, so floor and
// position ratio compose multiplicatively. A zero target is a valid result
// meaning "no hedge".
func ComputeTarget(
	snap domain.LPSnapshot,
	fundingRate float64,
	asset domain.AssetSide,
	positionRatio, ratioFloor, fundingCutoff float64,
) domain.HedgeTarget {
	base := baseHedgeRatio(snap.Range, asset, fundingRate, fundingCutoff)
	if base > 0 && base < ratioFloor {
		base = ratioFloor
	}

	effective := base * positionRatio
	size := snap.HedgedAmount(asset) * effective

	// Token1 is the quote asset, so a unit of it is worth one dollar; the
	// volatile token0 is marked at the pool price.
	unitPrice := snap.Price
	if asset == domain.AssetToken1 {
		unitPrice = 1.0
	}

	return domain.HedgeTarget{
		Size:        size,
		NotionalUSD: size * unitPrice,
		HedgeRatio:  effective,
	}
}

// baseHedgeRatio returns the pre-floor hedge ratio for the given range status
// and funding rate.
func baseHedgeRatio(status domain.RangeStatus, asset domain.AssetSide, fundingRate, fundingCutoff float64) float64 {
	switch status {
	case domain.RangeStatusAbove:
		// Price above range: the pool holds only token1.
		if asset == domain.AssetToken0 {
			return 0
		}
		return fullHedgeRatio
	case domain.RangeStatusBelow:
		// Price below range: the pool holds only token0.
		if asset == domain.AssetToken1 {
			return 0
		}
		return fullHedgeRatio
	}

	// In range: de-risk by funding cost.
	switch {
	case fundingRate >= 0:
		return fullHedgeRatio
	case fundingRate >= fundingCutoff:
		return softHedgeRatio
	default:
		return reducedHedgeRatio
	}
}
