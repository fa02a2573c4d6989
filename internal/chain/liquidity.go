package chain

import "math"

// sqrtRatioAtTick returns sqrt(1.0001^tick), the pool's price-square-root at
// a tick boundary.
func sqrtRatioAtTick(tick int) float64 {
	return math.Sqrt(math.Pow(1.0001, float64(tick)))
}

// amountsForLiquidity converts a position's liquidity into raw token amounts
// given the pool's current sqrt price and the position's tick range. Standard
// concentrated-liquidity decomposition: below the range the position is
// entirely token0, above it entirely token1, inside it a mix at the current
// price.
func amountsForLiquidity(liquidity, sqrtPrice float64, tickLower, tickUpper int) (amount0, amount1 float64) {
	sqrtA := sqrtRatioAtTick(tickLower)
	sqrtB := sqrtRatioAtTick(tickUpper)

	switch {
	case sqrtPrice <= sqrtA:
		amount0 = liquidity * (1/sqrtA - 1/sqrtB)
	case sqrtPrice >= sqrtB:
		amount1 = liquidity * (sqrtB - sqrtA)
	default:
		amount0 = liquidity * (1/sqrtPrice - 1/sqrtB)
		amount1 = liquidity * (sqrtPrice - sqrtA)
	}
	return amount0, amount1
}
