package chain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSqrtRatioAtTick(t *testing.T) {
	assert.InDelta(t, 1.0, sqrtRatioAtTick(0), 1e-12)
	// 1.0001^6932 is almost exactly 2, so its square root is sqrt(2).
	assert.InDelta(t, math.Sqrt2, sqrtRatioAtTick(6932), 1e-3)
	assert.InDelta(t, 1/sqrtRatioAtTick(1000), sqrtRatioAtTick(-1000), 1e-9)
}

func TestAmountsForLiquidityBelowRange(t *testing.T) {
	// Price below the range: the position is entirely token0.
	a0, a1 := amountsForLiquidity(1e18, sqrtRatioAtTick(-2000), -1000, 1000)
	assert.Greater(t, a0, 0.0)
	assert.Zero(t, a1)
}

func TestAmountsForLiquidityAboveRange(t *testing.T) {
	a0, a1 := amountsForLiquidity(1e18, sqrtRatioAtTick(2000), -1000, 1000)
	assert.Zero(t, a0)
	assert.Greater(t, a1, 0.0)
}

func TestAmountsForLiquidityInRange(t *testing.T) {
	a0, a1 := amountsForLiquidity(1e18, 1.0, -1000, 1000)
	assert.Greater(t, a0, 0.0)
	assert.Greater(t, a1, 0.0)

	// Exact decomposition at sqrtPrice = 1.
	sqrtA := sqrtRatioAtTick(-1000)
	sqrtB := sqrtRatioAtTick(1000)
	assert.InDelta(t, 1e18*(1-1/sqrtB), a0, 1e6)
	assert.InDelta(t, 1e18*(1-sqrtA), a1, 1e6)
}

func TestAmountsForLiquidityShiftWithPrice(t *testing.T) {
	// Rising price inside the range converts token0 into token1.
	lo0, lo1 := amountsForLiquidity(1e18, sqrtRatioAtTick(-500), -1000, 1000)
	hi0, hi1 := amountsForLiquidity(1e18, sqrtRatioAtTick(500), -1000, 1000)
	assert.Greater(t, lo0, hi0)
	assert.Less(t, lo1, hi1)
}

func TestAmountsForLiquidityContinuousAtBoundaries(t *testing.T) {
	inside0, inside1 := amountsForLiquidity(1e18, sqrtRatioAtTick(-1000), -1000, 1000)
	below0, below1 := amountsForLiquidity(1e18, sqrtRatioAtTick(-1001), -1000, 1000)
	assert.InDelta(t, below0, inside0, below0*1e-3)
	assert.InDelta(t, below1, inside1, 1e6)
}
