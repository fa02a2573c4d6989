package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

func lpSnap(status domain.RangeStatus, amount0, amount1, price float64) domain.LPSnapshot {
	return domain.LPSnapshot{
		PositionID: "pos-1",
		Pool:       "0xpool",
		Amount0:    amount0,
		Amount1:    amount1,
		Price:      price,
		Range:      status,
	}
}

func TestComputeTargetInRangeFundingTiers(t *testing.T) {
	snap := lpSnap(domain.RangeStatusIn, 10, 20_000, 2_000)

	tests := []struct {
		name    string
		funding float64
		want    float64
	}{
		{"positive funding full hedge", 0.0001, 1.0},
		{"zero funding full hedge", 0, 1.0},
		{"mildly negative soft hedge", -0.00005, 0.98},
		{"deeply negative reduced hedge", -0.0005, 0.90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := ComputeTarget(snap, tt.funding, domain.AssetToken0, 1.0, 0.90, -0.0001)
			assert.InDelta(t, tt.want, target.HedgeRatio, 1e-9)
			assert.InDelta(t, 10*tt.want, target.Size, 1e-9)
			assert.InDelta(t, target.Size*2_000, target.NotionalUSD, 1e-9)
		})
	}
}

func TestComputeTargetOutOfRange(t *testing.T) {
	// Above range the pool holds only token1; a token0 hedge goes to zero
	// while a token1 hedge is fully sized. Below range is the mirror image.
	above := lpSnap(domain.RangeStatusAbove, 0, 30_000, 2_000)
	target := ComputeTarget(above, 0.0001, domain.AssetToken0, 1.0, 0.90, -0.0001)
	assert.Zero(t, target.Size)
	assert.Zero(t, target.HedgeRatio)

	target = ComputeTarget(above, -0.0005, domain.AssetToken1, 1.0, 0.90, -0.0001)
	assert.InDelta(t, 30_000, target.Size, 1e-9)
	assert.InDelta(t, 30_000, target.NotionalUSD, 1e-9, "token1 marks at one dollar")

	below := lpSnap(domain.RangeStatusBelow, 15, 0, 2_000)
	target = ComputeTarget(below, -0.0005, domain.AssetToken0, 1.0, 0.90, -0.0001)
	assert.InDelta(t, 15, target.Size, 1e-9)

	target = ComputeTarget(below, 0.0001, domain.AssetToken1, 1.0, 0.90, -0.0001)
	assert.Zero(t, target.Size)
}

func TestComputeTargetFloorAndPositionRatioCompose(t *testing.T) {
	snap := lpSnap(domain.RangeStatusIn, 10, 0, 2_000)

	// The floor lifts the reduced tier back up, then the position ratio
	// scales the result.
	target := ComputeTarget(snap, -0.01, domain.AssetToken0, 0.5, 0.95, -0.0001)
	assert.InDelta(t, 0.95*0.5, target.HedgeRatio, 1e-9)
	assert.InDelta(t, 10*0.95*0.5, target.Size, 1e-9)

	// A zero base is never floored: out of range on the hedged side means
	// no hedge at all.
	above := lpSnap(domain.RangeStatusAbove, 0, 30_000, 2_000)
	target = ComputeTarget(above, -0.01, domain.AssetToken0, 0.5, 0.95, -0.0001)
	assert.Zero(t, target.HedgeRatio)
	assert.Zero(t, target.Size)
}
