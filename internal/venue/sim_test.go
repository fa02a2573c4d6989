package venue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

func TestSimulatorFlatByDefault(t *testing.T) {
	sim := NewSimulator(10_000, 0.00045)

	state, err := sim.GetPosition(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeSideFlat, state.Side)
	assert.Zero(t, state.Size)

	fill, err := sim.ClosePosition(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Nil(t, fill, "closing a flat symbol is a no-op")
}

func TestSimulatorRequiresMarkPrice(t *testing.T) {
	sim := NewSimulator(10_000, 0)
	_, err := sim.SetPosition(context.Background(), "ETH", 5, 10_000)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimulatorOpenIncreaseReduceClose(t *testing.T) {
	sim := NewSimulator(10_000, 0)
	sim.SetMark("ETH", 2_000)
	ctx := context.Background()

	fill, err := sim.SetPosition(ctx, "ETH", 5, 10_000)
	require.NoError(t, err)
	assert.Equal(t, domain.FillActionOpened, fill.Action)
	assert.InDelta(t, 5, fill.FilledSize, 1e-9)
	assert.InDelta(t, 2_000, fill.AvgPrice, 1e-9)

	sim.SetMark("ETH", 2_200)
	fill, err = sim.SetPosition(ctx, "ETH", 8, 17_600)
	require.NoError(t, err)
	assert.Equal(t, domain.FillActionIncreased, fill.Action)
	assert.InDelta(t, 3, fill.FilledSize, 1e-9)

	fill, err = sim.SetPosition(ctx, "ETH", 6, 13_200)
	require.NoError(t, err)
	assert.Equal(t, domain.FillActionReduced, fill.Action)

	state, err := sim.GetPosition(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeSideShort, state.Side)
	assert.InDelta(t, 6, state.Size, 1e-9)
	assert.InDelta(t, 6*2_200, state.NotionalUSD, 1e-9)

	fill, err = sim.ClosePosition(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.FillActionClosed, fill.Action)
	assert.InDelta(t, 6, fill.FilledSize, 1e-9)

	state, err = sim.GetPosition(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, domain.HedgeSideFlat, state.Side)
}

func TestSimulatorEquityTracksShortPnL(t *testing.T) {
	sim := NewSimulator(10_000, 0)
	sim.SetMark("ETH", 2_000)
	ctx := context.Background()

	_, err := sim.SetPosition(ctx, "ETH", 5, 10_000)
	require.NoError(t, err)

	// Price drops 100: a 5-unit short gains 500 unrealized.
	sim.SetMark("ETH", 1_900)
	equity, err := sim.GetAccountEquity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_500, equity, 1e-9)

	// Closing realizes it into cash.
	_, err = sim.ClosePosition(ctx, "ETH")
	require.NoError(t, err)
	equity, err = sim.GetAccountEquity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_500, equity, 1e-9)
}

func TestSimulatorChargesTakerFees(t *testing.T) {
	sim := NewSimulator(10_000, 0.001)
	sim.SetMark("ETH", 2_000)
	ctx := context.Background()

	_, err := sim.SetPosition(ctx, "ETH", 5, 10_000)
	require.NoError(t, err)

	equity, err := sim.GetAccountEquity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_000-10_000*0.001, equity, 1e-9)
}

func TestSimulatorFundingRate(t *testing.T) {
	sim := NewSimulator(10_000, 0)
	sim.SetFunding("ETH", -0.0002)

	rate, err := sim.GetFundingRate(context.Background(), "ETH")
	require.NoError(t, err)
	assert.InDelta(t, -0.0002, rate, 1e-12)

	rate, err = sim.GetFundingRate(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Zero(t, rate, "unknown symbols report zero funding")
}
