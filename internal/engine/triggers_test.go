package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

var triggerNow = time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)

func triggerCtx(mutate func(*triggerContext)) triggerContext {
	tc := triggerContext{
		pos: &domain.TrackedPosition{
			Config: domain.PositionConfig{
				PositionID:         "pos-1",
				HedgeSymbol:        "ETH",
				RebalanceThreshold: 0.05,
				EmergencyThreshold: 0.15,
				ActivatedAt:        triggerNow.Add(-30 * time.Minute),
			},
			LastRebalancePrice: 2_000,
			LastRebalanceAt:    triggerNow.Add(-30 * time.Minute),
		},
		target: domain.HedgeTarget{Size: 10, NotionalUSD: 20_000},
		venue:  domain.HedgeState{Symbol: "ETH", Size: 10, Side: domain.HedgeSideShort},
		price:  2_000,
		now:    triggerNow,
		cfg:    Config{}.Normalized(),
	}
	if mutate != nil {
		mutate(&tc)
	}
	return tc
}

func TestTriggersQuietCycleFiresNothing(t *testing.T) {
	trig := evaluateTriggers(triggerCtx(nil))
	assert.Nil(t, trig)
}

func TestTriggerForcedCloseWinsOverEverything(t *testing.T) {
	// Zero target with a live venue hedge, a >15% move, and an overdue
	// timer all at once: forced close must win.
	tc := triggerCtx(func(tc *triggerContext) {
		tc.target = domain.HedgeTarget{}
		tc.price = 2_400
		tc.pos.LastRebalanceAt = triggerNow.Add(-2 * time.Hour)
	})
	trig := evaluateTriggers(tc)
	require.NotNil(t, trig)
	assert.Equal(t, TriggerForcedClose, trig.Kind)
	assert.True(t, trig.Emergency)
}

func TestTriggerForcedCloseRequiresVenueHedge(t *testing.T) {
	tc := triggerCtx(func(tc *triggerContext) {
		tc.target = domain.HedgeTarget{}
		tc.venue = domain.HedgeState{Symbol: "ETH"}
	})
	assert.Nil(t, evaluateTriggers(tc))
}

func TestTriggerEmergencyOutranksTimerAndPriceMove(t *testing.T) {
	tc := triggerCtx(func(tc *triggerContext) {
		tc.price = 2_320 // 16% move
		tc.pos.LastRebalanceAt = triggerNow.Add(-2 * time.Hour)
	})
	trig := evaluateTriggers(tc)
	require.NotNil(t, trig)
	assert.Equal(t, TriggerEmergencyMove, trig.Kind)
	assert.True(t, trig.Emergency)
}

func TestTriggerSixPercentMoveIsNormalNotEmergency(t *testing.T) {
	tc := triggerCtx(func(tc *triggerContext) {
		tc.price = 2_120 // 6% move: above 5%, below 15%
	})
	trig := evaluateTriggers(tc)
	require.NotNil(t, trig)
	assert.Equal(t, TriggerPriceMove, trig.Kind)
	assert.False(t, trig.Emergency)
}

func TestTriggerPriceMoveExactThresholdDoesNotFire(t *testing.T) {
	tc := triggerCtx(func(tc *triggerContext) {
		tc.price = 2_100 // exactly 5%
	})
	assert.Nil(t, evaluateTriggers(tc))
}

func TestTriggerPriceMoveDownwardFires(t *testing.T) {
	tc := triggerCtx(func(tc *triggerContext) {
		tc.price = 1_870 // 6.5% down
	})
	trig := evaluateTriggers(tc)
	require.NotNil(t, trig)
	assert.Equal(t, TriggerPriceMove, trig.Kind)
}

func TestTriggersSuppressedWithoutReferencePrice(t *testing.T) {
	// A fresh position has no reference price, so even a huge move cannot
	// fire either price trigger; only the timer can establish the baseline.
	tc := triggerCtx(func(tc *triggerContext) {
		tc.pos.LastRebalancePrice = 0
		tc.pos.LastRebalanceAt = time.Time{}
		tc.price = 9_999
	})
	assert.Nil(t, evaluateTriggers(tc))

	tc.pos.Config.ActivatedAt = triggerNow.Add(-61 * time.Minute)
	trig := evaluateTriggers(tc)
	require.NotNil(t, trig)
	assert.Equal(t, TriggerTimer, trig.Kind)
}

func TestTriggerTimerUsesLastRebalanceWhenSet(t *testing.T) {
	tc := triggerCtx(func(tc *triggerContext) {
		tc.pos.Config.ActivatedAt = triggerNow.Add(-48 * time.Hour)
		tc.pos.LastRebalanceAt = triggerNow.Add(-59 * time.Minute)
	})
	assert.Nil(t, evaluateTriggers(tc))

	tc = triggerCtx(func(tc *triggerContext) {
		tc.pos.LastRebalanceAt = triggerNow.Add(-60 * time.Minute)
	})
	trig := evaluateTriggers(tc)
	require.NotNil(t, trig)
	assert.Equal(t, TriggerTimer, trig.Kind)
	assert.False(t, trig.Emergency)
}
