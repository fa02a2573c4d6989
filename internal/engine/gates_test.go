package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

var gateNow = time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)

func gateCtx(mutate func(*gateContext)) gateContext {
	gc := gateContext{
		pos: &domain.TrackedPosition{
			Config: domain.PositionConfig{PositionID: "pos-1"},
		},
		trigger:        Trigger{Kind: TriggerPriceMove},
		deltaNotional:  500,
		targetNotional: 20_000,
		targetSize:     10,
		venueSize:      9.75,
		now:            gateNow,
		cfg:            Config{}.Normalized(),
	}
	if mutate != nil {
		mutate(&gc)
	}
	return gc
}

func TestGatesAllowNominalAdjustment(t *testing.T) {
	res := checkGates(gateCtx(nil))
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Gate)
}

func TestGateMinNotional(t *testing.T) {
	gc := gateCtx(func(gc *gateContext) { gc.deltaNotional = 5 })
	res := checkGates(gc)
	assert.False(t, res.Allowed)
	assert.Equal(t, "min_notional", res.Gate)

	// Forced close may flatten a dust-sized hedge.
	gc.trigger = Trigger{Kind: TriggerForcedClose, Emergency: true}
	gc.targetSize = 0
	gc.targetNotional = 0
	assert.True(t, checkGates(gc).Allowed)
}

func TestGateMaxNotionalNeverBypassed(t *testing.T) {
	for _, trig := range []Trigger{
		{Kind: TriggerPriceMove},
		{Kind: TriggerEmergencyMove, Emergency: true},
		{Kind: TriggerForcedClose, Emergency: true},
	} {
		gc := gateCtx(func(gc *gateContext) {
			gc.trigger = trig
			gc.targetNotional = 300_000
		})
		res := checkGates(gc)
		assert.False(t, res.Allowed, "trigger %s", trig.Kind)
		assert.Equal(t, "max_notional", res.Gate)
	}
}

func TestGateDuplicateSuppression(t *testing.T) {
	gc := gateCtx(func(gc *gateContext) {
		gc.targetSize = 10
		gc.venueSize = 10 + 5e-5
	})
	res := checkGates(gc)
	assert.False(t, res.Allowed)
	assert.Equal(t, "duplicate", res.Gate)

	// Even forced close skips a trade the venue already reflects.
	gc.trigger = Trigger{Kind: TriggerForcedClose, Emergency: true}
	gc.targetSize = 0
	gc.venueSize = 0
	res = checkGates(gc)
	assert.False(t, res.Allowed)
	assert.Equal(t, "duplicate", res.Gate)
}

func TestGateDailyLimitResetsAtUTCMidnight(t *testing.T) {
	lateEvening := time.Date(2025, time.June, 2, 23, 59, 0, 0, time.UTC)
	gc := gateCtx(func(gc *gateContext) {
		gc.now = lateEvening
		gc.pos.DailyCount = 24
		gc.pos.DailyResetDate = "2025-06-02"
	})
	res := checkGates(gc)
	assert.False(t, res.Allowed)
	assert.Equal(t, "daily_limit", res.Gate)

	// Two minutes later the calendar day has rolled over and the counter
	// is effectively zero again.
	gc.now = time.Date(2025, time.June, 3, 0, 1, 0, 0, time.UTC)
	gc.pos.HourlyResetAt = gc.now.Add(-2 * time.Hour)
	assert.True(t, checkGates(gc).Allowed)
}

func TestGateHourlyLimitRollingWindow(t *testing.T) {
	gc := gateCtx(func(gc *gateContext) {
		gc.pos.HourlyCount = 6
		gc.pos.HourlyResetAt = gateNow.Add(-59 * time.Minute)
	})
	res := checkGates(gc)
	assert.False(t, res.Allowed)
	assert.Equal(t, "hourly_limit", res.Gate)

	gc.now = gateNow.Add(2 * time.Minute)
	assert.True(t, checkGates(gc).Allowed)
}

func TestGateRateLimitsBypassedByForcedCloseOnly(t *testing.T) {
	mutate := func(gc *gateContext) {
		gc.pos.DailyCount = 24
		gc.pos.DailyResetDate = dayKey(gateNow)
	}

	gc := gateCtx(mutate)
	gc.trigger = Trigger{Kind: TriggerEmergencyMove, Emergency: true}
	res := checkGates(gc)
	assert.False(t, res.Allowed, "emergency must still respect rate caps")
	assert.Equal(t, "daily_limit", res.Gate)

	gc = gateCtx(mutate)
	gc.trigger = Trigger{Kind: TriggerForcedClose, Emergency: true}
	gc.targetSize = 0
	gc.targetNotional = 0
	assert.True(t, checkGates(gc).Allowed)
}

func TestGateCooldown(t *testing.T) {
	gc := gateCtx(func(gc *gateContext) {
		gc.pos.LastRebalanceAt = gateNow.Add(-20 * time.Minute)
	})
	res := checkGates(gc)
	assert.False(t, res.Allowed)
	assert.Equal(t, "cooldown", res.Gate)

	// Emergency bypasses cooldown, and only cooldown.
	gc.trigger = Trigger{Kind: TriggerEmergencyMove, Emergency: true}
	assert.True(t, checkGates(gc).Allowed)

	// After the full cooldown elapses a normal trigger passes again.
	gc.trigger = Trigger{Kind: TriggerPriceMove}
	gc.now = gateNow.Add(41 * time.Minute)
	assert.True(t, checkGates(gc).Allowed)
}

func TestGateCooldownIgnoredForFirstRebalance(t *testing.T) {
	gc := gateCtx(func(gc *gateContext) {
		gc.pos.LastRebalanceAt = time.Time{}
	})
	assert.True(t, checkGates(gc).Allowed)
}
