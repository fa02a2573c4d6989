package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// GateResult is the composed safety-gate decision. When a gate denies, Gate
// names the predicate and Reason is human-readable.
type GateResult struct {
	Allowed bool
	Gate    string
	Reason  string
}

// gateContext carries the proposed adjustment through the gate chain.
type gateContext struct {
	pos            *domain.TrackedPosition
	trigger        Trigger
	deltaNotional  float64 // absolute USD change of the adjustment
	targetNotional float64 // resulting total notional after the adjustment
	targetSize     float64
	venueSize      float64
	now            time.Time
	cfg            Config
}

type gate struct {
	name string
	// skip reports whether the firing trigger bypasses this gate entirely.
	skip func(t Trigger) bool
	// check returns ok=false with a reason to deny.
	check func(gc gateContext) (ok bool, reason string)
}

func never(Trigger) bool { return false }

func forcedCloseOnly(t Trigger) bool { return t.Kind == TriggerForcedClose }

// gateChain runs in order; the first denial wins. Forced close bypasses the
// minimum-notional, rate-cap, and cooldown gates; emergency price moves
// bypass the cooldown only. Maximum notional and duplicate suppression are
// always enforced.
var gateChain = []gate{
	{
		name: "min_notional",
		skip: forcedCloseOnly,
		check: func(gc gateContext) (bool, string) {
			if gc.deltaNotional >= gc.cfg.MinNotionalUSD {
				return true, ""
			}
			return false, fmt.Sprintf("notional change $%.2f below minimum $%.2f",
				gc.deltaNotional, gc.cfg.MinNotionalUSD)
		},
	},
	{
		name: "max_notional",
		skip: never,
		check: func(gc gateContext) (bool, string) {
			if gc.targetNotional <= gc.cfg.MaxNotionalUSD {
				return true, ""
			}
			return false, fmt.Sprintf("resulting notional $%.2f exceeds maximum $%.2f",
				gc.targetNotional, gc.cfg.MaxNotionalUSD)
		},
	},
	{
		name: "duplicate",
		skip: never,
		check: func(gc gateContext) (bool, string) {
			if math.Abs(gc.targetSize-gc.venueSize) > gc.cfg.DuplicateEpsilon {
				return true, ""
			}
			return false, fmt.Sprintf("target size %.6f equals current size %.6f within epsilon",
				gc.targetSize, gc.venueSize)
		},
	},
	{
		name: "daily_limit",
		skip: forcedCloseOnly,
		check: func(gc gateContext) (bool, string) {
			count := effectiveDailyCount(gc.pos, gc.now)
			if count < gc.cfg.MaxDailyRebalances {
				return true, ""
			}
			return false, fmt.Sprintf("daily rebalance limit reached (%d/%d)",
				count, gc.cfg.MaxDailyRebalances)
		},
	},
	{
		name: "hourly_limit",
		skip: forcedCloseOnly,
		check: func(gc gateContext) (bool, string) {
			count := effectiveHourlyCount(gc.pos, gc.now)
			if count < gc.cfg.MaxHourlyRebalances {
				return true, ""
			}
			return false, fmt.Sprintf("hourly rebalance limit reached (%d/%d)",
				count, gc.cfg.MaxHourlyRebalances)
		},
	},
	{
		name: "cooldown",
		skip: func(t Trigger) bool { return t.Kind == TriggerForcedClose || t.Emergency },
		check: func(gc gateContext) (bool, string) {
			last := gc.pos.LastRebalanceAt
			if last.IsZero() {
				return true, ""
			}
			elapsed := gc.now.Sub(last)
			if elapsed >= gc.cfg.Cooldown {
				return true, ""
			}
			return false, fmt.Sprintf("cooldown active: %s elapsed of %s",
				elapsed.Round(time.Second), gc.cfg.Cooldown)
		},
	},
}

// checkGates runs the gate chain and stops at the first denial.
func checkGates(gc gateContext) GateResult {
	for _, g := range gateChain {
		if g.skip(gc.trigger) {
			continue
		}
		if ok, reason := g.check(gc); !ok {
			return GateResult{Allowed: false, Gate: g.name, Reason: reason}
		}
	}
	return GateResult{Allowed: true}
}

// effectiveDailyCount returns the daily counter as of now, treating a
// calendar-day boundary crossing as a reset without mutating the record.
func effectiveDailyCount(pos *domain.TrackedPosition, now time.Time) int {
	if pos.DailyResetDate != dayKey(now) {
		return 0
	}
	return pos.DailyCount
}

// effectiveHourlyCount returns the rolling-hour counter as of now.
func effectiveHourlyCount(pos *domain.TrackedPosition, now time.Time) int {
	if pos.HourlyResetAt.IsZero() || now.Sub(pos.HourlyResetAt) >= time.Hour {
		return 0
	}
	return pos.HourlyCount
}

// dayKey formats a wall-clock time as its UTC calendar-day bucket.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
