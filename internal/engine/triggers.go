package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// TriggerKind identifies which evaluator in the priority chain fired.
type TriggerKind string

const (
	TriggerForcedClose   TriggerKind = "forced_close"
	TriggerEmergencyMove TriggerKind = "emergency_price_move"
	TriggerTimer         TriggerKind = "scheduled_timer"
	TriggerPriceMove     TriggerKind = "price_move"
)

// Trigger is the tagged result of trigger evaluation: what fired, a
// human-diagnosable reason, and whether the cooldown gate may be bypassed.
type Trigger struct {
	Kind      TriggerKind
	Reason    string
	Emergency bool
}

// triggerContext carries everything an evaluator may inspect. Evaluators are
// pure: they never mutate the position record.
type triggerContext struct {
	pos    *domain.TrackedPosition
	target domain.HedgeTarget
	venue  domain.HedgeState
	price  float64
	now    time.Time
	cfg    Config
}

type triggerEval func(tc triggerContext) *Trigger

// triggerChain is evaluated in strict priority order; the first evaluator
// returning a non-nil Trigger wins and suppresses the rest for the cycle.
var triggerChain = []triggerEval{
	evalForcedClose,
	evalEmergencyMove,
	evalTimer,
	evalPriceMove,
}

// evaluateTriggers walks the chain and returns the winning trigger, or nil
// when no rebalance is warranted this cycle.
func evaluateTriggers(tc triggerContext) *Trigger {
	for _, eval := range triggerChain {
		if t := eval(tc); t != nil {
			return t
		}
	}
	return nil
}

// evalForcedClose fires when the target is zero (or negative) but the venue
// still holds a hedge: the liquidity position has fully exited its range on
// the hedged side, and a stale short is pure unhedged risk.
func evalForcedClose(tc triggerContext) *Trigger {
	if tc.target.Size > 0 || tc.venue.Size <= 0 {
		return nil
	}
	return &Trigger{
		Kind: TriggerForcedClose,
		Reason: fmt.Sprintf("target size is zero while venue holds %.6f %s",
			tc.venue.Size, tc.venue.Symbol),
		Emergency: true,
	}
}

// evalEmergencyMove fires on a price move beyond the emergency threshold,
// measured against the price at the last executed rebalance.
func evalEmergencyMove(tc triggerContext) *Trigger {
	if !tc.pos.HasReferencePrice() {
		return nil
	}
	threshold := tc.pos.Config.EmergencyThreshold
	move := relativeMove(tc.price, tc.pos.LastRebalancePrice)
	if move <= threshold {
		return nil
	}
	return &Trigger{
		Kind: TriggerEmergencyMove,
		Reason: fmt.Sprintf("price moved %.2f%% since last rebalance (emergency threshold %.2f%%)",
			move*100, threshold*100),
		Emergency: true,
	}
}

// evalTimer fires when wall-clock time since the last executed rebalance
// exceeds the configured interval, independent of price. For a position that
// has never rebalanced, activation time is the reference, so the timer is
// the trigger that establishes the first reference price.
func evalTimer(tc triggerContext) *Trigger {
	ref := tc.pos.LastRebalanceAt
	if ref.IsZero() {
		ref = tc.pos.Config.ActivatedAt
	}
	elapsed := tc.now.Sub(ref)
	if elapsed < tc.cfg.RebalanceInterval {
		return nil
	}
	return &Trigger{
		Kind: TriggerTimer,
		Reason: fmt.Sprintf("%s elapsed since last rebalance (interval %s)",
			elapsed.Round(time.Second), tc.cfg.RebalanceInterval),
	}
}

// evalPriceMove fires on a price move beyond the normal per-position
// threshold.
func evalPriceMove(tc triggerContext) *Trigger {
	if !tc.pos.HasReferencePrice() {
		return nil
	}
	threshold := tc.pos.Config.RebalanceThreshold
	move := relativeMove(tc.price, tc.pos.LastRebalancePrice)
	if move <= threshold {
		return nil
	}
	return &Trigger{
		Kind: TriggerPriceMove,
		Reason: fmt.Sprintf("price moved %.2f%% since last rebalance (threshold %.2f%%)",
			move*100, threshold*100),
	}
}

// relativeMove returns |price - reference| / reference.
func relativeMove(price, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return math.Abs(price-reference) / reference
}
