package engine

import (
	"time"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// Tracker reconstructs a single position's short-hedge economics from the
// stream of size changes the engine produces. It never reads the venue's own
// account ledger: one venue account may back several logically independent
// hedges, so each position keeps its own virtual books.
//
// A Tracker without a baseline is disabled: mutations are ignored and every
// snapshot is all-zero, so the rest of the cycle proceeds without PnL
// figures.
type Tracker struct {
	state        domain.PnLState
	takerFeeRate float64
}

// NewTracker creates a disabled tracker; call Reinitialize to capture a
// baseline and enable it.
func NewTracker(takerFeeRate float64) *Tracker {
	return &Tracker{takerFeeRate: takerFeeRate}
}

// NewTrackerFromState restores a tracker from persisted accounting state.
func NewTrackerFromState(state domain.PnLState, takerFeeRate float64) *Tracker {
	return &Tracker{state: state, takerFeeRate: takerFeeRate}
}

// Enabled reports whether a baseline has been captured.
func (t *Tracker) Enabled() bool {
	return t.state.Initialized
}

// State returns the current accounting state for persistence.
func (t *Tracker) State() domain.PnLState {
	return t.state
}

// Reinitialize captures a new baseline and zeroes the ledger. Used at
// activation and on explicit operator reset.
func (t *Tracker) Reinitialize(lpUSD, venueUSD, lpFeesUSD float64, now time.Time) {
	t.state = domain.PnLState{
		Initialized:      true,
		InitialLPUSD:     lpUSD,
		InitialVenueUSD:  venueUSD,
		InitialLPFeesUSD: lpFeesUSD,
		InitialAt:        now,
		LastFundingAt:    now,
	}
}

// AccrueFunding adds rate x notional x elapsed-hours to cumulative funding
// and advances the funding timestamp. Called once per cycle whether or not a
// rebalance occurs, so funding accrues continuously between trades. A
// positive rate credits the short.
func (t *Tracker) AccrueFunding(rate, notionalUSD float64, now time.Time) {
	if !t.state.Initialized {
		return
	}
	if t.state.LastFundingAt.IsZero() {
		t.state.LastFundingAt = now
		return
	}
	hours := now.Sub(t.state.LastFundingAt).Hours()
	if hours <= 0 {
		return
	}
	t.state.FundingUSD += rate * notionalUSD * hours
	t.state.LastFundingAt = now
}

// RecordTrade applies a signed size change at the given fill price and
// returns the realized PnL contribution of the change.
//
// An increase re-weights the average entry price; a reduction realizes
// (avgEntry - price) on the closed portion and leaves the average entry
// untouched. A reduction overshooting zero is clamped: the size floors at
// zero and the average entry restarts at the fill price. Overshoot can only
// happen when the tracker's size has drifted from the venue's holdings, so
// the caller logs it for operator reconciliation.
func (t *Tracker) RecordTrade(sizeChange, price float64) float64 {
	if !t.state.Initialized || sizeChange == 0 {
		return 0
	}

	s := &t.state
	if sizeChange > 0 {
		newSize := s.VirtualSize + sizeChange
		if s.VirtualSize <= 0 {
			s.AvgEntryPrice = price
		} else {
			s.AvgEntryPrice = (s.AvgEntryPrice*s.VirtualSize + price*sizeChange) / newSize
		}
		s.VirtualSize = newSize
		return 0
	}

	reduction := -sizeChange
	if s.VirtualSize <= 0 {
		return 0
	}

	closed := reduction
	if closed > s.VirtualSize {
		closed = s.VirtualSize
	}
	realized := (s.AvgEntryPrice - price) * closed
	s.RealizedPnLUSD += realized
	s.VirtualSize -= closed

	if reduction > closed {
		// Drifted ledger: clamp and restart the entry reference.
		s.VirtualSize = 0
		s.AvgEntryPrice = price
	}
	return realized
}

// Overshoot reports whether applying sizeChange would reduce past zero.
func (t *Tracker) Overshoot(sizeChange float64) bool {
	return sizeChange < 0 && -sizeChange > t.state.VirtualSize
}

// RecordTradeFee accrues the venue taker fee on the traded notional.
func (t *Tracker) RecordTradeFee(notionalUSD float64) {
	if !t.state.Initialized {
		return
	}
	if notionalUSD < 0 {
		notionalUSD = -notionalUSD
	}
	t.state.VenueFeesUSD += notionalUSD * t.takerFeeRate
}

// Snapshot combines the legacy whole-account figure with the isolated
// virtual ledger at the given marks. Disabled trackers return an all-zero
// snapshot rather than failing.
func (t *Tracker) Snapshot(lpUSD, venueEquityUSD, lpFeesUSD, price float64, now time.Time) domain.PnLSnapshot {
	if !t.state.Initialized {
		return domain.PnLSnapshot{ComputedAt: now}
	}

	s := t.state
	lpDelta := lpUSD - s.InitialLPUSD
	unrealized := (s.AvgEntryPrice - price) * s.VirtualSize

	return domain.PnLSnapshot{
		AccountPnLUSD: (lpUSD + venueEquityUSD) - (s.InitialLPUSD + s.InitialVenueUSD),
		VirtualPnLUSD: lpDelta + s.RealizedPnLUSD + unrealized + s.FundingUSD - s.VenueFeesUSD,
		LPDeltaUSD:    lpDelta,
		RealizedUSD:   s.RealizedPnLUSD,
		UnrealizedUSD: unrealized,
		FundingUSD:    s.FundingUSD,
		FeesUSD:       s.VenueFeesUSD,
		LPFeesUSD:     lpFeesUSD,
		VirtualSize:   s.VirtualSize,
		AvgEntryPrice: s.AvgEntryPrice,
		ComputedAt:    now,
	}
}
