package domain

import "time"

// PnLState is the tracker-internal accounting state for one position. It is
// reconstructed from the stream of size-change events the engine itself
// produces, independent of the venue's account-level ledger, because one
// venue account may back several logically separate hedges.
type PnLState struct {
	// Initialized marks whether a baseline was ever captured. While false the
	// tracker is disabled and all snapshots are zero.
	Initialized bool `json:"initialized"`

	InitialLPUSD     float64   `json:"initial_lp_usd"`
	InitialVenueUSD  float64   `json:"initial_venue_usd"`
	InitialLPFeesUSD float64   `json:"initial_lp_fees_usd"`
	InitialAt        time.Time `json:"initial_at"`

	FundingUSD    float64   `json:"funding_usd"`
	VenueFeesUSD  float64   `json:"venue_fees_usd"`
	LastFundingAt time.Time `json:"last_funding_at"`

	// VirtualSize is the reconstructed short size; never negative.
	VirtualSize    float64 `json:"virtual_size"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	RealizedPnLUSD float64 `json:"realized_pnl_usd"`
}

// PnLSnapshot is a read-only view combining the legacy whole-account figure
// with the isolated virtual ledger.
type PnLSnapshot struct {
	// AccountPnLUSD is current (LP value + venue equity) minus the baseline
	// total. It mixes in every other position sharing the venue account.
	AccountPnLUSD float64 `json:"account_pnl_usd"`

	// VirtualPnLUSD isolates this position's own economics: LP value change
	// plus realized and unrealized ledger PnL plus funding minus fees.
	VirtualPnLUSD float64 `json:"virtual_pnl_usd"`

	LPDeltaUSD    float64   `json:"lp_delta_usd"`
	RealizedUSD   float64   `json:"realized_usd"`
	UnrealizedUSD float64   `json:"unrealized_usd"`
	FundingUSD    float64   `json:"funding_usd"`
	FeesUSD       float64   `json:"fees_usd"`
	LPFeesUSD     float64   `json:"lp_fees_usd"`
	VirtualSize   float64   `json:"virtual_size"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	ComputedAt    time.Time `json:"computed_at"`
}
