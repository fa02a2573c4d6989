package domain

// HedgeSide is the direction of a derivatives position held at the venue.
type HedgeSide string

const (
	HedgeSideShort HedgeSide = "short"
	HedgeSideLong  HedgeSide = "long"
	HedgeSideFlat  HedgeSide = "flat"
)

// HedgeState is the venue's view of the hedge for a single symbol. It is
// refreshed from the venue every cycle and never cached across cycles; the
// venue is the source of truth for actual holdings.
type HedgeState struct {
	Symbol      string    `json:"symbol"`
	Size        float64   `json:"size"`
	NotionalUSD float64   `json:"notional_usd"`
	Side        HedgeSide `json:"side"`
}

// HedgeTarget is the output of the hedge target calculator: the short size
// the venue position should be moved to, its notional, and the effective
// ratio that produced it.
type HedgeTarget struct {
	Size        float64
	NotionalUSD float64
	HedgeRatio  float64
}

// FillAction describes what a venue execution call actually did.
type FillAction string

const (
	FillActionOpened    FillAction = "opened"
	FillActionIncreased FillAction = "increased"
	FillActionReduced   FillAction = "reduced"
	FillActionClosed    FillAction = "closed"
)

// FillResult is returned by the venue adapter after an execution call. A nil
// FillResult means the call was a no-op (nothing to do at the venue).
type FillResult struct {
	Action     FillAction
	FilledSize float64
	AvgPrice   float64
}
