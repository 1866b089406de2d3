package domain

// SizeKind tags the variants of a position-sizing result.
type SizeKind string

const (
	SizeNone              SizeKind = "none"
	SizeWholeShares       SizeKind = "shares"
	SizeFractionalDollars SizeKind = "dollars"
)

// StrategyAdjustment records a strategy-specific multiplier applied on
// top of the base position size.
type StrategyAdjustment struct {
	Factor         float64
	Reason         string
	OriginalAmount float64
	Strategy       string
}

// PositionSize is the tagged result of position sizing.
//
// For SizeWholeShares, Quantity holds the share count. For
// SizeFractionalDollars, Amount holds the dollar notional and
// EstimatedShares is always strictly below 1.0 — the sizer clips the
// amount to 99% of one share's price when the buffer alone would not
// keep it under. For SizeNone, Reason explains why no order is feasible.
type PositionSize struct {
	Kind            SizeKind
	Quantity        float64 // whole shares (SizeWholeShares)
	Amount          float64 // dollars (SizeFractionalDollars), rounded to cents
	EstimatedShares float64
	BufferApplied   bool
	Clipped         bool // amount reduced to keep estimated shares < 1
	Reason          string
	Adjustment      *StrategyAdjustment
}

// Infeasible reports whether sizing produced no executable order.
func (p PositionSize) Infeasible() bool {
	return p.Kind == SizeNone
}

// Fractional reports whether the result is a dollar-denominated order.
func (p PositionSize) Fractional() bool {
	return p.Kind == SizeFractionalDollars
}
