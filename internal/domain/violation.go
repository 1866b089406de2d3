package domain

// ViolationKind enumerates the personal trading rules a signal can break.
type ViolationKind string

const (
	ViolationShortSell     ViolationKind = "SHORT_SELL"
	ViolationDayTrade      ViolationKind = "DAY_TRADE"
	ViolationConfidence    ViolationKind = "CONFIDENCE"
	ViolationBuyAndHold    ViolationKind = "BUY_AND_HOLD"
	ViolationPositionLimit ViolationKind = "POSITION_LIMIT"
	ViolationFunds         ViolationKind = "FUNDS"
)

// RuleViolation is a denial from the rule validator. It is an expected
// outcome, not a fault: the caller consumes it and moves on to the next
// signal or account. The Reason string names the violated rule and is
// surfaced to logs and operators.
type RuleViolation struct {
	Kind   ViolationKind
	Reason string
}

// Decision is the result of validating one signal against one account.
type Decision struct {
	Allowed   bool
	Violation *RuleViolation
}

// Allow is the passing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a failing decision carrying the violated rule and reason.
func Deny(kind ViolationKind, reason string) Decision {
	return Decision{Violation: &RuleViolation{Kind: kind, Reason: reason}}
}
