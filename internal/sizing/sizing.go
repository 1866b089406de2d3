// Package sizing turns an account snapshot plus a limit price into an
// executable position size. Dollar arithmetic uses decimals so cent
// rounding is exact; float64 only appears at the domain boundary.
package sizing

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// clipFraction keeps a fractional order's estimated shares strictly
// below one share: the amount is capped at 99% of one share's price.
var clipFraction = decimal.NewFromFloat(0.99)

// Sizer computes position sizes from the rule and sizing configuration.
type Sizer struct {
	rules  config.RulesConfig
	cfg    config.SizingConfig
	logger *slog.Logger
}

// New creates a Sizer.
func New(rules config.RulesConfig, cfg config.SizingConfig, logger *slog.Logger) *Sizer {
	return &Sizer{
		rules:  rules,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sizing")),
	}
}

// Size computes the base position size for a buy at price on account.
//
// The spendable cap is the smaller of the per-position equity share and
// the settled funds. Whole shares are preferred; when less than one
// share fits, a buffered dollar amount is used instead, clipped so the
// estimated share count stays below one.
func (s *Sizer) Size(account domain.AccountSnapshot, price float64) domain.PositionSize {
	if price <= 0 {
		return none(fmt.Sprintf("invalid price %.4f", price))
	}

	p := decimal.NewFromFloat(price)
	equityShare := decimal.NewFromFloat(account.NetLiquidation).
		Mul(decimal.NewFromFloat(s.rules.MaxPositionPct))
	settled := decimal.NewFromFloat(account.SettledFunds)

	spendable := decimal.Min(equityShare, settled)
	minValue := decimal.NewFromFloat(s.rules.MinPositionValue)
	if spendable.LessThan(minValue) {
		return none(fmt.Sprintf("spendable cap $%s below minimum position value $%s", spendable.StringFixed(2), minValue.StringFixed(2)))
	}

	shares := spendable.Div(p).Floor()
	if shares.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		value := shares.Mul(p)
		if value.GreaterThanOrEqual(minValue) {
			qty, _ := shares.Float64()
			return domain.PositionSize{
				Kind:     domain.SizeWholeShares,
				Quantity: qty,
			}
		}
	}

	return s.fractional(spendable, p)
}

// fractional sizes a dollar-denominated order from the spendable cap.
func (s *Sizer) fractional(spendable, price decimal.Decimal) domain.PositionSize {
	amount := spendable.Mul(decimal.NewFromFloat(s.cfg.BufferFactor)).Round(2)

	clipped := false
	if amount.Div(price).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		amount = price.Mul(clipFraction).Round(2)
		clipped = true
	}

	minOrder := decimal.NewFromFloat(s.cfg.MinFractionalOrder)
	if amount.LessThan(minOrder) {
		return none(fmt.Sprintf("fractional amount $%s below broker minimum $%s", amount.StringFixed(2), minOrder.StringFixed(2)))
	}

	amt, _ := amount.Float64()
	est, _ := amount.Div(price).Float64()
	return domain.PositionSize{
		Kind:            domain.SizeFractionalDollars,
		Amount:          amt,
		EstimatedShares: est,
		BufferApplied:   true,
		Clipped:         clipped,
	}
}

// SizeForStrategy computes the base size and then applies the
// strategy-specific multiplier. Whole-share counts are rescaled from
// the adjusted dollar value (never below one share); fractional
// amounts are re-checked against the broker minimum and degrade to an
// infeasible result when the reduction pushes them under it.
func (s *Sizer) SizeForStrategy(sig domain.TradingSignal, account domain.AccountSnapshot) domain.PositionSize {
	base := s.Size(account, sig.Price)
	if base.Infeasible() {
		return base
	}

	factor, reason := s.strategyFactor(sig)
	if factor == 1.0 {
		return base
	}

	f := decimal.NewFromFloat(factor)
	price := decimal.NewFromFloat(sig.Price)

	adj := &domain.StrategyAdjustment{
		Factor:   factor,
		Reason:   reason,
		Strategy: sig.Strategy,
	}

	switch base.Kind {
	case domain.SizeWholeShares:
		original := decimal.NewFromFloat(base.Quantity).Mul(price)
		adj.OriginalAmount, _ = original.Float64()

		shares := original.Mul(f).Div(price).Floor()
		if shares.LessThan(decimal.NewFromInt(1)) {
			shares = decimal.NewFromInt(1)
		}
		qty, _ := shares.Float64()
		base.Quantity = qty
		base.Adjustment = adj

	case domain.SizeFractionalDollars:
		adj.OriginalAmount = base.Amount

		amount := decimal.NewFromFloat(base.Amount).Mul(f).Round(2)
		minOrder := decimal.NewFromFloat(s.cfg.MinFractionalOrder)
		if amount.LessThan(minOrder) {
			return none(fmt.Sprintf("adjusted amount $%s (%s) below broker minimum $%s",
				amount.StringFixed(2), reason, minOrder.StringFixed(2)))
		}
		base.Amount, _ = amount.Float64()
		base.EstimatedShares, _ = amount.Div(price).Float64()
		base.Adjustment = adj
	}

	s.logger.Debug("strategy adjustment applied",
		slog.String("symbol", sig.Symbol),
		slog.String("strategy", sig.Strategy),
		slog.Float64("factor", factor),
		slog.String("reason", reason))
	return base
}

// strategyFactor maps a strategy name (plus signal metadata) to its
// sizing multiplier.
func (s *Sizer) strategyFactor(sig domain.TradingSignal) (float64, string) {
	switch strings.ToLower(sig.Strategy) {
	case "momentum":
		return s.cfg.MomentumBonus, "momentum conviction bonus"
	case "gap":
		gap := sig.MetaFloat(domain.MetaGapSize)
		switch {
		case gap > s.cfg.GapLargeSize:
			return 0.5, fmt.Sprintf("large gap %.1f%%, halving exposure", gap*100)
		case gap > 2*s.cfg.GapMinSize:
			return 0.75, fmt.Sprintf("elevated gap %.1f%%, trimming exposure", gap*100)
		default:
			return 1.0, ""
		}
	case "policy":
		return s.cfg.PolicyReduction, "policy-driven signals run smaller"
	case "value":
		return s.cfg.ValueBonus, "value conviction bonus"
	case "sector":
		return s.allocationFactor(s.cfg.MaxSectorAllocation, "sector")
	case "international":
		return s.allocationFactor(s.cfg.MaxIntlAllocation, "international")
	default:
		return 1.0, ""
	}
}

// allocationFactor converts an equity-fraction allocation cap into a
// multiplier on the per-position equity share. A cap that does not bind
// still gets the concentration trim: these strategies cluster holdings,
// so they never run at full size.
func (s *Sizer) allocationFactor(maxAllocation float64, kind string) (float64, string) {
	if s.rules.MaxPositionPct > 0 {
		if f := maxAllocation / s.rules.MaxPositionPct; f < 1.0 {
			return f, fmt.Sprintf("%s allocation cap (max %.0f%%)", kind, maxAllocation*100)
		}
	}
	return s.cfg.ConcentrationFactor, fmt.Sprintf("%s concentration trim", kind)
}

func none(reason string) domain.PositionSize {
	return domain.PositionSize{Kind: domain.SizeNone, Reason: reason}
}
