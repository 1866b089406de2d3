// Package rules enforces the personal trading rules every signal must
// clear before sizing. Checks run in a fixed order and the first
// violated rule decides the outcome.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// DayTradeChecker classifies a signal against the account's actual
// fills today. Implemented by reconcile.Reconciler.
type DayTradeChecker interface {
	WouldCreateDayTrade(ctx context.Context, accountID string, sig domain.TradingSignal) (bool, string, error)
}

// Validator applies the trading rules to one signal/account pair.
type Validator struct {
	cfg           config.RulesConfig
	minFractional float64
	checker       DayTradeChecker
	logger        *slog.Logger

	buyAndHold map[string]bool
}

// New creates a Validator. The sizing configuration supplies the
// broker's fractional-order minimum, which bounds the smallest position
// the funds check will let through.
func New(cfg config.RulesConfig, sizingCfg config.SizingConfig, checker DayTradeChecker, logger *slog.Logger) *Validator {
	bh := make(map[string]bool, len(cfg.BuyAndHoldSymbols))
	for _, s := range cfg.BuyAndHoldSymbols {
		bh[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return &Validator{
		cfg:           cfg,
		minFractional: sizingCfg.MinFractionalOrder,
		checker:       checker,
		logger:        logger.With(slog.String("component", "rules")),
		buyAndHold:    bh,
	}
}

// Validate runs the ordered rule checks for sig against account. The
// order is fixed: short-sell, day-trade, confidence, buy-and-hold, then
// the BUY-only ceilings. The first violation wins. Validate never
// returns an error; an unverifiable day-trade check is itself a denial.
func (v *Validator) Validate(ctx context.Context, sig domain.TradingSignal, account domain.AccountSnapshot) domain.Decision {
	if d := v.checkShortSell(sig, account); !d.Allowed {
		return v.logged(sig, account, d)
	}
	if d := v.checkDayTrade(ctx, sig, account); !d.Allowed {
		return v.logged(sig, account, d)
	}
	if d := v.checkConfidence(sig); !d.Allowed {
		return v.logged(sig, account, d)
	}
	if d := v.checkBuyAndHold(sig); !d.Allowed {
		return v.logged(sig, account, d)
	}
	if sig.Type == domain.SignalBuy {
		if d := v.checkBuyCeilings(sig, account); !d.Allowed {
			return v.logged(sig, account, d)
		}
	}
	return domain.Allow()
}

func (v *Validator) logged(sig domain.TradingSignal, account domain.AccountSnapshot, d domain.Decision) domain.Decision {
	v.logger.Info("signal rejected",
		slog.String("symbol", sig.Symbol),
		slog.String("action", string(sig.Type)),
		slog.String("account_id", account.AccountID),
		slog.String("rule", string(d.Violation.Kind)),
		slog.String("reason", d.Violation.Reason))
	return d
}

// checkShortSell rejects anything that opens or implies a short: an
// unknown signal type, a SELL of a symbol the account does not hold, or
// a strategy that flagged itself as requiring shorting.
func (v *Validator) checkShortSell(sig domain.TradingSignal, account domain.AccountSnapshot) domain.Decision {
	if !sig.Type.Valid() {
		return domain.Deny(domain.ViolationShortSell,
			fmt.Sprintf("unsupported signal type %q", sig.Type))
	}
	if v.cfg.AllowShortSelling {
		return domain.Allow()
	}
	if sig.MetaBool(domain.MetaRequiresShorting) {
		return domain.Deny(domain.ViolationShortSell,
			fmt.Sprintf("strategy %s flagged %s as requiring shorting", sig.Strategy, sig.Symbol))
	}
	if sig.Type == domain.SignalSell && !account.Holds(sig.Symbol) {
		return domain.Deny(domain.ViolationShortSell,
			fmt.Sprintf("selling %s without a position would open a short", sig.Symbol))
	}
	return domain.Allow()
}

// checkDayTrade consults both the strategy's own flag and the broker's
// records via the reconciler. When the reconciler cannot answer the
// signal is denied; trading blind against the pattern-day-trader rules
// risks an account restriction.
func (v *Validator) checkDayTrade(ctx context.Context, sig domain.TradingSignal, account domain.AccountSnapshot) domain.Decision {
	if v.cfg.AllowDayTrading {
		return domain.Allow()
	}
	if sig.MetaBool(domain.MetaIsDayTrade) {
		return domain.Deny(domain.ViolationDayTrade,
			fmt.Sprintf("strategy %s flagged %s as a day trade", sig.Strategy, sig.Symbol))
	}
	if account.DayTradesRemaining == 0 {
		return domain.Deny(domain.ViolationDayTrade,
			fmt.Sprintf("account %s has no day trades remaining", account.AccountID))
	}

	hit, reason, err := v.checker.WouldCreateDayTrade(ctx, account.AccountID, sig)
	if err != nil {
		return domain.Deny(domain.ViolationDayTrade,
			fmt.Sprintf("cannot verify day-trade status for %s: %v", sig.Symbol, err))
	}
	if hit {
		return domain.Deny(domain.ViolationDayTrade, reason)
	}
	return domain.Allow()
}

func (v *Validator) checkConfidence(sig domain.TradingSignal) domain.Decision {
	if sig.Confidence < v.cfg.MinConfidence {
		return domain.Deny(domain.ViolationConfidence,
			fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, v.cfg.MinConfidence))
	}
	return domain.Allow()
}

func (v *Validator) checkBuyAndHold(sig domain.TradingSignal) domain.Decision {
	if sig.Type == domain.SignalSell && v.buyAndHold[strings.ToUpper(sig.Symbol)] {
		return domain.Deny(domain.ViolationBuyAndHold,
			fmt.Sprintf("%s is a buy-and-hold holding", sig.Symbol))
	}
	return domain.Allow()
}

// checkBuyCeilings enforces the BUY-only limits: the portfolio-wide
// position count and a floor on the per-position equity share. Adding
// to an existing position does not count against the position cap.
func (v *Validator) checkBuyCeilings(sig domain.TradingSignal, account domain.AccountSnapshot) domain.Decision {
	if !account.Holds(sig.Symbol) && len(account.Positions) >= v.cfg.MaxPositionsTotal {
		return domain.Deny(domain.ViolationPositionLimit,
			fmt.Sprintf("account %s already holds %d positions (max %d)",
				account.AccountID, len(account.Positions), v.cfg.MaxPositionsTotal))
	}
	maxPosition := account.NetLiquidation * v.cfg.MaxPositionPct
	if maxPosition < v.cfg.MinPositionValue {
		return domain.Deny(domain.ViolationFunds,
			fmt.Sprintf("max position $%.2f below minimum position value $%.2f",
				maxPosition, v.cfg.MinPositionValue))
	}
	if maxPosition < v.minFractional {
		return domain.Deny(domain.ViolationFunds,
			fmt.Sprintf("max position $%.2f below fractional minimum $%.2f",
				maxPosition, v.minFractional))
	}
	return domain.Allow()
}
