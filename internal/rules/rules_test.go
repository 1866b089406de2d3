package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

type stubChecker struct {
	hit    bool
	reason string
	err    error
}

func (s stubChecker) WouldCreateDayTrade(context.Context, string, domain.TradingSignal) (bool, string, error) {
	return s.hit, s.reason, s.err
}

func testRules() config.RulesConfig {
	cfg := config.Defaults().Rules
	cfg.BuyAndHoldSymbols = []string{"VOO", "schd"}
	return cfg
}

func newValidator(cfg config.RulesConfig, checker DayTradeChecker) *Validator {
	return New(cfg, config.Defaults().Sizing, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func account(positions ...domain.Position) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		AccountID:          "acct-1",
		AccountType:        domain.AccountCash,
		NetLiquidation:     1000,
		SettledFunds:       400,
		Positions:          positions,
		DayTradesRemaining: domain.DayTradesUnlimited,
	}
}

func buySignal(symbol string, confidence float64) domain.TradingSignal {
	return domain.TradingSignal{Symbol: symbol, Type: domain.SignalBuy, Price: 10, Confidence: confidence, Strategy: "momentum"}
}

func TestValidate_Allows(t *testing.T) {
	v := newValidator(testRules(), stubChecker{})
	d := v.Validate(context.Background(), buySignal("XYZ", 0.8), account())
	assert.True(t, d.Allowed)
	assert.Nil(t, d.Violation)
}

func TestValidate_ShortSell(t *testing.T) {
	v := newValidator(testRules(), stubChecker{})
	ctx := context.Background()

	// Unknown signal type.
	sig := buySignal("XYZ", 0.9)
	sig.Type = "SHORT"
	d := v.Validate(ctx, sig, account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationShortSell, d.Violation.Kind)

	// SELL without a position.
	d = v.Validate(ctx, domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalSell, Confidence: 0.9}, account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationShortSell, d.Violation.Kind)

	// Strategy flagged itself as needing a short.
	sig = buySignal("XYZ", 0.9)
	sig.Metadata = map[string]any{domain.MetaRequiresShorting: true}
	d = v.Validate(ctx, sig, account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationShortSell, d.Violation.Kind)

	// SELL with a position is fine.
	d = v.Validate(ctx, domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalSell, Confidence: 0.9},
		account(domain.Position{Symbol: "XYZ", Quantity: 3}))
	assert.True(t, d.Allowed)
}

func TestValidate_DayTrade(t *testing.T) {
	ctx := context.Background()

	// Reconciler says this closes an intraday round trip.
	v := newValidator(testRules(), stubChecker{hit: true, reason: "bought today"})
	d := v.Validate(ctx, buySignal("XYZ", 0.9), account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationDayTrade, d.Violation.Kind)
	assert.Equal(t, "bought today", d.Violation.Reason)

	// Metadata flag alone is enough.
	v = newValidator(testRules(), stubChecker{})
	sig := buySignal("XYZ", 0.9)
	sig.Metadata = map[string]any{domain.MetaIsDayTrade: true}
	d = v.Validate(ctx, sig, account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationDayTrade, d.Violation.Kind)

	// Exhausted day-trade counter.
	acct := account()
	acct.DayTradesRemaining = 0
	d = v.Validate(ctx, buySignal("XYZ", 0.9), acct)
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationDayTrade, d.Violation.Kind)

	// Unverifiable day-trade status denies rather than trades blind.
	v = newValidator(testRules(), stubChecker{err: errors.New("broker down")})
	d = v.Validate(ctx, buySignal("XYZ", 0.9), account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationDayTrade, d.Violation.Kind)

	// AllowDayTrading bypasses everything, including the failing checker.
	cfg := testRules()
	cfg.AllowDayTrading = true
	v = newValidator(cfg, stubChecker{err: errors.New("broker down")})
	d = v.Validate(ctx, buySignal("XYZ", 0.9), account())
	assert.True(t, d.Allowed)
}

func TestValidate_Confidence(t *testing.T) {
	v := newValidator(testRules(), stubChecker{})
	d := v.Validate(context.Background(), buySignal("XYZ", 0.59), account())
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationConfidence, d.Violation.Kind)

	d = v.Validate(context.Background(), buySignal("XYZ", 0.6), account())
	assert.True(t, d.Allowed)
}

func TestValidate_BuyAndHold(t *testing.T) {
	v := newValidator(testRules(), stubChecker{})
	ctx := context.Background()

	// Case-insensitive match against the protected list.
	d := v.Validate(ctx, domain.TradingSignal{Symbol: "voo", Type: domain.SignalSell, Confidence: 0.9},
		account(domain.Position{Symbol: "voo", Quantity: 1}))
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationBuyAndHold, d.Violation.Kind)

	// Buying more of a buy-and-hold symbol is fine.
	d = v.Validate(ctx, buySignal("VOO", 0.9), account())
	assert.True(t, d.Allowed)
}

func TestValidate_BuyCeilings(t *testing.T) {
	v := newValidator(testRules(), stubChecker{})
	ctx := context.Background()

	full := account(
		domain.Position{Symbol: "A"}, domain.Position{Symbol: "B"},
		domain.Position{Symbol: "C"}, domain.Position{Symbol: "D"},
		domain.Position{Symbol: "E"}, domain.Position{Symbol: "F"},
		domain.Position{Symbol: "G"}, domain.Position{Symbol: "H"},
	)

	// New position beyond the cap is rejected.
	d := v.Validate(ctx, buySignal("XYZ", 0.9), full)
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationPositionLimit, d.Violation.Kind)

	// Adding to an existing position does not count against the cap.
	d = v.Validate(ctx, buySignal("A", 0.9), full)
	assert.True(t, d.Allowed)

	// Equity share below the minimum position value.
	broke := account()
	broke.NetLiquidation = 1.50 // max position $0.75
	d = v.Validate(ctx, buySignal("XYZ", 0.9), broke)
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationFunds, d.Violation.Kind)
	assert.Contains(t, d.Violation.Reason, "minimum position value")

	// Equity share clears the position minimum but not the broker's
	// fractional-order minimum.
	small := account()
	small.NetLiquidation = 8 // max position $4.00, fractional minimum $5
	d = v.Validate(ctx, buySignal("XYZ", 0.9), small)
	require.NotNil(t, d.Violation)
	assert.Equal(t, domain.ViolationFunds, d.Violation.Kind)
	assert.Contains(t, d.Violation.Reason, "fractional minimum")

	// The ceiling is on the equity share, not settled funds; an account
	// with zero settled cash still passes (the sizer handles cash).
	unsettled := account()
	unsettled.SettledFunds = 0
	d = v.Validate(ctx, buySignal("XYZ", 0.9), unsettled)
	assert.True(t, d.Allowed)

	// SELLs are exempt from the BUY ceilings.
	d = v.Validate(ctx, domain.TradingSignal{Symbol: "A", Type: domain.SignalSell, Confidence: 0.9}, full)
	assert.True(t, d.Allowed)
}
