package sizing

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

func newSizer() *Sizer {
	defaults := config.Defaults()
	return New(defaults.Rules, defaults.Sizing, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func acct(equity, settled float64) domain.AccountSnapshot {
	return domain.AccountSnapshot{AccountID: "a", NetLiquidation: equity, SettledFunds: settled}
}

func TestSize_WholeSharesPreferred(t *testing.T) {
	s := newSizer()

	// Cap is min(240*0.5, 120) = 120; two whole shares fit at $50.
	got := s.Size(acct(240, 120), 50)
	require.Equal(t, domain.SizeWholeShares, got.Kind)
	assert.Equal(t, 2.0, got.Quantity)
	assert.False(t, got.BufferApplied)

	// Settled funds bind before the equity share does.
	got = s.Size(acct(10000, 75), 50)
	require.Equal(t, domain.SizeWholeShares, got.Kind)
	assert.Equal(t, 1.0, got.Quantity)
}

func TestSize_FractionalWithBuffer(t *testing.T) {
	s := newSizer()

	// Cap 120 < one $200 share: fractional, 120 * 0.9 = 108.00.
	got := s.Size(acct(240, 120), 200)
	require.Equal(t, domain.SizeFractionalDollars, got.Kind)
	assert.InDelta(t, 108.00, got.Amount, 1e-9)
	assert.True(t, got.BufferApplied)
	assert.False(t, got.Clipped)
	assert.Less(t, got.EstimatedShares, 1.0)
}

func TestSize_FractionalClippedBelowOneShare(t *testing.T) {
	// Raise the minimum position value so a single $90 share is not an
	// acceptable whole-share order and sizing goes fractional.
	defaults := config.Defaults()
	defaults.Rules.MinPositionValue = 100
	s := New(defaults.Rules, defaults.Sizing, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Cap 120, price 90: buffered amount 108.00 would buy more than a
	// share, so it is clipped to 90 * 0.99 = 89.10.
	got := s.Size(acct(240, 120), 90)
	require.Equal(t, domain.SizeFractionalDollars, got.Kind)
	assert.True(t, got.Clipped)
	assert.InDelta(t, 89.10, got.Amount, 1e-9)
	assert.Less(t, got.EstimatedShares, 1.0)
}

func TestSize_Infeasible(t *testing.T) {
	s := newSizer()

	// Below the minimum position value.
	got := s.Size(acct(1.50, 0.80), 100)
	require.Equal(t, domain.SizeNone, got.Kind)
	assert.NotEmpty(t, got.Reason)

	// Fractional amount under the broker minimum.
	got = s.Size(acct(10, 5), 100)
	require.Equal(t, domain.SizeNone, got.Kind)
	assert.Contains(t, got.Reason, "broker minimum")

	// Invalid price.
	got = s.Size(acct(1000, 500), 0)
	require.Equal(t, domain.SizeNone, got.Kind)
}

func TestSizeForStrategy_Momentum(t *testing.T) {
	s := newSizer()

	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 10, Strategy: "momentum"}
	got := s.SizeForStrategy(sig, acct(1000, 400))
	// Base: 40 shares; +10% = 440/10 = 44.
	require.Equal(t, domain.SizeWholeShares, got.Kind)
	assert.Equal(t, 44.0, got.Quantity)
	require.NotNil(t, got.Adjustment)
	assert.Equal(t, 1.10, got.Adjustment.Factor)
	assert.Equal(t, 400.0, got.Adjustment.OriginalAmount)
}

func TestSizeForStrategy_GapTiers(t *testing.T) {
	s := newSizer()
	base := acct(1000, 400)

	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 10, Strategy: "gap",
		Metadata: map[string]any{domain.MetaGapSize: 0.06}}
	got := s.SizeForStrategy(sig, base)
	// Gap above the large threshold halves the 40-share base.
	assert.Equal(t, 20.0, got.Quantity)

	sig.Metadata[domain.MetaGapSize] = 0.045
	got = s.SizeForStrategy(sig, base)
	// Above twice the minimum gap: 75% of base.
	assert.Equal(t, 30.0, got.Quantity)

	sig.Metadata[domain.MetaGapSize] = 0.01
	got = s.SizeForStrategy(sig, base)
	assert.Equal(t, 40.0, got.Quantity)
	assert.Nil(t, got.Adjustment)
}

func TestSizeForStrategy_AllocationCaps(t *testing.T) {
	s := newSizer()
	base := acct(1000, 400)

	// Sector cap 0.20 over position share 0.5: factor 0.4.
	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 10, Strategy: "sector"}
	got := s.SizeForStrategy(sig, base)
	assert.Equal(t, 16.0, got.Quantity)
	require.NotNil(t, got.Adjustment)
	assert.Contains(t, got.Adjustment.Reason, "allocation cap")

	// International cap 0.30: factor 0.6.
	sig.Strategy = "international"
	got = s.SizeForStrategy(sig, base)
	assert.Equal(t, 24.0, got.Quantity)
}

func TestSizeForStrategy_NonBindingCapStillTrims(t *testing.T) {
	// An allocation cap looser than the per-position share does not
	// scale the size down, but the strategy still takes the
	// concentration trim instead of running at full size.
	defaults := config.Defaults()
	defaults.Sizing.MaxSectorAllocation = 0.60
	s := New(defaults.Rules, defaults.Sizing, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 10, Strategy: "sector"}
	got := s.SizeForStrategy(sig, acct(1000, 400))
	// 400 * 0.95 = 380 → 38 shares.
	assert.Equal(t, 38.0, got.Quantity)
	require.NotNil(t, got.Adjustment)
	assert.Equal(t, 0.95, got.Adjustment.Factor)
	assert.Contains(t, got.Adjustment.Reason, "concentration trim")
}

func TestSizeForStrategy_UnknownRunsAtBase(t *testing.T) {
	s := newSizer()

	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 10, Strategy: "experimental"}
	got := s.SizeForStrategy(sig, acct(1000, 400))
	// An unrecognized strategy gets no adjustment at all.
	assert.Equal(t, 40.0, got.Quantity)
	assert.Nil(t, got.Adjustment)
}

func TestSizeForStrategy_NeverBelowOneShare(t *testing.T) {
	s := newSizer()

	// Base is exactly one $50 share; halving still keeps one share.
	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 50, Strategy: "gap",
		Metadata: map[string]any{domain.MetaGapSize: 0.10}}
	got := s.SizeForStrategy(sig, acct(10000, 75))
	require.Equal(t, domain.SizeWholeShares, got.Kind)
	assert.Equal(t, 1.0, got.Quantity)
}

func TestSizeForStrategy_FractionalReducedBelowMinimum(t *testing.T) {
	s := newSizer()

	// Base fractional: cap 9, amount 8.10. Halving gives 4.05, under
	// the $5 broker minimum, so the trade degrades to infeasible.
	sig := domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalBuy, Price: 100, Strategy: "gap",
		Metadata: map[string]any{domain.MetaGapSize: 0.10}}
	got := s.SizeForStrategy(sig, acct(18, 9))
	require.Equal(t, domain.SizeNone, got.Kind)
	assert.Contains(t, got.Reason, "broker minimum")
}
