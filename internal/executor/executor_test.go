package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// scriptedBroker returns one scripted outcome per SubmitOrder call and
// records every request it sees.
type scriptedBroker struct {
	broker.Client

	pingErr    error
	reauthErr  error
	reauthed   int
	results    []domain.OrderResult
	errs       []error
	submitted  []domain.OrderRequest
}

func (s *scriptedBroker) Ping(context.Context) error { return s.pingErr }

func (s *scriptedBroker) Reauthenticate(context.Context) error {
	s.reauthed++
	if s.reauthErr == nil {
		s.pingErr = nil
	}
	return s.reauthErr
}

func (s *scriptedBroker) SubmitOrder(_ context.Context, _ string, req domain.OrderRequest) (domain.OrderResult, error) {
	i := len(s.submitted)
	s.submitted = append(s.submitted, req)
	var res domain.OrderResult
	var err error
	if i < len(s.results) {
		res = s.results[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return res, err
}

func newExecutor(b broker.Client) (*Executor, *[]time.Duration) {
	cfg := config.Defaults().Executor
	e := New(b, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.Local) }
	e.newID = func() string { return "test-id" }

	slept := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return e, slept
}

func wholeShareSignal(qty float64) domain.TradingSignal {
	return domain.TradingSignal{
		Symbol: "XYZ", Type: domain.SignalBuy, Price: 10.00, Confidence: 0.8, Strategy: "momentum",
		PositionInfo: &domain.PositionSize{Kind: domain.SizeWholeShares, Quantity: qty},
	}
}

func fractionalSignal(amount, estShares float64) domain.TradingSignal {
	return domain.TradingSignal{
		Symbol: "XYZ", Type: domain.SignalBuy, Price: 100.00, Confidence: 0.8, Strategy: "value",
		PositionInfo: &domain.PositionSize{Kind: domain.SizeFractionalDollars, Amount: amount, EstimatedShares: estShares, BufferApplied: true},
	}
}

func testAccount() domain.AccountSnapshot {
	return domain.AccountSnapshot{AccountID: "acct-1", AccountType: domain.AccountCash, NetLiquidation: 1000, SettledFunds: 400}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	b := &scriptedBroker{results: []domain.OrderResult{{Success: true, OrderID: "abc"}}}
	e, _ := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())

	assert.True(t, res.Executed)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Record)
	assert.Equal(t, "test-id", res.Record.ID)
	assert.Equal(t, "abc", res.Record.OrderID)
	assert.Equal(t, 40.0, res.Record.Quantity)
	assert.Equal(t, "2026-08-24", res.Record.Date)
	assert.False(t, res.Record.Fractional)

	require.Len(t, b.submitted, 1)
	assert.Equal(t, domain.OrderLimit, b.submitted[0].OrderType)
	assert.Equal(t, domain.TIFDay, b.submitted[0].TimeInForce)
}

func TestExecute_TransportErrorRetriesWithLinearBackoff(t *testing.T) {
	b := &scriptedBroker{errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}}
	e, slept := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())

	assert.False(t, res.Executed)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, b.submitted, 3)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, *slept)
}

func TestExecute_RecoversOnSecondAttempt(t *testing.T) {
	b := &scriptedBroker{
		errs:    []error{errors.New("timeout"), nil},
		results: []domain.OrderResult{{}, {Success: true, OrderID: "ok"}},
	}
	e, _ := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())
	assert.True(t, res.Executed)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecute_FatalRejectionStopsImmediately(t *testing.T) {
	b := &scriptedBroker{results: []domain.OrderResult{{ErrorMessage: "Insufficient Funds for this order"}}}
	e, slept := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())

	assert.False(t, res.Executed)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, b.submitted, 1)
	assert.Empty(t, *slept, "fatal rejections must not back off and retry")
	assert.Contains(t, res.Reason, "Insufficient Funds")
}

func TestExecute_RetryableRejectionBacksOff(t *testing.T) {
	b := &scriptedBroker{results: []domain.OrderResult{
		{ErrorMessage: "temporarily unavailable"},
		{Success: true, OrderID: "ok"},
	}}
	e, slept := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())
	assert.True(t, res.Executed)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Second}, *slept)
}

func TestExecute_FractionalPrecisionLadder(t *testing.T) {
	// Every submission is rejected for quantity precision; the executor
	// walks the dollar amount at four decimals, then whole cents. The
	// sized amount buys less than one $100 share, so there is no
	// whole-share rung and the ladder ends in a failure.
	b := &scriptedBroker{results: []domain.OrderResult{
		{ErrorMessage: "Invalid Quantity"},
		{ErrorMessage: "Invalid Quantity"},
		{ErrorMessage: "Invalid Quantity"},
	}}
	cfg := config.Defaults().Executor
	cfg.MaxAttempts = 4
	e := New(b, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.sleep = func(context.Context, time.Duration) error { return nil }

	sig := fractionalSignal(95.678912, 0.95678912)
	res := e.Execute(context.Background(), sig, testAccount())

	assert.False(t, res.Executed)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, b.submitted, 3)

	// First try: the sized dollar amount as-is.
	assert.True(t, b.submitted[0].Fractional)
	assert.Equal(t, 95.678912, b.submitted[0].Quantity)
	// Dollars at four decimal places.
	assert.True(t, b.submitted[1].Fractional)
	assert.Equal(t, 95.6789, b.submitted[1].Quantity)
	// Dollars floored to whole cents.
	assert.True(t, b.submitted[2].Fractional)
	assert.Equal(t, 95.67, b.submitted[2].Quantity)
	assert.Contains(t, res.Reason, "every precision")
}

func TestExecute_FractionalFallsBackToWholeShare(t *testing.T) {
	b := &scriptedBroker{results: []domain.OrderResult{
		{ErrorMessage: "Invalid Quantity"},
		{Success: true, OrderID: "whole"},
	}}
	cfg := config.Defaults().Executor
	cfg.MaxAttempts = 4
	e := New(b, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.sleep = func(context.Context, time.Duration) error { return nil }

	// $150.55 buys one $100 share, so the ladder ends on the whole-share
	// rung instead of exhausting. The amount is already at whole cents,
	// which leaves no dollar-precision rungs at all.
	res := e.Execute(context.Background(), fractionalSignal(150.55, 1.5055), testAccount())

	assert.True(t, res.Executed)
	require.Len(t, b.submitted, 2)
	last := b.submitted[1]
	assert.False(t, last.Fractional)
	assert.Equal(t, 1.0, last.Quantity)
	require.NotNil(t, res.Record)
	assert.False(t, res.Record.Fractional)
}

func TestExecute_ReauthenticatesExpiredSession(t *testing.T) {
	b := &scriptedBroker{
		pingErr: domain.ErrSessionExpired,
		results: []domain.OrderResult{{Success: true, OrderID: "abc"}},
	}
	e, _ := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())
	assert.True(t, res.Executed)
	assert.Equal(t, 1, b.reauthed)
}

func TestExecute_ReauthFailureAborts(t *testing.T) {
	b := &scriptedBroker{
		pingErr:   domain.ErrSessionExpired,
		reauthErr: errors.New("credentials rejected"),
	}
	e, _ := newExecutor(b)

	res := e.Execute(context.Background(), wholeShareSignal(40), testAccount())
	assert.False(t, res.Executed)
	assert.Empty(t, b.submitted)
	assert.Contains(t, res.Reason, "session unavailable")
}

func TestExecute_InfeasibleSizeNeverSubmits(t *testing.T) {
	b := &scriptedBroker{}
	e, _ := newExecutor(b)

	sig := wholeShareSignal(0)
	sig.PositionInfo = &domain.PositionSize{Kind: domain.SizeNone, Reason: "too small"}
	res := e.Execute(context.Background(), sig, testAccount())

	assert.False(t, res.Executed)
	assert.Equal(t, "too small", res.Reason)
	assert.Empty(t, b.submitted)

	sig.PositionInfo = nil
	res = e.Execute(context.Background(), sig, testAccount())
	assert.False(t, res.Executed)
	assert.Empty(t, b.submitted)
}
