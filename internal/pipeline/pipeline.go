// Package pipeline orchestrates one trading run: for each signal it
// selects an account, applies the trading rules, sizes the position,
// and hands the order to the executor. Signals are processed strictly
// in order; one signal's failure never aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mwhitfield/tradepilot/internal/accounts"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// Executor submits one sized signal. Implemented by executor.Executor.
type Executor interface {
	Execute(ctx context.Context, sig domain.TradingSignal, account domain.AccountSnapshot) domain.ExecutionResult
}

// Validator applies the trading rules. Implemented by rules.Validator.
type Validator interface {
	Validate(ctx context.Context, sig domain.TradingSignal, account domain.AccountSnapshot) domain.Decision
}

// Sizer computes position sizes. Implemented by sizing.Sizer.
type Sizer interface {
	SizeForStrategy(sig domain.TradingSignal, account domain.AccountSnapshot) domain.PositionSize
}

// Notifier receives trade lifecycle events. Implemented by
// notify.Notifier; all methods are fire-and-forget.
type Notifier interface {
	TradeExecuted(ctx context.Context, rec domain.TradeRecord)
	TradeFailed(ctx context.Context, sig domain.TradingSignal, reason string)
	RunFinished(ctx context.Context, summary Summary)
}

// Outcome is the terminal state of one signal within a run.
type Outcome string

const (
	OutcomeExecuted     Outcome = "executed"
	OutcomeWouldExecute Outcome = "would_execute" // dry run
	OutcomeRejected     Outcome = "rejected"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
)

// SignalResult is the per-signal entry in a run summary.
type SignalResult struct {
	Symbol    string
	Action    domain.SignalType
	AccountID string
	Outcome   Outcome
	Reason    string
	OrderID   string
}

// Summary aggregates one run. A non-empty SafetyIssues means the
// pre-run safety checks refused to trade and no signal was processed.
type Summary struct {
	Started      time.Time
	Finished     time.Time
	Results      []SignalResult
	SafetyIssues []string
}

// Count returns how many signals ended in the given outcome.
func (s Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Limits are the pre-run safety bounds checked once per run, before any
// signal is processed. A zero value disables the corresponding check.
type Limits struct {
	MaxTradesPerAccount int     // daily executed-trade cap per account
	MinAccountValue     float64 // smallest net liquidation allowed to trade
	MinSettledFunds     float64 // smallest settled balance allowed to trade
	MaxPositionPct      float64 // per-position equity fraction, for combined-funds math
	MinPositionValue    float64 // floor on the combined spendable funds
}

// Pipeline wires the per-signal stages together.
type Pipeline struct {
	accounts  *accounts.Manager
	validator Validator
	sizer     Sizer
	executor  Executor
	tradeLog  domain.TradeLog
	notifier  Notifier
	logger    *slog.Logger

	limits Limits
	pacing time.Duration
	dryRun bool

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Pipeline. notifier may be nil.
func New(
	mgr *accounts.Manager,
	validator Validator,
	sizer Sizer,
	exec Executor,
	tradeLog domain.TradeLog,
	notifier Notifier,
	limits Limits,
	pacing time.Duration,
	dryRun bool,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		accounts:  mgr,
		validator: validator,
		sizer:     sizer,
		executor:  exec,
		tradeLog:  tradeLog,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "pipeline")),
		limits:    limits,
		pacing:    pacing,
		dryRun:    dryRun,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// Run processes the signals in order and returns the run summary. The
// only error Run returns is a context cancellation or a failure to
// discover any tradable account; everything per-signal is contained in
// the summary.
func (p *Pipeline) Run(ctx context.Context, signals []domain.TradingSignal) (Summary, error) {
	summary := Summary{Started: p.now()}

	if err := p.accounts.Discover(ctx); err != nil {
		return summary, err
	}

	if issues := p.checkSafetyLimits(ctx); len(issues) > 0 {
		for _, issue := range issues {
			p.logger.Warn("safety limit violated", slog.String("issue", issue))
		}
		p.logger.Warn("safety limits not met, no trades this run")
		summary.SafetyIssues = issues
		summary.Finished = p.now()
		if p.notifier != nil {
			p.notifier.RunFinished(ctx, summary)
		}
		return summary, nil
	}

	for i, sig := range signals {
		if err := ctx.Err(); err != nil {
			summary.Finished = p.now()
			return summary, domain.ErrContextDone
		}

		res := p.processSignal(ctx, sig)
		summary.Results = append(summary.Results, res)

		// Pace between executed trades so the broker sees a human-ish
		// cadence. No pause after the last signal.
		if res.Outcome == OutcomeExecuted && i < len(signals)-1 {
			if err := p.sleep(ctx, p.pacing); err != nil {
				summary.Finished = p.now()
				return summary, err
			}
		}
	}

	summary.Finished = p.now()
	p.logger.Info("run finished",
		slog.Int("signals", len(signals)),
		slog.Int("executed", summary.Count(OutcomeExecuted)),
		slog.Int("rejected", summary.Count(OutcomeRejected)),
		slog.Int("skipped", summary.Count(OutcomeSkipped)),
		slog.Int("failed", summary.Count(OutcomeFailed)))
	if p.notifier != nil {
		p.notifier.RunFinished(ctx, summary)
	}
	return summary, nil
}

// processSignal runs one signal through selection, validation, sizing,
// and execution. Every failure mode maps to a SignalResult.
func (p *Pipeline) processSignal(ctx context.Context, sig domain.TradingSignal) SignalResult {
	log := p.logger.With(
		slog.String("symbol", sig.Symbol),
		slog.String("action", string(sig.Type)),
		slog.String("strategy", sig.Strategy))

	// Every account is validated independently; the selector then
	// chooses among the passers. Validating only the selector's pick
	// would let one capped account shadow an eligible one.
	var eligible []domain.AccountSnapshot
	firstDenial := ""
	for _, snap := range p.accounts.Snapshots() {
		d := p.validator.Validate(ctx, sig, snap)
		if d.Allowed {
			eligible = append(eligible, snap)
		} else if firstDenial == "" {
			firstDenial = d.Violation.Reason
		}
	}

	if len(eligible) == 0 {
		if firstDenial != "" {
			return SignalResult{Symbol: sig.Symbol, Action: sig.Type,
				Outcome: OutcomeRejected, Reason: firstDenial}
		}
		log.Info("no account can take this signal")
		return SignalResult{Symbol: sig.Symbol, Action: sig.Type, Outcome: OutcomeSkipped,
			Reason: "no eligible account"}
	}

	account, ok := SelectAccount(sig, eligible)
	if !ok {
		log.Info("no account can take this signal")
		return SignalResult{Symbol: sig.Symbol, Action: sig.Type, Outcome: OutcomeSkipped,
			Reason: "no eligible account"}
	}
	log = log.With(slog.String("account_id", account.AccountID))

	pos := p.size(sig, account)
	if pos.Infeasible() {
		log.Info("position not sizeable", slog.String("reason", pos.Reason))
		return SignalResult{Symbol: sig.Symbol, Action: sig.Type, AccountID: account.AccountID,
			Outcome: OutcomeSkipped, Reason: pos.Reason}
	}
	sig.PositionInfo = &pos
	sig.TargetAccount = account.AccountID

	if p.dryRun {
		log.Info("dry run, order not submitted",
			slog.String("kind", string(pos.Kind)),
			slog.Float64("quantity", pos.Quantity),
			slog.Float64("amount", pos.Amount))
		return SignalResult{Symbol: sig.Symbol, Action: sig.Type, AccountID: account.AccountID,
			Outcome: OutcomeWouldExecute}
	}

	res := p.executor.Execute(ctx, sig, account)
	if !res.Executed {
		log.Warn("execution failed", slog.String("reason", res.Reason), slog.Int("attempts", res.Attempts))
		if p.notifier != nil {
			p.notifier.TradeFailed(ctx, sig, res.Reason)
		}
		return SignalResult{Symbol: sig.Symbol, Action: sig.Type, AccountID: account.AccountID,
			Outcome: OutcomeFailed, Reason: res.Reason}
	}

	p.afterExecution(ctx, log, account.AccountID, *res.Record)
	return SignalResult{Symbol: sig.Symbol, Action: sig.Type, AccountID: account.AccountID,
		Outcome: OutcomeExecuted, OrderID: res.Record.OrderID}
}

// checkSafetyLimits inspects today's trade log and every account
// snapshot against the configured limits. Any issue stops the whole
// run: trading with a limit already breached is never the right move,
// and the next run re-checks with fresh numbers.
func (p *Pipeline) checkSafetyLimits(ctx context.Context) []string {
	var issues []string
	snaps := p.accounts.Snapshots()

	today, err := p.tradeLog.Today(ctx)
	if err != nil {
		return []string{fmt.Sprintf("cannot read today's trade log: %v", err)}
	}

	if p.limits.MaxTradesPerAccount > 0 {
		maxTotal := p.limits.MaxTradesPerAccount * len(snaps)
		if len(today) >= maxTotal {
			issues = append(issues, fmt.Sprintf("total daily trade limit reached: %d/%d across all accounts",
				len(today), maxTotal))
		}
	}

	combined := 0.0
	for _, snap := range snaps {
		if p.limits.MaxTradesPerAccount > 0 {
			n := 0
			for _, rec := range today {
				if rec.AccountID == snap.AccountID {
					n++
				}
			}
			if n >= p.limits.MaxTradesPerAccount {
				issues = append(issues, fmt.Sprintf("account %s: daily trade limit reached (%d/%d)",
					snap.AccountID, n, p.limits.MaxTradesPerAccount))
			}
		}
		if snap.NetLiquidation < p.limits.MinAccountValue {
			issues = append(issues, fmt.Sprintf("account %s: value too low ($%.2f < $%.2f)",
				snap.AccountID, snap.NetLiquidation, p.limits.MinAccountValue))
		}
		if snap.SettledFunds < p.limits.MinSettledFunds {
			issues = append(issues, fmt.Sprintf("account %s: insufficient settled funds ($%.2f < $%.2f)",
				snap.AccountID, snap.SettledFunds, p.limits.MinSettledFunds))
		}
		combined += math.Min(snap.NetLiquidation*p.limits.MaxPositionPct, snap.SettledFunds)
	}

	if combined < p.limits.MinPositionValue {
		issues = append(issues, fmt.Sprintf("insufficient combined funds for a minimum position ($%.2f < $%.2f)",
			combined, p.limits.MinPositionValue))
	}
	return issues
}

// size produces the position for the signal. BUYs go through the
// strategy-aware sizer; SELLs liquidate the entire held position.
func (p *Pipeline) size(sig domain.TradingSignal, account domain.AccountSnapshot) domain.PositionSize {
	if sig.Type == domain.SignalBuy {
		return p.sizer.SizeForStrategy(sig, account)
	}

	held := account.FindPosition(sig.Symbol)
	if held == nil || held.Quantity <= 0 {
		return domain.PositionSize{Kind: domain.SizeNone, Reason: "no position to sell"}
	}
	if held.Quantity < 1 || held.Quantity != math.Trunc(held.Quantity) {
		// Fractional holding: sell by dollar value of the position.
		return domain.PositionSize{
			Kind:            domain.SizeFractionalDollars,
			Amount:          math.Floor(held.Quantity*sig.Price*100) / 100,
			EstimatedShares: held.Quantity,
		}
	}
	return domain.PositionSize{Kind: domain.SizeWholeShares, Quantity: held.Quantity}
}

// afterExecution records the trade and refreshes the account so later
// signals in the same run see post-trade funds and positions.
func (p *Pipeline) afterExecution(ctx context.Context, log *slog.Logger, accountID string, rec domain.TradeRecord) {
	if err := p.tradeLog.Append(ctx, rec); err != nil {
		log.Error("trade executed but not recorded", slog.String("error", err.Error()))
	}
	if _, err := p.accounts.Refresh(ctx, accountID); err != nil {
		log.Warn("account refresh after trade failed", slog.String("error", err.Error()))
	}
	if p.notifier != nil {
		p.notifier.TradeExecuted(ctx, rec)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return domain.ErrContextDone
	case <-t.C:
		return nil
	}
}
