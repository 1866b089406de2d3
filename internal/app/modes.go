package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwhitfield/tradepilot/internal/domain"
	"github.com/mwhitfield/tradepilot/internal/pipeline"
)

// RunMode executes the signal file against the live broker. It refuses
// to run outside the configured trading window and syncs the day's
// history to postgres afterwards when configured.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	if ok, reason := a.withinTradingWindow(time.Now()); !ok {
		a.logger.InfoContext(ctx, "outside trading window, nothing to do",
			slog.String("reason", reason))
		return nil
	}

	summary, err := a.runPipeline(ctx, deps, false)
	if err != nil {
		return err
	}

	if err := a.syncHistory(ctx, deps); err != nil {
		// Trades already executed; a failed sync must not fail the run.
		a.logger.ErrorContext(ctx, "history sync failed", slog.String("error", err.Error()))
	}

	a.logSummary(ctx, "run", summary)
	return nil
}

// DryRunMode validates and sizes every signal without submitting any
// order. The trading window gate is skipped so signal files can be
// checked at any time.
func (a *App) DryRunMode(ctx context.Context, deps *Dependencies) error {
	summary, err := a.runPipeline(ctx, deps, true)
	if err != nil {
		return err
	}
	a.logSummary(ctx, "dryrun", summary)
	return nil
}

func (a *App) runPipeline(ctx context.Context, deps *Dependencies, dryRun bool) (pipeline.Summary, error) {
	signals, err := LoadSignals(a.signalsPath)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("load signals: %w", err)
	}
	if len(signals) == 0 {
		a.logger.InfoContext(ctx, "signal file is empty, nothing to do")
	}

	limits := pipeline.Limits{
		MaxTradesPerAccount: a.cfg.Rules.MaxPositionsTotal,
		MinAccountValue:     a.cfg.Rules.MinPositionValue,
		MinSettledFunds:     a.cfg.Sizing.MinFractionalOrder,
		MaxPositionPct:      a.cfg.Rules.MaxPositionPct,
		MinPositionValue:    a.cfg.Rules.MinPositionValue,
	}

	p := pipeline.New(
		deps.Accounts,
		deps.Validator,
		deps.Sizer,
		deps.Executor,
		deps.TradeLog,
		deps.Notifier,
		limits,
		a.cfg.Executor.PacingDelay.Duration,
		dryRun,
		a.logger,
	)
	return p.Run(ctx, signals)
}

// withinTradingWindow reports whether now falls on a weekday inside the
// configured trading window. The window bounds come from config and are
// validated as HH:MM at startup.
func (a *App) withinTradingWindow(now time.Time) (bool, string) {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false, fmt.Sprintf("market closed on %s", now.Weekday())
	}

	start, err := time.Parse("15:04", a.cfg.Broker.TradingStart)
	if err != nil {
		return false, fmt.Sprintf("invalid trading_start %q", a.cfg.Broker.TradingStart)
	}
	end, err := time.Parse("15:04", a.cfg.Broker.TradingEnd)
	if err != nil {
		return false, fmt.Sprintf("invalid trading_end %q", a.cfg.Broker.TradingEnd)
	}

	minutes := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if minutes < startMin || minutes > endMin {
		return false, fmt.Sprintf("%02d:%02d is outside %s-%s",
			now.Hour(), now.Minute(), a.cfg.Broker.TradingStart, a.cfg.Broker.TradingEnd)
	}
	return true, ""
}

// syncHistory pushes today's trade records and per-account position
// snapshots to postgres. No-op when postgres is not configured.
func (a *App) syncHistory(ctx context.Context, deps *Dependencies) error {
	if deps.TradeHistory == nil {
		return nil
	}

	recs, err := deps.TradeLog.Today(ctx)
	if err != nil {
		return fmt.Errorf("read today's trades: %w", err)
	}
	if len(recs) > 0 {
		if err := deps.TradeHistory.InsertBatch(ctx, recs); err != nil {
			return fmt.Errorf("insert trade history: %w", err)
		}
	}

	syncDate := time.Now().Format(domain.TradeDateLayout)
	for _, acct := range deps.Accounts.Snapshots() {
		if err := deps.PositionHistory.UpsertSnapshot(ctx, syncDate, acct); err != nil {
			return fmt.Errorf("upsert position snapshot for %s: %w", acct.AccountID, err)
		}
	}

	a.logger.InfoContext(ctx, "history synced",
		slog.Int("trades", len(recs)),
		slog.String("sync_date", syncDate))
	return nil
}

func (a *App) logSummary(ctx context.Context, mode string, s pipeline.Summary) {
	a.logger.InfoContext(ctx, "trading run finished",
		slog.String("mode", mode),
		slog.Int("signals", len(s.Results)),
		slog.Int("executed", s.Count(pipeline.OutcomeExecuted)),
		slog.Int("would_execute", s.Count(pipeline.OutcomeWouldExecute)),
		slog.Int("rejected", s.Count(pipeline.OutcomeRejected)),
		slog.Int("skipped", s.Count(pipeline.OutcomeSkipped)),
		slog.Int("failed", s.Count(pipeline.OutcomeFailed)),
		slog.Int("safety_issues", len(s.SafetyIssues)),
		slog.Duration("elapsed", s.Finished.Sub(s.Started)),
	)
}
