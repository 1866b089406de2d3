// Package executor submits sized orders to the broker with bounded
// retries. Failures are classified: transient ones back off and retry,
// terminal broker rejections stop immediately, and fractional orders
// walk a precision-degradation ladder before giving up.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// fatalSubstrings identifies broker rejections that retrying cannot
// fix. Matching is case-insensitive on the broker's message.
var fatalSubstrings = []string{
	"insufficient funds",
	"insufficient buying power",
	"account restricted",
	"stock not tradable",
	"invalid symbol",
	"market closed",
	"order rejected",
	"position not found",
	"invalid price",
	"invalid quantity",
}

// precisionSubstrings is the subset of fatal rejections that a
// fractional order may survive by degrading its precision.
var precisionSubstrings = []string{
	"invalid price",
	"invalid quantity",
}

// Executor submits orders for one signal at a time.
type Executor struct {
	client broker.Client
	cfg    config.ExecutorConfig
	logger *slog.Logger

	// Injection points for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New creates an Executor.
func New(client broker.Client, cfg config.ExecutorConfig, logger *slog.Logger) *Executor {
	return &Executor{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "executor")),
		now:    time.Now,
		sleep:  sleepCtx,
		newID:  uuid.NewString,
	}
}

// Execute submits the signal's sized order on account. Errors never
// escape: every failure mode collapses into an ExecutionResult with
// Executed=false and a reason.
func (e *Executor) Execute(ctx context.Context, sig domain.TradingSignal, account domain.AccountSnapshot) domain.ExecutionResult {
	pos := sig.PositionInfo
	if pos == nil || pos.Infeasible() {
		reason := "signal has no executable position size"
		if pos != nil {
			reason = pos.Reason
		}
		return domain.ExecutionResult{Reason: reason}
	}

	if err := e.ensureSession(ctx); err != nil {
		return domain.ExecutionResult{Reason: fmt.Sprintf("broker session unavailable: %v", err)}
	}

	req := e.buildRequest(sig, pos)
	ladder := fractionalLadder(req)

	attempts := 0
	for attempts < e.cfg.MaxAttempts {
		attempts++

		res, err := e.client.SubmitOrder(ctx, account.AccountID, req)
		if err != nil {
			// Transport-level failure: worth retrying as-is.
			e.logger.Warn("order submission failed",
				slog.String("symbol", sig.Symbol),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
			if attempts >= e.cfg.MaxAttempts {
				return domain.ExecutionResult{Reason: fmt.Sprintf("submission failed after %d attempts: %v", attempts, err), Attempts: attempts}
			}
			if err := e.backoff(ctx, attempts); err != nil {
				return domain.ExecutionResult{Reason: err.Error(), Attempts: attempts}
			}
			continue
		}

		if res.Success {
			rec := e.record(sig, account, req, res.OrderID)
			e.logger.Info("order executed",
				slog.String("symbol", sig.Symbol),
				slog.String("action", string(sig.Type)),
				slog.String("account_id", account.AccountID),
				slog.String("order_id", res.OrderID),
				slog.Int("attempts", attempts))
			return domain.ExecutionResult{Executed: true, Attempts: attempts, Record: &rec}
		}

		msg := strings.ToLower(res.ErrorMessage)
		switch {
		case req.Fractional && containsAny(msg, precisionSubstrings):
			// Precision rejection: degrade the order instead of retrying
			// the same shape.
			next, ok := ladder.next()
			if !ok {
				return domain.ExecutionResult{
					Reason:   fmt.Sprintf("fractional order rejected at every precision: %s", res.ErrorMessage),
					Attempts: attempts,
				}
			}
			e.logger.Warn("degrading fractional order precision",
				slog.String("symbol", sig.Symbol),
				slog.String("rejection", res.ErrorMessage))
			req = next

		case containsAny(msg, fatalSubstrings):
			return domain.ExecutionResult{
				Reason:   fmt.Sprintf("broker rejected order: %s", res.ErrorMessage),
				Attempts: attempts,
			}

		default:
			e.logger.Warn("retryable broker rejection",
				slog.String("symbol", sig.Symbol),
				slog.Int("attempt", attempts),
				slog.String("rejection", res.ErrorMessage))
			if attempts >= e.cfg.MaxAttempts {
				return domain.ExecutionResult{
					Reason:   fmt.Sprintf("order not accepted after %d attempts: %s", attempts, res.ErrorMessage),
					Attempts: attempts,
				}
			}
			if err := e.backoff(ctx, attempts); err != nil {
				return domain.ExecutionResult{Reason: err.Error(), Attempts: attempts}
			}
		}
	}

	return domain.ExecutionResult{Reason: "retry budget exhausted", Attempts: attempts}
}

// ensureSession probes the broker session and re-authenticates once on
// expiry. Any other probe failure is passed through untouched.
func (e *Executor) ensureSession(ctx context.Context) error {
	err := e.client.Ping(ctx)
	if err == nil {
		return nil
	}
	e.logger.Warn("broker session probe failed, re-authenticating",
		slog.String("error", err.Error()))
	if err := e.client.Reauthenticate(ctx); err != nil {
		return fmt.Errorf("executor: re-authenticate: %w", err)
	}
	return nil
}

func (e *Executor) buildRequest(sig domain.TradingSignal, pos *domain.PositionSize) domain.OrderRequest {
	req := domain.OrderRequest{
		Symbol:        sig.Symbol,
		Price:         sig.Price,
		Action:        sig.Type,
		OrderType:     domain.OrderType(e.cfg.OrderType),
		TimeInForce:   domain.TIFDay,
		ExtendedHours: e.cfg.ExtendedHours,
	}
	if pos.Fractional() {
		req.Fractional = true
		req.Quantity = pos.Amount
	} else {
		req.Quantity = pos.Quantity
	}
	return req
}

func (e *Executor) record(sig domain.TradingSignal, account domain.AccountSnapshot, req domain.OrderRequest, orderID string) domain.TradeRecord {
	now := e.now()
	return domain.TradeRecord{
		ID:          e.newID(),
		Timestamp:   now,
		Date:        now.Format(domain.TradeDateLayout),
		AccountID:   account.AccountID,
		AccountType: account.AccountType,
		Symbol:      sig.Symbol,
		Action:      sig.Type,
		Quantity:    req.Quantity,
		Price:       sig.Price,
		OrderID:     orderID,
		Strategy:    sig.Strategy,
		Fractional:  req.Fractional,
	}
}

// backoff waits base*attempt before the next try (10s, 20s, ... with
// the default base), honoring context cancellation.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	d := e.cfg.BaseDelay.Duration * time.Duration(attempt)
	e.logger.Debug("backing off before retry",
		slog.Int("attempt", attempt),
		slog.Duration("delay", d))
	return e.sleep(ctx, d)
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

func containsAny(msg string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// ladder is the precision-degradation sequence for a rejected
// fractional order. Every rung stays within the sized dollar amount:
// the notional at four decimal places, then floored to whole cents,
// then the equivalent whole-share quantity floor(amount/price) when
// that is at least one share. Exhausting it ends the execution without
// further retries.
type ladder struct {
	steps []domain.OrderRequest
	pos   int
}

func (l *ladder) next() (domain.OrderRequest, bool) {
	if l.pos >= len(l.steps) {
		return domain.OrderRequest{}, false
	}
	req := l.steps[l.pos]
	l.pos++
	return req, true
}

func fractionalLadder(req domain.OrderRequest) *ladder {
	if !req.Fractional {
		return &ladder{}
	}

	var steps []domain.OrderRequest
	last := req.Quantity

	// Dollar amount at four decimal places.
	d4 := req
	d4.Quantity = math.Round(req.Quantity*10000) / 10000
	if differs(d4.Quantity, last) {
		steps = append(steps, d4)
		last = d4.Quantity
	}

	// Dollar amount floored to whole cents.
	cents := req
	cents.Quantity = math.Floor(req.Quantity*100) / 100
	if differs(cents.Quantity, last) {
		steps = append(steps, cents)
	}

	// Whole shares the sized dollars can buy. Below one share there is
	// no rung: the order fails rather than overspending the size.
	if req.Price > 0 {
		if shares := math.Floor(req.Quantity / req.Price); shares >= 1 {
			whole := req
			whole.Fractional = false
			whole.Quantity = shares
			steps = append(steps, whole)
		}
	}

	return &ladder{steps: steps}
}

func differs(a, b float64) bool {
	return math.Abs(a-b) > 1e-9
}
