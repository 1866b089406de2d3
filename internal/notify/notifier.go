// Package notify pushes trade lifecycle events to operators over one or
// more channels (Telegram, Discord). Delivery is best effort: a failed
// send is logged and never blocks trading.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mwhitfield/tradepilot/internal/domain"
	"github.com/mwhitfield/tradepilot/internal/pipeline"
)

// Event types operators can subscribe to via the notify.events config.
const (
	EventTradeExecuted = "trade_executed"
	EventTradeFailed   = "trade_failed"
	EventRunSummary    = "run_summary"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel ("telegram", "discord").
	Name() string
}

// Notifier formats trade events and fans them out to every configured
// sender, filtered by the allowed event set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

var _ pipeline.Notifier = (*Notifier)(nil)

// New creates a Notifier delivering to senders. Only events listed in
// events are forwarded; an empty list allows everything.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeExecuted reports a filled order.
func (n *Notifier) TradeExecuted(ctx context.Context, rec domain.TradeRecord) {
	qty := fmt.Sprintf("%g shares", rec.Quantity)
	if rec.Fractional {
		qty = fmt.Sprintf("$%.2f", rec.Quantity)
	}
	n.notify(ctx, EventTradeExecuted,
		fmt.Sprintf("Trade executed: %s %s", rec.Action, rec.Symbol),
		fmt.Sprintf("%s of %s at $%.2f on account %s (order %s, strategy %s)",
			qty, rec.Symbol, rec.Price, rec.AccountID, rec.OrderID, rec.Strategy))
}

// TradeFailed reports a signal that passed validation but could not be
// executed.
func (n *Notifier) TradeFailed(ctx context.Context, sig domain.TradingSignal, reason string) {
	n.notify(ctx, EventTradeFailed,
		fmt.Sprintf("Trade failed: %s %s", sig.Type, sig.Symbol),
		fmt.Sprintf("strategy %s, price $%.2f: %s", sig.Strategy, sig.Price, reason))
}

// RunFinished reports the aggregate outcome of one run.
func (n *Notifier) RunFinished(ctx context.Context, s pipeline.Summary) {
	n.notify(ctx, EventRunSummary,
		"Trading run finished",
		fmt.Sprintf("%d signals: %d executed, %d rejected, %d skipped, %d failed (%s)",
			len(s.Results),
			s.Count(pipeline.OutcomeExecuted)+s.Count(pipeline.OutcomeWouldExecute),
			s.Count(pipeline.OutcomeRejected),
			s.Count(pipeline.OutcomeSkipped),
			s.Count(pipeline.OutcomeFailed),
			s.Finished.Sub(s.Started).Round(0)))
}

// notify filters by event type and fans out to every sender. Failures
// are logged per sender and swallowed.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title))
	}
}
