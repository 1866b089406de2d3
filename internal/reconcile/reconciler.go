// Package reconcile rebuilds the true picture of today's fills. The
// broker's own records catch trades placed manually in the broker app;
// the local trade log catches fills this system just executed that the
// broker's history endpoints have not surfaced yet. Day-trade checks
// classify against the union of both.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// DefaultCacheTTL bounds how stale the per-account trade picture may
// get within a run before the broker is queried again.
const DefaultCacheTTL = 5 * time.Minute

// Junk thresholds: broker records below these are placeholder rows, not
// real fills.
const (
	minRealQuantity = 0.001
	minRealPrice    = 0.01
)

// fetched order statuses that count as executions.
var filledStatuses = map[string]bool{
	"Filled":           true,
	"Partially Filled": true,
}

// Reconciler merges the broker's order history and account activity
// channels into a deduplicated list of today's fills per account, and
// overlays the local trade log when classifying day trades.
type Reconciler struct {
	client broker.Client
	cache  domain.TradesCache
	local  domain.TradeLog
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Reconciler. cache may not be nil; use NewMemoryCache
// when no shared cache is configured. local holds the trades this
// process executed and may be nil only when no trade log exists.
func New(client broker.Client, cache domain.TradesCache, local domain.TradeLog, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client: client,
		cache:  cache,
		local:  local,
		logger: logger.With(slog.String("component", "reconciler")),
		now:    time.Now,
	}
}

// TodayTrades returns today's deduplicated fills for one account,
// served from cache when fresh. When both broker channels fail the
// error is returned so callers deny rather than trade blind.
func (r *Reconciler) TodayTrades(ctx context.Context, accountID string) ([]domain.NormalizedTrade, error) {
	if cached, err := r.cache.Get(ctx, accountID); err == nil {
		return cached, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("trade cache read failed, querying broker",
			slog.String("account_id", accountID), slog.String("error", err.Error()))
	}

	trades, err := r.fetchToday(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, accountID, trades); err != nil {
		r.logger.Warn("trade cache write failed",
			slog.String("account_id", accountID), slog.String("error", err.Error()))
	}
	return trades, nil
}

// fetchToday pulls both broker channels, normalizes, filters to the
// current calendar day, and deduplicates cross-channel reports of the
// same fill. One failed channel degrades to the other; both failing is
// an error.
func (r *Reconciler) fetchToday(ctx context.Context, accountID string) ([]domain.NormalizedTrade, error) {
	today := r.now().Format(domain.TradeDateLayout)

	var fromOrders []domain.NormalizedTrade
	orders, ordersErr := r.client.OrderHistory(ctx, accountID, "All", 100)
	if ordersErr == nil {
		fromOrders = normalizeOrders(orders, today)
	} else {
		r.logger.Warn("order history fetch failed",
			slog.String("account_id", accountID), slog.String("error", ordersErr.Error()))
	}

	var fromActivities []domain.NormalizedTrade
	activities, actErr := r.client.Activities(ctx, accountID, 0, 50)
	if actErr == nil {
		fromActivities = normalizeActivities(activities, today)
	} else {
		r.logger.Warn("activities fetch failed",
			slog.String("account_id", accountID), slog.String("error", actErr.Error()))
	}

	if ordersErr != nil && actErr != nil {
		return nil, fmt.Errorf("reconcile: both broker channels failed for account %s: %w", accountID, ordersErr)
	}

	merged := dedupe(fromOrders, fromActivities)
	r.logger.Debug("reconciled today's trades",
		slog.String("account_id", accountID),
		slog.Int("from_orders", len(fromOrders)),
		slog.Int("from_activities", len(fromActivities)),
		slog.Int("merged", len(merged)))
	return merged, nil
}

func normalizeOrders(orders []broker.Order, today string) []domain.NormalizedTrade {
	out := make([]domain.NormalizedTrade, 0, len(orders))
	for _, o := range orders {
		if !filledStatuses[o.Status] {
			continue
		}
		ts := o.FilledAt
		if ts.IsZero() {
			ts = o.PlacedAt
		}
		if ts.IsZero() || ts.Format(domain.TradeDateLayout) != today {
			continue
		}
		if o.Quantity < minRealQuantity || o.AvgPrice < minRealPrice {
			continue
		}
		out = append(out, domain.NormalizedTrade{
			Symbol:    o.Symbol,
			Action:    o.Action,
			Quantity:  o.Quantity,
			Price:     o.AvgPrice,
			Timestamp: ts,
			Source:    domain.SourceOrderHistory,
		})
	}
	return out
}

func normalizeActivities(activities []broker.Activity, today string) []domain.NormalizedTrade {
	out := make([]domain.NormalizedTrade, 0, len(activities))
	for _, a := range activities {
		if a.Type != "trade" {
			continue
		}
		if a.Date.IsZero() || a.Date.Format(domain.TradeDateLayout) != today {
			continue
		}
		if a.Quantity < minRealQuantity || a.Price < minRealPrice {
			continue
		}
		out = append(out, domain.NormalizedTrade{
			Symbol:    a.Symbol,
			Action:    a.Action,
			Quantity:  a.Quantity,
			Price:     a.Price,
			Timestamp: a.Date,
			Source:    domain.SourceActivity,
		})
	}
	return out
}

// overlayLocal appends locally recorded executions that the broker
// channels have not reported yet. Broker entries win on a match; a
// local record that duplicates one only changes the Source label.
func overlayLocal(fromBroker []domain.NormalizedTrade, recs []domain.TradeRecord) []domain.NormalizedTrade {
	out := fromBroker
	for _, rec := range recs {
		nt := domain.NormalizedTrade{
			Symbol:    rec.Symbol,
			Action:    rec.Action,
			Quantity:  rec.Quantity,
			Price:     rec.Price,
			Timestamp: rec.Timestamp,
			OrderID:   rec.OrderID,
			Source:    domain.SourceLocal,
		}
		dup := false
		for _, b := range fromBroker {
			if nt.SameFill(b) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, nt)
		}
	}
	return out
}

// dedupe drops activity entries that describe a fill already present in
// the order-history channel. Order history wins because it carries the
// more precise timestamps.
func dedupe(fromOrders, fromActivities []domain.NormalizedTrade) []domain.NormalizedTrade {
	merged := make([]domain.NormalizedTrade, 0, len(fromOrders)+len(fromActivities))
	merged = append(merged, fromOrders...)
	for _, a := range fromActivities {
		dup := false
		for _, o := range fromOrders {
			if a.SameFill(o) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, a)
		}
	}
	return merged
}

// WouldCreateDayTrade classifies a signal against the account's actual
// fills today, broker-reported and locally recorded alike. The local
// log matters within a run: a fill executed moments ago is authoritative
// here long before the broker's history endpoints (or a cached view of
// them) reflect it. A SELL of a symbol bought today closes an intraday
// round trip; a BUY of a symbol sold today re-opens one. Both count.
// A fetch failure is returned as an error; callers must deny on it.
func (r *Reconciler) WouldCreateDayTrade(ctx context.Context, accountID string, sig domain.TradingSignal) (bool, string, error) {
	trades, err := r.TodayTrades(ctx, accountID)
	if err != nil {
		return false, "", err
	}

	if r.local != nil {
		recs, err := r.local.TodayByAccount(ctx, accountID)
		if err != nil {
			return false, "", fmt.Errorf("reconcile: local trade log for account %s: %w", accountID, err)
		}
		trades = overlayLocal(trades, recs)
	}

	for _, t := range trades {
		if t.Symbol != sig.Symbol {
			continue
		}
		switch {
		case sig.Type == domain.SignalSell && t.Action == domain.SignalBuy:
			return true, fmt.Sprintf("selling %s would close a position opened today (%s via %s)",
				sig.Symbol, t.Timestamp.Format("15:04:05"), t.Source), nil
		case sig.Type == domain.SignalBuy && t.Action == domain.SignalSell:
			return true, fmt.Sprintf("buying %s would re-enter a position sold today (%s via %s)",
				sig.Symbol, t.Timestamp.Format("15:04:05"), t.Source), nil
		}
	}
	return false, "", nil
}
