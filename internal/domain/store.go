package domain

import (
	"context"
	"time"
)

// TradeLog is the append-only local record of trades executed by this
// system. Appends prune records older than the retention window; the
// set of today's records is advisory input to day-trade checks (manual
// trades placed outside the system do not appear here — that gap is
// covered by the reconciler).
type TradeLog interface {
	Append(ctx context.Context, rec TradeRecord) error
	TodayByAccount(ctx context.Context, accountID string) ([]TradeRecord, error)
	Today(ctx context.Context) ([]TradeRecord, error)
}

// TradesCache caches the reconciler's normalized broker trades per
// account for a short TTL, bounding broker-API call volume within a
// run. Get returns ErrNotFound on a miss or expired entry.
type TradesCache interface {
	Get(ctx context.Context, accountID string) ([]NormalizedTrade, error)
	Set(ctx context.Context, accountID string, trades []NormalizedTrade) error
}

// TradeHistoryStore persists executed trades durably (beyond the local
// log's retention window).
type TradeHistoryStore interface {
	InsertBatch(ctx context.Context, recs []TradeRecord) error
	ListByDate(ctx context.Context, date string) ([]TradeRecord, error)
}

// PositionHistoryStore persists per-day account position snapshots for
// later analysis.
type PositionHistoryStore interface {
	UpsertSnapshot(ctx context.Context, syncDate string, account AccountSnapshot) error
}

// TradeArchiver uploads pruned trade-log records to long-term storage
// before they are dropped.
type TradeArchiver interface {
	ArchiveTrades(ctx context.Context, recs []TradeRecord, month time.Time) error
}
