package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// TradeHistoryStore implements domain.TradeHistoryStore.
type TradeHistoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeHistoryStore = (*TradeHistoryStore)(nil)

// NewTradeHistoryStore creates a TradeHistoryStore backed by the given
// connection pool.
func NewTradeHistoryStore(pool *pgxpool.Pool) *TradeHistoryStore {
	return &TradeHistoryStore{pool: pool}
}

// InsertBatch inserts executed trades using a pgx Batch. Records
// already synced (same id) are silently skipped via ON CONFLICT DO
// NOTHING, so re-syncing the local log is idempotent.
func (s *TradeHistoryStore) InsertBatch(ctx context.Context, recs []domain.TradeRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trade_history (
			id, executed_at, trade_date, account_id, account_type,
			symbol, action, quantity, price, order_id, strategy, fractional
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	for _, r := range recs {
		batch.Queue(query,
			r.ID, r.Timestamp, r.Date, r.AccountID, string(r.AccountType),
			r.Symbol, string(r.Action), r.Quantity, r.Price, r.OrderID, r.Strategy, r.Fractional,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade history item %d: %w", i, err)
		}
	}
	return nil
}

// ListByDate returns all trades executed on one calendar day, oldest
// first.
func (s *TradeHistoryStore) ListByDate(ctx context.Context, date string) ([]domain.TradeRecord, error) {
	const query = `
		SELECT id, executed_at, trade_date, account_id, account_type,
			symbol, action, quantity, price, order_id, strategy, fractional
		FROM trade_history
		WHERE trade_date = $1
		ORDER BY executed_at ASC`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade history by date: %w", err)
	}
	defer rows.Close()

	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var tradeDate time.Time
		var accountType, action string
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &tradeDate, &r.AccountID, &accountType,
			&r.Symbol, &action, &r.Quantity, &r.Price, &r.OrderID, &r.Strategy, &r.Fractional,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade history row: %w", err)
		}
		r.Date = tradeDate.Format(domain.TradeDateLayout)
		r.AccountType = domain.AccountType(accountType)
		r.Action = domain.SignalType(action)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate trade history rows: %w", err)
	}
	return recs, nil
}
