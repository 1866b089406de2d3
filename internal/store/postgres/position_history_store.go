package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// PositionHistoryStore implements domain.PositionHistoryStore.
type PositionHistoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionHistoryStore = (*PositionHistoryStore)(nil)

// NewPositionHistoryStore creates a PositionHistoryStore backed by the
// given connection pool.
func NewPositionHistoryStore(pool *pgxpool.Pool) *PositionHistoryStore {
	return &PositionHistoryStore{pool: pool}
}

// UpsertSnapshot replaces one account's position rows for syncDate:
// positions no longer held are deleted, the rest are upserted. The
// whole replacement runs in one transaction so a reader never sees a
// half-synced day.
func (s *PositionHistoryStore) UpsertSnapshot(ctx context.Context, syncDate string, account domain.AccountSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin position sync: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM position_history WHERE sync_date = $1 AND account_id = $2`,
		syncDate, account.AccountID,
	); err != nil {
		return fmt.Errorf("postgres: clear position snapshot: %w", err)
	}

	if len(account.Positions) > 0 {
		batch := &pgx.Batch{}
		const query = `
			INSERT INTO position_history (
				sync_date, account_id, symbol, quantity,
				cost_price, current_price, market_value, unrealized_pnl
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (sync_date, account_id, symbol) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				cost_price = EXCLUDED.cost_price,
				current_price = EXCLUDED.current_price,
				market_value = EXCLUDED.market_value,
				unrealized_pnl = EXCLUDED.unrealized_pnl,
				synced_at = NOW()`

		for _, p := range account.Positions {
			batch.Queue(query,
				syncDate, account.AccountID, p.Symbol, p.Quantity,
				p.CostPrice, p.CurrentPrice, p.MarketValue, p.UnrealizedPnL,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range account.Positions {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: upsert position %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close position batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit position sync: %w", err)
	}
	return nil
}
