// Package broker defines the brokerage client surface the trading
// pipeline depends on. Implementations live in subpackages (webull).
package broker

import (
	"context"
	"time"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// AccountRef is one brokerage account as reported by discovery, before
// any balance or position detail is loaded.
type AccountRef struct {
	AccountID string
	Type      domain.AccountType
	Status    string
}

// Order is one historical order as reported by the broker's order
// history endpoint, reduced to the fields reconciliation needs.
type Order struct {
	Symbol    string
	Action    domain.SignalType
	Status    string
	Quantity  float64
	AvgPrice  float64
	PlacedAt  time.Time
	FilledAt  time.Time
}

// Activity is one account activity record (the broker's second channel
// of record: settlements, trades, transfers). Type distinguishes them;
// reconciliation only consumes "trade" activities.
type Activity struct {
	Type     string
	Symbol   string
	Action   domain.SignalType
	Quantity float64
	Price    float64
	Date     time.Time
}

// Client is the brokerage API surface the pipeline needs. Every call is
// scoped to one account via accountID; implementations switch their
// session to that account as needed.
type Client interface {
	// Accounts lists all brokerage accounts visible to the session.
	Accounts(ctx context.Context) ([]AccountRef, error)

	// AccountSnapshot loads balances and open positions for one account.
	AccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error)

	// OrderHistory returns recent orders with the given status
	// ("Filled", "Partially Filled", "All"), newest first, up to count.
	OrderHistory(ctx context.Context, accountID, status string, count int) ([]Order, error)

	// Activities returns one page of account activity records.
	Activities(ctx context.Context, accountID string, pageIndex, pageSize int) ([]Activity, error)

	// SubmitOrder places an order on the given account.
	SubmitOrder(ctx context.Context, accountID string, req domain.OrderRequest) (domain.OrderResult, error)

	// Ping checks that the session is still valid. Returns
	// domain.ErrSessionExpired when it is not.
	Ping(ctx context.Context) error

	// Reauthenticate refreshes the broker session after expiry.
	Reauthenticate(ctx context.Context) error
}
