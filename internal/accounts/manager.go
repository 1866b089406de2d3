// Package accounts discovers brokerage accounts and maintains their
// snapshots for the trading pipeline.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

// Manager holds the current snapshot of every enabled account.
// Snapshots are replaced wholesale by Discover and Refresh, never
// patched in place.
type Manager struct {
	client  broker.Client
	enabled map[domain.AccountType]bool
	logger  *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]domain.AccountSnapshot
}

// NewManager creates a Manager trading only on the listed account
// types.
func NewManager(client broker.Client, enabledTypes []string, logger *slog.Logger) *Manager {
	enabled := make(map[domain.AccountType]bool, len(enabledTypes))
	for _, t := range enabledTypes {
		enabled[domain.AccountType(strings.ToUpper(strings.TrimSpace(t)))] = true
	}
	return &Manager{
		client:    client,
		enabled:   enabled,
		logger:    logger.With(slog.String("component", "accounts")),
		snapshots: make(map[string]domain.AccountSnapshot),
	}
}

// Discover lists accounts, drops disabled types, and loads the
// snapshots of the rest concurrently. It returns domain.ErrNoAccounts
// when nothing tradable remains.
func (m *Manager) Discover(ctx context.Context) error {
	refs, err := m.client.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("accounts: discover: %w", err)
	}

	tradable := make([]broker.AccountRef, 0, len(refs))
	for _, ref := range refs {
		if !m.enabled[ref.Type] {
			m.logger.Debug("skipping disabled account type",
				slog.String("account_id", ref.AccountID),
				slog.String("type", string(ref.Type)))
			continue
		}
		tradable = append(tradable, ref)
	}
	if len(tradable) == 0 {
		return domain.ErrNoAccounts
	}

	loaded := make([]domain.AccountSnapshot, len(tradable))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ref := range tradable {
		i, ref := i, ref
		g.Go(func() error {
			snap, err := m.client.AccountSnapshot(gctx, ref.AccountID)
			if err != nil {
				return fmt.Errorf("accounts: load snapshot %s: %w", ref.AccountID, err)
			}
			loaded[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	m.snapshots = make(map[string]domain.AccountSnapshot, len(loaded))
	for _, snap := range loaded {
		m.snapshots[snap.AccountID] = snap
	}
	m.mu.Unlock()

	m.logger.Info("accounts discovered",
		slog.Int("total", len(refs)),
		slog.Int("tradable", len(loaded)))
	return nil
}

// Refresh reloads one account's snapshot from the broker and returns
// the new state.
func (m *Manager) Refresh(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	snap, err := m.client.AccountSnapshot(ctx, accountID)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("accounts: refresh %s: %w", accountID, err)
	}
	m.mu.Lock()
	m.snapshots[accountID] = snap
	m.mu.Unlock()
	return snap, nil
}

// Get returns the current snapshot for accountID.
func (m *Manager) Get(accountID string) (domain.AccountSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[accountID]
	return snap, ok
}

// Snapshots returns all current snapshots ordered by account ID, so
// iteration order is deterministic run to run.
func (m *Manager) Snapshots() []domain.AccountSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AccountSnapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
