package accounts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

type fakeBroker struct {
	broker.Client

	refs    []broker.AccountRef
	refsErr error

	mu        sync.Mutex
	snapshots map[string]domain.AccountSnapshot
	snapErr   map[string]error
	loads     int
}

func (f *fakeBroker) Accounts(context.Context) ([]broker.AccountRef, error) {
	return f.refs, f.refsErr
}

func (f *fakeBroker) AccountSnapshot(_ context.Context, accountID string) (domain.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if err := f.snapErr[accountID]; err != nil {
		return domain.AccountSnapshot{}, err
	}
	return f.snapshots[accountID], nil
}

func newManager(fb *fakeBroker, types ...string) *Manager {
	return NewManager(fb, types, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDiscover_FiltersDisabledTypes(t *testing.T) {
	fb := &fakeBroker{
		refs: []broker.AccountRef{
			{AccountID: "cash-1", Type: domain.AccountCash},
			{AccountID: "margin-1", Type: domain.AccountMargin},
			{AccountID: "ira-1", Type: domain.AccountIRA},
		},
		snapshots: map[string]domain.AccountSnapshot{
			"cash-1":   {AccountID: "cash-1", AccountType: domain.AccountCash, SettledFunds: 100},
			"margin-1": {AccountID: "margin-1", AccountType: domain.AccountMargin, SettledFunds: 200},
		},
	}
	m := newManager(fb, "cash", "MARGIN")

	require.NoError(t, m.Discover(context.Background()))

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "cash-1", snaps[0].AccountID)
	assert.Equal(t, "margin-1", snaps[1].AccountID)

	_, ok := m.Get("ira-1")
	assert.False(t, ok)
}

func TestDiscover_NoTradableAccounts(t *testing.T) {
	fb := &fakeBroker{
		refs: []broker.AccountRef{{AccountID: "ira-1", Type: domain.AccountIRA}},
	}
	m := newManager(fb, "CASH")

	err := m.Discover(context.Background())
	require.ErrorIs(t, err, domain.ErrNoAccounts)
}

func TestDiscover_SnapshotLoadFailure(t *testing.T) {
	fb := &fakeBroker{
		refs: []broker.AccountRef{
			{AccountID: "cash-1", Type: domain.AccountCash},
			{AccountID: "cash-2", Type: domain.AccountCash},
		},
		snapshots: map[string]domain.AccountSnapshot{
			"cash-1": {AccountID: "cash-1"},
		},
		snapErr: map[string]error{"cash-2": errors.New("boom")},
	}
	m := newManager(fb, "CASH")

	err := m.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cash-2")
}

func TestRefresh_ReplacesSnapshot(t *testing.T) {
	fb := &fakeBroker{
		refs: []broker.AccountRef{{AccountID: "cash-1", Type: domain.AccountCash}},
		snapshots: map[string]domain.AccountSnapshot{
			"cash-1": {AccountID: "cash-1", SettledFunds: 100},
		},
	}
	m := newManager(fb, "CASH")
	require.NoError(t, m.Discover(context.Background()))

	fb.mu.Lock()
	fb.snapshots["cash-1"] = domain.AccountSnapshot{AccountID: "cash-1", SettledFunds: 55}
	fb.mu.Unlock()

	snap, err := m.Refresh(context.Background(), "cash-1")
	require.NoError(t, err)
	assert.Equal(t, 55.0, snap.SettledFunds)

	got, ok := m.Get("cash-1")
	require.True(t, ok)
	assert.Equal(t, 55.0, got.SettledFunds)
}
