package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/domain"
)

type fakeBroker struct {
	broker.Client

	orders        []broker.Order
	ordersErr     error
	orderCalls    int
	activities    []broker.Activity
	activitiesErr error
	activityCalls int
}

func (f *fakeBroker) OrderHistory(_ context.Context, _, _ string, _ int) ([]broker.Order, error) {
	f.orderCalls++
	return f.orders, f.ordersErr
}

func (f *fakeBroker) Activities(_ context.Context, _ string, _, _ int) ([]broker.Activity, error) {
	f.activityCalls++
	return f.activities, f.activitiesErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLog is an in-memory domain.TradeLog double.
type memLog struct {
	records []domain.TradeRecord
	err     error
}

func (m *memLog) Append(_ context.Context, rec domain.TradeRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memLog) Today(context.Context) ([]domain.TradeRecord, error) {
	return m.records, m.err
}

func (m *memLog) TodayByAccount(_ context.Context, accountID string) ([]domain.TradeRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.TradeRecord
	for _, rec := range m.records {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newTestReconciler(fb *fakeBroker, now time.Time) *Reconciler {
	cache := NewMemoryCache(DefaultCacheTTL)
	cache.now = func() time.Time { return now }
	r := New(fb, cache, &memLog{}, discardLogger())
	r.now = func() time.Time { return now }
	return r
}

func TestTodayTrades_MergesAndDedupes(t *testing.T) {
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	yesterday := now.Add(-24 * time.Hour)

	fb := &fakeBroker{
		orders: []broker.Order{
			{Symbol: "AAPL", Action: domain.SignalBuy, Status: "Filled", Quantity: 5, AvgPrice: 190.00, FilledAt: now.Add(-time.Hour)},
			{Symbol: "MSFT", Action: domain.SignalBuy, Status: "Cancelled", Quantity: 2, AvgPrice: 410.00, FilledAt: now.Add(-time.Hour)},
			{Symbol: "OLD", Action: domain.SignalBuy, Status: "Filled", Quantity: 1, AvgPrice: 50.00, FilledAt: yesterday},
		},
		activities: []broker.Activity{
			// Same fill as the AAPL order, reported through the second channel.
			{Type: "trade", Symbol: "AAPL", Action: domain.SignalBuy, Quantity: 5.0005, Price: 190.005, Date: now.Add(-time.Hour)},
			{Type: "trade", Symbol: "TSLA", Action: domain.SignalSell, Quantity: 3, Price: 250.00, Date: now.Add(-30 * time.Minute)},
			{Type: "transfer", Symbol: "", Quantity: 0, Price: 0, Date: now},
			// Placeholder row, below the junk thresholds.
			{Type: "trade", Symbol: "JUNK", Action: domain.SignalBuy, Quantity: 0.0001, Price: 100, Date: now},
		},
	}

	r := newTestReconciler(fb, now)
	trades, err := r.TodayTrades(context.Background(), "acct-1")
	require.NoError(t, err)

	require.Len(t, trades, 2)
	assert.Equal(t, "AAPL", trades[0].Symbol)
	assert.Equal(t, domain.SourceOrderHistory, trades[0].Source)
	assert.Equal(t, "TSLA", trades[1].Symbol)
	assert.Equal(t, domain.SourceActivity, trades[1].Source)
}

func TestTodayTrades_ServesFromCache(t *testing.T) {
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	fb := &fakeBroker{
		orders: []broker.Order{
			{Symbol: "AAPL", Action: domain.SignalBuy, Status: "Filled", Quantity: 1, AvgPrice: 190.00, FilledAt: now},
		},
	}
	r := newTestReconciler(fb, now)

	_, err := r.TodayTrades(context.Background(), "acct-1")
	require.NoError(t, err)
	_, err = r.TodayTrades(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 1, fb.orderCalls, "second call should hit the cache")
	assert.Equal(t, 1, fb.activityCalls)
}

func TestTodayTrades_CacheExpiresByAge(t *testing.T) {
	start := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	now := start
	fb := &fakeBroker{}

	cache := NewMemoryCache(DefaultCacheTTL)
	cache.now = func() time.Time { return now }
	r := New(fb, cache, &memLog{}, discardLogger())
	r.now = func() time.Time { return now }

	_, err := r.TodayTrades(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, 1, fb.orderCalls)

	now = start.Add(DefaultCacheTTL + time.Second)
	_, err = r.TodayTrades(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fb.orderCalls, "expired entry should trigger a refetch")
}

func TestTodayTrades_OneChannelDown(t *testing.T) {
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	fb := &fakeBroker{
		ordersErr: errors.New("boom"),
		activities: []broker.Activity{
			{Type: "trade", Symbol: "TSLA", Action: domain.SignalSell, Quantity: 3, Price: 250.00, Date: now},
		},
	}
	r := newTestReconciler(fb, now)

	trades, err := r.TodayTrades(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "TSLA", trades[0].Symbol)
}

func TestTodayTrades_BothChannelsDown(t *testing.T) {
	fb := &fakeBroker{
		ordersErr:     errors.New("boom"),
		activitiesErr: errors.New("also boom"),
	}
	r := newTestReconciler(fb, time.Now())

	_, err := r.TodayTrades(context.Background(), "acct-1")
	require.Error(t, err)
}

func TestWouldCreateDayTrade(t *testing.T) {
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	fb := &fakeBroker{
		orders: []broker.Order{
			{Symbol: "AAPL", Action: domain.SignalBuy, Status: "Filled", Quantity: 5, AvgPrice: 190.00, FilledAt: now.Add(-time.Hour)},
			{Symbol: "TSLA", Action: domain.SignalSell, Status: "Filled", Quantity: 2, AvgPrice: 250.00, FilledAt: now.Add(-time.Hour)},
		},
	}
	r := newTestReconciler(fb, now)
	ctx := context.Background()

	// Selling a symbol bought today closes an intraday round trip.
	hit, reason, err := r.WouldCreateDayTrade(ctx, "a", domain.TradingSignal{Symbol: "AAPL", Type: domain.SignalSell})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Contains(t, reason, "AAPL")

	// Re-buying a symbol sold today also counts.
	hit, _, err = r.WouldCreateDayTrade(ctx, "a", domain.TradingSignal{Symbol: "TSLA", Type: domain.SignalBuy})
	require.NoError(t, err)
	assert.True(t, hit)

	// Unrelated symbol passes.
	hit, _, err = r.WouldCreateDayTrade(ctx, "a", domain.TradingSignal{Symbol: "NVDA", Type: domain.SignalSell})
	require.NoError(t, err)
	assert.False(t, hit)

	// Same direction as today's fill is not a round trip.
	hit, _, err = r.WouldCreateDayTrade(ctx, "a", domain.TradingSignal{Symbol: "AAPL", Type: domain.SignalBuy})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestWouldCreateDayTrade_SeesLocalLogBeforeBroker(t *testing.T) {
	// A fill executed moments ago lives only in the local trade log:
	// the broker channels report nothing and the cache may even hold a
	// still-fresh pre-fill view. The round trip must be caught anyway.
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	fb := &fakeBroker{}
	local := &memLog{records: []domain.TradeRecord{
		{AccountID: "a", Symbol: "XYZ", Action: domain.SignalBuy, Quantity: 4, Price: 25.00,
			Timestamp: now.Add(-time.Minute), Date: "2026-08-24"},
	}}

	cache := NewMemoryCache(DefaultCacheTTL)
	cache.now = func() time.Time { return now }
	require.NoError(t, cache.Set(context.Background(), "a", nil))

	r := New(fb, cache, local, discardLogger())
	r.now = func() time.Time { return now }

	hit, reason, err := r.WouldCreateDayTrade(context.Background(), "a",
		domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalSell})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Contains(t, reason, "XYZ")
	assert.Zero(t, fb.orderCalls, "cached view must still be consulted, not refetched")

	// Another account's local fills do not bleed over.
	require.NoError(t, cache.Set(context.Background(), "b", nil))
	hit, _, err = r.WouldCreateDayTrade(context.Background(), "b",
		domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalSell})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestWouldCreateDayTrade_LocalLogFailureIsError(t *testing.T) {
	now := time.Date(2026, 8, 24, 11, 0, 0, 0, time.Local)
	r := New(&fakeBroker{}, NewMemoryCache(DefaultCacheTTL), &memLog{err: errors.New("disk gone")}, discardLogger())
	r.now = func() time.Time { return now }

	_, _, err := r.WouldCreateDayTrade(context.Background(), "a",
		domain.TradingSignal{Symbol: "XYZ", Type: domain.SignalSell})
	require.Error(t, err)
}

func TestWouldCreateDayTrade_FetchFailureIsError(t *testing.T) {
	fb := &fakeBroker{
		ordersErr:     errors.New("down"),
		activitiesErr: errors.New("down"),
	}
	r := newTestReconciler(fb, time.Now())

	_, _, err := r.WouldCreateDayTrade(context.Background(), "a", domain.TradingSignal{Symbol: "AAPL", Type: domain.SignalSell})
	require.Error(t, err)
}
