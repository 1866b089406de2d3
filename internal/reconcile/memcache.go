package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// MemoryCache is a process-local domain.TradesCache with per-entry TTL.
// It is the fallback when no Redis cache is configured. Expired entries
// are dropped lazily on read; entries are never invalidated early, even
// after the pipeline executes a trade, because the broker needs time to
// surface new fills anyway.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	trades   []domain.NormalizedTrade
	storedAt time.Time
}

var _ domain.TradesCache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache. ttl <= 0 falls back to
// DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memEntry),
	}
}

// Get returns the cached trades for accountID, or domain.ErrNotFound on
// a miss or expired entry.
func (c *MemoryCache) Get(_ context.Context, accountID string) ([]domain.NormalizedTrade, error) {
	c.mu.RLock()
	e, ok := c.entries[accountID]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return nil, domain.ErrNotFound
	}
	return e.trades, nil
}

// Set stores the trades for accountID, restarting its TTL.
func (c *MemoryCache) Set(_ context.Context, accountID string, trades []domain.NormalizedTrade) error {
	c.mu.Lock()
	c.entries[accountID] = memEntry{trades: trades, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}
