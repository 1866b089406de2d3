// Package redis backs the reconciler's shared trade cache with
// go-redis/v9: one JSON value per account, expired server-side so every
// process sharing the cache sees the same freshness window.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// DefaultTTL is the freshness window applied when Config.TTL is zero.
const DefaultTTL = 5 * time.Minute

// Config holds connection parameters and the cache TTL.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	TTL        time.Duration
}

// TradesCache implements domain.TradesCache over its own Redis
// connection. Sharing it across processes keeps the reconciler's
// broker-API call volume bounded even when several runs overlap.
//
// Key schema:
//
//	trades:today:{accountID} - JSON array of normalized trades
type TradesCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.TradesCache = (*TradesCache)(nil)

// NewTradesCache dials Redis, verifies connectivity, and returns the
// cache. The caller owns the connection and must Close it.
func NewTradesCache(ctx context.Context, cfg Config) (*TradesCache, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TradesCache{rdb: rdb, ttl: ttl}, nil
}

func tradesKey(accountID string) string { return "trades:today:" + accountID }

// Set stores the account's reconciled trades, restarting the TTL.
func (tc *TradesCache) Set(ctx context.Context, accountID string, trades []domain.NormalizedTrade) error {
	data, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("redis: marshal trades for %s: %w", accountID, err)
	}
	if err := tc.rdb.Set(ctx, tradesKey(accountID), data, tc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set trades for %s: %w", accountID, err)
	}
	return nil
}

// Get retrieves the account's cached trades. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (tc *TradesCache) Get(ctx context.Context, accountID string) ([]domain.NormalizedTrade, error) {
	data, err := tc.rdb.Get(ctx, tradesKey(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get trades for %s: %w", accountID, err)
	}

	var trades []domain.NormalizedTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("redis: unmarshal trades for %s: %w", accountID, err)
	}
	return trades, nil
}

// Close releases the underlying connection pool.
func (tc *TradesCache) Close() error {
	return tc.rdb.Close()
}
