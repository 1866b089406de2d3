package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwhitfield/tradepilot/internal/accounts"
	s3blob "github.com/mwhitfield/tradepilot/internal/blob/s3"
	"github.com/mwhitfield/tradepilot/internal/broker"
	"github.com/mwhitfield/tradepilot/internal/broker/webull"
	rediscache "github.com/mwhitfield/tradepilot/internal/cache/redis"
	"github.com/mwhitfield/tradepilot/internal/config"
	"github.com/mwhitfield/tradepilot/internal/domain"
	"github.com/mwhitfield/tradepilot/internal/executor"
	"github.com/mwhitfield/tradepilot/internal/notify"
	"github.com/mwhitfield/tradepilot/internal/pipeline"
	"github.com/mwhitfield/tradepilot/internal/reconcile"
	"github.com/mwhitfield/tradepilot/internal/rules"
	"github.com/mwhitfield/tradepilot/internal/sizing"
	"github.com/mwhitfield/tradepilot/internal/store/postgres"
	"github.com/mwhitfield/tradepilot/internal/tradelog"
)

// Dependencies bundles every wired component handed to the operating
// modes. History stores are nil when postgres is not configured.
type Dependencies struct {
	Broker    broker.Client
	Accounts  *accounts.Manager
	Validator *rules.Validator
	Sizer     *sizing.Sizer
	Executor  *executor.Executor
	TradeLog  *tradelog.Log
	Notifier  pipeline.Notifier

	TradeHistory    *postgres.TradeHistoryStore
	PositionHistory *postgres.PositionHistoryStore
}

// Wire builds the full dependency graph from cfg. Optional backends
// (redis, postgres, s3, notification channels) are only constructed
// when their configuration sections are populated. The returned cleanup
// function closes every opened connection in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	client := webull.NewClient(cfg.Broker.BaseURL, cfg.Broker.TradeURL, webull.Credentials{
		Username:   cfg.Broker.Username,
		Password:   cfg.Broker.Password,
		TradingPIN: cfg.Broker.TradingPIN,
		DeviceID:   cfg.Broker.DeviceID,
	}, cfg.Broker.RequestTimeout.Duration)

	mgr := accounts.NewManager(client, cfg.Broker.EnabledAccountTypes, logger)

	// Trade cache: redis when configured, in-process otherwise.
	var cache domain.TradesCache = reconcile.NewMemoryCache(reconcile.DefaultCacheTTL)
	if cfg.Redis.Enabled() {
		rc, err := rediscache.NewTradesCache(ctx, rediscache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			TTL:        reconcile.DefaultCacheTTL,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		cache = rc
		logger.InfoContext(ctx, "trade cache backed by redis", slog.String("addr", cfg.Redis.Addr))
	}

	// Trade log archiver: s3 when configured.
	var archiver domain.TradeArchiver
	if cfg.S3.Enabled() {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire s3: %w", err)
		}
		healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = sc.Health(healthCtx)
		cancel()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire s3 health check: %w", err)
		}
		archiver = s3blob.NewArchiver(sc)
		logger.InfoContext(ctx, "trade archival enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	tradeLog := tradelog.New(cfg.TradeLog.Path, cfg.TradeLog.RetentionDays, archiver, logger)

	// The reconciler overlays the local log on the broker's records, so
	// a fill executed seconds ago already counts in day-trade checks.
	reconciler := reconcile.New(client, cache, tradeLog, logger)
	validator := rules.New(cfg.Rules, cfg.Sizing, reconciler, logger)
	sizer := sizing.New(cfg.Rules, cfg.Sizing, logger)
	exec := executor.New(client, cfg.Executor, logger)

	deps := &Dependencies{
		Broker:    client,
		Accounts:  mgr,
		Validator: validator,
		Sizer:     sizer,
		Executor:  exec,
		TradeLog:  tradeLog,
		Notifier:  buildNotifier(cfg.Notify, logger),
	}

	if cfg.Postgres.Enabled() {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire postgres migrations: %w", err)
			}
		}

		deps.TradeHistory = postgres.NewTradeHistoryStore(pg.Pool())
		deps.PositionHistory = postgres.NewPositionHistoryStore(pg.Pool())
		logger.InfoContext(ctx, "history sync enabled")
	}

	return deps, cleanup, nil
}

// buildNotifier constructs the notifier from whichever channels are
// configured. Returns nil when none are, which the pipeline treats as
// notifications disabled.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) pipeline.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.New(senders, cfg.Events, logger)
}
