// Package config defines the top-level configuration for tradepilot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by TRADEPILOT_* environment
// variables. The Rules, Sizing and Executor sections form the immutable
// settings object handed to the pipeline at construction time.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Rules    RulesConfig    `toml:"rules"`
	Sizing   SizingConfig   `toml:"sizing"`
	Executor ExecutorConfig `toml:"executor"`
	TradeLog TradeLogConfig `toml:"trade_log"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds broker API endpoints and session parameters.
type BrokerConfig struct {
	BaseURL  string `toml:"base_url"`
	TradeURL string `toml:"trade_url"`
	// Credentials are normally injected via TRADEPILOT_BROKER_*
	// environment variables rather than committed to the TOML file.
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	TradingPIN     string   `toml:"trading_pin"`
	DeviceID       string   `toml:"device_id"`
	RequestTimeout duration `toml:"request_timeout"`
	// EnabledAccountTypes lists the account types the pipeline may trade
	// on (e.g. ["CASH", "MARGIN"]). Discovery still reports the rest.
	EnabledAccountTypes []string `toml:"enabled_account_types"`
	TradingStart        string   `toml:"trading_start"` // "HH:MM" local
	TradingEnd          string   `toml:"trading_end"`
}

// RulesConfig holds the personal trading rules the validator enforces.
type RulesConfig struct {
	AllowShortSelling bool     `toml:"allow_short_selling"`
	AllowDayTrading   bool     `toml:"allow_day_trading"`
	MinConfidence     float64  `toml:"min_confidence"`
	BuyAndHoldSymbols []string `toml:"buy_and_hold_symbols"`
	MaxPositionPct    float64  `toml:"max_position_pct"` // fraction of equity per position
	MinPositionValue  float64  `toml:"min_position_value"`
	MaxPositionsTotal int      `toml:"max_positions_total"`
}

// SizingConfig holds position-sizing buffers, minimums and the
// strategy-specific adjustment parameters.
type SizingConfig struct {
	MinFractionalOrder float64 `toml:"min_fractional_order"`
	// BufferFactor discounts available funds before a fractional order to
	// absorb price movement between sizing and execution. Must be < 1.
	BufferFactor float64 `toml:"buffer_factor"`

	MomentumBonus       float64 `toml:"momentum_bonus"`        // e.g. 1.10
	PolicyReduction     float64 `toml:"policy_reduction"`      // e.g. 0.90
	ValueBonus          float64 `toml:"value_bonus"`           // e.g. 1.10
	GapMinSize          float64 `toml:"gap_min_size"`          // gap fraction, e.g. 0.02
	GapLargeSize        float64 `toml:"gap_large_size"`        // e.g. 0.05
	MaxSectorAllocation float64 `toml:"max_sector_allocation"` // fraction of equity
	MaxIntlAllocation   float64 `toml:"max_intl_allocation"`   // fraction of equity
	ConcentrationFactor float64 `toml:"concentration_factor"`  // fallback trim, e.g. 0.95
}

// ExecutorConfig holds order submission parameters and the retry policy.
type ExecutorConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BaseDelay     duration `toml:"base_delay"`     // linear backoff: base * attempt
	PacingDelay   duration `toml:"pacing_delay"`   // pause between executed trades
	OrderType     string   `toml:"order_type"`     // "LMT" or "MKT"
	ExtendedHours bool     `toml:"extended_hours"`
}

// TradeLogConfig holds the local trade-log parameters.
type TradeLogConfig struct {
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// PostgresConfig holds connection parameters for the trade/position
// history database. Leave DSN and Host empty to disable the sync.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether the history sync is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// RedisConfig holds Redis connection parameters for the reconciler's
// trade cache. Leave Addr empty to use the in-memory cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Enabled reports whether the Redis cache is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// S3Config holds object-storage parameters for trade-log archival.
// Leave Bucket empty to disable archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether archival is configured.
func (s S3Config) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings
// like "10s" or "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the system was
// tuned for. These match config.example.toml.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL:             "https://userapi.webull.com/api",
			TradeURL:            "https://tradeapi.webullbroker.com/api/trade",
			RequestTimeout:      duration{30 * time.Second},
			EnabledAccountTypes: []string{"CASH"},
			TradingStart:        "09:35",
			TradingEnd:          "15:45",
		},
		Rules: RulesConfig{
			AllowShortSelling: false,
			AllowDayTrading:   false,
			MinConfidence:     0.6,
			BuyAndHoldSymbols: []string{},
			MaxPositionPct:    0.5,
			MinPositionValue:  1.0,
			MaxPositionsTotal: 8,
		},
		Sizing: SizingConfig{
			MinFractionalOrder:  5.0,
			BufferFactor:        0.9,
			MomentumBonus:       1.10,
			PolicyReduction:     0.90,
			ValueBonus:          1.10,
			GapMinSize:          0.02,
			GapLargeSize:        0.05,
			MaxSectorAllocation: 0.20,
			MaxIntlAllocation:   0.30,
			ConcentrationFactor: 0.95,
		},
		Executor: ExecutorConfig{
			MaxAttempts:   3,
			BaseDelay:     duration{10 * time.Second},
			PacingDelay:   duration{5 * time.Second},
			OrderType:     "LMT",
			ExtendedHours: false,
		},
		TradeLog: TradeLogConfig{
			Path:          "trades.jsonl",
			RetentionDays: 30,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "run_summary"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"dryrun": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOrderTypes = map[string]bool{
	"LMT": true,
	"MKT": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, dryrun)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if c.Broker.BaseURL == "" {
		errs = append(errs, "broker: base_url must not be empty")
	}
	if c.Broker.TradeURL == "" {
		errs = append(errs, "broker: trade_url must not be empty")
	}
	if len(c.Broker.EnabledAccountTypes) == 0 {
		errs = append(errs, "broker: at least one enabled account type is required")
	}
	for _, w := range []string{c.Broker.TradingStart, c.Broker.TradingEnd} {
		if _, err := time.Parse("15:04", w); err != nil {
			errs = append(errs, fmt.Sprintf("broker: trading window %q is not HH:MM", w))
		}
	}

	// Rules
	if c.Rules.MinConfidence < 0 || c.Rules.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("rules: min_confidence must be in [0,1], got %v", c.Rules.MinConfidence))
	}
	if c.Rules.MaxPositionPct <= 0 || c.Rules.MaxPositionPct > 1 {
		errs = append(errs, fmt.Sprintf("rules: max_position_pct must be in (0,1], got %v", c.Rules.MaxPositionPct))
	}
	if c.Rules.MinPositionValue <= 0 {
		errs = append(errs, "rules: min_position_value must be > 0")
	}
	if c.Rules.MaxPositionsTotal < 1 {
		errs = append(errs, "rules: max_positions_total must be >= 1")
	}

	// Sizing
	if c.Sizing.MinFractionalOrder <= 0 {
		errs = append(errs, "sizing: min_fractional_order must be > 0")
	}
	if c.Sizing.BufferFactor <= 0 || c.Sizing.BufferFactor >= 1 {
		errs = append(errs, fmt.Sprintf("sizing: buffer_factor must be in (0,1), got %v", c.Sizing.BufferFactor))
	}
	if c.Sizing.GapMinSize < 0 || c.Sizing.GapLargeSize < c.Sizing.GapMinSize {
		errs = append(errs, "sizing: gap thresholds must satisfy 0 <= gap_min_size <= gap_large_size")
	}

	// Executor
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, "executor: max_attempts must be >= 1")
	}
	if c.Executor.BaseDelay.Duration < 0 {
		errs = append(errs, "executor: base_delay must not be negative")
	}
	if !validOrderTypes[c.Executor.OrderType] {
		errs = append(errs, fmt.Sprintf("executor: order_type must be LMT or MKT, got %q", c.Executor.OrderType))
	}

	// Trade log
	if c.TradeLog.Path == "" {
		errs = append(errs, "trade_log: path must not be empty")
	}
	if c.TradeLog.RetentionDays < 1 {
		errs = append(errs, "trade_log: retention_days must be >= 1")
	}

	// Postgres (only when enabled)
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty (or set postgres.dsn)")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis (only when enabled)
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 (only when enabled)
	if c.S3.Enabled() && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
