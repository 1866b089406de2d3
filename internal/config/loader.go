package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEPILOT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEPILOT_* environment variables
// and overwrites the corresponding Config fields when a variable is set
// (i.e. not empty). This lets operators inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "TRADEPILOT_BROKER_BASE_URL")
	setStr(&cfg.Broker.TradeURL, "TRADEPILOT_BROKER_TRADE_URL")
	setStr(&cfg.Broker.Username, "TRADEPILOT_BROKER_USERNAME")
	setStr(&cfg.Broker.Password, "TRADEPILOT_BROKER_PASSWORD")
	setStr(&cfg.Broker.TradingPIN, "TRADEPILOT_BROKER_TRADING_PIN")
	setStr(&cfg.Broker.DeviceID, "TRADEPILOT_BROKER_DEVICE_ID")
	setDuration(&cfg.Broker.RequestTimeout, "TRADEPILOT_BROKER_REQUEST_TIMEOUT")
	setStringSlice(&cfg.Broker.EnabledAccountTypes, "TRADEPILOT_BROKER_ENABLED_ACCOUNT_TYPES")
	setStr(&cfg.Broker.TradingStart, "TRADEPILOT_BROKER_TRADING_START")
	setStr(&cfg.Broker.TradingEnd, "TRADEPILOT_BROKER_TRADING_END")

	// ── Rules ──
	setBool(&cfg.Rules.AllowShortSelling, "TRADEPILOT_RULES_ALLOW_SHORT_SELLING")
	setBool(&cfg.Rules.AllowDayTrading, "TRADEPILOT_RULES_ALLOW_DAY_TRADING")
	setFloat64(&cfg.Rules.MinConfidence, "TRADEPILOT_RULES_MIN_CONFIDENCE")
	setStringSlice(&cfg.Rules.BuyAndHoldSymbols, "TRADEPILOT_RULES_BUY_AND_HOLD_SYMBOLS")
	setFloat64(&cfg.Rules.MaxPositionPct, "TRADEPILOT_RULES_MAX_POSITION_PCT")
	setFloat64(&cfg.Rules.MinPositionValue, "TRADEPILOT_RULES_MIN_POSITION_VALUE")
	setInt(&cfg.Rules.MaxPositionsTotal, "TRADEPILOT_RULES_MAX_POSITIONS_TOTAL")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.MinFractionalOrder, "TRADEPILOT_SIZING_MIN_FRACTIONAL_ORDER")
	setFloat64(&cfg.Sizing.BufferFactor, "TRADEPILOT_SIZING_BUFFER_FACTOR")
	setFloat64(&cfg.Sizing.MomentumBonus, "TRADEPILOT_SIZING_MOMENTUM_BONUS")
	setFloat64(&cfg.Sizing.PolicyReduction, "TRADEPILOT_SIZING_POLICY_REDUCTION")
	setFloat64(&cfg.Sizing.ValueBonus, "TRADEPILOT_SIZING_VALUE_BONUS")
	setFloat64(&cfg.Sizing.GapMinSize, "TRADEPILOT_SIZING_GAP_MIN_SIZE")
	setFloat64(&cfg.Sizing.GapLargeSize, "TRADEPILOT_SIZING_GAP_LARGE_SIZE")
	setFloat64(&cfg.Sizing.MaxSectorAllocation, "TRADEPILOT_SIZING_MAX_SECTOR_ALLOCATION")
	setFloat64(&cfg.Sizing.MaxIntlAllocation, "TRADEPILOT_SIZING_MAX_INTL_ALLOCATION")
	setFloat64(&cfg.Sizing.ConcentrationFactor, "TRADEPILOT_SIZING_CONCENTRATION_FACTOR")

	// ── Executor ──
	setInt(&cfg.Executor.MaxAttempts, "TRADEPILOT_EXECUTOR_MAX_ATTEMPTS")
	setDuration(&cfg.Executor.BaseDelay, "TRADEPILOT_EXECUTOR_BASE_DELAY")
	setDuration(&cfg.Executor.PacingDelay, "TRADEPILOT_EXECUTOR_PACING_DELAY")
	setStr(&cfg.Executor.OrderType, "TRADEPILOT_EXECUTOR_ORDER_TYPE")
	setBool(&cfg.Executor.ExtendedHours, "TRADEPILOT_EXECUTOR_EXTENDED_HOURS")

	// ── Trade log ──
	setStr(&cfg.TradeLog.Path, "TRADEPILOT_TRADE_LOG_PATH")
	setInt(&cfg.TradeLog.RetentionDays, "TRADEPILOT_TRADE_LOG_RETENTION_DAYS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEPILOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEPILOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEPILOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEPILOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEPILOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEPILOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEPILOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEPILOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEPILOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEPILOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEPILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEPILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEPILOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEPILOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "TRADEPILOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEPILOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEPILOT_MODE")
	setStr(&cfg.LogLevel, "TRADEPILOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
