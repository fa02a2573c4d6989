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
// built-in defaults, applies LPHEDGER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known LPHEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LPHEDGER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LPHEDGER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LPHEDGER_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStringSlice(&cfg.Chain.RPCEndpoints, "LPHEDGER_CHAIN_RPC_ENDPOINTS")
	setStr(&cfg.Chain.PositionManager, "LPHEDGER_CHAIN_POSITION_MANAGER")

	// ── Venue ──
	setStr(&cfg.Venue.BaseURL, "LPHEDGER_VENUE_BASE_URL")
	setBool(&cfg.Venue.Mainnet, "LPHEDGER_VENUE_MAINNET")
	setFloat64(&cfg.Venue.Slippage, "LPHEDGER_VENUE_SLIPPAGE")
	setDuration(&cfg.Venue.Timeout, "LPHEDGER_VENUE_TIMEOUT")
	setFloat64(&cfg.Venue.InitialEquityUSD, "LPHEDGER_VENUE_INITIAL_EQUITY_USD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LPHEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LPHEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LPHEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LPHEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LPHEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LPHEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LPHEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LPHEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LPHEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LPHEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LPHEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LPHEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LPHEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LPHEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LPHEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LPHEDGER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LPHEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LPHEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LPHEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "LPHEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LPHEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LPHEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LPHEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LPHEDGER_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.RebalanceInterval, "LPHEDGER_ENGINE_REBALANCE_INTERVAL")
	setDuration(&cfg.Engine.Cooldown, "LPHEDGER_ENGINE_COOLDOWN")
	setFloat64(&cfg.Engine.HedgeRatioFloor, "LPHEDGER_ENGINE_HEDGE_RATIO_FLOOR")
	setFloat64(&cfg.Engine.FundingCutoff, "LPHEDGER_ENGINE_FUNDING_CUTOFF")
	setFloat64(&cfg.Engine.MinNotionalUSD, "LPHEDGER_ENGINE_MIN_NOTIONAL_USD")
	setFloat64(&cfg.Engine.MaxNotionalUSD, "LPHEDGER_ENGINE_MAX_NOTIONAL_USD")
	setInt(&cfg.Engine.MaxDailyRebalances, "LPHEDGER_ENGINE_MAX_DAILY_REBALANCES")
	setInt(&cfg.Engine.MaxHourlyRebalances, "LPHEDGER_ENGINE_MAX_HOURLY_REBALANCES")
	setFloat64(&cfg.Engine.TakerFeeRate, "LPHEDGER_ENGINE_TAKER_FEE_RATE")

	// ── Driver ──
	setDuration(&cfg.Driver.PollInterval, "LPHEDGER_DRIVER_POLL_INTERVAL")
	setDuration(&cfg.Driver.ArchiveInterval, "LPHEDGER_DRIVER_ARCHIVE_INTERVAL")
	setInt(&cfg.Driver.RetentionDays, "LPHEDGER_DRIVER_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LPHEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LPHEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LPHEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LPHEDGER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LPHEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LPHEDGER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LPHEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LPHEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LPHEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LPHEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LPHEDGER_MODE")
	setStr(&cfg.LogLevel, "LPHEDGER_LOG_LEVEL")
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
