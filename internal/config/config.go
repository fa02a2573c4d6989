// Package config defines the top-level configuration for the LP hedger and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LPHEDGER_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Venue    VenueConfig    `toml:"venue"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Driver   DriverConfig   `toml:"driver"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the agent wallet credentials used to sign exchange
// actions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the EVM RPC endpoints and Uniswap V3 contract addresses.
type ChainConfig struct {
	RPCEndpoints    []string `toml:"rpc_endpoints"`
	PositionManager string   `toml:"position_manager"`
}

// VenueConfig holds the perp venue API parameters.
type VenueConfig struct {
	BaseURL string `toml:"base_url"`
	Mainnet bool   `toml:"mainnet"`
	// Slippage is the price buffer applied to IoC orders, e.g. 0.01 for 1%.
	Slippage float64  `toml:"slippage"`
	Timeout  duration `toml:"timeout"`
	// InitialEquityUSD seeds the simulated venue in paper mode.
	InitialEquityUSD float64 `toml:"initial_equity_usd"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the rebalance
// history archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the engine-wide rebalancing parameters.
type EngineConfig struct {
	RebalanceInterval duration `toml:"rebalance_interval"`
	Cooldown          duration `toml:"cooldown"`
	HedgeRatioFloor   float64  `toml:"hedge_ratio_floor"`
	FundingCutoff     float64  `toml:"funding_cutoff"`

	MinNotionalUSD   float64 `toml:"min_notional_usd"`
	MaxNotionalUSD   float64 `toml:"max_notional_usd"`
	DuplicateEpsilon float64 `toml:"duplicate_epsilon"`

	MaxDailyRebalances  int `toml:"max_daily_rebalances"`
	MaxHourlyRebalances int `toml:"max_hourly_rebalances"`

	PriceSanityFloor float64 `toml:"price_sanity_floor"`
	TakerFeeRate     float64 `toml:"taker_fee_rate"`
	HistoryLimit     int     `toml:"history_limit"`
	AuditRetries     int     `toml:"audit_retries"`
}

// DriverConfig holds the polling and retention loop parameters.
type DriverConfig struct {
	PollInterval    duration `toml:"poll_interval"`
	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCEndpoints:    []string{"https://eth.llamarpc.com"},
			PositionManager: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
		},
		Venue: VenueConfig{
			BaseURL:          "https://api.hyperliquid.xyz",
			Mainnet:          true,
			Slippage:         0.01,
			Timeout:          duration{10 * time.Second},
			InitialEquityUSD: 100_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lphedger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "lphedger-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			RebalanceInterval:   duration{time.Hour},
			Cooldown:            duration{time.Hour},
			HedgeRatioFloor:     0.90,
			FundingCutoff:       -0.0001,
			MinNotionalUSD:      10,
			MaxNotionalUSD:      250_000,
			DuplicateEpsilon:    1e-4,
			MaxDailyRebalances:  24,
			MaxHourlyRebalances: 6,
			PriceSanityFloor:    0.01,
			TakerFeeRate:        0.00045,
			HistoryLimit:        50,
			AuditRetries:        3,
		},
		Driver: DriverConfig{
			PollInterval:    duration{time.Minute},
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"emergency", "forced_close", "activation", "deactivation"},
		},
		Mode:     "hedge",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "hedge" trades
// live, "paper" runs the full loop against the simulated venue, "monitor"
// reads and reports without touching the venue.
var validModes = map[string]bool{
	"hedge":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: hedge, paper, monitor)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet credentials are only needed when orders are actually signed.
	if strings.ToLower(c.Mode) == "hedge" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode hedge")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if len(c.Chain.RPCEndpoints) == 0 {
		errs = append(errs, "chain: at least one rpc endpoint is required")
	}
	if c.Chain.PositionManager == "" {
		errs = append(errs, "chain: position_manager must not be empty")
	}

	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must not be empty")
	}
	if c.Venue.Slippage < 0 || c.Venue.Slippage > 0.1 {
		errs = append(errs, fmt.Sprintf("venue: slippage must be in [0, 0.1], got %v", c.Venue.Slippage))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Engine.MinNotionalUSD < 0 {
		errs = append(errs, "engine: min_notional_usd must be >= 0")
	}
	if c.Engine.MaxNotionalUSD > 0 && c.Engine.MaxNotionalUSD < c.Engine.MinNotionalUSD {
		errs = append(errs, "engine: max_notional_usd must not be below min_notional_usd")
	}
	if c.Engine.TakerFeeRate < 0 || c.Engine.TakerFeeRate > 0.01 {
		errs = append(errs, fmt.Sprintf("engine: taker_fee_rate must be in [0, 0.01], got %v", c.Engine.TakerFeeRate))
	}

	if c.Driver.PollInterval.Duration < 0 {
		errs = append(errs, "driver: poll_interval must not be negative")
	}
	if c.Driver.RetentionDays < 0 {
		errs = append(errs, "driver: retention_days must not be negative")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
