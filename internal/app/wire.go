package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/lphedger/internal/blob/s3"
	"github.com/alanyoungcy/lphedger/internal/cache/redis"
	"github.com/alanyoungcy/lphedger/internal/chain"
	"github.com/alanyoungcy/lphedger/internal/config"
	"github.com/alanyoungcy/lphedger/internal/crypto"
	"github.com/alanyoungcy/lphedger/internal/domain"
	"github.com/alanyoungcy/lphedger/internal/engine"
	"github.com/alanyoungcy/lphedger/internal/notify"
	"github.com/alanyoungcy/lphedger/internal/store/postgres"
	"github.com/alanyoungcy/lphedger/internal/venue"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Persistence
	PositionStore  domain.PositionStateStore
	RebalanceStore domain.RebalanceAuditStore

	// Caches and messaging
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob archive (nil unless s3.enabled)
	Archiver   *s3blob.Archiver
	BlobReader domain.BlobReader

	// External surfaces
	LPReader engine.LPReader
	Venue    engine.Venue
	Notifier *notify.Notifier

	// Raw clients kept for health probes.
	PG    *postgres.Client
	Redis *redis.Client
	S3    *s3blob.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PG = pgClient
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.RebalanceStore = postgres.NewRebalanceStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.RebalanceStore,
			logger,
		)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Chain reader ---
	lpReader, err := chain.NewUniswapReader(chain.Config{
		RPCEndpoints:    cfg.Chain.RPCEndpoints,
		PositionManager: cfg.Chain.PositionManager,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain reader: %w", err)
	}
	deps.LPReader = lpReader

	// --- Hedge venue ---
	hedgeVenue, err := buildVenue(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: venue: %w", err)
	}
	deps.Venue = hedgeVenue

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildVenue selects the venue adapter by mode: hedge mode signs real orders
// against the exchange, paper and monitor modes run against the in-process
// simulator so no live orders are ever placed.
func buildVenue(cfg *config.Config) (engine.Venue, error) {
	if strings.ToLower(cfg.Mode) != "hedge" {
		return venue.NewSimulator(cfg.Venue.InitialEquityUSD, cfg.Engine.TakerFeeRate), nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	return venue.NewHyperliquid(venue.Config{
		BaseURL:  cfg.Venue.BaseURL,
		Mainnet:  cfg.Venue.Mainnet,
		Slippage: cfg.Venue.Slippage,
		Timeout:  cfg.Venue.Timeout.Duration,
	}, signer), nil
}
