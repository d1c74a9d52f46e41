package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/dbontempi/arbot/internal/blob/s3"
	"github.com/dbontempi/arbot/internal/cache/redis"
	"github.com/dbontempi/arbot/internal/config"
	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/notify"
	"github.com/dbontempi/arbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. Optional subsystems stay nil when their backend is disabled; modes
// and the engine degrade around them.
type Dependencies struct {
	// Stores (nil without Postgres)
	Relationships domain.RelationshipStore
	Transactions  domain.TransactionStore
	Cycles        domain.CycleStore
	Audit         domain.AuditStore

	// Caches and coordination (nil without Redis)
	MarketCache       domain.MarketCache
	RelationshipCache domain.RelationshipCache
	RateLimiter       domain.RateLimiter
	Locks             domain.LockManager
	Bus               domain.SignalBus

	// Cold storage (archive mode)
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode cannot run without a database.
func needsPostgres(mode string) bool {
	return mode == "archive"
}

// needsS3 reports whether the mode cannot run without object storage.
func needsS3(mode string) bool {
	return mode == "archive"
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to call on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.App.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled || needsPostgres(mode) {
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
		deps.Relationships = postgres.NewRelationshipStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.Cycles = postgres.NewCycleStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RelationshipCache = redis.NewRelationshipCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled || needsS3(mode) {
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

		// The archiver drains Postgres rows, so it exists only when both
		// backends are wired. Archive mode forces both.
		if deps.Transactions != nil && deps.Cycles != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
				Writer:       s3blob.NewWriter(s3Client),
				Reader:       s3blob.NewReader(s3Client),
				Transactions: deps.Transactions,
				Cycles:       deps.Cycles,
				Audit:        deps.Audit,
				Logger:       logger,
			})
		}
	}

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
