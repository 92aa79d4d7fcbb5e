package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/marginpool/internal/blob/s3"
	"github.com/alanyoungcy/marginpool/internal/cache/redis"
	"github.com/alanyoungcy/marginpool/internal/config"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/notify"
	"github.com/alanyoungcy/marginpool/internal/server/handler"
	"github.com/alanyoungcy/marginpool/internal/store/postgres"
)

// LeaseHolder is a LockManager that can keep a lease alive in the
// background.
type LeaseHolder interface {
	domain.LockManager
	Hold(ctx context.Context, key string, ttl time.Duration) error
}

// Dependencies bundles the infrastructure the ledger runs on. Every backend
// is optional; a nil field means the feature it serves is off.
type Dependencies struct {
	// Metrics
	Registry *prometheus.Registry
	Metrics  *engine.Metrics

	// Postgres
	EventStore *postgres.EventStore
	AuditStore domain.AuditStore

	// Redis
	LockManager LeaseHolder
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	Publisher   domain.EventSink

	// Blob storage
	Snapshots domain.SnapshotStore
	Archiver  domain.Archiver

	// Notifications; nil when no channel is configured.
	Notifier *notify.Notifier

	// HealthChecks probes every wired backend for /api/health.
	HealthChecks map[string]handler.HealthCheckFunc
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps := &Dependencies{
		Registry:     registry,
		Metrics:      engine.NewMetrics(registry),
		HealthChecks: make(map[string]handler.HealthCheckFunc),
	}

	// --- PostgreSQL event log ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnTimeout.Duration,
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
		deps.EventStore = postgres.NewEventStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis writer lease, event bus and rate limiters ---
	var notifyLimiter domain.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.Publisher = redis.NewEventPublisher(bus, cfg.Redis.EventChannel, cfg.Redis.EventStream)
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		}
		if cfg.Notify.RateLimit > 0 {
			notifyLimiter = redis.NewRateLimiter(redisClient, cfg.Notify.RateLimit, cfg.Notify.RateWindow.Duration)
		}
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 snapshots and event archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		store := s3blob.NewStore(s3Client)
		deps.Snapshots = s3blob.NewSnapshotStore(store)
		// Archiving prunes the event log, so it needs Postgres.
		if deps.EventStore != nil && cfg.S3.ArchiveAfter.Duration > 0 {
			deps.Archiver = s3blob.NewEventArchiver(store, deps.EventStore, deps.AuditStore)
		}
		deps.HealthChecks["s3"] = s3Client.Health
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
	if len(senders) > 0 {
		var opts []notify.Option
		if notifyLimiter != nil {
			opts = append(opts, notify.WithLimiter(notifyLimiter))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger, opts...)
	}

	return deps, cleanup, nil
}
