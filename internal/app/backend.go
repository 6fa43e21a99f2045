package app

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/marksync/internal/auth"
	"github.com/MrSnakeDoc/marksync/internal/backoff"
	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/config"
	"github.com/MrSnakeDoc/marksync/internal/feed"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/redis"
	pgstore "github.com/MrSnakeDoc/marksync/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/marksync/internal/store/redis"
	"github.com/MrSnakeDoc/marksync/internal/utils"
)

// backend bundles the adapters of the configured backing store.
type backend struct {
	name      string
	repo      bookmarks.Repository
	transport feed.Transport
	tokens    auth.TokenStore // nil when the backend does not persist sessions
	ping      func(ctx context.Context) error
	close     func()
}

func openBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return openRedis(ctx, cfg, log)
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*backend, error) {
	// Initialize Redis early - fail fast if unavailable
	log.Infof("Connecting to Redis at %s", cfg.Redis.Addr)
	client, err := redis.New(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("Redis initialized successfully")

	return &backend{
		name:      config.BackendRedis,
		repo:      redisstore.NewRepository(client),
		transport: redisstore.NewTransport(client, cfg.Redis.FeedHealthInterval, log),
		tokens:    redisstore.NewTokenStore(client),
		ping:      func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close:     func() { utils.CloseLogged(log, "redis", client) },
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, log logger.Logger) (*backend, error) {
	if cfg.Postgres.MigrateOnStart {
		if err := pgstore.Migrate(ctx, cfg.Postgres.DSN, log.Named("migrate")); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	log.Info("Connecting to Postgres")
	pool, err := pgstore.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info("Postgres initialized successfully",
		logger.Int("max_conns", int(cfg.Postgres.MaxConns)))

	retry := backoff.Policy{Initial: cfg.Sync.ResubscribeBackoff, Max: cfg.Sync.ResubscribeMax}

	return &backend{
		name:      config.BackendPostgres,
		repo:      pgstore.NewRepository(pool),
		transport: pgstore.NewTransport(pool, retry, log),
		ping:      pool.Ping,
		close: func() {
			pool.Close()
			log.Info("✅ Postgres pool closed")
		},
	}, nil
}
