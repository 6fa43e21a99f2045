package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/backoff"
	"github.com/MrSnakeDoc/marksync/internal/config"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/redis/go-redis/v9"
)

// connectionLogger handles all Redis connection logging.
type connectionLogger struct {
	logger        logger.Logger
	addr          string
	warnThreshold int
}

func (cl *connectionLogger) logConnectionStart(timeout time.Duration) {
	cl.logger.Info("connecting to redis",
		logger.String("addr", cl.addr),
		logger.Duration("timeout", timeout))
}

func (cl *connectionLogger) logSuccess(attempts int, elapsed time.Duration) {
	if attempts > 1 {
		cl.logger.Warn("connected to redis after retry",
			logger.String("addr", cl.addr),
			logger.Int("attempts", attempts),
			logger.Duration("elapsed", elapsed))
		return
	}
	cl.logger.Info("connected to redis", logger.String("addr", cl.addr))
}

func (cl *connectionLogger) logRetry(a backoff.Attempt, remaining time.Duration) {
	switch {
	case remaining < 10*time.Second:
		cl.logger.Error("redis still down - retrying but timeout approaching",
			logger.String("addr", cl.addr),
			logger.Int("attempt", a.Number),
			logger.Duration("remaining", remaining),
			logger.Duration("next_retry_in", a.NextRetry),
			logger.Error(a.Err))
	case a.Number <= cl.warnThreshold:
		cl.logger.Warn("redis connection failed, retrying",
			logger.String("addr", cl.addr),
			logger.Int("attempt", a.Number),
			logger.Duration("next_retry_in", a.NextRetry),
			logger.Error(a.Err))
	default:
		cl.logger.Error("redis still unavailable - connection attempts failing",
			logger.String("addr", cl.addr),
			logger.Int("attempt", a.Number),
			logger.Duration("next_retry_in", a.NextRetry),
			logger.Error(a.Err))
	}
}

func validateOptions(cfg config.RedisConfig) error {
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("ConnectTimeout must be > 0, got %v", cfg.ConnectTimeout)
	}
	if cfg.PingTimeout <= 0 {
		return fmt.Errorf("PingTimeout must be > 0, got %v", cfg.PingTimeout)
	}
	if cfg.WarnThreshold < 0 {
		return fmt.Errorf("WarnThreshold must be >= 0, got %d", cfg.WarnThreshold)
	}
	return backoff.Policy{Initial: cfg.RetryInterval, Max: cfg.MaxWait}.Validate()
}

// New creates a Redis client and pings it with exponential backoff until
// ConnectTimeout is reached. The client is closed on failure.
func New(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if err := validateOptions(cfg); err != nil {
		log.Error("invalid redis options", logger.Error(err))
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := connectWithRetry(ctx, client, cfg, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func connectWithRetry(ctx context.Context, client *redis.Client, cfg config.RedisConfig, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	cl := &connectionLogger{logger: log, addr: cfg.Addr, warnThreshold: cfg.WarnThreshold}
	cl.logConnectionStart(cfg.ConnectTimeout)
	start := time.Now()

	ping := func(ctx context.Context) error {
		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer pingCancel()
		return client.Ping(pingCtx).Err()
	}

	attempts, err := backoff.Retry(ctx, backoff.Policy{Initial: cfg.RetryInterval, Max: cfg.MaxWait}, ping,
		func(a backoff.Attempt) { cl.logRetry(a, timeLeft(ctx)) })
	if err != nil {
		log.Error("redis unavailable - failed to connect after timeout",
			logger.String("addr", cfg.Addr),
			logger.Int("attempts", attempts),
			logger.Duration("timeout", cfg.ConnectTimeout),
			logger.Error(err))
		return fmt.Errorf("redis unavailable at %s (timeout: %v): %w", cfg.Addr, cfg.ConnectTimeout, err)
	}

	cl.logSuccess(attempts, time.Since(start))
	return nil
}

// timeLeft returns the remaining time before context deadline.
func timeLeft(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
