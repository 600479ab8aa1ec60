package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/redactor/constants"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a client and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStatusCache stores batch statuses under batch:status:<id>.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStatusCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStatusCache{client: client, ttl: ttl, logger: logger}
}

func statusKey(batchID uuid.UUID) string {
	return "batch:status:" + batchID.String()
}

func (c *RedisStatusCache) GetStatus(ctx context.Context, batchID uuid.UUID) (constants.BatchStatus, bool, error) {
	v, err := c.client.Get(ctx, statusKey(batchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		c.logger.Warn("cache.status.get_failed", "batch_id", batchID, "error", err)
		return "", false, err
	}
	s := constants.BatchStatus(v)
	if !s.Valid() {
		return "", false, nil
	}
	return s, true, nil
}

func (c *RedisStatusCache) SetStatus(ctx context.Context, batchID uuid.UUID, status constants.BatchStatus) error {
	if err := c.client.Set(ctx, statusKey(batchID), string(status), c.ttl).Err(); err != nil {
		c.logger.Warn("cache.status.set_failed", "batch_id", batchID, "status", status, "error", err)
		return fmt.Errorf("failed to set batch status in Redis: %w", err)
	}
	return nil
}

func (c *RedisStatusCache) Delete(ctx context.Context, batchID uuid.UUID) error {
	if err := c.client.Del(ctx, statusKey(batchID)).Err(); err != nil {
		return fmt.Errorf("failed to delete batch status in Redis: %w", err)
	}
	return nil
}
