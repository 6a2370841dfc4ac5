package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is a cooldown ledger backed by Redis, for deployments running
// more than one ingest process against the same camera. SET NX with a TTL
// gives the same atomic per-key check-and-set as MemoryLedger; expiry is
// handled by Redis.
type RedisLedger struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedisLedger connects to Redis and verifies the connection.
func NewRedisLedger(ctx context.Context, addr, password string, db int, window time.Duration) (*RedisLedger, error) {
	if window <= 0 {
		window = DefaultCooldown
	}

	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLedger{
		client: client,
		window: window,
		prefix: "cooldown:",
	}, nil
}

func (r *RedisLedger) Reserve(ctx context.Context, key string, now time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, now.UnixMilli(), r.window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown reserve: %w", err)
	}
	return ok, nil
}

func (r *RedisLedger) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cooldown release: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisLedger) Close() error { return r.client.Close() }
