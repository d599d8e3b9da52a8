package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbd888/agentplatform/internal/retry"
)

// RedisCounter shares daily counters across server replicas.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps an existing client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// ConnectRedis parses a redis:// URL and pings the server, retrying while
// it starts up.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("quota: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	err = retry.Do(ctx, 5, 500*time.Millisecond, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("quota: connect redis: %w", err)
	}
	return client, nil
}

// Incr increments and refreshes the key's expiry in one transaction.
func (r *RedisCounter) Incr(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	key := Key(tenantID, day)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, dayTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("quota: incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *RedisCounter) Decr(ctx context.Context, tenantID string, day time.Time) error {
	key := Key(tenantID, day)
	if err := r.client.Decr(ctx, key).Err(); err != nil {
		return fmt.Errorf("quota: decr %s: %w", key, err)
	}
	return nil
}

func (r *RedisCounter) Get(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	n, err := r.client.Get(ctx, Key(tenantID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: get: %w", err)
	}
	return n, nil
}

// Ping reports whether Redis is reachable (health checks).
func (r *RedisCounter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
