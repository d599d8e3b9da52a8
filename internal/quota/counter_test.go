package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func newRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounter(client), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "quota:api_calls:t1:20260314", Key("t1", day.Add(23*time.Hour)))
}

func TestCounters(t *testing.T) {
	redisCounter, _ := newRedisCounter(t)
	counters := map[string]Counter{
		"memory": NewMemoryCounter(),
		"redis":  redisCounter,
	}

	for name, c := range counters {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := c.Get(ctx, "t1", day)
			require.NoError(t, err)
			assert.Zero(t, n)

			for i := 1; i <= 3; i++ {
				n, err = c.Incr(ctx, "t1", day)
				require.NoError(t, err)
				assert.Equal(t, int64(i), n)
			}
			require.NoError(t, c.Decr(ctx, "t1", day))

			n, err = c.Get(ctx, "t1", day)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			// Other tenants and other days are independent.
			n, _ = c.Get(ctx, "t2", day)
			assert.Zero(t, n)
			n, _ = c.Get(ctx, "t1", day.Add(24*time.Hour))
			assert.Zero(t, n)
		})
	}
}

func TestRedisCounter_SetsExpiry(t *testing.T) {
	c, mr := newRedisCounter(t)

	_, err := c.Incr(context.Background(), "t1", day)
	require.NoError(t, err)
	assert.Equal(t, dayTTL, mr.TTL(Key("t1", day)))

	mr.FastForward(dayTTL + time.Second)
	n, err := c.Get(context.Background(), "t1", day)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisCounter_Unavailable(t *testing.T) {
	c, mr := newRedisCounter(t)
	mr.Close()

	_, err := c.Incr(context.Background(), "t1", day)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestConnectRedis_BadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "http://localhost:6379")
	assert.ErrorContains(t, err, "parse redis url")
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	assert.NoError(t, NewRedisCounter(client).Ping(context.Background()))
}

func TestMemoryCounter_Prune(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()
	_, _ = c.Incr(ctx, "t1", day)
	_, _ = c.Incr(ctx, "t1", day.Add(72*time.Hour))

	assert.Equal(t, 1, c.Prune(day.Add(72*time.Hour)))
	n, _ := c.Get(ctx, "t1", day.Add(72*time.Hour))
	assert.Equal(t, int64(1), n)
}
