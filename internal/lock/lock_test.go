package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sahelpay-go/internal/config"
)

const isolatedLockTestRedisDB = 13

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()

	client := NewClient(config.Redis{
		Addr: config.GetEnv("REDIS_ADDR", "localhost:6379"),
		DB:   isolatedLockTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}

	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestRedisLocker_SingleHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLocker(newTestClient(t))

	first, err := locker.Acquire(ctx, "poll:pay_1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := locker.Acquire(ctx, "poll:pay_1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	other, err := locker.Acquire(ctx, "poll:pay_2", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, other)

	require.NoError(t, first.Release(ctx))

	third, err := locker.Acquire(ctx, "poll:pay_1", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestLease_ReleaseAfterExpiry(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLocker(newTestClient(t))

	lease, err := locker.Acquire(ctx, "poll:pay_3", 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lease)

	time.Sleep(100 * time.Millisecond)
	taken, err := locker.Acquire(ctx, "poll:pay_3", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, taken)

	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)
	assert.NoError(t, taken.Release(ctx))
}
