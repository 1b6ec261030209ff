package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client)

	release, ok, err := locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(lockKeyPrefix+"daily_sweep"))

	_, ok, err = locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other jobs are independent.
	_, ok, err = locker.Acquire(ctx, "monthly_credit_reset", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(lockKeyPrefix+"daily_sweep"))

	_, ok, err = locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client)

	release, ok, err := locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Our lock expired and another instance took it over.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set(lockKeyPrefix+"daily_sweep", "other-token"))

	require.NoError(t, release(ctx))
	got, err := mr.Get(lockKeyPrefix + "daily_sweep")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestRedisLocker_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	_, ok, err := NewRedisLocker(client).Acquire(context.Background(), "daily_sweep", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "failed to acquire lock daily_sweep")
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }

	release, ok, err := locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = locker.Acquire(ctx, "daily_sweep", time.Minute)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	release2, ok, _ := locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.True(t, ok)

	// An expired lock can be taken, and the stale holder's release is a no-op.
	now = now.Add(2 * time.Minute)
	_, ok, _ = locker.Acquire(ctx, "daily_sweep", time.Minute)
	require.True(t, ok)
	require.NoError(t, release2(ctx))
	_, ok, _ = locker.Acquire(ctx, "daily_sweep", time.Minute)
	assert.False(t, ok)
}
