package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisPoolSize = 3
	cfg.RedisMaxRetries = 5

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 3, client.Options().PoolSize)
	assert.Equal(t, 5, client.Options().MaxRetries)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestNewRedisClient_SelectsDB(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/1"
	cfg.RedisDB = 2

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 2, client.Options().DB)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "not-a-url"

	client, err := NewRedisClient(context.Background(), cfg)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + addr
	cfg.RedisMaxRetries = 1

	client, err := NewRedisClient(context.Background(), cfg)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
