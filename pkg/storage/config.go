package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
// Services translate it into the matching business error code.
var ErrNotFound = errors.New("not found")

// Config for storage backends
type Config struct {
	Type string // "postgres" or "memory"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma-separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config (scheduler lock, notification outbox)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "postgres",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  30 * time.Second,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
