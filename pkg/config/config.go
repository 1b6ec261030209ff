package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/scheduler"
	"github.com/platinummonkey/creditgate/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Background jobs
	Scheduler SchedulerConfig

	// Monthly audit export to S3
	Archive audit.ArchiveConfig

	// Feature and plan tables
	Catalog CatalogConfig

	// Lifecycle notifications
	Notify NotifyConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Per-caller request limit; zero disables rate limiting
	RateLimitPerMinute int
	RateLimitBurst     int

	// Replay window for POSTs carrying an Idempotency-Key; zero disables it
	IdempotencyTTL       time.Duration
	IdempotencyCacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// SchedulerConfig controls the background jobs. Embedded runs the cron
// inside the API process instead of the standalone scheduler binary.
type SchedulerConfig struct {
	Embedded bool
	Jobs     scheduler.Config
}

// CatalogConfig points at an optional YAML catalog. An empty path means the
// built-in tables; Watch reloads the file when it changes.
type CatalogConfig struct {
	Path  string
	Watch bool
}

// NotifyConfig selects notification sinks
type NotifyConfig struct {
	// OutboxKey is the Redis list lifecycle notifications are pushed to.
	// Ignored when Redis is not configured.
	OutboxKey string

	// WebhookURLs is a comma-separated list of endpoints that receive
	// every lifecycle notification, signed with WebhookSecret.
	WebhookURLs    string
	WebhookSecret  string
	WebhookTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Scheduler:     loadSchedulerConfig(),
		Archive:       loadArchiveConfig(),
		Catalog: CatalogConfig{
			Path:  getEnv("CREDITGATE_CATALOG_PATH", ""),
			Watch: getEnvBool("CREDITGATE_CATALOG_WATCH", true),
		},
		Notify: NotifyConfig{
			OutboxKey:      getEnv("CREDITGATE_NOTIFY_OUTBOX_KEY", "creditgate:notifications"),
			WebhookURLs:    getEnv("CREDITGATE_WEBHOOK_URLS", ""),
			WebhookSecret:  getEnv("CREDITGATE_WEBHOOK_SECRET", ""),
			WebhookTimeout: getEnvDuration("CREDITGATE_WEBHOOK_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CREDITGATE_HOST", "0.0.0.0"),
		Port:            getEnv("CREDITGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CREDITGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CREDITGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CREDITGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CREDITGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CREDITGATE_HEALTH_PORT", "9090"),

		RateLimitPerMinute:   getEnvInt("CREDITGATE_RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:       getEnvInt("CREDITGATE_RATE_LIMIT_BURST", 50),
		IdempotencyTTL:       getEnvDuration("CREDITGATE_IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyCacheSize: getEnvInt("CREDITGATE_IDEMPOTENCY_CACHE_SIZE", 10000),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("CREDITGATE_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = strings.ToLower(storageType)
	}

	// PostgreSQL config
	if pgURL := getEnv("CREDITGATE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("CREDITGATE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("CREDITGATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("CREDITGATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("CREDITGATE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("CREDITGATE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("CREDITGATE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("CREDITGATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("CREDITGATE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("CREDITGATE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("CREDITGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CREDITGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CREDITGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CREDITGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CREDITGATE_OTEL_SERVICE_NAME", "creditgate"),
		OTelServiceVersion: getEnv("CREDITGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CREDITGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CREDITGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// loadSchedulerConfig loads background job settings from environment
func loadSchedulerConfig() SchedulerConfig {
	jobs := scheduler.DefaultConfig()
	jobs.DailySchedule = getEnv("CREDITGATE_SCHEDULE_DAILY", jobs.DailySchedule)
	jobs.MonthlySchedule = getEnv("CREDITGATE_SCHEDULE_MONTHLY", jobs.MonthlySchedule)
	jobs.ArchiveSchedule = getEnv("CREDITGATE_SCHEDULE_ARCHIVE", jobs.ArchiveSchedule)
	jobs.Concurrency = getEnvInt("CREDITGATE_SCHEDULER_CONCURRENCY", jobs.Concurrency)
	jobs.StaleAfter = getEnvDuration("CREDITGATE_STALE_CONSUMPTION_AFTER", jobs.StaleAfter)
	jobs.StaleBatchSize = getEnvInt("CREDITGATE_STALE_BATCH_SIZE", jobs.StaleBatchSize)
	jobs.LockTTL = getEnvDuration("CREDITGATE_SCHEDULER_LOCK_TTL", jobs.LockTTL)

	return SchedulerConfig{
		Embedded: getEnvBool("CREDITGATE_SCHEDULER_EMBEDDED", false),
		Jobs:     jobs,
	}
}

// loadArchiveConfig loads the audit archive bucket settings from environment
func loadArchiveConfig() audit.ArchiveConfig {
	return audit.ArchiveConfig{
		Bucket:       getEnv("CREDITGATE_ARCHIVE_BUCKET", ""),
		Prefix:       getEnv("CREDITGATE_ARCHIVE_PREFIX", "audit"),
		Region:       getEnv("CREDITGATE_ARCHIVE_REGION", "us-east-1"),
		Endpoint:     getEnv("CREDITGATE_ARCHIVE_ENDPOINT", ""),
		AccessKey:    getEnv("CREDITGATE_ARCHIVE_ACCESS_KEY", ""),
		SecretKey:    getEnv("CREDITGATE_ARCHIVE_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("CREDITGATE_ARCHIVE_USE_PATH_STYLE", false),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}

	// Validate scheduler config
	if c.Scheduler.Jobs.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be at least 1")
	}
	if c.Scheduler.Jobs.StaleAfter <= 0 {
		return fmt.Errorf("stale consumption age must be positive")
	}

	if c.Server.RateLimitPerMinute < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Server.IdempotencyTTL > 0 && c.Server.IdempotencyCacheSize <= 0 {
		return fmt.Errorf("idempotency cache size must be positive")
	}

	if c.Notify.WebhookURLs != "" && c.Notify.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive")
	}

	// The archive reads events back from the audit table
	if c.Archive.Enabled() && c.Storage.Type != "postgres" {
		return fmt.Errorf("audit archive requires postgres storage")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the tracing settings in the form observability.InitOTel takes
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
