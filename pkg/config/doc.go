// Package config loads creditgate configuration from environment variables.
//
// # Overview
//
// LoadConfig reads every CREDITGATE_* variable, applies defaults and runs
// Validate. Both binaries share it.
//
// # Configuration Structure
//
// Server settings:
//
//	CREDITGATE_HOST="0.0.0.0"
//	CREDITGATE_PORT="8080"
//	CREDITGATE_HEALTH_PORT="9090"
//	CREDITGATE_RATE_LIMIT_PER_MINUTE="600"  # 0 disables
//	CREDITGATE_IDEMPOTENCY_TTL="24h"        # 0 disables
//
// Storage settings:
//
//	CREDITGATE_STORAGE_TYPE="postgres"  # postgres, memory
//	CREDITGATE_POSTGRES_URL="postgres://localhost/creditgate"
//	CREDITGATE_POSTGRES_REPLICA_URLS="postgres://replica1/creditgate"
//	CREDITGATE_REDIS_URL="redis://localhost:6379"
//
// Scheduler settings:
//
//	CREDITGATE_SCHEDULE_DAILY="0 0 * * *"
//	CREDITGATE_SCHEDULE_MONTHLY="0 0 1 * *"
//	CREDITGATE_SCHEDULER_EMBEDDED="false"
//	CREDITGATE_STALE_CONSUMPTION_AFTER="15m"
//
// Catalog and notifications:
//
//	CREDITGATE_CATALOG_PATH="/etc/creditgate/catalog.yaml"
//	CREDITGATE_WEBHOOK_URLS="https://hooks.example.com/billing"
//	CREDITGATE_WEBHOOK_SECRET="..."
//
// Audit archive (requires postgres):
//
//	CREDITGATE_ARCHIVE_BUCKET="creditgate-audit"
//	CREDITGATE_ARCHIVE_REGION="us-east-1"
//
// Observability settings:
//
//	CREDITGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	CREDITGATE_METRICS_ENABLED="true"
//	CREDITGATE_OTEL_ENABLED="true"
//	CREDITGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	a, err := app.Build(ctx, cfg, logger, metrics)
package config
