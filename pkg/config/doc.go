// Package config provides application configuration from environment variables
// and an optional YAML file.
//
// # Overview
//
// Defaults are applied first, then the YAML file named by HERALD_CONFIG_FILE,
// then HERALD_* environment variables. The result is validated before use.
//
// # Configuration Structure
//
// Server settings:
//
//	HERALD_HOST="0.0.0.0"
//	HERALD_PORT="8080"
//	HERALD_HEALTH_PORT="9090"
//	HERALD_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	HERALD_STORE_TYPE="postgres"  # memory, postgres, sqlite
//	HERALD_POSTGRES_URL="postgres://localhost/herald?sslmode=disable"
//	HERALD_SQLITE_PATH="herald.db"
//	HERALD_QUEUE_TYPE="redis"     # memory, redis
//	HERALD_REDIS_URL="redis://localhost:6379/0"
//
// Delivery settings:
//
//	HERALD_TICK_INTERVAL="1s"
//	HERALD_BATCH_SIZE="10"
//	HERALD_DELIVERY_TIMEOUT="30s"
//	HERALD_MAX_ATTEMPTS="3"
//	HERALD_INITIAL_BACKOFF="1s"
//	HERALD_DISABLE_THRESHOLD="10"
//
// Observability settings:
//
//	HERALD_LOG_LEVEL="info"  # debug, info, warn, error
//	HERALD_METRICS_ENABLED="true"
//	HERALD_OTEL_ENABLED="true"
//	HERALD_OTEL_ENDPOINT="otel-collector:4317"
//
// # YAML File
//
//	delivery:
//	  batchSize: 20
//	  disableThreshold: 5
//	observability:
//	  logLevel: debug
//
// # Reloading
//
//	w, err := config.Watch(path, logger, func(cfg *config.Config) {
//		logger.SetLevel(cfg.Observability.Level())
//	})
//	defer w.Close()
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
