package storage

import (
	"fmt"
	"time"
)

// Endpoint store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Delivery queue backends
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config selects and tunes the endpoint store and the delivery queue
type Config struct {
	// StoreType is "memory", "postgres" or "sqlite"
	StoreType string `yaml:"storeType"`
	// QueueType is "memory" or "redis"
	QueueType string `yaml:"queueType"`

	// PostgreSQL config
	PostgresURL      string        `yaml:"postgresURL"`
	PostgresMaxConns int           `yaml:"postgresMaxConns"`
	PostgresMinConns int           `yaml:"postgresMinConns"`
	PostgresTimeout  time.Duration `yaml:"postgresTimeout"`

	// SQLite config
	SQLitePath string `yaml:"sqlitePath"`

	// Redis config
	RedisURL        string `yaml:"redisURL"`
	RedisPassword   string `yaml:"redisPassword"`
	RedisDB         int    `yaml:"redisDB"`
	RedisMaxRetries int    `yaml:"redisMaxRetries"`
	RedisPoolSize   int    `yaml:"redisPoolSize"`
	// RedisQueueKey is the list holding pending delivery attempts
	RedisQueueKey string `yaml:"redisQueueKey"`
}

// DefaultConfig returns an all in-memory configuration
func DefaultConfig() Config {
	return Config{
		StoreType:        StoreMemory,
		QueueType:        QueueMemory,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		SQLitePath:       "herald.db",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		RedisQueueKey:    "herald:deliveries",
	}
}

// Validate checks that the selected backends are fully configured
func (c Config) Validate() error {
	switch c.StoreType {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, postgres, or sqlite)", c.StoreType)
	}

	switch c.QueueType {
	case QueueMemory:
	case QueueRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis queue")
		}
		if c.RedisQueueKey == "" {
			return fmt.Errorf("redis queue key is required for redis queue")
		}
	default:
		return fmt.Errorf("invalid queue type: %s (must be memory or redis)", c.QueueType)
	}
	return nil
}
