package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/herald/pkg/observability"
	"github.com/platinummonkey/herald/pkg/storage"
)

// EnvConfigFile names an optional YAML file applied before environment overrides
const EnvConfigFile = "HERALD_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"healthPort"`
}

// DeliveryConfig tunes the delivery processor and the result log
type DeliveryConfig struct {
	TickInterval      time.Duration `yaml:"tickInterval"`
	BatchSize         int           `yaml:"batchSize"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
	DisableThreshold  int           `yaml:"disableThreshold"`
	ResultLogSize     int           `yaml:"resultLogSize"`
	ResultLogTTL      time.Duration `yaml:"resultLogTTL"`
	// KeepQueueOnClose leaves queued attempts in a durable queue at shutdown
	KeepQueueOnClose bool `yaml:"keepQueueOnClose"`
	// StatsInterval is the cron spec for the periodic stats refresh
	StatsInterval string `yaml:"statsInterval"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"logLevel"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otelEnabled"`
	OTelEndpoint       string  `yaml:"otelEndpoint"`
	OTelServiceName    string  `yaml:"otelServiceName"`
	OTelServiceVersion string  `yaml:"otelServiceVersion"`
	OTelInsecure       bool    `yaml:"otelInsecure"`
	OTelSampleRatio    float64 `yaml:"otelSampleRatio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Delivery: DeliveryConfig{
			TickInterval:      1 * time.Second,
			BatchSize:         10,
			Timeout:           30 * time.Second,
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2.0,
			DisableThreshold:  10,
			ResultLogSize:     1000,
			ResultLogTTL:      24 * time.Hour,
			StatsInterval:     "@every 30s",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "herald",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by HERALD_CONFIG_FILE and HERALD_* environment variables, in that order.
func LoadConfig() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigFile))
}

// LoadFile is LoadConfig with an explicit YAML path; an empty path skips the file
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyServerEnv(&cfg.Server)
	applyStorageEnv(&cfg.Storage)
	applyDeliveryEnv(&cfg.Delivery)
	applyObservabilityEnv(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyServerEnv(s *ServerConfig) {
	s.Host = getEnv("HERALD_HOST", s.Host)
	s.Port = getEnv("HERALD_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("HERALD_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("HERALD_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("HERALD_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("HERALD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("HERALD_HEALTH_PORT", s.HealthPort)
}

func applyStorageEnv(s *storage.Config) {
	s.StoreType = getEnv("HERALD_STORE_TYPE", s.StoreType)
	s.QueueType = getEnv("HERALD_QUEUE_TYPE", s.QueueType)

	s.PostgresURL = getEnv("HERALD_POSTGRES_URL", s.PostgresURL)
	s.PostgresMaxConns = getEnvInt("HERALD_POSTGRES_MAX_CONNS", s.PostgresMaxConns)
	s.PostgresMinConns = getEnvInt("HERALD_POSTGRES_MIN_CONNS", s.PostgresMinConns)
	s.PostgresTimeout = getEnvDuration("HERALD_POSTGRES_TIMEOUT", s.PostgresTimeout)

	s.SQLitePath = getEnv("HERALD_SQLITE_PATH", s.SQLitePath)

	s.RedisURL = getEnv("HERALD_REDIS_URL", s.RedisURL)
	s.RedisPassword = getEnv("HERALD_REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = getEnvInt("HERALD_REDIS_DB", s.RedisDB)
	s.RedisMaxRetries = getEnvInt("HERALD_REDIS_MAX_RETRIES", s.RedisMaxRetries)
	s.RedisPoolSize = getEnvInt("HERALD_REDIS_POOL_SIZE", s.RedisPoolSize)
	s.RedisQueueKey = getEnv("HERALD_REDIS_QUEUE_KEY", s.RedisQueueKey)
}

func applyDeliveryEnv(d *DeliveryConfig) {
	d.TickInterval = getEnvDuration("HERALD_TICK_INTERVAL", d.TickInterval)
	d.BatchSize = getEnvInt("HERALD_BATCH_SIZE", d.BatchSize)
	d.Timeout = getEnvDuration("HERALD_DELIVERY_TIMEOUT", d.Timeout)
	d.MaxAttempts = getEnvInt("HERALD_MAX_ATTEMPTS", d.MaxAttempts)
	d.InitialBackoff = getEnvDuration("HERALD_INITIAL_BACKOFF", d.InitialBackoff)
	d.MaxBackoff = getEnvDuration("HERALD_MAX_BACKOFF", d.MaxBackoff)
	d.BackoffMultiplier = getEnvFloat("HERALD_BACKOFF_MULTIPLIER", d.BackoffMultiplier)
	d.DisableThreshold = getEnvInt("HERALD_DISABLE_THRESHOLD", d.DisableThreshold)
	d.ResultLogSize = getEnvInt("HERALD_RESULT_LOG_SIZE", d.ResultLogSize)
	d.ResultLogTTL = getEnvDuration("HERALD_RESULT_LOG_TTL", d.ResultLogTTL)
	d.KeepQueueOnClose = getEnvBool("HERALD_KEEP_QUEUE_ON_CLOSE", d.KeepQueueOnClose)
	d.StatsInterval = getEnv("HERALD_STATS_INTERVAL", d.StatsInterval)
}

func applyObservabilityEnv(o *ObservabilityConfig) {
	o.LogLevel = getEnv("HERALD_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("HERALD_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("HERALD_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("HERALD_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("HERALD_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("HERALD_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("HERALD_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("HERALD_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	d := c.Delivery
	if d.TickInterval <= 0 {
		return fmt.Errorf("delivery tick interval must be positive")
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("delivery batch size must be positive")
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive")
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if d.InitialBackoff <= 0 || d.MaxBackoff < d.InitialBackoff {
		return fmt.Errorf("backoff must satisfy 0 < initial <= max")
	}
	if d.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1")
	}
	if d.DisableThreshold < 1 {
		return fmt.Errorf("disable threshold must be at least 1")
	}
	if d.ResultLogSize < 1 {
		return fmt.Errorf("result log size must be at least 1")
	}

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
