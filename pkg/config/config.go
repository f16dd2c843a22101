package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/meridian/pkg/maintainer"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// PostgreSQL configuration
	Storage storage.Config

	// Redis configuration
	Redis RedisConfig

	// Permission cache configuration
	Cache CacheConfig

	// Cache maintainer configuration
	Maintainer MaintainerConfig

	// Schema registry configuration
	Schema SchemaConfig

	// Observability configuration
	Observability ObservabilityConfig
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
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// CacheConfig holds permission cache tier configuration
type CacheConfig struct {
	L1Size int
	TTL    time.Duration
}

// MaintainerConfig holds cache maintainer and sweep configuration
type MaintainerConfig struct {
	Workers       int
	QueueSize     int
	BatchSize     int
	MaxAttempts   int
	JobTimeout    time.Duration
	SweepSchedule string
	StaleAfter    time.Duration
}

// SchemaConfig holds schema registry configuration
type SchemaConfig struct {
	Path  string
	Watch bool
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
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Maintainer:    loadMaintainerConfig(),
		Schema:        loadSchemaConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MaintainerOptions converts the maintainer configuration into worker
// pool options.
func (c *Config) MaintainerOptions() maintainer.Options {
	return maintainer.Options{
		Workers:     c.Maintainer.Workers,
		QueueSize:   c.Maintainer.QueueSize,
		BatchSize:   c.Maintainer.BatchSize,
		MaxAttempts: c.Maintainer.MaxAttempts,
		JobTimeout:  c.Maintainer.JobTimeout,
	}
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MERIDIAN_HOST", "0.0.0.0"),
		Port:            getEnv("MERIDIAN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MERIDIAN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MERIDIAN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MERIDIAN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MERIDIAN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("MERIDIAN_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads PostgreSQL configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.URL = getEnv("MERIDIAN_POSTGRES_URL", "")
	if maxConns := getEnvInt("MERIDIAN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("MERIDIAN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("MERIDIAN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if lifetime := getEnvDuration("MERIDIAN_POSTGRES_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.MaxLifetime = lifetime
	}
	if idle := getEnvDuration("MERIDIAN_POSTGRES_MAX_IDLE_TIME", 0); idle > 0 {
		cfg.MaxIdleTime = idle
	}

	return cfg
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("MERIDIAN_REDIS_URL", "localhost:6379"),
		Password:   getEnv("MERIDIAN_REDIS_PASSWORD", ""),
		DB:         getEnvInt("MERIDIAN_REDIS_DB", 0),
		MaxRetries: getEnvInt("MERIDIAN_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("MERIDIAN_REDIS_POOL_SIZE", 10),
	}
}

// loadCacheConfig loads permission cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		L1Size: getEnvInt("MERIDIAN_L1_CACHE_SIZE", 4096),
		TTL:    getEnvDuration("MERIDIAN_CACHE_TTL", 10*time.Minute),
	}
}

// loadMaintainerConfig loads maintainer configuration from environment
func loadMaintainerConfig() MaintainerConfig {
	defaults := maintainer.DefaultOptions()
	return MaintainerConfig{
		Workers:       getEnvInt("MERIDIAN_MAINTAINER_WORKERS", defaults.Workers),
		QueueSize:     getEnvInt("MERIDIAN_MAINTAINER_QUEUE_SIZE", defaults.QueueSize),
		BatchSize:     getEnvInt("MERIDIAN_MAINTAINER_BATCH_SIZE", defaults.BatchSize),
		MaxAttempts:   getEnvInt("MERIDIAN_MAINTAINER_MAX_ATTEMPTS", defaults.MaxAttempts),
		JobTimeout:    getEnvDuration("MERIDIAN_MAINTAINER_JOB_TIMEOUT", defaults.JobTimeout),
		SweepSchedule: getEnv("MERIDIAN_SWEEP_SCHEDULE", "@hourly"),
		StaleAfter:    getEnvDuration("MERIDIAN_STALE_AFTER", 24*time.Hour),
	}
}

// loadSchemaConfig loads schema registry configuration from environment
func loadSchemaConfig() SchemaConfig {
	return SchemaConfig{
		Path:  getEnv("MERIDIAN_SCHEMA_PATH", "schema.yaml"),
		Watch: getEnvBool("MERIDIAN_SCHEMA_WATCH", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("MERIDIAN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MERIDIAN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MERIDIAN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MERIDIAN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MERIDIAN_OTEL_SERVICE_NAME", "meridian"),
		OTelServiceVersion: getEnv("MERIDIAN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MERIDIAN_OTEL_INSECURE", true),
	}
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

	if c.Storage.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Cache.L1Size <= 0 {
		return fmt.Errorf("L1 cache size must be positive")
	}

	if c.Maintainer.Workers <= 0 {
		return fmt.Errorf("maintainer workers must be positive")
	}
	if c.Maintainer.QueueSize <= 0 {
		return fmt.Errorf("maintainer queue size must be positive")
	}
	if c.Maintainer.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}

	if c.Schema.Path == "" {
		return fmt.Errorf("schema path is required")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
