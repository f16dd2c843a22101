package config

import (
	"os"
	"testing"
	"time"

	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/storage"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true string", envValue: "true", want: true},
		{name: "TRUE string", envValue: "TRUE", want: true},
		{name: "one", envValue: "1", want: true},
		{name: "false string", envValue: "false", defaultValue: true, want: false},
		{name: "garbage is false", envValue: "yes please", defaultValue: true, want: false},
		{name: "unset uses default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			got := getEnvBool(key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{name: "valid integer", envValue: "42", defaultValue: 7, want: 42},
		{name: "invalid integer uses default", envValue: "not-a-number", defaultValue: 7, want: 7},
		{name: "unset uses default", envValue: "", defaultValue: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_INT_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			got := getEnvInt(key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		want         time.Duration
	}{
		{name: "valid duration", envValue: "30s", defaultValue: time.Minute, want: 30 * time.Second},
		{name: "invalid duration uses default", envValue: "soon", defaultValue: time.Minute, want: time.Minute},
		{name: "unset uses default", envValue: "", defaultValue: time.Minute, want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			got := getEnvDuration(key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLoadConfigDefaults verifies defaults when only required vars are set
func TestLoadConfigDefaults(t *testing.T) {
	os.Setenv("MERIDIAN_POSTGRES_URL", "postgres://localhost/meridian")
	defer os.Unsetenv("MERIDIAN_POSTGRES_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Server.HealthPort = %q, want 9090", cfg.Server.HealthPort)
	}
	if cfg.Redis.URL != "localhost:6379" {
		t.Errorf("Redis.URL = %q, want localhost:6379", cfg.Redis.URL)
	}
	if cfg.Cache.L1Size != 4096 {
		t.Errorf("Cache.L1Size = %d, want 4096", cfg.Cache.L1Size)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Cache.TTL = %v, want 10m", cfg.Cache.TTL)
	}
	if cfg.Maintainer.SweepSchedule != "@hourly" {
		t.Errorf("Maintainer.SweepSchedule = %q, want @hourly", cfg.Maintainer.SweepSchedule)
	}
	if cfg.Maintainer.StaleAfter != 24*time.Hour {
		t.Errorf("Maintainer.StaleAfter = %v, want 24h", cfg.Maintainer.StaleAfter)
	}
	if cfg.Schema.Path != "schema.yaml" {
		t.Errorf("Schema.Path = %q, want schema.yaml", cfg.Schema.Path)
	}
	if !cfg.Schema.Watch {
		t.Error("Schema.Watch = false, want true")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
	if cfg.Observability.OTelEnabled {
		t.Error("OTelEnabled = true, want false")
	}
}

// TestLoadConfigFromEnvironment verifies env vars override defaults
func TestLoadConfigFromEnvironment(t *testing.T) {
	vars := map[string]string{
		"MERIDIAN_POSTGRES_URL":           "postgres://db:5432/meridian",
		"MERIDIAN_POSTGRES_MAX_CONNS":     "50",
		"MERIDIAN_PORT":                   "8443",
		"MERIDIAN_REDIS_URL":              "redis:6379",
		"MERIDIAN_REDIS_DB":               "2",
		"MERIDIAN_L1_CACHE_SIZE":          "128",
		"MERIDIAN_MAINTAINER_WORKERS":     "8",
		"MERIDIAN_MAINTAINER_QUEUE_SIZE":  "2048",
		"MERIDIAN_SWEEP_SCHEDULE":         "@every 30m",
		"MERIDIAN_STALE_AFTER":            "6h",
		"MERIDIAN_SCHEMA_PATH":            "/etc/meridian/schema.yaml",
		"MERIDIAN_SCHEMA_WATCH":           "false",
		"MERIDIAN_LOG_LEVEL":              "debug",
		"MERIDIAN_OTEL_ENABLED":           "true",
		"MERIDIAN_OTEL_ENDPOINT":          "collector:4317",
		"MERIDIAN_OTEL_SERVICE_NAME":      "meridian-staging",
	}
	for k, v := range vars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range vars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Storage.URL != "postgres://db:5432/meridian" {
		t.Errorf("Storage.URL = %q", cfg.Storage.URL)
	}
	if cfg.Storage.MaxConns != 50 {
		t.Errorf("Storage.MaxConns = %d, want 50", cfg.Storage.MaxConns)
	}
	if cfg.Server.Port != "8443" {
		t.Errorf("Server.Port = %q, want 8443", cfg.Server.Port)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("Redis.DB = %d, want 2", cfg.Redis.DB)
	}
	if cfg.Cache.L1Size != 128 {
		t.Errorf("Cache.L1Size = %d, want 128", cfg.Cache.L1Size)
	}
	if cfg.Maintainer.Workers != 8 {
		t.Errorf("Maintainer.Workers = %d, want 8", cfg.Maintainer.Workers)
	}
	if cfg.Maintainer.SweepSchedule != "@every 30m" {
		t.Errorf("Maintainer.SweepSchedule = %q", cfg.Maintainer.SweepSchedule)
	}
	if cfg.Maintainer.StaleAfter != 6*time.Hour {
		t.Errorf("Maintainer.StaleAfter = %v, want 6h", cfg.Maintainer.StaleAfter)
	}
	if cfg.Schema.Watch {
		t.Error("Schema.Watch = true, want false")
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.OTelEnabled {
		t.Error("OTelEnabled = false, want true")
	}
	if cfg.Observability.OTelEndpoint != "collector:4317" {
		t.Errorf("OTelEndpoint = %q", cfg.Observability.OTelEndpoint)
	}
}

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
			Storage: storage.Config{URL: "postgres://localhost/meridian"},
			Redis:   RedisConfig{URL: "localhost:6379"},
			Cache:   CacheConfig{L1Size: 1024, TTL: time.Minute},
			Maintainer: MaintainerConfig{
				Workers:       4,
				QueueSize:     1024,
				SweepSchedule: "@hourly",
			},
			Schema: SchemaConfig{Path: "schema.yaml"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: true},
		{name: "port collides with health port", mutate: func(c *Config) { c.Server.HealthPort = c.Server.Port }, wantErr: true},
		{name: "missing postgres URL", mutate: func(c *Config) { c.Storage.URL = "" }, wantErr: true},
		{name: "missing redis URL", mutate: func(c *Config) { c.Redis.URL = "" }, wantErr: true},
		{name: "zero L1 size", mutate: func(c *Config) { c.Cache.L1Size = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Maintainer.Workers = 0 }, wantErr: true},
		{name: "missing sweep schedule", mutate: func(c *Config) { c.Maintainer.SweepSchedule = "" }, wantErr: true},
		{name: "missing schema path", mutate: func(c *Config) { c.Schema.Path = "" }, wantErr: true},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
