// Package config loads application configuration from environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brightpath/pdcore/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig

	// ReconcileInterval is how often the matrix cache is dropped so a
	// snapshot that drifted (missed invalidation, direct DB edit) heals
	// on its own. Zero disables the job.
	ReconcileInterval time.Duration
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

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration. Redis is optional: without it the
// service runs single-instance with in-process fan-out only.
type RedisConfig struct {
	URL     string
	Channel string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PDCORE_HOST", "0.0.0.0"),
			Port:            getEnv("PDCORE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PDCORE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PDCORE_WRITE_TIMEOUT", 0),
			IdleTimeout:     getEnvDuration("PDCORE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PDCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("PDCORE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("PDCORE_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("PDCORE_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("PDCORE_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("PDCORE_POSTGRES_TIMEOUT", 5*time.Second),
			MaxLifetime: getEnvDuration("PDCORE_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("PDCORE_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:     getEnv("PDCORE_REDIS_URL", ""),
			Channel: getEnv("PDCORE_REDIS_CHANNEL", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("PDCORE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("PDCORE_METRICS_ENABLED", true),
		},
		ReconcileInterval: getEnvDuration("PDCORE_RECONCILE_INTERVAL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
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
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max conns must be >= min conns")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile interval must not be negative")
	}
	return nil
}

// Addr returns the main listen address
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// HealthAddr returns the health/metrics listen address
func (c *ServerConfig) HealthAddr() string {
	return c.Host + ":" + c.HealthPort
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
