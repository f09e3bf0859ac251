// Package config provides connector configuration from environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds connector configuration
type Config struct {
	Host            string
	Port            string
	MetricsPort     string
	LogLevel        string
	DatabaseURL     string
	AckTimeout      time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables. Values are parsed but not
// range-checked; call Validate once any overrides have been applied.
func Load() (*Config, error) {
	cfg := &Config{
		Host:        getEnv("SOURCE_HTTP_INGEST_HOST", "0.0.0.0"),
		Port:        getEnv("SOURCE_HTTP_INGEST_PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
	}

	var err error
	if cfg.AckTimeout, err = getDuration("ACK_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ports and timeouts
func (c *Config) Validate() error {
	if err := validPort("SOURCE_HTTP_INGEST_PORT", c.Port); err != nil {
		return err
	}
	if c.MetricsPort != "" {
		if err := validPort("METRICS_PORT", c.MetricsPort); err != nil {
			return err
		}
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ACK_TIMEOUT must be positive, got %s", c.AckTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// ListenAddr is the webhook listener address
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// MetricsAddr is the admin listener address, or "" when disabled
func (c *Config) MetricsAddr() string {
	if c.MetricsPort == "" {
		return ""
	}
	return net.JoinHostPort(c.Host, c.MetricsPort)
}

func validPort(name, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("%s must be a port number, got %q", name, value)
	}
	return nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
