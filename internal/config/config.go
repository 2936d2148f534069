// Package config provides configuration for the streaming gateway. It
// supports loading from a YAML file and environment variables, with
// environment variables taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the gateway.
type Config struct {
	// Server settings
	HTTPPort int `json:"httpPort" yaml:"httpPort"`

	// Server timeouts. WriteTimeout stays zero: the product streams are
	// long-lived responses and a write deadline would sever them.
	ReadTimeout     time.Duration `json:"readTimeout" yaml:"readTimeout"`
	IdleTimeout     time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`

	// Backing store settings
	RedisURL          string        `json:"redisURL" yaml:"redisURL"`
	RedisPoolSize     int           `json:"redisPoolSize" yaml:"redisPoolSize"`
	RedisDialTimeout  time.Duration `json:"redisDialTimeout" yaml:"redisDialTimeout"`
	RedisReadTimeout  time.Duration `json:"redisReadTimeout" yaml:"redisReadTimeout"`
	RedisWriteTimeout time.Duration `json:"redisWriteTimeout" yaml:"redisWriteTimeout"`

	// FeedChannel is the pub/sub channel carrying route change events.
	FeedChannel string `json:"feedChannel" yaml:"feedChannel"`

	// Observability
	LogLevel         string `json:"logLevel" yaml:"logLevel"`
	LogFormat        string `json:"logFormat" yaml:"logFormat"`
	LogOutput        string `json:"logOutput" yaml:"logOutput"`
	AccessLogEnabled bool   `json:"accessLogEnabled" yaml:"accessLogEnabled"`
	MetricsEnabled   bool   `json:"metricsEnabled" yaml:"metricsEnabled"`
	MetricsPath      string `json:"metricsPath" yaml:"metricsPath"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		HTTPPort: 8080,

		ReadTimeout:     30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,

		RedisURL:          "redis://localhost:6379/0",
		RedisPoolSize:     10,
		RedisDialTimeout:  5 * time.Second,
		RedisReadTimeout:  3 * time.Second,
		RedisWriteTimeout: 3 * time.Second,

		FeedChannel: "routes",

		LogLevel:         "info",
		LogFormat:        "json",
		LogOutput:        "stdout",
		AccessLogEnabled: true,
		MetricsEnabled:   true,
		MetricsPath:      "/metrics",
	}
}

// Load builds the effective configuration: defaults, then the optional
// YAML file at path, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays GATEWAY_* environment variables onto the config.
func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("GATEWAY_HTTP_PORT", c.HTTPPort)
	c.ReadTimeout = getEnvDuration("GATEWAY_READ_TIMEOUT", c.ReadTimeout)
	c.IdleTimeout = getEnvDuration("GATEWAY_IDLE_TIMEOUT", c.IdleTimeout)
	c.ShutdownTimeout = getEnvDuration("GATEWAY_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.RedisURL = getEnvOrDefault("GATEWAY_REDIS_URL", c.RedisURL)
	c.RedisPoolSize = getEnvInt("GATEWAY_REDIS_POOL_SIZE", c.RedisPoolSize)
	c.RedisDialTimeout = getEnvDuration("GATEWAY_REDIS_DIAL_TIMEOUT", c.RedisDialTimeout)
	c.RedisReadTimeout = getEnvDuration("GATEWAY_REDIS_READ_TIMEOUT", c.RedisReadTimeout)
	c.RedisWriteTimeout = getEnvDuration("GATEWAY_REDIS_WRITE_TIMEOUT", c.RedisWriteTimeout)

	c.FeedChannel = getEnvOrDefault("GATEWAY_FEED_CHANNEL", c.FeedChannel)

	c.LogLevel = getEnvOrDefault("GATEWAY_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("GATEWAY_LOG_FORMAT", c.LogFormat)
	c.LogOutput = getEnvOrDefault("GATEWAY_LOG_OUTPUT", c.LogOutput)
	c.AccessLogEnabled = getEnvBool("GATEWAY_ACCESS_LOG_ENABLED", c.AccessLogEnabled)
	c.MetricsEnabled = getEnvBool("GATEWAY_METRICS_ENABLED", c.MetricsEnabled)
	c.MetricsPath = getEnvOrDefault("GATEWAY_METRICS_PATH", c.MetricsPath)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port %d", c.HTTPPort)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.FeedChannel == "" {
		return fmt.Errorf("feed channel is required")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.MetricsEnabled && c.MetricsPath == "" {
		return fmt.Errorf("metrics path is required when metrics are enabled")
	}
	return nil
}
