package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds recsync-bench's configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	ServerURL string `env:"RECSYNC_URL" envDefault:"ws://localhost:6020/recsync"`

	RecordCount  int    `env:"RECSYNC_RECORD_COUNT" envDefault:"100"`
	RecordPrefix string `env:"RECSYNC_RECORD_PREFIX" envDefault:"bench/record"`

	HeartbeatInterval time.Duration `env:"RECSYNC_HEARTBEAT_INTERVAL" envDefault:"30s"`
	SendDelay         time.Duration `env:"RECSYNC_SEND_DELAY" envDefault:"10ms"`

	MetricsAddr string `env:"RECSYNC_METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from a .env file (optional) and the
// environment. Priority: ENV vars > .env file > defaults.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("RECSYNC_URL is required")
	}
	if c.RecordCount < 1 {
		return fmt.Errorf("RECSYNC_RECORD_COUNT must be > 0, got %d", c.RecordCount)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}
