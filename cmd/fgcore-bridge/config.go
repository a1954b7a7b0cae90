package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds cmd/fgcore-bridge's configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// WebSocket server
	Addr           string `env:"FG_WS_ADDR" envDefault:":8765"`
	MaxConnections int    `env:"FG_MAX_CONNECTIONS" envDefault:"500"`

	// MCAP recording
	MCAPPath string `env:"FG_MCAP_PATH" envDefault:"recording.mcap"`

	// Remote relay (disabled unless both a device token and an API URL are set)
	RelayDeviceToken string        `env:"FG_RELAY_DEVICE_TOKEN" envDefault:""`
	RelayAPIURL      string        `env:"FG_RELAY_API_URL" envDefault:""`
	RelayAPITimeout  time.Duration `env:"FG_RELAY_API_TIMEOUT" envDefault:"10s"`

	// Playback range, in nanoseconds since the recording's epoch
	PlaybackStartTime uint64 `env:"FG_PLAYBACK_START_NS" envDefault:"0"`
	PlaybackEndTime    uint64 `env:"FG_PLAYBACK_END_NS" envDefault:"0"`

	// Resource limits (from container)
	CPULimit    float64 `env:"FG_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"FG_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Worker pool sizing for service-call handler dispatch
	WorkerPoolSize  int `env:"FG_WORKER_POOL_SIZE" envDefault:"4"`
	WorkerQueueSize int `env:"FG_WORKER_QUEUE_SIZE" envDefault:"256"`

	// Monitoring
	MetricsAddr     string        `env:"FG_METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"FG_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"FG_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FG_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"FG_ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from a .env file (if present) and the
// environment. Environment variables always win over .env file values.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("FG_WS_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("FG_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.PlaybackEndTime != 0 && c.PlaybackEndTime < c.PlaybackStartTime {
		return fmt.Errorf("FG_PLAYBACK_END_NS (%d) must be >= FG_PLAYBACK_START_NS (%d)", c.PlaybackEndTime, c.PlaybackStartTime)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("FG_LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("FG_LOG_FORMAT must be one of json, pretty (got %s)", c.LogFormat)
	}
	return nil
}

// RelayEnabled reports whether enough configuration was supplied to
// start the remote relay sink.
func (c *Config) RelayEnabled() bool {
	return c.RelayDeviceToken != "" && c.RelayAPIURL != ""
}

func (c *Config) Print() {
	fmt.Println("=== fgcore-bridge configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("WS Address:      %s\n", c.Addr)
	fmt.Printf("MCAP Path:       %s\n", c.MCAPPath)
	fmt.Printf("Relay Enabled:   %t\n", c.RelayEnabled())
	fmt.Printf("Max Connections: %d\n", c.MaxConnections)
	fmt.Printf("CPU Limit:       %.1f cores\n", c.CPULimit)
	fmt.Printf("Memory Limit:    %d MB\n", c.MemoryLimit/(1024*1024))
	fmt.Printf("Metrics:         %s (every %s)\n", c.MetricsAddr, c.MetricsInterval)
	fmt.Printf("Log:             %s / %s\n", c.LogLevel, c.LogFormat)
	fmt.Println("====================================")
}
