// Package config loads the server's runtime configuration from environment
// variables (with an optional .env file), mirroring ws/config.go's
// struct-tag/caarlos0-env/godotenv layering and its explicit Validate pass.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every setting the core and its ambient collaborators need.
// CLI flags (cmd/worldqld) override these after Load runs; env vars win
// over the struct defaults below.
type Config struct {
	Host string `env:"WORLDQL_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"WORLDQL_PORT" envDefault:"8080"`

	DatabaseDSN string `env:"WORLDQL_DB_DSN" envDefault:"worldql.db"`

	CubeSize   int64 `env:"WORLDQL_CUBE_SIZE" envDefault:"16"`
	RegionSize int64 `env:"WORLDQL_REGION_SIZE" envDefault:"16"`
	TableSize  int64 `env:"WORLDQL_TABLE_SIZE" envDefault:"256"`

	ServerAuthSecret string `env:"WORLDQL_SERVER_AUTH_SECRET" envDefault:""`

	LivenessInterval string `env:"WORLDQL_LIVENESS_INTERVAL" envDefault:"10s"`
	LivenessMaxAge   string `env:"WORLDQL_LIVENESS_MAX_AGE" envDefault:"30s"`

	RateLimitPerSecond float64 `env:"WORLDQL_RATE_LIMIT_PER_SECOND" envDefault:"50"`
	RateLimitBurst     int     `env:"WORLDQL_RATE_LIMIT_BURST" envDefault:"100"`

	RemovedPeerBuffer int `env:"WORLDQL_REMOVED_PEER_BUFFER" envDefault:"256"`
	LaneBuffer        int `env:"WORLDQL_LANE_BUFFER" envDefault:"1024"`

	LogLevel string `env:"WORLDQL_LOG_LEVEL" envDefault:"info"`
}

// Load reads environment variables (after optionally loading a .env file
// into the process environment) into a fresh Config and validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Debug().Msg("no .env file found, using environment variables only")
		}
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

// Validate checks invariants env.Parse can't express on its own.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("WORLDQL_PORT must be 1-65535, got %d", c.Port)
	}
	if c.CubeSize < 1 {
		return fmt.Errorf("WORLDQL_CUBE_SIZE must be > 0, got %d", c.CubeSize)
	}
	if c.RegionSize < 1 {
		return fmt.Errorf("WORLDQL_REGION_SIZE must be > 0, got %d", c.RegionSize)
	}
	if c.TableSize < 1 {
		return fmt.Errorf("WORLDQL_TABLE_SIZE must be > 0, got %d", c.TableSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("WORLDQL_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	return nil
}

// WarnSizing logs, but does not reject, a cube/region/table size ordering
// the spec declines to enforce (DESIGN.md Open Question decision 1): the
// operator may run with any positive sizes, but a region that is not
// coarser than the subscription cube (or a table that is not coarser than
// the region) usually indicates a misconfiguration.
func (c *Config) WarnSizing(logger zerolog.Logger) {
	if c.RegionSize <= c.CubeSize {
		logger.Warn().
			Int64("cube_size", c.CubeSize).
			Int64("region_size", c.RegionSize).
			Msg("region_size is not coarser than cube_size")
	}
	if c.TableSize <= c.RegionSize {
		logger.Warn().
			Int64("region_size", c.RegionSize).
			Int64("table_size", c.TableSize).
			Msg("table_size is not coarser than region_size")
	}
}
