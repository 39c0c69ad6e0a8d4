package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for veridata-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (database passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8093"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// ConnectionsFile is the YAML file holding the named connection specs.
	ConnectionsFile string `yaml:"connections_file" env:"CONNECTIONS_FILE" env-default:"connections.yaml"`

	// Pool holds registry-wide defaults applied to connections that
	// enable pooling without their own tuning fields.
	Pool PoolConfig `yaml:"pool"`
}

// PoolConfig holds connection pool defaults.
type PoolConfig struct {
	// MaxSize is the maximum number of connections per pool.
	MaxSize int `yaml:"max_size" env:"POOL_MAX_SIZE" env-default:"10"`
	// MinSize is the number of idle connections kept through eviction sweeps.
	MinSize int `yaml:"min_size" env:"POOL_MIN_SIZE" env-default:"0"`
	// IdleTimeoutMinutes is how long an unused connection may sit idle.
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes" env:"POOL_IDLE_TIMEOUT_MINUTES" env-default:"5"`
	// ValidationIntervalSeconds bounds how stale a reused connection's
	// last health check may be.
	ValidationIntervalSeconds int `yaml:"validation_interval_seconds" env:"POOL_VALIDATION_INTERVAL_SECONDS" env-default:"30"`
	// AcquireTimeoutSeconds is how long an acquire waits on an exhausted
	// pool. Zero means fail fast.
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds" env:"POOL_ACQUIRE_TIMEOUT_SECONDS" env-default:"0"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	return cfg, nil
}
