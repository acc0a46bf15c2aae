package crank

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	envInterval = "CRANK_INTERVAL"
	envTimeout  = "CRANK_TIMEOUT"
	envMaxRuns  = "CRANK_MAX_RUNS"
	envSigner   = "CRANK_SIGNER"
)

// Config captures runtime parameters for the crank scheduler.
type Config struct {
	Interval time.Duration
	// Timeout bounds a single pass, venue reads included.
	Timeout time.Duration
	// MaxRuns stops the worker after that many passes; 0 runs until cancelled.
	MaxRuns uint64
	// Signer is the base58 key the passes are attributed to; it must be the
	// admin or a registered trader.
	Signer string
}

// DefaultConfig sets safe defaults for optional fields.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  20 * time.Second,
	}
}

// Validate ensures intervals are sane.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("crank interval must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("crank timeout must be positive")
	}
	if c.Signer == "" {
		return fmt.Errorf("crank signer is required")
	}
	return nil
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(envInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envInterval, err)
		}
		cfg.Interval = d
	}
	if v := os.Getenv(envTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envTimeout, err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv(envMaxRuns); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envMaxRuns, err)
		}
		cfg.MaxRuns = n
	}
	cfg.Signer = os.Getenv(envSigner)

	return cfg, cfg.Validate()
}
