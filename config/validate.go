package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// Backends lists the accepted storage.backend values.
var Backends = []string{"badger", "pebble", "leveldb", "sqlite", "memory"}

var logLevels = []string{"trace", "debug", "info", "warn", "error", "disabled", "off"}

// Validate checks the configuration for operator mistakes and normalizes
// case-insensitive values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Regtest:
	default:
		return fmt.Errorf("network must be %q, %q or %q", Mainnet, Testnet, Regtest)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must be set")
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if !slices.Contains(Backends, cfg.Storage.Backend) {
		return fmt.Errorf("storage.backend must be one of %s", strings.Join(Backends, ", "))
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !slices.Contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}
	if cfg.Log.MaxSizeKB < 0 {
		return fmt.Errorf("log.max_size_kb must not be negative")
	}
	if cfg.Log.MaxRolls < 0 {
		return fmt.Errorf("log.max_rolls must not be negative")
	}

	if cfg.Query.Workers < 1 {
		return fmt.Errorf("query.workers must be at least 1")
	}
	if cfg.Query.PrevOutCacheTTL < 0 {
		return fmt.Errorf("query.prevout_cache_ttl must not be negative")
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	return nil
}
