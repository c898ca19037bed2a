// Package config handles application configuration.
//
// Settings come from, in increasing precedence: network defaults, a
// config file, KLINGNET_* environment variables and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// Config holds the runtime configuration of the chain-state engine.
type Config struct {
	// Core
	Network NetworkType `mapstructure:"network"`
	DataDir string      `mapstructure:"datadir"`

	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Query   QueryConfig   `mapstructure:"query"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig selects the key-value engine.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // badger, pebble, leveldb, sqlite or memory
	Path    string `mapstructure:"path"`    // overrides ChainstateDir when set
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	File      string `mapstructure:"file"`
	JSON      bool   `mapstructure:"json"`
	MaxSizeKB int64  `mapstructure:"max_size_kb"`
	MaxRolls  int    `mapstructure:"max_rolls"`
}

// QueryConfig tunes the range and digest queries.
type QueryConfig struct {
	// Workers bounds concurrent previous-output lookups per block.
	Workers int `mapstructure:"workers"`
	// PrevOutCacheSize is the number of transactions kept for prevout
	// lookups. Zero disables the bound.
	PrevOutCacheSize uint64        `mapstructure:"prevout_cache_size"`
	PrevOutCacheTTL  time.Duration `mapstructure:"prevout_cache_ttl"`
	// MinRangeStart is the lowest height a block range query starts at
	// when the requested range covers it.
	MinRangeStart uint64 `mapstructure:"min_range_start"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet
//	macOS:   ~/Library/Application Support/Klingnet
//	Windows: %APPDATA%\Klingnet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingnet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingnet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingnet")
	default:
		return filepath.Join(home, ".klingnet")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// ChainstateDir returns the database directory.
func (c *Config) ChainstateDir() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.ChainDataDir(), "chainstate")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the default config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingnet.toml")
}
