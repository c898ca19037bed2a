package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. KLINGNET_STORAGE_BACKEND.
const EnvPrefix = "KLINGNET"

// NewViper returns a viper instance that reads KLINGNET_* environment
// variables, mapping "." in keys to "_".
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds the configuration from v. When path is non-empty the file
// must exist; otherwise the default config file in the data directory is
// read if present. Defaults come from the selected network.
func Load(v *viper.Viper, path string) (*Config, error) {
	network := NetworkType(strings.ToLower(v.GetString("network")))
	if network == "" {
		network = Mainnet
	}
	defaults := Default(network)
	setDefaults(v, defaults)

	if path == "" {
		dataDir := v.GetString("datadir")
		candidate := filepath.Join(dataDir, "klingnet.toml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
		// The file may pick another network; re-seed its defaults.
		if n := NetworkType(strings.ToLower(v.GetString("network"))); n != network {
			setDefaults(v, Default(n))
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Network = NetworkType(strings.ToLower(string(cfg.Network)))
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key of cfg as a viper default, which also
// makes the key visible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range settings(cfg) {
		v.SetDefault(key, value)
	}
}

// settings flattens cfg into viper keys.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"network":                  string(cfg.Network),
		"datadir":                  cfg.DataDir,
		"storage.backend":          cfg.Storage.Backend,
		"storage.path":             cfg.Storage.Path,
		"log.level":                cfg.Log.Level,
		"log.file":                 cfg.Log.File,
		"log.json":                 cfg.Log.JSON,
		"log.max_size_kb":          cfg.Log.MaxSizeKB,
		"log.max_rolls":            cfg.Log.MaxRolls,
		"query.workers":            cfg.Query.Workers,
		"query.prevout_cache_size": cfg.Query.PrevOutCacheSize,
		"query.prevout_cache_ttl":  cfg.Query.PrevOutCacheTTL,
		"query.min_range_start":    cfg.Query.MinRangeStart,
		"metrics.enabled":          cfg.Metrics.Enabled,
		"metrics.addr":             cfg.Metrics.Addr,
	}
}

// WriteDefaultConfig writes the defaults for network to path. The file
// format follows the extension (toml, yaml or json). An existing file is
// left untouched and reported as an error.
func WriteDefaultConfig(path string, network NetworkType) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	cfg := Default(network)
	v := viper.New()
	for key, value := range settings(cfg) {
		if key == "datadir" {
			// Keep the platform default implicit.
			continue
		}
		if d, ok := value.(interface{ String() string }); ok {
			value = d.String()
		}
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
