package config

import (
	"runtime"
	"time"
)

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Storage: StorageConfig{
			Backend: "badger",
		},
		Log: LogConfig{
			Level:     "info",
			JSON:      false,
			MaxSizeKB: 10 * 1024,
			MaxRolls:  3,
		},
		Query: QueryConfig{
			Workers:          runtime.NumCPU(),
			PrevOutCacheSize: 10_000,
			PrevOutCacheTTL:  5 * time.Minute,
			MinRangeStart:    1,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Metrics.Addr = "127.0.0.1:9465"
	return cfg
}

// DefaultRegtest returns the default configuration for regtest. Data
// stays on disk so separate invocations share one chain; the memory
// backend has to be selected explicitly.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Regtest
	cfg.Query.MinRangeStart = 0
	cfg.Metrics.Addr = "127.0.0.1:9466"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	case Regtest:
		return DefaultRegtest()
	default:
		return DefaultMainnet()
	}
}
