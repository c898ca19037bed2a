package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"network":      "network",
	"datadir":      "datadir",
	"backend":      "storage.backend",
	"dbpath":       "storage.path",
	"log-level":    "log.level",
	"log-file":     "log.file",
	"log-json":     "log.json",
	"workers":      "query.workers",
	"metrics":      "metrics.enabled",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the configuration flags to fs. Flags left at their
// zero value do not override the file or environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("network", "", "Network type (mainnet, testnet or regtest)")
	fs.String("datadir", "", "Data directory path")
	fs.String("backend", "", "Storage backend (badger, pebble, leveldb, sqlite, memory)")
	fs.String("dbpath", "", "Database directory (default <datadir>/<network>/chainstate)")
	fs.String("log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	fs.String("log-file", "", "Rotating log file path")
	fs.Bool("log-json", false, "Log JSON instead of colored text")
	fs.Int("workers", 0, "Concurrent previous-output lookups per block")
	fs.Bool("metrics", false, "Serve Prometheus metrics")
	fs.String("metrics-addr", "", "Metrics listen address")
}

// BindFlags makes every flag registered by RegisterFlags override its
// config key in v, but only when set on the command line.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag --%s not registered", name)
		}
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}
