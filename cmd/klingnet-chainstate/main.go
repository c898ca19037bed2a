// klingnet-chainstate queries and maintains a chain state database.
//
// Usage:
//
//	klingnet-chainstate [flags] <command> [args]
//	klingnet-chainstate --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/klingnet-chainstate/config"
	"github.com/Klingon-tech/klingnet-chainstate/internal/node"
)

var (
	Version = "0.1.0"

	configFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "klingnet-chainstate",
		Short: "Klingnet chain state query tool",
		Long: `klingnet-chainstate opens a chain state database and answers
queries about the UTXO set, chain tips and block ranges.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default <datadir>/klingnet.toml)")

	root.AddCommand(
		newTxOutSetInfoCmd(),
		newChainTipsCmd(),
		newBlockIndexStatsCmd(),
		newFeeInfoCmd(),
		newSupplyInfoCmd(),
		newBlockCountCmd(),
		newBestBlockHashCmd(),
		newWaitForBlockHeightCmd(),
		newWaitForNewBlockCmd(),
		newLoadBlocksCmd(),
		newInitConfigCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration from file, environment and the
// flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v, configFile)
}

// withNode opens the node, runs fn and stops the node again.
func withNode(cmd *cobra.Command, fn func(ctx context.Context, n *node.Node) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	defer n.Stop()
	return fn(cmd.Context(), n)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
