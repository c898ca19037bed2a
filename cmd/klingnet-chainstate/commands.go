package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-chainstate/config"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/internal/node"
	"github.com/Klingon-tech/klingnet-chainstate/internal/tipnotify"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

func newTxOutSetInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gettxoutsetinfo",
		Short: "Show statistics about the unspent transaction output set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				stats, err := n.TxOutSetInfo(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), renderTxOutSet(stats))
			})
		},
	}
}

func newChainTipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getchaintips",
		Short: "List all known chain tips, active chain included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				return printJSON(cmd.OutOrStdout(), n.ChainTips())
			})
		},
	}
}

func newBlockIndexStatsCmd() *cobra.Command {
	var feesOnly bool
	cmd := &cobra.Command{
		Use:   "getblockindexstats <height> <range>",
		Short: "Aggregate transaction and fee statistics over a block range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseInt(args[0], "height")
			if err != nil {
				return err
			}
			rangeLen, err := parseInt(args[1], "range")
			if err != nil {
				return err
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				stats, err := n.BlockIndexStats(ctx, start, rangeLen, feesOnly)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), renderRangeStats(stats))
			})
		},
	}
	cmd.Flags().BoolVar(&feesOnly, "fee-only", false, "Only compute fee statistics")
	return cmd
}

func newFeeInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getfeeinfo <blocks>",
		Short: "Show fee statistics over the last n blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks, err := parseInt(args[0], "blocks")
			if err != nil {
				return err
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				stats, err := n.FeeInfo(ctx, blocks)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), renderRangeStats(stats))
			})
		},
	}
}

func newSupplyInfoCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "getsupplyinfo",
		Short: "Show the transparent and total coin supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				info, err := n.SupplyInfo(ctx, force)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), renderSupply(info))
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Recompute even if the cached supply is current")
	return cmd
}

func newBlockCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getblockcount",
		Short: "Show the height of the active chain tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				return printJSON(cmd.OutOrStdout(), n.BlockCount())
			})
		},
	}
}

func newBestBlockHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getbestblockhash",
		Short: "Show the hash of the active chain tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				return printJSON(cmd.OutOrStdout(), n.BestBlockHash().String())
			})
		},
	}
}

func newWaitForBlockHeightCmd() *cobra.Command {
	var (
		timeout time.Duration
		source  string
	)
	cmd := &cobra.Command{
		Use:   "waitforblockheight <height>",
		Short: "Wait until the tip reaches a height, then show the tip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q", args[0])
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				snap, err := waitImporting(ctx, cmd, n, source, func(ctx context.Context) tipnotify.Snapshot {
					return n.WaitForBlockHeight(ctx, height, timeout)
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&source, "blocks", "", "Import blocks from this file (- for stdin) while waiting")
	return cmd
}

func newWaitForNewBlockCmd() *cobra.Command {
	var (
		timeout time.Duration
		hash    string
		source  string
	)
	cmd := &cobra.Command{
		Use:   "waitfornewblock",
		Short: "Wait for the tip to change, or for a given block, then show the tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var want types.Hash
			if hash != "" {
				h, err := types.HexToHash(hash)
				if err != nil {
					return fmt.Errorf("invalid block hash: %w", err)
				}
				want = h
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				// The tip to move away from is taken before any import starts.
				prev := n.Notifier().Latest()
				snap, err := waitImporting(ctx, cmd, n, source, func(ctx context.Context) tipnotify.Snapshot {
					if hash != "" {
						return n.WaitForBlock(ctx, want, timeout)
					}
					return n.Notifier().WaitForChange(ctx, prev, timeout)
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&hash, "hash", "", "Wait for this block to become the tip")
	cmd.Flags().StringVar(&source, "blocks", "", "Import blocks from this file (- for stdin) while waiting")
	return cmd
}

// waitImporting runs wait while the block stream named by source is
// imported into n. The import stops once wait returns; a stream that ends
// first ends the wait with the tip it reached.
func waitImporting(ctx context.Context, cmd *cobra.Command, n *node.Node, source string, wait func(context.Context) tipnotify.Snapshot) (tipnotify.Snapshot, error) {
	if source == "" {
		return wait(ctx), nil
	}
	r, closeSource, err := openBlocks(cmd, source)
	if err != nil {
		return tipnotify.Snapshot{}, err
	}
	defer closeSource()

	waitCtx, endWait := context.WithCancel(ctx)
	defer endWait()
	importCtx, endImport := context.WithCancel(ctx)
	defer endImport()

	var g errgroup.Group
	g.Go(func() error {
		defer endWait()
		_, err := n.ImportBlocks(importCtx, r)
		if importCtx.Err() != nil && errors.Is(err, chainerr.ErrCancelled) {
			return nil
		}
		return err
	})
	snap := wait(waitCtx)
	endImport()
	return snap, g.Wait()
}

// openBlocks opens a block stream: a file path, or - for stdin.
func openBlocks(cmd *cobra.Command, source string) (io.Reader, func(), error) {
	if source == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, nil, fmt.Errorf("open blocks file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func newLoadBlocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loadblocks <file|->",
		Short: "Import a JSON stream of blocks and headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeSource, err := openBlocks(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeSource()
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				res, err := n.ImportBlocks(ctx, r)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initconfig",
		Short: "Write a config file with the network defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			network, _ := flags.GetString("network")
			if network == "" {
				network = string(config.Mainnet)
			}
			nt := config.NetworkType(strings.ToLower(network))
			cfg := config.Default(nt)
			cfg.Network = nt
			if dataDir, _ := flags.GetString("datadir"); dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			path := configFile
			if path == "" {
				path = cfg.ConfigFile()
			}
			if err := config.WriteDefaultConfig(path, cfg.Network); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Clean(path))
			return nil
		},
	}
}

func parseInt(s, name string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}
