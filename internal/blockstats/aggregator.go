// Package blockstats aggregates fee and spend statistics over a range of
// blocks on the active chain.
package blockstats

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chain"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// ActiveChainView is the part of the active chain the aggregator walks.
type ActiveChainView interface {
	AtHeight(height uint64) *chain.Node
	Next(n *chain.Node) *chain.Node
	Height() int64
}

// BlockSource loads full blocks for index nodes.
type BlockSource interface {
	ReadBlock(n *chain.Node) (*block.Block, error)
}

// PrevOutResolver returns the value of a previously created output.
type PrevOutResolver interface {
	PrevOutValue(ctx context.Context, op types.Outpoint) (int64, error)
}

// Options select what Aggregate collects.
type Options struct {
	// FeesOnly skips the spend counters.
	FeesOnly bool
	// Verbose adds a per-block breakdown.
	Verbose bool
}

// Stats are the totals over a block range. Amounts are in base units.
type Stats struct {
	FirstBlock       uint64                    `json:"first_block"`
	LastBlock        uint64                    `json:"last_block"`
	TxCount          uint64                    `json:"txcount"`
	TxCountAll       uint64                    `json:"txcount_all"`
	SpendCount       map[tx.Denomination]int64 `json:"spendcount,omitempty"`
	PublicSpendCount map[tx.Denomination]int64 `json:"publicspendcount,omitempty"`
	TxBytes          int64                     `json:"txbytes"`
	TotalFee         int64                     `json:"ttlfee"`
	TotalFeeAll      int64                     `json:"ttlfee_all"`
	FeePerKB         int64                     `json:"feeperkb"`
	Blocks           []BlockSummary            `json:"blocks,omitempty"`
}

// BlockSummary is one block's contribution to a verbose aggregate.
type BlockSummary struct {
	Height  uint64     `json:"height"`
	Hash    types.Hash `json:"hash"`
	TxCount int        `json:"txcount"`
	Fee     int64      `json:"fee"`
	TxBytes int64      `json:"txbytes"`
}

// Aggregator computes range statistics from the active chain.
type Aggregator struct {
	chain    ActiveChainView
	blocks   BlockSource
	prevouts PrevOutResolver
	workers  int
}

// New creates an aggregator. workers bounds the concurrent previous-output
// lookups per block; zero or less uses the number of CPUs.
func New(active ActiveChainView, blocks BlockSource, prevouts PrevOutResolver, workers int) *Aggregator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Aggregator{
		chain:    active,
		blocks:   blocks,
		prevouts: prevouts,
		workers:  workers,
	}
}

// Aggregate walks the active chain from start to end inclusive and returns
// the totals. Any failure discards the partial result.
func (a *Aggregator) Aggregate(ctx context.Context, start, end uint64, opts Options) (*Stats, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start %d after end %d", chainerr.ErrInvalidRange, start, end)
	}
	if best := a.chain.Height(); best < 0 || end > uint64(best) {
		return nil, fmt.Errorf("%w: end %d beyond best height %d", chainerr.ErrInvalidRange, end, best)
	}
	node := a.chain.AtHeight(start)
	if node == nil {
		return nil, fmt.Errorf("%w: no active block at height %d", chainerr.ErrInvalidRange, start)
	}

	stats := &Stats{FirstBlock: start, LastBlock: end}
	if !opts.FeesOnly {
		stats.SpendCount = make(map[tx.Denomination]int64, len(tx.Denominations))
		stats.PublicSpendCount = make(map[tx.Denomination]int64, len(tx.Denominations))
		for _, d := range tx.Denominations {
			stats.SpendCount[d] = 0
			stats.PublicSpendCount[d] = 0
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, chainerr.Cancelled(err)
		}
		blk, err := a.blocks.ReadBlock(node)
		if err != nil {
			if errors.Is(err, chainerr.ErrBlockRead) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: height %d: %v", chainerr.ErrBlockRead, node.Height, err)
		}
		if err := a.addBlock(ctx, stats, node, blk, opts); err != nil {
			return nil, err
		}
		if node.Height >= end {
			break
		}
		next := a.chain.Next(node)
		if next == nil {
			return nil, fmt.Errorf("%w: height %d left the active chain", chainerr.ErrBlockRead, node.Height)
		}
		node = next
	}

	stats.FeePerKB = tx.FeePerKB(stats.TotalFee, stats.TxBytes)
	return stats, nil
}

// FeeInfo aggregates fees over the last blocks blocks, ending one below
// the tip.
func (a *Aggregator) FeeInfo(ctx context.Context, blocks int64) (*Stats, error) {
	start := a.chain.Height() - blocks
	if blocks < 0 || start <= 0 {
		return nil, fmt.Errorf("%w: invalid start height %d", chainerr.ErrInvalidRange, start)
	}
	if blocks == 0 {
		return nil, fmt.Errorf("%w: block count must be positive", chainerr.ErrInvalidRange)
	}
	return a.Aggregate(ctx, uint64(start), uint64(start+blocks-1), Options{FeesOnly: true})
}

// ValidateRange turns a start height and a block count into an inclusive
// range ending at or below best. A range that straddles minStart is
// clamped to begin there.
func ValidateRange(start, rangeLen int64, best, minStart uint64) (uint64, uint64, error) {
	if start > int64(best) {
		return 0, 0, fmt.Errorf("%w: starting block %d out of range", chainerr.ErrInvalidRange, start)
	}
	if rangeLen < 1 {
		return 0, 0, fmt.Errorf("%w: block range must be strictly positive", chainerr.ErrInvalidRange)
	}
	end := start + rangeLen - 1
	if start < int64(minStart) && end >= int64(minStart) {
		start = int64(minStart)
	}
	if end > int64(best) {
		return 0, 0, fmt.Errorf("%w: ending block %d out of range", chainerr.ErrInvalidRange, end)
	}
	if start < 0 {
		return 0, 0, fmt.Errorf("%w: starting block %d out of range", chainerr.ErrInvalidRange, start)
	}
	return uint64(start), uint64(end), nil
}

// countable reports whether t takes part in fee accounting.
func countable(t *tx.Transaction) bool {
	return !t.IsCoinBase() && !(t.IsCoinStake() && !t.HasZerocoinSpendInputs())
}

func (a *Aggregator) addBlock(ctx context.Context, stats *Stats, node *chain.Node, blk *block.Block, opts Options) error {
	n := uint64(len(blk.Transactions))
	stats.TxCountAll += n
	generated := uint64(1)
	if blk.IsProofOfStake() {
		generated = 2
	}
	if n > generated {
		stats.TxCount += n - generated
	}

	values, err := a.resolveInputs(ctx, blk)
	if err != nil {
		return err
	}

	var blockFee, blockBytes int64
	for i, t := range blk.Transactions {
		if !countable(t) {
			continue
		}
		var in int64
		for j := range t.Inputs {
			input := &t.Inputs[j]
			switch {
			case input.IsZerocoinSpend():
				if !opts.FeesOnly {
					countSpend(stats.SpendCount, input.Sequence)
				}
			case input.IsZerocoinPublicSpend():
				if !opts.FeesOnly {
					countSpend(stats.PublicSpendCount, input.Sequence)
				}
			default:
				in += values[i][j]
			}
		}
		if t.HasZerocoinSpendInputs() {
			continue
		}

		var out int64
		for _, o := range t.Outputs {
			out += o.Value
		}
		fee := in - out
		stats.TotalFeeAll += fee
		if !t.HasZerocoinMintOutputs() {
			size := int64(t.SerializeSize())
			stats.TotalFee += fee
			stats.TxBytes += size
			blockFee += fee
			blockBytes += size
		}
	}

	if opts.Verbose {
		stats.Blocks = append(stats.Blocks, BlockSummary{
			Height:  node.Height,
			Hash:    node.Hash,
			TxCount: len(blk.Transactions),
			Fee:     blockFee,
			TxBytes: blockBytes,
		})
	}
	return nil
}

// resolveInputs looks up the values spent by the regular inputs of every
// countable transaction in blk, indexed by transaction and input.
func (a *Aggregator) resolveInputs(ctx context.Context, blk *block.Block) ([][]int64, error) {
	values := make([][]int64, len(blk.Transactions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, t := range blk.Transactions {
		if !countable(t) {
			continue
		}
		values[i] = make([]int64, len(t.Inputs))
		for j := range t.Inputs {
			input := &t.Inputs[j]
			if input.IsZerocoinSpend() || input.IsZerocoinPublicSpend() {
				continue
			}
			g.Go(func() error {
				v, err := a.prevouts.PrevOutValue(gctx, input.PrevOut)
				if err != nil {
					return err
				}
				values[i][j] = v
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, chainerr.Cancelled(ctxErr)
		}
		if errors.Is(err, chainerr.ErrPrevOutputMissing) || errors.Is(err, chainerr.ErrCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", chainerr.ErrPrevOutputMissing, err)
	}
	return values, nil
}

func countSpend(counts map[tx.Denomination]int64, seq uint32) {
	if d, ok := tx.DenominationFromSequence(seq); ok {
		counts[d]++
	}
}
