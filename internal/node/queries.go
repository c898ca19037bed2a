package node

import (
	"context"
	"errors"
	"time"

	"github.com/Klingon-tech/klingnet-chainstate/internal/blockstats"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chain"
	"github.com/Klingon-tech/klingnet-chainstate/internal/metrics"
	"github.com/Klingon-tech/klingnet-chainstate/internal/tipnotify"
	"github.com/Klingon-tech/klingnet-chainstate/internal/utxo"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// SupplyInfo is the cached money supply.
type SupplyInfo struct {
	UpdateHeight      uint64 `json:"updateheight"`
	TransparentSupply int64  `json:"transparentsupply"`
	TotalSupply       int64  `json:"totalsupply"`
}

// ErrStopped is returned by calls made after Stop.
var ErrStopped = errors.New("node stopped")

// begin registers a call that uses the database. The returned context
// also ends when the node stops, and Stop waits for done before it closes
// the database.
func (n *Node) begin(ctx context.Context) (context.Context, func(), error) {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.stopping {
		return nil, nil, ErrStopped
	}
	n.wg.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(n.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		n.wg.Done()
	}, nil
}

// TxOutSetInfo digests the whole UTXO set.
func (n *Node) TxOutSetInfo(ctx context.Context) (stats *utxo.Stats, err error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("gettxoutsetinfo", start, err) }()

	ctx, done, err := n.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	// Open the cursor while no block is being connected so the best block
	// and the records it iterates agree.
	var cur *utxo.StoreCursor
	if err := n.ch.View(func() error {
		var err error
		cur, err = n.ch.UTXOs().Cursor()
		return err
	}); err != nil {
		return nil, err
	}
	defer cur.Close()

	stats, err = utxo.Digest(ctx, cur, n.ch.Index())
	if err != nil {
		return nil, err
	}
	metrics.UTXORecordsScanned.Add(float64(stats.Outputs))
	n.logger.Debug().
		Uint64("height", stats.Height).
		Uint64("txouts", stats.Outputs).
		Dur("took", time.Since(start)).
		Msg("UTXO set digested")
	return stats, nil
}

// ChainTips lists every known chain tip.
func (n *Node) ChainTips() []chain.TipInfo {
	start := time.Now()
	tips := n.ch.Tips()
	metrics.ObserveQuery("getchaintips", start, nil)
	return tips
}

// BlockIndexStats aggregates rangeLen blocks starting at height start.
func (n *Node) BlockIndexStats(ctx context.Context, start, rangeLen int64, feesOnly bool) (stats *blockstats.Stats, err error) {
	began := time.Now()
	defer func() { metrics.ObserveQuery("getblockindexstats", began, err) }()

	best := n.ch.Active().Height()
	if best < 0 {
		best = 0
	}
	first, last, err := blockstats.ValidateRange(start, rangeLen, uint64(best), n.cfg.Query.MinRangeStart)
	if err != nil {
		return nil, err
	}

	ctx, done, err := n.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	stats, err = n.stats.Aggregate(ctx, first, last, blockstats.Options{FeesOnly: feesOnly})
	if err != nil {
		return nil, err
	}
	metrics.BlocksAggregated.Add(float64(last - first + 1))
	n.logger.Debug().
		Uint64("first", first).
		Uint64("last", last).
		Dur("took", time.Since(began)).
		Msg("Block range aggregated")
	return stats, nil
}

// FeeInfo aggregates fees over the last blocks blocks.
func (n *Node) FeeInfo(ctx context.Context, blocks int64) (stats *blockstats.Stats, err error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("getfeeinfo", start, err) }()

	ctx, done, err := n.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	stats, err = n.stats.FeeInfo(ctx, blocks)
	if err != nil {
		return nil, err
	}
	metrics.BlocksAggregated.Add(float64(stats.LastBlock - stats.FirstBlock + 1))
	return stats, nil
}

// SupplyInfo returns the money supply, recomputing it from the UTXO set
// when forced or when nothing is cached yet.
func (n *Node) SupplyInfo(ctx context.Context, force bool) (*SupplyInfo, error) {
	n.supplyMu.Lock()
	defer n.supplyMu.Unlock()

	if n.supply != nil && !force {
		info := *n.supply
		return &info, nil
	}
	stats, err := n.TxOutSetInfo(ctx)
	if err != nil {
		return nil, err
	}
	n.supply = &SupplyInfo{
		UpdateHeight:      stats.Height,
		TransparentSupply: stats.TotalAmount,
		TotalSupply:       stats.TotalAmount,
	}
	info := *n.supply
	return &info, nil
}

// BlockCount returns the active chain height, or -1 for an empty chain.
func (n *Node) BlockCount() int64 {
	return n.ch.Active().Height()
}

// BestBlockHash returns the active tip hash.
func (n *Node) BestBlockHash() types.Hash {
	return n.ch.TipHash()
}

// WaitForNewBlock blocks until the tip moves away from the current one.
func (n *Node) WaitForNewBlock(ctx context.Context, timeout time.Duration) tipnotify.Snapshot {
	return n.notifier.WaitForChange(ctx, n.notifier.Latest(), timeout)
}

// WaitForBlock blocks until hash becomes the tip.
func (n *Node) WaitForBlock(ctx context.Context, hash types.Hash, timeout time.Duration) tipnotify.Snapshot {
	return n.notifier.WaitForHash(ctx, hash, timeout)
}

// WaitForBlockHeight blocks until the tip reaches height.
func (n *Node) WaitForBlockHeight(ctx context.Context, height uint64, timeout time.Duration) tipnotify.Snapshot {
	return n.notifier.WaitForHeight(ctx, height, timeout)
}
