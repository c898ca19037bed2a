// Package chain maintains the block index, the active chain and the block
// store, and resolves chain tips.
package chain

import (
	"fmt"
	"sync"

	klog "github.com/Klingon-tech/klingnet-chainstate/internal/log"
	"github.com/Klingon-tech/klingnet-chainstate/internal/utxo"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Chain ties the block index, active chain, block store and UTXO set
// together and serializes every mutation.
type Chain struct {
	mu     sync.RWMutex // Protects all state mutations (ProcessBlock, reorg).
	blocks *BlockStore
	utxos  *utxo.Store
	index  *Index
	active *ActiveChain
}

// New loads the block index and restores the active chain from the stored
// tip. A UTXO set that does not match the tip is rebuilt from blocks.
func New(blocks *BlockStore, utxos *utxo.Store, index *Index) (*Chain, error) {
	if blocks == nil || utxos == nil || index == nil {
		return nil, fmt.Errorf("chain: nil component")
	}
	if err := index.Load(); err != nil {
		return nil, err
	}

	c := &Chain{
		blocks: blocks,
		utxos:  utxos,
		index:  index,
		active: NewActiveChain(),
	}

	tipHash, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	if tipHash.IsZero() {
		return c, nil
	}
	tip, ok := index.Lookup(tipHash)
	if !ok {
		return nil, fmt.Errorf("recover tip: %s not in block index", tipHash)
	}
	c.active.SetTip(tip)

	best, err := utxos.BestBlock()
	if err != nil {
		return nil, fmt.Errorf("recover utxo best block: %w", err)
	}
	if best != tipHash {
		klog.Chain.Warn().
			Str("tip", tipHash.String()).
			Str("utxo_best", best.String()).
			Msg("UTXO set behind chain tip, rebuilding")
		if err := c.RebuildUTXOs(); err != nil {
			return nil, fmt.Errorf("recover utxo set: %w", err)
		}
	}
	return c, nil
}

// Index returns the block index.
func (c *Chain) Index() *Index { return c.index }

// Active returns the active chain.
func (c *Chain) Active() *ActiveChain { return c.active }

// Blocks returns the block store.
func (c *Chain) Blocks() *BlockStore { return c.blocks }

// UTXOs returns the UTXO store.
func (c *Chain) UTXOs() *utxo.Store { return c.utxos }

// TipHash returns the active tip hash, or the zero hash for an empty chain.
func (c *Chain) TipHash() types.Hash {
	if tip := c.active.Tip(); tip != nil {
		return tip.Hash
	}
	return types.Hash{}
}

// Tips resolves all chain tips while holding off mutations.
func (c *Chain) Tips() []TipInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Tips(c.active)
}

// View runs fn while holding off mutations, so that reads spanning the
// block index and the UTXO set see one state.
func (c *Chain) View(fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn()
}

// RebuildUTXOs clears the UTXO set and replays all blocks from genesis to
// the current tip.
func (c *Chain) RebuildUTXOs() error {
	tip := c.active.Tip()
	if err := c.utxos.ClearAll(); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	if tip == nil {
		return nil
	}
	for _, n := range pathTo(tip) {
		blk, err := c.blocks.ReadBlock(n)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if err := c.utxos.ApplyBlock(blk, n.Height); err != nil {
			return fmt.Errorf("replay block at height %d: %w", n.Height, err)
		}
	}
	return nil
}

// pathTo returns the nodes from genesis to tip in height order.
func pathTo(tip *Node) []*Node {
	path := make([]*Node, tip.Height+1)
	for n := tip; n != nil; n = n.Parent {
		path[n.Height] = n
	}
	return path
}
