package chain

import (
	"fmt"

	klog "github.com/Klingon-tech/klingnet-chainstate/internal/log"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// reorg switches the active chain to newTip by clearing the UTXO set and
// replaying every block from genesis along the new branch. Blocks that
// fail to apply are marked invalid and the previous chain is restored.
func (c *Chain) reorg(newTip *Node) error {
	oldTip := c.active.Tip()
	fork := c.active.FindFork(newTip)
	path := pathTo(newTip)

	var oldHash types.Hash
	if oldTip != nil {
		oldHash = oldTip.Hash
	}
	klog.Chain.Info().
		Str("old_tip", oldHash.String()).
		Str("new_tip", newTip.Hash.String()).
		Uint64("fork_height", forkHeight(fork)).
		Msg("Reorganizing chain")

	if err := c.utxos.ClearAll(); err != nil {
		return fmt.Errorf("reorg: clear UTXOs: %w", err)
	}
	for _, n := range path {
		blk, err := c.blocks.ReadBlock(n)
		if err != nil {
			return c.abortReorg(newTip, fork, n, err)
		}
		if err := c.utxos.ApplyBlock(blk, n.Height); err != nil {
			return c.abortReorg(newTip, fork, n, err)
		}
		if fork != nil && n.Height <= fork.Height {
			continue
		}
		if err := c.blocks.IndexTransactions(blk); err != nil {
			return fmt.Errorf("reorg: %w", err)
		}
		n.Status = n.Status.WithLevel(ValidScripts)
		if err := c.index.Update(n); err != nil {
			return fmt.Errorf("reorg: %w", err)
		}
	}

	if err := c.blocks.SetTip(newTip.Hash); err != nil {
		return fmt.Errorf("reorg: %w", err)
	}
	c.active.SetTip(newTip)
	return nil
}

// abortReorg marks failed and its descendants on the branch to newTip as
// invalid, then rebuilds the UTXO set of the unchanged active chain.
// Failures at or below the fork point leave statuses untouched.
func (c *Chain) abortReorg(newTip, fork, failed *Node, cause error) error {
	if fork == nil || failed.Height > fork.Height {
		failed.Status |= FailedValid
		dirty := []*Node{failed}
		for n := newTip; n != nil && n != failed; n = n.Parent {
			n.Status |= FailedChild
			dirty = append(dirty, n)
		}
		if err := c.index.Update(dirty...); err != nil {
			return fmt.Errorf("reorg: %w", err)
		}
	}
	if err := c.RebuildUTXOs(); err != nil {
		return fmt.Errorf("reorg: restore active chain: %w", err)
	}
	return fmt.Errorf("%w: block %s at height %d: %v", ErrApplyUTXO, failed.Hash, failed.Height, cause)
}

func forkHeight(fork *Node) uint64 {
	if fork == nil {
		return 0
	}
	return fork.Height
}
