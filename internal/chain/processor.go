package chain

import (
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/klingnet-chainstate/internal/log"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Block processing errors.
var (
	ErrBlockKnown     = errors.New("block already known")
	ErrPrevNotFound   = errors.New("previous block not found")
	ErrBadHeight      = errors.New("block height does not follow parent")
	ErrBadMerkleRoot  = errors.New("merkle root does not match transactions")
	ErrMutatedBlock   = errors.New("transaction list repeats a merkle subtree")
	ErrSecondGenesis  = errors.New("chain already has a genesis block")
	ErrApplyUTXO      = errors.New("failed to apply UTXO changes")
	ErrParentInvalid  = errors.New("parent block is invalid")
	ErrEmptyBlockBody = errors.New("block has no transactions")
)

// AcceptHeader adds a header to the block index without block data. The
// resulting node reports as headers-only until ProcessBlock supplies the
// block.
func (c *Chain) AcceptHeader(header *block.Header) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if header == nil {
		return nil, fmt.Errorf("nil header")
	}
	hash := header.Hash()
	if _, ok := c.index.Lookup(hash); ok {
		return nil, ErrBlockKnown
	}
	parent, err := c.parentOf(header)
	if err != nil {
		return nil, err
	}
	n := NewNode(header, parent)
	if parent != nil && parent.Status.IsFailed() {
		n.Status |= FailedChild
	}
	if err := c.index.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// ProcessBlock stores a block and connects it when it extends the active
// tip. Blocks on other branches are stored and indexed; a branch that
// accumulates more work than the active chain triggers a reorg.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if len(blk.Transactions) == 0 {
		return ErrEmptyBlockBody
	}
	hash := blk.Hash()

	n, known := c.index.Lookup(hash)
	if known && n.HasData() {
		return ErrBlockKnown
	}
	if !known {
		parent, err := c.parentOf(blk.Header)
		if err != nil {
			return err
		}
		n = NewNode(blk.Header, parent)
	}
	parent := n.Parent

	root, mutated := block.ComputeMerkleRoot(blk.TxHashes())
	if root != blk.Header.MerkleRoot {
		n.Status |= FailedValid
		if err := c.saveNode(n, known); err != nil {
			return err
		}
		return fmt.Errorf("%w: block %s", ErrBadMerkleRoot, hash)
	}
	// The header may still be valid; only this body is refused.
	if mutated {
		return fmt.Errorf("%w: block %s", ErrMutatedBlock, hash)
	}

	if err := c.blocks.StoreBlock(blk); err != nil {
		return fmt.Errorf("store block: %w", err)
	}
	n.Status |= HaveData
	if parent == nil {
		n.ChainTx = uint64(len(blk.Transactions))
	} else if parent.ChainTx > 0 {
		n.ChainTx = parent.ChainTx + uint64(len(blk.Transactions))
	}

	if parent != nil && parent.Status.IsFailed() {
		n.Status |= FailedChild
		if err := c.saveNode(n, known); err != nil {
			return err
		}
		return fmt.Errorf("%w: block %s", ErrParentInvalid, hash)
	}

	tip := c.active.Tip()
	if parent == tip {
		if err := c.connectTip(blk, n, known); err != nil {
			return err
		}
		if !known {
			return nil
		}
		best, err := c.linkDescendants(n)
		if err != nil {
			return err
		}
		if best != n {
			return c.reorg(best)
		}
		return nil
	}

	// Side branch: keep the block and switch only on strictly more work.
	if err := c.saveNode(n, known); err != nil {
		return err
	}
	best := n
	if known && n.ChainTx > 0 {
		var err error
		if best, err = c.linkDescendants(n); err != nil {
			return err
		}
	}
	if moreWork(best, tip) && best.ChainTx > 0 {
		return c.reorg(best)
	}
	klog.Chain.Debug().
		Str("hash", hash.String()).
		Uint64("height", n.Height).
		Msg("Stored side-branch block")
	return nil
}

// connectTip applies blk on top of the active tip.
func (c *Chain) connectTip(blk *block.Block, n *Node, known bool) error {
	if err := c.utxos.ApplyBlock(blk, n.Height); err != nil {
		n.Status |= FailedValid
		if serr := c.saveNode(n, known); serr != nil {
			return serr
		}
		return fmt.Errorf("%w: %v", ErrApplyUTXO, err)
	}
	if err := c.blocks.IndexTransactions(blk); err != nil {
		return err
	}
	n.Status = n.Status.WithLevel(ValidScripts)
	if err := c.saveNode(n, known); err != nil {
		return err
	}
	if err := c.blocks.SetTip(n.Hash); err != nil {
		return err
	}
	c.active.SetTip(n)
	klog.Chain.Debug().
		Str("hash", n.Hash.String()).
		Uint64("height", n.Height).
		Int("txs", len(blk.Transactions)).
		Msg("Connected block")
	return nil
}

// linkDescendants fills ChainTx for stored descendants of n that were
// waiting for its data and returns the most-work node of the linked
// subtree, n included.
func (c *Chain) linkDescendants(n *Node) (*Node, error) {
	children := make(map[types.Hash][]*Node)
	for node := range c.index.Nodes() {
		if node.Parent != nil {
			children[node.Parent.Hash] = append(children[node.Parent.Hash], node)
		}
	}

	best := n
	var linked []*Node
	queue := []*Node{n}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, child := range children[p.Hash] {
			if !child.HasData() || child.ChainTx > 0 || child.Status.IsFailed() {
				continue
			}
			blk, err := c.blocks.ReadBlock(child)
			if err != nil {
				return nil, err
			}
			child.ChainTx = p.ChainTx + uint64(len(blk.Transactions))
			linked = append(linked, child)
			queue = append(queue, child)
			if moreWork(child, best) {
				best = child
			}
		}
	}
	if len(linked) == 0 {
		return n, nil
	}
	if err := c.index.Update(linked...); err != nil {
		return nil, err
	}
	return best, nil
}

// parentOf resolves the parent of header and checks height linkage. It
// returns nil for a genesis header on an empty chain.
func (c *Chain) parentOf(header *block.Header) (*Node, error) {
	if header.PrevHash.IsZero() {
		if header.Height != 0 {
			return nil, fmt.Errorf("%w: genesis at height %d", ErrBadHeight, header.Height)
		}
		if c.active.Genesis() != nil {
			return nil, ErrSecondGenesis
		}
		return nil, nil
	}
	parent, ok := c.index.Lookup(header.PrevHash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPrevNotFound, header.PrevHash)
	}
	if uint64(header.Height) != parent.Height+1 {
		return nil, fmt.Errorf("%w: got %d, parent at %d", ErrBadHeight, header.Height, parent.Height)
	}
	return parent, nil
}

func (c *Chain) saveNode(n *Node, known bool) error {
	if known {
		return c.index.Update(n)
	}
	return c.index.Add(n)
}
