package chain

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Node is one entry of the block index. Parent is resolved when the node
// is added to an Index; the genesis node has a zero PrevHash and no parent.
type Node struct {
	Hash      types.Hash  `json:"hash"`
	PrevHash  types.Hash  `json:"prev_hash"`
	Height    uint64      `json:"height"`
	Bits      uint32      `json:"bits"`
	ChainWork *big.Int    `json:"chain_work"`
	Status    BlockStatus `json:"status"`
	// ChainTx is the number of transactions in the chain up to and
	// including this block. Zero means the block or an ancestor has no data.
	ChainTx uint64 `json:"chain_tx"`

	Parent *Node `json:"-"`
}

// NewNode builds an index node for header on top of parent, which is nil
// for genesis. The node starts with ValidTree and no data.
func NewNode(header *block.Header, parent *Node) *Node {
	n := &Node{
		Hash:     header.Hash(),
		PrevHash: header.PrevHash,
		Height:   uint64(header.Height),
		Bits:     header.Bits,
		Status:   ValidTree,
		Parent:   parent,
	}
	work := blockchain.CalcWork(header.Bits)
	if work.Sign() == 0 {
		// Headers without a target still count as one unit of work.
		work.SetInt64(1)
	}
	if parent != nil && parent.ChainWork != nil {
		work.Add(work, parent.ChainWork)
	}
	n.ChainWork = work
	return n
}

// Ancestor returns the ancestor of n at height, or nil when height is
// above n.
func (n *Node) Ancestor(height uint64) *Node {
	if n == nil || height > n.Height {
		return nil
	}
	cur := n
	for cur != nil && cur.Height > height {
		cur = cur.Parent
	}
	return cur
}

// HasData reports whether the full block is stored.
func (n *Node) HasData() bool { return n.Status&HaveData != 0 }

// moreWork reports whether a has strictly more accumulated work than b.
func moreWork(a, b *Node) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	return a.ChainWork.Cmp(b.ChainWork) > 0
}
