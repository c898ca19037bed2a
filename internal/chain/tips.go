package chain

import (
	"iter"
	"slices"

	"github.com/dolthub/swiss"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// TipStatus classifies a chain tip.
type TipStatus string

// Tip statuses, in the order they are tested.
const (
	TipActive       TipStatus = "active"
	TipInvalid      TipStatus = "invalid"
	TipHeadersOnly  TipStatus = "headers-only"
	TipValidFork    TipStatus = "valid-fork"
	TipValidHeaders TipStatus = "valid-headers"
	TipUnknown      TipStatus = "unknown"
)

// TipInfo describes one leaf of the block tree.
type TipInfo struct {
	Hash      types.Hash `json:"hash"`
	Height    uint64     `json:"height"`
	BranchLen uint64     `json:"branchlen"`
	Status    TipStatus  `json:"status"`
}

// ResolveTips returns every block with no child in nodes, plus the active
// tip, sorted by height descending and then by hash ascending.
func ResolveTips(nodes iter.Seq[*Node], active *ActiveChain) []TipInfo {
	all := slices.Collect(nodes)

	candidates := swiss.NewMap[types.Hash, *Node](uint32(len(all) + 1))
	for _, n := range all {
		candidates.Put(n.Hash, n)
	}
	for _, n := range all {
		if n.Parent != nil {
			candidates.Delete(n.Parent.Hash)
		}
	}
	if tip := active.Tip(); tip != nil {
		candidates.Put(tip.Hash, tip)
	}

	tips := make([]TipInfo, 0, candidates.Count())
	candidates.Iter(func(_ types.Hash, n *Node) bool {
		fork := active.FindFork(n)
		var branchLen uint64
		if fork != nil {
			branchLen = n.Height - fork.Height
		} else {
			branchLen = n.Height + 1
		}
		tips = append(tips, TipInfo{
			Hash:      n.Hash,
			Height:    n.Height,
			BranchLen: branchLen,
			Status:    tipStatus(n, fork, active),
		})
		return false
	})

	slices.SortFunc(tips, func(a, b TipInfo) int {
		switch {
		case a.Height > b.Height:
			return -1
		case a.Height < b.Height:
			return 1
		}
		return a.Hash.Compare(b.Hash)
	})
	return tips
}

func tipStatus(n, fork *Node, active *ActiveChain) TipStatus {
	if active.Contains(n) {
		return TipActive
	}
	for cur := n; cur != nil && cur != fork; cur = cur.Parent {
		if cur.Status.IsFailed() {
			return TipInvalid
		}
	}
	switch {
	case n.ChainTx == 0:
		return TipHeadersOnly
	case n.Status.IsValid(ValidScripts):
		return TipValidFork
	case n.Status.IsValid(ValidTree):
		return TipValidHeaders
	}
	return TipUnknown
}
