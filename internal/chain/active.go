package chain

import (
	"sync"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// TipHandler is called after the active tip moves.
type TipHandler func(hash types.Hash, height uint64)

// ActiveChain is the chain of nodes from genesis to the current best tip,
// indexed by height.
type ActiveChain struct {
	mu      sync.RWMutex
	chain   []*Node
	handler TipHandler
}

// NewActiveChain returns an empty active chain.
func NewActiveChain() *ActiveChain {
	return &ActiveChain{}
}

// OnTipChange registers fn to run after every SetTip. It replaces any
// previous handler.
func (ac *ActiveChain) OnTipChange(fn TipHandler) {
	ac.mu.Lock()
	ac.handler = fn
	ac.mu.Unlock()
}

// SetTip makes tip the end of the active chain, rewriting every height
// that differs from the previous chain. A nil tip empties the chain.
func (ac *ActiveChain) SetTip(tip *Node) {
	ac.mu.Lock()
	if tip == nil {
		ac.chain = nil
		ac.mu.Unlock()
		return
	}
	if uint64(len(ac.chain)) > tip.Height+1 {
		ac.chain = ac.chain[:tip.Height+1]
	} else {
		for uint64(len(ac.chain)) < tip.Height+1 {
			ac.chain = append(ac.chain, nil)
		}
	}
	for n := tip; n != nil && ac.chain[n.Height] != n; n = n.Parent {
		ac.chain[n.Height] = n
	}
	handler := ac.handler
	ac.mu.Unlock()

	if handler != nil {
		handler(tip.Hash, tip.Height)
	}
}

// Tip returns the last node of the chain, or nil when empty.
func (ac *ActiveChain) Tip() *Node {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if len(ac.chain) == 0 {
		return nil
	}
	return ac.chain[len(ac.chain)-1]
}

// Genesis returns the node at height zero, or nil when empty.
func (ac *ActiveChain) Genesis() *Node {
	return ac.AtHeight(0)
}

// Height returns the tip height, or -1 when the chain is empty.
func (ac *ActiveChain) Height() int64 {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return int64(len(ac.chain)) - 1
}

// AtHeight returns the active node at height, or nil when out of range.
func (ac *ActiveChain) AtHeight(height uint64) *Node {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if height >= uint64(len(ac.chain)) {
		return nil
	}
	return ac.chain[height]
}

// Contains reports whether n is on the active chain.
func (ac *ActiveChain) Contains(n *Node) bool {
	if n == nil {
		return false
	}
	return ac.AtHeight(n.Height) == n
}

// Next returns the active successor of n, or nil when n is the tip or not
// on the active chain.
func (ac *ActiveChain) Next(n *Node) *Node {
	if !ac.Contains(n) {
		return nil
	}
	return ac.AtHeight(n.Height + 1)
}

// FindFork returns the last common ancestor of n and the active chain.
func (ac *ActiveChain) FindFork(n *Node) *Node {
	if n == nil {
		return nil
	}
	if h := ac.Height(); h >= 0 && n.Height > uint64(h) {
		n = n.Ancestor(uint64(h))
	}
	for n != nil && !ac.Contains(n) {
		n = n.Parent
	}
	return n
}
