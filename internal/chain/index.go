package chain

import (
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

var prefixNode = []byte("n/") // n/<hash(32)> -> Node JSON

// Index is the in-memory block index, persisted node by node.
type Index struct {
	mu    sync.RWMutex
	db    storage.DB
	nodes map[types.Hash]*Node
}

// NewIndex creates an empty index backed by db.
func NewIndex(db storage.DB) *Index {
	return &Index{db: db, nodes: make(map[types.Hash]*Node)}
}

// Load reads every stored node and links parents. Nodes are linked in
// height order so a parent is always present before its children.
func (idx *Index) Load() error {
	var nodes []*Node
	err := idx.db.ForEach(prefixNode, func(_, value []byte) error {
		var n Node
		if err := json.Unmarshal(value, &n); err != nil {
			return fmt.Errorf("node unmarshal: %w", err)
		}
		nodes = append(nodes, &n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load block index: %w", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Height < nodes[j].Height })

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, n := range nodes {
		if !n.PrevHash.IsZero() {
			parent, ok := idx.nodes[n.PrevHash]
			if !ok {
				return fmt.Errorf("block index: %s at height %d has unknown parent %s", n.Hash, n.Height, n.PrevHash)
			}
			n.Parent = parent
		}
		idx.nodes[n.Hash] = n
	}
	return nil
}

// Add inserts n, links its parent and persists it.
func (idx *Index) Add(n *Node) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !n.PrevHash.IsZero() && n.Parent == nil {
		parent, ok := idx.nodes[n.PrevHash]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPrevNotFound, n.PrevHash)
		}
		n.Parent = parent
	}
	if err := idx.persist(n); err != nil {
		return err
	}
	idx.nodes[n.Hash] = n
	return nil
}

// Update persists changes made to nodes already in the index.
func (idx *Index) Update(nodes ...*Node) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, n := range nodes {
		if err := idx.persist(n); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) persist(n *Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("node marshal: %w", err)
	}
	if err := idx.db.Put(nodeKey(n.Hash), data); err != nil {
		return fmt.Errorf("node put: %w", err)
	}
	return nil
}

// Lookup returns the node for hash.
func (idx *Index) Lookup(hash types.Hash) (*Node, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[hash]
	return n, ok
}

// HeightOf returns the height of the block with the given hash.
func (idx *Index) HeightOf(hash types.Hash) (uint64, bool) {
	n, ok := idx.Lookup(hash)
	if !ok {
		return 0, false
	}
	return n.Height, true
}

// Len returns the number of indexed blocks.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Nodes returns a sequence over a snapshot of all indexed nodes.
func (idx *Index) Nodes() iter.Seq[*Node] {
	idx.mu.RLock()
	snapshot := make([]*Node, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		snapshot = append(snapshot, n)
	}
	idx.mu.RUnlock()

	return func(yield func(*Node) bool) {
		for _, n := range snapshot {
			if !yield(n) {
				return
			}
		}
	}
}

// Tips resolves the chain tips of the whole index against active.
func (idx *Index) Tips(active *ActiveChain) []TipInfo {
	return ResolveTips(idx.Nodes(), active)
}

func nodeKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixNode)+types.HashSize)
	copy(key, prefixNode)
	copy(key[len(prefixNode):], hash[:])
	return key
}
