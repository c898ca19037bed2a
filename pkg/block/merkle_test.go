package block

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

func node(a, b types.Hash) types.Hash {
	return types.Hash(chainhash.DoubleHashH(append(a[:], b[:]...)))
}

func TestComputeMerkleRoot_Empty(t *testing.T) {
	root, mutated := ComputeMerkleRoot(nil)
	assert.True(t, root.IsZero())
	assert.False(t, mutated)
}

func TestComputeMerkleRoot_SingleHash(t *testing.T) {
	h := crypto.Hash([]byte("single tx"))
	root, mutated := ComputeMerkleRoot([]types.Hash{h})
	assert.Equal(t, h, root)
	assert.False(t, mutated)
}

func TestComputeMerkleRoot_TwoHashes(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))
	root, mutated := ComputeMerkleRoot([]types.Hash{h1, h2})
	assert.Equal(t, node(h1, h2), root)
	assert.NotEqual(t, node(h2, h1), root, "order matters")
	assert.False(t, mutated)
}

func TestComputeMerkleRoot_OddCountPairsLastWithItself(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))
	h3 := crypto.Hash([]byte("tx3"))

	root, mutated := ComputeMerkleRoot([]types.Hash{h1, h2, h3})
	assert.Equal(t, node(node(h1, h2), node(h3, h3)), root)
	assert.False(t, mutated)
}

func TestComputeMerkleRoot_DuplicatedTailIsMutated(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))
	h3 := crypto.Hash([]byte("tx3"))

	honest, mutated := ComputeMerkleRoot([]types.Hash{h1, h2, h3})
	assert.False(t, mutated)

	forged, mutated := ComputeMerkleRoot([]types.Hash{h1, h2, h3, h3})
	assert.True(t, mutated)
	assert.Equal(t, honest, forged)
}

func TestComputeMerkleRoot_DuplicateOnUpperLevel(t *testing.T) {
	var hs []types.Hash
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		hs = append(hs, crypto.Hash([]byte(s)))
	}
	honest, mutated := ComputeMerkleRoot(hs)
	assert.False(t, mutated)

	// e,f repeated makes the second level end in two equal nodes.
	forged, mutated := ComputeMerkleRoot(append(hs[:6:6], hs[4], hs[5]))
	assert.True(t, mutated)
	assert.Equal(t, honest, forged)
}

func TestComputeMerkleRoot_DoesNotMutateInput(t *testing.T) {
	in := []types.Hash{crypto.Hash([]byte("a")), crypto.Hash([]byte("b")), crypto.Hash([]byte("c"))}
	orig := append([]types.Hash(nil), in...)
	ComputeMerkleRoot(in)
	assert.Equal(t, orig, in)
}
