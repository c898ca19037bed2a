package block

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// ComputeMerkleRoot folds transaction ids into a merkle root. Each parent
// is the double SHA-256 of its two children laid end to end; an odd level
// pairs its last entry with itself. No ids gives the zero hash and a single
// id is its own root.
//
// mutated is set when some level holds two equal adjacent entries. Such a
// list shares its root with a shorter one, so a header cannot vouch for it.
func ComputeMerkleRoot(txHashes []types.Hash) (root types.Hash, mutated bool) {
	if len(txHashes) == 0 {
		return types.Hash{}, false
	}

	level := make([]types.Hash, len(txHashes), len(txHashes)+1)
	copy(level, txHashes)

	var pair [2 * types.HashSize]byte
	for len(level) > 1 {
		for i := 0; i+1 < len(level); i += 2 {
			if level[i] == level[i+1] {
				mutated = true
			}
		}
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		for i := 0; i < len(level); i += 2 {
			copy(pair[:types.HashSize], level[i][:])
			copy(pair[types.HashSize:], level[i+1][:])
			level[i/2] = types.Hash(chainhash.DoubleHashH(pair[:]))
		}
		level = level[:len(level)/2]
	}
	return level[0], mutated
}
