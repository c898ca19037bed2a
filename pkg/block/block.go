// Package block defines block types.
package block

import (
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Block represents a block in the chain.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
// The header's merkle root is recomputed from the transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	b := &Block{
		Header:       header,
		Transactions: txs,
	}
	header.MerkleRoot, _ = ComputeMerkleRoot(b.TxHashes())
	return b
}

// Hash returns the header hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}

// TxHashes returns the ids of the block's transactions in order.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}

// IsProofOfStake reports whether the block carries a coinstake in the
// second position.
func (b *Block) IsProofOfStake() bool {
	return len(b.Transactions) > 1 && b.Transactions[1].IsCoinStake()
}
