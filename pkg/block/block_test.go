package block

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

func TestNewBlock_SetsMerkleRoot(t *testing.T) {
	cb := tx.NewCoinbase(1, 10, nil)
	blk := NewBlock(&Header{Height: 1}, []*tx.Transaction{cb})
	assert.Equal(t, cb.Hash(), blk.Header.MerkleRoot)
	assert.Equal(t, blk.Header.Hash(), blk.Hash())
}

func TestHeader_HashCoversFields(t *testing.T) {
	a := &Header{Height: 1}
	b := &Header{Height: 1, Nonce: 1}
	c := &Header{Height: 1, PrevHash: types.Hash{0x01}}
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Bytes(), 88)
}

func TestBlock_IsProofOfStake(t *testing.T) {
	cb := tx.NewCoinbase(2, 0, nil)
	stake := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x05}}).
		AddEmptyOutput().
		AddOutput(10, types.Script{0x51}).
		Build()

	pos := NewBlock(&Header{Height: 2}, []*tx.Transaction{cb, stake})
	pow := NewBlock(&Header{Height: 2}, []*tx.Transaction{cb})
	assert.True(t, pos.IsProofOfStake())
	assert.False(t, pow.IsProofOfStake())
}
