package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/internal/utxo"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

var payScript = types.Script{0x76, 0xa9, 0x14, 0x01, 0x02, 0x03}

func openChain(t *testing.T, db storage.DB) *Chain {
	t.Helper()
	c, err := New(
		NewBlockStore(storage.NewPrefixDB(db, []byte("b/"))),
		utxo.NewStore(storage.NewPrefixDB(db, []byte("c/"))),
		NewIndex(storage.NewPrefixDB(db, []byte("i/"))),
	)
	require.NoError(t, err)
	return c
}

// nextBlock builds a block on parent (nil for genesis). Nonce separates
// sibling blocks; extra transactions follow the coinbase.
func nextBlock(parent *block.Block, nonce uint32, extra ...*tx.Transaction) *block.Block {
	var height uint32
	var prev types.Hash
	if parent != nil {
		height = parent.Header.Height + 1
		prev = parent.Hash()
	}
	txs := append([]*tx.Transaction{tx.NewCoinbase(height, 50*tx.Coin, payScript)}, extra...)
	return block.NewBlock(&block.Header{
		Version:   1,
		PrevHash:  prev,
		Height:    height,
		Timestamp: 1_700_000_000 + uint64(height)*60,
		Nonce:     nonce,
	}, txs)
}

// mainChain processes genesis plus n blocks and returns them in order.
func mainChain(t *testing.T, c *Chain, n int) []*block.Block {
	t.Helper()
	blocks := []*block.Block{nextBlock(nil, 0)}
	require.NoError(t, c.ProcessBlock(blocks[0]))
	for i := 0; i < n; i++ {
		blk := nextBlock(blocks[len(blocks)-1], 0)
		require.NoError(t, c.ProcessBlock(blk))
		blocks = append(blocks, blk)
	}
	return blocks
}

func TestProcessBlock_ExtendsTip(t *testing.T) {
	c := openChain(t, storage.NewMemory())

	var notified []uint64
	c.Active().OnTipChange(func(_ types.Hash, height uint64) {
		notified = append(notified, height)
	})

	blocks := mainChain(t, c, 2)

	assert.Equal(t, int64(2), c.Active().Height())
	assert.Equal(t, blocks[2].Hash(), c.TipHash())
	assert.Equal(t, []uint64{0, 1, 2}, notified)

	best, err := c.UTXOs().BestBlock()
	require.NoError(t, err)
	assert.Equal(t, blocks[2].Hash(), best)

	tip := c.Active().Tip()
	assert.Equal(t, uint64(3), tip.ChainTx)
	assert.True(t, tip.Status.IsValid(ValidScripts))
	assert.Equal(t, int64(3), tip.ChainWork.Int64())

	cb := blocks[1].Transactions[0]
	got, err := c.Blocks().GetTransaction(cb.Hash())
	require.NoError(t, err)
	assert.Equal(t, cb.Hash(), got.Hash())
}

func TestProcessBlock_Rejects(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 1)

	assert.ErrorIs(t, c.ProcessBlock(blocks[1]), ErrBlockKnown)
	assert.ErrorIs(t, c.ProcessBlock(nextBlock(nil, 7)), ErrSecondGenesis)

	orphan := nextBlock(blocks[1], 0)
	orphan.Header.PrevHash = types.Hash{0xee}
	assert.ErrorIs(t, c.ProcessBlock(orphan), ErrPrevNotFound)

	wrongHeight := nextBlock(blocks[1], 0)
	wrongHeight.Header.Height = 5
	assert.ErrorIs(t, c.ProcessBlock(wrongHeight), ErrBadHeight)

	empty := nextBlock(blocks[1], 0)
	empty.Transactions = nil
	assert.ErrorIs(t, c.ProcessBlock(empty), ErrEmptyBlockBody)

	assert.Equal(t, blocks[1].Hash(), c.TipHash())
}

func TestProcessBlock_BadMerkleRootIsInvalidTip(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 2)

	bad := nextBlock(blocks[0], 9)
	bad.Header.MerkleRoot = types.Hash{0x01}
	require.ErrorIs(t, c.ProcessBlock(bad), ErrBadMerkleRoot)

	tips := c.Tips()
	require.Len(t, tips, 2)
	assert.Equal(t, TipActive, tips[0].Status)
	assert.Equal(t, bad.Hash(), tips[1].Hash)
	assert.Equal(t, TipInvalid, tips[1].Status)
	assert.Equal(t, uint64(1), tips[1].BranchLen)

	// Children of an invalid block are invalid too.
	child := nextBlock(bad, 0)
	require.ErrorIs(t, c.ProcessBlock(child), ErrParentInvalid)
	n, ok := c.Index().Lookup(child.Hash())
	require.True(t, ok)
	assert.True(t, n.Status&FailedChild != 0)
}

func TestProcessBlock_MutatedBodyLeavesHeaderValid(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 1)

	spend := func(b *block.Block) *tx.Transaction {
		return tx.NewBuilder().
			AddInput(types.Outpoint{TxID: b.Transactions[0].Hash(), Index: 0}).
			AddOutput(tx.Coin, payScript).
			Build()
	}
	honest := nextBlock(blocks[1], 0, spend(blocks[0]), spend(blocks[1]))
	require.Len(t, honest.Transactions, 3)

	_, err := c.AcceptHeader(honest.Header)
	require.NoError(t, err)

	// Repeating the last transaction keeps the merkle root unchanged.
	forged := &block.Block{
		Header:       honest.Header,
		Transactions: append(honest.Transactions[:3:3], honest.Transactions[2]),
	}
	require.Equal(t, honest.Hash(), forged.Hash())
	require.ErrorIs(t, c.ProcessBlock(forged), ErrMutatedBlock)

	n, ok := c.Index().Lookup(honest.Hash())
	require.True(t, ok)
	assert.False(t, n.Status.IsFailed())
	assert.False(t, n.HasData())
	assert.Equal(t, blocks[1].Hash(), c.TipHash())

	require.NoError(t, c.ProcessBlock(honest))
	assert.Equal(t, honest.Hash(), c.TipHash())
}

func TestAcceptHeader_HeadersOnlyTip(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 1)

	side := nextBlock(blocks[0], 3)
	n, err := c.AcceptHeader(side.Header)
	require.NoError(t, err)
	assert.False(t, n.HasData())

	_, err = c.AcceptHeader(side.Header)
	assert.ErrorIs(t, err, ErrBlockKnown)

	tips := c.Tips()
	require.Len(t, tips, 2)
	// Equal heights sort by hash.
	for _, tip := range tips {
		if tip.Hash == side.Hash() {
			assert.Equal(t, TipHeadersOnly, tip.Status)
		} else {
			assert.Equal(t, TipActive, tip.Status)
		}
	}

	// Supplying the data turns it into an ordinary side branch.
	require.NoError(t, c.ProcessBlock(side))
	assert.Equal(t, blocks[1].Hash(), c.TipHash())
	for _, tip := range c.Tips() {
		if tip.Hash == side.Hash() {
			assert.Equal(t, TipValidHeaders, tip.Status)
		}
	}
}

func TestProcessBlock_LinksWaitingDescendants(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 0)
	b1 := nextBlock(blocks[0], 0)
	b2 := nextBlock(b1, 0)

	_, err := c.AcceptHeader(b1.Header)
	require.NoError(t, err)
	// b2 arrives before its parent's data and cannot be connected yet.
	require.NoError(t, c.ProcessBlock(b2))
	assert.Equal(t, blocks[0].Hash(), c.TipHash())
	n2, ok := c.Index().Lookup(b2.Hash())
	require.True(t, ok)
	assert.Zero(t, n2.ChainTx)

	require.NoError(t, c.ProcessBlock(b1))
	assert.Equal(t, b2.Hash(), c.TipHash())
	assert.Equal(t, int64(2), c.Active().Height())
	assert.Equal(t, uint64(3), n2.ChainTx)

	tips := c.Tips()
	require.Len(t, tips, 1)
	assert.Equal(t, TipActive, tips[0].Status)
}

func TestProcessBlock_Reorg(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 2) // g, a1, a2

	var changes int
	c.Active().OnTipChange(func(types.Hash, uint64) { changes++ })

	// Equal work stays on the first-seen chain.
	b2 := nextBlock(blocks[1], 1)
	require.NoError(t, c.ProcessBlock(b2))
	assert.Equal(t, blocks[2].Hash(), c.TipHash())
	assert.Zero(t, changes)

	b3 := nextBlock(b2, 1)
	require.NoError(t, c.ProcessBlock(b3))
	assert.Equal(t, b3.Hash(), c.TipHash())
	assert.Equal(t, 1, changes)

	best, err := c.UTXOs().BestBlock()
	require.NoError(t, err)
	assert.Equal(t, b3.Hash(), best)

	tips := c.Tips()
	require.Len(t, tips, 2)
	assert.Equal(t, TipInfo{Hash: b3.Hash(), Height: 3, BranchLen: 0, Status: TipActive}, tips[0])
	assert.Equal(t, TipInfo{Hash: blocks[2].Hash(), Height: 2, BranchLen: 1, Status: TipValidFork}, tips[1])

	b2Node, _ := c.Index().Lookup(b2.Hash())
	assert.True(t, c.Active().Contains(b2Node))
	assert.Equal(t, b2Node, c.Active().AtHeight(2))
}

func TestProcessBlock_FailedReorgKeepsChain(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	blocks := mainChain(t, c, 2)

	spendMissing := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0xab}, Index: 0}).
		AddOutput(tx.Coin, payScript).
		Build()
	b2 := nextBlock(blocks[1], 1, spendMissing)
	require.NoError(t, c.ProcessBlock(b2))

	b3 := nextBlock(b2, 1)
	err := c.ProcessBlock(b3)
	require.ErrorIs(t, err, ErrApplyUTXO)

	assert.Equal(t, blocks[2].Hash(), c.TipHash())
	best, err := c.UTXOs().BestBlock()
	require.NoError(t, err)
	assert.Equal(t, blocks[2].Hash(), best)

	b2Node, _ := c.Index().Lookup(b2.Hash())
	b3Node, _ := c.Index().Lookup(b3.Hash())
	assert.True(t, b2Node.Status&FailedValid != 0)
	assert.True(t, b3Node.Status&FailedChild != 0)

	tips := c.Tips()
	require.Len(t, tips, 2)
	assert.Equal(t, TipInvalid, tips[0].Status)
	assert.Equal(t, uint64(2), tips[0].BranchLen)
}

func TestNew_RestoresState(t *testing.T) {
	db := storage.NewMemory()
	c := openChain(t, db)
	blocks := mainChain(t, c, 3)
	require.NoError(t, c.ProcessBlock(nextBlock(blocks[1], 4)))
	wantTips := c.Tips()

	reopened := openChain(t, db)
	assert.Equal(t, blocks[3].Hash(), reopened.TipHash())
	assert.Equal(t, c.Index().Len(), reopened.Index().Len())
	assert.Equal(t, wantTips, reopened.Tips())

	tip := reopened.Active().Tip()
	assert.Equal(t, int64(4), tip.ChainWork.Int64())
	assert.Equal(t, reopened.Active().Genesis(), tip.Ancestor(0))
}

func TestNew_RebuildsStaleUTXOSet(t *testing.T) {
	db := storage.NewMemory()
	c := openChain(t, db)
	blocks := mainChain(t, c, 2)
	require.NoError(t, c.UTXOs().ClearAll())

	reopened := openChain(t, db)
	best, err := reopened.UTXOs().BestBlock()
	require.NoError(t, err)
	assert.Equal(t, blocks[2].Hash(), best)

	var count int
	require.NoError(t, reopened.UTXOs().ForEach(func(*utxo.UTXO) error {
		count++
		return nil
	}))
	assert.Equal(t, 3, count)
}

func TestNew_EmptyDatabase(t *testing.T) {
	c := openChain(t, storage.NewMemory())
	assert.Equal(t, int64(-1), c.Active().Height())
	assert.True(t, c.TipHash().IsZero())
	assert.Empty(t, c.Tips())
}

func TestBlockStore_ReadBlock(t *testing.T) {
	bs := NewBlockStore(storage.NewMemory())
	blk := nextBlock(nil, 0)
	require.NoError(t, bs.PutBlock(blk))

	got, err := bs.ReadBlock(&Node{Hash: blk.Hash()})
	require.NoError(t, err)
	assert.Equal(t, blk.Hash(), got.Hash())

	_, err = bs.ReadBlock(&Node{Hash: types.Hash{0x42}, Height: 7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chainerr.ErrBlockRead))

	tip, err := bs.GetTip()
	require.NoError(t, err)
	assert.True(t, tip.IsZero())
}

func TestActiveChain(t *testing.T) {
	f, active := newForest()

	assert.Equal(t, int64(3), active.Height())
	assert.Equal(t, f["R"], active.Genesis())
	assert.Equal(t, f["B"], active.Next(f["A"]))
	assert.Nil(t, active.Next(f["C"]))
	assert.Nil(t, active.AtHeight(4))

	d := f.add("D", "A", connected, 3)
	e := f.add("E", "D", connected, 4)
	x := f.add("X", "E", connected, 5)
	assert.Equal(t, f["A"], active.FindFork(x))
	assert.Nil(t, active.Next(d))

	var got []uint64
	active.OnTipChange(func(_ types.Hash, h uint64) { got = append(got, h) })
	active.SetTip(e)
	assert.Equal(t, int64(3), active.Height())
	assert.True(t, active.Contains(d))
	assert.False(t, active.Contains(f["B"]))
	assert.Equal(t, []uint64{3}, got)

	active.SetTip(f["A"])
	assert.Equal(t, int64(1), active.Height())
	assert.False(t, active.Contains(d))

	active.SetTip(nil)
	assert.Nil(t, active.Tip())
	assert.Equal(t, int64(-1), active.Height())
}
