package blockstats

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chain"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

type countingTxSource struct {
	inner TxSource
	calls atomic.Int64
}

func (c *countingTxSource) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	c.calls.Add(1)
	return c.inner.GetTransaction(hash)
}

func storedBlock(t *testing.T) (*chain.BlockStore, *tx.Transaction) {
	t.Helper()
	bs := chain.NewBlockStore(storage.NewMemory())
	cb := tx.NewCoinbase(0, 50*tx.Coin, payScript)
	pay := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: cb.Hash()}).
		AddOutput(20*tx.Coin, payScript).
		AddOutput(29*tx.Coin, payScript).
		Build()
	blk := block.NewBlock(&block.Header{Version: 1}, []*tx.Transaction{cb, pay})
	require.NoError(t, bs.PutBlock(blk))
	return bs, pay
}

func TestStorePrevOutResolver(t *testing.T) {
	bs, pay := storedBlock(t)
	src := &countingTxSource{inner: bs}
	r := NewStorePrevOutResolver(src, 16, time.Minute)
	ctx := context.Background()

	v, err := r.PrevOutValue(ctx, types.Outpoint{TxID: pay.Hash(), Index: 1})
	require.NoError(t, err)
	assert.Equal(t, 29*tx.Coin, v)

	v, err = r.PrevOutValue(ctx, types.Outpoint{TxID: pay.Hash(), Index: 0})
	require.NoError(t, err)
	assert.Equal(t, 20*tx.Coin, v)

	assert.Equal(t, int64(1), src.calls.Load())
	assert.Equal(t, 1, r.Len())
}

func TestStorePrevOutResolver_Missing(t *testing.T) {
	bs, pay := storedBlock(t)
	r := NewStorePrevOutResolver(bs, 0, time.Minute)
	ctx := context.Background()

	_, err := r.PrevOutValue(ctx, types.Outpoint{TxID: pay.Hash(), Index: 2})
	assert.ErrorIs(t, err, chainerr.ErrPrevOutputMissing)

	_, err = r.PrevOutValue(ctx, types.Outpoint{TxID: types.Hash{0x77}})
	assert.ErrorIs(t, err, chainerr.ErrPrevOutputMissing)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.PrevOutValue(cancelled, types.Outpoint{TxID: pay.Hash()})
	assert.ErrorIs(t, err, chainerr.ErrCancelled)
}

func TestAggregate_WithStoreResolver(t *testing.T) {
	bs, pay := storedBlock(t)
	spend := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: pay.Hash(), Index: 0}).
		AddInput(types.Outpoint{TxID: pay.Hash(), Index: 1}).
		AddOutput(48*tx.Coin, payScript).
		Build()
	f := newFixture([]*tx.Transaction{spend})

	r := NewStorePrevOutResolver(bs, 16, time.Minute)
	go r.Start()
	defer r.Stop()

	stats, err := New(f.active, f.blocks, r, 2).Aggregate(context.Background(), 0, 0, Options{FeesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, tx.Coin, stats.TotalFee)
}
