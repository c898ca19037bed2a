package blockstats

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chain"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

var payScript = types.Script{0x76, 0xa9, 0x14, 0xaa}

// memBlocks serves blocks from a map and fails for anything else.
type memBlocks map[types.Hash]*block.Block

func (m memBlocks) ReadBlock(n *chain.Node) (*block.Block, error) {
	blk, ok := m[n.Hash]
	if !ok {
		return nil, fmt.Errorf("%w: height %d", chainerr.ErrBlockRead, n.Height)
	}
	return blk, nil
}

// memPrevOuts resolves outputs from a map and counts lookups.
type memPrevOuts struct {
	values map[types.Outpoint]int64
	calls  atomic.Int64
}

func (m *memPrevOuts) PrevOutValue(_ context.Context, op types.Outpoint) (int64, error) {
	m.calls.Add(1)
	v, ok := m.values[op]
	if !ok {
		return 0, fmt.Errorf("%w: %s", chainerr.ErrPrevOutputMissing, op)
	}
	return v, nil
}

type fixture struct {
	active   *chain.ActiveChain
	blocks   memBlocks
	prevouts *memPrevOuts
	nodes    []*chain.Node
}

// newFixture lays out one block per entry of bodies, with a coinbase
// prepended to each.
func newFixture(bodies ...[]*tx.Transaction) *fixture {
	f := &fixture{
		active:   chain.NewActiveChain(),
		blocks:   memBlocks{},
		prevouts: &memPrevOuts{values: map[types.Outpoint]int64{}},
	}
	var parent *chain.Node
	for h, body := range bodies {
		header := &block.Header{Version: 1, Height: uint32(h)}
		if parent != nil {
			header.PrevHash = parent.Hash
		}
		txs := append([]*tx.Transaction{tx.NewCoinbase(uint32(h), 50*tx.Coin, payScript)}, body...)
		blk := block.NewBlock(header, txs)
		n := chain.NewNode(header, parent)
		f.blocks[n.Hash] = blk
		f.nodes = append(f.nodes, n)
		parent = n
	}
	f.active.SetTip(parent)
	return f
}

func (f *fixture) aggregator() *Aggregator {
	return New(f.active, f.blocks, f.prevouts, 4)
}

// funded returns an outpoint the resolver knows to be worth value.
func (f *fixture) funded(tag byte, value int64) types.Outpoint {
	op := types.Outpoint{TxID: types.Hash{0xf0, tag}, Index: uint32(tag)}
	f.prevouts.values[op] = value
	return op
}

func coinstake(op types.Outpoint, value int64) *tx.Transaction {
	return tx.NewBuilder().AddInput(op).AddEmptyOutput().AddOutput(value, payScript).Build()
}

func TestAggregate_CoinbaseAndCoinstakeOnly(t *testing.T) {
	f := newFixture(nil, []*tx.Transaction{coinstake(types.Outpoint{TxID: types.Hash{0x01}}, 10)})

	stats, err := f.aggregator().Aggregate(context.Background(), 1, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.TxCount)
	assert.Equal(t, uint64(2), stats.TxCountAll)
	assert.Zero(t, stats.TotalFee)
	assert.Zero(t, stats.TotalFeeAll)
	assert.Zero(t, stats.FeePerKB)
	assert.Zero(t, f.prevouts.calls.Load())
}

func TestAggregate_OrdinaryFee(t *testing.T) {
	f := newFixture(nil, nil)
	a, b := f.funded(1, 5), f.funded(2, 3)
	spend := tx.NewBuilder().AddInput(a).AddInput(b).AddOutput(7, payScript).Build()
	f = rebuild(f, nil, []*tx.Transaction{spend})

	stats, err := f.aggregator().Aggregate(context.Background(), 0, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.FirstBlock)
	assert.Equal(t, uint64(1), stats.LastBlock)
	assert.Equal(t, uint64(1), stats.TxCount)
	assert.Equal(t, uint64(3), stats.TxCountAll)
	assert.Equal(t, int64(1), stats.TotalFee)
	assert.Equal(t, int64(1), stats.TotalFeeAll)
	assert.Equal(t, int64(spend.SerializeSize()), stats.TxBytes)
	assert.Equal(t, tx.FeePerKB(1, stats.TxBytes), stats.FeePerKB)
}

// rebuild makes a fresh fixture with bodies but keeps f's funded outputs.
func rebuild(f *fixture, bodies ...[]*tx.Transaction) *fixture {
	nf := newFixture(bodies...)
	nf.prevouts.values = f.prevouts.values
	return nf
}

func TestAggregate_ZerocoinAccounting(t *testing.T) {
	f := newFixture()
	mintIn := f.funded(1, 1000)
	plainIn := f.funded(2, 600)
	pubIn := f.funded(3, 100)

	privateSpend := tx.NewBuilder().
		AddZerocoinSpend(10).
		AddOutput(10*tx.Coin, payScript).
		Build()
	publicSpend := tx.NewBuilder().
		AddZerocoinPublicSpend(pubIn, 5).
		AddZerocoinSpend(5).
		AddOutput(5, payScript).
		Build()
	mint := tx.NewBuilder().
		AddInput(mintIn).
		AddZerocoinMint(900).
		Build()
	plain := tx.NewBuilder().
		AddInput(plainIn).
		AddOutput(550, payScript).
		Build()
	f = rebuild(f, []*tx.Transaction{privateSpend, publicSpend}, []*tx.Transaction{mint, plain})

	stats, err := f.aggregator().Aggregate(context.Background(), 0, 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, uint64(4), stats.TxCount)
	assert.Equal(t, int64(1), stats.SpendCount[10])
	assert.Equal(t, int64(1), stats.SpendCount[5])
	assert.Equal(t, int64(1), stats.PublicSpendCount[5])
	assert.Zero(t, stats.PublicSpendCount[10])
	assert.Len(t, stats.SpendCount, len(tx.Denominations))

	// Spends carry no fee. The mint pays 100 but only counts toward the
	// all-inclusive total.
	assert.Equal(t, int64(50), stats.TotalFee)
	assert.Equal(t, int64(150), stats.TotalFeeAll)
	assert.Equal(t, int64(plain.SerializeSize()), stats.TxBytes)

	// Only the regular inputs of the mint and the plain transfer are looked up.
	assert.Equal(t, int64(2), f.prevouts.calls.Load())
}

func TestAggregate_FeesOnlySkipsCounters(t *testing.T) {
	f := newFixture([]*tx.Transaction{tx.NewBuilder().AddZerocoinSpend(100).AddOutput(1, payScript).Build()})

	stats, err := f.aggregator().Aggregate(context.Background(), 0, 0, Options{FeesOnly: true})
	require.NoError(t, err)
	assert.Nil(t, stats.SpendCount)
	assert.Nil(t, stats.PublicSpendCount)
	assert.Equal(t, uint64(1), stats.TxCount)
}

func TestAggregate_Verbose(t *testing.T) {
	f := newFixture()
	in := f.funded(1, 40)
	f = rebuild(f, nil, []*tx.Transaction{tx.NewBuilder().AddInput(in).AddOutput(30, payScript).Build()}, nil)

	stats, err := f.aggregator().Aggregate(context.Background(), 0, 2, Options{Verbose: true})
	require.NoError(t, err)
	require.Len(t, stats.Blocks, 3)
	for i, b := range stats.Blocks {
		assert.Equal(t, uint64(i), b.Height)
		assert.Equal(t, f.nodes[i].Hash, b.Hash)
	}
	assert.Equal(t, int64(10), stats.Blocks[1].Fee)
	assert.Zero(t, stats.Blocks[2].Fee)
}

func TestAggregate_Errors(t *testing.T) {
	f := newFixture(nil, nil, nil)
	agg := f.aggregator()
	ctx := context.Background()

	_, err := agg.Aggregate(ctx, 2, 1, Options{})
	assert.ErrorIs(t, err, chainerr.ErrInvalidRange)

	_, err = agg.Aggregate(ctx, 0, 3, Options{})
	assert.ErrorIs(t, err, chainerr.ErrInvalidRange)

	delete(f.blocks, f.nodes[1].Hash)
	_, err = agg.Aggregate(ctx, 0, 2, Options{})
	assert.ErrorIs(t, err, chainerr.ErrBlockRead)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	stats, err := agg.Aggregate(cancelled, 0, 0, Options{})
	assert.Nil(t, stats)
	assert.ErrorIs(t, err, chainerr.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregate_MissingPrevOut(t *testing.T) {
	spend := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0xde, 0xad}}).
		AddOutput(1, payScript).
		Build()
	f := newFixture([]*tx.Transaction{spend})

	stats, err := f.aggregator().Aggregate(context.Background(), 0, 0, Options{})
	assert.Nil(t, stats)
	assert.ErrorIs(t, err, chainerr.ErrPrevOutputMissing)
}

func TestAggregate_EmptyChain(t *testing.T) {
	agg := New(chain.NewActiveChain(), memBlocks{}, &memPrevOuts{}, 0)
	_, err := agg.Aggregate(context.Background(), 0, 0, Options{})
	assert.ErrorIs(t, err, chainerr.ErrInvalidRange)
}

func TestFeeInfo(t *testing.T) {
	f := newFixture(nil, nil, nil, nil, nil) // best height 4
	agg := f.aggregator()

	stats, err := agg.FeeInfo(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.FirstBlock)
	assert.Equal(t, uint64(3), stats.LastBlock)
	assert.Nil(t, stats.SpendCount)

	for _, blocks := range []int64{-1, 0, 4, 10} {
		_, err := agg.FeeInfo(context.Background(), blocks)
		assert.ErrorIs(t, err, chainerr.ErrInvalidRange, "blocks=%d", blocks)
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name      string
		start     int64
		rangeLen  int64
		best      uint64
		minStart  uint64
		wantStart uint64
		wantEnd   uint64
		wantErr   bool
	}{
		{name: "inside", start: 3, rangeLen: 4, best: 10, minStart: 1, wantStart: 3, wantEnd: 6},
		{name: "up to tip", start: 8, rangeLen: 3, best: 10, minStart: 1, wantStart: 8, wantEnd: 10},
		{name: "clamped to min start", start: 0, rangeLen: 5, best: 10, minStart: 1, wantStart: 1, wantEnd: 4},
		{name: "below min start", start: 0, rangeLen: 1, best: 10, minStart: 1, wantStart: 0, wantEnd: 0},
		{name: "start past tip", start: 11, rangeLen: 1, best: 10, minStart: 1, wantErr: true},
		{name: "zero range", start: 2, rangeLen: 0, best: 10, minStart: 1, wantErr: true},
		{name: "end past tip", start: 8, rangeLen: 4, best: 10, minStart: 1, wantErr: true},
		{name: "negative start", start: -5, rangeLen: 2, best: 10, minStart: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ValidateRange(tt.start, tt.rangeLen, tt.best, tt.minStart)
			if tt.wantErr {
				assert.ErrorIs(t, err, chainerr.ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}
