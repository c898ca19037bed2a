package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-chainstate/internal/blockstats"
	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func regtestArgs(t *testing.T, args ...string) []string {
	return append([]string{"--network", "regtest", "--datadir", t.TempDir(), "--log-level", "disabled"}, args...)
}

// writeChain writes a JSON stream of n+1 linked blocks and returns them.
func writeChain(t *testing.T, n int) ([]*block.Block, string) {
	t.Helper()
	var blocks []*block.Block
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	var prev types.Hash
	for h := uint32(0); h <= uint32(n); h++ {
		cb := tx.NewCoinbase(h, 50*tx.Coin, types.Script{0x76, 0xa9, 0x14, byte(h)})
		blk := block.NewBlock(&block.Header{
			Version:   1,
			PrevHash:  prev,
			Height:    h,
			Timestamp: 1_700_000_000 + uint64(h)*60,
		}, []*tx.Transaction{cb})
		require.NoError(t, enc.Encode(blk))
		blocks = append(blocks, blk)
		prev = blk.Hash()
	}
	path := filepath.Join(t.TempDir(), "blocks.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return blocks, path
}

func TestLoadBlocks_PersistsAcrossInvocations(t *testing.T) {
	blocks, path := writeChain(t, 3)
	base := []string{"--network", "regtest", "--datadir", t.TempDir(), "--log-level", "disabled"}

	out, err := run(t, append(base, "loadblocks", path)...)
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":4,"headers":0,"known":0,"rejected":0}`, out)

	out, err = run(t, append(base, "getblockcount")...)
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(out))

	out, err = run(t, append(base, "getbestblockhash")...)
	require.NoError(t, err)
	assert.Equal(t, `"`+blocks[3].Hash().String()+`"`, strings.TrimSpace(out))

	out, err = run(t, append(base, "loadblocks", path)...)
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":0,"headers":0,"known":4,"rejected":0}`, out)
}

func TestWaitForBlockHeight_ImportsWhileWaiting(t *testing.T) {
	blocks, path := writeChain(t, 3)
	base := []string{"--network", "regtest", "--datadir", t.TempDir(), "--log-level", "disabled"}

	out, err := run(t, append(base, "waitforblockheight", "2", "--blocks", path)...)
	require.NoError(t, err)
	var snap struct {
		Hash   string `json:"hash"`
		Height uint64 `json:"height"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.GreaterOrEqual(t, snap.Height, uint64(2))

	// The stream ran out before height 10; the wait ends at the reached tip.
	out, err = run(t, append(base, "waitforblockheight", "10", "--blocks", path)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, uint64(3), snap.Height)
	assert.Equal(t, blocks[3].Hash().String(), snap.Hash)
}

func TestWaitForNewBlock_StdinStream(t *testing.T) {
	blocks, path := writeChain(t, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(bytes.NewReader(data))
	root.SetArgs([]string{"--network", "regtest", "--datadir", t.TempDir(), "--log-level", "disabled",
		"waitfornewblock", "--blocks", "-", "--timeout", "5s"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var snap struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Contains(t, []string{blocks[0].Hash().String(), blocks[1].Hash().String()}, snap.Hash)
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "--network", "regtest", "--datadir", dir, "initconfig")
	require.NoError(t, err)
	path := filepath.Join(dir, "klingnet.toml")
	assert.Equal(t, path, strings.TrimSpace(out))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "regtest")

	_, err = run(t, "--network", "regtest", "--datadir", dir, "initconfig")
	assert.ErrorContains(t, err, "already exists")
}

func TestInitConfig_UnknownNetwork(t *testing.T) {
	_, err := run(t, "--network", "bogus", "--datadir", t.TempDir(), "initconfig")
	assert.ErrorContains(t, err, "network must be")
}

func TestGetBlockCount_EmptyChain(t *testing.T) {
	out, err := run(t, regtestArgs(t, "getblockcount")...)
	require.NoError(t, err)
	assert.Equal(t, "-1", strings.TrimSpace(out))
}

func TestGetBlockIndexStats_Args(t *testing.T) {
	_, err := run(t, regtestArgs(t, "getblockindexstats", "x", "1")...)
	assert.ErrorContains(t, err, "invalid height")

	_, err = run(t, regtestArgs(t, "getblockindexstats", "1")...)
	assert.Error(t, err)

	_, err = run(t, regtestArgs(t, "getblockindexstats", "0", "1")...)
	assert.ErrorIs(t, err, chainerr.ErrInvalidRange)
}

func TestGetChainTips_EmptyChain(t *testing.T) {
	out, err := run(t, regtestArgs(t, "getchaintips")...)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestRenderRangeStats(t *testing.T) {
	stats := &blockstats.Stats{
		FirstBlock:  3,
		LastBlock:   4,
		TxCount:     2,
		TotalFee:    tx.Coin / 2,
		TotalFeeAll: tx.Coin,
		FeePerKB:    1000,
		SpendCount:  map[tx.Denomination]int64{5: 2, 1000: 0},
		Blocks: []blockstats.BlockSummary{
			{Height: 3, Hash: types.Hash{1}, TxCount: 1, Fee: tx.Coin / 2},
		},
	}
	r := renderRangeStats(stats)
	assert.Equal(t, 0.5, r.TotalFee)
	assert.Equal(t, 1.0, r.TotalFeeAll)
	assert.Equal(t, 0.00001, r.FeePerKB)
	assert.Equal(t, map[string]int64{"denom_5": 2, "denom_1000": 0}, r.SpendCount)
	assert.Nil(t, r.PublicSpendCount)
	require.Len(t, r.Blocks, 1)
	assert.Equal(t, types.Hash{1}.String(), r.Blocks[0].Hash)
	assert.Equal(t, 0.5, r.Blocks[0].Fee)
}
