package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/klingnet-chainstate/internal/blockstats"
	"github.com/Klingon-tech/klingnet-chainstate/internal/node"
	"github.com/Klingon-tech/klingnet-chainstate/internal/utxo"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/tx"
)

type txOutSetResult struct {
	Height         uint64  `json:"height"`
	BestBlock      string  `json:"bestblock"`
	Transactions   uint64  `json:"transactions"`
	TxOuts         uint64  `json:"txouts"`
	HashSerialized string  `json:"hash_serialized"`
	TotalAmount    float64 `json:"total_amount"`
	DiskSize       uint64  `json:"disk_size,omitempty"`
}

func renderTxOutSet(s *utxo.Stats) txOutSetResult {
	return txOutSetResult{
		Height:         s.Height,
		BestBlock:      s.BestBlock.String(),
		Transactions:   s.Transactions,
		TxOuts:         s.Outputs,
		HashSerialized: s.SerializedHash.String(),
		TotalAmount:    btcutil.Amount(s.TotalAmount).ToBTC(),
		DiskSize:       s.DiskSize,
	}
}

type blockSummaryResult struct {
	Height  uint64  `json:"height"`
	Hash    string  `json:"hash"`
	TxCount int     `json:"txcount"`
	Fee     float64 `json:"fee"`
	TxBytes int64   `json:"txbytes"`
}

type rangeStatsResult struct {
	FirstBlock       uint64               `json:"first_block_number"`
	LastBlock        uint64               `json:"last_block_number"`
	TxCount          uint64               `json:"txcount"`
	TxCountAll       uint64               `json:"txcount_all"`
	SpendCount       map[string]int64     `json:"spendcount,omitempty"`
	PublicSpendCount map[string]int64     `json:"publicspendcount,omitempty"`
	TxBytes          int64                `json:"txbytes"`
	TotalFee         float64              `json:"ttlfee"`
	TotalFeeAll      float64              `json:"ttlfee_all"`
	FeePerKB         float64              `json:"feeperkb"`
	Blocks           []blockSummaryResult `json:"blocks,omitempty"`
}

func renderRangeStats(s *blockstats.Stats) rangeStatsResult {
	r := rangeStatsResult{
		FirstBlock:       s.FirstBlock,
		LastBlock:        s.LastBlock,
		TxCount:          s.TxCount,
		TxCountAll:       s.TxCountAll,
		SpendCount:       denomCounts(s.SpendCount),
		PublicSpendCount: denomCounts(s.PublicSpendCount),
		TxBytes:          s.TxBytes,
		TotalFee:         btcutil.Amount(s.TotalFee).ToBTC(),
		TotalFeeAll:      btcutil.Amount(s.TotalFeeAll).ToBTC(),
		FeePerKB:         btcutil.Amount(s.FeePerKB).ToBTC(),
	}
	for _, b := range s.Blocks {
		r.Blocks = append(r.Blocks, blockSummaryResult{
			Height:  b.Height,
			Hash:    b.Hash.String(),
			TxCount: b.TxCount,
			Fee:     btcutil.Amount(b.Fee).ToBTC(),
			TxBytes: b.TxBytes,
		})
	}
	return r
}

// denomCounts keys spend counts as denom_<n>.
func denomCounts(m map[tx.Denomination]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for d, n := range m {
		out[fmt.Sprintf("denom_%d", d)] = n
	}
	return out
}

type supplyResult struct {
	UpdateHeight      uint64  `json:"updateheight"`
	TransparentSupply float64 `json:"transparentsupply"`
	TotalSupply       float64 `json:"totalsupply"`
}

func renderSupply(s *node.SupplyInfo) supplyResult {
	return supplyResult{
		UpdateHeight:      s.UpdateHeight,
		TransparentSupply: btcutil.Amount(s.TransparentSupply).ToBTC(),
		TotalSupply:       btcutil.Amount(s.TotalSupply).ToBTC(),
	}
}
