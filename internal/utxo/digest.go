package utxo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"slices"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Stats summarizes a full pass over the UTXO set.
type Stats struct {
	Height       uint64
	BestBlock    types.Hash
	Transactions uint64
	Outputs      uint64
	TotalAmount  int64
	// SerializedHash is the double SHA-256 of the canonical set encoding.
	SerializedHash chainhash.Hash
	DiskSize       uint64
}

// HeightLookup resolves a block hash to its height in the block index.
type HeightLookup interface {
	HeightOf(hash types.Hash) (uint64, bool)
}

// HeightLookupFunc adapts a function to HeightLookup.
type HeightLookupFunc func(types.Hash) (uint64, bool)

// HeightOf calls f.
func (f HeightLookupFunc) HeightOf(hash types.Hash) (uint64, bool) { return f(hash) }

// Digest scans the cursor once and returns the set statistics.
//
// The hash covers the best block hash, then for each transaction: txid,
// VARINT(height*4 + coinbase*2 + coinstake), and per output in ascending
// index order VARINT(index+1), the length-prefixed script and
// VARINT(value), closed by VARINT(0).
func Digest(ctx context.Context, cur Cursor, heights HeightLookup) (*Stats, error) {
	best, err := cur.BestBlockHash()
	if err != nil {
		return nil, fmt.Errorf("%w: best block: %v", chainerr.ErrRead, err)
	}
	stats := &Stats{BestBlock: best}
	if !best.IsZero() {
		height, ok := heights.HeightOf(best)
		if !ok {
			return nil, fmt.Errorf("%w: best block %s not in block index", chainerr.ErrRead, best)
		}
		stats.Height = height
	}

	d := &digester{h: sha256.New(), stats: stats}
	d.h.Write(best[:])

	for ; cur.Valid(); cur.Next() {
		if err := ctx.Err(); err != nil {
			return nil, chainerr.Cancelled(err)
		}
		rec, err := cur.Record()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chainerr.ErrRead, err)
		}
		if rec.Value < 0 {
			return nil, fmt.Errorf("%w: negative value at %s", chainerr.ErrRead, rec.Outpoint)
		}
		if len(d.group) > 0 {
			switch rec.Outpoint.TxID.Compare(d.group[0].Outpoint.TxID) {
			case -1:
				return nil, fmt.Errorf("%w: cursor out of order at %s", chainerr.ErrRead, rec.Outpoint)
			case 1:
				if err := d.flush(); err != nil {
					return nil, err
				}
			}
		}
		d.group = append(d.group, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chainerr.ErrRead, err)
	}
	if err := d.flush(); err != nil {
		return nil, err
	}

	stats.SerializedHash = chainhash.HashH(d.h.Sum(nil))
	disk, err := cur.EstimateDiskBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: disk size: %v", chainerr.ErrRead, err)
	}
	stats.DiskSize = disk
	return stats, nil
}

type digester struct {
	h     hash.Hash
	stats *Stats
	group []*UTXO
	buf   bytes.Buffer
}

// flush hashes the buffered outputs of one transaction. The header comes
// from the first record seen; outputs are sorted by index and a later
// record for the same index replaces an earlier one.
func (d *digester) flush() error {
	if len(d.group) == 0 {
		return nil
	}
	first := d.group[0]
	outs := slices.Clone(d.group)
	slices.SortStableFunc(outs, func(a, b *UTXO) int {
		switch {
		case a.Outpoint.Index < b.Outpoint.Index:
			return -1
		case a.Outpoint.Index > b.Outpoint.Index:
			return 1
		}
		return 0
	})
	outs = dedupLast(outs)

	d.buf.Reset()
	d.buf.Write(first.Outpoint.TxID[:])
	code := first.Height * 4
	if first.Coinbase {
		code += 2
	}
	if first.Coinstake {
		code++
	}
	d.buf.Write(AppendVarInt(nil, code))

	for _, u := range outs {
		d.buf.Write(AppendVarInt(nil, uint64(u.Outpoint.Index)+1))
		if err := wire.WriteVarBytes(&d.buf, 0, u.Script); err != nil {
			return fmt.Errorf("%w: %v", chainerr.ErrRead, err)
		}
		d.buf.Write(AppendVarInt(nil, uint64(u.Value)))
		d.stats.Outputs++
		d.stats.TotalAmount += u.Value
	}
	d.buf.Write(AppendVarInt(nil, 0))
	d.h.Write(d.buf.Bytes())

	d.stats.Transactions++
	d.group = d.group[:0]
	return nil
}

// dedupLast keeps the last entry of each run of equal indices in a slice
// sorted stably by index.
func dedupLast(outs []*UTXO) []*UTXO {
	out := outs[:0]
	for i, u := range outs {
		if i+1 < len(outs) && outs[i+1].Outpoint.Index == u.Outpoint.Index {
			continue
		}
		out = append(out, u)
	}
	return out
}
