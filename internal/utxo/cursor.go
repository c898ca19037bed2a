package utxo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Cursor is a read-only, forward-only view over a snapshot of the UTXO
// set. Records are ordered by txid, so all outputs of one transaction are
// adjacent.
type Cursor interface {
	Valid() bool
	Next()
	// Record decodes the current entry.
	Record() (*UTXO, error)
	// Err reports an error that ended iteration early.
	Err() error
	BestBlockHash() (types.Hash, error)
	EstimateDiskBytes() (uint64, error)
	Close() error
}

// StoreCursor walks the records of a Store through a storage iterator.
type StoreCursor struct {
	it    storage.Iterator
	db    storage.DB
	best  types.Hash
	key   []byte
	value []byte
	valid bool
}

// Valid reports whether the cursor is positioned on a record.
func (c *StoreCursor) Valid() bool { return c.valid }

// Next advances to the next record.
func (c *StoreCursor) Next() {
	c.valid = c.it.Next()
	if c.valid {
		c.key, c.value = c.it.Key(), c.it.Value()
	} else {
		c.key, c.value = nil, nil
	}
}

// Record decodes the current entry. The outpoint comes from the key.
func (c *StoreCursor) Record() (*UTXO, error) {
	if !c.valid {
		return nil, fmt.Errorf("cursor exhausted")
	}
	if !bytes.HasPrefix(c.key, prefixUTXO) {
		return nil, fmt.Errorf("unexpected key %x", c.key)
	}
	op, ok := parseUTXOKey(c.key)
	if !ok {
		return nil, fmt.Errorf("malformed utxo key %x", c.key)
	}
	var u UTXO
	if err := json.Unmarshal(c.value, &u); err != nil {
		return nil, fmt.Errorf("decode utxo %s: %w", op, err)
	}
	u.Outpoint = op
	return &u, nil
}

// Err returns the iterator error, if any.
func (c *StoreCursor) Err() error { return c.it.Error() }

// BestBlockHash returns the best block recorded when the cursor opened.
func (c *StoreCursor) BestBlockHash() (types.Hash, error) { return c.best, nil }

// EstimateDiskBytes asks the database for the footprint of the UTXO
// keyspace. Databases without size estimates report zero.
func (c *StoreCursor) EstimateDiskBytes() (uint64, error) {
	sizer, ok := c.db.(storage.Sizer)
	if !ok {
		return 0, nil
	}
	n, err := sizer.EstimateSize(prefixUTXO)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return uint64(n), nil
}

// Close releases the underlying snapshot.
func (c *StoreCursor) Close() error {
	c.it.Release()
	c.valid = false
	return nil
}

// SliceCursor serves records from memory. Records are sorted by outpoint
// on construction, so callers may pass them in any order.
type SliceCursor struct {
	records   []*UTXO
	pos       int
	best      types.Hash
	diskBytes uint64
}

// NewSliceCursor returns a cursor over a sorted copy of records.
func NewSliceCursor(best types.Hash, records []*UTXO, diskBytes uint64) *SliceCursor {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b *UTXO) int {
		if c := a.Outpoint.TxID.Compare(b.Outpoint.TxID); c != 0 {
			return c
		}
		switch {
		case a.Outpoint.Index < b.Outpoint.Index:
			return -1
		case a.Outpoint.Index > b.Outpoint.Index:
			return 1
		}
		return 0
	})
	return &SliceCursor{records: sorted, best: best, diskBytes: diskBytes}
}

func (c *SliceCursor) Valid() bool { return c.pos < len(c.records) }
func (c *SliceCursor) Next()       { c.pos++ }
func (c *SliceCursor) Err() error  { return nil }
func (c *SliceCursor) Close() error {
	c.pos = len(c.records)
	return nil
}

func (c *SliceCursor) Record() (*UTXO, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cursor exhausted")
	}
	u := *c.records[c.pos]
	return &u, nil
}

func (c *SliceCursor) BestBlockHash() (types.Hash, error)   { return c.best, nil }
func (c *SliceCursor) EstimateDiskBytes() (uint64, error) { return c.diskBytes, nil }
