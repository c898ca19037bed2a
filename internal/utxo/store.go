package utxo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chainstate/internal/storage"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/block"
	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Key layout for the UTXO store.
var (
	prefixUTXO = []byte("u/") // u/<txid><index> -> UTXO JSON
	keyBest    = []byte("best")
)

// utxoKeySize is the length of a UTXO key: prefix + txid(32) + index(4).
var utxoKeySize = len(prefixUTXO) + types.OutpointSize

// Store implements Set backed by a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a new UTXO store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// utxoKey builds a storage key for an outpoint: "u/" + txid(32) + index(4).
// Index is big-endian so keys sort by txid, then by output index.
func utxoKey(op types.Outpoint) []byte {
	key := make([]byte, utxoKeySize)
	copy(key, prefixUTXO)
	copy(key[len(prefixUTXO):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixUTXO)+types.HashSize:], op.Index)
	return key
}

// parseUTXOKey recovers the outpoint from a key without the "u/" prefix
// check. It returns false for keys of the wrong length.
func parseUTXOKey(key []byte) (types.Outpoint, bool) {
	if len(key) != utxoKeySize {
		return types.Outpoint{}, false
	}
	var op types.Outpoint
	copy(op.TxID[:], key[len(prefixUTXO):])
	op.Index = binary.BigEndian.Uint32(key[len(prefixUTXO)+types.HashSize:])
	return op, true
}

// Get retrieves a UTXO by its outpoint.
func (s *Store) Get(outpoint types.Outpoint) (*UTXO, error) {
	data, err := s.db.Get(utxoKey(outpoint))
	if err != nil {
		return nil, fmt.Errorf("utxo get: %w", err)
	}
	var u UTXO
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("utxo unmarshal: %w", err)
	}
	u.Outpoint = outpoint
	return &u, nil
}

// Put stores a UTXO.
func (s *Store) Put(u *UTXO) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("utxo marshal: %w", err)
	}
	if err := s.db.Put(utxoKey(u.Outpoint), data); err != nil {
		return fmt.Errorf("utxo put: %w", err)
	}
	return nil
}

// Delete removes a UTXO.
func (s *Store) Delete(outpoint types.Outpoint) error {
	if err := s.db.Delete(utxoKey(outpoint)); err != nil {
		return fmt.Errorf("utxo delete: %w", err)
	}
	return nil
}

// Has checks if a UTXO exists for the given outpoint.
func (s *Store) Has(outpoint types.Outpoint) (bool, error) {
	return s.db.Has(utxoKey(outpoint))
}

// ForEach iterates over all UTXOs in key order.
func (s *Store) ForEach(fn func(*UTXO) error) error {
	return s.db.ForEach(prefixUTXO, func(key, value []byte) error {
		op, ok := parseUTXOKey(key)
		if !ok {
			return fmt.Errorf("malformed utxo key %x", key)
		}
		var u UTXO
		if err := json.Unmarshal(value, &u); err != nil {
			return fmt.Errorf("utxo unmarshal: %w", err)
		}
		u.Outpoint = op
		return fn(&u)
	})
}

// BestBlock returns the hash of the block the UTXO set reflects.
// A store that never had a block applied returns the zero hash.
func (s *Store) BestBlock() (types.Hash, error) {
	data, err := s.db.Get(keyBest)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("utxo best block: %w", err)
	}
	return types.HashFromBytes(data)
}

// SetBestBlock records the block the UTXO set reflects.
func (s *Store) SetBestBlock(hash types.Hash) error {
	if err := s.db.Put(keyBest, hash[:]); err != nil {
		return fmt.Errorf("utxo set best block: %w", err)
	}
	return nil
}

// ApplyBlock spends the inputs and adds the outputs of blk at the given
// height, then moves the best block marker to blk. Writes go through one
// batch when the database supports it.
//
// Coinstake marker outputs and OP_RETURN outputs never enter the set.
func (s *Store) ApplyBlock(blk *block.Block, height uint64) error {
	created := make(map[types.Outpoint]*UTXO)
	var order []types.Outpoint
	var spent []types.Outpoint

	for _, t := range blk.Transactions {
		if !t.IsCoinBase() {
			for i := range t.Inputs {
				in := &t.Inputs[i]
				if in.PrevOut.IsNull() {
					continue
				}
				if _, ok := created[in.PrevOut]; ok {
					delete(created, in.PrevOut)
					continue
				}
				ok, err := s.Has(in.PrevOut)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("block %s spends missing output %s", blk.Hash(), in.PrevOut)
				}
				spent = append(spent, in.PrevOut)
			}
		}

		txid := t.Hash()
		coinbase, coinstake := t.IsCoinBase(), t.IsCoinStake()
		for i, out := range t.Outputs {
			if out.IsEmpty() || isUnspendable(out.Script) {
				continue
			}
			op := types.Outpoint{TxID: txid, Index: uint32(i)}
			created[op] = &UTXO{
				Outpoint:  op,
				Value:     out.Value,
				Script:    out.Script,
				Height:    height,
				Coinbase:  coinbase,
				Coinstake: coinstake,
			}
			order = append(order, op)
		}
	}

	w := s.writer()
	for _, op := range spent {
		if err := w.Delete(utxoKey(op)); err != nil {
			return fmt.Errorf("utxo delete: %w", err)
		}
	}
	for _, op := range order {
		u, ok := created[op]
		if !ok {
			continue
		}
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("utxo marshal: %w", err)
		}
		if err := w.Put(utxoKey(op), data); err != nil {
			return fmt.Errorf("utxo put: %w", err)
		}
	}
	hash := blk.Hash()
	if err := w.Put(keyBest, hash[:]); err != nil {
		return fmt.Errorf("utxo set best block: %w", err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("utxo apply block %s: %w", hash, err)
	}
	return nil
}

// Cursor opens an ordered cursor over a snapshot of the set.
func (s *Store) Cursor() (*StoreCursor, error) {
	best, err := s.BestBlock()
	if err != nil {
		return nil, err
	}
	it, err := s.db.NewIterator(prefixUTXO)
	if err != nil {
		return nil, fmt.Errorf("utxo cursor: %w", err)
	}
	c := &StoreCursor{it: it, best: best, db: s.db}
	c.Next()
	return c, nil
}

// ClearAll removes all UTXOs and the best block marker.
func (s *Store) ClearAll() error {
	if err := storage.DeletePrefix(s.db, prefixUTXO); err != nil {
		return fmt.Errorf("clear utxo set: %w", err)
	}
	if err := s.db.Delete(keyBest); err != nil {
		return fmt.Errorf("clear best block: %w", err)
	}
	return nil
}

const opReturn = 0x6a

func isUnspendable(script types.Script) bool {
	return len(script) > 0 && script[0] == opReturn
}

func (s *Store) writer() storage.Batch {
	return storage.NewBatch(s.db)
}
