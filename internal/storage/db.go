// Package storage provides database abstractions.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
//
// Iteration order is ascending byte order of keys on every engine.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// NewIterator returns an iterator over a consistent snapshot of all
	// keys with the given prefix. The caller must Release it.
	NewIterator(prefix []byte) (Iterator, error)
	Close() error
}

// Iterator walks a snapshot of key-value pairs in ascending key order.
type Iterator interface {
	// Next advances to the next pair. It must be called before the first
	// Key or Value and returns false once the iterator is exhausted.
	Next() bool
	// Key and Value return copies owned by the caller.
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Batch accumulates writes that are applied atomically on Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that support atomic batches.
type Batcher interface {
	NewBatch() Batch
}

// Sizer is implemented by databases that can estimate the on-disk
// footprint of a key range.
type Sizer interface {
	EstimateSize(prefix []byte) (int64, error)
}

// Backend names accepted by Open.
const (
	BackendBadger  = "badger"
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Open opens a database using the named backend.
func Open(backend, path string) (DB, error) {
	switch strings.ToLower(backend) {
	case BackendBadger, "":
		return NewBadger(path)
	case BackendPebble:
		return NewPebble(path)
	case BackendLevelDB:
		return NewLevelDB(path)
	case BackendSQLite:
		return NewSQLite(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// prefixRange returns the key range covering prefix. A nil Limit means
// the range is unbounded above.
func prefixRange(prefix []byte) *util.Range {
	return util.BytesPrefix(prefix)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
