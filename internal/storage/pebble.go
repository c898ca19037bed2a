package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleDB implements DB using Pebble.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebble opens or creates a Pebble database at the given path.
func NewPebble(path string) (*PebbleDB, error) {
	opts := (&pebble.Options{}).EnsureDefaults()
	opts.BytesPerSync = 1 << 20

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble database at %s: %w", path, err)
	}
	return &PebbleDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return copyBytes(val), nil
}

// Put stores a key-value pair.
func (p *PebbleDB) Put(key, value []byte) error {
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (p *PebbleDB) Delete(key []byte) error {
	if err := p.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble has: %w", err)
	}
	closer.Close()
	return true, nil
}

// ForEach iterates over all keys with the given prefix.
func (p *PebbleDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	it, err := p.NewIterator(prefix)
	if err != nil {
		return err
	}
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// NewIterator returns a bounded Pebble iterator. Pebble iterators read a
// point-in-time view of the database.
func (p *PebbleDB) NewIterator(prefix []byte) (Iterator, error) {
	r := prefixRange(prefix)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: r.Start, UpperBound: r.Limit})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	return &pebbleIterator{it: it}, nil
}

// NewBatch returns an atomic Pebble batch.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

// EstimateSize returns Pebble's estimate of disk usage for the prefix.
func (p *PebbleDB) EstimateSize(prefix []byte) (int64, error) {
	r := prefixRange(prefix)
	if r.Limit == nil {
		return int64(p.db.Metrics().DiskSpaceUsage()), nil
	}
	n, err := p.db.EstimateDiskUsage(r.Start, r.Limit)
	if err != nil {
		return 0, fmt.Errorf("pebble estimate: %w", err)
	}
	return int64(n), nil
}

// Close closes the database.
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
	valid   bool
}

func (i *pebbleIterator) Next() bool {
	if !i.started {
		i.started = true
		i.valid = i.it.First()
	} else if i.valid {
		i.valid = i.it.Next()
	}
	return i.valid
}

func (i *pebbleIterator) Key() []byte   { return copyBytes(i.it.Key()) }
func (i *pebbleIterator) Value() []byte { return copyBytes(i.it.Value()) }
func (i *pebbleIterator) Error() error  { return i.it.Error() }
func (i *pebbleIterator) Release()      { _ = i.it.Close() }

type pebbleBatch struct {
	b *pebble.Batch
}

func (pb *pebbleBatch) Put(key, value []byte) error {
	return pb.b.Set(key, value, nil)
}

func (pb *pebbleBatch) Delete(key []byte) error {
	return pb.b.Delete(key, nil)
}

func (pb *pebbleBatch) Commit() error {
	defer pb.b.Close()
	if err := pb.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble batch: %w", err)
	}
	return nil
}
