package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	klog "github.com/Klingon-tech/klingnet-chainstate/internal/log"
)

// LevelDB implements DB using goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens a leveldb instance at path, creating it if needed.
// A corrupted database is recovered before use.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if ldberrors.IsCorrupted(err) {
		klog.Storage.Warn().Str("path", path).Err(err).Msg("LevelDB corruption detected, recovering")
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (l *LevelDB) Put(key, value []byte) error {
	if err := l.db.Put(key, value, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (l *LevelDB) Delete(key []byte) error {
	if err := l.db.Delete(key, nil); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (l *LevelDB) Has(key []byte) (bool, error) {
	ok, err := l.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	return ok, nil
}

// ForEach iterates over all keys with the given prefix.
func (l *LevelDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	it, err := l.NewIterator(prefix)
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

// NewIterator returns an iterator over an implicit leveldb snapshot.
func (l *LevelDB) NewIterator(prefix []byte) (Iterator, error) {
	return &levelIterator{it: l.db.NewIterator(prefixRange(prefix), nil)}, nil
}

// NewBatch returns a leveldb write batch.
func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

// EstimateSize returns the approximate file system space used by prefix.
func (l *LevelDB) EstimateSize(prefix []byte) (int64, error) {
	r := *prefixRange(prefix)
	if r.Limit == nil {
		r.Limit = bytes.Repeat([]byte{0xff}, 64)
	}
	sizes, err := l.db.SizeOf([]util.Range{r})
	if err != nil {
		return 0, fmt.Errorf("leveldb size: %w", err)
	}
	return sizes.Sum(), nil
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelIterator struct {
	it iterator.Iterator
}

func (i *levelIterator) Next() bool    { return i.it.Next() }
func (i *levelIterator) Key() []byte   { return copyBytes(i.it.Key()) }
func (i *levelIterator) Value() []byte { return copyBytes(i.it.Value()) }
func (i *levelIterator) Error() error  { return i.it.Error() }
func (i *levelIterator) Release()      { i.it.Release() }

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (lb *levelBatch) Put(key, value []byte) error {
	lb.b.Put(key, value)
	return nil
}

func (lb *levelBatch) Delete(key []byte) error {
	lb.b.Delete(key)
	return nil
}

func (lb *levelBatch) Commit() error {
	if err := lb.db.Write(lb.b, nil); err != nil {
		return fmt.Errorf("leveldb batch: %w", err)
	}
	return nil
}
