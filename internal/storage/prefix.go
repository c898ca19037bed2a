package storage

import "bytes"

// PrefixDB is a namespace inside another DB. Every key it reads or writes
// carries the namespace prefix on the inner DB, and callers only ever see
// keys with the prefix removed.
type PrefixDB struct {
	inner DB
	ns    []byte
}

// NewPrefixDB scopes inner to the namespace ns.
func NewPrefixDB(inner DB, ns []byte) *PrefixDB {
	return &PrefixDB{inner: inner, ns: bytes.Clone(ns)}
}

func join(ns, key []byte) []byte {
	out := make([]byte, 0, len(ns)+len(key))
	return append(append(out, ns...), key...)
}

// Get retrieves the value stored under key in the namespace.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(join(p.ns, key))
}

// Put stores value under key in the namespace.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(join(p.ns, key), value)
}

// Delete removes key from the namespace.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(join(p.ns, key))
}

// Has reports whether key exists in the namespace.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(join(p.ns, key))
}

// Close is a no-op. The inner DB owns the handle.
func (p *PrefixDB) Close() error { return nil }

// DeleteAll empties the namespace.
func (p *PrefixDB) DeleteAll() error {
	return DeletePrefix(p.inner, p.ns)
}

// NewBatch returns a batch writing into the namespace. It is atomic when
// the inner DB supports batches.
func (p *PrefixDB) NewBatch() Batch {
	return &nsBatch{inner: NewBatch(p.inner), ns: p.ns}
}

// ForEach visits the namespace keys starting with prefix.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(join(p.ns, prefix), func(key, value []byte) error {
		return fn(key[len(p.ns):], value)
	})
}

// NewIterator opens a snapshot iterator over the namespace keys starting
// with prefix.
func (p *PrefixDB) NewIterator(prefix []byte) (Iterator, error) {
	it, err := p.inner.NewIterator(join(p.ns, prefix))
	if err != nil {
		return nil, err
	}
	return &nsIterator{Iterator: it, cut: len(p.ns)}, nil
}

// EstimateSize reports 0 when the inner DB cannot estimate sizes.
func (p *PrefixDB) EstimateSize(prefix []byte) (int64, error) {
	if sizer, ok := p.inner.(Sizer); ok {
		return sizer.EstimateSize(join(p.ns, prefix))
	}
	return 0, nil
}

type nsIterator struct {
	Iterator
	cut int
}

func (it *nsIterator) Key() []byte { return it.Iterator.Key()[it.cut:] }

type nsBatch struct {
	inner Batch
	ns    []byte
}

func (b *nsBatch) Put(key, value []byte) error { return b.inner.Put(join(b.ns, key), value) }
func (b *nsBatch) Delete(key []byte) error     { return b.inner.Delete(join(b.ns, key)) }
func (b *nsBatch) Commit() error               { return b.inner.Commit() }

// NewBatch returns an atomic batch when db supports one. Otherwise the
// writes are buffered and replayed one by one on Commit.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &replayBatch{db: db}
}

type batchOp struct {
	key, value []byte
	del        bool
}

type replayBatch struct {
	db  DB
	ops []batchOp
}

func (b *replayBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (b *replayBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: bytes.Clone(key), del: true})
	return nil
}

func (b *replayBatch) Commit() error {
	ops := b.ops
	b.ops = nil
	for _, op := range ops {
		var err error
		if op.del {
			err = b.db.Delete(op.key)
		} else {
			err = b.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DeletePrefix removes every key of db starting with prefix in one batch.
func DeletePrefix(db DB, prefix []byte) error {
	batch := NewBatch(db)
	err := db.ForEach(prefix, func(key, _ []byte) error {
		return batch.Delete(key)
	})
	if err != nil {
		return err
	}
	return batch.Commit()
}
