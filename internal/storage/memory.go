package storage

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	m.data[string(key)] = copyBytes(value)
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix in key order.
// It walks a snapshot, so fn may write to the database.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	for _, kv := range m.snapshot(prefix) {
		if err := fn(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// NewIterator returns an iterator over a copy of the matching entries.
func (m *MemoryDB) NewIterator(prefix []byte) (Iterator, error) {
	return &memoryIterator{entries: m.snapshot(prefix), pos: -1}, nil
}

// NewBatch returns a batch applied under a single write lock.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

// EstimateSize returns the total bytes of keys and values under prefix.
func (m *MemoryDB) EstimateSize(prefix []byte) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	p := string(prefix)
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			n += int64(len(k) + len(v))
		}
	}
	return n, nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

type memoryEntry struct {
	key   []byte
	value []byte
}

func (m *MemoryDB) snapshot(prefix []byte) []memoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	var out []memoryEntry
	for _, k := range slices.Sorted(maps.Keys(m.data)) {
		if strings.HasPrefix(k, p) {
			out = append(out, memoryEntry{key: []byte(k), value: copyBytes(m.data[k])})
		}
	}
	return out
}

type memoryIterator struct {
	entries []memoryEntry
	pos     int
}

func (i *memoryIterator) Next() bool {
	if i.pos+1 >= len(i.entries) {
		i.pos = len(i.entries)
		return false
	}
	i.pos++
	return true
}

func (i *memoryIterator) Key() []byte   { return copyBytes(i.entries[i.pos].key) }
func (i *memoryIterator) Value() []byte { return copyBytes(i.entries[i.pos].value) }
func (i *memoryIterator) Error() error  { return nil }
func (i *memoryIterator) Release()      { i.entries = nil }

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryEntry // nil value means delete
}

func (mb *memoryBatch) Put(key, value []byte) error {
	v := copyBytes(value)
	if v == nil {
		v = []byte{}
	}
	mb.ops = append(mb.ops, memoryEntry{key: copyBytes(key), value: v})
	return nil
}

func (mb *memoryBatch) Delete(key []byte) error {
	mb.ops = append(mb.ops, memoryEntry{key: copyBytes(key)})
	return nil
}

func (mb *memoryBatch) Commit() error {
	mb.db.mu.Lock()
	defer mb.db.mu.Unlock()
	for _, op := range mb.ops {
		if op.value == nil {
			delete(mb.db.data, string(op.key))
		} else {
			mb.db.data[string(op.key)] = op.value
		}
	}
	mb.ops = nil
	return nil
}

