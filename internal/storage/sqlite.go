package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteDB implements DB on a single key-value table in SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database inside the directory path.
func NewSQLite(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory %s: %w", path, err)
	}
	filename, err := filepath.Abs(filepath.Join(path, "kv.db"))
	if err != nil {
		return nil, fmt.Errorf("sqlite path: %w", err)
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", filename)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", filename, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (k BLOB PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (s *SQLiteDB) Put(key, value []byte) error {
	if _, err := s.db.Exec(upsertKV, key, nonNil(value)); err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *SQLiteDB) Delete(key []byte) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (s *SQLiteDB) Has(key []byte) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM kv WHERE k = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite has: %w", err)
	}
	return true, nil
}

// ForEach iterates over all keys with the given prefix.
func (s *SQLiteDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	it, err := s.NewIterator(prefix)
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

// NewIterator runs a single ordered SELECT; the statement reads one
// consistent snapshot of the WAL.
func (s *SQLiteDB) NewIterator(prefix []byte) (Iterator, error) {
	where, args := rangeClause(prefix)
	rows, err := s.db.Query(`SELECT k, v FROM kv`+where+` ORDER BY k`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite iterator: %w", err)
	}
	return &sqliteIterator{rows: rows}, nil
}

// NewBatch returns a batch applied in one transaction.
func (s *SQLiteDB) NewBatch() Batch {
	return &sqliteBatch{db: s.db}
}

// EstimateSize sums the stored key and value bytes under prefix.
func (s *SQLiteDB) EstimateSize(prefix []byte) (int64, error) {
	where, args := rangeClause(prefix)
	var n int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(k) + LENGTH(v)), 0) FROM kv`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite size: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

const upsertKV = `INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v`

func rangeClause(prefix []byte) (string, []any) {
	if len(prefix) == 0 {
		return "", nil
	}
	r := prefixRange(prefix)
	if r.Limit == nil {
		return ` WHERE k >= ?`, []any{r.Start}
	}
	return ` WHERE k >= ? AND k < ?`, []any{r.Start, r.Limit}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

type sqliteIterator struct {
	rows *sql.Rows
	key  []byte
	val  []byte
	err  error
}

func (i *sqliteIterator) Next() bool {
	if i.err != nil || !i.rows.Next() {
		return false
	}
	i.key, i.val = nil, nil
	if err := i.rows.Scan(&i.key, &i.val); err != nil {
		i.err = err
		return false
	}
	return true
}

func (i *sqliteIterator) Key() []byte   { return i.key }
func (i *sqliteIterator) Value() []byte { return i.val }

func (i *sqliteIterator) Error() error {
	if i.err != nil {
		return i.err
	}
	return i.rows.Err()
}

func (i *sqliteIterator) Release() { _ = i.rows.Close() }

type sqliteOp struct {
	key   []byte
	value []byte // nil means delete
}

type sqliteBatch struct {
	db  *sql.DB
	ops []sqliteOp
}

func (sb *sqliteBatch) Put(key, value []byte) error {
	sb.ops = append(sb.ops, sqliteOp{key: copyBytes(key), value: nonNil(copyBytes(value))})
	return nil
}

func (sb *sqliteBatch) Delete(key []byte) error {
	sb.ops = append(sb.ops, sqliteOp{key: copyBytes(key)})
	return nil
}

func (sb *sqliteBatch) Commit() error {
	tx, err := sb.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite batch: %w", err)
	}
	for _, op := range sb.ops {
		if op.value == nil {
			_, err = tx.Exec(`DELETE FROM kv WHERE k = ?`, op.key)
		} else {
			_, err = tx.Exec(upsertKV, op.key, op.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite batch: %w", err)
	}
	sb.ops = nil
	return nil
}
