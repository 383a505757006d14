// Package sqlitestore is a SQLite-backed implementation of storage.Store.
// Handy when the forest has to live inside an existing SQLite deployment;
// badgerstore is the faster choice for dedicated storage.
package sqlitestore

import (
	"bytes"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dashpay/grovedb-sub000/storage"
)

// Config holds configuration for SQLite.
type Config struct {
	DBPath string // Path to SQLite database file
}

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// New opens a SQLite-backed store.
func New(config *Config) (*Store, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("DBPath is required")
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		k BLOB PRIMARY KEY,
		v BLOB NOT NULL
	) WITHOUT ROWID;
	`
	_, err := s.db.Exec(schema)
	return err
}

const (
	spaceData = byte(0)
	spaceAux  = byte(1)
)

func fullKey(prefix storage.Prefix, space byte, key []byte) []byte {
	out := make([]byte, 0, storage.PrefixLength+1+len(key))
	out = append(out, prefix[:]...)
	out = append(out, space)
	out = append(out, key...)
	return out
}

// Context opens the context for a prefix.
func (s *Store) Context(prefix storage.Prefix) storage.Context {
	return &context{db: s.db, prefix: prefix}
}

// ContextWithBatch opens a context whose writes buffer into batch.
func (s *Store) ContextWithBatch(prefix storage.Prefix, batch *storage.Batch) storage.Context {
	return &storage.BatchedContext{Base: s.Context(prefix), Prefix: prefix, Batch: batch}
}

// CommitBatch applies all buffered writes in one SQL transaction.
func (s *Store) CommitBatch(batch *storage.Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, op := range batch.Ops() {
		space := spaceData
		if op.Aux {
			space = spaceAux
		}
		fk := fullKey(op.Prefix, space, op.Key)
		if op.Delete {
			_, err = tx.Exec(`DELETE FROM kv WHERE k = ?`, fk)
		} else {
			_, err = tx.Exec(`INSERT INTO kv (k, v) VALUES (?, ?)
				ON CONFLICT(k) DO UPDATE SET v = excluded.v`, fk, op.Value)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply batch op: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type context struct {
	db     *sql.DB
	prefix storage.Prefix
}

func (c *context) get(space byte, key []byte) ([]byte, error) {
	var value []byte
	err := c.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, fullKey(c.prefix, space, key)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *context) put(space byte, key, value []byte) error {
	_, err := c.db.Exec(`INSERT INTO kv (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, fullKey(c.prefix, space, key), value)
	return err
}

func (c *context) delete(space byte, key []byte) error {
	_, err := c.db.Exec(`DELETE FROM kv WHERE k = ?`, fullKey(c.prefix, space, key))
	return err
}

func (c *context) Get(key []byte) ([]byte, error)    { return c.get(spaceData, key) }
func (c *context) Put(key, value []byte) error       { return c.put(spaceData, key, value) }
func (c *context) Delete(key []byte) error           { return c.delete(spaceData, key) }
func (c *context) GetAux(key []byte) ([]byte, error) { return c.get(spaceAux, key) }
func (c *context) PutAux(key, value []byte) error    { return c.put(spaceAux, key, value) }
func (c *context) DeleteAux(key []byte) error        { return c.delete(spaceAux, key) }

// RawIter materializes the context's data keys in byte order. SQLite already
// sorts BLOB primary keys with memcmp semantics, which matches the engine's
// key order.
func (c *context) RawIter() storage.RawIterator {
	start := fullKey(c.prefix, spaceData, nil)
	end := fullKey(c.prefix, spaceAux, nil)

	rows, err := c.db.Query(`SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k`, start, end)
	if err != nil {
		return &iterator{pos: -1}
	}
	defer rows.Close()

	it := &iterator{pos: -1}
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return &iterator{pos: -1}
		}
		it.keys = append(it.keys, k[len(start):])
		it.values = append(it.values, v)
	}
	return it
}

type iterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (it *iterator) SeekToFirst() { it.pos = 0 }
func (it *iterator) SeekToLast()  { it.pos = len(it.keys) - 1 }

func (it *iterator) Seek(target []byte) {
	it.pos = it.searchGE(target)
}

func (it *iterator) SeekForPrev(target []byte) {
	pos := it.searchGE(target)
	if pos < len(it.keys) && bytes.Equal(it.keys[pos], target) {
		it.pos = pos
		return
	}
	it.pos = pos - 1
}

func (it *iterator) searchGE(target []byte) int {
	lo, hi := 0, len(it.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(it.keys[mid], target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (it *iterator) Next() { it.pos++ }
func (it *iterator) Prev() { it.pos-- }

func (it *iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.keys)
}

func (it *iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.keys[it.pos]
}

func (it *iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.values[it.pos]
}

func (it *iterator) Close() {}
