// Package badgerstore is a BadgerDB-backed implementation of storage.Store.
package badgerstore

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/dashpay/grovedb-sub000/storage"
)

// Config holds configuration for BadgerDB.
type Config struct {
	DataDir string // Directory for data storage
	// InMemory runs badger without touching disk. DataDir is ignored.
	InMemory bool
	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// Store is a BadgerDB-backed storage.Store.
type Store struct {
	db *badger.DB
}

// New opens a BadgerDB-backed store.
func New(config *Config) (*Store, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.DataDir == "" {
			return nil, fmt.Errorf("DataDir is required")
		}
		opts = badger.DefaultOptions(config.DataDir)
	}
	if config.Logger != nil {
		opts = opts.WithLogger(NewSlogAdapter(config.Logger))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Store{db: db}, nil
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

// CommitBatch applies all buffered writes in a single badger transaction.
func (s *Store) CommitBatch(batch *storage.Batch) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.Ops() {
			space := spaceData
			if op.Aux {
				space = spaceAux
			}
			fk := fullKey(op.Prefix, space, op.Key)
			if op.Delete {
				if err := txn.Delete(fk); err != nil {
					return err
				}
			} else {
				if err := txn.Set(fk, op.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Close releases all BadgerDB resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunGC runs BadgerDB value-log garbage collection. Call periodically to
// reclaim space from deleted or updated entries.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

type context struct {
	db     *badger.DB
	prefix storage.Prefix
}

func (c *context) get(space byte, key []byte) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fullKey(c.prefix, space, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *context) put(space byte, key, value []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fullKey(c.prefix, space, key), value)
	})
}

func (c *context) delete(space byte, key []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fullKey(c.prefix, space, key))
	})
}

func (c *context) Get(key []byte) ([]byte, error)    { return c.get(spaceData, key) }
func (c *context) Put(key, value []byte) error       { return c.put(spaceData, key, value) }
func (c *context) Delete(key []byte) error           { return c.delete(spaceData, key) }
func (c *context) GetAux(key []byte) ([]byte, error) { return c.get(spaceAux, key) }
func (c *context) PutAux(key, value []byte) error    { return c.put(spaceAux, key, value) }
func (c *context) DeleteAux(key []byte) error        { return c.delete(spaceAux, key) }

// RawIter returns an iterator over the context's data keys. The iterator
// pins a read transaction until Close.
func (c *context) RawIter() storage.RawIterator {
	dataPrefix := fullKey(c.prefix, spaceData, nil)
	// Upper bound for reverse seeks: the first key of the aux space.
	upperBound := fullKey(c.prefix, spaceAux, nil)
	return &iterator{
		txn:        c.db.NewTransaction(false),
		dataPrefix: dataPrefix,
		upperBound: upperBound,
	}
}

type iterator struct {
	txn        *badger.Txn
	dataPrefix []byte
	upperBound []byte

	it      *badger.Iterator
	reverse bool
}

func (it *iterator) ensure(reverse bool) {
	if it.it != nil && it.reverse == reverse {
		return
	}
	if it.it != nil {
		it.it.Close()
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = it.dataPrefix
	opts.Reverse = reverse
	it.it = it.txn.NewIterator(opts)
	it.reverse = reverse
}

func (it *iterator) SeekToFirst() {
	it.ensure(false)
	it.it.Rewind()
}

func (it *iterator) SeekToLast() {
	it.ensure(true)
	it.it.Seek(it.upperBound)
}

func (it *iterator) Seek(target []byte) {
	it.ensure(false)
	it.it.Seek(append(append([]byte(nil), it.dataPrefix...), target...))
}

func (it *iterator) SeekForPrev(target []byte) {
	it.ensure(true)
	it.it.Seek(append(append([]byte(nil), it.dataPrefix...), target...))
}

// step advances in the iterator's current direction, flipping the badger
// iterator when the caller's direction disagrees with it.
func (it *iterator) step(reverse bool) {
	if it.it == nil {
		return
	}
	if it.reverse == reverse {
		if it.it.Valid() {
			it.it.Next()
		}
		return
	}
	// Direction switch: reposition a fresh iterator past the current key.
	if !it.it.Valid() {
		it.ensure(reverse)
		return
	}
	current := append([]byte(nil), it.it.Item().Key()...)
	it.ensure(reverse)
	it.it.Seek(current)
	if it.it.Valid() && string(it.it.Item().Key()) == string(current) {
		it.it.Next()
	}
}

func (it *iterator) Next() { it.step(false) }
func (it *iterator) Prev() { it.step(true) }

func (it *iterator) Valid() bool {
	return it.it != nil && it.it.ValidForPrefix(it.dataPrefix)
}

func (it *iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.it.Item().Key()[len(it.dataPrefix):]
}

func (it *iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	value, err := it.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return value
}

func (it *iterator) Close() {
	if it.it != nil {
		it.it.Close()
	}
	it.txn.Discard()
}
