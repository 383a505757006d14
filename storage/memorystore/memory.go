// Package memorystore is a btree-ordered in-memory implementation of
// storage.Store. Suitable for testing and development.
package memorystore

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/dashpay/grovedb-sub000/storage"
)

type kvItem struct {
	key   []byte
	value []byte
}

func lessKV(a, b kvItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is an in-memory storage.Store.
type Store struct {
	mu   sync.RWMutex
	data *btree.BTreeG[kvItem]
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{data: btree.NewG(16, lessKV)}
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
	return &context{store: s, prefix: prefix}
}

// ContextWithBatch opens a context whose writes buffer into batch.
func (s *Store) ContextWithBatch(prefix storage.Prefix, batch *storage.Batch) storage.Context {
	return &storage.BatchedContext{Base: s.Context(prefix), Prefix: prefix, Batch: batch}
}

// CommitBatch applies all buffered writes under one lock acquisition.
func (s *Store) CommitBatch(batch *storage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range batch.Ops() {
		space := spaceData
		if op.Aux {
			space = spaceAux
		}
		fk := fullKey(op.Prefix, space, op.Key)
		if op.Delete {
			s.data.Delete(kvItem{key: fk})
		} else {
			s.data.ReplaceOrInsert(kvItem{key: fk, value: op.Value})
		}
	}
	return nil
}

// Close releases nothing; the store is garbage collected.
func (s *Store) Close() error { return nil }

type context struct {
	store  *Store
	prefix storage.Prefix
}

func (c *context) get(space byte, key []byte) ([]byte, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	item, ok := c.store.data.Get(kvItem{key: fullKey(c.prefix, space, key)})
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), item.value...), nil
}

func (c *context) put(space byte, key, value []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.data.ReplaceOrInsert(kvItem{
		key:   fullKey(c.prefix, space, key),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (c *context) delete(space byte, key []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.data.Delete(kvItem{key: fullKey(c.prefix, space, key)})
	return nil
}

func (c *context) Get(key []byte) ([]byte, error)    { return c.get(spaceData, key) }
func (c *context) Put(key, value []byte) error       { return c.put(spaceData, key, value) }
func (c *context) Delete(key []byte) error           { return c.delete(spaceData, key) }
func (c *context) GetAux(key []byte) ([]byte, error) { return c.get(spaceAux, key) }
func (c *context) PutAux(key, value []byte) error    { return c.put(spaceAux, key, value) }
func (c *context) DeleteAux(key []byte) error        { return c.delete(spaceAux, key) }

// RawIter snapshots the context's data keys so iteration is stable even if
// the store is written to afterwards.
func (c *context) RawIter() storage.RawIterator {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	start := fullKey(c.prefix, spaceData, nil)
	end := fullKey(c.prefix, spaceAux, nil)
	var items []kvItem
	c.store.data.AscendRange(kvItem{key: start}, kvItem{key: end}, func(item kvItem) bool {
		items = append(items, kvItem{
			key:   append([]byte(nil), item.key[len(start):]...),
			value: append([]byte(nil), item.value...),
		})
		return true
	})
	return &iterator{items: items, pos: -1}
}

type iterator struct {
	items []kvItem
	pos   int
}

func (it *iterator) SeekToFirst() { it.pos = 0 }
func (it *iterator) SeekToLast()  { it.pos = len(it.items) - 1 }

func (it *iterator) Seek(target []byte) {
	it.pos = searchGE(it.items, target)
}

func (it *iterator) SeekForPrev(target []byte) {
	pos := searchGE(it.items, target)
	if pos < len(it.items) && bytes.Equal(it.items[pos].key, target) {
		it.pos = pos
		return
	}
	it.pos = pos - 1
}

func searchGE(items []kvItem, target []byte) int {
	lo, hi := 0, len(items)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(items[mid].key, target) < 0 {
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
	return it.pos >= 0 && it.pos < len(it.items)
}

func (it *iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.items[it.pos].key
}

func (it *iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.items[it.pos].value
}

func (it *iterator) Close() {}
