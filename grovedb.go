// Package grovedb is a hierarchical authenticated key-value store: a
// forest of nested merk subtrees indexed by path, where every subtree root
// hash is bound into its parent, so one top-level hash commits the whole
// forest.
package grovedb

import (
	"errors"
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/merk"
	"github.com/dashpay/grovedb-sub000/storage"
)

// MaxReferenceHops bounds reference chain resolution when an element does
// not declare its own budget.
const MaxReferenceHops = 10

// DB is a forest of authenticated subtrees over one storage backend.
// Writes are single-writer: callers serialize mutations externally.
type DB struct {
	store storage.Store
}

// New opens a database over the given storage backend.
func New(store storage.Store) *DB {
	return &DB{store: store}
}

// Close releases the underlying storage.
func (db *DB) Close() error {
	return db.store.Close()
}

// RootHash returns the top-level hash committing the entire forest.
func (db *DB) RootHash() (hashing.Hash, error) {
	root, err := db.openMerk(nil, nil)
	if err != nil {
		return hashing.NullHash, err
	}
	return root.RootHash()
}

func (db *DB) context(path [][]byte, batch *storage.Batch) storage.Context {
	prefix := storage.PrefixFromPath(path)
	if batch != nil {
		return db.store.ContextWithBatch(prefix, batch)
	}
	return db.store.Context(prefix)
}

// treeTypeForElement maps a subtree handle to the merk behavior of the
// tree it owns.
func treeTypeForElement(e *element.Element) (merk.TreeType, bool) {
	switch e.Kind {
	case element.KindTree:
		return merk.TreeTypeNormal, true
	case element.KindSumTree:
		return merk.TreeTypeSum, true
	case element.KindBigSumTree:
		return merk.TreeTypeBigSum, true
	case element.KindCountTree:
		return merk.TreeTypeCount, true
	case element.KindCountSumTree:
		return merk.TreeTypeCountSum, true
	case element.KindProvableCountTree:
		return merk.TreeTypeProvableCount, true
	case element.KindProvableCountSumTree:
		return merk.TreeTypeProvableCountSum, true
	}
	return merk.TreeTypeNormal, false
}

// ownSumForElement is the element's contribution to a summing parent.
func ownSumForElement(e *element.Element) int64 {
	switch e.Kind {
	case element.KindSumItem, element.KindItemWithSumItem:
		return e.Sum
	case element.KindSumTree, element.KindCountSumTree, element.KindProvableCountSumTree:
		return e.Sum
	}
	return 0
}

// openMerk opens the subtree at path, validating every ancestor layer.
func (db *DB) openMerk(path [][]byte, batch *storage.Batch) (*merk.Merk, error) {
	ctx := db.context(path, batch)
	if len(path) == 0 {
		return merk.Open(ctx, merk.TreeTypeNormal)
	}
	parentPath, key := path[:len(path)-1], path[len(path)-1]
	el, err := db.fetchElement(parentPath, key)
	if err != nil {
		if errors.Is(err, ErrPathKeyNotFound) {
			return nil, fmt.Errorf("%w: subtree %x", ErrPathParentLayerNotFound, key)
		}
		return nil, err
	}
	treeType, ok := treeTypeForElement(el)
	if !ok {
		return nil, fmt.Errorf("%w: element at %x is %s, not a subtree", ErrInvalidParentLayerPath, key, el.Kind)
	}
	return merk.Open(ctx, treeType)
}

// fetchElement reads and decodes the element stored at (path, key) without
// following references.
func (db *DB) fetchElement(path [][]byte, key []byte) (*element.Element, error) {
	m, err := db.openMerk(path, nil)
	if err != nil {
		return nil, err
	}
	return fetchElementFromMerk(m, key)
}

func fetchElementFromMerk(m *merk.Merk, key []byte) (*element.Element, error) {
	value, err := m.Get(key)
	if errors.Is(err, merk.ErrNotFound) {
		return nil, fmt.Errorf("%w: key %x", ErrPathKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedData, err)
	}
	return deserializeElement(value)
}

func deserializeElement(value []byte) (*element.Element, error) {
	el, err := element.Deserialize(value)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to deserialize element: %v", ErrCorruptedData, err)
	}
	return el, nil
}

// merkOpForElement translates an element write into a merk batch op,
// computing the value hash the parent binds. externalHash is the child
// root hash for tree handles and the resolved target hash for references.
func merkOpForElement(key []byte, e *element.Element, externalHash hashing.Hash) (merk.Op, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return merk.Op{}, err
	}
	op := merk.Op{Key: key, Value: serialized, Sum: ownSumForElement(e)}
	switch {
	case e.IsTree():
		op.Kind = merk.OpPutWithValueHash
		op.ValueHash = hashing.CombineHash(hashing.ValueHash(serialized), externalHash)
	case e.IsReference():
		op.Kind = merk.OpPutWithValueHash
		op.ValueHash = externalHash
	default:
		op.Kind = merk.OpPut
	}
	return op, nil
}

// propagateUp rewrites ancestor tree handles with the child's new root
// triple, from the subtree at path all the way to the root forest. merks
// caches already-open subtrees by their path prefix.
func (db *DB) propagateUp(path [][]byte, child *merk.Merk, merks map[string]*merk.Merk, batch *storage.Batch) error {
	for len(path) > 0 {
		rootHash, rootKey, aggregate, err := child.RootHashKeyAndAggregate()
		if err != nil {
			return err
		}
		parentPath, key := path[:len(path)-1], path[len(path)-1]

		parent, ok := merks[pathCacheKey(parentPath)]
		if !ok {
			parent, err = db.openMerk(parentPath, batch)
			if err != nil {
				return err
			}
			merks[pathCacheKey(parentPath)] = parent
		}

		el, err := fetchElementFromMerk(parent, key)
		if err != nil {
			return err
		}
		if !el.IsTree() {
			return fmt.Errorf("%w: propagation into a non-tree element", ErrCorruptedCodeExecution)
		}
		applyAggregateToElement(el, rootKey, aggregate)

		serialized, err := el.Serialize()
		if err != nil {
			return err
		}
		op := merk.Op{
			Key:       key,
			Kind:      merk.OpPutWithValueHash,
			Value:     serialized,
			ValueHash: hashing.CombineHash(hashing.ValueHash(serialized), rootHash),
			Sum:       ownSumForElement(el),
		}
		if _, err := parent.Apply([]merk.Op{op}, nil, nil); err != nil {
			return err
		}

		child = parent
		path = parentPath
	}
	return nil
}

// applyAggregateToElement refreshes a tree handle's root key and cached
// aggregate after its subtree changed.
func applyAggregateToElement(el *element.Element, rootKey []byte, aggregate merk.AggregateData) {
	el.RootKey = rootKey
	switch el.Kind {
	case element.KindSumTree:
		el.Sum = aggregate.Sum
	case element.KindBigSumTree:
		el.BigSum = aggregate.BigSum
	case element.KindCountTree, element.KindProvableCountTree:
		el.Count = aggregate.Count
	case element.KindCountSumTree, element.KindProvableCountSumTree:
		el.Count = aggregate.Count
		el.Sum = aggregate.Sum
	}
}

// pathCacheKey flattens a path into a map key; segments are
// length-prefixed so distinct paths cannot collide.
func pathCacheKey(path [][]byte) string {
	prefix := storage.PrefixFromPath(path)
	return string(prefix[:])
}

// pathHasPrefix reports whether candidate starts with prefix.
func pathHasPrefix(candidate, prefix [][]byte) bool {
	if len(candidate) < len(prefix) {
		return false
	}
	for i := range prefix {
		if string(candidate[i]) != string(prefix[i]) {
			return false
		}
	}
	return true
}

// clonePath copies a path so callers can append without aliasing.
func clonePath(path [][]byte, extra ...[]byte) [][]byte {
	out := make([][]byte, 0, len(path)+len(extra))
	out = append(out, path...)
	out = append(out, extra...)
	return out
}
