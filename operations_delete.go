package grovedb

import (
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/merk"
	"github.com/dashpay/grovedb-sub000/query"
	"github.com/dashpay/grovedb-sub000/storage"
)

// DeleteOptions control subtree deletion policy.
type DeleteOptions struct {
	// AllowDeletingNonEmptyTrees cascades deletion through a non-empty
	// subtree and everything below it.
	AllowDeletingNonEmptyTrees bool
	// DeletingNonEmptyTreesReturnsError, when deletion of a non-empty
	// tree is not allowed, fails instead of silently skipping.
	DeletingNonEmptyTreesReturnsError bool
}

// DefaultDeleteOptions refuse to delete non-empty subtrees.
func DefaultDeleteOptions() *DeleteOptions {
	return &DeleteOptions{DeletingNonEmptyTreesReturnsError: true}
}

// Delete removes the element at (path, key). Deleting a subtree handle
// requires the subtree to be empty unless options allow cascading.
func (db *DB) Delete(path [][]byte, key []byte, options *DeleteOptions) error {
	if options == nil {
		options = DefaultDeleteOptions()
	}
	batch := storage.NewBatch()

	el, err := db.fetchElement(path, key)
	if err != nil {
		return err
	}
	if el.IsTree() && el.RootKey != nil {
		if !options.AllowDeletingNonEmptyTrees {
			if options.DeletingNonEmptyTreesReturnsError {
				return fmt.Errorf("%w: subtree %x is not empty", ErrInvalidBatchOperation, key)
			}
			return nil
		}
		if err := db.clearSubtree(clonePath(path, key), batch); err != nil {
			return err
		}
	}

	m, err := db.openMerk(path, batch)
	if err != nil {
		return err
	}
	if _, err := m.Apply([]merk.Op{{Key: key, Kind: merk.OpDelete}}, nil, nil); err != nil {
		return err
	}
	merks := map[string]*merk.Merk{pathCacheKey(path): m}
	if err := db.propagateUp(path, m, merks, batch); err != nil {
		return err
	}
	return db.store.CommitBatch(batch)
}

// clearSubtree removes every node of the subtree at path and recursively
// clears nested subtrees.
func (db *DB) clearSubtree(path [][]byte, batch *storage.Batch) error {
	m, err := db.openMerk(path, nil)
	if err != nil {
		return err
	}

	var children [][]byte
	var keys [][]byte
	err = m.IterateItem(query.NewRangeFull(), true, func(key, value []byte) (bool, error) {
		keys = append(keys, append([]byte(nil), key...))
		el, err := element.Deserialize(value)
		if err != nil {
			return false, fmt.Errorf("%w: unable to deserialize element", ErrCorruptedData)
		}
		if el.IsTree() && el.RootKey != nil {
			children = append(children, append([]byte(nil), key...))
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := db.clearSubtree(clonePath(path, child), batch); err != nil {
			return err
		}
	}

	ctx := db.context(path, batch)
	for _, key := range keys {
		if err := ctx.Delete(key); err != nil {
			return err
		}
	}
	return ctx.DeleteAux(merk.RootKeyAux)
}
