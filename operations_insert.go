package grovedb

import (
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/merk"
	"github.com/dashpay/grovedb-sub000/storage"
)

// InsertOptions control override validation on single inserts.
type InsertOptions struct {
	// ValidateInsertionDoesNotOverride rejects inserts over any existing
	// value.
	ValidateInsertionDoesNotOverride bool
	// ValidateInsertionDoesNotOverrideTree rejects inserts over existing
	// subtree handles.
	ValidateInsertionDoesNotOverrideTree bool
}

// DefaultInsertOptions allow value overrides but protect subtrees.
func DefaultInsertOptions() *InsertOptions {
	return &InsertOptions{ValidateInsertionDoesNotOverrideTree: true}
}

func (o *InsertOptions) checksForOverride() bool {
	return o.ValidateInsertionDoesNotOverride || o.ValidateInsertionDoesNotOverrideTree
}

// Insert stores an element at (path, key) and propagates the changed root
// hashes to the top of the forest in one atomic storage batch.
func (db *DB) Insert(path [][]byte, key []byte, el *element.Element, options *InsertOptions) error {
	if options == nil {
		options = DefaultInsertOptions()
	}
	batch := storage.NewBatch()
	if err := db.insertOnBatch(path, key, el, options, batch); err != nil {
		return err
	}
	return db.store.CommitBatch(batch)
}

func (db *DB) insertOnBatch(path [][]byte, key []byte, el *element.Element, options *InsertOptions, batch *storage.Batch) error {
	m, err := db.addElementOnBatch(path, key, el, options, batch)
	if err != nil {
		return err
	}
	merks := map[string]*merk.Merk{pathCacheKey(path): m}
	return db.propagateUp(path, m, merks, batch)
}

// addElementOnBatch opens the subtree, validates overrides, resolves the
// element's external hash, and applies the write.
func (db *DB) addElementOnBatch(path [][]byte, key []byte, el *element.Element, options *InsertOptions, batch *storage.Batch) (*merk.Merk, error) {
	m, err := db.openMerk(path, batch)
	if err != nil {
		return nil, err
	}

	if options.checksForOverride() {
		existing, err := m.Get(key)
		if err != nil && !isMerkNotFound(err) {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedData, err)
		}
		if existing != nil {
			if options.ValidateInsertionDoesNotOverride {
				return nil, fmt.Errorf("%w: insertion not allowed to override", ErrOverrideNotAllowed)
			}
			if options.ValidateInsertionDoesNotOverrideTree {
				existingEl, err := element.Deserialize(existing)
				if err != nil {
					return nil, fmt.Errorf("%w: unable to deserialize element", ErrCorruptedData)
				}
				if existingEl.IsTree() {
					return nil, fmt.Errorf("%w: insertion not allowed to override tree", ErrOverrideNotAllowed)
				}
			}
		}
	}

	var external hashing.Hash
	switch {
	case el.IsReference():
		qualified, err := el.Ref.Resolve(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		hops := uint8(MaxReferenceHops)
		if el.MaxHops != nil {
			hops = *el.MaxHops
		}
		target, err := db.followReference(qualified, hops)
		if err != nil {
			return nil, err
		}
		serialized, err := target.Serialize()
		if err != nil {
			return nil, err
		}
		external = hashing.ValueHash(serialized)
	case el.IsTree():
		// trees are empty at the moment of non-batched insertion
		if el.RootKey != nil {
			return nil, fmt.Errorf("%w: a tree must be empty at insertion when not using batches", ErrInvalidCodeExecution)
		}
		external = hashing.NullHash
	}

	op, err := merkOpForElement(key, el, external)
	if err != nil {
		return nil, err
	}
	if _, err := m.Apply([]merk.Op{op}, nil, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// InsertIfNotExists inserts only when the key is vacant, reporting whether
// it inserted.
func (db *DB) InsertIfNotExists(path [][]byte, key []byte, el *element.Element) (bool, error) {
	exists, err := db.Has(path, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return true, db.Insert(path, key, el, DefaultInsertOptions())
}

// InsertIfNotExistsReturnExistingElement inserts when vacant, or returns
// the element already stored there.
func (db *DB) InsertIfNotExistsReturnExistingElement(path [][]byte, key []byte, el *element.Element) (*element.Element, error) {
	existing, err := db.GetRaw(path, key)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return nil, db.Insert(path, key, el, DefaultInsertOptions())
}

// InsertIfChangedValue rewrites the element only when its target differs
// from what is stored, reporting whether a write happened and the previous
// element. Flags do not participate in the comparison, so a flags-only
// change is a no-op.
func (db *DB) InsertIfChangedValue(path [][]byte, key []byte, el *element.Element) (bool, *element.Element, error) {
	existing, err := db.GetRaw(path, key)
	if err != nil {
		if isNotFound(err) {
			return true, nil, db.Insert(path, key, el, DefaultInsertOptions())
		}
		return false, nil, err
	}
	if existing.Equal(el) {
		return false, existing, nil
	}
	return true, existing, db.Insert(path, key, el, DefaultInsertOptions())
}

func isMerkNotFound(err error) bool {
	return err != nil && errorIsAny(err, merk.ErrNotFound)
}
