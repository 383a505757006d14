package grovedb

import (
	"fmt"
	"math/big"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/query"
)

// VerifyForest recomputes every hash in the forest from stored state: each
// subtree's nodes, the bindings between parent tree handles and their
// children's roots, and the cached aggregates. It returns the recomputed
// top-level root hash, failing on the first inconsistency.
func (db *DB) VerifyForest() (hashing.Hash, error) {
	return db.verifySubtree(nil)
}

func (db *DB) verifySubtree(path [][]byte) (hashing.Hash, error) {
	m, err := db.openMerk(path, nil)
	if err != nil {
		return hashing.NullHash, err
	}
	rootHash, err := m.VerifyIntegrity()
	if err != nil {
		return hashing.NullHash, fmt.Errorf("%w: subtree %s: %v", ErrCorruptedData, hexPath(path), err)
	}

	// descend into every tree handle, checking its binding and caches
	var walkErr error
	err = m.IterateItem(query.NewRangeFull(), true, func(key, value []byte) (bool, error) {
		el, err := element.Deserialize(value)
		if err != nil {
			return false, fmt.Errorf("%w: unable to deserialize element at %x", ErrCorruptedData, key)
		}
		if !el.IsTree() {
			return true, nil
		}
		childPath := clonePath(path, key)
		childRoot, err := db.verifySubtree(childPath)
		if err != nil {
			walkErr = err
			return false, nil
		}
		expected := hashing.CombineHash(hashing.ValueHash(value), childRoot)
		stored, err := m.GetValueHash(key)
		if err != nil {
			return false, err
		}
		if stored != expected {
			walkErr = fmt.Errorf("%w: subtree %s does not bind to its parent handle",
				ErrCorruptedData, hexPath(childPath))
			return false, nil
		}
		if err := verifyAggregateCache(db, el, childPath); err != nil {
			walkErr = err
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return hashing.NullHash, err
	}
	if walkErr != nil {
		return hashing.NullHash, walkErr
	}
	return rootHash, nil
}

// verifyAggregateCache checks a tree handle's cached aggregate against the
// child subtree's exported fold.
func verifyAggregateCache(db *DB, el *element.Element, childPath [][]byte) error {
	child, err := db.openMerk(childPath, nil)
	if err != nil {
		return err
	}
	aggregate, err := child.RootAggregate()
	if err != nil {
		return err
	}
	mismatch := func() error {
		return fmt.Errorf("%w: stale aggregate cache on subtree %s", ErrCorruptedData, hexPath(childPath))
	}
	switch el.Kind {
	case element.KindSumTree:
		if el.Sum != aggregate.Sum {
			return mismatch()
		}
	case element.KindCountTree, element.KindProvableCountTree:
		if el.Count != aggregate.Count {
			return mismatch()
		}
	case element.KindCountSumTree, element.KindProvableCountSumTree:
		if el.Count != aggregate.Count || el.Sum != aggregate.Sum {
			return mismatch()
		}
	case element.KindBigSumTree:
		cached := el.BigSum
		if cached == nil {
			cached = new(big.Int)
		}
		computed := aggregate.BigSum
		if computed == nil {
			computed = new(big.Int)
		}
		if cached.Cmp(computed) != 0 {
			return mismatch()
		}
	}
	return nil
}
