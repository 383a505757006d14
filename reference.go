package grovedb

import (
	"encoding/hex"
	"fmt"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// followReferenceGetValueHash resolves a reference chain to its base
// item's value hash during a batch apply. A reference chain assumes the
// value hash of the base item it points to; when a link of the chain is
// rewritten in the same batch, the in-batch state wins over storage.
func (bs *batchStructure) followReferenceGetValueHash(qualifiedPath [][]byte, hops uint8) (hashing.Hash, error) {
	if hops == 0 {
		return hashing.NullHash, fmt.Errorf("%w: reference chain too long", ErrReferenceLimit)
	}
	if len(qualifiedPath) == 0 {
		return hashing.NullHash, fmt.Errorf("%w: attempting to follow an empty reference", ErrInvalidBatchOperation)
	}

	if op, ok := bs.byQualified[encodePathKey(qualifiedPath)]; ok {
		switch op.kind {
		case batchReplaceTreeRootKey, batchInsertTreeWithRootHash:
			return hashing.NullHash, fmt.Errorf("%w: references can not point to trees being updated", ErrInvalidBatchOperation)
		case batchDelete, batchDeleteTree, batchDeleteSumTree:
			return hashing.NullHash, fmt.Errorf("%w: references can not point to something currently being deleted", ErrInvalidBatchOperation)
		case batchInsert, batchReplace:
			el := op.Element
			switch {
			case el.IsItem():
				serialized, err := el.Serialize()
				if err != nil {
					return hashing.NullHash, err
				}
				return hashing.ValueHash(serialized), nil
			case el.IsReference():
				next, err := el.Ref.Resolve(qualifiedPath[:len(qualifiedPath)-1])
				if err != nil {
					return hashing.NullHash, fmt.Errorf("%w: %v", ErrInvalidBatchOperation, err)
				}
				return bs.followReferenceGetValueHash(next, hops-1)
			default:
				return hashing.NullHash, fmt.Errorf("%w: references can not point to trees being updated", ErrInvalidBatchOperation)
			}
		}
	}

	path, key := qualifiedPath[:len(qualifiedPath)-1], qualifiedPath[len(qualifiedPath)-1]
	m, err := bs.getMerk(path)
	if err != nil {
		return hashing.NullHash, err
	}

	// With one hop left the chain must terminate here, so the stored
	// value hash is the answer; deeper budgets re-read the element since
	// a later link may still change in this batch.
	if hops == 1 {
		valueHash, err := m.GetValueHash(key)
		if err != nil {
			if isMerkNotFound(err) {
				return hashing.NullHash, missingReferenceError(path, key, "direct ")
			}
			return hashing.NullHash, fmt.Errorf("%w: %v", ErrCorruptedData, err)
		}
		return valueHash, nil
	}

	value, err := m.Get(key)
	if err != nil {
		if isMerkNotFound(err) {
			return hashing.NullHash, missingReferenceError(path, key, "")
		}
		return hashing.NullHash, fmt.Errorf("%w: %v", ErrCorruptedData, err)
	}
	el, err := deserializeElement(value)
	if err != nil {
		return hashing.NullHash, err
	}
	switch {
	case el.IsItem():
		return hashing.ValueHash(value), nil
	case el.IsReference():
		next, err := el.Ref.Resolve(path)
		if err != nil {
			return hashing.NullHash, fmt.Errorf("%w: %v", ErrInvalidBatchOperation, err)
		}
		return bs.followReferenceGetValueHash(next, hops-1)
	default:
		return hashing.NullHash, fmt.Errorf("%w: references can not point to trees being updated", ErrInvalidBatchOperation)
	}
}

func missingReferenceError(path [][]byte, key []byte, qualifier string) error {
	return fmt.Errorf("%w: %sreference to path:`%s` key:`%s` in batch is missing",
		ErrMissingReference, qualifier, hexPath(path), hex.EncodeToString(key))
}
