package merk

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// VerifyIntegrity walks the whole committed tree, recomputing kv hashes,
// node hashes, heights, and aggregates from scratch, and compares them to
// the stored values. It returns the recomputed root hash.
func (m *Merk) VerifyIntegrity() (hashing.Hash, error) {
	if m.rootKey == nil {
		return hashing.NullHash, nil
	}
	state, err := m.verifyNode(m.rootKey, nil, nil)
	if err != nil {
		return hashing.NullHash, err
	}
	return state.hash, nil
}

func bigSumsEqual(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) == 0
}

type integrityState struct {
	hash      hashing.Hash
	height    uint8
	aggregate AggregateData
}

// verifyNode recomputes one node and its subtree, enforcing the key-order
// bounds inherited from ancestors.
func (m *Merk) verifyNode(key, lower, upper []byte) (integrityState, error) {
	node, err := m.fetchNode(key)
	if err != nil {
		return integrityState{}, err
	}
	if lower != nil && bytes.Compare(node.Key, lower) <= 0 {
		return integrityState{}, fmt.Errorf("key %x violates its subtree's lower bound", node.Key)
	}
	if upper != nil && bytes.Compare(node.Key, upper) >= 0 {
		return integrityState{}, fmt.Errorf("key %x violates its subtree's upper bound", node.Key)
	}

	expectedKV := node.computeKVHash()
	if node.KVHash != expectedKV {
		return integrityState{}, fmt.Errorf("kv hash mismatch at key %x", node.Key)
	}

	var left, right integrityState
	if node.Left != nil {
		left, err = m.verifyNode(node.Left.Key, lower, node.Key)
		if err != nil {
			return integrityState{}, err
		}
		if left.hash != node.Left.Hash {
			return integrityState{}, fmt.Errorf("left link hash mismatch at key %x", node.Key)
		}
		if left.height != node.Left.height() {
			return integrityState{}, fmt.Errorf("left link height mismatch at key %x", node.Key)
		}
	}
	if node.Right != nil {
		right, err = m.verifyNode(node.Right.Key, node.Key, upper)
		if err != nil {
			return integrityState{}, err
		}
		if right.hash != node.Right.Hash {
			return integrityState{}, fmt.Errorf("right link hash mismatch at key %x", node.Key)
		}
		if right.height != node.Right.height() {
			return integrityState{}, fmt.Errorf("right link height mismatch at key %x", node.Key)
		}
	}

	balance := int(right.height) - int(left.height)
	if balance < -1 || balance > 1 {
		return integrityState{}, fmt.Errorf("node %x is out of balance", node.Key)
	}

	aggregate := ownAggregate(m.treeType, node.OwnSum)
	if node.Left != nil {
		aggregate = aggregate.Add(left.aggregate)
	}
	if node.Right != nil {
		aggregate = aggregate.Add(right.aggregate)
	}
	if aggregate.Kind != node.Aggregate.Kind ||
		aggregate.Count != node.Aggregate.Count ||
		aggregate.Sum != node.Aggregate.Sum ||
		!bigSumsEqual(aggregate.BigSum, node.Aggregate.BigSum) {
		return integrityState{}, fmt.Errorf("aggregate mismatch at key %x", node.Key)
	}

	height := left.height
	if right.height > height {
		height = right.height
	}
	return integrityState{
		hash:      node.NodeHash(),
		height:    height + 1,
		aggregate: node.Aggregate,
	}, nil
}
