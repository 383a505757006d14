package merk

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// OpKind discriminates per-key batch operations.
type OpKind uint8

const (
	// OpPut stores a value whose hash derives from its bytes.
	OpPut OpKind = iota
	// OpPutWithValueHash stores a value with an externally maintained
	// value hash (tree handles, references).
	OpPutWithValueHash
	// OpDelete removes a key. Deleting a missing key is an error.
	OpDelete
)

// Op is one entry of a sorted, unique-key batch.
type Op struct {
	Key       []byte
	Kind      OpKind
	Value     []byte
	ValueHash hashing.Hash
	// Sum is the entry's contribution to a summing tree.
	Sum int64
}

// UpdateHook observes a value replacement before it commits and may return
// a rewritten value (flag maintenance). A nil return keeps newValue.
type UpdateHook func(key, oldValue, newValue []byte) ([]byte, error)

// RemovalClass attributes bytes freed by a removal.
type RemovalClass uint8

const (
	BasicRemoval RemovalClass = iota
	SectionedRemoval
)

// RemovalHook classifies the key and value bytes freed when an entry is
// removed.
type RemovalHook func(key, value []byte) (keyClass, valueClass RemovalClass, err error)

// StorageRemoval totals the bytes freed by an apply, split by class.
type StorageRemoval struct {
	BasicKeyBytes       uint64
	BasicValueBytes     uint64
	SectionedKeyBytes   uint64
	SectionedValueBytes uint64
}

// ApplyResult is the commit triple plus removal accounting.
type ApplyResult struct {
	RootHash  hashing.Hash
	RootKey   []byte
	Aggregate AggregateData
	Removal   StorageRemoval
}

// Apply runs a sorted, unique-key batch against the tree, rebalances,
// commits exactly the changed nodes to the storage context, and returns
// the new root triple.
func (m *Merk) Apply(ops []Op, updateHook UpdateHook, removalHook RemovalHook) (*ApplyResult, error) {
	for i := 1; i < len(ops); i++ {
		if bytes.Compare(ops[i-1].Key, ops[i].Key) >= 0 {
			return nil, fmt.Errorf("batch keys must be sorted and unique")
		}
	}

	a := &applier{m: m, updateHook: updateHook, removalHook: removalHook}

	root, err := m.loadRoot()
	if err != nil {
		return nil, err
	}
	newRoot, err := a.apply(root, ops)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{Removal: a.removal}
	if newRoot == nil {
		m.rootKey = nil
		if err := m.ctx.DeleteAux(RootKeyAux); err != nil {
			return nil, err
		}
	} else {
		link, err := a.commit(newRoot)
		if err != nil {
			return nil, err
		}
		m.rootKey = link.Key
		if err := m.ctx.PutAux(RootKeyAux, link.Key); err != nil {
			return nil, err
		}
		result.RootHash = link.Hash
		result.RootKey = link.Key
		result.Aggregate = link.Aggregate
	}
	if newRoot == nil {
		result.Aggregate = AggregateData{Kind: NoAggregate}
	}

	for _, key := range a.deleted {
		if err := m.ctx.Delete(key); err != nil {
			return nil, err
		}
		m.cache.Remove(string(key))
		delete(m.pending, string(key))
	}
	return result, nil
}

type applier struct {
	m           *Merk
	updateHook  UpdateHook
	removalHook RemovalHook
	deleted     [][]byte
	removal     StorageRemoval
}

func (a *applier) apply(node *TreeNode, ops []Op) (*TreeNode, error) {
	if len(ops) == 0 {
		return node, nil
	}
	if node == nil {
		return a.build(ops)
	}

	idx := sort.Search(len(ops), func(i int) bool {
		return bytes.Compare(ops[i].Key, node.Key) >= 0
	})
	exact := idx < len(ops) && bytes.Equal(ops[idx].Key, node.Key)
	leftOps := ops[:idx]
	rightOps := ops[idx:]
	if exact {
		rightOps = ops[idx+1:]
	}

	if err := a.applyChild(node, true, leftOps); err != nil {
		return nil, err
	}
	if err := a.applyChild(node, false, rightOps); err != nil {
		return nil, err
	}

	if exact {
		op := ops[idx]
		if op.Kind == OpDelete {
			return a.removeRoot(node)
		}
		value := op.Value
		if a.updateHook != nil {
			replacement, err := a.updateHook(node.Key, node.Value, value)
			if err != nil {
				return nil, err
			}
			if replacement != nil {
				value = replacement
			}
		}
		node.Value = value
		node.Combined = op.Kind == OpPutWithValueHash
		node.ValueHash = op.ValueHash
		node.OwnSum = op.Sum
		node.dirty = true
	}
	return a.balance(node)
}

func (a *applier) applyChild(node *TreeNode, left bool, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	child, err := a.m.loadLink(node.child(left))
	if err != nil {
		return err
	}
	newChild, err := a.apply(child, ops)
	if err != nil {
		return err
	}
	node.setChild(left, modifiedLink(newChild))
	return nil
}

// build constructs a balanced subtree from scratch by rooting at the
// middle op.
func (a *applier) build(ops []Op) (*TreeNode, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	mid := len(ops) / 2
	op := ops[mid]
	if op.Kind == OpDelete {
		return nil, fmt.Errorf("cannot delete missing key %x: %w", op.Key, ErrNotFound)
	}
	node := &TreeNode{
		Key:       append([]byte(nil), op.Key...),
		Value:     op.Value,
		Combined:  op.Kind == OpPutWithValueHash,
		ValueHash: op.ValueHash,
		OwnSum:    op.Sum,
		dirty:     true,
	}
	left, err := a.build(ops[:mid])
	if err != nil {
		return nil, err
	}
	right, err := a.build(ops[mid+1:])
	if err != nil {
		return nil, err
	}
	node.Left = modifiedLink(left)
	node.Right = modifiedLink(right)
	return node, nil
}

// removeRoot detaches the node, promoting an edge of the taller child into
// its place. Equal heights promote from the left.
func (a *applier) removeRoot(node *TreeNode) (*TreeNode, error) {
	if err := a.recordRemoval(node); err != nil {
		return nil, err
	}

	left, right := node.Left, node.Right
	switch {
	case left == nil && right == nil:
		return nil, nil
	case left == nil:
		return a.m.loadLink(right)
	case right == nil:
		return a.m.loadLink(left)
	}

	promoteLeft := left.height() >= right.height()
	child, err := a.m.loadLink(node.child(promoteLeft))
	if err != nil {
		return nil, err
	}
	// Promoting from the left lifts the left subtree's rightmost node.
	edge, rest, err := a.removeEdge(child, !promoteLeft)
	if err != nil {
		return nil, err
	}
	if promoteLeft {
		edge.setChild(true, modifiedLink(rest))
		edge.setChild(false, right)
	} else {
		edge.setChild(false, modifiedLink(rest))
		edge.setChild(true, left)
	}
	return a.balance(edge)
}

// removeEdge detaches the extreme node on the given side, rebalancing the
// path it walked.
func (a *applier) removeEdge(node *TreeNode, left bool) (edge, rest *TreeNode, err error) {
	childLink := node.child(left)
	if childLink == nil {
		other, err := a.m.loadLink(node.child(!left))
		if err != nil {
			return nil, nil, err
		}
		node.setChild(!left, nil)
		return node, other, nil
	}
	child, err := a.m.loadLink(childLink)
	if err != nil {
		return nil, nil, err
	}
	edge, newChild, err := a.removeEdge(child, left)
	if err != nil {
		return nil, nil, err
	}
	node.setChild(left, modifiedLink(newChild))
	rest, err = a.balance(node)
	if err != nil {
		return nil, nil, err
	}
	return edge, rest, nil
}

func (a *applier) recordRemoval(node *TreeNode) error {
	a.deleted = append(a.deleted, node.Key)
	keyClass, valueClass := BasicRemoval, BasicRemoval
	if a.removalHook != nil {
		var err error
		keyClass, valueClass, err = a.removalHook(node.Key, node.Value)
		if err != nil {
			return err
		}
	}
	if keyClass == SectionedRemoval {
		a.removal.SectionedKeyBytes += uint64(len(node.Key))
	} else {
		a.removal.BasicKeyBytes += uint64(len(node.Key))
	}
	if valueClass == SectionedRemoval {
		a.removal.SectionedValueBytes += uint64(len(node.Value))
	} else {
		a.removal.BasicValueBytes += uint64(len(node.Value))
	}
	return nil
}

// balance restores the AVL invariant at node with single and double
// rotations, recursing until the height difference is within one.
func (a *applier) balance(node *TreeNode) (*TreeNode, error) {
	bf := node.balanceFactor()
	if bf >= -1 && bf <= 1 {
		return node, nil
	}
	heavyLeft := bf < 0
	child, err := a.m.loadLink(node.child(heavyLeft))
	if err != nil {
		return nil, err
	}
	childBF := child.balanceFactor()
	if (heavyLeft && childBF > 0) || (!heavyLeft && childBF < 0) {
		rotated, err := a.rotate(child, !heavyLeft)
		if err != nil {
			return nil, err
		}
		node.setChild(heavyLeft, modifiedLink(rotated))
	}
	newRoot, err := a.rotate(node, heavyLeft)
	if err != nil {
		return nil, err
	}
	return a.balance(newRoot)
}

// rotate lifts the child on the given side to the root of the subtree,
// rebalancing the demoted node.
func (a *applier) rotate(node *TreeNode, left bool) (*TreeNode, error) {
	child, err := a.m.loadLink(node.child(left))
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("rotation against a missing child")
	}
	grandchild := child.child(!left)
	node.setChild(left, grandchild)
	demoted, err := a.balance(node)
	if err != nil {
		return nil, err
	}
	child.setChild(!left, modifiedLink(demoted))
	return child, nil
}

// commit recomputes aggregates and hashes bottom-up over the dirty region
// and writes each changed node to the storage context.
func (a *applier) commit(node *TreeNode) (*Link, error) {
	for _, left := range []bool{true, false} {
		link := node.child(left)
		if link != nil && link.node != nil && link.node.dirty {
			committed, err := a.commit(link.node)
			if err != nil {
				return nil, err
			}
			if left {
				node.Left = committed
			} else {
				node.Right = committed
			}
		}
	}

	agg := ownAggregate(a.m.treeType, node.OwnSum)
	if node.Left != nil {
		agg = agg.Add(node.Left.Aggregate)
	}
	if node.Right != nil {
		agg = agg.Add(node.Right.Aggregate)
	}
	node.Aggregate = agg
	node.KVHash = node.computeKVHash()
	node.dirty = false

	encoded := EncodeNode(node)
	if err := a.m.ctx.Put(node.Key, encoded); err != nil {
		return nil, err
	}
	a.m.cache.Remove(string(node.Key))
	a.m.pending[string(node.Key)] = encoded

	var leftHeight, rightHeight uint8
	if node.Left != nil {
		leftHeight = node.Left.height()
	}
	if node.Right != nil {
		rightHeight = node.Right.height()
	}
	return &Link{
		Key:          node.Key,
		Hash:         node.NodeHash(),
		ChildHeights: [2]uint8{leftHeight, rightHeight},
		Aggregate:    agg,
		node:         node,
	}, nil
}
