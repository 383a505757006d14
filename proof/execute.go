package proof

import (
	"fmt"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// Tree is the partial tree a proof reconstructs.
type Tree struct {
	Node  *Node
	Left  *Tree
	Right *Tree
}

// Execute runs the proof's stack machine. visit is called once per pushed
// node, in push order; it may be nil. The ops must leave exactly one tree
// on the stack. An empty op stream yields a nil tree (the empty-tree
// proof).
func Execute(ops []Op, visit func(*Node) error) (*Tree, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	var stack []*Tree

	pop := func() (*Tree, error) {
		if len(stack) == 0 {
			return nil, fmt.Errorf("%w: stack underflow", ErrInvalidProof)
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	attach := func(parent, child *Tree, left bool) error {
		if parent.Node.Type == NodeHash {
			return fmt.Errorf("%w: cannot attach below a hash node", ErrInvalidProof)
		}
		if left {
			if parent.Left != nil {
				return fmt.Errorf("%w: left child already attached", ErrInvalidProof)
			}
			parent.Left = child
		} else {
			if parent.Right != nil {
				return fmt.Errorf("%w: right child already attached", ErrInvalidProof)
			}
			parent.Right = child
		}
		return nil
	}

	for _, op := range ops {
		switch op.Type {
		case OpPush, OpPushInverted:
			if op.Node == nil {
				return nil, fmt.Errorf("%w: push without node", ErrInvalidProof)
			}
			if visit != nil {
				if err := visit(op.Node); err != nil {
					return nil, err
				}
			}
			stack = append(stack, &Tree{Node: op.Node})
		case OpParent, OpParentInverted:
			parent, err := pop()
			if err != nil {
				return nil, err
			}
			child, err := pop()
			if err != nil {
				return nil, err
			}
			// Parent attaches the lower stack entry as the left child;
			// the inverted form mirrors it for right-to-left proofs.
			if err := attach(parent, child, op.Type == OpParent); err != nil {
				return nil, err
			}
			stack = append(stack, parent)
		case OpChild, OpChildInverted:
			child, err := pop()
			if err != nil {
				return nil, err
			}
			parent, err := pop()
			if err != nil {
				return nil, err
			}
			if err := attach(parent, child, op.Type == OpChildInverted); err != nil {
				return nil, err
			}
			stack = append(stack, parent)
		default:
			return nil, fmt.Errorf("%w: unknown op", ErrInvalidProof)
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: expected one tree on the stack, have %d", ErrInvalidProof, len(stack))
	}
	return stack[0], nil
}

type hashState struct {
	hash     hashing.Hash
	hasCount bool
	count    uint64
}

// RootHash recomputes the partial tree's root hash, checking the recursive
// count invariant wherever both children's counts are known.
func (t *Tree) RootHash() (hashing.Hash, error) {
	if t == nil {
		return hashing.NullHash, nil
	}
	state, err := t.computeState()
	if err != nil {
		return hashing.NullHash, err
	}
	return state.hash, nil
}

func (t *Tree) computeState() (hashState, error) {
	node := t.Node
	if node.Type == NodeHash {
		if t.Left != nil || t.Right != nil {
			return hashState{}, fmt.Errorf("%w: hash node with children", ErrInvalidProof)
		}
		return hashState{hash: node.Digest}, nil
	}

	if node.Type == NodeKVRefValueHash {
		// a dereferenced value must hash to the carried value hash
		if hashing.ValueHash(node.Value) != node.Digest {
			return hashState{}, fmt.Errorf("%w: reference value does not match its hash", ErrInvalidProof)
		}
	}

	left, err := childState(t.Left)
	if err != nil {
		return hashState{}, err
	}
	right, err := childState(t.Right)
	if err != nil {
		return hashState{}, err
	}

	if node.CountBearing() && left.hasCount && right.hasCount {
		if node.Feature == nil || node.Feature.Count != 1+left.count+right.count {
			return hashState{}, fmt.Errorf("%w: count does not fold over children", ErrInvalidProof)
		}
	}

	hash := hashing.NodeHash(node.kvHash(), left.hash, right.hash, node.Feature.bytes())
	state := hashState{hash: hash}
	if node.CountBearing() {
		state.hasCount = true
		state.count = node.Feature.Count
	}
	return state, nil
}

func childState(t *Tree) (hashState, error) {
	if t == nil {
		// an absent child hashes to null and counts zero
		return hashState{hash: hashing.NullHash, hasCount: true}, nil
	}
	return t.computeState()
}

// InOrder walks the partial tree in ascending key order.
func (t *Tree) InOrder(fn func(*Node) error) error {
	if t == nil {
		return nil
	}
	if err := t.Left.InOrder(fn); err != nil {
		return err
	}
	if err := fn(t.Node); err != nil {
		return err
	}
	return t.Right.InOrder(fn)
}
