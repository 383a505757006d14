package merk

import "github.com/dashpay/grovedb-sub000/hashing"

// Link binds a parent node to one child subtree: the child's key, its node
// hash, the heights of its own children, and its whole-subtree aggregate.
// The child node itself is materialized lazily.
type Link struct {
	Key          []byte
	Hash         hashing.Hash
	ChildHeights [2]uint8
	Aggregate    AggregateData

	node *TreeNode
}

// TreeNode is one key/value entry of a merk. A node owns its subtree
// through its links; in-order traversal of links yields strict ascending
// key order.
type TreeNode struct {
	Key   []byte
	Value []byte

	// Combined marks elements whose kv hash binds an externally maintained
	// value hash (tree handles, references).
	Combined  bool
	ValueHash hashing.Hash
	KVHash    hashing.Hash

	// OwnSum is this node's contribution to a summing tree.
	OwnSum int64

	// Aggregate covers the node's whole subtree. Valid on loaded
	// (committed) nodes; recomputed during commit for dirty ones.
	Aggregate AggregateData

	Left  *Link
	Right *Link

	dirty bool
}

// height is 1 plus the taller child, computed through loaded dirty nodes
// whose stored heights may be stale.
func (n *TreeNode) height() uint8 {
	lh := n.Left.height()
	rh := n.Right.height()
	if lh > rh {
		return 1 + lh
	}
	return 1 + rh
}

func (l *Link) height() uint8 {
	if l == nil {
		return 0
	}
	if l.node != nil && l.node.dirty {
		return l.node.height()
	}
	if l.ChildHeights[0] > l.ChildHeights[1] {
		return 1 + l.ChildHeights[0]
	}
	return 1 + l.ChildHeights[1]
}

// balanceFactor is right height minus left height.
func (n *TreeNode) balanceFactor() int {
	return int(n.Right.height()) - int(n.Left.height())
}

func (n *TreeNode) child(left bool) *Link {
	if left {
		return n.Left
	}
	return n.Right
}

func (n *TreeNode) setChild(left bool, l *Link) {
	if left {
		n.Left = l
	} else {
		n.Right = l
	}
	n.dirty = true
}

// modifiedLink wraps a mutated node; its hash, heights and aggregate are
// recomputed at commit.
func modifiedLink(n *TreeNode) *Link {
	if n == nil {
		return nil
	}
	n.dirty = true
	return &Link{Key: n.Key, node: n}
}

// NodeHash computes the node's authenticating hash from its committed
// fields.
func (n *TreeNode) NodeHash() hashing.Hash {
	var left, right hashing.Hash
	if n.Left != nil {
		left = n.Left.Hash
	}
	if n.Right != nil {
		right = n.Right.Hash
	}
	return hashing.NodeHash(n.KVHash, left, right, n.Aggregate.FeatureBytes())
}

// computeKVHash derives the kv hash from the node's hashing mode.
func (n *TreeNode) computeKVHash() hashing.Hash {
	if n.Combined {
		return hashing.KVDigestHash(n.Key, n.ValueHash)
	}
	return hashing.KVHashSimple(n.Key, n.Value)
}

// valueDigest is the value hash witnesses carry: the externally maintained
// hash for combined nodes, the digest of the value bytes otherwise.
func (n *TreeNode) valueDigest() hashing.Hash {
	if n.Combined {
		return n.ValueHash
	}
	return hashing.ValueHash(n.Value)
}
