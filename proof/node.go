// Package proof encodes, executes, and verifies the stack-machine proofs
// emitted by the tree prover. A proof is a flat op sequence; executing it
// rebuilds a partial tree whose recomputed root hash authenticates every
// claim the proof makes.
package proof

import (
	"errors"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// Verification failures.
var (
	ErrInvalidProof  = errors.New("invalid proof")
	ErrHashMismatch  = errors.New("proof hash mismatch")
	ErrMissingData   = errors.New("proof is missing data for query")
	ErrLimitMismatch = errors.New("proof limit mismatch")
	ErrExtraData     = errors.New("proof contains unexpected data")
)

// NodeType discriminates proof node variants.
type NodeType uint8

const (
	// NodeHash covers an entire skipped subtree with its node hash.
	NodeHash NodeType = iota
	// NodeKVHash is an on-path placeholder carrying only the kv hash.
	NodeKVHash
	// NodeKV is a match (or witness) with key and value bytes.
	NodeKV
	// NodeKVValueHash is a match whose kv hash binds an external value
	// hash.
	NodeKVValueHash
	// NodeKVDigest is an absence witness: key and value hash only.
	NodeKVDigest
	// NodeKVDigestCount is an absence witness in a provable-counted tree.
	NodeKVDigestCount
	// NodeKVCount is a match in a provable-counted tree.
	NodeKVCount
	// NodeKVRefValueHash is a match through a reference; the value is the
	// resolved target's bytes.
	NodeKVRefValueHash
	// NodeKVHashCount is an on-path placeholder in a provable-counted
	// tree.
	NodeKVHashCount
	// NodeKVValueHashCount is a combined-hash match in a provable-counted
	// tree.
	NodeKVValueHashCount
)

// Feature is the count-and-sum payload count-bearing nodes carry; it feeds
// the feature bytes of the node hash.
type Feature struct {
	Count  uint64
	Sum    int64
	HasSum bool
}

func (f *Feature) bytes() []byte {
	if f == nil {
		return nil
	}
	if f.HasSum {
		return hashing.ProvableCountSumFeatureBytes(f.Count, f.Sum)
	}
	return hashing.ProvableCountFeatureBytes(f.Count)
}

// Node is one pushed entry of a proof.
type Node struct {
	Type  NodeType
	Key   []byte
	Value []byte
	// Digest is the node hash for NodeHash, the kv hash for NodeKVHash
	// variants, and the value hash for digest and value-hash variants.
	Digest  hashing.Hash
	Feature *Feature
}

// HasKey reports whether the node names a key.
func (n *Node) HasKey() bool {
	switch n.Type {
	case NodeHash, NodeKVHash, NodeKVHashCount:
		return false
	}
	return true
}

// HasValue reports whether the node carries value bytes.
func (n *Node) HasValue() bool {
	switch n.Type {
	case NodeKV, NodeKVValueHash, NodeKVCount, NodeKVRefValueHash, NodeKVValueHashCount:
		return true
	}
	return false
}

// CountBearing reports whether the node carries a provable aggregate.
func (n *Node) CountBearing() bool {
	switch n.Type {
	case NodeKVDigestCount, NodeKVCount, NodeKVHashCount, NodeKVValueHashCount:
		return true
	}
	return false
}

// kvHash derives the node's kv hash from its payload.
func (n *Node) kvHash() hashing.Hash {
	switch n.Type {
	case NodeKVHash, NodeKVHashCount:
		return n.Digest
	case NodeKV, NodeKVCount:
		return hashing.KVHashSimple(n.Key, n.Value)
	default:
		// value-hash and digest variants bind the carried value hash
		return hashing.KVDigestHash(n.Key, n.Digest)
	}
}

// OpType discriminates proof operations.
type OpType uint8

const (
	OpPush OpType = iota
	OpPushInverted
	OpParent
	OpChild
	OpParentInverted
	OpChildInverted
)

// Op is one step of a proof.
type Op struct {
	Type OpType
	Node *Node
}
