package merk

import (
	"bytes"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/storage"
)

// RootKeyAux is the auxiliary key holding the tree's root node key.
var RootKeyAux = []byte("r")

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("merk: key not found")

// nodeCacheSize bounds the per-merk decoded-node LRU.
const nodeCacheSize = 1024

// Merk is one subtree: a balanced authenticated map bound to a storage
// context. A Merk instance is not safe for concurrent use.
type Merk struct {
	ctx      storage.Context
	treeType TreeType
	rootKey  []byte

	cache *lru.Cache[string, []byte]

	// pending holds node encodings written through a batched context, so
	// walks observe them before the batch reaches the backend.
	pending map[string][]byte
}

// Open binds a merk to a storage context, loading its root key.
func Open(ctx storage.Context, treeType TreeType) (*Merk, error) {
	cache, err := lru.New[string, []byte](nodeCacheSize)
	if err != nil {
		return nil, err
	}
	m := &Merk{ctx: ctx, treeType: treeType, cache: cache, pending: make(map[string][]byte)}
	rootKey, err := ctx.GetAux(RootKeyAux)
	if err != nil {
		return nil, fmt.Errorf("failed to read root key: %w", err)
	}
	m.rootKey = rootKey
	return m, nil
}

// TreeType reports the aggregate behavior this merk was opened with.
func (m *Merk) TreeType() TreeType { return m.treeType }

// IsEmpty reports whether the tree has no entries.
func (m *Merk) IsEmpty() bool { return m.rootKey == nil }

// RootKey returns the key of the root node, or nil for an empty tree.
func (m *Merk) RootKey() []byte { return m.rootKey }

// SetBaseRootKey overrides the stored root key and its auxiliary record.
// The batch engine does not call it; its propagation goes through Apply.
func (m *Merk) SetBaseRootKey(rootKey []byte) error {
	m.rootKey = rootKey
	if rootKey == nil {
		return m.ctx.DeleteAux(RootKeyAux)
	}
	return m.ctx.PutAux(RootKeyAux, rootKey)
}

func (m *Merk) fetchNode(key []byte) (*TreeNode, error) {
	if data, ok := m.pending[string(key)]; ok {
		return DecodeNode(key, data)
	}
	if data, ok := m.cache.Get(string(key)); ok {
		return DecodeNode(key, data)
	}
	data, err := m.ctx.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch node: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("missing node for key %x", key)
	}
	m.cache.Add(string(key), data)
	return DecodeNode(key, data)
}

func (m *Merk) loadLink(l *Link) (*TreeNode, error) {
	if l == nil {
		return nil, nil
	}
	if l.node != nil {
		return l.node, nil
	}
	node, err := m.fetchNode(l.Key)
	if err != nil {
		return nil, err
	}
	l.node = node
	return node, nil
}

func (m *Merk) loadRoot() (*TreeNode, error) {
	if m.rootKey == nil {
		return nil, nil
	}
	return m.fetchNode(m.rootKey)
}

// Get returns the stored value bytes for key, or ErrNotFound.
func (m *Merk) Get(key []byte) ([]byte, error) {
	node, err := m.walkTo(key)
	if err != nil {
		return nil, err
	}
	return node.Value, nil
}

// Has reports whether the key exists.
func (m *Merk) Has(key []byte) (bool, error) {
	_, err := m.walkTo(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetValueHash returns the value hash bound into the key's kv hash: the
// externally maintained hash for combined nodes, the value digest
// otherwise.
func (m *Merk) GetValueHash(key []byte) (hashing.Hash, error) {
	node, err := m.walkTo(key)
	if err != nil {
		return hashing.NullHash, err
	}
	return node.valueDigest(), nil
}

func (m *Merk) walkTo(key []byte) (*TreeNode, error) {
	if m.rootKey == nil {
		return nil, ErrNotFound
	}
	current := m.rootKey
	for {
		node, err := m.fetchNode(current)
		if err != nil {
			return nil, err
		}
		c := bytes.Compare(key, node.Key)
		if c == 0 {
			return node, nil
		}
		var link *Link
		if c < 0 {
			link = node.Left
		} else {
			link = node.Right
		}
		if link == nil {
			return nil, ErrNotFound
		}
		current = link.Key
	}
}

// RootHash returns the authenticating digest of the whole tree. Empty
// trees hash to the null hash.
func (m *Merk) RootHash() (hashing.Hash, error) {
	if m.rootKey == nil {
		return hashing.NullHash, nil
	}
	root, err := m.loadRoot()
	if err != nil {
		return hashing.NullHash, err
	}
	return root.NodeHash(), nil
}

// RootAggregate exports the tree's aggregate data.
func (m *Merk) RootAggregate() (AggregateData, error) {
	if m.rootKey == nil {
		return AggregateData{Kind: NoAggregate}, nil
	}
	root, err := m.loadRoot()
	if err != nil {
		return AggregateData{}, err
	}
	return root.Aggregate, nil
}

// RootHashKeyAndAggregate returns the commit triple in one load.
func (m *Merk) RootHashKeyAndAggregate() (hashing.Hash, []byte, AggregateData, error) {
	if m.rootKey == nil {
		return hashing.NullHash, nil, AggregateData{Kind: NoAggregate}, nil
	}
	root, err := m.loadRoot()
	if err != nil {
		return hashing.NullHash, nil, AggregateData{}, err
	}
	return root.NodeHash(), m.rootKey, root.Aggregate, nil
}

// ClearCache drops decoded-node cache entries. Callers invalidate after
// out-of-band writes to the same context.
func (m *Merk) ClearCache() {
	m.cache.Purge()
}
