package grovedb

import (
	"encoding/binary"
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/merk"
	"github.com/dashpay/grovedb-sub000/proof"
	"github.com/dashpay/grovedb-sub000/query"
)

// proofVersion is the first byte of every encoded grove proof.
const proofVersion = 0

// proofLayer is one subtree's merk proof plus the lower layers reached
// through its matched tree elements, in direction order.
type proofLayer struct {
	merkProof []byte
	keys      [][]byte
	lower     map[string]*proofLayer
}

func (l *proofLayer) addLower(key []byte, child *proofLayer) {
	if l.lower == nil {
		l.lower = make(map[string]*proofLayer)
	}
	if _, ok := l.lower[string(key)]; !ok {
		l.keys = append(l.keys, append([]byte(nil), key...))
	}
	l.lower[string(key)] = child
}

// Prove generates a verifiable proof for the path query: one layer per
// path segment, a terminal layer for the query items, and recursive
// layers below matched subtrees when the query descends. Offsets are not
// provable.
func (db *DB) Prove(pq *query.PathQuery) ([]byte, error) {
	if pq.Query == nil || pq.Query.Query == nil {
		return nil, fmt.Errorf("%w: path query without a query", ErrInvalidPath)
	}
	if pq.Query.Offset != nil && *pq.Query.Offset > 0 {
		return nil, fmt.Errorf("%w: offsets cannot be proven", ErrInvalidPath)
	}
	g := &proofGenerator{db: db}
	if pq.Query.Limit != nil {
		remaining := *pq.Query.Limit
		g.limit = &remaining
	}
	root, err := g.provePathLayer(nil, pq.Path, pq.Query.Query)
	if err != nil {
		return nil, err
	}
	return encodeGroveProof(root), nil
}

type proofGenerator struct {
	db    *DB
	limit *uint16
}

func (g *proofGenerator) done() bool {
	return g.limit != nil && *g.limit == 0
}

func (g *proofGenerator) consume() {
	if g.limit != nil {
		*g.limit--
	}
}

// provePathLayer proves one path segment and descends toward the terminal
// query.
func (g *proofGenerator) provePathLayer(path [][]byte, remaining [][]byte, terminal *query.Query) (*proofLayer, error) {
	if len(remaining) == 0 {
		return g.proveQueryLayer(path, terminal)
	}
	key := remaining[0]
	m, err := g.db.openMerk(path, nil)
	if err != nil {
		return nil, err
	}
	layer, err := g.merkProofLayer(m, path, []query.QueryItem{query.NewKey(key)}, nil, true)
	if err != nil {
		return nil, err
	}

	el, err := fetchElementFromMerk(m, key)
	if err != nil {
		if isNotFound(err) {
			// the layer witnesses the absence; nothing below to prove
			return layer, nil
		}
		return nil, err
	}
	if !el.IsTree() {
		return nil, fmt.Errorf("%w: element at %x is %s, not a subtree", ErrInvalidPath, key, el.Kind)
	}
	child, err := g.provePathLayer(clonePath(path, key), remaining[1:], terminal)
	if err != nil {
		return nil, err
	}
	layer.addLower(key, child)
	return layer, nil
}

// proveQueryLayer proves the query items against one subtree. Layers that
// descend through subqueries prove all their matches and push the limit
// into the layers below; plain terminal layers apply the limit directly.
func (g *proofGenerator) proveQueryLayer(path [][]byte, q *query.Query) (*proofLayer, error) {
	m, err := g.db.openMerk(path, nil)
	if err != nil {
		return nil, err
	}

	if !q.HasSubquery() {
		ops, leftover, err := m.Prove(q.Items, g.limit, q.LeftToRight)
		if err != nil {
			return nil, err
		}
		g.limit = leftover
		return g.encodeLayerOps(path, ops)
	}

	layer, err := g.merkProofLayer(m, path, q.Items, nil, q.LeftToRight)
	if err != nil {
		return nil, err
	}
	for _, item := range q.ItemsInDirection() {
		if g.done() {
			break
		}
		err := m.IterateItem(item, q.LeftToRight, func(key, value []byte) (bool, error) {
			if g.done() {
				return false, nil
			}
			el, err := deserializeElement(value)
			if err != nil {
				return false, err
			}
			subPath, sub, has := effectiveSubquery(q, key)
			if has && el.IsTree() {
				if q.AddParentTreeOnSubquery {
					g.consume()
				}
				child, err := g.proveDescend(clonePath(path, key), subPath, sub)
				if err != nil {
					return false, err
				}
				if child != nil {
					layer.addLower(key, child)
				}
			} else {
				g.consume()
			}
			return !g.done(), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return layer, nil
}

// proveDescend follows a subquery path below a matched subtree.
func (g *proofGenerator) proveDescend(path [][]byte, subqueryPath [][]byte, sub *query.Query) (*proofLayer, error) {
	if len(subqueryPath) == 0 {
		if sub == nil {
			return nil, nil
		}
		return g.proveQueryLayer(path, sub)
	}
	key := subqueryPath[0]
	m, err := g.db.openMerk(path, nil)
	if err != nil {
		return nil, err
	}
	layer, err := g.merkProofLayer(m, path, []query.QueryItem{query.NewKey(key)}, nil, true)
	if err != nil {
		return nil, err
	}
	el, err := fetchElementFromMerk(m, key)
	if err != nil {
		if isNotFound(err) {
			return layer, nil
		}
		return nil, err
	}
	if !el.IsTree() {
		// a non-tree element at the end of the path is itself the result
		if sub == nil && len(subqueryPath) == 1 {
			g.consume()
		}
		return layer, nil
	}
	child, err := g.proveDescend(clonePath(path, key), subqueryPath[1:], sub)
	if err != nil {
		return nil, err
	}
	if child != nil {
		layer.addLower(key, child)
	}
	return layer, nil
}

// merkProofLayer runs the merk prover and rewrites matched references so
// the proof carries their resolved targets.
func (g *proofGenerator) merkProofLayer(m *merk.Merk, path [][]byte, items []query.QueryItem, limit *uint16, leftToRight bool) (*proofLayer, error) {
	ops, _, err := m.Prove(items, limit, leftToRight)
	if err != nil {
		return nil, err
	}
	return g.encodeLayerOps(path, ops)
}

func (g *proofGenerator) encodeLayerOps(path [][]byte, ops []proof.Op) (*proofLayer, error) {
	if err := g.resolveReferenceNodes(path, ops); err != nil {
		return nil, err
	}
	encoded, err := proof.Encode(ops)
	if err != nil {
		return nil, err
	}
	return &proofLayer{merkProof: encoded}, nil
}

// resolveReferenceNodes swaps matched reference nodes for
// KVRefValueHash nodes carrying the dereferenced target, so verifiers see
// the value a direct query would have returned.
func (g *proofGenerator) resolveReferenceNodes(path [][]byte, ops []proof.Op) error {
	for _, op := range ops {
		if op.Node == nil || op.Node.Type != proof.NodeKVValueHash {
			continue
		}
		el, err := element.Deserialize(op.Node.Value)
		if err != nil || !el.IsReference() {
			continue
		}
		qualified, err := el.Ref.Resolve(path)
		if err != nil {
			continue
		}
		hops := uint8(MaxReferenceHops)
		if el.MaxHops != nil {
			hops = *el.MaxHops
		}
		target, err := g.db.followReference(qualified, hops)
		if err != nil {
			return err
		}
		serialized, err := target.Serialize()
		if err != nil {
			return err
		}
		op.Node.Type = proof.NodeKVRefValueHash
		op.Node.Value = serialized
	}
	return nil
}

func encodeGroveProof(root *proofLayer) []byte {
	buf := []byte{proofVersion}
	return appendLayer(buf, root)
}

func appendLayer(buf []byte, l *proofLayer) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(l.merkProof)))
	buf = append(buf, l.merkProof...)
	buf = binary.AppendUvarint(buf, uint64(len(l.keys)))
	for _, key := range l.keys {
		buf = binary.AppendUvarint(buf, uint64(len(key)))
		buf = append(buf, key...)
		buf = appendLayer(buf, l.lower[string(key)])
	}
	return buf
}

func decodeGroveProof(data []byte) (*proofLayer, error) {
	if len(data) == 0 || data[0] != proofVersion {
		return nil, fmt.Errorf("%w: unknown proof version", proof.ErrInvalidProof)
	}
	layer, pos, err := decodeLayer(data, 1)
	if err != nil {
		return nil, err
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: trailing proof bytes", proof.ErrInvalidProof)
	}
	return layer, nil
}

func decodeLayer(data []byte, pos int) (*proofLayer, int, error) {
	length, n := binary.Uvarint(data[pos:])
	if n <= 0 || uint64(len(data)-pos-n) < length {
		return nil, pos, fmt.Errorf("%w: truncated layer", proof.ErrInvalidProof)
	}
	pos += n
	layer := &proofLayer{merkProof: append([]byte(nil), data[pos:pos+int(length)]...)}
	pos += int(length)

	count, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return nil, pos, fmt.Errorf("%w: truncated layer count", proof.ErrInvalidProof)
	}
	pos += n
	for i := uint64(0); i < count; i++ {
		keyLen, n := binary.Uvarint(data[pos:])
		if n <= 0 || uint64(len(data)-pos-n) < keyLen {
			return nil, pos, fmt.Errorf("%w: truncated layer key", proof.ErrInvalidProof)
		}
		pos += n
		key := append([]byte(nil), data[pos:pos+int(keyLen)]...)
		pos += int(keyLen)
		child, newPos, err := decodeLayer(data, pos)
		if err != nil {
			return nil, pos, err
		}
		pos = newPos
		layer.addLower(key, child)
	}
	return layer, pos, nil
}
