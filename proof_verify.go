package grovedb

import (
	"bytes"
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/proof"
	"github.com/dashpay/grovedb-sub000/query"
)

// ProvedPathKeyValue is one entry of a verified path-query proof. Element
// is nil for exact keys whose absence the proof demonstrated.
type ProvedPathKeyValue struct {
	Path    [][]byte
	Key     []byte
	Element *element.Element
}

// VerifyQuery executes the proof against the path query and returns the
// recomputed top-level root hash with the proven results. It touches no
// storage.
func VerifyQuery(proofBytes []byte, pq *query.PathQuery) (hashing.Hash, []ProvedPathKeyValue, error) {
	if pq.Query == nil || pq.Query.Query == nil {
		return hashing.NullHash, nil, fmt.Errorf("%w: path query without a query", proof.ErrInvalidProof)
	}
	root, err := decodeGroveProof(proofBytes)
	if err != nil {
		return hashing.NullHash, nil, err
	}
	v := &proofVerifier{}
	if pq.Query.Limit != nil {
		remaining := *pq.Query.Limit
		v.limit = &remaining
	}
	rootHash, err := v.verifyPathLayer(root, nil, pq.Path, pq.Query.Query)
	if err != nil {
		return hashing.NullHash, nil, err
	}
	return rootHash, v.results, nil
}

// VerifyQueryWithExpectedRoot additionally checks the recomputed root
// against the caller's trusted hash.
func VerifyQueryWithExpectedRoot(proofBytes []byte, pq *query.PathQuery, expectedRoot hashing.Hash) ([]ProvedPathKeyValue, error) {
	rootHash, results, err := VerifyQuery(proofBytes, pq)
	if err != nil {
		return nil, err
	}
	if rootHash != expectedRoot {
		return nil, fmt.Errorf("%w: expected %x, computed %x", proof.ErrHashMismatch, expectedRoot, rootHash)
	}
	return results, nil
}

type proofVerifier struct {
	limit   *uint16
	results []ProvedPathKeyValue
}

func (v *proofVerifier) done() bool {
	return v.limit != nil && *v.limit == 0
}

func (v *proofVerifier) emit(path [][]byte, key []byte, el *element.Element) {
	if v.done() {
		return
	}
	v.results = append(v.results, ProvedPathKeyValue{Path: path, Key: key, Element: el})
	if v.limit != nil {
		*v.limit--
	}
}

// verifyPathLayer checks one path segment's layer and recurses toward the
// terminal query, returning the layer's recomputed root hash.
func (v *proofVerifier) verifyPathLayer(layer *proofLayer, path [][]byte, remaining [][]byte, terminal *query.Query) (hashing.Hash, error) {
	if len(remaining) == 0 {
		return v.verifyQueryLayer(layer, path, terminal)
	}
	key := remaining[0]
	res, err := proof.VerifyQuery(layer.merkProof, []query.QueryItem{query.NewKey(key)}, nil, true)
	if err != nil {
		return hashing.NullHash, err
	}
	entry := entryForKey(res.Entries, key)
	if entry == nil {
		if len(layer.keys) != 0 {
			return hashing.NullHash, fmt.Errorf("%w: layer below an unproven key", proof.ErrInvalidProof)
		}
		// path segment proven absent: no results
		return res.RootHash, nil
	}
	el, err := element.Deserialize(entry.Value)
	if err != nil {
		return hashing.NullHash, fmt.Errorf("%w: undecodable element in proof", proof.ErrInvalidProof)
	}
	if !el.IsTree() {
		return hashing.NullHash, fmt.Errorf("%w: path segment is not a subtree", proof.ErrInvalidProof)
	}
	child := layer.lower[string(key)]
	if child == nil {
		return hashing.NullHash, fmt.Errorf("%w: missing layer for path segment", proof.ErrMissingData)
	}
	childRoot, err := v.verifyPathLayer(child, clonePath(path, key), remaining[1:], terminal)
	if err != nil {
		return hashing.NullHash, err
	}
	if err := checkLayerBinding(entry, childRoot); err != nil {
		return hashing.NullHash, err
	}
	return res.RootHash, nil
}

// verifyQueryLayer checks a terminal or subquery layer, collecting
// results in direction order.
func (v *proofVerifier) verifyQueryLayer(layer *proofLayer, path [][]byte, q *query.Query) (hashing.Hash, error) {
	if !q.HasSubquery() {
		res, err := proof.VerifyQuery(layer.merkProof, q.Items, v.limit, q.LeftToRight)
		if err != nil {
			return hashing.NullHash, err
		}
		v.limit = res.LeftoverLimit
		matched := make(map[string]bool, len(res.Entries))
		for i := range res.Entries {
			entry := &res.Entries[i]
			matched[string(entry.Key)] = true
			el, err := element.Deserialize(entry.Value)
			if err != nil {
				return hashing.NullHash, fmt.Errorf("%w: undecodable element in proof", proof.ErrInvalidProof)
			}
			v.results = append(v.results, ProvedPathKeyValue{Path: path, Key: entry.Key, Element: el})
		}
		// exact keys proven absent surface as explicit nil entries; a
		// truncating limit leaves later items unchecked, so none are
		// claimed
		if v.limit == nil || *v.limit > 0 {
			for _, item := range q.ItemsInDirection() {
				if item.IsKey && !matched[string(item.Lower)] {
					v.results = append(v.results, ProvedPathKeyValue{Path: path, Key: item.Lower})
				}
			}
		}
		return res.RootHash, nil
	}

	res, err := proof.VerifyQuery(layer.merkProof, q.Items, nil, q.LeftToRight)
	if err != nil {
		return hashing.NullHash, err
	}
	for i := range res.Entries {
		if v.done() {
			break
		}
		entry := &res.Entries[i]
		el, err := element.Deserialize(entry.Value)
		if err != nil {
			return hashing.NullHash, fmt.Errorf("%w: undecodable element in proof", proof.ErrInvalidProof)
		}
		subPath, sub, has := effectiveSubquery(q, entry.Key)
		if has && el.IsTree() {
			if len(subPath) == 0 && sub == nil {
				// an empty conditional descends nowhere and emits nothing
				continue
			}
			if q.AddParentTreeOnSubquery {
				v.emit(path, entry.Key, el)
			}
			child := layer.lower[string(entry.Key)]
			if child == nil {
				// legitimate only when the limit ran out before this key
				if !v.done() {
					return hashing.NullHash, fmt.Errorf("%w: missing subquery layer for key %x", proof.ErrMissingData, entry.Key)
				}
				break
			}
			childRoot, err := v.verifyDescend(child, clonePath(path, entry.Key), subPath, sub)
			if err != nil {
				return hashing.NullHash, err
			}
			if err := checkLayerBinding(entry, childRoot); err != nil {
				return hashing.NullHash, err
			}
		} else {
			v.emit(path, entry.Key, el)
		}
	}
	return res.RootHash, nil
}

// verifyDescend mirrors the prover's walk along a subquery path.
func (v *proofVerifier) verifyDescend(layer *proofLayer, path [][]byte, subqueryPath [][]byte, sub *query.Query) (hashing.Hash, error) {
	if len(subqueryPath) == 0 {
		if sub == nil {
			return hashing.NullHash, fmt.Errorf("%w: descent without a subquery", proof.ErrInvalidProof)
		}
		return v.verifyQueryLayer(layer, path, sub)
	}
	key := subqueryPath[0]
	res, err := proof.VerifyQuery(layer.merkProof, []query.QueryItem{query.NewKey(key)}, nil, true)
	if err != nil {
		return hashing.NullHash, err
	}
	entry := entryForKey(res.Entries, key)
	if entry == nil {
		if len(layer.keys) != 0 {
			return hashing.NullHash, fmt.Errorf("%w: layer below an unproven key", proof.ErrInvalidProof)
		}
		return res.RootHash, nil
	}
	el, err := element.Deserialize(entry.Value)
	if err != nil {
		return hashing.NullHash, fmt.Errorf("%w: undecodable element in proof", proof.ErrInvalidProof)
	}
	if !el.IsTree() {
		if sub == nil && len(subqueryPath) == 1 {
			v.emit(path, key, el)
		}
		return res.RootHash, nil
	}
	child := layer.lower[string(key)]
	if child == nil {
		// a path that ends on a subtree with no subquery descends no
		// further
		if len(subqueryPath) == 1 && sub == nil {
			return res.RootHash, nil
		}
		return hashing.NullHash, fmt.Errorf("%w: missing layer for subquery path segment", proof.ErrMissingData)
	}
	childRoot, err := v.verifyDescend(child, clonePath(path, key), subqueryPath[1:], sub)
	if err != nil {
		return hashing.NullHash, err
	}
	if err := checkLayerBinding(entry, childRoot); err != nil {
		return hashing.NullHash, err
	}
	return res.RootHash, nil
}

// checkLayerBinding ties a child layer's recomputed root into the parent
// entry's value hash.
func checkLayerBinding(entry *proof.ProvedEntry, childRoot hashing.Hash) error {
	switch entry.Type {
	case proof.NodeKVValueHash, proof.NodeKVValueHashCount:
	default:
		return fmt.Errorf("%w: subtree entry lacks a bindable value hash", proof.ErrInvalidProof)
	}
	expected := hashing.CombineHash(hashing.ValueHash(entry.Value), childRoot)
	if entry.ValueHash != expected {
		return fmt.Errorf("%w: child layer does not bind to its parent", proof.ErrHashMismatch)
	}
	return nil
}

func entryForKey(entries []proof.ProvedEntry, key []byte) *proof.ProvedEntry {
	for i := range entries {
		if bytes.Equal(entries[i].Key, key) {
			return &entries[i]
		}
	}
	return nil
}
