package proof

import (
	"bytes"
	"fmt"

	"github.com/dashpay/grovedb-sub000/hashing"
	"github.com/dashpay/grovedb-sub000/query"
)

// ProvedEntry is one key the proof demonstrated, with whatever payload its
// node variant carried.
type ProvedEntry struct {
	Key       []byte
	Value     []byte
	ValueHash hashing.Hash
	Type      NodeType
}

// VerifyResult is the outcome of verifying one merk-level proof.
type VerifyResult struct {
	RootHash hashing.Hash
	// Entries are the matched results in direction order.
	Entries []ProvedEntry
	// LeftoverLimit is the limit remaining after this layer's matches,
	// nil when the query was unlimited.
	LeftoverLimit *uint16
}

// VerifyQuery executes proofBytes, reconstructs the partial tree,
// recomputes its root hash, and checks the tree against the query items:
// every in-range key must be matched or have its absence witnessed, in
// direction order, under the given limit.
func VerifyQuery(proofBytes []byte, items []query.QueryItem, limit *uint16, leftToRight bool) (*VerifyResult, error) {
	ops, err := Decode(proofBytes)
	if err != nil {
		return nil, err
	}
	tree, err := Execute(ops, nil)
	if err != nil {
		return nil, err
	}
	rootHash, err := tree.RootHash()
	if err != nil {
		return nil, err
	}

	seq, err := sequence(tree)
	if err != nil {
		return nil, err
	}
	entries, leftover, err := matchSequence(seq, items, limit, leftToRight)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{RootHash: rootHash, Entries: entries, LeftoverLimit: leftover}, nil
}

type seqEntry struct {
	keyed bool
	node  *Node
}

// sequence flattens the partial tree into key order, checking that keyed
// nodes really are ordered: a malformed proof cannot smuggle a key into
// the wrong position.
func sequence(tree *Tree) ([]seqEntry, error) {
	var seq []seqEntry
	var lastKey []byte
	err := tree.InOrder(func(n *Node) error {
		if !n.HasKey() {
			seq = append(seq, seqEntry{node: n})
			return nil
		}
		if lastKey != nil && bytes.Compare(lastKey, n.Key) >= 0 {
			return fmt.Errorf("%w: keys out of order", ErrInvalidProof)
		}
		lastKey = n.Key
		seq = append(seq, seqEntry{keyed: true, node: n})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}

// matchSequence walks the flattened proof in direction order against the
// query items, collecting matches and validating absence witnesses.
func matchSequence(seq []seqEntry, items []query.QueryItem, limit *uint16, leftToRight bool) ([]ProvedEntry, *uint16, error) {
	ordered := seq
	if !leftToRight {
		ordered = make([]seqEntry, len(seq))
		for i, e := range seq {
			ordered[len(seq)-1-i] = e
		}
	}
	orderedItems := make([]query.QueryItem, len(items))
	copy(orderedItems, items)
	if !leftToRight {
		for i, j := 0, len(orderedItems)-1; i < j; i, j = i+1, j-1 {
			orderedItems[i], orderedItems[j] = orderedItems[j], orderedItems[i]
		}
	}

	var leftover *uint16
	if limit != nil {
		remaining := *limit
		leftover = &remaining
	}

	var results []ProvedEntry
	itemIdx := 0
	inRange := false
	// The start of the sequence counts as a proven edge.
	lastWasKeyed := true

	// before reports whether key precedes the item in direction order;
	// past reports it lies beyond the item.
	before := func(key []byte, item query.QueryItem) bool {
		if leftToRight {
			return item.CompareKey(key) < 0
		}
		return item.CompareKey(key) > 0
	}
	past := func(key []byte, item query.QueryItem) bool {
		if leftToRight {
			return item.CompareKey(key) > 0
		}
		return item.CompareKey(key) < 0
	}
	// startBound reports an exact hit on the item's first bound in
	// direction order, which proves the range start by itself.
	startBound := func(key []byte, item query.QueryItem) bool {
		if leftToRight {
			return !item.LowerUnbounded && !item.LowerExclusive && bytes.Equal(key, item.Lower)
		}
		return !item.UpperUnbounded && item.UpperInclusive && bytes.Equal(key, item.Upper)
	}
	// endBound reports the item cannot match any key beyond this one.
	endBound := func(key []byte, item query.QueryItem) bool {
		if leftToRight {
			return !item.UpperUnbounded && item.UpperInclusive && bytes.Equal(key, item.Upper)
		}
		return !item.LowerUnbounded && !item.LowerExclusive && bytes.Equal(key, item.Lower)
	}

	limitExhausted := func() bool {
		return leftover != nil && *leftover == 0
	}

	for _, e := range ordered {
		if itemIdx >= len(orderedItems) {
			break
		}
		if limitExhausted() {
			break
		}
		if !e.keyed {
			if inRange {
				return nil, nil, fmt.Errorf("%w: abridged range", ErrMissingData)
			}
			lastWasKeyed = false
			continue
		}
		key := e.node.Key

		for itemIdx < len(orderedItems) {
			item := orderedItems[itemIdx]
			if before(key, item) {
				break
			}
			if !inRange && !past(key, item) {
				// first proof entry reaching this item: its start bound
				// must be witnessed by an exact hit, an adjacent keyed
				// node, or the tree edge
				if !startBound(key, item) && !lastWasKeyed {
					return nil, nil, fmt.Errorf("%w: cannot verify range start", ErrMissingData)
				}
			}
			if past(key, item) {
				// item finished; its remaining absence is witnessed by
				// this keyed node, provided nothing opaque intervened
				if inRange {
					inRange = false
				} else if !lastWasKeyed {
					return nil, nil, fmt.Errorf("%w: cannot verify absence", ErrMissingData)
				}
				itemIdx++
				continue
			}
			// key is inside the item
			if !e.node.HasValue() {
				return nil, nil, fmt.Errorf("%w: matched key without value", ErrMissingData)
			}
			if limitExhausted() {
				return nil, nil, fmt.Errorf("%w: results beyond limit", ErrLimitMismatch)
			}
			results = append(results, ProvedEntry{
				Key:       e.node.Key,
				Value:     e.node.Value,
				ValueHash: e.node.Digest,
				Type:      e.node.Type,
			})
			if leftover != nil {
				*leftover--
			}
			if endBound(key, item) {
				inRange = false
				itemIdx++
			} else {
				inRange = item.IsRange()
			}
			break
		}
		lastWasKeyed = true
	}

	// Query items that remain unserved must be absent past the tree's
	// edge: provable only if the walk ended on a keyed node.
	if itemIdx < len(orderedItems) && !limitExhausted() {
		if !lastWasKeyed {
			return nil, nil, fmt.Errorf("%w: cannot verify absence at tree edge", ErrMissingData)
		}
	}
	return results, leftover, nil
}
