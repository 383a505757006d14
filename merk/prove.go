package merk

import (
	"bytes"
	"sort"

	"github.com/dashpay/grovedb-sub000/proof"
	"github.com/dashpay/grovedb-sub000/query"
)

// Prove walks the tree under the query items and emits the minimal op
// sequence proving every match and witnessing every absence, honoring the
// limit and direction. It returns the ops and the limit left over after
// this tree's matches.
func (m *Merk) Prove(items []query.QueryItem, limit *uint16, leftToRight bool) ([]proof.Op, *uint16, error) {
	p := &prover{m: m, leftToRight: leftToRight}
	if limit != nil {
		remaining := *limit
		p.limit = &remaining
	}
	root, err := m.loadRoot()
	if err != nil {
		return nil, nil, err
	}
	if root == nil {
		// the empty tree proves itself: its root hash is the null hash
		return nil, p.limit, nil
	}
	ops, _, err := p.createProof(root, items)
	if err != nil {
		return nil, nil, err
	}
	return ops, p.limit, nil
}

type prover struct {
	m           *Merk
	leftToRight bool
	limit       *uint16
}

func (p *prover) limitExhausted() bool {
	return p.limit != nil && *p.limit == 0
}

func (p *prover) consumeLimit() {
	if p.limit != nil {
		*p.limit--
	}
}

// createProof emits ops for one node and its descendants. The returned
// pair reports whether an unserved query item ran off the subtree's left
// or right edge, which turns ancestor nodes into absence witnesses.
func (p *prover) createProof(node *TreeNode, items []query.QueryItem) ([]proof.Op, [2]bool, error) {
	idx := sort.Search(len(items), func(i int) bool {
		return items[i].CompareKey(node.Key) <= 0
	})
	found := idx < len(items) && items[idx].CompareKey(node.Key) == 0

	var leftItems, rightItems []query.QueryItem
	if found {
		item := items[idx]
		extendsBelow := item.LowerUnbounded ||
			bytes.Compare(item.Lower, node.Key) < 0
		extendsAbove := item.UpperUnbounded ||
			bytes.Compare(item.Upper, node.Key) > 0
		if extendsBelow {
			leftItems = items[:idx+1]
		} else {
			leftItems = items[:idx]
		}
		if extendsAbove {
			rightItems = items[idx:]
		} else {
			rightItems = items[idx+1:]
		}
	} else {
		leftItems = items[:idx]
		rightItems = items[idx:]
	}

	firstLeft := p.leftToRight
	firstItems, secondItems := leftItems, rightItems
	if !firstLeft {
		firstItems, secondItems = rightItems, leftItems
	}

	firstOps, firstAbs, err := p.childProof(node, firstLeft, firstItems)
	if err != nil {
		return nil, [2]bool{}, err
	}

	var selfNode *proof.Node
	if found && !p.limitExhausted() {
		selfNode = p.matchNode(node)
		p.consumeLimit()
	}

	secondOps, secondAbs, err := p.childProof(node, !firstLeft, secondItems)
	if err != nil {
		return nil, [2]bool{}, err
	}

	leftAbs, rightAbs := firstAbs, secondAbs
	if !firstLeft {
		leftAbs, rightAbs = secondAbs, firstAbs
	}

	if selfNode == nil {
		if !found && (leftAbs[1] || rightAbs[0]) {
			selfNode = p.witnessNode(node)
		} else {
			selfNode = p.placeholderNode(node)
		}
	}

	ops := firstOps
	if p.leftToRight {
		ops = append(ops, proof.Op{Type: proof.OpPush, Node: selfNode})
		if len(firstOps) > 0 {
			ops = append(ops, proof.Op{Type: proof.OpParent})
		}
		if len(secondOps) > 0 {
			ops = append(ops, secondOps...)
			ops = append(ops, proof.Op{Type: proof.OpChild})
		}
	} else {
		ops = append(ops, proof.Op{Type: proof.OpPushInverted, Node: selfNode})
		if len(firstOps) > 0 {
			ops = append(ops, proof.Op{Type: proof.OpParentInverted})
		}
		if len(secondOps) > 0 {
			ops = append(ops, secondOps...)
			ops = append(ops, proof.Op{Type: proof.OpChildInverted})
		}
	}
	return ops, [2]bool{leftAbs[0], rightAbs[1]}, nil
}

// childProof recurses into a child when it still has queried items and the
// limit allows, or covers it with a single hash otherwise.
func (p *prover) childProof(node *TreeNode, left bool, items []query.QueryItem) ([]proof.Op, [2]bool, error) {
	link := node.child(left)
	if len(items) > 0 && !p.limitExhausted() {
		if link == nil {
			return nil, [2]bool{true, true}, nil
		}
		child, err := p.m.loadLink(link)
		if err != nil {
			return nil, [2]bool{}, err
		}
		return p.createProof(child, items)
	}
	if link == nil {
		return nil, [2]bool{}, nil
	}
	push := proof.Op{Type: proof.OpPush, Node: &proof.Node{Type: proof.NodeHash, Digest: link.Hash}}
	if !p.leftToRight {
		push.Type = proof.OpPushInverted
	}
	return []proof.Op{push}, [2]bool{}, nil
}

func (p *prover) feature(node *TreeNode) *proof.Feature {
	return &proof.Feature{
		Count:  node.Aggregate.Count,
		Sum:    node.Aggregate.Sum,
		HasSum: p.m.treeType == TreeTypeProvableCountSum,
	}
}

func (p *prover) matchNode(node *TreeNode) *proof.Node {
	if p.m.treeType.Provable() {
		if node.Combined {
			return &proof.Node{
				Type:    proof.NodeKVValueHashCount,
				Key:     node.Key,
				Value:   node.Value,
				Digest:  node.ValueHash,
				Feature: p.feature(node),
			}
		}
		return &proof.Node{
			Type:    proof.NodeKVCount,
			Key:     node.Key,
			Value:   node.Value,
			Feature: p.feature(node),
		}
	}
	if node.Combined {
		return &proof.Node{
			Type:   proof.NodeKVValueHash,
			Key:    node.Key,
			Value:  node.Value,
			Digest: node.ValueHash,
		}
	}
	return &proof.Node{Type: proof.NodeKV, Key: node.Key, Value: node.Value}
}

func (p *prover) witnessNode(node *TreeNode) *proof.Node {
	if p.m.treeType.Provable() {
		if node.Combined {
			return &proof.Node{
				Type:    proof.NodeKVDigestCount,
				Key:     node.Key,
				Digest:  node.ValueHash,
				Feature: p.feature(node),
			}
		}
		return &proof.Node{
			Type:    proof.NodeKVCount,
			Key:     node.Key,
			Value:   node.Value,
			Feature: p.feature(node),
		}
	}
	if node.Combined {
		return &proof.Node{Type: proof.NodeKVDigest, Key: node.Key, Digest: node.ValueHash}
	}
	return &proof.Node{Type: proof.NodeKV, Key: node.Key, Value: node.Value}
}

func (p *prover) placeholderNode(node *TreeNode) *proof.Node {
	if p.m.treeType.Provable() {
		return &proof.Node{
			Type:    proof.NodeKVHashCount,
			Digest:  node.KVHash,
			Feature: p.feature(node),
		}
	}
	return &proof.Node{Type: proof.NodeKVHash, Digest: node.KVHash}
}
