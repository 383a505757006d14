// Package element defines the tagged values stored at keys: opaque items,
// numeric sum items, references to other keys, and handles to child
// subtrees with their cached aggregates.
package element

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// Kind is the element discriminant as it appears on the wire.
type Kind uint8

const (
	KindItem                 Kind = 0
	KindReference            Kind = 1
	KindTree                 Kind = 2
	KindSumItem              Kind = 3
	KindSumTree              Kind = 4
	KindBigSumTree           Kind = 5
	KindCountTree            Kind = 6
	KindCountSumTree         Kind = 7
	KindProvableCountTree    Kind = 8
	KindProvableCountSumTree Kind = 9
	KindItemWithSumItem      Kind = 10
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindReference:
		return "reference"
	case KindTree:
		return "tree"
	case KindSumItem:
		return "sum item"
	case KindSumTree:
		return "sum tree"
	case KindBigSumTree:
		return "big sum tree"
	case KindCountTree:
		return "count tree"
	case KindCountSumTree:
		return "count sum tree"
	case KindProvableCountTree:
		return "provable count tree"
	case KindProvableCountSumTree:
		return "provable count sum tree"
	case KindItemWithSumItem:
		return "item with sum item"
	default:
		return fmt.Sprintf("unknown element kind %d", uint8(k))
	}
}

// Element is a tagged value stored at a key. Which fields are meaningful
// depends on Kind.
type Element struct {
	Kind Kind

	// Item payload for Item and ItemWithSumItem.
	Value []byte

	// Sum payload for SumItem and ItemWithSumItem, or the cached sum of a
	// SumTree / CountSumTree / ProvableCountSumTree handle.
	Sum int64

	// Cached big sum of a BigSumTree handle.
	BigSum *big.Int

	// Cached count of a Count* handle.
	Count uint64

	// Root key of the child subtree for tree handles. Nil means empty.
	RootKey []byte

	// Reference target for Reference elements.
	Ref *ReferencePath

	// MaxHops bounds reference resolution. Nil uses the engine default.
	MaxHops *uint8

	// Flags are carried transparently and never affect tree-handle
	// equality.
	Flags []byte
}

// NewItem creates an opaque item.
func NewItem(value []byte) *Element {
	return &Element{Kind: KindItem, Value: value}
}

// NewItemWithFlags creates an opaque item carrying flags.
func NewItemWithFlags(value, flags []byte) *Element {
	return &Element{Kind: KindItem, Value: value, Flags: flags}
}

// NewSumItem creates a numeric item that participates in subtree sums.
func NewSumItem(sum int64) *Element {
	return &Element{Kind: KindSumItem, Sum: sum}
}

// NewItemWithSumItem creates a combined opaque and numeric item.
func NewItemWithSumItem(value []byte, sum int64) *Element {
	return &Element{Kind: KindItemWithSumItem, Value: value, Sum: sum}
}

// NewReference creates a reference to another key.
func NewReference(ref *ReferencePath) *Element {
	return &Element{Kind: KindReference, Ref: ref}
}

// NewReferenceWithMaxHops creates a reference with an explicit hop budget.
func NewReferenceWithMaxHops(ref *ReferencePath, maxHops uint8) *Element {
	return &Element{Kind: KindReference, Ref: ref, MaxHops: &maxHops}
}

// NewTree creates an empty subtree handle.
func NewTree() *Element {
	return &Element{Kind: KindTree}
}

// NewTreeWithFlags creates an empty subtree handle carrying flags.
func NewTreeWithFlags(flags []byte) *Element {
	return &Element{Kind: KindTree, Flags: flags}
}

// NewSumTree creates an empty summing subtree handle.
func NewSumTree() *Element {
	return &Element{Kind: KindSumTree}
}

// NewBigSumTree creates an empty 128-bit summing subtree handle.
func NewBigSumTree() *Element {
	return &Element{Kind: KindBigSumTree, BigSum: new(big.Int)}
}

// NewCountTree creates an empty counting subtree handle.
func NewCountTree() *Element {
	return &Element{Kind: KindCountTree}
}

// NewCountSumTree creates an empty counting and summing subtree handle.
func NewCountSumTree() *Element {
	return &Element{Kind: KindCountSumTree}
}

// NewProvableCountTree creates an empty counting subtree handle whose count
// is bound into the authenticating hash.
func NewProvableCountTree() *Element {
	return &Element{Kind: KindProvableCountTree}
}

// NewProvableCountSumTree creates an empty counting and summing subtree
// handle whose aggregate is bound into the authenticating hash.
func NewProvableCountSumTree() *Element {
	return &Element{Kind: KindProvableCountSumTree}
}

// IsTree reports whether the element is any subtree handle variant.
func (e *Element) IsTree() bool {
	switch e.Kind {
	case KindTree, KindSumTree, KindBigSumTree, KindCountTree,
		KindCountSumTree, KindProvableCountTree, KindProvableCountSumTree:
		return true
	}
	return false
}

// IsItem reports whether the element is an item variant whose value hash is
// deterministic from its serialized bytes.
func (e *Element) IsItem() bool {
	switch e.Kind {
	case KindItem, KindSumItem, KindItemWithSumItem:
		return true
	}
	return false
}

// IsReference reports whether the element is a reference.
func (e *Element) IsReference() bool {
	return e.Kind == KindReference
}

// UsesCombinedHash reports whether the element's kv hash binds an
// externally maintained value hash rather than the raw value bytes.
func (e *Element) UsesCombinedHash() bool {
	return !e.IsItem()
}

// SumValue returns the element's contribution to a summing subtree.
func (e *Element) SumValue() int64 {
	switch e.Kind {
	case KindSumItem, KindItemWithSumItem:
		return e.Sum
	}
	return 0
}

// TreeValueHash computes the value hash of a tree handle bound to the child
// subtree's root hash.
func (e *Element) TreeValueHash(childRootHash hashing.Hash) (hashing.Hash, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return hashing.NullHash, err
	}
	return hashing.CombineHash(hashing.ValueHash(serialized), childRootHash), nil
}

// Equal compares the elements' targets. Flags are carried transparently
// and never affect equality.
func (e *Element) Equal(other *Element) bool {
	if e.Kind != other.Kind {
		return false
	}
	bare := *e
	bare.Flags = nil
	otherBare := *other
	otherBare.Flags = nil
	a, errA := bare.Serialize()
	b, errB := otherBare.Serialize()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// WithFlags returns a shallow copy carrying the given flags.
func (e *Element) WithFlags(flags []byte) *Element {
	out := *e
	out.Flags = flags
	return &out
}
