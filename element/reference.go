package element

import "fmt"

// RefType discriminates reference path encodings.
type RefType uint8

const (
	// RefAbsolutePath targets a qualified path from the root forest. The
	// final segment is the target key.
	RefAbsolutePath RefType = 0
	// RefSibling targets another key in the same subtree as the reference.
	RefSibling RefType = 1
)

// ReferencePath names the target of a Reference element.
type ReferencePath struct {
	Type RefType

	// Segments is the qualified target path for RefAbsolutePath.
	Segments [][]byte

	// Key is the sibling key for RefSibling.
	Key []byte
}

// NewAbsoluteReference builds an absolute reference path. The final segment
// of the qualified path is the target key.
func NewAbsoluteReference(qualifiedPath [][]byte) *ReferencePath {
	return &ReferencePath{Type: RefAbsolutePath, Segments: qualifiedPath}
}

// NewSiblingReference builds a reference to another key in the same
// subtree.
func NewSiblingReference(key []byte) *ReferencePath {
	return &ReferencePath{Type: RefSibling, Key: key}
}

// Resolve converts the reference to an absolute qualified path, given the
// path of the subtree holding the reference element.
func (r *ReferencePath) Resolve(currentPath [][]byte) ([][]byte, error) {
	switch r.Type {
	case RefAbsolutePath:
		if len(r.Segments) == 0 {
			return nil, fmt.Errorf("reference has an empty path")
		}
		return r.Segments, nil
	case RefSibling:
		if len(r.Key) == 0 {
			return nil, fmt.Errorf("sibling reference has an empty key")
		}
		qualified := make([][]byte, 0, len(currentPath)+1)
		qualified = append(qualified, currentPath...)
		qualified = append(qualified, r.Key)
		return qualified, nil
	default:
		return nil, fmt.Errorf("unknown reference type %d", r.Type)
	}
}
