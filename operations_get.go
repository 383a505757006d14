package grovedb

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dashpay/grovedb-sub000/element"
)

// Get returns the element at (path, key), following references up to their
// hop budget.
func (db *DB) Get(path [][]byte, key []byte) (*element.Element, error) {
	el, err := db.GetRaw(path, key)
	if err != nil {
		return nil, err
	}
	if !el.IsReference() {
		return el, nil
	}
	qualified, err := el.Ref.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	hops := uint8(MaxReferenceHops)
	if el.MaxHops != nil {
		hops = *el.MaxHops
	}
	return db.followReference(qualified, hops)
}

// GetRaw returns the element at (path, key) without following references.
func (db *DB) GetRaw(path [][]byte, key []byte) (*element.Element, error) {
	return db.fetchElement(path, key)
}

// Has reports whether an element exists at (path, key).
func (db *DB) Has(path [][]byte, key []byte) (bool, error) {
	_, err := db.GetRaw(path, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// followReference resolves a qualified path to its terminal item,
// decrementing the hop budget on every reference in the chain.
func (db *DB) followReference(qualifiedPath [][]byte, hops uint8) (*element.Element, error) {
	for {
		if hops == 0 {
			return nil, fmt.Errorf("%w: reference chain too long", ErrReferenceLimit)
		}
		if len(qualifiedPath) == 0 {
			return nil, fmt.Errorf("%w: empty reference path", ErrInvalidPath)
		}
		path, key := qualifiedPath[:len(qualifiedPath)-1], qualifiedPath[len(qualifiedPath)-1]
		el, err := db.GetRaw(path, key)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: reference to path:`%s` key:`%s` is missing",
					ErrMissingReference, hexPath(path), hex.EncodeToString(key))
			}
			return nil, err
		}
		if !el.IsReference() {
			if el.IsTree() {
				return nil, fmt.Errorf("%w: reference terminates on a subtree", ErrInvalidPath)
			}
			return el, nil
		}
		qualifiedPath, err = el.Ref.Resolve(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		if el.MaxHops != nil && *el.MaxHops < hops {
			hops = *el.MaxHops
		}
		hops--
	}
}

func isNotFound(err error) bool {
	return errorIsAny(err, ErrPathKeyNotFound, ErrPathParentLayerNotFound)
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func hexPath(path [][]byte) string {
	out := ""
	for i, segment := range path {
		if i > 0 {
			out += "/"
		}
		out += hex.EncodeToString(segment)
	}
	return out
}
