package storage

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// PrefixLength is the size of a context prefix.
const PrefixLength = 32

// Prefix identifies one subtree's keyspace inside the backend.
type Prefix [PrefixLength]byte

// PrefixFromPath derives the context prefix for a subtree path. Segments are
// length-prefixed before hashing so that ["ab","c"] and ["a","bc"] map to
// different contexts. The empty path (the root forest) hashes the empty
// input.
func PrefixFromPath(path [][]byte) Prefix {
	h := blake3.New(PrefixLength, nil)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, segment := range path {
		n := binary.PutUvarint(lenBuf[:], uint64(len(segment)))
		h.Write(lenBuf[:n])
		h.Write(segment)
	}
	var p Prefix
	copy(p[:], h.Sum(nil))
	return p
}
