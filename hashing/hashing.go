// Package hashing computes the canonical BLAKE3 digests used throughout the
// store: value hashes, key/value pair hashes, and internal node hashes.
package hashing

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Length is the size in bytes of every digest produced by this package.
const Length = 32

// Hash is a 32-byte BLAKE3 digest.
type Hash = [Length]byte

// NullHash is the digest of an absent child or an empty tree.
var NullHash = Hash{}

// ValueHash hashes raw value bytes.
func ValueHash(value []byte) Hash {
	return blake3.Sum256(value)
}

// KeyHash hashes raw key bytes.
func KeyHash(key []byte) Hash {
	return blake3.Sum256(key)
}

// CombineHash binds two digests into one. Used to fold a child subtree's
// root hash into the value hash of the tree handle that owns it.
func CombineHash(a, b Hash) Hash {
	var buf [2 * Length]byte
	copy(buf[:Length], a[:])
	copy(buf[Length:], b[:])
	return blake3.Sum256(buf[:])
}

// KVHashSimple hashes a key/value pair whose value hash is deterministic
// from the value bytes (Item variants). The key is length-prefixed so that
// (key, value) splits are unambiguous.
func KVHashSimple(key, value []byte) Hash {
	h := blake3.New(Length, nil)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(key)))
	h.Write(lenBuf[:n])
	h.Write(key)
	h.Write(value)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// KVDigestHash hashes a key against an externally maintained value hash
// (tree handles and references).
func KVDigestHash(key []byte, valueHash Hash) Hash {
	kh := KeyHash(key)
	return CombineHash(kh, valueHash)
}

// NodeHash hashes an internal node from its kv hash and child hashes.
// featureBytes is empty except for provable aggregates, whose count and sum
// are folded into the digest.
func NodeHash(kvHash, left, right Hash, featureBytes []byte) Hash {
	h := blake3.New(Length, nil)
	h.Write(kvHash[:])
	h.Write(left[:])
	h.Write(right[:])
	h.Write(featureBytes)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ProvableCountFeatureBytes encodes a provable count for node hashing.
func ProvableCountFeatureBytes(count uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	return buf[:]
}

// ProvableCountSumFeatureBytes encodes a provable count and sum for node
// hashing.
func ProvableCountSumFeatureBytes(count uint64, sum int64) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], count)
	binary.LittleEndian.PutUint64(buf[8:], uint64(sum))
	return buf[:]
}
