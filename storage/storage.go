// Package storage abstracts the prefixed, transactional key-value backends
// the tree engine runs on. Each subtree gets its own Context keyed by a
// digest of its path; a Batch collects writes across many contexts so that
// a whole multi-subtree apply commits atomically.
package storage

import "errors"

// ErrNotFound is returned by Context.Get for missing keys when a backend
// cannot express absence as a nil value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a transactional key-value backend partitioned into per-subtree
// contexts.
type Store interface {
	// Context opens the storage context for the given prefix. Contexts are
	// cheap to open; they hold no locks.
	Context(prefix Prefix) Context

	// ContextWithBatch opens a context whose writes are buffered into batch
	// instead of being applied immediately. Reads observe only the
	// committed store; the batch's pending writes are not visible to them.
	ContextWithBatch(prefix Prefix, batch *Batch) Context

	// CommitBatch atomically applies every write collected in the batch.
	CommitBatch(batch *Batch) error

	// Close releases backend resources.
	Close() error
}

// Context is a view of one subtree's keyspace. Data keys hold tree nodes;
// aux keys hold subtree metadata such as the root key.
type Context interface {
	// Get returns the value for key, or nil if absent.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// GetAux returns an auxiliary value, or nil if absent.
	GetAux(key []byte) ([]byte, error)

	// PutAux stores an auxiliary key-value pair.
	PutAux(key, value []byte) error

	// DeleteAux removes an auxiliary key.
	DeleteAux(key []byte) error

	// RawIter returns a byte-ordered iterator over the context's data keys.
	RawIter() RawIterator
}

// RawIterator walks a context's data keys in byte order. The iterator is
// invalid until positioned with one of the Seek methods. Key and Value
// return slices owned by the iterator; callers copy before retaining.
type RawIterator interface {
	SeekToFirst()
	SeekToLast()
	// Seek positions at the first key >= target.
	Seek(target []byte)
	// SeekForPrev positions at the last key <= target.
	SeekForPrev(target []byte)
	Next()
	Prev()
	Valid() bool
	Key() []byte
	Value() []byte
	Close()
}
