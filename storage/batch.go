package storage

import "sync"

// BatchOp is a single buffered write destined for one context.
type BatchOp struct {
	Prefix Prefix
	Aux    bool
	Delete bool
	Key    []byte
	Value  []byte
}

// Batch accumulates writes across many contexts for one atomic commit.
// Backends apply the ops in insertion order, so a later write to the same
// key wins.
type Batch struct {
	mu  sync.Mutex
	ops []BatchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put buffers a write.
func (b *Batch) Put(prefix Prefix, aux bool, key, value []byte) {
	b.append(BatchOp{
		Prefix: prefix,
		Aux:    aux,
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
	})
}

// Delete buffers a deletion.
func (b *Batch) Delete(prefix Prefix, aux bool, key []byte) {
	b.append(BatchOp{
		Prefix: prefix,
		Aux:    aux,
		Delete: true,
		Key:    append([]byte(nil), key...),
	})
}

func (b *Batch) append(op BatchOp) {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
}

// Ops returns the buffered operations in insertion order.
func (b *Batch) Ops() []BatchOp {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ops
}

// Len reports the number of buffered operations.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

// BatchedContext wraps a base context so writes buffer into a batch while
// reads pass through to committed state. Backends use it to implement
// Store.ContextWithBatch.
type BatchedContext struct {
	Base   Context
	Prefix Prefix
	Batch  *Batch
}

func (c *BatchedContext) Get(key []byte) ([]byte, error)    { return c.Base.Get(key) }
func (c *BatchedContext) GetAux(key []byte) ([]byte, error) { return c.Base.GetAux(key) }

func (c *BatchedContext) Put(key, value []byte) error {
	c.Batch.Put(c.Prefix, false, key, value)
	return nil
}

func (c *BatchedContext) Delete(key []byte) error {
	c.Batch.Delete(c.Prefix, false, key)
	return nil
}

func (c *BatchedContext) PutAux(key, value []byte) error {
	c.Batch.Put(c.Prefix, true, key, value)
	return nil
}

func (c *BatchedContext) DeleteAux(key []byte) error {
	c.Batch.Delete(c.Prefix, true, key)
	return nil
}

func (c *BatchedContext) RawIter() RawIterator { return c.Base.RawIter() }
