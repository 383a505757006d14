package badgerstore

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/dashpay/grovedb-sub000/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(&Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open badger store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := store.Context(storage.PrefixFromPath(nil))

	if err := ctx.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, err := ctx.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Errorf("expected v, got %q", value)
	}

	if err := ctx.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	value, err = ctx.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if value != nil {
		t.Errorf("expected nil after delete, got %q", value)
	}
}

func TestIteratorForwardAndSeeks(t *testing.T) {
	store := newTestStore(t)
	ctx := store.Context(storage.PrefixFromPath([][]byte{[]byte("sub")}))
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%02d", i)
		if err := ctx.Put([]byte(key), []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	it := ctx.RawIter()
	defer it.Close()

	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	if count != 10 {
		t.Errorf("expected 10 keys, iterated %d", count)
	}

	it.Seek([]byte("k05"))
	if !it.Valid() || string(it.Key()) != "k05" {
		t.Errorf("Seek(k05) landed on %q", it.Key())
	}
	it.SeekForPrev([]byte("k051"))
	if !it.Valid() || string(it.Key()) != "k05" {
		t.Errorf("SeekForPrev(k051) landed on %q", it.Key())
	}
	it.SeekToLast()
	if !it.Valid() || string(it.Key()) != "k09" {
		t.Errorf("SeekToLast landed on %q", it.Key())
	}
	it.Prev()
	if !it.Valid() || string(it.Key()) != "k08" {
		t.Errorf("Prev landed on %q", it.Key())
	}
}

func TestBatchCommitAtomic(t *testing.T) {
	store := newTestStore(t)
	prefix := storage.PrefixFromPath(nil)
	batch := storage.NewBatch()
	ctx := store.ContextWithBatch(prefix, batch)

	if err := ctx.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	plain := store.Context(prefix)
	if value, _ := plain.Get([]byte("k")); value != nil {
		t.Fatal("batched write visible before commit")
	}
	if err := store.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}
	value, _ := plain.Get([]byte("k"))
	if !bytes.Equal(value, []byte("v")) {
		t.Errorf("expected v after commit, got %q", value)
	}
}
