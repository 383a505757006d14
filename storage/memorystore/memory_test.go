package memorystore

import (
	"bytes"
	"testing"

	"github.com/dashpay/grovedb-sub000/storage"
)

func TestPutGetDelete(t *testing.T) {
	store := New()
	defer store.Close()
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

func TestContextIsolation(t *testing.T) {
	store := New()
	defer store.Close()

	a := store.Context(storage.PrefixFromPath([][]byte{[]byte("a")}))
	b := store.Context(storage.PrefixFromPath([][]byte{[]byte("b")}))

	if err := a.Put([]byte("k"), []byte("va")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, err := b.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != nil {
		t.Errorf("prefixes must not share keys, got %q", value)
	}
}

func TestAuxSpaceSeparate(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := store.Context(storage.PrefixFromPath(nil))

	if err := ctx.Put([]byte("k"), []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := ctx.PutAux([]byte("k"), []byte("aux")); err != nil {
		t.Fatalf("PutAux failed: %v", err)
	}
	data, _ := ctx.Get([]byte("k"))
	aux, _ := ctx.GetAux([]byte("k"))
	if !bytes.Equal(data, []byte("data")) || !bytes.Equal(aux, []byte("aux")) {
		t.Errorf("data and aux spaces must not collide: %q %q", data, aux)
	}
}

func TestIteratorOrderAndSeeks(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := store.Context(storage.PrefixFromPath(nil))

	for _, key := range []string{"c", "a", "e", "b", "d"} {
		if err := ctx.Put([]byte(key), []byte("v"+key)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	it := ctx.RawIter()
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	expected := []string{"a", "b", "c", "d", "e"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %v", len(expected), keys)
	}
	for i := range expected {
		if keys[i] != expected[i] {
			t.Fatalf("expected order %v, got %v", expected, keys)
		}
	}

	it.Seek([]byte("bb"))
	if !it.Valid() || string(it.Key()) != "c" {
		t.Errorf("Seek(bb) should land on c, got %q", it.Key())
	}
	it.SeekForPrev([]byte("bb"))
	if !it.Valid() || string(it.Key()) != "b" {
		t.Errorf("SeekForPrev(bb) should land on b, got %q", it.Key())
	}
	it.SeekToLast()
	if !it.Valid() || string(it.Key()) != "e" {
		t.Errorf("SeekToLast should land on e, got %q", it.Key())
	}
	it.Prev()
	if !it.Valid() || string(it.Key()) != "d" {
		t.Errorf("Prev from e should land on d, got %q", it.Key())
	}
}

func TestBatchAtomicity(t *testing.T) {
	store := New()
	defer store.Close()
	prefix := storage.PrefixFromPath(nil)
	batch := storage.NewBatch()
	ctx := store.ContextWithBatch(prefix, batch)

	if err := ctx.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := ctx.PutAux([]byte("meta"), []byte("m")); err != nil {
		t.Fatalf("PutAux failed: %v", err)
	}

	// nothing visible before commit
	plain := store.Context(prefix)
	if value, _ := plain.Get([]byte("k1")); value != nil {
		t.Fatal("batched write visible before commit")
	}

	if err := store.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}
	value, _ := plain.Get([]byte("k1"))
	if !bytes.Equal(value, []byte("v1")) {
		t.Errorf("expected v1 after commit, got %q", value)
	}
	aux, _ := plain.GetAux([]byte("meta"))
	if !bytes.Equal(aux, []byte("m")) {
		t.Errorf("expected aux m after commit, got %q", aux)
	}
}

func TestBatchLaterWriteWins(t *testing.T) {
	store := New()
	defer store.Close()
	prefix := storage.PrefixFromPath(nil)
	batch := storage.NewBatch()

	batch.Put(prefix, false, []byte("k"), []byte("first"))
	batch.Delete(prefix, false, []byte("k"))
	batch.Put(prefix, false, []byte("k"), []byte("second"))

	if err := store.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}
	value, _ := store.Context(prefix).Get([]byte("k"))
	if !bytes.Equal(value, []byte("second")) {
		t.Errorf("expected second, got %q", value)
	}
}
