package sqlitestore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/dashpay/grovedb-sub000/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(&Config{DBPath: filepath.Join(t.TempDir(), "grove.db")})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
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

	if err := ctx.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	value, _ = ctx.Get([]byte("k"))
	if !bytes.Equal(value, []byte("v2")) {
		t.Errorf("expected v2, got %q", value)
	}

	if err := ctx.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if value, _ := ctx.Get([]byte("k")); value != nil {
		t.Errorf("expected nil after delete, got %q", value)
	}
}

func TestIterationOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := store.Context(storage.PrefixFromPath([][]byte{[]byte("sub")}))
	for _, key := range []string{"c", "a", "b"} {
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
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}
}

func TestBatchCommitAppliesAllOps(t *testing.T) {
	store := newTestStore(t)
	prefix := storage.PrefixFromPath(nil)
	batch := storage.NewBatch()
	batch.Put(prefix, false, []byte("a"), []byte("1"))
	batch.Put(prefix, true, []byte("meta"), []byte("m"))
	batch.Delete(prefix, false, []byte("missing"))

	if err := store.CommitBatch(batch); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}
	ctx := store.Context(prefix)
	value, _ := ctx.Get([]byte("a"))
	if !bytes.Equal(value, []byte("1")) {
		t.Errorf("expected 1, got %q", value)
	}
	aux, _ := ctx.GetAux([]byte("meta"))
	if !bytes.Equal(aux, []byte("m")) {
		t.Errorf("expected m, got %q", aux)
	}
}
