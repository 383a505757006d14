package grovedb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/storage/memorystore"
)

func TestBatchConsistencyRejectsDoubleOp(t *testing.T) {
	db := newTestDB(t)
	before, err := db.RootHash()
	require.NoError(t, err)

	ops := []BatchOp{
		InsertOp([][]byte{[]byte("a")}, []byte("b"), element.NewTree()),
		InsertOp([][]byte{[]byte("a")}, []byte("b"), element.NewTree()),
	}
	err = db.ApplyBatch(ops, nil)
	require.ErrorIs(t, err, ErrInvalidBatchOperation)
	assert.Contains(t, err.Error(), "batch operations fail consistency checks")

	after, err := db.RootHash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "rejected batch must leave the database unchanged")
}

func TestBatchConsistencyRejectsInsertUnderDeletedPath(t *testing.T) {
	db := newTestDB(t)
	ops := []BatchOp{
		DeleteTreeOp(nil, []byte("t")),
		InsertOp([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("v"))),
	}
	err := db.ApplyBatch(ops, nil)
	assert.ErrorIs(t, err, ErrInvalidBatchOperation)
}

func TestBatchCreatesNestedStructureAtomically(t *testing.T) {
	db := newTestDB(t)
	ops := []BatchOp{
		InsertOp(nil, []byte("A"), element.NewTree()),
		InsertOp([][]byte{[]byte("A")}, []byte("B"), element.NewTree()),
		InsertOp([][]byte{[]byte("A"), []byte("B")}, []byte("k"), element.NewItem([]byte("v"))),
	}
	require.NoError(t, db.ApplyBatch(ops, nil))

	el, err := db.Get([][]byte{[]byte("A"), []byte("B")}, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), el.Value)

	handle, err := db.GetRaw(nil, []byte("A"))
	require.NoError(t, err)
	assert.NotNil(t, handle.RootKey, "propagation must fill in the child root key")
}

func TestBatchSequenceDeterminism(t *testing.T) {
	// the same ordered sequence of batches must produce the same forest
	// root on independent databases
	build := func() [32]byte {
		db := New(memorystore.New())
		defer db.Close()

		var ops []BatchOp
		ops = append(ops, InsertOp(nil, []byte("T"), element.NewTree()))
		for i := 0; i < 12; i++ {
			key := []byte(fmt.Sprintf("k%02d", i))
			ops = append(ops, InsertOp([][]byte{[]byte("T")}, key, element.NewItem(key)))
		}
		require.NoError(t, db.ApplyBatch(ops, nil))
		require.NoError(t, db.ApplyBatch([]BatchOp{
			DeleteOp([][]byte{[]byte("T")}, []byte("k05")),
			InsertOp([][]byte{[]byte("T")}, []byte("k99"), element.NewItem([]byte("late"))),
		}, nil))

		rootHash, err := db.RootHash()
		require.NoError(t, err)
		return rootHash
	}
	assert.Equal(t, build(), build())
}

func TestBatchPropagatesThroughExistingLayers(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("A"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("A")}, []byte("B"), element.NewTree(), nil))
	before, err := db.RootHash()
	require.NoError(t, err)

	ops := []BatchOp{
		InsertOp([][]byte{[]byte("A"), []byte("B")}, []byte("x"), element.NewItem([]byte("1"))),
		InsertOp([][]byte{[]byte("A"), []byte("B")}, []byte("y"), element.NewItem([]byte("2"))),
	}
	require.NoError(t, db.ApplyBatch(ops, nil))

	after, err := db.RootHash()
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "deep changes must surface in the top root")

	el, err := db.Get([][]byte{[]byte("A"), []byte("B")}, []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), el.Value)
}

func TestBatchReferenceToInBatchTarget(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))

	ref := element.NewReference(element.NewAbsoluteReference([][]byte{[]byte("t"), []byte("base")}))
	ops := []BatchOp{
		InsertOp([][]byte{[]byte("t")}, []byte("base"), element.NewItem([]byte("payload"))),
		InsertOp([][]byte{[]byte("t")}, []byte("ref"), ref),
	}
	require.NoError(t, db.ApplyBatch(ops, nil))

	el, err := db.Get([][]byte{[]byte("t")}, []byte("ref"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), el.Value)
}

func TestBatchReferenceToDeletedTargetFails(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("base"), element.NewItem([]byte("p")), nil))

	ref := element.NewReference(element.NewAbsoluteReference([][]byte{[]byte("t"), []byte("base")}))
	ops := []BatchOp{
		DeleteOp([][]byte{[]byte("t")}, []byte("base")),
		InsertOp([][]byte{[]byte("t")}, []byte("ref"), ref),
	}
	err := db.ApplyBatch(ops, nil)
	assert.ErrorIs(t, err, ErrInvalidBatchOperation)
}

func TestBatchReferenceToTreeFails(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))

	ref := element.NewReference(element.NewAbsoluteReference([][]byte{[]byte("t"), []byte("sub")}))
	ops := []BatchOp{
		InsertOp([][]byte{[]byte("t")}, []byte("sub"), element.NewTree()),
		InsertOp([][]byte{[]byte("t")}, []byte("ref"), ref),
	}
	err := db.ApplyBatch(ops, nil)
	assert.ErrorIs(t, err, ErrInvalidBatchOperation)
}

func TestBatchMissingReference(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	ref := element.NewReference(element.NewAbsoluteReference([][]byte{[]byte("t"), []byte("ghost")}))
	err := db.ApplyBatch([]BatchOp{
		InsertOp([][]byte{[]byte("t")}, []byte("ref"), ref),
	}, nil)
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestBatchDeleteTreePolicy(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("v")), nil))

	err := db.ApplyBatch([]BatchOp{DeleteTreeOp(nil, []byte("t"))}, nil)
	assert.ErrorIs(t, err, ErrInvalidBatchOperation)

	options := DefaultBatchApplyOptions()
	options.AllowDeletingNonEmptyTrees = true
	require.NoError(t, db.ApplyBatch([]BatchOp{DeleteTreeOp(nil, []byte("t"))}, options))
	_, err = db.GetRaw(nil, []byte("t"))
	assert.ErrorIs(t, err, ErrPathKeyNotFound)
}

func TestBatchValidateInsertionDoesNotOverride(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("v")), nil))

	options := DefaultBatchApplyOptions()
	options.ValidateInsertionDoesNotOverride = true
	err := db.ApplyBatch([]BatchOp{
		InsertOp([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("w"))),
	}, options)
	assert.ErrorIs(t, err, ErrInvalidBatchOperation)

	// without the flag the same batch overrides
	require.NoError(t, db.ApplyBatch([]BatchOp{
		InsertOp([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("w"))),
	}, nil))
	el, err := db.Get([][]byte{[]byte("t")}, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), el.Value)
}

func TestBatchFailureLeavesStateUntouched(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	before, err := db.RootHash()
	require.NoError(t, err)

	ref := element.NewReference(element.NewAbsoluteReference([][]byte{[]byte("t"), []byte("ghost")}))
	err = db.ApplyBatch([]BatchOp{
		InsertOp([][]byte{[]byte("t")}, []byte("good"), element.NewItem([]byte("v"))),
		InsertOp([][]byte{[]byte("t")}, []byte("ref"), ref),
	}, nil)
	require.Error(t, err)

	after, err := db.RootHash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed batch must not flush any writes")
	_, err = db.Get([][]byte{[]byte("t")}, []byte("good"))
	assert.ErrorIs(t, err, ErrPathKeyNotFound)
}

func TestBatchFlagsUpdateHook(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	flagged := element.NewItemWithFlags([]byte("v1"), []byte{0x01})
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("k"), flagged, nil))

	// the hook also sees the propagated tree handle "t" at the root level,
	// so only the replaced item's call is recorded
	var sawOld []byte
	hook := func(key, oldValue, newValue []byte) ([]byte, error) {
		if string(key) == "k" {
			sawOld = append([]byte(nil), oldValue...)
		}
		return nil, nil
	}
	require.NoError(t, db.ApplyBatchWithFlagsUpdate([]BatchOp{
		ReplaceOp([][]byte{[]byte("t")}, []byte("k"), element.NewItemWithFlags([]byte("v2"), []byte{0x02})),
	}, nil, hook, nil))

	require.NotNil(t, sawOld, "update hook must observe the replacement")
	old, err := element.Deserialize(sawOld)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, old.Flags)
}
