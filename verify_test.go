package grovedb

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/query"
)

func TestVerifyForestOnHealthyDatabase(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("A"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("A")}, []byte("B"), element.NewSumTree(), nil))
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, db.Insert([][]byte{[]byte("A"), []byte("B")}, key, element.NewSumItem(int64(i)), nil))
	}
	require.NoError(t, db.Delete([][]byte{[]byte("A"), []byte("B")}, []byte("k4"), nil))

	verified, err := db.VerifyForest()
	require.NoError(t, err)
	rootHash, err := db.RootHash()
	require.NoError(t, err)
	assert.Equal(t, rootHash, verified)
}

func TestVerifyForestDetectsTampering(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("v")), nil))

	// corrupt the stored node behind the engine's back
	m, err := db.openMerk([][]byte{[]byte("t")}, nil)
	require.NoError(t, err)
	rootKey := m.RootKey()
	require.NotNil(t, rootKey)
	ctx := db.context([][]byte{[]byte("t")}, nil)
	raw, err := ctx.Get(rootKey)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, ctx.Put(rootKey, raw))

	_, err = db.VerifyForest()
	assert.Error(t, err)
}

func TestAuxiliaryData(t *testing.T) {
	db := newTestDB(t)
	before, err := db.RootHash()
	require.NoError(t, err)

	require.NoError(t, db.PutAux([]byte("schema"), []byte("v7")))
	value, err := db.GetAux([]byte("schema"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v7"), value)

	after, err := db.RootHash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "auxiliary data never reaches the root hash")

	require.NoError(t, db.DeleteAux([]byte("schema")))
	value, err = db.GetAux([]byte("schema"))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestBigSumTreeEndToEnd(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("big"), element.NewBigSumTree(), nil))
	path := [][]byte{[]byte("big")}

	require.NoError(t, db.Insert(path, []byte("a"), element.NewSumItem(1<<40), nil))
	require.NoError(t, db.Insert(path, []byte("b"), element.NewSumItem(1<<40), nil))

	handle, err := db.GetRaw(nil, []byte("big"))
	require.NoError(t, err)
	require.NotNil(t, handle.BigSum)
	expected := new(big.Int).Lsh(big.NewInt(1), 41)
	assert.Zero(t, handle.BigSum.Cmp(expected))

	_, err = db.VerifyForest()
	assert.NoError(t, err)
}

func TestCountTreeEndToEnd(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("counted"), element.NewCountTree(), nil))
	path := [][]byte{[]byte("counted")}

	for i := 0; i < 5; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, db.Insert(path, key, element.NewItem(key), nil))
	}
	handle, err := db.GetRaw(nil, []byte("counted"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), handle.Count)

	require.NoError(t, db.Delete(path, []byte("k2"), nil))
	handle, err = db.GetRaw(nil, []byte("counted"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), handle.Count)

	// a provable count tree under the same key is built alongside; the
	// element kinds alone already separate the two roots, so they are not
	// compared
	plain := newTestDB(t)
	require.NoError(t, plain.Insert(nil, []byte("counted"), element.NewProvableCountTree(), nil))
	// the cached count still verifies against the subtree
	_, err = db.VerifyForest()
	assert.NoError(t, err)
}

func TestConditionalSubqueryProof(t *testing.T) {
	db := buildCatalog(t)

	fruitOnly := query.NewQuery()
	fruitOnly.InsertKey([]byte("a"))
	full := query.NewQuery()
	full.InsertAll()

	q := query.NewQuery()
	q.InsertAll()
	q.SetSubquery(full)
	q.AddConditionalSubquery(query.NewKey([]byte("fruit")), nil, fruitOnly)

	pq := query.NewPathQuery([][]byte{[]byte("catalog")}, q)
	direct, err := db.Query(pq)
	require.NoError(t, err)

	proven := proveVerify(t, db, pq)
	require.Len(t, proven, len(direct))
	for i := range direct {
		assert.Equal(t, direct[i].Key, proven[i].Key)
		assert.Equal(t, direct[i].Element.Value, proven[i].Element.Value)
	}
}

func TestSubqueryPathProof(t *testing.T) {
	db := buildCatalog(t)
	sub := query.NewQuery()
	sub.InsertAll()
	q := query.NewQuery()
	q.InsertKey([]byte("catalog"))
	q.SetSubqueryPath([][]byte{[]byte("fruit")})
	q.SetSubquery(sub)

	pq := query.NewPathQuery(nil, q)
	direct, err := db.Query(pq)
	require.NoError(t, err)
	require.Len(t, direct, 3)

	proven := proveVerify(t, db, pq)
	require.Len(t, proven, 3)
	for i := range direct {
		assert.Equal(t, direct[i].Key, proven[i].Key)
		assert.Equal(t, direct[i].Path, proven[i].Path)
	}
}
