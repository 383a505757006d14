package grovedb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/query"
)

func proveVerify(t *testing.T, db *DB, pq *query.PathQuery) []ProvedPathKeyValue {
	t.Helper()
	proofBytes, err := db.Prove(pq)
	require.NoError(t, err)
	rootHash, results, err := VerifyQuery(proofBytes, pq)
	require.NoError(t, err)
	expected, err := db.RootHash()
	require.NoError(t, err)
	require.Equal(t, expected, rootHash, "reconstructed root must equal the database root")
	return results
}

func TestAbsenceProof(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("test"), element.NewTree(), nil))
	for _, key := range []string{"aaa", "ccc", "eee"} {
		require.NoError(t, db.Insert([][]byte{[]byte("test")}, []byte(key), element.NewItem([]byte("v-"+key)), nil))
	}

	q := query.NewQuery()
	q.InsertKey([]byte("bbb"))
	pq := query.NewPathQuery([][]byte{[]byte("test")}, q)

	results := proveVerify(t, db, pq)
	for _, result := range results {
		assert.Nil(t, result.Element, "an absence proof yields no present elements")
	}
}

func TestMixedPresenceAbsenceProof(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("addr"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("addr")}, []byte("address_1"), element.NewItem([]byte("one")), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("addr")}, []byte("address_2"), element.NewItem([]byte("two")), nil))

	q := query.NewQuery()
	q.InsertKey([]byte("address_1"))
	q.InsertKey([]byte("address_2"))
	q.InsertKey([]byte("unknown"))
	pq := query.NewPathQueryWithLimit([][]byte{[]byte("addr")}, q, 100)

	results := proveVerify(t, db, pq)
	require.Len(t, results, 3)

	byKey := map[string]*element.Element{}
	for _, result := range results {
		byKey[string(result.Key)] = result.Element
	}
	require.NotNil(t, byKey["address_1"])
	assert.Equal(t, []byte("one"), byKey["address_1"].Value)
	require.NotNil(t, byKey["address_2"])
	assert.Equal(t, []byte("two"), byKey["address_2"].Value)
	_, present := byKey["unknown"]
	assert.True(t, present, "the unknown key appears with no element")
	assert.Nil(t, byKey["unknown"])
}

func TestProofMatchesDirectQuery(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("data"), element.NewTree(), nil))
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		require.NoError(t, db.Insert([][]byte{[]byte("data")}, key, element.NewItem(key), nil))
	}

	q := query.NewQuery()
	q.InsertItem(query.NewRange([]byte("k02"), []byte("k08")))
	pq := query.NewPathQuery([][]byte{[]byte("data")}, q)

	direct, err := db.Query(pq)
	require.NoError(t, err)
	proven := proveVerify(t, db, pq)
	require.Len(t, proven, len(direct))
	for i := range direct {
		assert.Equal(t, direct[i].Key, proven[i].Key)
		assert.Equal(t, direct[i].Element.Value, proven[i].Element.Value)
	}
}

func TestProofLimitMonotonicity(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("data"), element.NewTree(), nil))
	for i := 0; i < 8; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, db.Insert([][]byte{[]byte("data")}, key, element.NewItem(key), nil))
	}

	previous := []string{}
	for limit := uint16(1); limit <= 8; limit++ {
		q := query.NewQuery()
		q.InsertAll()
		pq := query.NewPathQueryWithLimit([][]byte{[]byte("data")}, q, limit)
		results := proveVerify(t, db, pq)
		var keys []string
		for _, result := range results {
			keys = append(keys, string(result.Key))
		}
		require.Len(t, keys, int(limit))
		require.Equal(t, previous, keys[:len(previous)])
		previous = keys
	}
}

func TestProofOfMissingPath(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("present"), element.NewTree(), nil))

	q := query.NewQuery()
	q.InsertKey([]byte("anything"))
	pq := query.NewPathQuery([][]byte{[]byte("absent")}, q)

	proofBytes, err := db.Prove(pq)
	require.NoError(t, err)
	rootHash, results, err := VerifyQuery(proofBytes, pq)
	require.NoError(t, err)
	expected, err := db.RootHash()
	require.NoError(t, err)
	assert.Equal(t, expected, rootHash)
	assert.Empty(t, results, "a missing path proves no results at all")
}

func TestProofWithSubquery(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("docs"), element.NewTree(), nil))
	for _, doc := range []string{"d1", "d2"} {
		require.NoError(t, db.Insert([][]byte{[]byte("docs")}, []byte(doc), element.NewTree(), nil))
		for i := 0; i < 2; i++ {
			key := []byte(fmt.Sprintf("%s-item%d", doc, i))
			require.NoError(t, db.Insert([][]byte{[]byte("docs"), []byte(doc)}, key, element.NewItem(key), nil))
		}
	}

	sub := query.NewQuery()
	sub.InsertAll()
	q := query.NewQuery()
	q.InsertAll()
	q.SetSubquery(sub)
	pq := query.NewPathQuery([][]byte{[]byte("docs")}, q)

	direct, err := db.Query(pq)
	require.NoError(t, err)
	require.Len(t, direct, 4)

	proven := proveVerify(t, db, pq)
	require.Len(t, proven, len(direct))
	for i := range direct {
		assert.Equal(t, direct[i].Key, proven[i].Key)
		assert.Equal(t, direct[i].Path, proven[i].Path)
		assert.Equal(t, direct[i].Element.Value, proven[i].Element.Value)
	}
}

func TestProofWithSubqueryAndLimit(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("docs"), element.NewTree(), nil))
	for _, doc := range []string{"d1", "d2"} {
		require.NoError(t, db.Insert([][]byte{[]byte("docs")}, []byte(doc), element.NewTree(), nil))
		for i := 0; i < 2; i++ {
			key := []byte(fmt.Sprintf("%s-item%d", doc, i))
			require.NoError(t, db.Insert([][]byte{[]byte("docs"), []byte(doc)}, key, element.NewItem(key), nil))
		}
	}

	sub := query.NewQuery()
	sub.InsertAll()
	q := query.NewQuery()
	q.InsertAll()
	q.SetSubquery(sub)
	pq := query.NewPathQueryWithLimit([][]byte{[]byte("docs")}, q, 3)

	direct, err := db.Query(pq)
	require.NoError(t, err)
	require.Len(t, direct, 3)

	proven := proveVerify(t, db, pq)
	require.Len(t, proven, 3)
	for i := range direct {
		assert.Equal(t, direct[i].Key, proven[i].Key)
	}
}

func TestProofOverReference(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	path := [][]byte{[]byte("t")}
	require.NoError(t, db.Insert(path, []byte("base"), element.NewItem([]byte("payload")), nil))
	ref := element.NewReference(element.NewAbsoluteReference([][]byte{[]byte("t"), []byte("base")}))
	require.NoError(t, db.Insert(path, []byte("ref"), ref, nil))

	q := query.NewQuery()
	q.InsertKey([]byte("ref"))
	pq := query.NewPathQuery(path, q)

	results := proveVerify(t, db, pq)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Element)
	assert.Equal(t, []byte("payload"), results[0].Element.Value, "proofs carry the dereferenced value")
}

func TestProofTamperingDetected(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("v")), nil))
	expected, err := db.RootHash()
	require.NoError(t, err)

	q := query.NewQuery()
	q.InsertKey([]byte("k"))
	pq := query.NewPathQuery([][]byte{[]byte("t")}, q)
	proofBytes, err := db.Prove(pq)
	require.NoError(t, err)

	for i := range proofBytes {
		tampered := append([]byte(nil), proofBytes...)
		tampered[i] ^= 0x01
		rootHash, _, err := VerifyQuery(tampered, pq)
		if err != nil {
			continue
		}
		assert.NotEqual(t, expected, rootHash, "flipping byte %d must change the outcome", i)
	}
}

func TestVerifyQueryWithExpectedRoot(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	require.NoError(t, db.Insert([][]byte{[]byte("t")}, []byte("k"), element.NewItem([]byte("v")), nil))

	q := query.NewQuery()
	q.InsertKey([]byte("k"))
	pq := query.NewPathQuery([][]byte{[]byte("t")}, q)
	proofBytes, err := db.Prove(pq)
	require.NoError(t, err)

	expected, err := db.RootHash()
	require.NoError(t, err)
	results, err := VerifyQueryWithExpectedRoot(proofBytes, pq, expected)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	var wrong [32]byte
	wrong[0] = 0xFF
	_, err = VerifyQueryWithExpectedRoot(proofBytes, pq, wrong)
	assert.Error(t, err)
}

func TestProveRejectsOffset(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("t"), element.NewTree(), nil))
	q := query.NewQuery()
	q.InsertAll()
	offset := uint16(1)
	pq := query.NewPathQuery([][]byte{[]byte("t")}, q)
	pq.Query.Offset = &offset
	_, err := db.Prove(pq)
	assert.Error(t, err)
}

func TestProvableCountSumProofEndToEnd(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Insert(nil, []byte("pcst"), element.NewProvableCountSumTree(), nil))
	path := [][]byte{[]byte("pcst")}
	for i := 1; i <= 7; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.NoError(t, db.Insert(path, key, element.NewSumItem(int64(10*i-10)), nil))
	}

	q := query.NewQuery()
	q.InsertAll()
	pq := query.NewPathQuery(path, q)
	results := proveVerify(t, db, pq)
	require.Len(t, results, 7)
	for i, result := range results {
		require.NotNil(t, result.Element)
		assert.Equal(t, int64(10*(i+1)-10), result.Element.Sum)
	}
}
