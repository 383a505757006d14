package merk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/grovedb-sub000/proof"
	"github.com/dashpay/grovedb-sub000/query"
)

func proveAndVerify(t *testing.T, m *Merk, items []query.QueryItem, limit *uint16, leftToRight bool) *proof.VerifyResult {
	t.Helper()
	ops, _, err := m.Prove(items, limit, leftToRight)
	require.NoError(t, err)
	encoded, err := proof.Encode(ops)
	require.NoError(t, err)
	result, err := proof.VerifyQuery(encoded, items, limit, leftToRight)
	require.NoError(t, err)

	rootHash, err := m.RootHash()
	require.NoError(t, err)
	require.Equal(t, rootHash, result.RootHash, "reconstructed root must match the tree")
	return result
}

func entryKeys(result *proof.VerifyResult) []string {
	var keys []string
	for _, entry := range result.Entries {
		keys = append(keys, string(entry.Key))
	}
	return keys
}

func TestProveSingleKeyPresent(t *testing.T) {
	m := newTestMerk(t, TreeTypeNormal)
	_, err := m.Apply([]Op{putOp("a", "1"), putOp("b", "2"), putOp("c", "3")}, nil, nil)
	require.NoError(t, err)

	result := proveAndVerify(t, m, []query.QueryItem{query.NewKey([]byte("b"))}, nil, true)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, []byte("b"), result.Entries[0].Key)
	assert.Equal(t, []byte("2"), result.Entries[0].Value)
}

func TestProveSingleKeyAbsent(t *testing.T) {
	m := newTestMerk(t, TreeTypeNormal)
	_, err := m.Apply([]Op{putOp("aaa", "1"), putOp("ccc", "2"), putOp("eee", "3")}, nil, nil)
	require.NoError(t, err)

	result := proveAndVerify(t, m, []query.QueryItem{query.NewKey([]byte("bbb"))}, nil, true)
	assert.Empty(t, result.Entries, "absence proof carries no results")
}

func TestProveAbsentBeyondEdges(t *testing.T) {
	m := newTestMerk(t, TreeTypeNormal)
	_, err := m.Apply([]Op{putOp("m", "1")}, nil, nil)
	require.NoError(t, err)

	result := proveAndVerify(t, m, []query.QueryItem{query.NewKey([]byte("a"))}, nil, true)
	assert.Empty(t, result.Entries)
	result = proveAndVerify(t, m, []query.QueryItem{query.NewKey([]byte("z"))}, nil, true)
	assert.Empty(t, result.Entries)
}

func TestProveEmptyTree(t *testing.T) {
	m := newTestMerk(t, TreeTypeNormal)
	result := proveAndVerify(t, m, []query.QueryItem{query.NewKey([]byte("any"))}, nil, true)
	assert.Empty(t, result.Entries)
	assert.Equal(t, [32]byte{}, result.RootHash)
}

func buildSeven(t *testing.T, treeType TreeType) *Merk {
	t.Helper()
	m := newTestMerk(t, treeType)
	var ops []Op
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("k%d", i)
		ops = append(ops, putOp(key, fmt.Sprintf("v%d", i)))
	}
	_, err := m.Apply(ops, nil, nil)
	require.NoError(t, err)
	return m
}

func TestProveRange(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	items := []query.QueryItem{query.NewRange([]byte("k1"), []byte("k5"))}
	result := proveAndVerify(t, m, items, nil, true)
	assert.Equal(t, []string{"k1", "k2", "k3", "k4"}, entryKeys(result))
}

func TestProveRangeRightToLeft(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	items := []query.QueryItem{query.NewRange([]byte("k1"), []byte("k5"))}
	result := proveAndVerify(t, m, items, nil, false)
	assert.Equal(t, []string{"k4", "k3", "k2", "k1"}, entryKeys(result))
}

func TestProveFullRange(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	result := proveAndVerify(t, m, []query.QueryItem{query.NewRangeFull()}, nil, true)
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6"}, entryKeys(result))
}

func TestProveMultipleItems(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	items := []query.QueryItem{
		query.NewKey([]byte("k0")),
		query.NewKey([]byte("k3")),
		query.NewKey([]byte("kx")),
	}
	result := proveAndVerify(t, m, items, nil, true)
	assert.Equal(t, []string{"k0", "k3"}, entryKeys(result))
}

func TestProveLimitTruncatesAndIsMonotonic(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	items := []query.QueryItem{query.NewRangeFull()}

	previous := []string{}
	for limit := uint16(1); limit <= 7; limit++ {
		l := limit
		result := proveAndVerify(t, m, items, &l, true)
		keys := entryKeys(result)
		require.Len(t, keys, int(limit))
		require.Equal(t, previous, keys[:len(previous)], "limit %d results must extend limit %d", limit, limit-1)
		previous = keys
	}
}

func TestProveLimitRightToLeft(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	items := []query.QueryItem{query.NewRangeFull()}
	limit := uint16(3)
	result := proveAndVerify(t, m, items, &limit, false)
	assert.Equal(t, []string{"k6", "k5", "k4"}, entryKeys(result))
}

func TestProveLimitMismatchFails(t *testing.T) {
	m := buildSeven(t, TreeTypeNormal)
	items := []query.QueryItem{query.NewRangeFull()}
	limit := uint16(2)
	ops, _, err := m.Prove(items, &limit, true)
	require.NoError(t, err)
	encoded, err := proof.Encode(ops)
	require.NoError(t, err)

	// verifying with a larger limit expects data the proof does not hold
	larger := uint16(5)
	_, err = proof.VerifyQuery(encoded, items, &larger, true)
	assert.Error(t, err)
}

func TestProofTamperEvidence(t *testing.T) {
	m := newTestMerk(t, TreeTypeNormal)
	_, err := m.Apply([]Op{putOp("a", "1"), putOp("b", "2"), putOp("c", "3")}, nil, nil)
	require.NoError(t, err)
	rootHash, err := m.RootHash()
	require.NoError(t, err)

	items := []query.QueryItem{query.NewKey([]byte("b"))}
	ops, _, err := m.Prove(items, nil, true)
	require.NoError(t, err)
	encoded, err := proof.Encode(ops)
	require.NoError(t, err)

	for i := range encoded {
		for _, bit := range []byte{0x01, 0x80} {
			tampered := append([]byte(nil), encoded...)
			tampered[i] ^= bit
			result, err := proof.VerifyQuery(tampered, items, nil, true)
			if err != nil {
				continue
			}
			assert.NotEqual(t, rootHash, result.RootHash,
				"flipping byte %d must change the outcome", i)
		}
	}
}

func TestProvableCountProofCarriesCounts(t *testing.T) {
	m := newTestMerk(t, TreeTypeProvableCountSum)
	var ops []Op
	var total int64
	for i := 1; i <= 7; i++ {
		value := int64(10*i - 10)
		total += value
		ops = append(ops, sumOp(fmt.Sprintf("k%d", i), value))
	}
	_, err := m.Apply(ops, nil, nil)
	require.NoError(t, err)

	items := []query.QueryItem{query.NewRangeFull()}
	proofOps, _, err := m.Prove(items, nil, true)
	require.NoError(t, err)

	countBearing := 0
	var rootFeature *proof.Feature
	for _, op := range proofOps {
		if op.Node != nil && op.Node.CountBearing() {
			countBearing++
			if op.Node.Feature.Count == 7 {
				rootFeature = op.Node.Feature
			}
		}
	}
	assert.Equal(t, 7, countBearing, "full range proof carries one count per node")
	require.NotNil(t, rootFeature, "the root node must carry the total count")
	assert.Equal(t, total, rootFeature.Sum)

	encoded, err := proof.Encode(proofOps)
	require.NoError(t, err)
	result, err := proof.VerifyQuery(encoded, items, nil, true)
	require.NoError(t, err)
	rootHash, err := m.RootHash()
	require.NoError(t, err)
	assert.Equal(t, rootHash, result.RootHash)
	assert.Len(t, result.Entries, 7)
}
