// Package merk implements the balanced authenticated ordered map every
// subtree is built on: an AVL tree over byte keys whose nodes hash into a
// single root digest, with aggregate tracking for summing and counting
// tree variants.
package merk

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/dashpay/grovedb-sub000/hashing"
)

// TreeType selects the aggregate behavior of a whole merk.
type TreeType uint8

const (
	TreeTypeNormal TreeType = iota
	TreeTypeSum
	TreeTypeBigSum
	TreeTypeCount
	TreeTypeCountSum
	TreeTypeProvableCount
	TreeTypeProvableCountSum
)

// Provable reports whether the tree binds its aggregate into node hashes.
func (t TreeType) Provable() bool {
	return t == TreeTypeProvableCount || t == TreeTypeProvableCountSum
}

// AggregateKind tags AggregateData.
type AggregateKind uint8

const (
	NoAggregate AggregateKind = iota
	AggregateSum
	AggregateBigSum
	AggregateCount
	AggregateCountSum
	AggregateProvableCount
	AggregateProvableCountSum
)

// AggregateData is the fold of a subtree's leaves: a count and/or sum.
// Only the provable kinds participate in hashing.
type AggregateData struct {
	Kind   AggregateKind
	Count  uint64
	Sum    int64
	BigSum *big.Int
}

// aggregateKindFor maps a tree type to the aggregate its nodes carry.
func aggregateKindFor(t TreeType) AggregateKind {
	switch t {
	case TreeTypeSum:
		return AggregateSum
	case TreeTypeBigSum:
		return AggregateBigSum
	case TreeTypeCount:
		return AggregateCount
	case TreeTypeCountSum:
		return AggregateCountSum
	case TreeTypeProvableCount:
		return AggregateProvableCount
	case TreeTypeProvableCountSum:
		return AggregateProvableCountSum
	default:
		return NoAggregate
	}
}

// ownAggregate is a single node's contribution before children fold in.
func ownAggregate(t TreeType, ownSum int64) AggregateData {
	agg := AggregateData{Kind: aggregateKindFor(t)}
	switch agg.Kind {
	case AggregateSum:
		agg.Sum = ownSum
	case AggregateBigSum:
		agg.BigSum = big.NewInt(ownSum)
	case AggregateCount, AggregateProvableCount:
		agg.Count = 1
	case AggregateCountSum, AggregateProvableCountSum:
		agg.Count = 1
		agg.Sum = ownSum
	}
	return agg
}

// Add folds another subtree's aggregate into this one.
func (a AggregateData) Add(other AggregateData) AggregateData {
	switch a.Kind {
	case AggregateSum:
		a.Sum += other.Sum
	case AggregateBigSum:
		sum := new(big.Int)
		if a.BigSum != nil {
			sum.Set(a.BigSum)
		}
		if other.BigSum != nil {
			sum.Add(sum, other.BigSum)
		}
		a.BigSum = sum
	case AggregateCount, AggregateProvableCount:
		a.Count += other.Count
	case AggregateCountSum, AggregateProvableCountSum:
		a.Count += other.Count
		a.Sum += other.Sum
	}
	return a
}

// FeatureBytes encodes the aggregate for node hashing. Non-provable kinds
// contribute nothing.
func (a AggregateData) FeatureBytes() []byte {
	switch a.Kind {
	case AggregateProvableCount:
		return hashing.ProvableCountFeatureBytes(a.Count)
	case AggregateProvableCountSum:
		return hashing.ProvableCountSumFeatureBytes(a.Count, a.Sum)
	default:
		return nil
	}
}

func (a AggregateData) encode(buf []byte) []byte {
	buf = append(buf, byte(a.Kind))
	switch a.Kind {
	case AggregateSum:
		buf = binary.AppendVarint(buf, a.Sum)
	case AggregateBigSum:
		var tmp [16]byte
		v := a.BigSum
		if v == nil {
			v = new(big.Int)
		}
		abs := new(big.Int).Abs(v)
		if v.Sign() < 0 {
			mod := new(big.Int).Lsh(big.NewInt(1), 128)
			abs = abs.Sub(mod, abs)
		}
		abs.FillBytes(tmp[:])
		for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
			tmp[i], tmp[j] = tmp[j], tmp[i]
		}
		buf = append(buf, tmp[:]...)
	case AggregateCount, AggregateProvableCount:
		buf = binary.AppendUvarint(buf, a.Count)
	case AggregateCountSum, AggregateProvableCountSum:
		buf = binary.AppendUvarint(buf, a.Count)
		buf = binary.AppendVarint(buf, a.Sum)
	}
	return buf
}

func decodeAggregate(data []byte, pos int) (AggregateData, int, error) {
	if pos >= len(data) {
		return AggregateData{}, pos, fmt.Errorf("truncated aggregate")
	}
	agg := AggregateData{Kind: AggregateKind(data[pos])}
	pos++
	switch agg.Kind {
	case NoAggregate:
	case AggregateSum:
		v, n := binary.Varint(data[pos:])
		if n <= 0 {
			return AggregateData{}, pos, fmt.Errorf("invalid aggregate sum")
		}
		agg.Sum = v
		pos += n
	case AggregateBigSum:
		if len(data)-pos < 16 {
			return AggregateData{}, pos, fmt.Errorf("truncated big sum")
		}
		be := make([]byte, 16)
		for i := range be {
			be[i] = data[pos+15-i]
		}
		v := new(big.Int).SetBytes(be)
		if be[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 128))
		}
		agg.BigSum = v
		pos += 16
	case AggregateCount, AggregateProvableCount:
		v, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return AggregateData{}, pos, fmt.Errorf("invalid aggregate count")
		}
		agg.Count = v
		pos += n
	case AggregateCountSum, AggregateProvableCountSum:
		c, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return AggregateData{}, pos, fmt.Errorf("invalid aggregate count")
		}
		agg.Count = c
		pos += n
		s, n := binary.Varint(data[pos:])
		if n <= 0 {
			return AggregateData{}, pos, fmt.Errorf("invalid aggregate sum")
		}
		agg.Sum = s
		pos += n
	default:
		return AggregateData{}, pos, fmt.Errorf("unknown aggregate kind %d", agg.Kind)
	}
	return agg, pos, nil
}
