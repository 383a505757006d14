package merk

import (
	"bytes"

	"github.com/dashpay/grovedb-sub000/query"
)

// IterateItem walks the committed entries selected by one query item in
// the given direction, passing each key and stored value to fn. Iteration
// stops when fn returns false.
func (m *Merk) IterateItem(item query.QueryItem, leftToRight bool, fn func(key, value []byte) (bool, error)) error {
	raw := m.ctx.RawIter()
	defer raw.Close()

	if leftToRight {
		if item.LowerUnbounded {
			raw.SeekToFirst()
		} else {
			raw.Seek(item.Lower)
			if item.LowerExclusive && raw.Valid() && bytes.Equal(raw.Key(), item.Lower) {
				raw.Next()
			}
		}
	} else {
		if item.UpperUnbounded {
			raw.SeekToLast()
		} else {
			raw.SeekForPrev(item.Upper)
			if !item.UpperInclusive && raw.Valid() && bytes.Equal(raw.Key(), item.Upper) {
				raw.Prev()
			}
		}
	}

	for raw.Valid() {
		key := raw.Key()
		if item.CompareKey(key) != 0 {
			return nil
		}
		node, err := DecodeNode(key, raw.Value())
		if err != nil {
			return err
		}
		ok, err := fn(node.Key, node.Value)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if leftToRight {
			raw.Next()
		} else {
			raw.Prev()
		}
	}
	return nil
}
