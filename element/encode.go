package element

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Wire layout, per kind:
//
//	┌─────────────────────────────────────────────┐
//	│ discriminant: 1 byte                        │
//	├─────────────────────────────────────────────┤
//	│ Item:            uvarint len ‖ bytes        │
//	│ SumItem:         zig-zag varint             │
//	│ ItemWithSumItem: uvarint len ‖ bytes ‖      │
//	│                  zig-zag varint             │
//	│ Reference:       ref type ‖ target ‖        │
//	│                  max-hops presence ‖ byte   │
//	│ tree handles:    root-key presence ‖ len ‖  │
//	│                  bytes ‖ fixed aggregate    │
//	├─────────────────────────────────────────────┤
//	│ flags presence: 1 byte ‖ uvarint len ‖ bytes│
//	└─────────────────────────────────────────────┘
//
// Tree-handle aggregates are fixed-width little-endian: 8-byte sums and
// counts, 16-byte big sums.

// Serialize encodes the element to its canonical byte form.
func (e *Element) Serialize() ([]byte, error) {
	buf := []byte{byte(e.Kind)}

	switch e.Kind {
	case KindItem:
		buf = appendBytes(buf, e.Value)
	case KindSumItem:
		buf = binary.AppendVarint(buf, e.Sum)
	case KindItemWithSumItem:
		buf = appendBytes(buf, e.Value)
		buf = binary.AppendVarint(buf, e.Sum)
	case KindReference:
		if e.Ref == nil {
			return nil, fmt.Errorf("reference element has no target path")
		}
		buf = append(buf, byte(e.Ref.Type))
		switch e.Ref.Type {
		case RefAbsolutePath:
			buf = binary.AppendUvarint(buf, uint64(len(e.Ref.Segments)))
			for _, segment := range e.Ref.Segments {
				buf = appendBytes(buf, segment)
			}
		case RefSibling:
			buf = appendBytes(buf, e.Ref.Key)
		default:
			return nil, fmt.Errorf("unknown reference type %d", e.Ref.Type)
		}
		if e.MaxHops != nil {
			buf = append(buf, 1, *e.MaxHops)
		} else {
			buf = append(buf, 0)
		}
	case KindTree:
		buf = appendOptBytes(buf, e.RootKey)
	case KindSumTree:
		buf = appendOptBytes(buf, e.RootKey)
		buf = appendFixed64(buf, uint64(e.Sum))
	case KindBigSumTree:
		buf = appendOptBytes(buf, e.RootKey)
		buf = appendFixed128(buf, e.BigSum)
	case KindCountTree:
		buf = appendOptBytes(buf, e.RootKey)
		buf = appendFixed64(buf, e.Count)
	case KindCountSumTree, KindProvableCountSumTree:
		buf = appendOptBytes(buf, e.RootKey)
		buf = appendFixed64(buf, e.Count)
		buf = appendFixed64(buf, uint64(e.Sum))
	case KindProvableCountTree:
		buf = appendOptBytes(buf, e.RootKey)
		buf = appendFixed64(buf, e.Count)
	default:
		return nil, fmt.Errorf("cannot serialize %s", e.Kind)
	}

	if e.Flags != nil {
		buf = append(buf, 1)
		buf = appendBytes(buf, e.Flags)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

// Deserialize decodes an element from its canonical byte form.
func Deserialize(data []byte) (*Element, error) {
	r := &reader{data: data}
	kind, err := r.byte()
	if err != nil {
		return nil, err
	}

	e := &Element{Kind: Kind(kind)}
	switch e.Kind {
	case KindItem:
		if e.Value, err = r.bytes(); err != nil {
			return nil, err
		}
	case KindSumItem:
		if e.Sum, err = r.varint(); err != nil {
			return nil, err
		}
	case KindItemWithSumItem:
		if e.Value, err = r.bytes(); err != nil {
			return nil, err
		}
		if e.Sum, err = r.varint(); err != nil {
			return nil, err
		}
	case KindReference:
		refType, err := r.byte()
		if err != nil {
			return nil, err
		}
		ref := &ReferencePath{Type: RefType(refType)}
		switch ref.Type {
		case RefAbsolutePath:
			count, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			for i := uint64(0); i < count; i++ {
				segment, err := r.bytes()
				if err != nil {
					return nil, err
				}
				ref.Segments = append(ref.Segments, segment)
			}
		case RefSibling:
			if ref.Key, err = r.bytes(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown reference type %d", ref.Type)
		}
		e.Ref = ref
		present, err := r.byte()
		if err != nil {
			return nil, err
		}
		if present == 1 {
			hops, err := r.byte()
			if err != nil {
				return nil, err
			}
			e.MaxHops = &hops
		}
	case KindTree:
		if e.RootKey, err = r.optBytes(); err != nil {
			return nil, err
		}
	case KindSumTree:
		if e.RootKey, err = r.optBytes(); err != nil {
			return nil, err
		}
		sum, err := r.fixed64()
		if err != nil {
			return nil, err
		}
		e.Sum = int64(sum)
	case KindBigSumTree:
		if e.RootKey, err = r.optBytes(); err != nil {
			return nil, err
		}
		if e.BigSum, err = r.fixed128(); err != nil {
			return nil, err
		}
	case KindCountTree, KindProvableCountTree:
		if e.RootKey, err = r.optBytes(); err != nil {
			return nil, err
		}
		if e.Count, err = r.fixed64(); err != nil {
			return nil, err
		}
	case KindCountSumTree, KindProvableCountSumTree:
		if e.RootKey, err = r.optBytes(); err != nil {
			return nil, err
		}
		if e.Count, err = r.fixed64(); err != nil {
			return nil, err
		}
		sum, err := r.fixed64()
		if err != nil {
			return nil, err
		}
		e.Sum = int64(sum)
	default:
		return nil, fmt.Errorf("unknown element discriminant %d", kind)
	}

	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	if present == 1 {
		if e.Flags, err = r.bytes(); err != nil {
			return nil, err
		}
	}
	if r.pos != len(r.data) {
		return nil, fmt.Errorf("trailing bytes after element")
	}
	return e, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendOptBytes(buf, b []byte) []byte {
	if b == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendBytes(buf, b)
}

func appendFixed64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// appendFixed128 encodes a signed 128-bit value, little-endian two's
// complement.
func appendFixed128(buf []byte, v *big.Int) []byte {
	var tmp [16]byte
	if v != nil {
		abs := new(big.Int).Abs(v)
		if v.Sign() < 0 {
			// two's complement: 2^128 - |v|
			mod := new(big.Int).Lsh(big.NewInt(1), 128)
			abs = abs.Sub(mod, abs)
		}
		abs.FillBytes(tmp[:])
		// FillBytes is big-endian; flip in place.
		for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
			tmp[i], tmp[j] = tmp[j], tmp[i]
		}
	}
	return append(buf, tmp[:]...)
}

func parseFixed128(data []byte) *big.Int {
	be := make([]byte, 16)
	for i := range be {
		be[i] = data[15-i]
	}
	v := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		v.Sub(v, mod)
	}
	return v
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("unexpected end of element data")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("invalid varint in element data")
	}
	r.pos += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("invalid varint in element data")
	}
	r.pos += n
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	length, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.data)-r.pos) < length {
		return nil, fmt.Errorf("unexpected end of element data")
	}
	out := append([]byte(nil), r.data[r.pos:r.pos+int(length)]...)
	r.pos += int(length)
	return out, nil
}

func (r *reader) optBytes() ([]byte, error) {
	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	return r.bytes()
}

func (r *reader) fixed64() (uint64, error) {
	if len(r.data)-r.pos < 8 {
		return 0, fmt.Errorf("unexpected end of element data")
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) fixed128() (*big.Int, error) {
	if len(r.data)-r.pos < 16 {
		return nil, fmt.Errorf("unexpected end of element data")
	}
	v := parseFixed128(r.data[r.pos : r.pos+16])
	r.pos += 16
	return v, nil
}
