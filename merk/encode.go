package merk

import (
	"encoding/binary"
	"fmt"
)

// Stored node layout (the node's key is its storage key and is not
// repeated):
//
//	┌──────────────────────────────────────────────┐
//	│ left link  (presence ‖ key ‖ hash ‖ heights  │
//	│             ‖ aggregate)                     │
//	│ right link (same)                            │
//	│ own sum: zig-zag varint                      │
//	│ subtree aggregate                            │
//	│ combined flag: 1 byte                        │
//	│ value hash: 32 bytes (combined only)         │
//	│ kv hash: 32 bytes                            │
//	│ value: u32 BE len ‖ bytes                    │
//	└──────────────────────────────────────────────┘

func encodeLink(buf []byte, l *Link) []byte {
	if l == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(l.Key)))
	buf = append(buf, l.Key...)
	buf = append(buf, l.Hash[:]...)
	buf = append(buf, l.ChildHeights[0], l.ChildHeights[1])
	return l.Aggregate.encode(buf)
}

func decodeLink(data []byte, pos int) (*Link, int, error) {
	if pos >= len(data) {
		return nil, pos, fmt.Errorf("truncated link")
	}
	present := data[pos]
	pos++
	if present == 0 {
		return nil, pos, nil
	}
	if len(data)-pos < 2 {
		return nil, pos, fmt.Errorf("truncated link key length")
	}
	keyLen := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	if len(data)-pos < keyLen+32+2 {
		return nil, pos, fmt.Errorf("truncated link")
	}
	l := &Link{Key: append([]byte(nil), data[pos:pos+keyLen]...)}
	pos += keyLen
	copy(l.Hash[:], data[pos:pos+32])
	pos += 32
	l.ChildHeights[0] = data[pos]
	l.ChildHeights[1] = data[pos+1]
	pos += 2
	var err error
	l.Aggregate, pos, err = decodeAggregate(data, pos)
	if err != nil {
		return nil, pos, err
	}
	return l, pos, nil
}

// EncodeNode serializes a committed node.
func EncodeNode(n *TreeNode) []byte {
	buf := make([]byte, 0, 128+len(n.Value))
	buf = encodeLink(buf, n.Left)
	buf = encodeLink(buf, n.Right)
	buf = binary.AppendVarint(buf, n.OwnSum)
	buf = n.Aggregate.encode(buf)
	if n.Combined {
		buf = append(buf, 1)
		buf = append(buf, n.ValueHash[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, n.KVHash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(n.Value)))
	buf = append(buf, n.Value...)
	return buf
}

// DecodeNode parses a stored node. The key is supplied by the caller since
// it doubles as the storage key.
func DecodeNode(key, data []byte) (*TreeNode, error) {
	n := &TreeNode{Key: append([]byte(nil), key...)}
	var err error
	pos := 0
	if n.Left, pos, err = decodeLink(data, pos); err != nil {
		return nil, err
	}
	if n.Right, pos, err = decodeLink(data, pos); err != nil {
		return nil, err
	}
	ownSum, vn := binary.Varint(data[pos:])
	if vn <= 0 {
		return nil, fmt.Errorf("invalid own sum")
	}
	n.OwnSum = ownSum
	pos += vn
	if n.Aggregate, pos, err = decodeAggregate(data, pos); err != nil {
		return nil, err
	}
	if pos >= len(data) {
		return nil, fmt.Errorf("truncated node")
	}
	n.Combined = data[pos] == 1
	pos++
	if n.Combined {
		if len(data)-pos < 32 {
			return nil, fmt.Errorf("truncated value hash")
		}
		copy(n.ValueHash[:], data[pos:pos+32])
		pos += 32
	}
	if len(data)-pos < 32+4 {
		return nil, fmt.Errorf("truncated kv hash")
	}
	copy(n.KVHash[:], data[pos:pos+32])
	pos += 32
	valueLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4
	if len(data)-pos < valueLen {
		return nil, fmt.Errorf("truncated value")
	}
	n.Value = append([]byte(nil), data[pos:pos+valueLen]...)
	pos += valueLen
	if pos != len(data) {
		return nil, fmt.Errorf("trailing bytes after node")
	}
	return n, nil
}
