package proof

import (
	"encoding/binary"
	"fmt"
)

// Wire opcodes. Pushes are followed by their node payload; key and value
// lengths are big-endian u16.
const (
	opcodeHash             = 0x01
	opcodeKVHash           = 0x02
	opcodeKV               = 0x03
	opcodeKVValueHash      = 0x04
	opcodeKVDigest         = 0x05
	opcodeKVDigestCount    = 0x06
	opcodeKVCount          = 0x07
	opcodeKVRefValueHash   = 0x08
	opcodeKVHashCount      = 0x09
	opcodePushInverted     = 0x0A
	opcodeKVValueHashCount = 0x0B
	opcodeParent           = 0x10
	opcodeChild            = 0x11
	opcodeParentInverted   = 0x12
	opcodeChildInverted    = 0x13
)

// maxProofBytesLen bounds keys and values in proofs to what a u16 length
// can frame.
const maxProofBytesLen = 65535

func nodeOpcode(t NodeType) byte {
	switch t {
	case NodeHash:
		return opcodeHash
	case NodeKVHash:
		return opcodeKVHash
	case NodeKV:
		return opcodeKV
	case NodeKVValueHash:
		return opcodeKVValueHash
	case NodeKVDigest:
		return opcodeKVDigest
	case NodeKVDigestCount:
		return opcodeKVDigestCount
	case NodeKVCount:
		return opcodeKVCount
	case NodeKVRefValueHash:
		return opcodeKVRefValueHash
	case NodeKVHashCount:
		return opcodeKVHashCount
	case NodeKVValueHashCount:
		return opcodeKVValueHashCount
	}
	return 0
}

// Encode serializes ops into a self-framed proof byte stream.
func Encode(ops []Op) ([]byte, error) {
	var buf []byte
	for _, op := range ops {
		switch op.Type {
		case OpParent:
			buf = append(buf, opcodeParent)
		case OpChild:
			buf = append(buf, opcodeChild)
		case OpParentInverted:
			buf = append(buf, opcodeParentInverted)
		case OpChildInverted:
			buf = append(buf, opcodeChildInverted)
		case OpPush, OpPushInverted:
			if op.Type == OpPushInverted {
				buf = append(buf, opcodePushInverted)
			}
			var err error
			buf, err = encodeNode(buf, op.Node)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown proof op type %d", op.Type)
		}
	}
	return buf, nil
}

func encodeNode(buf []byte, n *Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("push op without a node")
	}
	buf = append(buf, nodeOpcode(n.Type))

	writeBytes := func(b []byte) error {
		if len(b) > maxProofBytesLen {
			return fmt.Errorf("proof entry exceeds %d bytes", maxProofBytesLen)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(b)))
		buf = append(buf, b...)
		return nil
	}

	switch n.Type {
	case NodeHash, NodeKVHash:
		buf = append(buf, n.Digest[:]...)
	case NodeKVHashCount:
		buf = append(buf, n.Digest[:]...)
		buf = appendFeature(buf, n.Feature)
	case NodeKV:
		if err := writeBytes(n.Key); err != nil {
			return nil, err
		}
		if err := writeBytes(n.Value); err != nil {
			return nil, err
		}
	case NodeKVCount:
		if err := writeBytes(n.Key); err != nil {
			return nil, err
		}
		if err := writeBytes(n.Value); err != nil {
			return nil, err
		}
		buf = appendFeature(buf, n.Feature)
	case NodeKVValueHash, NodeKVRefValueHash:
		if err := writeBytes(n.Key); err != nil {
			return nil, err
		}
		if err := writeBytes(n.Value); err != nil {
			return nil, err
		}
		buf = append(buf, n.Digest[:]...)
	case NodeKVValueHashCount:
		if err := writeBytes(n.Key); err != nil {
			return nil, err
		}
		if err := writeBytes(n.Value); err != nil {
			return nil, err
		}
		buf = append(buf, n.Digest[:]...)
		buf = appendFeature(buf, n.Feature)
	case NodeKVDigest:
		if err := writeBytes(n.Key); err != nil {
			return nil, err
		}
		buf = append(buf, n.Digest[:]...)
	case NodeKVDigestCount:
		if err := writeBytes(n.Key); err != nil {
			return nil, err
		}
		buf = append(buf, n.Digest[:]...)
		buf = appendFeature(buf, n.Feature)
	default:
		return nil, fmt.Errorf("unknown proof node type %d", n.Type)
	}
	return buf, nil
}

func appendFeature(buf []byte, f *Feature) []byte {
	if f != nil && f.HasSum {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint64(buf, f.Count)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Sum))
		return buf
	}
	buf = append(buf, 0)
	var count uint64
	if f != nil {
		count = f.Count
	}
	return binary.LittleEndian.AppendUint64(buf, count)
}

// Decode parses a proof byte stream back into ops.
func Decode(data []byte) ([]Op, error) {
	d := &decoder{data: data}
	var ops []Op
	for !d.done() {
		op, err := d.op()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) done() bool { return d.pos >= len(d.data) }

func (d *decoder) op() (Op, error) {
	opcode, err := d.byte()
	if err != nil {
		return Op{}, err
	}
	switch opcode {
	case opcodeParent:
		return Op{Type: OpParent}, nil
	case opcodeChild:
		return Op{Type: OpChild}, nil
	case opcodeParentInverted:
		return Op{Type: OpParentInverted}, nil
	case opcodeChildInverted:
		return Op{Type: OpChildInverted}, nil
	case opcodePushInverted:
		variant, err := d.byte()
		if err != nil {
			return Op{}, err
		}
		node, err := d.node(variant)
		if err != nil {
			return Op{}, err
		}
		return Op{Type: OpPushInverted, Node: node}, nil
	default:
		node, err := d.node(opcode)
		if err != nil {
			return Op{}, err
		}
		return Op{Type: OpPush, Node: node}, nil
	}
}

func (d *decoder) node(opcode byte) (*Node, error) {
	n := &Node{}
	switch opcode {
	case opcodeHash:
		n.Type = NodeHash
	case opcodeKVHash:
		n.Type = NodeKVHash
	case opcodeKV:
		n.Type = NodeKV
	case opcodeKVValueHash:
		n.Type = NodeKVValueHash
	case opcodeKVDigest:
		n.Type = NodeKVDigest
	case opcodeKVDigestCount:
		n.Type = NodeKVDigestCount
	case opcodeKVCount:
		n.Type = NodeKVCount
	case opcodeKVRefValueHash:
		n.Type = NodeKVRefValueHash
	case opcodeKVHashCount:
		n.Type = NodeKVHashCount
	case opcodeKVValueHashCount:
		n.Type = NodeKVValueHashCount
	default:
		return nil, fmt.Errorf("%w: unknown opcode 0x%02x", ErrInvalidProof, opcode)
	}

	var err error
	switch n.Type {
	case NodeHash, NodeKVHash:
		err = d.hash(&n.Digest)
	case NodeKVHashCount:
		if err = d.hash(&n.Digest); err == nil {
			n.Feature, err = d.feature()
		}
	case NodeKV:
		if n.Key, err = d.bytes(); err == nil {
			n.Value, err = d.bytes()
		}
	case NodeKVCount:
		if n.Key, err = d.bytes(); err == nil {
			if n.Value, err = d.bytes(); err == nil {
				n.Feature, err = d.feature()
			}
		}
	case NodeKVValueHash, NodeKVRefValueHash:
		if n.Key, err = d.bytes(); err == nil {
			if n.Value, err = d.bytes(); err == nil {
				err = d.hash(&n.Digest)
			}
		}
	case NodeKVValueHashCount:
		if n.Key, err = d.bytes(); err == nil {
			if n.Value, err = d.bytes(); err == nil {
				if err = d.hash(&n.Digest); err == nil {
					n.Feature, err = d.feature()
				}
			}
		}
	case NodeKVDigest:
		if n.Key, err = d.bytes(); err == nil {
			err = d.hash(&n.Digest)
		}
	case NodeKVDigestCount:
		if n.Key, err = d.bytes(); err == nil {
			if err = d.hash(&n.Digest); err == nil {
				n.Feature, err = d.feature()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w: truncated op stream", ErrInvalidProof)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bytes() ([]byte, error) {
	if len(d.data)-d.pos < 2 {
		return nil, fmt.Errorf("%w: truncated length", ErrInvalidProof)
	}
	length := int(binary.BigEndian.Uint16(d.data[d.pos:]))
	d.pos += 2
	if len(d.data)-d.pos < length {
		return nil, fmt.Errorf("%w: truncated bytes", ErrInvalidProof)
	}
	out := append([]byte(nil), d.data[d.pos:d.pos+length]...)
	d.pos += length
	return out, nil
}

func (d *decoder) hash(out *[32]byte) error {
	if len(d.data)-d.pos < 32 {
		return fmt.Errorf("%w: truncated hash", ErrInvalidProof)
	}
	copy(out[:], d.data[d.pos:d.pos+32])
	d.pos += 32
	return nil
}

func (d *decoder) feature() (*Feature, error) {
	hasSum, err := d.byte()
	if err != nil {
		return nil, err
	}
	f := &Feature{HasSum: hasSum == 1}
	if len(d.data)-d.pos < 8 {
		return nil, fmt.Errorf("%w: truncated count", ErrInvalidProof)
	}
	f.Count = binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	if f.HasSum {
		if len(d.data)-d.pos < 8 {
			return nil, fmt.Errorf("%w: truncated sum", ErrInvalidProof)
		}
		f.Sum = int64(binary.LittleEndian.Uint64(d.data[d.pos:]))
		d.pos += 8
	}
	return f, nil
}
