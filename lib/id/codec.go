package id

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Self-describing encoding
// --------------------------------------------------------------------------

// Encode serializes an id into a self-describing byte form:
//
//	number: tag | 8 bytes big endian
//	text:   tag | uvarint length | utf-8 bytes
//	uuid:   tag | 16 bytes
//	binary: tag | uvarint length | bytes
//	edge:   tag | AsBytes()
//
// Unlike AsBytes, the result can be decoded without knowing the variant.
func Encode(x Id) []byte {
	return appendEncoded(make([]byte, 0, 16), x)
}

// Decode parses a value produced by Encode. The whole input must be consumed.
func Decode(b []byte) (Id, error) {
	x, n, err := DecodePrefix(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, fmt.Errorf("trailing %d bytes after %s id", len(b)-n, x.Kind())
	}
	return x, nil
}

// DecodePrefix parses one encoded id at the start of b and returns the number of bytes read.
func DecodePrefix(b []byte) (Id, int, error) {
	if len(b) < 1 {
		return nil, 0, fmt.Errorf("data too short for id")
	}
	kind := Kind(b[0])
	body := b[1:]

	switch kind {
	case KindNumber:
		if len(body) < 8 {
			return nil, 0, fmt.Errorf("data too short for number id")
		}
		return Number(int64(binary.BigEndian.Uint64(body[:8]))), 9, nil
	case KindText, KindBinary:
		raw, n, err := readLengthPrefixed(body)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid %s id: %w", kind, err)
		}
		if kind == KindText {
			return Text(raw), 1 + n, nil
		}
		return Binary(raw), 1 + n, nil
	case KindUUID:
		if len(body) < 16 {
			return nil, 0, fmt.Errorf("data too short for uuid id")
		}
		var u uuid.UUID
		copy(u[:], body[:16])
		return UUID(u), 17, nil
	case KindEdge:
		e, n, err := decodeEdgeBody(body)
		if err != nil {
			return nil, 0, err
		}
		return e, 1 + n, nil
	default:
		return nil, 0, fmt.Errorf("unknown id kind %d", kind)
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func appendEncoded(buf []byte, x Id) []byte {
	switch v := x.(type) {
	case Number:
		buf = append(buf, byte(KindNumber))
		return binary.BigEndian.AppendUint64(buf, uint64(v))
	case Text:
		buf = append(buf, byte(KindText))
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...)
	case Binary:
		buf = append(buf, byte(KindBinary))
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...)
	case UUID:
		buf = append(buf, byte(KindUUID))
		return append(buf, v[:]...)
	case Edge:
		buf = append(buf, byte(KindEdge))
		return append(buf, v.AsBytes()...)
	default:
		panic(fmt.Sprintf("unsupported id type %T", x))
	}
}

func readLengthPrefixed(b []byte) ([]byte, int, error) {
	length, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, 0, fmt.Errorf("invalid length prefix")
	}
	if uint64(len(b)-n) < length {
		return nil, 0, fmt.Errorf("data too short for %d bytes", length)
	}
	end := n + int(length)
	return b[n:end], end, nil
}

func decodeEdgeBody(b []byte) (Edge, int, error) {
	pos := 0

	owner, n, err := DecodePrefix(b[pos:])
	if err != nil {
		return Edge{}, 0, fmt.Errorf("invalid edge owner: %w", err)
	}
	pos += n

	if pos >= len(b) {
		return Edge{}, 0, fmt.Errorf("data too short for edge direction")
	}
	dir := Direction(b[pos])
	pos++

	label, n, err := DecodePrefix(b[pos:])
	if err != nil {
		return Edge{}, 0, fmt.Errorf("invalid edge label: %w", err)
	}
	pos += n

	sortValues, n, err := readLengthPrefixed(b[pos:])
	if err != nil {
		return Edge{}, 0, fmt.Errorf("invalid edge sort values: %w", err)
	}
	pos += n

	other, n, err := DecodePrefix(b[pos:])
	if err != nil {
		return Edge{}, 0, fmt.Errorf("invalid edge target: %w", err)
	}
	pos += n

	e, err := NewEdge(owner, dir, label, string(sortValues), other)
	if err != nil {
		return Edge{}, 0, err
	}
	return e, pos, nil
}
