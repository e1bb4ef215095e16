package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Kind identifies the variant of an Id.
// The numeric values are written as the leading tag byte of Encode and must not change.
type Kind uint8

const (
	KindNumber Kind = iota + 1 // 64-bit signed integer
	KindText                   // UTF-8 string
	KindUUID                   // 128-bit UUID
	KindEdge                   // composite edge id
	KindBinary                 // opaque byte sequence (prefixes, raw keys)
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindUUID:
		return "uuid"
	case KindEdge:
		return "edge"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Id is an immutable, typed identifier. Every variant exposes a canonical byte
// encoding (AsBytes) whose unsigned lexicographic order is the order used for
// range and prefix scans by every backend.
type Id interface {
	// Kind returns the variant of the id.
	Kind() Kind
	// AsBytes returns the canonical, order-defining byte form.
	// Numbers are 8 bytes big-endian, text is its UTF-8 bytes, UUIDs are their 16 raw bytes.
	AsBytes() []byte
	// String returns a human readable representation.
	String() string
}

// --------------------------------------------------------------------------
// Number
// --------------------------------------------------------------------------

// Number is a numeric id.
// Its byte form is plain big-endian two's complement, so negative numbers
// sort after all non-negative numbers.
type Number int64

// Of creates a numeric id.
func Of(n int64) Number { return Number(n) }

func (n Number) Kind() Kind { return KindNumber }

func (n Number) AsBytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func (n Number) String() string { return strconv.FormatInt(int64(n), 10) }

// Int64 returns the numeric value.
func (n Number) Int64() int64 { return int64(n) }

// --------------------------------------------------------------------------
// Text
// --------------------------------------------------------------------------

// Text is a string id.
type Text string

// OfString creates a string id.
func OfString(s string) Text { return Text(s) }

func (t Text) Kind() Kind      { return KindText }
func (t Text) AsBytes() []byte { return []byte(t) }
func (t Text) String() string  { return string(t) }

// --------------------------------------------------------------------------
// UUID
// --------------------------------------------------------------------------

// UUID is a uuid id.
type UUID uuid.UUID

// OfUUID creates a uuid id.
func OfUUID(u uuid.UUID) UUID { return UUID(u) }

// NewUUID creates a random (version 4) uuid id.
func NewUUID() UUID { return UUID(uuid.New()) }

func (u UUID) Kind() Kind { return KindUUID }

func (u UUID) AsBytes() []byte {
	b := make([]byte, 16)
	copy(b, u[:])
	return b
}

func (u UUID) String() string { return uuid.UUID(u).String() }

// --------------------------------------------------------------------------
// Binary
// --------------------------------------------------------------------------

// Binary is an opaque byte id. It is mostly used to express key prefixes
// (see EdgePrefix) and raw keys that have no richer meaning.
type Binary string

// OfBytes creates a binary id holding a copy of b.
func OfBytes(b []byte) Binary { return Binary(b) }

func (b Binary) Kind() Kind      { return KindBinary }
func (b Binary) AsBytes() []byte { return []byte(b) }
func (b Binary) String() string  { return hex.EncodeToString([]byte(b)) }

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// Compare compares the canonical encodings of a and b as unsigned bytes.
// A nil id sorts before every non-nil id.
func Compare(a, b Id) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return bytes.Compare(a.AsBytes(), b.AsBytes())
}

// Equal reports whether a and b are the same variant with the same encoding.
func Equal(a, b Id) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && bytes.Equal(a.AsBytes(), b.AsBytes())
}

// HasPrefix reports whether the encoding of x begins with the encoding of prefix.
func HasPrefix(x, prefix Id) bool {
	if x == nil || prefix == nil {
		return false
	}
	return bytes.HasPrefix(x.AsBytes(), prefix.AsBytes())
}

// Parse builds an id of the given kind from its textual representation.
// Edge ids cannot be parsed from text.
func Parse(kind Kind, s string) (Id, error) {
	switch kind {
	case KindNumber:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number id %q: %w", s, err)
		}
		return Number(n), nil
	case KindText:
		return Text(s), nil
	case KindUUID:
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid id %q: %w", s, err)
		}
		return UUID(u), nil
	case KindBinary:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid binary id %q: %w", s, err)
		}
		return Binary(b), nil
	default:
		return nil, fmt.Errorf("can't parse %s id from text", kind)
	}
}

// ParseKind resolves a kind name (number, text, uuid, binary, edge).
func ParseKind(name string) (Kind, error) {
	for _, k := range []Kind{KindNumber, KindText, KindUUID, KindEdge, KindBinary} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown id kind %q", name)
}
