package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
)

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Column is one named cell of an entry.
type Column struct {
	Name  []byte
	Value []byte
}

// Entry is the unit a backend stores and returns: an id, the entity type it
// belongs to and an ordered list of columns. Entries of type TypeOlap carry
// the property key id they belong to in SubID.
type Entry struct {
	Type    types.Type
	ID      id.Id
	SubID   id.Id
	Columns []Column
}

// NewEntry creates an entry with the given columns.
func NewEntry(t types.Type, x id.Id, columns ...Column) *Entry {
	return &Entry{Type: t, ID: x, Columns: columns}
}

// Col is a shorthand to build a column from strings.
func Col(name, value string) Column {
	return Column{Name: []byte(name), Value: []byte(value)}
}

// Column returns the value of the named column.
func (e *Entry) Column(name []byte) ([]byte, bool) {
	for _, c := range e.Columns {
		if bytes.Equal(c.Name, name) {
			return c.Value, true
		}
	}
	return nil, false
}

// Merge sets every column of other on e, overwriting existing names and
// appending new ones in order.
func (e *Entry) Merge(other *Entry) {
	for _, c := range other.Columns {
		replaced := false
		for i := range e.Columns {
			if bytes.Equal(e.Columns[i].Name, c.Name) {
				e.Columns[i].Value = c.Value
				replaced = true
				break
			}
		}
		if !replaced {
			e.Columns = append(e.Columns, c)
		}
	}
}

// Eliminate removes every column of e whose name appears in other.
func (e *Entry) Eliminate(other *Entry) {
	kept := e.Columns[:0]
	for _, c := range e.Columns {
		if _, found := other.Column(c.Name); !found {
			kept = append(kept, c)
		}
	}
	e.Columns = kept
}

// Clone returns a deep copy of the column slice (ids are immutable).
func (e *Entry) Clone() *Entry {
	c := &Entry{Type: e.Type, ID: e.ID, SubID: e.SubID, Columns: make([]Column, len(e.Columns))}
	for i, col := range e.Columns {
		c.Columns[i] = Column{
			Name:  append([]byte(nil), col.Name...),
			Value: append([]byte(nil), col.Value...),
		}
	}
	return c
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s:%s (%d columns)", e.Type, e.ID, len(e.Columns))
}

// --------------------------------------------------------------------------
// Binary encoding
// --------------------------------------------------------------------------

// The binary form of an entry is
//
//	type(1) | len | Encode(id) | len | Encode(subId) or 0 | ncols | (len | name | len | value)*
//
// with all lengths as uvarints. It is what engines store as value and what
// travels inside replicated commands.

// MarshalBinary encodes the entry.
func (e *Entry) MarshalBinary() ([]byte, error) {
	if e.ID == nil {
		return nil, fmt.Errorf("entry id can't be null")
	}
	buf := make([]byte, 0, e.sizeHint())
	buf = append(buf, byte(e.Type))
	buf = appendBytes(buf, id.Encode(e.ID))
	if e.SubID != nil {
		buf = appendBytes(buf, id.Encode(e.SubID))
	} else {
		buf = binary.AppendUvarint(buf, 0)
	}
	buf = binary.AppendUvarint(buf, uint64(len(e.Columns)))
	for _, c := range e.Columns {
		buf = appendBytes(buf, c.Name)
		buf = appendBytes(buf, c.Value)
	}
	return buf, nil
}

// UnmarshalBinary decodes an entry produced by MarshalBinary.
func (e *Entry) UnmarshalBinary(data []byte) error {
	r := reader{data: data}

	t, err := r.readByte()
	if err != nil {
		return fmt.Errorf("invalid entry type: %w", err)
	}
	raw, err := r.readBytes()
	if err != nil {
		return fmt.Errorf("invalid entry id: %w", err)
	}
	x, err := id.Decode(raw)
	if err != nil {
		return fmt.Errorf("invalid entry id: %w", err)
	}
	raw, err = r.readBytes()
	if err != nil {
		return fmt.Errorf("invalid entry sub id: %w", err)
	}
	var sub id.Id
	if len(raw) > 0 {
		if sub, err = id.Decode(raw); err != nil {
			return fmt.Errorf("invalid entry sub id: %w", err)
		}
	}
	n, err := r.readUvarint()
	if err != nil {
		return fmt.Errorf("invalid column count: %w", err)
	}
	if n > uint64(r.remaining()) {
		return fmt.Errorf("column count %d exceeds data", n)
	}
	cols := make([]Column, 0, n)
	for i := uint64(0); i < n; i++ {
		name, err := r.readBytes()
		if err != nil {
			return fmt.Errorf("invalid column %d name: %w", i, err)
		}
		value, err := r.readBytes()
		if err != nil {
			return fmt.Errorf("invalid column %d value: %w", i, err)
		}
		cols = append(cols, Column{Name: name, Value: value})
	}
	if r.remaining() != 0 {
		return fmt.Errorf("trailing %d bytes after entry", r.remaining())
	}

	*e = Entry{Type: types.Type(t), ID: x, SubID: sub, Columns: cols}
	return nil
}

// DecodeEntry is a convenience wrapper around UnmarshalBinary.
func DecodeEntry(data []byte) (*Entry, error) {
	e := &Entry{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entry) sizeHint() int {
	size := 32
	for _, c := range e.Columns {
		size += len(c.Name) + len(c.Value) + 4
	}
	return size
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// reader is a bounds checked cursor over a byte slice. Returned slices are copies.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("data too short")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("invalid uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *reader) readBytes() ([]byte, error) {
	length, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.remaining()) < length {
		return nil, fmt.Errorf("data too short for %d bytes", length)
	}
	b := make([]byte, length)
	copy(b, r.data[r.pos:r.pos+int(length)])
	r.pos += int(length)
	return b, nil
}
