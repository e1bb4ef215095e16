package id

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Direction is the direction of an edge as seen from its owner vertex.
type Direction uint8

const (
	DirOut Direction = 1
	DirIn  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirOut:
		return "OUT"
	case DirIn:
		return "IN"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(d))
	}
}

// Opposite returns the direction of the same edge seen from the other vertex.
func (d Direction) Opposite() Direction {
	if d == DirOut {
		return DirIn
	}
	return DirOut
}

// Edge is the composite id of an edge: owner vertex, direction, edge label,
// sort values and the vertex at the other end. Every edge is stored twice
// (once per direction), and both copies carry the same logical Edge seen from
// their own owner.
type Edge struct {
	Owner      Id
	Direction  Direction
	Label      Id
	SortValues string
	Other      Id
}

// NewEdge creates an edge id. All three vertex/label ids must be non-nil.
func NewEdge(owner Id, dir Direction, label Id, sortValues string, other Id) (Edge, error) {
	if owner == nil || label == nil || other == nil {
		return Edge{}, fmt.Errorf("edge id parts can't be nil")
	}
	if dir != DirOut && dir != DirIn {
		return Edge{}, fmt.Errorf("invalid edge direction %d", dir)
	}
	if owner.Kind() == KindEdge || other.Kind() == KindEdge || label.Kind() == KindEdge {
		return Edge{}, fmt.Errorf("edge id parts can't be edges")
	}
	return Edge{Owner: owner, Direction: dir, Label: label, SortValues: sortValues, Other: other}, nil
}

// Switch returns the same edge seen from the other vertex.
func (e Edge) Switch() Edge {
	return Edge{
		Owner:      e.Other,
		Direction:  e.Direction.Opposite(),
		Label:      e.Label,
		SortValues: e.SortValues,
		Other:      e.Owner,
	}
}

func (e Edge) Kind() Kind { return KindEdge }

// AsBytes lays the parts out so that all edges of one owner (and of one
// owner + direction + label) share a common prefix, see EdgePrefix.
func (e Edge) AsBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendEncoded(buf, e.Owner)
	buf = append(buf, byte(e.Direction))
	buf = appendEncoded(buf, e.Label)
	buf = binary.AppendUvarint(buf, uint64(len(e.SortValues)))
	buf = append(buf, e.SortValues...)
	buf = appendEncoded(buf, e.Other)
	return buf
}

func (e Edge) String() string {
	parts := []string{e.Owner.String(), e.Direction.String(), e.Label.String(), e.SortValues, e.Other.String()}
	return strings.Join(parts, ">")
}

// EdgePrefix returns the byte prefix shared by all edges of owner in direction dir.
// If label is non-nil the prefix is narrowed to edges with that label.
func EdgePrefix(owner Id, dir Direction, label Id) Binary {
	buf := appendEncoded(nil, owner)
	buf = append(buf, byte(dir))
	if label != nil {
		buf = appendEncoded(buf, label)
	}
	return Binary(buf)
}

// DecodeEdge parses the canonical byte form (AsBytes) of an edge id.
func DecodeEdge(b []byte) (Edge, error) {
	e, n, err := decodeEdgeBody(b)
	if err != nil {
		return Edge{}, err
	}
	if n != len(b) {
		return Edge{}, fmt.Errorf("trailing %d bytes after edge id", len(b)-n)
	}
	return e, nil
}
