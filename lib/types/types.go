package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Entity Types
// --------------------------------------------------------------------------

// Type tags the kind of element a query returns, a counter allocates ids for
// or a table holds. The numeric codes are part of the on-disk format (table
// names and counter keys are derived from them) and must not be reordered.
type Type uint8

const (
	TypeUnknown Type = 0

	// Schema
	TypeVertexLabel Type = 1
	TypeEdgeLabel   Type = 2
	TypePropertyKey Type = 3
	TypeIndexLabel  Type = 4

	// Graph data
	TypeVertex          Type = 101
	TypeEdgeOut         Type = 130
	TypeEdgeIn          Type = 140
	TypeSecondaryIndex  Type = 150
	TypeRangeIndex      Type = 160
	TypeSearchIndex     Type = 170
	TypeUniqueIndex     Type = 178
	TypeShardIndex      Type = 175
	TypeOlap            Type = 180
	TypeVertexAggregate Type = 190

	// System
	TypeTask   Type = 200
	TypeServer Type = 210
	TypeMeta   Type = 220
	TypeSysVar Type = 230
)

var typeNames = map[Type]string{
	TypeUnknown:         "unknown",
	TypeVertexLabel:     "vertex_label",
	TypeEdgeLabel:       "edge_label",
	TypePropertyKey:     "property_key",
	TypeIndexLabel:      "index_label",
	TypeVertex:          "vertex",
	TypeEdgeOut:         "edge_out",
	TypeEdgeIn:          "edge_in",
	TypeSecondaryIndex:  "secondary_index",
	TypeRangeIndex:      "range_index",
	TypeSearchIndex:     "search_index",
	TypeUniqueIndex:     "unique_index",
	TypeShardIndex:      "shard_index",
	TypeOlap:            "olap",
	TypeVertexAggregate: "vertex_aggregate",
	TypeTask:            "task",
	TypeServer:          "server",
	TypeMeta:            "meta",
	TypeSysVar:          "sys_var",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// IsSchema reports whether t is a schema element type.
func (t Type) IsSchema() bool {
	return t >= TypeVertexLabel && t <= TypeIndexLabel
}

// IsGraph reports whether t is stored in the graph store.
func (t Type) IsGraph() bool {
	return t >= TypeVertex && t <= TypeVertexAggregate
}

// IsSystem reports whether t is stored in the system store.
func (t Type) IsSystem() bool {
	return t >= TypeTask
}

// IsEdge reports whether t is one of the two edge directions.
func (t Type) IsEdge() bool {
	return t == TypeEdgeOut || t == TypeEdgeIn
}

// IsIndex reports whether t is an index type.
func (t Type) IsIndex() bool {
	return t >= TypeSecondaryIndex && t <= TypeUniqueIndex
}

// Parse resolves a type name (as returned by String) back to its Type.
func Parse(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name && t != TypeUnknown {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown type %q", name)
}

// All returns every known type except TypeUnknown, in code order.
func All() []Type {
	all := make([]Type, 0, len(typeNames))
	for code := 1; code < 256; code++ {
		if _, ok := typeNames[Type(code)]; ok {
			all = append(all, Type(code))
		}
	}
	return all
}

// MarshalJSON encodes the type by name.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a type name.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
