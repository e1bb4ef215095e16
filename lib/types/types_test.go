package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, typ := range All() {
		parsed, err := Parse(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	parsed, err := Parse(" Vertex ")
	require.NoError(t, err)
	assert.Equal(t, TypeVertex, parsed)

	_, err = Parse("unknown")
	assert.Error(t, err)
	_, err = Parse("hyperedge")
	assert.Error(t, err)
}

func TestStoreMembership(t *testing.T) {
	tests := []struct {
		typ                   Type
		schema, graph, system bool
	}{
		{TypePropertyKey, true, false, false},
		{TypeVertex, false, true, false},
		{TypeEdgeIn, false, true, false},
		{TypeOlap, false, true, false},
		{TypeTask, false, false, true},
		{TypeUnknown, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.schema, tt.typ.IsSchema())
			assert.Equal(t, tt.graph, tt.typ.IsGraph())
			assert.Equal(t, tt.system, tt.typ.IsSystem())
		})
	}

	assert.True(t, TypeShardIndex.IsIndex())
	assert.False(t, TypeOlap.IsIndex())
	assert.True(t, TypeEdgeOut.IsEdge())
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(TypeEdgeLabel)
	require.NoError(t, err)
	assert.Equal(t, `"edge_label"`, string(data))

	var typ Type
	require.NoError(t, json.Unmarshal(data, &typ))
	assert.Equal(t, TypeEdgeLabel, typ)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &typ))
	assert.Equal(t, "type(99)", Type(99).String())
}
