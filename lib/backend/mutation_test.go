package backend

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryCodec(t *testing.T) {
	edge, err := id.NewEdge(id.Of(1), id.DirOut, id.Of(2), "s", id.OfString("v"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		entry *Entry
	}{
		{"Vertex", NewEntry(types.TypeVertex, id.Of(7), Col("name", "alice"), Col("age", "30"))},
		{"No columns", &Entry{Type: types.TypeVertexLabel, ID: id.OfString("person"), Columns: []Column{}}},
		{"Edge", NewEntry(types.TypeEdgeOut, edge, Col("weight", "0.5"))},
		{"Olap", &Entry{Type: types.TypeOlap, ID: id.Of(1), SubID: id.Of(9), Columns: []Column{Col("rank", "3")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.entry.MarshalBinary()
			require.NoError(t, err)
			decoded, err := DecodeEntry(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.entry, decoded)
		})
	}

	_, err = (&Entry{Type: types.TypeVertex}).MarshalBinary()
	assert.Error(t, err)

	raw, err := NewEntry(types.TypeVertex, id.Of(7), Col("a", "b")).MarshalBinary()
	require.NoError(t, err)
	for i := 0; i < len(raw); i++ {
		_, err := DecodeEntry(raw[:i])
		assert.Error(t, err, "truncated at %d", i)
	}
	_, err = DecodeEntry(append(raw, 0))
	assert.Error(t, err)
}

func TestEntryMergeEliminate(t *testing.T) {
	e := NewEntry(types.TypeVertex, id.Of(1), Col("a", "1"), Col("b", "2"))
	e.Merge(NewEntry(types.TypeVertex, id.Of(1), Col("b", "20"), Col("c", "3")))
	assert.Equal(t, []Column{Col("a", "1"), Col("b", "20"), Col("c", "3")}, e.Columns)

	e.Eliminate(NewEntry(types.TypeVertex, id.Of(1), Col("a", ""), Col("x", "")))
	assert.Equal(t, []Column{Col("b", "20"), Col("c", "3")}, e.Columns)

	v, ok := e.Column([]byte("c"))
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)

	c := e.Clone()
	c.Columns[0].Value[0] = 'x'
	assert.Equal(t, []byte("20"), e.Columns[0].Value)
}

func TestMutationCodec(t *testing.T) {
	m := NewMutation().
		Add(ActionInsert, NewEntry(types.TypeVertex, id.Of(1), Col("name", "a"))).
		Add(ActionAppend, NewEntry(types.TypeVertex, id.Of(1), Col("age", "3"))).
		Add(ActionDelete, NewEntry(types.TypeVertex, id.Of(2)))

	raw, err := m.MarshalBinary()
	require.NoError(t, err)

	decoded := NewMutation()
	require.NoError(t, decoded.UnmarshalBinary(raw))
	require.Equal(t, m.Len(), decoded.Len())
	for i, item := range m.Items() {
		assert.Equal(t, item.Action, decoded.Items()[i].Action)
		assert.Equal(t, item.Entry.ID, decoded.Items()[i].Entry.ID)
		assert.Equal(t, len(item.Entry.Columns), len(decoded.Items()[i].Entry.Columns))
	}

	assert.Error(t, NewMutation().UnmarshalBinary([]byte{5}))
	assert.Error(t, NewMutation().UnmarshalBinary(append(raw, 1)))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "UPDATE_IF_ABSENT", ActionUpdateIfAbsent.String())
	assert.False(t, Action(0).Valid())
	assert.True(t, ActionEliminate.Valid())
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, "g_graph", "commit")
	assert.Equal(t, "backend error (code InternalError) in store 'g_graph' during commit: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	// existing codes are kept, missing context is filled in
	err = Wrap(NewError(RetCBusy, "try again"), "g_schema", "next id")
	assert.True(t, IsBusy(err))
	assert.Contains(t, err.Error(), "g_schema")

	assert.Nil(t, Wrap(nil, "x", "y"))
	assert.Equal(t, RetCSuccess, CodeOf(nil))
	assert.Equal(t, RetCInternalError, CodeOf(cause))
	assert.True(t, IsUnsupported(Unsupported("g", "snapshot")))
}

func TestFeatures(t *testing.T) {
	f := FeatureScanKeyRange | FeatureTransaction
	assert.True(t, f.Has(FeatureTransaction))
	assert.True(t, f.Has(FeatureScanKeyRange|FeatureTransaction))
	assert.False(t, f.Has(FeatureSnapshot|FeatureTransaction))
	assert.Equal(t, []Feature{FeatureScanKeyRange, FeatureTransaction}, f.List())
	assert.Equal(t, "QueryByPage", FeatureQueryByPage.String())
}

func TestStoreTypeAccepts(t *testing.T) {
	assert.True(t, StoreSchema.Accepts(types.TypePropertyKey))
	assert.False(t, StoreSchema.Accepts(types.TypeVertex))
	assert.True(t, StoreGraph.Accepts(types.TypeEdgeIn))
	assert.True(t, StoreGraph.Accepts(types.TypeOlap))
	assert.False(t, StoreGraph.Accepts(types.TypeTask))
	assert.True(t, StoreSystem.Accepts(types.TypeTask))
	assert.False(t, StoreAll.Accepts(types.TypeTask))

	s, err := ParseStoreType("graph")
	require.NoError(t, err)
	assert.Equal(t, StoreGraph, s)
}

// stubStore satisfies BackendStore without any optional capability.
type stubStore struct{ BackendStore }

func (stubStore) Name() string      { return "stub" }
func (stubStore) Features() Feature { return 0 }

func TestCapabilityHelpersReportUnsupported(t *testing.T) {
	s := stubStore{}
	_, err := CreateSnapshot(s, t.TempDir())
	assert.True(t, IsUnsupported(err))
	assert.True(t, IsUnsupported(ResumeSnapshot(s, t.TempDir(), false)))
	assert.True(t, IsUnsupported(Dump(s, nil)))
	assert.True(t, IsUnsupported(Restore(s, nil)))
	_, err = Olap(s)
	assert.True(t, IsUnsupported(err))
}

func TestCollect(t *testing.T) {
	entries := []*Entry{NewEntry(types.TypeVertex, id.Of(1)), NewEntry(types.TypeVertex, id.Of(2))}
	got, err := Collect(NewSliceIterator(entries, ""))
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	got, err = Collect(EmptyIterator())
	require.NoError(t, err)
	assert.Empty(t, got)
}
