package kv

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ValentinKolb/gstore/lib/id"
	"github.com/ValentinKolb/gstore/lib/query"
	"github.com/ValentinKolb/gstore/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix   []byte
		expected []byte
	}{
		{[]byte("ab"), []byte("ac")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, PrefixEnd(tt.prefix), "prefix %x", tt.prefix)
	}
}

func TestRange(t *testing.T) {
	r := Range{Start: []byte("a"), Prefix: []byte("b")}
	assert.Equal(t, []byte("b"), r.SeekKey())
	assert.False(t, r.Done([]byte("b1")))
	assert.True(t, r.Done([]byte("c")))
	assert.Equal(t, []byte("c"), r.UpperBound())

	r = Range{Start: []byte("b5"), End: []byte("b7"), Prefix: []byte("b")}
	assert.Equal(t, []byte("b5"), r.SeekKey())
	assert.True(t, r.Done([]byte("b7")))
	assert.Equal(t, []byte("b7"), r.UpperBound())

	assert.Nil(t, Range{}.UpperBound())
	assert.False(t, Range{}.Done([]byte{0xff}))

	s := Successor([]byte("k"))
	assert.Equal(t, 1, bytes.Compare(s, []byte("k")))
	assert.Equal(t, -1, bytes.Compare(s, []byte("k\x01")))
}

func TestScanRange(t *testing.T) {
	rq, err := query.NewIdRangeQuery(types.TypeVertex, nil, id.Of(3), false, id.Of(7), true)
	require.NoError(t, err)
	r, err := scanRange(rq)
	require.NoError(t, err)
	assert.Equal(t, Successor(id.Of(3).AsBytes()), r.Start)
	assert.Equal(t, Successor(id.Of(7).AsBytes()), r.End)

	pq, err := query.IdPrefix(types.TypeVertex, id.OfString("user:"))
	require.NoError(t, err)
	r, err = scanRange(pq)
	require.NoError(t, err)
	assert.Equal(t, []byte("user:"), r.Prefix)
	assert.Equal(t, []byte("user:"), r.Start)

	// a page moves the start past the last returned key
	pq.SetPage(hex.EncodeToString([]byte("user:5")))
	r, err = scanRange(pq)
	require.NoError(t, err)
	assert.Equal(t, Successor([]byte("user:5")), r.Start)

	pq.SetPage("not hex")
	_, err = scanRange(pq)
	assert.Error(t, err)
}

func TestCompatibleVersion(t *testing.T) {
	assert.True(t, compatibleVersion("1.0", "1.11"))
	assert.True(t, compatibleVersion("2", "2.3"))
	assert.False(t, compatibleVersion("1.11", "2.0"))
}

func TestGraphName(t *testing.T) {
	for _, name := range []string{"", "Graph", "1graph", "my-graph"} {
		_, err := NewProvider("memory", name, "1.0", nil)
		assert.Error(t, err, name)
	}
	_, err := NewProvider("memory", "graph_1", "1.0", nil)
	assert.Error(t, err, "nil engine")
}
