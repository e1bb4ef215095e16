package id

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEdge(t *testing.T) Edge {
	e, err := NewEdge(Of(1), DirOut, Of(7), "2024-01-01", OfString("user:42"))
	require.NoError(t, err)
	return e
}

// TestRoundTrip checks decode(encode(id)) == id for every variant
func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   Id
	}{
		{"Number zero", Of(0)},
		{"Number positive", Of(42)},
		{"Number negative", Of(-1)},
		{"Number max", Of(1<<63 - 1)},
		{"Text", OfString("user:1")},
		{"Text empty", OfString("")},
		{"Text unicode", OfString("你好世界")},
		{"UUID", OfUUID(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))},
		{"Binary", OfBytes([]byte{0, 1, 2, 254, 255})},
		{"Edge", testEdge(t)},
		{"Edge switched", testEdge(t).Switch()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode(Encode(tt.id))
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
			assert.True(t, Equal(tt.id, decoded))
		})
	}
}

func TestNumberAsBytesIsBigEndian(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, Of(258).AsBytes())

	ids := []Id{Of(10), Of(3), Of(7), Of(1), Of(256)}
	sort.Slice(ids, func(i, j int) bool { return Compare(ids[i], ids[j]) < 0 })
	assert.Equal(t, []Id{Of(1), Of(3), Of(7), Of(10), Of(256)}, ids)
}

func TestTextAsBytesIsUTF8(t *testing.T) {
	assert.Equal(t, []byte("group:1"), OfString("group:1").AsBytes())
	assert.Negative(t, Compare(OfString("group:1"), OfString("user:1")))
}

func TestEdgePrefix(t *testing.T) {
	e := testEdge(t)

	assert.True(t, HasPrefix(e, EdgePrefix(Of(1), DirOut, nil)))
	assert.True(t, HasPrefix(e, EdgePrefix(Of(1), DirOut, Of(7))))
	assert.False(t, HasPrefix(e, EdgePrefix(Of(1), DirIn, nil)))
	assert.False(t, HasPrefix(e, EdgePrefix(Of(2), DirOut, nil)))

	decoded, err := DecodeEdge(e.AsBytes())
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestNewEdgeValidation(t *testing.T) {
	_, err := NewEdge(nil, DirOut, Of(1), "", Of(2))
	assert.Error(t, err)
	_, err = NewEdge(Of(1), Direction(9), Of(1), "", Of(2))
	assert.Error(t, err)
	_, err = NewEdge(testEdge(t), DirOut, Of(1), "", Of(2))
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty data", []byte{}},
		{"Unknown kind", []byte{99}},
		{"Short number", []byte{byte(KindNumber), 1, 2}},
		{"Short uuid", []byte{byte(KindUUID), 1}},
		{"Text length too large", []byte{byte(KindText), 10, 'a'}},
		{"Trailing bytes", append(Encode(Of(1)), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestParse(t *testing.T) {
	x, err := Parse(KindNumber, "123")
	require.NoError(t, err)
	assert.Equal(t, Of(123), x)

	x, err = Parse(KindBinary, "00ff")
	require.NoError(t, err)
	assert.Equal(t, OfBytes([]byte{0, 0xff}), x)

	_, err = Parse(KindEdge, "x")
	assert.Error(t, err)
	_, err = Parse(KindNumber, "abc")
	assert.Error(t, err)
}

func TestCompareNil(t *testing.T) {
	assert.Zero(t, Compare(nil, nil))
	assert.Negative(t, Compare(nil, Of(0)))
	assert.Positive(t, Compare(Of(0), nil))
	assert.False(t, Equal(nil, Of(0)))
	assert.False(t, Equal(OfString("a"), OfBytes([]byte("a"))))
}
