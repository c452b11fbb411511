package serializers

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestInt64SerializerRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		s := NewInt64Serializer(order)
		buf := make([]byte, s.DataSize())
		for _, v := range []int64{0, 1, -1, 1<<62 - 1, -(1 << 62)} {
			require.NoError(t, s.Serialize(v, buf))
			got, err := s.Deserialize(buf)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	}
}

func TestSerializerRejectsWrongSlotSize(t *testing.T) {
	s := NewInt64Serializer(binary.LittleEndian)
	assert.ErrorIs(t, s.Serialize(1, make([]byte, 4)), ErrWrongSlotSize)
	_, err := s.Deserialize(make([]byte, 16))
	assert.ErrorIs(t, err, ErrWrongSlotSize)
}

func TestFloat64SerializerRoundTrip(t *testing.T) {
	s := NewFloat64Serializer(binary.LittleEndian)
	buf := make([]byte, s.DataSize())
	for _, v := range []float64{0, -1.5, 3.25e18, -2.2250738585072014e-308} {
		require.NoError(t, s.Serialize(v, buf))
		got, err := s.Deserialize(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestBoolSerializerRoundTrip(t *testing.T) {
	s := BoolSerializer{}
	buf := make([]byte, 1)
	require.NoError(t, s.Serialize(true, buf))
	got, err := s.Deserialize(buf)
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, s.Serialize(false, buf))
	got, err = s.Deserialize(buf)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestStringSerializerRoundTrip(t *testing.T) {
	s, err := NewStringSerializer(16, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, int64(18), s.DataSize())

	buf := make([]byte, s.DataSize())
	for _, v := range []string{"", "a", "hello world", "sixteen chars!!!"} {
		require.NoError(t, s.Serialize(v, buf))
		got, err := s.Deserialize(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestStringSerializerDeterministicPadding(t *testing.T) {
	s, err := NewStringSerializer(8, binary.LittleEndian)
	require.NoError(t, err)

	a := make([]byte, s.DataSize())
	b := make([]byte, s.DataSize())
	require.NoError(t, s.Serialize("longer01", a))
	require.NoError(t, s.Serialize("x", a))
	require.NoError(t, s.Serialize("x", b))
	assert.Equal(t, b, a, "stale slot bytes must not leak into the encoding")
}

func TestStringSerializerRejectsOversize(t *testing.T) {
	s, err := NewStringSerializer(4, binary.LittleEndian)
	require.NoError(t, err)
	buf := make([]byte, s.DataSize())
	assert.ErrorIs(t, s.Serialize("too long", buf), ErrValueTooLarge)

	_, err = NewStringSerializer(70000, binary.LittleEndian)
	assert.Error(t, err)
}

func TestBSONDocumentSerializerRoundTrip(t *testing.T) {
	s, err := NewBSONDocumentSerializer(128)
	require.NoError(t, err)
	assert.Equal(t, int64(128), s.DataSize())

	buf := make([]byte, s.DataSize())
	doc := bson.M{"name": "page", "size": int32(4096), "pinned": true}
	require.NoError(t, s.Serialize(doc, buf))

	got, err := s.Deserialize(buf)
	require.NoError(t, err)
	assert.Equal(t, "page", got["name"])
	assert.Equal(t, int32(4096), got["size"])
	assert.Equal(t, true, got["pinned"])
}

func TestBSONDocumentSerializerNilDocument(t *testing.T) {
	s, err := NewBSONDocumentSerializer(32)
	require.NoError(t, err)
	buf := make([]byte, s.DataSize())
	require.NoError(t, s.Serialize(nil, buf))
	got, err := s.Deserialize(buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBSONDocumentSerializerRejectsOversize(t *testing.T) {
	s, err := NewBSONDocumentSerializer(16)
	require.NoError(t, err)
	buf := make([]byte, s.DataSize())
	doc := bson.M{"text": strings.Repeat("x", 64)}
	assert.ErrorIs(t, s.Serialize(doc, buf), ErrValueTooLarge)

	_, err = NewBSONDocumentSerializer(3)
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestComparers(t *testing.T) {
	assert.Equal(t, -1, CompareInt64(1, 2))
	assert.Equal(t, 1, CompareInt64(2, 1))
	assert.Equal(t, 0, CompareInt64(2, 2))

	assert.Equal(t, -1, CompareUint64(1, 2))
	assert.Equal(t, 1, CompareFloat64(2.5, 1.5))
	assert.Equal(t, -1, CompareString("a", "b"))
	assert.Equal(t, 0, CompareString("a", "a"))
}
