// Package binaryutil provides the fixed-width binary codecs used by the
// storage layers. Everything operates on byte slices with an explicit byte
// order so that page buffers can be read and written without intermediate
// stream allocations.
package binaryutil

import (
	"encoding/binary"
	"errors"
	"math"
)

// MaxShortStringBytes is the largest UTF-8 encoding a short string may have.
// The on-disk format length-prefixes short strings with 16 bits.
const MaxShortStringBytes = 65535

// ShortStringPrefixSize is the size of the short string length prefix.
const ShortStringPrefixSize = 2

var (
	// ErrStringTooLong is returned when a string's UTF-8 encoding exceeds
	// MaxShortStringBytes.
	ErrStringTooLong = errors.New("string exceeds maximum short string length")

	// ErrShortBuffer is returned when a buffer is too small to hold the
	// value being encoded or decoded.
	ErrShortBuffer = errors.New("buffer too small")
)

// PutUint16 encodes v into b using the given byte order.
func PutUint16(b []byte, order binary.ByteOrder, v uint16) {
	order.PutUint16(b, v)
}

// Uint16 decodes a uint16 from b using the given byte order.
func Uint16(b []byte, order binary.ByteOrder) uint16 {
	return order.Uint16(b)
}

// PutUint32 encodes v into b using the given byte order.
func PutUint32(b []byte, order binary.ByteOrder, v uint32) {
	order.PutUint32(b, v)
}

// Uint32 decodes a uint32 from b using the given byte order.
func Uint32(b []byte, order binary.ByteOrder) uint32 {
	return order.Uint32(b)
}

// PutUint64 encodes v into b using the given byte order.
func PutUint64(b []byte, order binary.ByteOrder, v uint64) {
	order.PutUint64(b, v)
}

// Uint64 decodes a uint64 from b using the given byte order.
func Uint64(b []byte, order binary.ByteOrder) uint64 {
	return order.Uint64(b)
}

// PutInt16 encodes v into b using the given byte order.
func PutInt16(b []byte, order binary.ByteOrder, v int16) {
	order.PutUint16(b, uint16(v))
}

// Int16 decodes an int16 from b using the given byte order.
func Int16(b []byte, order binary.ByteOrder) int16 {
	return int16(order.Uint16(b))
}

// PutInt32 encodes v into b using the given byte order.
func PutInt32(b []byte, order binary.ByteOrder, v int32) {
	order.PutUint32(b, uint32(v))
}

// Int32 decodes an int32 from b using the given byte order.
func Int32(b []byte, order binary.ByteOrder) int32 {
	return int32(order.Uint32(b))
}

// PutInt64 encodes v into b using the given byte order.
func PutInt64(b []byte, order binary.ByteOrder, v int64) {
	order.PutUint64(b, uint64(v))
}

// Int64 decodes an int64 from b using the given byte order.
func Int64(b []byte, order binary.ByteOrder) int64 {
	return int64(order.Uint64(b))
}

// PutFloat32 encodes v into b as IEEE 754 bits using the given byte order.
func PutFloat32(b []byte, order binary.ByteOrder, v float32) {
	order.PutUint32(b, math.Float32bits(v))
}

// Float32 decodes a float32 from b using the given byte order.
func Float32(b []byte, order binary.ByteOrder) float32 {
	return math.Float32frombits(order.Uint32(b))
}

// PutFloat64 encodes v into b as IEEE 754 bits using the given byte order.
func PutFloat64(b []byte, order binary.ByteOrder, v float64) {
	order.PutUint64(b, math.Float64bits(v))
}

// Float64 decodes a float64 from b using the given byte order.
func Float64(b []byte, order binary.ByteOrder) float64 {
	return math.Float64frombits(order.Uint64(b))
}

// PutBool encodes v into b[0] as a single byte (1 or 0).
func PutBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

// Bool decodes a boolean from b[0]. Any non-zero byte is true.
func Bool(b []byte) bool {
	return b[0] != 0
}

// ShortStringSize returns the number of bytes PutShortString needs for s,
// or an error if the string is too long for the 16-bit prefix.
func ShortStringSize(s string) (int, error) {
	if len(s) > MaxShortStringBytes {
		return 0, ErrStringTooLong
	}
	return ShortStringPrefixSize + len(s), nil
}

// PutShortString encodes s into b as a 16-bit length prefix followed by the
// UTF-8 bytes. It returns the number of bytes written.
func PutShortString(b []byte, order binary.ByteOrder, s string) (int, error) {
	if len(s) > MaxShortStringBytes {
		return 0, ErrStringTooLong
	}
	if len(b) < ShortStringPrefixSize+len(s) {
		return 0, ErrShortBuffer
	}
	order.PutUint16(b, uint16(len(s)))
	copy(b[ShortStringPrefixSize:], s)
	return ShortStringPrefixSize + len(s), nil
}

// ShortString decodes a length-prefixed string from b. It returns the string
// and the number of bytes consumed.
func ShortString(b []byte, order binary.ByteOrder) (string, int, error) {
	if len(b) < ShortStringPrefixSize {
		return "", 0, ErrShortBuffer
	}
	n := int(order.Uint16(b))
	if len(b) < ShortStringPrefixSize+n {
		return "", 0, ErrShortBuffer
	}
	return string(b[ShortStringPrefixSize : ShortStringPrefixSize+n]), ShortStringPrefixSize + n, nil
}

// AppendShortString appends the short string encoding of s to dst.
func AppendShortString(dst []byte, order binary.ByteOrder, s string) ([]byte, error) {
	if len(s) > MaxShortStringBytes {
		return dst, ErrStringTooLong
	}
	var prefix [ShortStringPrefixSize]byte
	order.PutUint16(prefix[:], uint16(len(s)))
	dst = append(dst, prefix[:]...)
	return append(dst, s...), nil
}
