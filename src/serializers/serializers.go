// Package serializers defines the fixed-size value codec contract the
// B-tree stores keys and values with, plus the stock implementations for
// primitives, short strings and BSON documents.
package serializers

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pagevault/src/binaryutil"
)

var (
	// ErrWrongSlotSize is returned when a buffer does not match the
	// serializer's DataSize.
	ErrWrongSlotSize = errors.New("buffer does not match serializer data size")

	// ErrValueTooLarge is returned when a value cannot fit its fixed slot.
	ErrValueTooLarge = errors.New("value does not fit the fixed slot")
)

// Serializer is a fixed-size, deterministic codec for a user type. Every
// encoding occupies exactly DataSize bytes.
type Serializer[T any] interface {
	// DataSize returns the fixed size of every serialized value.
	DataSize() int64

	// Serialize encodes value into dst, which must be exactly DataSize
	// bytes.
	Serialize(value T, dst []byte) error

	// Deserialize decodes a value from src, which must be exactly
	// DataSize bytes.
	Deserialize(src []byte) (T, error)
}

// KeyComparer is a user-provided total order over keys.
type KeyComparer[K any] func(a, b K) int

// CompareInt64 orders int64 keys numerically.
func CompareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareUint64 orders uint64 keys numerically.
func CompareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareFloat64 orders float64 keys numerically.
func CompareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareString orders strings lexicographically by bytes.
func CompareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func checkSlot(size int64, b []byte) error {
	if int64(len(b)) != size {
		return fmt.Errorf("got %d bytes, need %d: %w", len(b), size, ErrWrongSlotSize)
	}
	return nil
}

// Int64Serializer encodes int64 values in 8 bytes.
type Int64Serializer struct {
	Order binary.ByteOrder
}

// NewInt64Serializer returns an int64 serializer with the given byte order.
func NewInt64Serializer(order binary.ByteOrder) Int64Serializer {
	return Int64Serializer{Order: order}
}

func (s Int64Serializer) DataSize() int64 { return 8 }

func (s Int64Serializer) Serialize(value int64, dst []byte) error {
	if err := checkSlot(s.DataSize(), dst); err != nil {
		return err
	}
	binaryutil.PutInt64(dst, s.Order, value)
	return nil
}

func (s Int64Serializer) Deserialize(src []byte) (int64, error) {
	if err := checkSlot(s.DataSize(), src); err != nil {
		return 0, err
	}
	return binaryutil.Int64(src, s.Order), nil
}

// Uint64Serializer encodes uint64 values in 8 bytes.
type Uint64Serializer struct {
	Order binary.ByteOrder
}

// NewUint64Serializer returns a uint64 serializer with the given byte order.
func NewUint64Serializer(order binary.ByteOrder) Uint64Serializer {
	return Uint64Serializer{Order: order}
}

func (s Uint64Serializer) DataSize() int64 { return 8 }

func (s Uint64Serializer) Serialize(value uint64, dst []byte) error {
	if err := checkSlot(s.DataSize(), dst); err != nil {
		return err
	}
	binaryutil.PutUint64(dst, s.Order, value)
	return nil
}

func (s Uint64Serializer) Deserialize(src []byte) (uint64, error) {
	if err := checkSlot(s.DataSize(), src); err != nil {
		return 0, err
	}
	return binaryutil.Uint64(src, s.Order), nil
}

// Int32Serializer encodes int32 values in 4 bytes.
type Int32Serializer struct {
	Order binary.ByteOrder
}

// NewInt32Serializer returns an int32 serializer with the given byte order.
func NewInt32Serializer(order binary.ByteOrder) Int32Serializer {
	return Int32Serializer{Order: order}
}

func (s Int32Serializer) DataSize() int64 { return 4 }

func (s Int32Serializer) Serialize(value int32, dst []byte) error {
	if err := checkSlot(s.DataSize(), dst); err != nil {
		return err
	}
	binaryutil.PutInt32(dst, s.Order, value)
	return nil
}

func (s Int32Serializer) Deserialize(src []byte) (int32, error) {
	if err := checkSlot(s.DataSize(), src); err != nil {
		return 0, err
	}
	return binaryutil.Int32(src, s.Order), nil
}

// Float64Serializer encodes float64 values in 8 bytes.
type Float64Serializer struct {
	Order binary.ByteOrder
}

// NewFloat64Serializer returns a float64 serializer with the given byte
// order.
func NewFloat64Serializer(order binary.ByteOrder) Float64Serializer {
	return Float64Serializer{Order: order}
}

func (s Float64Serializer) DataSize() int64 { return 8 }

func (s Float64Serializer) Serialize(value float64, dst []byte) error {
	if err := checkSlot(s.DataSize(), dst); err != nil {
		return err
	}
	binaryutil.PutFloat64(dst, s.Order, value)
	return nil
}

func (s Float64Serializer) Deserialize(src []byte) (float64, error) {
	if err := checkSlot(s.DataSize(), src); err != nil {
		return 0, err
	}
	return binaryutil.Float64(src, s.Order), nil
}

// BoolSerializer encodes booleans in a single byte.
type BoolSerializer struct{}

func (BoolSerializer) DataSize() int64 { return 1 }

func (BoolSerializer) Serialize(value bool, dst []byte) error {
	if err := checkSlot(1, dst); err != nil {
		return err
	}
	binaryutil.PutBool(dst, value)
	return nil
}

func (BoolSerializer) Deserialize(src []byte) (bool, error) {
	if err := checkSlot(1, src); err != nil {
		return false, err
	}
	return binaryutil.Bool(src), nil
}
