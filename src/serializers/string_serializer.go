package serializers

import (
	"encoding/binary"
	"fmt"

	"pagevault/src/binaryutil"
)

// StringSerializer encodes strings into a fixed slot: a 16-bit length
// prefix, the UTF-8 bytes, and zero padding up to the slot size. Strings
// whose encoding exceeds the configured maximum are rejected.
type StringSerializer struct {
	maxBytes int
	order    binary.ByteOrder
}

// NewStringSerializer builds a serializer whose slots hold strings of up to
// maxBytes UTF-8 bytes.
func NewStringSerializer(maxBytes int, order binary.ByteOrder) (StringSerializer, error) {
	if maxBytes < 0 || maxBytes > binaryutil.MaxShortStringBytes {
		return StringSerializer{}, fmt.Errorf("max string size %d outside [0, %d]: %w",
			maxBytes, binaryutil.MaxShortStringBytes, ErrValueTooLarge)
	}
	return StringSerializer{maxBytes: maxBytes, order: order}, nil
}

func (s StringSerializer) DataSize() int64 {
	return int64(binaryutil.ShortStringPrefixSize + s.maxBytes)
}

func (s StringSerializer) Serialize(value string, dst []byte) error {
	if err := checkSlot(s.DataSize(), dst); err != nil {
		return err
	}
	if len(value) > s.maxBytes {
		return fmt.Errorf("string of %d bytes exceeds slot maximum %d: %w", len(value), s.maxBytes, ErrValueTooLarge)
	}
	n, err := binaryutil.PutShortString(dst, s.order, value)
	if err != nil {
		return err
	}
	// Zero the tail so equal strings serialize identically.
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func (s StringSerializer) Deserialize(src []byte) (string, error) {
	if err := checkSlot(s.DataSize(), src); err != nil {
		return "", err
	}
	value, _, err := binaryutil.ShortString(src, s.order)
	if err != nil {
		return "", err
	}
	return value, nil
}
