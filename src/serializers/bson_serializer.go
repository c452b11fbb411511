package serializers

import (
	"encoding/binary"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// BSONDocumentSerializer encodes a BSON document into a fixed slot. The
// marshaled document (which carries its own length header) is zero-padded
// to the slot size; documents larger than the slot are rejected. This is
// the codec of choice for schemaless values such as the auxiliary metadata
// applications keep beside their trees.
type BSONDocumentSerializer struct {
	slotSize int64
}

// NewBSONDocumentSerializer builds a serializer whose slots hold marshaled
// documents of up to slotSize bytes. BSON documents are at least 5 bytes.
func NewBSONDocumentSerializer(slotSize int64) (BSONDocumentSerializer, error) {
	if slotSize < 5 {
		return BSONDocumentSerializer{}, fmt.Errorf("slot of %d bytes cannot hold a BSON document: %w", slotSize, ErrValueTooLarge)
	}
	return BSONDocumentSerializer{slotSize: slotSize}, nil
}

func (s BSONDocumentSerializer) DataSize() int64 {
	return s.slotSize
}

func (s BSONDocumentSerializer) Serialize(value bson.M, dst []byte) error {
	if err := checkSlot(s.slotSize, dst); err != nil {
		return err
	}
	if value == nil {
		value = bson.M{}
	}
	encoded, err := bson.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode BSON document: %w", err)
	}
	if int64(len(encoded)) > s.slotSize {
		return fmt.Errorf("document of %d bytes exceeds slot of %d: %w", len(encoded), s.slotSize, ErrValueTooLarge)
	}
	copy(dst, encoded)
	for i := len(encoded); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func (s BSONDocumentSerializer) Deserialize(src []byte) (bson.M, error) {
	if err := checkSlot(s.slotSize, src); err != nil {
		return nil, err
	}
	// BSON documents lead with their own 32-bit length; strip the slot
	// padding before unmarshaling.
	length := int64(binary.LittleEndian.Uint32(src))
	if length < 5 || length > s.slotSize {
		return nil, fmt.Errorf("embedded document length %d outside slot of %d: %w", length, s.slotSize, ErrWrongSlotSize)
	}
	var value bson.M
	if err := bson.Unmarshal(src[:length], &value); err != nil {
		return nil, fmt.Errorf("failed to decode BSON document: %w", err)
	}
	return value, nil
}
