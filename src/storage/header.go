package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// HeaderSize is the fixed on-storage size of the store header.
	HeaderSize = 64

	// MinPageSize is the smallest page size a store may be created with.
	MinPageSize = 16

	// FormatVersion is the current on-storage format version.
	FormatVersion = 1

	// checksumOffset is where the CRC32 over the preceding header fields
	// lives.
	checksumOffset = 44
)

// headerMagic identifies a pagevault store.
var headerMagic = [8]byte{'P', 'V', 'L', 'T', 'P', 'A', 'G', '1'}

// header holds the mutable store-level metadata persisted at offset zero.
// All multi-byte fields are little-endian.
//
// Layout:
//   - 8 bytes magic
//   - 2 bytes format version
//   - 2 bytes flags (reserved)
//   - 8 bytes page size
//   - 8 bytes page capacity
//   - 8 bytes entry page index (-1 when unset)
//   - 8 bytes allocated page count
//   - 4 bytes CRC32 (IEEE) over the preceding 44 bytes
//   - padding up to HeaderSize
type header struct {
	pageSize           int64
	pageCapacity       int64
	entryPageIndex     int64
	allocatedPageCount int64
}

// encode serializes the header, including its checksum.
func (h *header) encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	copy(b[0:8], headerMagic[:])
	binary.LittleEndian.PutUint16(b[8:10], FormatVersion)
	binary.LittleEndian.PutUint16(b[10:12], 0)
	binary.LittleEndian.PutUint64(b[12:20], uint64(h.pageSize))
	binary.LittleEndian.PutUint64(b[20:28], uint64(h.pageCapacity))
	binary.LittleEndian.PutUint64(b[28:36], uint64(h.entryPageIndex))
	binary.LittleEndian.PutUint64(b[36:44], uint64(h.allocatedPageCount))
	binary.LittleEndian.PutUint32(b[checksumOffset:checksumOffset+4], crc32.ChecksumIEEE(b[:checksumOffset]))
	return b
}

// decodeHeader parses and verifies a serialized header. Structural problems
// are reported as ErrCorrupt.
func decodeHeader(b []byte) (header, error) {
	if len(b) < HeaderSize {
		return header{}, fmt.Errorf("header requires %d bytes, got %d: %w", HeaderSize, len(b), ErrCorrupt)
	}
	if !bytes.Equal(b[0:8], headerMagic[:]) {
		return header{}, fmt.Errorf("bad magic signature: %w", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(b[8:10]); v != FormatVersion {
		return header{}, fmt.Errorf("unsupported format version %d: %w", v, ErrCorrupt)
	}
	stored := binary.LittleEndian.Uint32(b[checksumOffset : checksumOffset+4])
	if computed := crc32.ChecksumIEEE(b[:checksumOffset]); stored != computed {
		return header{}, fmt.Errorf("header checksum mismatch (stored %#x, computed %#x): %w", stored, computed, ErrCorrupt)
	}
	h := header{
		pageSize:           int64(binary.LittleEndian.Uint64(b[12:20])),
		pageCapacity:       int64(binary.LittleEndian.Uint64(b[20:28])),
		entryPageIndex:     int64(binary.LittleEndian.Uint64(b[28:36])),
		allocatedPageCount: int64(binary.LittleEndian.Uint64(b[36:44])),
	}
	if h.pageSize < MinPageSize {
		return header{}, fmt.Errorf("page size %d below minimum %d: %w", h.pageSize, MinPageSize, ErrCorrupt)
	}
	if h.pageCapacity < 0 || h.allocatedPageCount < 0 || h.allocatedPageCount > h.pageCapacity {
		return header{}, fmt.Errorf("inconsistent capacity fields (capacity %d, allocated %d): %w", h.pageCapacity, h.allocatedPageCount, ErrCorrupt)
	}
	if h.entryPageIndex < NoPageIndex || h.entryPageIndex >= h.pageCapacity && h.entryPageIndex != NoPageIndex {
		return header{}, fmt.Errorf("entry page index %d outside capacity %d: %w", h.entryPageIndex, h.pageCapacity, ErrCorrupt)
	}
	return h, nil
}

// BitmapSize returns the size of the allocation bitmap for the given page
// capacity.
func BitmapSize(capacity int64) int64 {
	return (capacity + 7) / 8
}

// RequiredMediumSize returns the exact number of bytes a store with the
// given geometry occupies on its medium.
func RequiredMediumSize(pageSize, capacity int64) int64 {
	return HeaderSize + BitmapSize(capacity) + capacity*pageSize
}
