package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/dsnet/golib/memfile"

	"pagevault/src/helpers"
)

// Medium is the random-access byte handle a page store persists to. It is
// typically a file, but anything seekable, readable and writable works. The
// store owns the medium exclusively while it lives.
type Medium interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
}

// SizeLimiter is an optional Medium capability that caps how large the
// medium may safely grow. TryInflate stops at the cap instead of failing
// outright; Create refuses a layout larger than the cap with
// ErrNotEnoughSpace.
type SizeLimiter interface {
	MaxSize() int64
}

// FileMedium is a Medium backed by an *os.File.
type FileMedium struct {
	file     *os.File
	writable bool
}

// OpenFileMedium opens an existing file as a medium.
func OpenFileMedium(path string, readOnly bool) (*FileMedium, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening data file %s: %w", path, err)
	}
	return &FileMedium{file: file, writable: !readOnly}, nil
}

// CreateFileMedium creates (or truncates) a file to back a new store.
func CreateFileMedium(path string) (*FileMedium, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating data file %s: %w", path, err)
	}
	return &FileMedium{file: file, writable: true}, nil
}

// NewFileMedium wraps an already-open file. The caller remains responsible
// for the file unless the owning store is configured to close it.
func NewFileMedium(file *os.File, writable bool) *FileMedium {
	return &FileMedium{file: file, writable: writable}
}

func (m *FileMedium) ReadAt(p []byte, off int64) (int, error) {
	return m.file.ReadAt(p, off)
}

func (m *FileMedium) WriteAt(p []byte, off int64) (int, error) {
	if !m.writable {
		return 0, fmt.Errorf("medium %s: %w", m.file.Name(), ErrReadOnly)
	}
	return m.file.WriteAt(p, off)
}

// Size returns the current file length.
func (m *FileMedium) Size() (int64, error) {
	info, err := m.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("error getting size of %s: %w", m.file.Name(), err)
	}
	return info.Size(), nil
}

// Truncate resizes the file. Growth goes through the preallocation helper so
// that the new tail is backed by real blocks.
func (m *FileMedium) Truncate(size int64) error {
	if !m.writable {
		return fmt.Errorf("medium %s: %w", m.file.Name(), ErrReadOnly)
	}
	current, err := m.Size()
	if err != nil {
		return err
	}
	if size > current {
		return helpers.PreallocateFile(m.file, current, size-current)
	}
	return m.file.Truncate(size)
}

// Writable reports whether the medium accepts writes.
func (m *FileMedium) Writable() bool {
	return m.writable
}

// Sync flushes file contents to stable storage.
func (m *FileMedium) Sync() error {
	return m.file.Sync()
}

// Close closes the underlying file.
func (m *FileMedium) Close() error {
	return m.file.Close()
}

// MemoryMedium is a Medium backed by an in-memory file, used for ephemeral
// stores and tests.
type MemoryMedium struct {
	file    *memfile.File
	maxSize int64
}

// NewMemoryMedium creates an in-memory medium seeded with initial.
func NewMemoryMedium(initial []byte) *MemoryMedium {
	return &MemoryMedium{file: memfile.New(initial), maxSize: -1}
}

// NewBoundedMemoryMedium creates an in-memory medium that refuses to grow
// beyond maxSize bytes.
func NewBoundedMemoryMedium(initial []byte, maxSize int64) *MemoryMedium {
	return &MemoryMedium{file: memfile.New(initial), maxSize: maxSize}
}

func (m *MemoryMedium) ReadAt(p []byte, off int64) (int, error) {
	return m.file.ReadAt(p, off)
}

func (m *MemoryMedium) WriteAt(p []byte, off int64) (int, error) {
	if m.maxSize >= 0 && off+int64(len(p)) > m.maxSize {
		return 0, fmt.Errorf("write past medium cap of %d bytes: %w", m.maxSize, ErrNotEnoughSpace)
	}
	return m.file.WriteAt(p, off)
}

// Size returns the current length of the in-memory file.
func (m *MemoryMedium) Size() (int64, error) {
	return int64(len(m.file.Bytes())), nil
}

// Truncate resizes the in-memory file.
func (m *MemoryMedium) Truncate(size int64) error {
	if m.maxSize >= 0 && size > m.maxSize {
		return fmt.Errorf("resize to %d past medium cap of %d bytes: %w", size, m.maxSize, ErrNotEnoughSpace)
	}
	return m.file.Truncate(size)
}

// MaxSize implements SizeLimiter. An unbounded medium reports the largest
// int64.
func (m *MemoryMedium) MaxSize() int64 {
	if m.maxSize < 0 {
		return int64(^uint64(0) >> 1)
	}
	return m.maxSize
}

// Bytes exposes the current contents. The slice aliases the medium's
// internal buffer.
func (m *MemoryMedium) Bytes() []byte {
	return m.file.Bytes()
}
