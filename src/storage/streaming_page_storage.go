package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"pagevault/src/helpers"
)

// DefaultGrowthIncrement is the number of bytes Create grows the medium by
// per chunk when the caller does not specify an increment.
const DefaultGrowthIncrement = 1 << 20

// CreateOptions configures CreateStreamingPageStorage.
type CreateOptions struct {
	// Medium is the byte medium the store will own.
	Medium Medium

	// PageSize is the fixed page size; at least MinPageSize.
	PageSize int64

	// InitialCapacity is the number of page slots to lay out.
	InitialCapacity int64

	// GrowthIncrement is the chunk size, in bytes, used while extending
	// the medium. Zero selects DefaultGrowthIncrement.
	GrowthIncrement int64

	// LeaveOpen keeps the medium open when the store is closed.
	LeaveOpen bool

	// Progress receives (bytesGrown, bytesTotal) at each chunk boundary.
	Progress helpers.ProgressFunc

	Logger *zap.SugaredLogger
}

// FixedCreateOptions configures CreateFixedStreamingPageStorage.
type FixedCreateOptions struct {
	Medium    Medium
	PageSize  int64
	LeaveOpen bool
	Progress  helpers.ProgressFunc
	Logger    *zap.SugaredLogger
}

// LoadOptions configures LoadStreamingPageStorage.
type LoadOptions struct {
	Medium Medium

	// ReadOnly forbids every mutation.
	ReadOnly bool

	// FixedCapacity forbids TryInflate/TryDeflate. A writable load must
	// be fixed-capacity.
	FixedCapacity bool

	LeaveOpen bool
	Logger    *zap.SugaredLogger
}

// writabler is implemented by media that can report being read-only.
type writabler interface {
	Writable() bool
}

// StreamingPageStorage is a PageStorage persisted on a Medium: a header at
// offset zero, an allocation bitmap, then the page array. It is the durable
// end of the stack; CachedPageStorage layers the in-memory cache on top.
type StreamingPageStorage struct {
	mu            sync.RWMutex
	medium        Medium
	header        header
	bitmap        []byte
	readOnly      bool
	fixedCapacity bool
	leaveOpen     bool
	closed        bool
	storeID       string
	logger        *zap.SugaredLogger
}

// CreateStreamingPageStorage initializes a new store on the medium. The
// medium is grown in GrowthIncrement chunks with progress reports and
// cancellation checks at each chunk boundary. A cancelled create never
// leaves a valid-looking header behind.
func CreateStreamingPageStorage(ctx context.Context, opts CreateOptions) (*StreamingPageStorage, error) {
	if opts.Medium == nil {
		return nil, fmt.Errorf("medium: %w", ErrNilArgument)
	}
	if opts.PageSize < MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d: %w", opts.PageSize, MinPageSize, ErrInvalidArgument)
	}
	if opts.InitialCapacity < 0 {
		return nil, fmt.Errorf("initial capacity %d: %w", opts.InitialCapacity, ErrOutOfRange)
	}
	if w, ok := opts.Medium.(writabler); ok && !w.Writable() {
		return nil, fmt.Errorf("cannot create a store on a read-only medium: %w", ErrInvalidArgument)
	}
	increment := opts.GrowthIncrement
	if increment <= 0 {
		increment = DefaultGrowthIncrement
	}

	required := RequiredMediumSize(opts.PageSize, opts.InitialCapacity)
	if limiter, ok := opts.Medium.(SizeLimiter); ok && required > limiter.MaxSize() {
		return nil, fmt.Errorf("store of %d bytes exceeds medium cap of %d: %w", required, limiter.MaxSize(), ErrNotEnoughSpace)
	}

	s := &StreamingPageStorage{
		medium: opts.Medium,
		header: header{
			pageSize:       opts.PageSize,
			pageCapacity:   opts.InitialCapacity,
			entryPageIndex: NoPageIndex,
		},
		leaveOpen: opts.LeaveOpen,
		storeID:   helpers.GenerateUUID(),
		logger:    ensureLogger(opts.Logger),
	}

	// Step 1: invalidate any stale header so a cancelled create cannot be
	// mistaken for a valid store.
	current, err := opts.Medium.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size medium: %w", err)
	}
	if current > 0 {
		zeros := make([]byte, min(int64(HeaderSize), current))
		if _, err := opts.Medium.WriteAt(zeros, 0); err != nil {
			return nil, fmt.Errorf("failed to invalidate old header: %w", err)
		}
	}

	// Step 2: grow the medium chunk by chunk.
	if current < required {
		total := required - current
		for size := current; size < required; {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("create cancelled after growing to %d of %d bytes: %w", size, required, err)
			}
			size = min(size+increment, required)
			if err := opts.Medium.Truncate(size); err != nil {
				return nil, fmt.Errorf("failed to grow medium to %d bytes: %w", size, err)
			}
			helpers.Report(opts.Progress, size-(required-total), total)
		}
	} else if current > required {
		if err := opts.Medium.Truncate(required); err != nil {
			return nil, fmt.Errorf("failed to trim medium to %d bytes: %w", required, err)
		}
	}

	// Step 3: clear the allocation bitmap.
	s.bitmap = make([]byte, BitmapSize(opts.InitialCapacity))
	if len(s.bitmap) > 0 {
		if _, err := opts.Medium.WriteAt(s.bitmap, HeaderSize); err != nil {
			return nil, fmt.Errorf("failed to clear allocation bitmap: %w", err)
		}
	}

	// Step 4: the header is written last, once everything it describes
	// exists.
	if err := s.writeHeader(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Created page store %s (pageSize=%d, capacity=%d)", s.storeID, opts.PageSize, opts.InitialCapacity)
	return s, nil
}

// CreateFixedStreamingPageStorage initializes a store whose capacity is
// derived from the medium's existing length and never changes.
func CreateFixedStreamingPageStorage(ctx context.Context, opts FixedCreateOptions) (*StreamingPageStorage, error) {
	if opts.Medium == nil {
		return nil, fmt.Errorf("medium: %w", ErrNilArgument)
	}
	if opts.PageSize < MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d: %w", opts.PageSize, MinPageSize, ErrInvalidArgument)
	}
	size, err := opts.Medium.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size medium: %w", err)
	}
	if size < HeaderSize {
		return nil, fmt.Errorf("medium of %d bytes cannot hold the %d byte header: %w", size, HeaderSize, ErrInvalidArgument)
	}

	// The largest capacity whose layout fits the existing length. The
	// medium itself is never resized.
	capacity := (size - HeaderSize) * 8 / (opts.PageSize*8 + 1)
	for capacity > 0 && RequiredMediumSize(opts.PageSize, capacity) > size {
		capacity--
	}

	s := &StreamingPageStorage{
		medium: opts.Medium,
		header: header{
			pageSize:       opts.PageSize,
			pageCapacity:   capacity,
			entryPageIndex: NoPageIndex,
		},
		fixedCapacity: true,
		leaveOpen:     opts.LeaveOpen,
		storeID:       helpers.GenerateUUID(),
		logger:        ensureLogger(opts.Logger),
	}

	// Clear the bitmap, then commit the header last.
	s.bitmap = make([]byte, BitmapSize(capacity))
	if len(s.bitmap) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("create cancelled: %w", err)
		}
		if _, err := opts.Medium.WriteAt(s.bitmap, HeaderSize); err != nil {
			return nil, fmt.Errorf("failed to clear allocation bitmap: %w", err)
		}
	}
	if err := s.writeHeader(); err != nil {
		return nil, err
	}
	helpers.Report(opts.Progress, capacity, capacity)

	s.logger.Debugf("Created fixed page store %s (pageSize=%d, capacity=%d)", s.storeID, opts.PageSize, capacity)
	return s, nil
}

// LoadStreamingPageStorage binds to an existing store. Writable loads must
// be fixed-capacity; read-only media only accept read-only loads.
func LoadStreamingPageStorage(opts LoadOptions) (*StreamingPageStorage, error) {
	if opts.Medium == nil {
		return nil, fmt.Errorf("medium: %w", ErrNilArgument)
	}
	if !opts.ReadOnly && !opts.FixedCapacity {
		return nil, fmt.Errorf("writable loads require a fixed capacity: %w", ErrInvalidArgument)
	}
	if w, ok := opts.Medium.(writabler); ok && !w.Writable() && !opts.ReadOnly {
		return nil, fmt.Errorf("cannot load a read-only medium for writing: %w", ErrReadOnly)
	}

	var headerBytes [HeaderSize]byte
	if _, err := opts.Medium.ReadAt(headerBytes[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h, err := decodeHeader(headerBytes[:])
	if err != nil {
		return nil, err
	}

	size, err := opts.Medium.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size medium: %w", err)
	}
	if required := RequiredMediumSize(h.pageSize, h.pageCapacity); size < required {
		return nil, fmt.Errorf("medium holds %d bytes but the header requires %d: %w", size, required, ErrCorrupt)
	}

	bitmap := make([]byte, BitmapSize(h.pageCapacity))
	if len(bitmap) > 0 {
		if _, err := opts.Medium.ReadAt(bitmap, HeaderSize); err != nil {
			return nil, fmt.Errorf("failed to read allocation bitmap: %w", err)
		}
	}

	s := &StreamingPageStorage{
		medium:        opts.Medium,
		header:        h,
		bitmap:        bitmap,
		readOnly:      opts.ReadOnly,
		fixedCapacity: opts.FixedCapacity || opts.ReadOnly,
		leaveOpen:     opts.LeaveOpen,
		storeID:       helpers.GenerateUUID(),
		logger:        ensureLogger(opts.Logger),
	}
	s.logger.Debugf("Loaded page store %s (pageSize=%d, capacity=%d, allocated=%d)",
		s.storeID, h.pageSize, h.pageCapacity, h.allocatedPageCount)
	return s, nil
}

func ensureLogger(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}

// writeHeader persists the current header. The caller holds the lock.
func (s *StreamingPageStorage) writeHeader() error {
	encoded := s.header.encode()
	if _, err := s.medium.WriteAt(encoded[:], 0); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// writeBitmapByte persists the bitmap byte covering the given page index.
// The caller holds the lock.
func (s *StreamingPageStorage) writeBitmapByte(pageIndex int64) error {
	byteIndex := pageIndex / 8
	if _, err := s.medium.WriteAt(s.bitmap[byteIndex:byteIndex+1], HeaderSize+byteIndex); err != nil {
		return fmt.Errorf("failed to write bitmap byte %d: %w", byteIndex, err)
	}
	return nil
}

// pageOffset returns the medium offset of the given page under the given
// capacity.
func (s *StreamingPageStorage) pageOffset(pageIndex, capacity int64) int64 {
	return HeaderSize + BitmapSize(capacity) + pageIndex*s.header.pageSize
}

// PageSize returns the fixed page size.
func (s *StreamingPageStorage) PageSize() int64 {
	return s.header.pageSize
}

// PageCapacity returns the current number of page slots.
func (s *StreamingPageStorage) PageCapacity() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.pageCapacity
}

// AllocatedPageCount returns the number of allocated pages.
func (s *StreamingPageStorage) AllocatedPageCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.allocatedPageCount
}

// IsReadOnly reports whether the store was loaded read-only.
func (s *StreamingPageStorage) IsReadOnly() bool {
	return s.readOnly
}

// IsCapacityFixed reports whether resizing is forbidden.
func (s *StreamingPageStorage) IsCapacityFixed() bool {
	return s.fixedCapacity
}

// StoreID returns the handle's log identifier.
func (s *StreamingPageStorage) StoreID() string {
	return s.storeID
}

// IsPageOnStorage reports whether index is within the current capacity.
func (s *StreamingPageStorage) IsPageOnStorage(index int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return index >= 0 && index < s.header.pageCapacity
}

// IsPageAllocated reports whether index refers to an allocated page.
func (s *StreamingPageStorage) IsPageAllocated(index int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAllocatedLocked(index)
}

func (s *StreamingPageStorage) isAllocatedLocked(index int64) bool {
	if index < 0 || index >= s.header.pageCapacity {
		return false
	}
	return s.bitmap[index/8]&(1<<uint(index%8)) != 0
}

// TryAllocatePage claims the lowest free slot and persists the allocation.
func (s *StreamingPageStorage) TryAllocatePage() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NoPageIndex, false, ErrClosed
	}
	if s.readOnly {
		return NoPageIndex, false, fmt.Errorf("cannot allocate: %w", ErrReadOnly)
	}
	if s.header.allocatedPageCount >= s.header.pageCapacity {
		return NoPageIndex, false, nil
	}

	// Scan bytes first so full bytes are skipped cheaply.
	for byteIndex := int64(0); byteIndex < int64(len(s.bitmap)); byteIndex++ {
		if s.bitmap[byteIndex] == 0xFF {
			continue
		}
		for bit := int64(0); bit < 8; bit++ {
			index := byteIndex*8 + bit
			if index >= s.header.pageCapacity {
				break
			}
			if s.bitmap[byteIndex]&(1<<uint(bit)) == 0 {
				s.bitmap[byteIndex] |= 1 << uint(bit)
				s.header.allocatedPageCount++
				if err := s.writeBitmapByte(index); err != nil {
					return NoPageIndex, false, err
				}
				if err := s.writeHeader(); err != nil {
					return NoPageIndex, false, err
				}
				return index, true, nil
			}
		}
	}
	return NoPageIndex, false, nil
}

// FreePage clears the allocation bit for index. Freeing an already-free
// page is a no-op that reports false.
func (s *StreamingPageStorage) FreePage(index int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if s.readOnly {
		return false, fmt.Errorf("cannot free page %d: %w", index, ErrReadOnly)
	}
	if index < 0 || index >= s.header.pageCapacity {
		return false, fmt.Errorf("page %d outside capacity %d: %w", index, s.header.pageCapacity, ErrOutOfRange)
	}
	mask := byte(1 << uint(index%8))
	if s.bitmap[index/8]&mask == 0 {
		return false, nil
	}
	s.bitmap[index/8] &^= mask
	s.header.allocatedPageCount--
	if err := s.writeBitmapByte(index); err != nil {
		return false, err
	}
	if err := s.writeHeader(); err != nil {
		return false, err
	}
	return true, nil
}

// checkPageIO validates the argument set shared by ReadFrom and WriteTo.
// The caller holds the lock.
func (s *StreamingPageStorage) checkPageIO(page, pageOffset int64, buf []byte, bufOffset, length int64) error {
	if buf == nil {
		return fmt.Errorf("buffer: %w", ErrNilArgument)
	}
	if pageOffset < 0 || bufOffset < 0 || length < 0 {
		return fmt.Errorf("negative offset or length: %w", ErrOutOfRange)
	}
	if pageOffset+length > s.header.pageSize {
		return fmt.Errorf("range [%d, %d) exceeds page size %d: %w", pageOffset, pageOffset+length, s.header.pageSize, ErrOutOfRange)
	}
	if bufOffset+length > int64(len(buf)) {
		return fmt.Errorf("range [%d, %d) exceeds buffer size %d: %w", bufOffset, bufOffset+length, len(buf), ErrOutOfRange)
	}
	if page < 0 || page >= s.header.pageCapacity {
		return fmt.Errorf("page %d outside capacity %d: %w", page, s.header.pageCapacity, ErrOutOfRange)
	}
	if !s.isAllocatedLocked(page) {
		return fmt.Errorf("page %d: %w", page, ErrPageNotAllocated)
	}
	return nil
}

// ReadFrom copies length bytes of the page starting at srcOffset into
// dst[dstOffset:].
func (s *StreamingPageStorage) ReadFrom(page, srcOffset int64, dst []byte, dstOffset, length int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.checkPageIO(page, srcOffset, dst, dstOffset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	offset := s.pageOffset(page, s.header.pageCapacity) + srcOffset
	if _, err := s.medium.ReadAt(dst[dstOffset:dstOffset+length], offset); err != nil {
		return fmt.Errorf("failed to read %d bytes of page %d: %w", length, page, err)
	}
	return nil
}

// WriteTo copies length bytes of src[srcOffset:] into the page starting at
// dstOffset.
func (s *StreamingPageStorage) WriteTo(page, dstOffset int64, src []byte, srcOffset, length int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return fmt.Errorf("cannot write page %d: %w", page, ErrReadOnly)
	}
	if err := s.checkPageIO(page, dstOffset, src, srcOffset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	offset := s.pageOffset(page, s.header.pageCapacity) + dstOffset
	if _, err := s.medium.WriteAt(src[srcOffset:srcOffset+length], offset); err != nil {
		return fmt.Errorf("failed to write %d bytes of page %d: %w", length, page, err)
	}
	return nil
}

// EntryPageIndex returns the header's entry page pointer, or NoPageIndex.
func (s *StreamingPageStorage) EntryPageIndex() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.entryPageIndex
}

// SetEntryPageIndex updates the header's entry page pointer.
func (s *StreamingPageStorage) SetEntryPageIndex(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return fmt.Errorf("cannot set entry page: %w", ErrReadOnly)
	}
	if index < NoPageIndex {
		return fmt.Errorf("entry page index %d: %w", index, ErrOutOfRange)
	}
	s.header.entryPageIndex = index
	return s.writeHeader()
}

// shiftPages moves the page array between the layouts of two capacities
// whose bitmaps differ in size. count pages are moved one at a time; when
// growing the move runs from the last page down so pages are never
// overwritten before they are copied, and when shrinking from the first
// page up.
func (s *StreamingPageStorage) shiftPages(count, fromCapacity, toCapacity int64) error {
	if BitmapSize(fromCapacity) == BitmapSize(toCapacity) || count == 0 {
		return nil
	}
	buf := make([]byte, s.header.pageSize)
	grow := BitmapSize(toCapacity) > BitmapSize(fromCapacity)
	for n := int64(0); n < count; n++ {
		i := n
		if grow {
			i = count - 1 - n
		}
		if _, err := s.medium.ReadAt(buf, s.pageOffset(i, fromCapacity)); err != nil {
			return fmt.Errorf("failed to read page %d while resizing: %w", i, err)
		}
		if _, err := s.medium.WriteAt(buf, s.pageOffset(i, toCapacity)); err != nil {
			return fmt.Errorf("failed to move page %d while resizing: %w", i, err)
		}
	}
	return nil
}

// TryInflate grows the capacity by up to amount pages, one page per step.
// The medium refusing to grow caps the result at the pages already added;
// cancellation returns the completed prefix with the context error.
func (s *StreamingPageStorage) TryInflate(ctx context.Context, amount int64, progress helpers.ProgressFunc) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.readOnly {
		return 0, fmt.Errorf("cannot inflate: %w", ErrReadOnly)
	}
	if s.fixedCapacity {
		return 0, fmt.Errorf("cannot inflate: %w", ErrFixedCapacity)
	}
	if amount < 0 {
		return 0, fmt.Errorf("inflate amount %d: %w", amount, ErrOutOfRange)
	}

	var added int64
	for added < amount {
		if err := ctx.Err(); err != nil {
			return added, fmt.Errorf("inflate cancelled after %d of %d pages: %w", added, amount, err)
		}
		oldCapacity := s.header.pageCapacity
		newCapacity := oldCapacity + 1
		required := RequiredMediumSize(s.header.pageSize, newCapacity)

		if limiter, ok := s.medium.(SizeLimiter); ok && required > limiter.MaxSize() {
			s.logger.Debugf("Inflate capped at %d pages by medium size limit", added)
			break
		}
		if err := s.medium.Truncate(required); err != nil {
			// Graceful cap: the store keeps the highest size that
			// succeeded.
			s.logger.Warnf("Inflate stopped after %d pages: medium refused %d bytes: %v", added, required, err)
			break
		}

		// A bitmap byte boundary moves the whole page array one byte to
		// the right before the new byte is cleared.
		if err := s.shiftPages(oldCapacity, oldCapacity, newCapacity); err != nil {
			return added, err
		}
		if BitmapSize(newCapacity) > BitmapSize(oldCapacity) {
			s.bitmap = append(s.bitmap, 0)
			if _, err := s.medium.WriteAt([]byte{0}, HeaderSize+BitmapSize(newCapacity)-1); err != nil {
				return added, fmt.Errorf("failed to clear new bitmap byte: %w", err)
			}
		}

		s.header.pageCapacity = newCapacity
		if err := s.writeHeader(); err != nil {
			return added, err
		}
		added++
		helpers.Report(progress, added, amount)
	}
	return added, nil
}

// TryDeflate removes up to amount pages from the tail, stopping before the
// highest allocated page. The shrunk header is committed before the medium
// is truncated so a crash mid-shrink leaves a valid, merely oversized,
// store.
func (s *StreamingPageStorage) TryDeflate(ctx context.Context, amount int64, progress helpers.ProgressFunc) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.readOnly {
		return 0, fmt.Errorf("cannot deflate: %w", ErrReadOnly)
	}
	if s.fixedCapacity {
		return 0, fmt.Errorf("cannot deflate: %w", ErrFixedCapacity)
	}
	if amount < 0 {
		return 0, fmt.Errorf("deflate amount %d: %w", amount, ErrOutOfRange)
	}

	var removed int64
	for removed < amount {
		if err := ctx.Err(); err != nil {
			return removed, fmt.Errorf("deflate cancelled after %d of %d pages: %w", removed, amount, err)
		}
		oldCapacity := s.header.pageCapacity
		if oldCapacity == 0 {
			break
		}
		if s.isAllocatedLocked(oldCapacity - 1) {
			// Never deflate past a live page.
			break
		}
		newCapacity := oldCapacity - 1

		if err := s.shiftPages(newCapacity, oldCapacity, newCapacity); err != nil {
			return removed, err
		}
		s.bitmap = s.bitmap[:BitmapSize(newCapacity)]
		s.header.pageCapacity = newCapacity
		if err := s.writeHeader(); err != nil {
			return removed, err
		}
		if err := s.medium.Truncate(RequiredMediumSize(s.header.pageSize, newCapacity)); err != nil {
			// The header already describes the smaller store; the
			// oversized medium is harmless.
			s.logger.Warnf("Deflate could not trim the medium: %v", err)
			removed++
			helpers.Report(progress, removed, amount)
			break
		}
		removed++
		helpers.Report(progress, removed, amount)
	}
	return removed, nil
}

// Validate re-reads the persisted header and bitmap and checks them against
// the in-memory state. It returns false without error when cancelled, and
// ErrCorrupt when the persisted state is inconsistent.
func (s *StreamingPageStorage) Validate(ctx context.Context, progress helpers.ProgressFunc) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}

	var headerBytes [HeaderSize]byte
	if _, err := s.medium.ReadAt(headerBytes[:], 0); err != nil {
		return false, fmt.Errorf("failed to read header: %w", err)
	}
	h, err := decodeHeader(headerBytes[:])
	if err != nil {
		return false, err
	}
	if h != s.header {
		return false, fmt.Errorf("persisted header diverges from live state: %w", ErrCorrupt)
	}

	size, err := s.medium.Size()
	if err != nil {
		return false, fmt.Errorf("failed to size medium: %w", err)
	}
	if required := RequiredMediumSize(h.pageSize, h.pageCapacity); size < required {
		return false, fmt.Errorf("medium holds %d bytes but the header requires %d: %w", size, required, ErrCorrupt)
	}

	bitmap := make([]byte, BitmapSize(h.pageCapacity))
	if len(bitmap) > 0 {
		if _, err := s.medium.ReadAt(bitmap, HeaderSize); err != nil {
			return false, fmt.Errorf("failed to read allocation bitmap: %w", err)
		}
	}

	var allocated int64
	for i := int64(0); i < h.pageCapacity; i++ {
		if err := ctx.Err(); err != nil {
			return false, nil
		}
		persisted := bitmap[i/8]&(1<<uint(i%8)) != 0
		if persisted != s.isAllocatedLocked(i) {
			return false, fmt.Errorf("allocation bit for page %d diverges: %w", i, ErrCorrupt)
		}
		if persisted {
			allocated++
		}
		helpers.Report(progress, i+1, h.pageCapacity)
	}
	if allocated != h.allocatedPageCount {
		return false, fmt.Errorf("bitmap holds %d allocations but the header says %d: %w", allocated, h.allocatedPageCount, ErrCorrupt)
	}
	return true, nil
}

// Close releases the store, closing the medium unless LeaveOpen was set.
// Closing twice is a no-op.
func (s *StreamingPageStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.leaveOpen {
		return nil
	}
	if closer, ok := s.medium.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close medium: %w", err)
		}
	}
	return nil
}
