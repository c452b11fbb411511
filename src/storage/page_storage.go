// Package storage implements the paged block layer of the engine: the
// region accounting primitives, the byte medium abstraction, and the
// streaming page store that lays a header, an allocation bitmap and a page
// array over a medium.
package storage

import (
	"context"

	"pagevault/src/helpers"
)

// NoPageIndex is the sentinel for "no page".
const NoPageIndex int64 = -1

// PageStorage is the paged block interface. Pages are fixed-size byte
// blocks addressed by non-negative indices; all persistent structures refer
// to each other by page index, never by pointer.
type PageStorage interface {
	// PageSize returns the fixed size of every page.
	PageSize() int64

	// PageCapacity returns the current number of page slots.
	PageCapacity() int64

	// AllocatedPageCount returns the number of allocated pages.
	AllocatedPageCount() int64

	// IsReadOnly reports whether writes are forbidden.
	IsReadOnly() bool

	// IsCapacityFixed reports whether TryInflate and TryDeflate are
	// forbidden.
	IsCapacityFixed() bool

	// TryAllocatePage claims the lowest free page slot. ok is false when
	// every slot is taken; err reports real failures.
	TryAllocatePage() (index int64, ok bool, err error)

	// FreePage releases an allocated page. It reports whether the page
	// was allocated, and fails when index is not on storage.
	FreePage(index int64) (bool, error)

	// IsPageAllocated reports whether index refers to an allocated page.
	// Out-of-range indices simply report false.
	IsPageAllocated(index int64) bool

	// IsPageOnStorage reports whether index is within the capacity.
	IsPageOnStorage(index int64) bool

	// ReadFrom copies length bytes of page starting at srcOffset into
	// dst[dstOffset:].
	ReadFrom(page, srcOffset int64, dst []byte, dstOffset, length int64) error

	// WriteTo copies length bytes of src[srcOffset:] into page starting
	// at dstOffset.
	WriteTo(page, dstOffset int64, src []byte, srcOffset, length int64) error

	// EntryPageIndex returns the store-level entry pointer, or NoPageIndex
	// when unset.
	EntryPageIndex() int64

	// SetEntryPageIndex updates the store-level entry pointer. Pass
	// NoPageIndex to clear it.
	SetEntryPageIndex(index int64) error

	// TryInflate grows the capacity by up to amount pages and returns how
	// many were added.
	TryInflate(ctx context.Context, amount int64, progress helpers.ProgressFunc) (int64, error)

	// TryDeflate shrinks the capacity by up to amount pages from the tail
	// and returns how many were removed. Deflation never passes the
	// highest allocated page.
	TryDeflate(ctx context.Context, amount int64, progress helpers.ProgressFunc) (int64, error)

	// Close releases the store. Implementations make this idempotent.
	Close() error
}
