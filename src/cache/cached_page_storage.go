// Package cache provides the bounded LRU page cache that sits between
// clients and a PageStorage. The cache tracks which byte regions of each
// page it holds so partial-page reads and writes are coalesced instead of
// refetched, and supports write-through and write-back policies.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pagevault/src/helpers"
	"pagevault/src/storage"
)

// CacheMode selects the write policy of a CachedPageStorage.
type CacheMode int

const (
	// ReadOnly serves reads through the cache and forbids writes.
	ReadOnly CacheMode = iota

	// WriteThrough propagates every write to the inner store immediately
	// while keeping the written bytes cached.
	WriteThrough

	// WriteBack buffers writes in the cache until Flush, eviction or
	// Close.
	WriteBack
)

func (m CacheMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteThrough:
		return "write-through"
	case WriteBack:
		return "write-back"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CacheStats reports counters about cache effectiveness, in the spirit of a
// buffer pool's hit/miss accounting.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

// cachedPage is a single cache entry: the in-memory copy of a page plus the
// accounting of which byte regions are populated and which are dirty.
type cachedPage struct {
	index int64
	data  []byte

	// cached regions hold bytes coherent with either durable or dirty
	// state; dirty regions hold bytes not yet flushed to the inner store.
	cached *storage.DataRegionSet
	dirty  *storage.DataRegionSet
}

// Options configures NewCachedPageStorage.
type Options struct {
	// Inner is the wrapped page store.
	Inner storage.PageStorage

	// Mode is the write policy.
	Mode CacheMode

	// CachePageCapacity bounds how many pages may be cached at once.
	// Zero makes the wrapper a pure pass-through.
	CachePageCapacity int

	// TakeOwnership makes Close also close the inner store.
	TakeOwnership bool

	Logger *zap.SugaredLogger
}

// CachedPageStorage wraps a PageStorage with a strict-LRU page cache. It is
// logically invisible: any operation sequence observes the same state it
// would against the inner store directly.
type CachedPageStorage struct {
	mu       sync.Mutex
	inner    storage.PageStorage
	mode     CacheMode
	capacity int

	entries map[int64]*list.Element
	lru     *list.List // front is most recently used

	ownsInner   bool
	closed      bool
	simulateOOM bool
	stats       CacheStats
	logger      *zap.SugaredLogger
}

// NewCachedPageStorage wraps inner with an LRU page cache.
func NewCachedPageStorage(opts Options) (*CachedPageStorage, error) {
	if opts.Inner == nil {
		return nil, fmt.Errorf("inner store: %w", storage.ErrNilArgument)
	}
	if opts.CachePageCapacity < 0 {
		return nil, fmt.Errorf("cache capacity %d: %w", opts.CachePageCapacity, storage.ErrOutOfRange)
	}
	if opts.Inner.PageSize() > math.MaxInt32 {
		return nil, fmt.Errorf("page size %d exceeds the addressable buffer limit: %w", opts.Inner.PageSize(), storage.ErrInvalidArgument)
	}
	if opts.Mode != ReadOnly && opts.Inner.IsReadOnly() {
		return nil, fmt.Errorf("%s mode over a read-only store: %w", opts.Mode, storage.ErrInvalidArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CachedPageStorage{
		inner:     opts.Inner,
		mode:      opts.Mode,
		capacity:  opts.CachePageCapacity,
		entries:   make(map[int64]*list.Element),
		lru:       list.New(),
		ownsInner: opts.TakeOwnership,
		logger:    logger,
	}, nil
}

// Mode returns the cache's write policy.
func (c *CachedPageStorage) Mode() CacheMode {
	return c.mode
}

// SetSimulateOutOfMemory forces the cache to behave as if page admission
// always failed, degrading every operation to direct inner-store I/O. This
// is a diagnostic hook; outcomes must not change.
func (c *CachedPageStorage) SetSimulateOutOfMemory(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simulateOOM = enabled
}

// Stats returns a snapshot of the cache counters.
func (c *CachedPageStorage) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// CachedPageIndices returns the indices of the cached pages, most recently
// used first.
func (c *CachedPageStorage) CachedPageIndices() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	indices := make([]int64, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		indices = append(indices, e.Value.(*cachedPage).index)
	}
	return indices
}

// PageSize returns the inner store's page size.
func (c *CachedPageStorage) PageSize() int64 {
	return c.inner.PageSize()
}

// PageCapacity returns the inner store's page capacity.
func (c *CachedPageStorage) PageCapacity() int64 {
	return c.inner.PageCapacity()
}

// AllocatedPageCount returns the inner store's allocation count.
func (c *CachedPageStorage) AllocatedPageCount() int64 {
	return c.inner.AllocatedPageCount()
}

// IsReadOnly reports whether writes are forbidden.
func (c *CachedPageStorage) IsReadOnly() bool {
	return c.mode == ReadOnly || c.inner.IsReadOnly()
}

// IsCapacityFixed reports whether resizing is forbidden.
func (c *CachedPageStorage) IsCapacityFixed() bool {
	return c.inner.IsCapacityFixed() || c.mode == ReadOnly
}

// IsPageOnStorage delegates to the inner store.
func (c *CachedPageStorage) IsPageOnStorage(index int64) bool {
	return c.inner.IsPageOnStorage(index)
}

// IsPageAllocated reports whether index is allocated. A cached page is
// necessarily allocated, so a cache hit answers without touching the inner
// store and counts as an access.
func (c *CachedPageStorage) IsPageAllocated(index int64) bool {
	c.mu.Lock()
	if e, ok := c.entries[index]; ok {
		c.lru.MoveToFront(e)
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	return c.inner.IsPageAllocated(index)
}

// EntryPageIndex returns the inner store's entry pointer. Header metadata
// is never cached.
func (c *CachedPageStorage) EntryPageIndex() int64 {
	return c.inner.EntryPageIndex()
}

// SetEntryPageIndex writes the entry pointer straight through to the inner
// store regardless of mode.
func (c *CachedPageStorage) SetEntryPageIndex(index int64) error {
	return c.inner.SetEntryPageIndex(index)
}

// TryAllocatePage delegates allocation to the inner store.
func (c *CachedPageStorage) TryAllocatePage() (int64, bool, error) {
	if c.mode == ReadOnly {
		return storage.NoPageIndex, false, fmt.Errorf("cannot allocate through a read-only cache: %w", storage.ErrReadOnly)
	}
	return c.inner.TryAllocatePage()
}

// FreePage flushes and evicts any cache entry for the page, then delegates.
func (c *CachedPageStorage) FreePage(index int64) (bool, error) {
	if c.mode == ReadOnly {
		return false, fmt.Errorf("cannot free through a read-only cache: %w", storage.ErrReadOnly)
	}
	c.mu.Lock()
	if e, ok := c.entries[index]; ok {
		if err := c.flushEntryLocked(e.Value.(*cachedPage)); err != nil {
			c.mu.Unlock()
			return false, err
		}
		c.removeLocked(e)
	}
	c.mu.Unlock()
	return c.inner.FreePage(index)
}

// TryInflate delegates to the inner store.
func (c *CachedPageStorage) TryInflate(ctx context.Context, amount int64, progress helpers.ProgressFunc) (int64, error) {
	if c.mode == ReadOnly {
		return 0, fmt.Errorf("cannot inflate through a read-only cache: %w", storage.ErrFixedCapacity)
	}
	return c.inner.TryInflate(ctx, amount, progress)
}

// TryDeflate flushes the cache, then delegates to the inner store.
func (c *CachedPageStorage) TryDeflate(ctx context.Context, amount int64, progress helpers.ProgressFunc) (int64, error) {
	if c.mode == ReadOnly {
		return 0, fmt.Errorf("cannot deflate through a read-only cache: %w", storage.ErrFixedCapacity)
	}
	if err := c.Flush(); err != nil {
		return 0, err
	}
	return c.inner.TryDeflate(ctx, amount, progress)
}

// checkIO validates an I/O argument set against the page geometry without
// touching the inner store.
func (c *CachedPageStorage) checkIO(pageOffset int64, buf []byte, bufOffset, length int64) error {
	if buf == nil {
		return fmt.Errorf("buffer: %w", storage.ErrNilArgument)
	}
	if pageOffset < 0 || bufOffset < 0 || length < 0 {
		return fmt.Errorf("negative offset or length: %w", storage.ErrOutOfRange)
	}
	if pageOffset+length > c.inner.PageSize() {
		return fmt.Errorf("range [%d, %d) exceeds page size %d: %w", pageOffset, pageOffset+length, c.inner.PageSize(), storage.ErrOutOfRange)
	}
	if bufOffset+length > int64(len(buf)) {
		return fmt.Errorf("range [%d, %d) exceeds buffer size %d: %w", bufOffset, bufOffset+length, len(buf), storage.ErrOutOfRange)
	}
	return nil
}

// entryLocked returns the cache entry for the page and promotes it.
func (c *CachedPageStorage) entryLocked(index int64) *cachedPage {
	e, ok := c.entries[index]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(e)
	return e.Value.(*cachedPage)
}

// admitLocked makes room for and inserts a fresh entry for the page at the
// MRU position. It returns nil when the cache cannot take the page (zero
// capacity or simulated allocation failure), in which case the caller
// degrades to direct inner I/O.
func (c *CachedPageStorage) admitLocked(index int64) (*cachedPage, error) {
	if c.capacity == 0 || c.simulateOOM {
		return nil, nil
	}
	for len(c.entries) >= c.capacity {
		victim := c.lru.Back()
		page := victim.Value.(*cachedPage)
		if err := c.flushEntryLocked(page); err != nil {
			return nil, err
		}
		c.removeLocked(victim)
		c.stats.Evictions++
		c.logger.Debugf("Evicted page %d from cache", page.index)
	}
	page := &cachedPage{
		index:  index,
		data:   make([]byte, c.inner.PageSize()),
		cached: storage.NewDataRegionSet(),
		dirty:  storage.NewDataRegionSet(),
	}
	c.entries[index] = c.lru.PushFront(page)
	return page, nil
}

// removeLocked drops an entry from the cache structures.
func (c *CachedPageStorage) removeLocked(e *list.Element) {
	delete(c.entries, e.Value.(*cachedPage).index)
	c.lru.Remove(e)
}

// flushEntryLocked writes the entry's dirty regions to the inner store, one
// write per region, and clears the dirty set.
func (c *CachedPageStorage) flushEntryLocked(page *cachedPage) error {
	if page.dirty.Count() == 0 {
		return nil
	}
	regions := make([]storage.DataRegion, 0, page.dirty.Count())
	if err := page.dirty.ForEach(func(r storage.DataRegion) bool {
		regions = append(regions, r)
		return true
	}); err != nil {
		return err
	}
	for _, r := range regions {
		if err := c.inner.WriteTo(page.index, r.First, page.data, r.First, r.Length()); err != nil {
			return fmt.Errorf("failed to flush page %d region %v: %w", page.index, r, err)
		}
	}
	page.dirty = storage.NewDataRegionSet()
	c.stats.Flushes++
	return nil
}

// ReadFrom serves the requested region from the cache, fetching only the
// missing subregions from the inner store.
func (c *CachedPageStorage) ReadFrom(page, srcOffset int64, dst []byte, dstOffset, length int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrClosed
	}
	if err := c.checkIO(srcOffset, dst, dstOffset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	request := storage.DataRegion{First: srcOffset, Last: srcOffset + length - 1}

	entry := c.entryLocked(page)
	if entry == nil {
		if !c.inner.IsPageAllocated(page) {
			return fmt.Errorf("page %d: %w", page, storage.ErrPageNotAllocated)
		}
		admitted, err := c.admitLocked(page)
		if err != nil {
			return err
		}
		if admitted == nil {
			// Degraded: the cache cannot take the page; semantics are
			// identical through direct I/O.
			c.stats.Misses++
			return c.inner.ReadFrom(page, srcOffset, dst, dstOffset, length)
		}
		entry = admitted
	}

	missing := entry.cached.MissingRegions(request)
	if len(missing) == 0 {
		c.stats.Hits++
	} else {
		c.stats.Misses++
		for _, r := range missing {
			if err := c.inner.ReadFrom(page, r.First, entry.data, r.First, r.Length()); err != nil {
				return err
			}
			entry.cached.Add(r)
		}
	}
	copy(dst[dstOffset:dstOffset+length], entry.data[srcOffset:srcOffset+length])
	return nil
}

// WriteTo applies the write according to the cache mode: write-through
// updates the inner store immediately and keeps the bytes cached clean;
// write-back buffers the bytes as dirty until flush or eviction.
func (c *CachedPageStorage) WriteTo(page, dstOffset int64, src []byte, srcOffset, length int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrClosed
	}
	if c.mode == ReadOnly {
		return fmt.Errorf("cannot write page %d: %w", page, storage.ErrReadOnly)
	}
	if err := c.checkIO(dstOffset, src, srcOffset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	written := storage.DataRegion{First: dstOffset, Last: dstOffset + length - 1}

	if c.mode == WriteThrough {
		if err := c.inner.WriteTo(page, dstOffset, src, srcOffset, length); err != nil {
			return err
		}
		entry := c.entryLocked(page)
		if entry == nil {
			admitted, err := c.admitLocked(page)
			if err != nil || admitted == nil {
				return err
			}
			entry = admitted
		}
		copy(entry.data[dstOffset:dstOffset+length], src[srcOffset:srcOffset+length])
		entry.cached.Add(written)
		return nil
	}

	// Write-back.
	entry := c.entryLocked(page)
	if entry == nil {
		if !c.inner.IsPageAllocated(page) {
			return fmt.Errorf("page %d: %w", page, storage.ErrPageNotAllocated)
		}
		admitted, err := c.admitLocked(page)
		if err != nil {
			return err
		}
		if admitted == nil {
			return c.inner.WriteTo(page, dstOffset, src, srcOffset, length)
		}
		entry = admitted
	}
	copy(entry.data[dstOffset:dstOffset+length], src[srcOffset:srcOffset+length])
	entry.cached.Add(written)
	entry.dirty.Add(written)
	return nil
}

// Flush writes every dirty region to the inner store, most recently used
// pages first. Cached contents stay cached.
func (c *CachedPageStorage) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushAllLocked()
}

func (c *CachedPageStorage) flushAllLocked() error {
	var errs error
	for e := c.lru.Front(); e != nil; e = e.Next() {
		if err := c.flushEntryLocked(e.Value.(*cachedPage)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// EvictPageFromCache flushes and drops the entry for the page, reporting
// whether an entry existed.
func (c *CachedPageStorage) EvictPageFromCache(page int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[page]
	if !ok {
		return false, nil
	}
	if err := c.flushEntryLocked(e.Value.(*cachedPage)); err != nil {
		return false, err
	}
	c.removeLocked(e)
	c.stats.Evictions++
	return true, nil
}

// Close flushes all dirty pages and, when the cache owns it, closes the
// inner store. Closing twice is a no-op.
func (c *CachedPageStorage) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	err := c.flushAllLocked()
	c.closed = true
	c.entries = make(map[int64]*list.Element)
	c.lru.Init()
	if c.ownsInner {
		err = multierr.Append(err, c.inner.Close())
	}
	return err
}
