package btree

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pagevault/src/cache"
	"pagevault/src/serializers"
	"pagevault/src/storage"
)

// DictionaryOptions configures CreateStorageDictionary and
// LoadStorageDictionary.
type DictionaryOptions[K any, V any] struct {
	// Store is the block store the dictionary persists to. Its entry page
	// pointer locates the dictionary's handle.
	Store storage.PageStorage

	KeySerializer   serializers.Serializer[K]
	ValueSerializer serializers.Serializer[V]
	Compare         serializers.KeyComparer[K]

	// CachePageCapacity, when positive, interposes a per-dictionary page
	// cache between the tree and the store.
	CachePageCapacity int

	// CacheMode selects the cache's write policy; ignored without a
	// cache. The zero value picks write-through for writable stores and
	// read-only otherwise.
	CacheMode cache.CacheMode

	// TakeStoreOwnership makes Close also close the store.
	TakeStoreOwnership bool

	MaxMovePairCount int64
	Logger           *zap.SugaredLogger
}

// StorageDictionary is the dictionary façade over a B-tree whose handle
// page is recorded as the store's entry page.
type StorageDictionary[K any, V any] struct {
	tree      *BTree[K, V]
	store     storage.PageStorage
	cached    *cache.CachedPageStorage
	ownsStore bool
	closed    bool
	logger    *zap.SugaredLogger
}

func dictionaryStore[K any, V any](opts DictionaryOptions[K, V]) (storage.PageStorage, *cache.CachedPageStorage, error) {
	if opts.Store == nil {
		return nil, nil, fmt.Errorf("store: %w", storage.ErrNilArgument)
	}
	if opts.CachePageCapacity <= 0 {
		return opts.Store, nil, nil
	}
	mode := opts.CacheMode
	if mode == cache.ReadOnly && !opts.Store.IsReadOnly() {
		mode = cache.WriteThrough
	}
	if opts.Store.IsReadOnly() {
		mode = cache.ReadOnly
	}
	cached, err := cache.NewCachedPageStorage(cache.Options{
		Inner:             opts.Store,
		Mode:              mode,
		CachePageCapacity: opts.CachePageCapacity,
		TakeOwnership:     opts.TakeStoreOwnership,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return cached, cached, nil
}

func dictionaryLogger(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}

// CreateStorageDictionary allocates and initializes a dictionary on the
// store, recording its handle page as the store's entry page.
func CreateStorageDictionary[K any, V any](opts DictionaryOptions[K, V]) (*StorageDictionary[K, V], error) {
	backing, cached, err := dictionaryStore(opts)
	if err != nil {
		return nil, err
	}
	tree, err := CreateBTree(Options[K, V]{
		Store:            backing,
		KeySerializer:    opts.KeySerializer,
		ValueSerializer:  opts.ValueSerializer,
		Compare:          opts.Compare,
		MaxMovePairCount: opts.MaxMovePairCount,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := backing.SetEntryPageIndex(tree.HandlePageIndex()); err != nil {
		return nil, fmt.Errorf("failed to record the dictionary handle: %w", err)
	}
	return &StorageDictionary[K, V]{
		tree:      tree,
		store:     backing,
		cached:    cached,
		ownsStore: opts.TakeStoreOwnership,
		logger:    dictionaryLogger(opts.Logger),
	}, nil
}

// LoadStorageDictionary binds to the dictionary the store's entry page
// points at.
func LoadStorageDictionary[K any, V any](opts DictionaryOptions[K, V]) (*StorageDictionary[K, V], error) {
	backing, cached, err := dictionaryStore(opts)
	if err != nil {
		return nil, err
	}
	entry := backing.EntryPageIndex()
	if entry == storage.NoPageIndex {
		return nil, fmt.Errorf("store has no entry page: %w", storage.ErrInvalidArgument)
	}
	tree, err := LoadBTree(Options[K, V]{
		Store:            backing,
		KeySerializer:    opts.KeySerializer,
		ValueSerializer:  opts.ValueSerializer,
		Compare:          opts.Compare,
		HandlePageIndex:  entry,
		MaxMovePairCount: opts.MaxMovePairCount,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &StorageDictionary[K, V]{
		tree:      tree,
		store:     backing,
		cached:    cached,
		ownsStore: opts.TakeStoreOwnership,
		logger:    dictionaryLogger(opts.Logger),
	}, nil
}

// Tree exposes the underlying B-tree, mainly for validation.
func (d *StorageDictionary[K, V]) Tree() *BTree[K, V] {
	return d.tree
}

// Count returns the number of entries.
func (d *StorageDictionary[K, V]) Count() int64 {
	return d.tree.Count()
}

// Set inserts or replaces the value for key.
func (d *StorageDictionary[K, V]) Set(key K, value V) error {
	return d.tree.Insert(key, value, true)
}

// Add inserts the pair and fails with ErrKeyAlreadyExists when the key is
// present.
func (d *StorageDictionary[K, V]) Add(key K, value V) error {
	return d.tree.Insert(key, value, false)
}

// TryGet returns the value for key when present.
func (d *StorageDictionary[K, V]) TryGet(key K) (V, bool, error) {
	return d.tree.TryGetValue(key)
}

// Remove deletes the entry for key and reports whether it existed.
func (d *StorageDictionary[K, V]) Remove(key K) (bool, error) {
	return d.tree.Remove(key)
}

// Iterate starts an ordered traversal of the entries.
func (d *StorageDictionary[K, V]) Iterate(ctx context.Context, ascending bool) *Iterator[K, V] {
	return d.tree.Iterate(ctx, ascending)
}

// AuxDataSize returns the size of the caller-owned region on the handle
// page.
func (d *StorageDictionary[K, V]) AuxDataSize() int64 {
	return d.tree.AuxDataSize()
}

// ReadAuxData reads from the caller-owned region of the handle page.
func (d *StorageDictionary[K, V]) ReadAuxData(offset int64, dst []byte) error {
	return d.tree.ReadAuxData(offset, dst)
}

// WriteAuxData writes into the caller-owned region of the handle page.
func (d *StorageDictionary[K, V]) WriteAuxData(offset int64, src []byte) error {
	return d.tree.WriteAuxData(offset, src)
}

// Flush forces buffered writes down to the store.
func (d *StorageDictionary[K, V]) Flush() error {
	if d.cached != nil {
		return d.cached.Flush()
	}
	return nil
}

// Close flushes and releases the dictionary; the store is closed too when
// the dictionary owns it. Closing twice is a no-op.
func (d *StorageDictionary[K, V]) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var errs error
	if d.cached != nil {
		// The cache flushes on close and closes the store when owned.
		errs = multierr.Append(errs, d.cached.Flush())
		errs = multierr.Append(errs, d.cached.Close())
	} else if d.ownsStore {
		errs = multierr.Append(errs, d.store.Close())
	}
	return errs
}
