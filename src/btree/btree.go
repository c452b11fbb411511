// Package btree implements the disk-resident B-tree: sorted key-value
// pairs stored across linked pages of a PageStorage, balanced by proactive
// splitting on the way down for inserts and by borrow/merge repair on the
// way down for removals.
package btree

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pagevault/src/binaryutil"
	"pagevault/src/helpers"
	"pagevault/src/serializers"
	"pagevault/src/storage"
)

// handleDataSize is the portion of the handle page the tree itself uses:
// the root page index and the pair count. The rest of the page is the
// caller's auxiliary blob.
const handleDataSize = 16

// DefaultMaxMovePairCount bounds how many pairs a single split, merge or
// rotate step copies at once.
const DefaultMaxMovePairCount = 64

// Options configures CreateBTree and LoadBTree.
type Options[K any, V any] struct {
	// Store holds the tree's pages.
	Store storage.PageStorage

	// KeySerializer and ValueSerializer fix the slot sizes of every node.
	KeySerializer   serializers.Serializer[K]
	ValueSerializer serializers.Serializer[V]

	// Compare is the total order of keys.
	Compare serializers.KeyComparer[K]

	// HandlePageIndex locates the tree's persistent handle. CreateBTree
	// ignores it and allocates a fresh page.
	HandlePageIndex int64

	// MaxMovePairCount bounds pair moves per structural step; zero
	// selects DefaultMaxMovePairCount. Values below one are rejected.
	MaxMovePairCount int64

	Logger *zap.SugaredLogger
}

// BTree is a disk-resident ordered map. All node references are page
// indices; the tree holds no pointers between nodes.
type BTree[K any, V any] struct {
	mu    sync.RWMutex
	store storage.PageStorage

	keySerializer   serializers.Serializer[K]
	valueSerializer serializers.Serializer[V]
	compare         serializers.KeyComparer[K]

	keySize   int64
	valueSize int64
	maxPairs  int64 // capacity M of every node; odd
	minPairs  int64 // minimum fill of every non-root node

	handlePageIndex int64
	rootPageIndex   int64
	pairCount       int64

	maxMove int64

	// structureVersion increases on every structural change; iterators
	// fail fast when it moves under them. openIterators blocks mutation
	// while a traversal is live.
	structureVersion uint64
	openIterators    int

	logger *zap.SugaredLogger
}

func newBTree[K any, V any](opts Options[K, V]) (*BTree[K, V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store: %w", storage.ErrNilArgument)
	}
	if opts.KeySerializer == nil || opts.ValueSerializer == nil {
		return nil, fmt.Errorf("serializers: %w", storage.ErrNilArgument)
	}
	if opts.Compare == nil {
		return nil, fmt.Errorf("compare: %w", storage.ErrNilArgument)
	}
	maxMove := opts.MaxMovePairCount
	if maxMove == 0 {
		maxMove = DefaultMaxMovePairCount
	}
	if maxMove < 1 {
		return nil, fmt.Errorf("max move pair count %d: %w", maxMove, storage.ErrOutOfRange)
	}
	keySize := opts.KeySerializer.DataSize()
	valueSize := opts.ValueSerializer.DataSize()
	if keySize <= 0 || valueSize <= 0 {
		return nil, fmt.Errorf("serializer data sizes must be positive: %w", storage.ErrInvalidArgument)
	}
	maxPairs := maxPairCapacity(opts.Store.PageSize(), keySize, valueSize)
	if maxPairs == 0 {
		return nil, fmt.Errorf("page size %d cannot hold %d pairs of %d+%d bytes: %w",
			opts.Store.PageSize(), minPairCapacity, keySize, valueSize, ErrPageTooSmall)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BTree[K, V]{
		store:           opts.Store,
		keySerializer:   opts.KeySerializer,
		valueSerializer: opts.ValueSerializer,
		compare:         opts.Compare,
		keySize:         keySize,
		valueSize:       valueSize,
		maxPairs:        maxPairs,
		minPairs:        maxPairs / 2,
		rootPageIndex:   storage.NoPageIndex,
		maxMove:         maxMove,
		logger:          logger,
	}, nil
}

// CreateBTree allocates a handle page on the store and initializes an empty
// tree bound to it.
func CreateBTree[K any, V any](opts Options[K, V]) (*BTree[K, V], error) {
	t, err := newBTree(opts)
	if err != nil {
		return nil, err
	}
	handle, ok, err := t.store.TryAllocatePage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate handle page: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no free page for the tree handle: %w", storage.ErrNotEnoughSpace)
	}
	t.handlePageIndex = handle
	if err := t.writeHandle(); err != nil {
		return nil, err
	}
	t.logger.Debugf("Created B-tree on handle page %d (capacity %d pairs per node)", handle, t.maxPairs)
	return t, nil
}

// LoadBTree binds to an existing handle page.
func LoadBTree[K any, V any](opts Options[K, V]) (*BTree[K, V], error) {
	t, err := newBTree(opts)
	if err != nil {
		return nil, err
	}
	if !opts.Store.IsPageAllocated(opts.HandlePageIndex) {
		return nil, fmt.Errorf("handle page %d: %w", opts.HandlePageIndex, storage.ErrPageNotAllocated)
	}
	t.handlePageIndex = opts.HandlePageIndex
	var buf [handleDataSize]byte
	if err := t.store.ReadFrom(t.handlePageIndex, 0, buf[:], 0, handleDataSize); err != nil {
		return nil, fmt.Errorf("failed to read tree handle: %w", err)
	}
	t.rootPageIndex = binaryutil.Int64(buf[0:], binary.LittleEndian)
	t.pairCount = binaryutil.Int64(buf[8:], binary.LittleEndian)
	if t.rootPageIndex < storage.NoPageIndex || t.pairCount < 0 {
		return nil, fmt.Errorf("tree handle on page %d is inconsistent: %w", t.handlePageIndex, storage.ErrCorrupt)
	}
	if t.rootPageIndex != storage.NoPageIndex && !t.store.IsPageAllocated(t.rootPageIndex) {
		return nil, fmt.Errorf("root page %d is not allocated: %w", t.rootPageIndex, storage.ErrCorrupt)
	}
	return t, nil
}

// writeHandle persists the root index and pair count.
func (t *BTree[K, V]) writeHandle() error {
	var buf [handleDataSize]byte
	binaryutil.PutInt64(buf[0:], binary.LittleEndian, t.rootPageIndex)
	binaryutil.PutInt64(buf[8:], binary.LittleEndian, t.pairCount)
	if err := t.store.WriteTo(t.handlePageIndex, 0, buf[:], 0, handleDataSize); err != nil {
		return fmt.Errorf("failed to write tree handle: %w", err)
	}
	return nil
}

// HandlePageIndex returns the page the tree descriptor lives on.
func (t *BTree[K, V]) HandlePageIndex() int64 {
	return t.handlePageIndex
}

// Count returns the number of key-value pairs in the tree.
func (t *BTree[K, V]) Count() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pairCount
}

// MaxPairsPerNode returns the node capacity M the page geometry allows.
func (t *BTree[K, V]) MaxPairsPerNode() int64 {
	return t.maxPairs
}

// AuxDataSize returns the size of the caller-owned blob on the handle page.
func (t *BTree[K, V]) AuxDataSize() int64 {
	return t.store.PageSize() - handleDataSize
}

// ReadAuxData copies len(dst) bytes of the auxiliary blob starting at
// offset into dst.
func (t *BTree[K, V]) ReadAuxData(offset int64, dst []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if offset < 0 || offset+int64(len(dst)) > t.AuxDataSize() {
		return fmt.Errorf("aux range [%d, %d) exceeds %d bytes: %w", offset, offset+int64(len(dst)), t.AuxDataSize(), storage.ErrOutOfRange)
	}
	return t.store.ReadFrom(t.handlePageIndex, handleDataSize+offset, dst, 0, int64(len(dst)))
}

// WriteAuxData copies src into the auxiliary blob starting at offset.
func (t *BTree[K, V]) WriteAuxData(offset int64, src []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset < 0 || offset+int64(len(src)) > t.AuxDataSize() {
		return fmt.Errorf("aux range [%d, %d) exceeds %d bytes: %w", offset, offset+int64(len(src)), t.AuxDataSize(), storage.ErrOutOfRange)
	}
	return t.store.WriteTo(t.handlePageIndex, handleDataSize+offset, src, 0, int64(len(src)))
}

// nodeSearcher adapts a node's key slots to the generic binary search.
type nodeSearcher[K any, V any] struct {
	tree *BTree[K, V]
	node *node
}

func (s nodeSearcher[K, V]) Count() int64 {
	return s.node.count()
}

func (s nodeSearcher[K, V]) KeyAt(i int64) (K, error) {
	return s.tree.keySerializer.Deserialize(s.node.keys[i])
}

func (s nodeSearcher[K, V]) ValueAt(i int64) (V, error) {
	return s.tree.valueSerializer.Deserialize(s.node.values[i])
}

func (s nodeSearcher[K, V]) Compare(a, b K) int {
	return s.tree.compare(a, b)
}

// searchNode binary-searches a node for key. It returns the slot holding
// the key when exact is true, and otherwise the ceiling slot, which doubles
// as the child index to descend into.
func (t *BTree[K, V]) searchNode(n *node, key K) (int64, bool, error) {
	index, ceilingKey, found, err := helpers.TryFindCeiling[K, V](context.Background(), nodeSearcher[K, V]{tree: t, node: n}, key, nil)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return n.count(), false, nil
	}
	return index, t.compare(ceilingKey, key) == 0, nil
}

// TryGetValue looks key up and returns its value when present.
func (t *BTree[K, V]) TryGetValue(key K) (V, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero V
	pageIndex := t.rootPageIndex
	for pageIndex != storage.NoPageIndex {
		n, err := t.readNode(pageIndex)
		if err != nil {
			return zero, false, err
		}
		index, exact, err := t.searchNode(n, key)
		if err != nil {
			return zero, false, err
		}
		if exact {
			value, err := t.valueSerializer.Deserialize(n.values[index])
			if err != nil {
				return zero, false, fmt.Errorf("failed to decode value: %w", err)
			}
			return value, true, nil
		}
		if n.isLeaf {
			return zero, false, nil
		}
		pageIndex = n.children[index]
	}
	return zero, false, nil
}

// encodePair serializes a key and value into fresh slot buffers.
func (t *BTree[K, V]) encodePair(key K, value V) ([]byte, []byte, error) {
	keyBuf := make([]byte, t.keySize)
	if err := t.keySerializer.Serialize(key, keyBuf); err != nil {
		return nil, nil, fmt.Errorf("failed to encode key: %w", err)
	}
	valueBuf := make([]byte, t.valueSize)
	if err := t.valueSerializer.Serialize(value, valueBuf); err != nil {
		return nil, nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return keyBuf, valueBuf, nil
}

// Insert adds the pair to the tree. When the key already exists the value
// is overwritten if updateIfExists allows it; otherwise ErrKeyAlreadyExists
// is reported and the tree is unchanged. Nodes are split on the way down so
// every insertion finishes in one pass; an update of an existing key
// succeeds even when the store has no free pages left.
func (t *BTree[K, V]) Insert(key K, value V, updateIfExists bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openIterators > 0 {
		return fmt.Errorf("cannot insert: %w", ErrTreeModified)
	}
	keyBuf, valueBuf, err := t.encodePair(key, value)
	if err != nil {
		return err
	}

	// Empty tree: the new pair becomes the root leaf.
	if t.rootPageIndex == storage.NoPageIndex {
		pageIndex, ok, err := t.store.TryAllocatePage()
		if err != nil {
			return fmt.Errorf("failed to allocate root leaf: %w", err)
		}
		if !ok {
			return fmt.Errorf("no free page for the root leaf: %w", storage.ErrNotEnoughSpace)
		}
		root := &node{pageIndex: pageIndex, isLeaf: true, keys: [][]byte{keyBuf}, values: [][]byte{valueBuf}}
		if err := t.writeNode(root); err != nil {
			return err
		}
		t.rootPageIndex = pageIndex
		t.pairCount = 1
		t.structureVersion++
		return t.writeHandle()
	}

	// updateOnly flips when a proactive split cannot allocate a page; the
	// descent then continues purely to find and update an existing key.
	updateOnly := false

	current, err := t.readNode(t.rootPageIndex)
	if err != nil {
		return err
	}
	if current.count() == t.maxPairs {
		newRoot, err := t.splitRoot(current)
		if err == nil {
			current = newRoot
		} else if isNoSpace(err) {
			updateOnly = true
		} else {
			return err
		}
	}

	for {
		index, exact, err := t.searchNode(current, key)
		if err != nil {
			return err
		}
		if exact {
			if !updateIfExists {
				return fmt.Errorf("key in node on page %d: %w", current.pageIndex, ErrKeyAlreadyExists)
			}
			current.values[index] = valueBuf
			return t.writeNode(current)
		}
		if current.isLeaf {
			if updateOnly {
				return fmt.Errorf("cannot split while inserting a new key: %w", storage.ErrNotEnoughSpace)
			}
			current.insertPairAt(index, keyBuf, valueBuf, 0)
			if err := t.writeNode(current); err != nil {
				return err
			}
			t.pairCount++
			t.structureVersion++
			return t.writeHandle()
		}

		child, err := t.readNode(current.children[index])
		if err != nil {
			return err
		}
		if child.count() == t.maxPairs && !updateOnly {
			if err := t.splitChild(current, index, child); err != nil {
				if !isNoSpace(err) {
					return err
				}
				updateOnly = true
			} else {
				// The split promoted a key into the current node; the
				// descent target may now be the promoted slot or either
				// half.
				continue
			}
		}
		current = child
	}
}

// UpdateValue overwrites the value of an existing key and fails with
// ErrKeyNotFound otherwise. It never changes the tree's structure.
func (t *BTree[K, V]) UpdateValue(key K, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openIterators > 0 {
		return fmt.Errorf("cannot update: %w", ErrTreeModified)
	}
	valueBuf := make([]byte, t.valueSize)
	if err := t.valueSerializer.Serialize(value, valueBuf); err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	pageIndex := t.rootPageIndex
	for pageIndex != storage.NoPageIndex {
		n, err := t.readNode(pageIndex)
		if err != nil {
			return err
		}
		index, exact, err := t.searchNode(n, key)
		if err != nil {
			return err
		}
		if exact {
			n.values[index] = valueBuf
			return t.writeNode(n)
		}
		if n.isLeaf {
			break
		}
		pageIndex = n.children[index]
	}
	return fmt.Errorf("cannot update: %w", ErrKeyNotFound)
}

func isNoSpace(err error) bool {
	return errors.Is(err, storage.ErrNotEnoughSpace)
}

// splitChild splits the full child at parent slot childIndex, promoting its
// median pair into the parent. The parent must have room.
func (t *BTree[K, V]) splitChild(parent *node, childIndex int64, child *node) error {
	siblingPage, ok, err := t.store.TryAllocatePage()
	if err != nil {
		return fmt.Errorf("failed to allocate split page: %w", err)
	}
	if !ok {
		return fmt.Errorf("no free page to split node %d: %w", child.pageIndex, storage.ErrNotEnoughSpace)
	}

	median := t.maxPairs / 2
	sibling := &node{pageIndex: siblingPage, isLeaf: child.isLeaf}
	if !child.isLeaf {
		sibling.children = make([]int64, 0, t.maxPairs-median)
	}
	appendPairs(sibling, child, median+1, t.maxMove)

	medianKey, medianValue := child.keys[median], child.values[median]
	child.truncatePairs(median)

	parent.insertPairAt(childIndex, medianKey, medianValue, siblingPage)

	// The new sibling is written first so a failure part-way leaves the
	// original node intact.
	if err := t.writeNode(sibling); err != nil {
		return err
	}
	if err := t.writeNode(child); err != nil {
		return err
	}
	if err := t.writeNode(parent); err != nil {
		return err
	}
	t.structureVersion++
	return nil
}

// splitRoot splits a full root under a freshly allocated root node and
// returns the new root.
func (t *BTree[K, V]) splitRoot(root *node) (*node, error) {
	newRootPage, ok, err := t.store.TryAllocatePage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate new root: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no free page to split the root: %w", storage.ErrNotEnoughSpace)
	}
	newRoot := &node{
		pageIndex: newRootPage,
		isLeaf:    false,
		children:  []int64{root.pageIndex},
	}
	if err := t.splitChild(newRoot, 0, root); err != nil {
		// Hand the reserved page back; the tree is unchanged.
		if _, ferr := t.store.FreePage(newRootPage); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}
	t.rootPageIndex = newRootPage
	t.structureVersion++
	if err := t.writeHandle(); err != nil {
		return nil, err
	}
	return newRoot, nil
}
