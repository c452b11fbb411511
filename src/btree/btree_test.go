package btree

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagevault/src/serializers"
	"pagevault/src/storage"
)

// testPageSize yields a node capacity of five int64 pairs, small enough to
// exercise splits and merges with a handful of keys.
const testPageSize = 160

func newTestStore(t *testing.T, capacity int64) (*storage.StreamingPageStorage, *storage.MemoryMedium) {
	t.Helper()
	medium := storage.NewMemoryMedium(nil)
	store, err := storage.CreateStreamingPageStorage(context.Background(), storage.CreateOptions{
		Medium:          medium,
		PageSize:        testPageSize,
		InitialCapacity: capacity,
	})
	require.NoError(t, err)
	return store, medium
}

func int64Options(store storage.PageStorage) Options[int64, int64] {
	return Options[int64, int64]{
		Store:           store,
		KeySerializer:   serializers.NewInt64Serializer(binary.LittleEndian),
		ValueSerializer: serializers.NewInt64Serializer(binary.LittleEndian),
		Compare:         serializers.CompareInt64,
	}
}

func newTestTree(t *testing.T, capacity int64) (*BTree[int64, int64], *storage.StreamingPageStorage, *storage.MemoryMedium) {
	t.Helper()
	store, medium := newTestStore(t, capacity)
	tree, err := CreateBTree(int64Options(store))
	require.NoError(t, err)
	return tree, store, medium
}

func reloadTreeReadOnly(t *testing.T, medium *storage.MemoryMedium, handle int64) *BTree[int64, int64] {
	t.Helper()
	store, err := storage.LoadStreamingPageStorage(storage.LoadOptions{Medium: medium, ReadOnly: true})
	require.NoError(t, err)
	opts := int64Options(store)
	opts.HandlePageIndex = handle
	tree, err := LoadBTree(opts)
	require.NoError(t, err)
	return tree
}

func TestNodeCapacityGeometry(t *testing.T) {
	tree, _, _ := newTestTree(t, 8)
	assert.Equal(t, int64(5), tree.MaxPairsPerNode())
}

func TestTreeRejectsTinyPages(t *testing.T) {
	medium := storage.NewMemoryMedium(nil)
	store, err := storage.CreateStreamingPageStorage(context.Background(), storage.CreateOptions{
		Medium:          medium,
		PageSize:        32,
		InitialCapacity: 4,
	})
	require.NoError(t, err)
	_, err = CreateBTree(int64Options(store))
	assert.ErrorIs(t, err, ErrPageTooSmall)
}

func TestTreeRejectsBadMaxMove(t *testing.T) {
	store, _ := newTestStore(t, 4)
	opts := int64Options(store)
	opts.MaxMovePairCount = -3
	_, err := CreateBTree(opts)
	assert.ErrorIs(t, err, storage.ErrOutOfRange)
}

func TestInsertAndLookup(t *testing.T) {
	tree, _, _ := newTestTree(t, 64)

	for i := int64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(i*3, i*30, false))
	}
	assert.Equal(t, int64(50), tree.Count())

	for i := int64(0); i < 50; i++ {
		value, found, err := tree.TryGetValue(i * 3)
		require.NoError(t, err)
		require.True(t, found, "key %d", i*3)
		assert.Equal(t, i*30, value)
	}

	_, found, err := tree.TryGetValue(1)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = tree.TryGetValue(-7)
	require.NoError(t, err)
	assert.False(t, found)
}

// Inserting an existing key either refuses without change or replaces in
// place, never touching the count.
func TestInsertExistingKey(t *testing.T) {
	tree, _, _ := newTestTree(t, 64)
	require.NoError(t, tree.Insert(5, 50, false))

	err := tree.Insert(5, 99, false)
	assert.ErrorIs(t, err, ErrKeyAlreadyExists)
	value, _, err := tree.TryGetValue(5)
	require.NoError(t, err)
	assert.Equal(t, int64(50), value)
	assert.Equal(t, int64(1), tree.Count())

	require.NoError(t, tree.Insert(5, 99, true))
	value, _, err = tree.TryGetValue(5)
	require.NoError(t, err)
	assert.Equal(t, int64(99), value)
	assert.Equal(t, int64(1), tree.Count())
}

func TestUpdateValue(t *testing.T) {
	tree, _, _ := newTestTree(t, 64)
	for i := int64(0); i < 30; i++ {
		require.NoError(t, tree.Insert(i, i, false))
	}

	require.NoError(t, tree.UpdateValue(17, 1700))
	value, _, err := tree.TryGetValue(17)
	require.NoError(t, err)
	assert.Equal(t, int64(1700), value)

	err = tree.UpdateValue(999, 1)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// Removing an absent key leaves the store byte-identical.
func TestRemoveMissingKeyLeavesBytesUntouched(t *testing.T) {
	tree, _, medium := newTestTree(t, 64)
	for i := int64(0); i < 40; i++ {
		require.NoError(t, tree.Insert(i*2, i, false))
	}

	snapshot := append([]byte(nil), medium.Bytes()...)

	removed, err := tree.Remove(33)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, snapshot, medium.Bytes())
}

func TestRemoveFromLeafAndCollapse(t *testing.T) {
	tree, store, _ := newTestTree(t, 8)
	require.NoError(t, tree.Insert(1, 10, false))
	require.NoError(t, tree.Insert(2, 20, false))

	removed, err := tree.Remove(1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, int64(1), tree.Count())

	removed, err = tree.Remove(2)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, int64(0), tree.Count())

	// Only the handle page stays allocated once the tree is empty.
	assert.Equal(t, int64(1), store.AllocatedPageCount())

	// The emptied tree accepts inserts again.
	require.NoError(t, tree.Insert(7, 70, false))
	value, found, err := tree.TryGetValue(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(70), value)
}

// The fourth literal scenario: a thousand ascending inserts drained in the
// same order shrink the allocation back to the handle page, and the result
// survives a read-only reopen with a clean validation.
func TestSequentialInsertThenRemoveAll(t *testing.T) {
	tree, store, medium := newTestTree(t, 1024)
	handle := tree.HandlePageIndex()

	const n = 1025
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, i*10, false))
	}
	require.Equal(t, int64(n), tree.Count())
	allocatedFull := store.AllocatedPageCount()
	require.Greater(t, allocatedFull, int64(100))

	for i := int64(0); i < n; i++ {
		removed, err := tree.Remove(i)
		require.NoError(t, err, "removing %d", i)
		require.True(t, removed, "removing %d", i)
	}
	assert.Equal(t, int64(0), tree.Count())
	assert.Equal(t, int64(1), store.AllocatedPageCount())
	assert.True(t, store.IsPageAllocated(handle))

	require.NoError(t, store.Close())
	reloaded := reloadTreeReadOnly(t, medium, handle)
	assert.Equal(t, int64(0), reloaded.Count())
	assert.NoError(t, reloaded.Validate(context.Background(), nil))
}

// Under a deterministic shuffle the count, the traversal order and a
// validated read-only reopen all hold.
func TestShuffledInsertRemoveAndValidate(t *testing.T) {
	tree, store, medium := newTestTree(t, 2048)
	handle := tree.HandlePageIndex()

	const n = 2000
	perm := make([]int64, n)
	for i := range perm {
		perm[i] = int64(i)
	}
	seed := uint64(7)
	for i := n - 1; i > 0; i-- {
		seed = seed*6364136223846793005 + 1442695040888963407
		j := int(seed>>33) % (i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	for _, k := range perm {
		require.NoError(t, tree.Insert(k, k*k, false))
	}
	require.Equal(t, int64(n), tree.Count())

	// Remove every third key in shuffled order.
	removedSet := map[int64]bool{}
	for i, k := range perm {
		if i%3 == 0 {
			removed, err := tree.Remove(k)
			require.NoError(t, err)
			require.True(t, removed)
			removedSet[k] = true
		}
	}

	for k := int64(0); k < n; k++ {
		value, found, err := tree.TryGetValue(k)
		require.NoError(t, err)
		if removedSet[k] {
			require.False(t, found, "key %d should be gone", k)
		} else {
			require.True(t, found, "key %d should remain", k)
			require.Equal(t, k*k, value)
		}
	}

	// Ascending traversal yields exactly the surviving keys in order.
	it := tree.Iterate(context.Background(), true)
	var prev *int64
	survivors := 0
	for it.Next() {
		key := it.Key()
		if prev != nil {
			require.Greater(t, key, *prev)
		}
		k := key
		prev = &k
		survivors++
		require.False(t, removedSet[key])
	}
	require.NoError(t, it.Err())
	it.Close()
	assert.Equal(t, int(tree.Count()), survivors)

	require.NoError(t, store.Close())
	reloaded := reloadTreeReadOnly(t, medium, handle)
	assert.Equal(t, tree.Count(), reloaded.Count())
	assert.NoError(t, reloaded.Validate(context.Background(), nil))
}

func TestIterateDescending(t *testing.T) {
	tree, _, _ := newTestTree(t, 256)
	for i := int64(0); i < 100; i++ {
		require.NoError(t, tree.Insert(i, i, false))
	}

	it := tree.Iterate(context.Background(), false)
	defer it.Close()
	expected := int64(99)
	for it.Next() {
		require.Equal(t, expected, it.Key())
		require.Equal(t, expected, it.Value())
		expected--
	}
	require.NoError(t, it.Err())
	assert.Equal(t, int64(-1), expected)
}

func TestIteratorBlocksMutation(t *testing.T) {
	tree, _, _ := newTestTree(t, 64)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Insert(i, i, false))
	}

	it := tree.Iterate(context.Background(), true)
	require.True(t, it.Next())

	assert.ErrorIs(t, tree.Insert(100, 100, false), ErrTreeModified)
	assert.ErrorIs(t, tree.UpdateValue(1, 2), ErrTreeModified)
	_, err := tree.Remove(1)
	assert.ErrorIs(t, err, ErrTreeModified)

	it.Close()
	assert.NoError(t, tree.Insert(100, 100, false))

	// A closed iterator stays closed.
	assert.False(t, it.Next())
}

func TestIteratorCancellation(t *testing.T) {
	tree, _, _ := newTestTree(t, 64)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Insert(i, i, false))
	}

	ctx, cancel := context.WithCancel(context.Background())
	it := tree.Iterate(ctx, true)
	require.True(t, it.Next())
	cancel()
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), context.Canceled)

	// Cancellation released the tree for writers.
	assert.NoError(t, tree.Insert(100, 100, false))
}

func TestIterateEmptyTree(t *testing.T) {
	tree, _, _ := newTestTree(t, 8)
	it := tree.Iterate(context.Background(), true)
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	it.Close()
}

// A full store still serves in-place updates, and refuses brand-new keys
// with a space error.
func TestInsertWithNoFreePages(t *testing.T) {
	// Two pages: the handle and one root leaf.
	tree, store, _ := newTestTree(t, 2)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, tree.Insert(i, i, false))
	}
	require.Equal(t, int64(2), store.AllocatedPageCount())

	// The root is full and no page is left to split into.
	err := tree.Insert(50, 1, false)
	assert.ErrorIs(t, err, storage.ErrNotEnoughSpace)
	assert.Equal(t, int64(5), tree.Count())

	// Updating an existing key must still succeed.
	require.NoError(t, tree.Insert(3, 333, true))
	value, _, err := tree.TryGetValue(3)
	require.NoError(t, err)
	assert.Equal(t, int64(333), value)

	// Refusing without updateIfExists reports the existing key, not the
	// missing space.
	err = tree.Insert(3, 1, false)
	assert.ErrorIs(t, err, ErrKeyAlreadyExists)
}

func TestAuxDataRoundTrip(t *testing.T) {
	tree, _, medium := newTestTree(t, 8)
	handle := tree.HandlePageIndex()

	assert.Equal(t, int64(testPageSize-16), tree.AuxDataSize())

	payload := []byte("user metadata")
	require.NoError(t, tree.WriteAuxData(4, payload))

	got := make([]byte, len(payload))
	require.NoError(t, tree.ReadAuxData(4, got))
	assert.Equal(t, payload, got)

	// Aux data survives a reload and stays clear of the tree fields.
	require.NoError(t, tree.Insert(1, 1, false))
	reloaded := reloadTreeReadOnly(t, medium, handle)
	require.NoError(t, reloaded.ReadAuxData(4, got))
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(1), reloaded.Count())

	err := tree.WriteAuxData(tree.AuxDataSize()-2, payload)
	assert.ErrorIs(t, err, storage.ErrOutOfRange)
	err = tree.ReadAuxData(-1, got)
	assert.ErrorIs(t, err, storage.ErrOutOfRange)
}

func TestValidateRequiresReadOnly(t *testing.T) {
	tree, _, _ := newTestTree(t, 8)
	err := tree.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotReadOnly)
}

func TestValidateDetectsTamperedCount(t *testing.T) {
	tree, store, medium := newTestTree(t, 64)
	handle := tree.HandlePageIndex()
	for i := int64(0); i < 30; i++ {
		require.NoError(t, tree.Insert(i, i, false))
	}

	// Corrupt the persisted pair count on the handle page.
	var buf [8]byte
	buf[0] = 0x7F
	require.NoError(t, store.WriteTo(handle, 8, buf[:], 0, 8))
	require.NoError(t, store.Close())

	reloaded := reloadTreeReadOnly(t, medium, handle)
	err := reloaded.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
}

func TestLoadTreeRejectsUnallocatedHandle(t *testing.T) {
	store, _ := newTestStore(t, 8)
	opts := int64Options(store)
	opts.HandlePageIndex = 5
	_, err := LoadBTree(opts)
	assert.ErrorIs(t, err, storage.ErrPageNotAllocated)
}
