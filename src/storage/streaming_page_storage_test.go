package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T, pageSize, capacity int64) (*StreamingPageStorage, *MemoryMedium) {
	t.Helper()
	medium := NewMemoryMedium(nil)
	store, err := CreateStreamingPageStorage(context.Background(), CreateOptions{
		Medium:          medium,
		PageSize:        pageSize,
		InitialCapacity: capacity,
	})
	require.NoError(t, err)
	return store, medium
}

func reloadReadOnly(t *testing.T, medium *MemoryMedium) *StreamingPageStorage {
	t.Helper()
	store, err := LoadStreamingPageStorage(LoadOptions{Medium: medium, ReadOnly: true})
	require.NoError(t, err)
	return store
}

// Create-then-load round trips the geometry.
func TestCreateThenLoadRoundTrip(t *testing.T) {
	store, medium := newMemoryStore(t, 64, 10)
	require.NoError(t, store.Close())

	loaded := reloadReadOnly(t, medium)
	assert.Equal(t, int64(64), loaded.PageSize())
	assert.Equal(t, int64(10), loaded.PageCapacity())
	assert.Equal(t, int64(0), loaded.AllocatedPageCount())
	assert.Equal(t, NoPageIndex, loaded.EntryPageIndex())
	assert.True(t, loaded.IsReadOnly())
	assert.True(t, loaded.IsCapacityFixed())
}

func TestCreateRejectsBadArguments(t *testing.T) {
	_, err := CreateStreamingPageStorage(context.Background(), CreateOptions{
		Medium:   nil,
		PageSize: 64,
	})
	assert.ErrorIs(t, err, ErrNilArgument)

	_, err = CreateStreamingPageStorage(context.Background(), CreateOptions{
		Medium:   NewMemoryMedium(nil),
		PageSize: MinPageSize - 1,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = CreateStreamingPageStorage(context.Background(), CreateOptions{
		Medium:          NewMemoryMedium(nil),
		PageSize:        64,
		InitialCapacity: -1,
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestLoadRejectsWritableVariableCapacity(t *testing.T) {
	_, medium := newMemoryStore(t, 64, 2)
	_, err := LoadStreamingPageStorage(LoadOptions{Medium: medium, ReadOnly: false, FixedCapacity: false})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLoadRejectsGarbage(t *testing.T) {
	medium := NewMemoryMedium(make([]byte, 256))
	_, err := LoadStreamingPageStorage(LoadOptions{Medium: medium, ReadOnly: true})
	assert.ErrorIs(t, err, ErrCorrupt)
}

// Allocation state tracks the alloc/free history exactly.
func TestAllocateAndFreePages(t *testing.T) {
	store, _ := newMemoryStore(t, 32, 4)

	seen := map[int64]bool{}
	for i := 0; i < 4; i++ {
		index, ok, err := store.TryAllocatePage()
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, seen[index], "index %d allocated twice", index)
		seen[index] = true
	}
	assert.Equal(t, int64(4), store.AllocatedPageCount())

	// Full store refuses politely.
	_, ok, err := store.TryAllocatePage()
	require.NoError(t, err)
	assert.False(t, ok)

	freed, err := store.FreePage(2)
	require.NoError(t, err)
	assert.True(t, freed)
	assert.False(t, store.IsPageAllocated(2))

	// Freeing twice is a no-op.
	freed, err = store.FreePage(2)
	require.NoError(t, err)
	assert.False(t, freed)

	// The freed slot is the next one handed out.
	index, ok, err := store.TryAllocatePage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), index)

	_, err = store.FreePage(99)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.False(t, store.IsPageAllocated(-1))
	assert.False(t, store.IsPageOnStorage(-1))
	assert.False(t, store.IsPageOnStorage(4))
	assert.True(t, store.IsPageOnStorage(0))
}

// The first literal scenario: a minimal store round trips four bytes
// through a read-only reload.
func TestMinimalStoreWriteReadReload(t *testing.T) {
	store, medium := newMemoryStore(t, MinPageSize, 1)

	index, ok, err := store.TryAllocatePage()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), index)

	require.NoError(t, store.WriteTo(0, 5, []byte{1, 3, 2, 4}, 0, 4))
	require.NoError(t, store.Close())

	loaded := reloadReadOnly(t, medium)
	got := make([]byte, 4)
	require.NoError(t, loaded.ReadFrom(0, 5, got, 0, 4))
	assert.Equal(t, []byte{1, 3, 2, 4}, got)
}

// Written bytes read back identically at various offsets.
func TestWriteReadRoundTrip(t *testing.T) {
	store, _ := newMemoryStore(t, 128, 3)
	for i := 0; i < 3; i++ {
		_, ok, err := store.TryAllocatePage()
		require.NoError(t, err)
		require.True(t, ok)
	}

	payload := []byte{9, 8, 7, 6, 5}
	require.NoError(t, store.WriteTo(1, 0, payload, 0, 5))
	require.NoError(t, store.WriteTo(1, 123, payload, 1, 4))
	require.NoError(t, store.WriteTo(2, 64, payload, 2, 3))

	got := make([]byte, 5)
	require.NoError(t, store.ReadFrom(1, 0, got, 0, 5))
	assert.Equal(t, payload, got)

	require.NoError(t, store.ReadFrom(1, 123, got, 0, 4))
	assert.Equal(t, []byte{8, 7, 6, 5}, got[:4])

	require.NoError(t, store.ReadFrom(2, 64, got[:3], 0, 3))
	assert.Equal(t, []byte{7, 6, 5}, got[:3])
}

func TestPageIOChecksArguments(t *testing.T) {
	store, _ := newMemoryStore(t, 32, 2)
	index, _, err := store.TryAllocatePage()
	require.NoError(t, err)

	buf := make([]byte, 8)
	assert.ErrorIs(t, store.ReadFrom(index, -1, buf, 0, 4), ErrOutOfRange)
	assert.ErrorIs(t, store.ReadFrom(index, 0, buf, 0, 33), ErrOutOfRange)
	assert.ErrorIs(t, store.ReadFrom(index, 0, buf, 6, 4), ErrOutOfRange)
	assert.ErrorIs(t, store.ReadFrom(index, 0, nil, 0, 4), ErrNilArgument)
	assert.ErrorIs(t, store.ReadFrom(1, 0, buf, 0, 4), ErrPageNotAllocated)
	assert.ErrorIs(t, store.ReadFrom(9, 0, buf, 0, 4), ErrOutOfRange)
}

func TestReadOnlyStoreForbidsWrites(t *testing.T) {
	store, medium := newMemoryStore(t, 32, 2)
	index, _, err := store.TryAllocatePage()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	loaded := reloadReadOnly(t, medium)
	assert.ErrorIs(t, loaded.WriteTo(index, 0, []byte{1}, 0, 1), ErrReadOnly)
	_, _, err = loaded.TryAllocatePage()
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = loaded.FreePage(index)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, loaded.SetEntryPageIndex(0), ErrReadOnly)
	_, err = loaded.TryInflate(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestEntryPageIndexPersists(t *testing.T) {
	store, medium := newMemoryStore(t, 32, 3)
	index, _, err := store.TryAllocatePage()
	require.NoError(t, err)

	assert.ErrorIs(t, store.SetEntryPageIndex(-5), ErrOutOfRange)
	require.NoError(t, store.SetEntryPageIndex(index))
	require.NoError(t, store.Close())

	loaded := reloadReadOnly(t, medium)
	assert.Equal(t, index, loaded.EntryPageIndex())
}

func TestInflateAddsPages(t *testing.T) {
	store, medium := newMemoryStore(t, 32, 2)

	var reports int
	added, err := store.TryInflate(context.Background(), 3, func(current, total int64) {
		reports++
		assert.Equal(t, int64(3), total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), added)
	assert.Equal(t, 3, reports)
	assert.Equal(t, int64(5), store.PageCapacity())

	size, err := medium.Size()
	require.NoError(t, err)
	assert.Equal(t, RequiredMediumSize(32, 5), size)
}

// Growing across a bitmap byte boundary shifts the page array without
// losing page contents.
func TestInflateAcrossBitmapByteBoundaryPreservesData(t *testing.T) {
	store, medium := newMemoryStore(t, 16, 8)
	for i := int64(0); i < 8; i++ {
		_, ok, err := store.TryAllocatePage()
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.WriteTo(i, 0, []byte{byte(i + 1), byte(i + 2)}, 0, 2))
	}

	added, err := store.TryInflate(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), added)
	require.Equal(t, int64(10), store.PageCapacity())

	for i := int64(0); i < 8; i++ {
		got := make([]byte, 2)
		require.NoError(t, store.ReadFrom(i, 0, got, 0, 2))
		assert.Equal(t, []byte{byte(i + 1), byte(i + 2)}, got, "page %d", i)
	}

	// The grown store reloads cleanly with its data intact.
	require.NoError(t, store.Close())
	loaded := reloadReadOnly(t, medium)
	assert.Equal(t, int64(10), loaded.PageCapacity())
	got := make([]byte, 2)
	require.NoError(t, loaded.ReadFrom(7, 0, got, 0, 2))
	assert.Equal(t, []byte{8, 9}, got)
}

// The sixth literal scenario: a medium that refuses to grow caps inflate at
// zero and leaves the store untouched.
func TestInflateAgainstFixedSizeMedium(t *testing.T) {
	required := RequiredMediumSize(32, 2)
	medium := NewBoundedMemoryMedium(nil, required)
	store, err := CreateStreamingPageStorage(context.Background(), CreateOptions{
		Medium:          medium,
		PageSize:        32,
		InitialCapacity: 2,
	})
	require.NoError(t, err)

	added, err := store.TryInflate(context.Background(), 16, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), added)
	assert.Equal(t, int64(2), store.PageCapacity())

	size, err := medium.Size()
	require.NoError(t, err)
	assert.Equal(t, required, size)
}

// A cancelled inflate keeps the completed prefix, which a reopen
// observes.
func TestInflateCancellationKeepsPrefix(t *testing.T) {
	store, medium := newMemoryStore(t, 32, 4)

	ctx, cancel := context.WithCancel(context.Background())
	added, err := store.TryInflate(ctx, 10, func(current, total int64) {
		if current == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(3), added)
	assert.Equal(t, int64(7), store.PageCapacity())
	require.NoError(t, store.Close())

	loaded := reloadReadOnly(t, medium)
	assert.Equal(t, int64(7), loaded.PageCapacity())
}

func TestDeflateStopsAtAllocatedTail(t *testing.T) {
	store, _ := newMemoryStore(t, 32, 6)
	index, ok, err := store.TryAllocatePage()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), index)

	// Pages 1..5 are free; page 0 is live, so at most 5 can go.
	removed, err := store.TryDeflate(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)
	assert.Equal(t, int64(1), store.PageCapacity())
	assert.True(t, store.IsPageAllocated(0))
}

func TestDeflatePreservesRemainingData(t *testing.T) {
	store, medium := newMemoryStore(t, 16, 9)
	for i := int64(0); i < 8; i++ {
		_, ok, err := store.TryAllocatePage()
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.WriteTo(i, 3, []byte{byte(0xA0 + i)}, 0, 1))
	}

	// Capacity 9 needs two bitmap bytes; dropping to 8 crosses back to
	// one and shifts the page array left.
	removed, err := store.TryDeflate(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Equal(t, int64(8), store.PageCapacity())

	for i := int64(0); i < 8; i++ {
		got := make([]byte, 1)
		require.NoError(t, store.ReadFrom(i, 3, got, 0, 1))
		assert.Equal(t, byte(0xA0+i), got[0], "page %d", i)
	}

	require.NoError(t, store.Close())
	loaded := reloadReadOnly(t, medium)
	got := make([]byte, 1)
	require.NoError(t, loaded.ReadFrom(5, 3, got, 0, 1))
	assert.Equal(t, byte(0xA5), got[0])
}

func TestValidateDetectsBitmapCorruption(t *testing.T) {
	store, medium := newMemoryStore(t, 32, 4)
	_, ok, err := store.TryAllocatePage()
	require.NoError(t, err)
	require.True(t, ok)

	valid, err := store.Validate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, valid)

	// Flip an allocation bit behind the store's back.
	raw := medium.Bytes()
	raw[HeaderSize] ^= 0x02

	_, err = store.Validate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestValidateReturnsFalseWhenCancelled(t *testing.T) {
	store, _ := newMemoryStore(t, 32, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	valid, err := store.Validate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestCreateFixedUsesMediumLength(t *testing.T) {
	size := RequiredMediumSize(32, 5)
	medium := NewMemoryMedium(make([]byte, size))
	store, err := CreateFixedStreamingPageStorage(context.Background(), FixedCreateOptions{
		Medium:   medium,
		PageSize: 32,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), store.PageCapacity())
	assert.True(t, store.IsCapacityFixed())

	_, err = store.TryInflate(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrFixedCapacity)

	// The medium length was not touched.
	got, err := medium.Size()
	require.NoError(t, err)
	assert.Equal(t, size, got)
}

func TestCreateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	medium := NewMemoryMedium(nil)
	_, err := CreateStreamingPageStorage(ctx, CreateOptions{
		Medium:          medium,
		PageSize:        64,
		InitialCapacity: 100,
		GrowthIncrement: 128,
	})
	assert.ErrorIs(t, err, context.Canceled)

	// Whatever was grown must not look like a valid store.
	_, err = LoadStreamingPageStorage(LoadOptions{Medium: medium, ReadOnly: true})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	store, _ := newMemoryStore(t, 32, 1)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err := store.TryAllocatePage()
	assert.ErrorIs(t, err, ErrClosed)
}
