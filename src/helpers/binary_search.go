package helpers

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
)

// ErrNegativeCount is returned when a search is asked about a negative
// number of elements.
var ErrNegativeCount = errors.New("element count cannot be negative")

// Searchable is an indexable, key-ordered sequence that binary search can
// probe. Implementations expose their own key comparison so callers control
// the total order.
type Searchable[K any, V any] interface {
	Count() int64
	KeyAt(index int64) (K, error)
	ValueAt(index int64) (V, error)
	Compare(a, b K) int
}

// CalculateSearchComplexity returns the maximum number of probes a binary
// search over n elements can take: ceil(log2(n)) with a floor of zero for an
// empty sequence. Negative n is rejected.
func CalculateSearchComplexity(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("element count %d: %w", n, ErrNegativeCount)
	}
	if n <= 1 {
		return 0, nil
	}
	return int64(bits.Len64(uint64(n - 1))), nil
}

// TryFindIndex performs a classical binary search for key and returns its
// index, or -1 when the key is absent. After each probe the optional
// progress callback receives (probe, complexity); a successful search always
// ends with a final (complexity, complexity) report. Cancellation stops
// probing, reports nothing further, and returns not-found with the context
// error.
func TryFindIndex[K any, V any](ctx context.Context, s Searchable[K, V], key K, progress ProgressFunc) (int64, bool, error) {
	complexity, err := CalculateSearchComplexity(s.Count())
	if err != nil {
		return -1, false, err
	}

	low, high := int64(0), s.Count()-1
	var probe int64
	for low <= high {
		if err := ctx.Err(); err != nil {
			return -1, false, fmt.Errorf("search cancelled: %w", err)
		}
		mid := low + (high-low)/2
		candidate, err := s.KeyAt(mid)
		if err != nil {
			return -1, false, fmt.Errorf("failed to read key at %d: %w", mid, err)
		}
		probe++
		Report(progress, probe, complexity)

		switch c := s.Compare(candidate, key); {
		case c == 0:
			Report(progress, complexity, complexity)
			return mid, true, nil
		case c < 0:
			low = mid + 1
		default:
			high = mid - 1
		}
	}
	return -1, false, nil
}

// TryFindValue searches for key and returns the paired value when present.
func TryFindValue[K any, V any](ctx context.Context, s Searchable[K, V], key K, progress ProgressFunc) (V, bool, error) {
	var zero V
	index, found, err := TryFindIndex(ctx, s, key, progress)
	if err != nil || !found {
		return zero, false, err
	}
	value, err := s.ValueAt(index)
	if err != nil {
		return zero, false, fmt.Errorf("failed to read value at %d: %w", index, err)
	}
	return value, true, nil
}

// TryFindCeiling returns the index and key of the smallest key >= key, or
// found=false when every key is smaller. Progress reporting follows the same
// contract as TryFindIndex.
func TryFindCeiling[K any, V any](ctx context.Context, s Searchable[K, V], key K, progress ProgressFunc) (int64, K, bool, error) {
	var zero K
	complexity, err := CalculateSearchComplexity(s.Count())
	if err != nil {
		return -1, zero, false, err
	}

	low, high := int64(0), s.Count()-1
	best := int64(-1)
	var bestKey K
	var probe int64
	for low <= high {
		if err := ctx.Err(); err != nil {
			return -1, zero, false, fmt.Errorf("search cancelled: %w", err)
		}
		mid := low + (high-low)/2
		candidate, err := s.KeyAt(mid)
		if err != nil {
			return -1, zero, false, fmt.Errorf("failed to read key at %d: %w", mid, err)
		}
		probe++
		Report(progress, probe, complexity)

		if s.Compare(candidate, key) >= 0 {
			best = mid
			bestKey = candidate
			high = mid - 1
		} else {
			low = mid + 1
		}
	}
	if best < 0 {
		return -1, zero, false, nil
	}
	Report(progress, complexity, complexity)
	return best, bestKey, true, nil
}

// TryFindFloor returns the index and key of the greatest key <= key, or
// found=false when every key is larger.
func TryFindFloor[K any, V any](ctx context.Context, s Searchable[K, V], key K, progress ProgressFunc) (int64, K, bool, error) {
	var zero K
	complexity, err := CalculateSearchComplexity(s.Count())
	if err != nil {
		return -1, zero, false, err
	}

	low, high := int64(0), s.Count()-1
	best := int64(-1)
	var bestKey K
	var probe int64
	for low <= high {
		if err := ctx.Err(); err != nil {
			return -1, zero, false, fmt.Errorf("search cancelled: %w", err)
		}
		mid := low + (high-low)/2
		candidate, err := s.KeyAt(mid)
		if err != nil {
			return -1, zero, false, fmt.Errorf("failed to read key at %d: %w", mid, err)
		}
		probe++
		Report(progress, probe, complexity)

		if s.Compare(candidate, key) <= 0 {
			best = mid
			bestKey = candidate
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	if best < 0 {
		return -1, zero, false, nil
	}
	Report(progress, complexity, complexity)
	return best, bestKey, true, nil
}
