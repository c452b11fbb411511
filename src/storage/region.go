package storage

import "fmt"

// DataRegion is a closed interval [First, Last] of byte positions within a
// page. Both bounds are inclusive, so a region always covers at least one
// byte.
type DataRegion struct {
	First int64
	Last  int64
}

// NewDataRegion creates a region covering [first, last]. It returns an error
// if first is negative or last is before first.
func NewDataRegion(first, last int64) (DataRegion, error) {
	if first < 0 {
		return DataRegion{}, fmt.Errorf("first (%d) cannot be negative: %w", first, ErrOutOfRange)
	}
	if last < first {
		return DataRegion{}, fmt.Errorf("last (%d) cannot be before first (%d): %w", last, first, ErrOutOfRange)
	}
	return DataRegion{First: first, Last: last}, nil
}

// Length returns the number of bytes the region covers.
func (r DataRegion) Length() int64 {
	return r.Last - r.First + 1
}

// Contains reports whether the byte position index falls within the region.
func (r DataRegion) Contains(index int64) bool {
	return index >= r.First && index <= r.Last
}

// ContainsRegion reports whether other is entirely within the region.
func (r DataRegion) ContainsRegion(other DataRegion) bool {
	return other.First >= r.First && other.Last <= r.Last
}

// Intersects reports whether the two regions share at least one byte.
func (r DataRegion) Intersects(other DataRegion) bool {
	return r.First <= other.Last && other.First <= r.Last
}

// IsAdjacent reports whether the two regions touch without overlapping.
func (r DataRegion) IsAdjacent(other DataRegion) bool {
	return r.Last+1 == other.First || other.Last+1 == r.First
}

// CombineWith merges two regions that intersect or are adjacent into the
// single region spanning both.
func (r DataRegion) CombineWith(other DataRegion) (DataRegion, error) {
	if !r.Intersects(other) && !r.IsAdjacent(other) {
		return DataRegion{}, fmt.Errorf("regions %v and %v neither intersect nor touch: %w", r, other, ErrInvalidArgument)
	}
	return DataRegion{First: min(r.First, other.First), Last: max(r.Last, other.Last)}, nil
}

// clipTo returns the intersection of the region with bounds. The caller must
// ensure the regions intersect.
func (r DataRegion) clipTo(bounds DataRegion) DataRegion {
	return DataRegion{First: max(r.First, bounds.First), Last: min(r.Last, bounds.Last)}
}

func (r DataRegion) String() string {
	return fmt.Sprintf("[%d, %d]", r.First, r.Last)
}
