package storage

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// DataRegionSet maintains a minimal disjoint cover of DataRegions: members
// are kept sorted by First and are pairwise non-intersecting and
// non-adjacent. Adding a region coalesces it with every member it touches;
// removing a region trims or splits the members that cover it.
//
// The set tracks a structure version so that enumeration can fail fast when
// the set is mutated mid-iteration.
type DataRegionSet struct {
	regions []DataRegion
	version uint64
}

// NewDataRegionSet creates an empty region set.
func NewDataRegionSet() *DataRegionSet {
	return &DataRegionSet{}
}

// Count returns the number of disjoint member regions.
func (s *DataRegionSet) Count() int {
	return len(s.regions)
}

// RegionAt returns the i-th member region in ascending order.
func (s *DataRegionSet) RegionAt(i int) (DataRegion, error) {
	if i < 0 || i >= len(s.regions) {
		return DataRegion{}, fmt.Errorf("region index %d with %d regions: %w", i, len(s.regions), ErrOutOfRange)
	}
	return s.regions[i], nil
}

// TotalLength returns the total number of bytes covered by the set.
func (s *DataRegionSet) TotalLength() int64 {
	var total int64
	for _, r := range s.regions {
		total += r.Length()
	}
	return total
}

// searchFirstCandidate returns the index of the first member that could
// intersect or touch r, assuming the members are sorted by First.
func (s *DataRegionSet) searchFirstCandidate(r DataRegion) int {
	return sort.Search(len(s.regions), func(i int) bool {
		// Members whose Last reaches r.First-1 touch or overlap r.
		return s.regions[i].Last+1 >= r.First
	})
}

// Add inserts r into the set, coalescing it with every member it intersects
// or touches, and returns the final combined region that contains r. Adding
// a region that is already covered by a member returns that member
// unchanged.
func (s *DataRegionSet) Add(r DataRegion) DataRegion {
	lo := s.searchFirstCandidate(r)

	// Walk the run of members that intersect or touch r. The members are
	// disjoint and sorted, so the run is contiguous.
	hi := lo
	combined := r
	for hi < len(s.regions) && (s.regions[hi].Intersects(r) || s.regions[hi].IsAdjacent(r)) {
		if s.regions[hi].ContainsRegion(r) {
			// Fully covered already; the set does not change.
			return s.regions[hi]
		}
		combined, _ = combined.CombineWith(s.regions[hi])
		hi++
	}

	if lo == hi {
		// Nothing to merge, insert at the sorted position.
		s.regions = append(s.regions, DataRegion{})
		copy(s.regions[lo+1:], s.regions[lo:])
		s.regions[lo] = combined
		s.version++
		return combined
	}

	s.regions[lo] = combined
	s.regions = append(s.regions[:lo+1], s.regions[hi:]...)
	s.version++
	return combined
}

// Remove deletes r's coverage from the set. Members partially covered by r
// are trimmed; a member strictly containing r is split in two.
func (s *DataRegionSet) Remove(r DataRegion) {
	lo := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].Last >= r.First
	})
	if lo == len(s.regions) || !s.regions[lo].Intersects(r) {
		return
	}

	var replacement []DataRegion
	hi := lo
	changed := false
	for hi < len(s.regions) && s.regions[hi].Intersects(r) {
		m := s.regions[hi]
		if m.First < r.First {
			replacement = append(replacement, DataRegion{First: m.First, Last: r.First - 1})
		}
		if m.Last > r.Last {
			replacement = append(replacement, DataRegion{First: r.Last + 1, Last: m.Last})
		}
		changed = true
		hi++
	}
	if !changed {
		return
	}

	tail := make([]DataRegion, len(s.regions)-hi)
	copy(tail, s.regions[hi:])
	s.regions = append(s.regions[:lo], replacement...)
	s.regions = append(s.regions, tail...)
	s.version++
}

// RegionsWithin returns the intersections of the members with q, clipped to
// q, in ascending order.
func (s *DataRegionSet) RegionsWithin(q DataRegion) []DataRegion {
	var result []DataRegion
	lo := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].Last >= q.First
	})
	for i := lo; i < len(s.regions) && s.regions[i].First <= q.Last; i++ {
		if s.regions[i].Intersects(q) {
			result = append(result, s.regions[i].clipTo(q))
		}
	}
	return result
}

// MissingRegions returns the ordered complement of the set's coverage inside
// q: the sub-regions of q that no member covers.
func (s *DataRegionSet) MissingRegions(q DataRegion) []DataRegion {
	var result []DataRegion
	next := q.First
	for _, covered := range s.RegionsWithin(q) {
		if covered.First > next {
			result = append(result, DataRegion{First: next, Last: covered.First - 1})
		}
		next = covered.Last + 1
	}
	if next <= q.Last {
		result = append(result, DataRegion{First: next, Last: q.Last})
	}
	return result
}

// ForEach calls fn for every member region in ascending order. It fails with
// ErrSetModified if the set is structurally mutated while enumerating, and
// stops early without error when fn returns false.
func (s *DataRegionSet) ForEach(fn func(r DataRegion) bool) error {
	version := s.version
	for i := 0; i < len(s.regions); i++ {
		if s.version != version {
			return ErrSetModified
		}
		if !fn(s.regions[i]) {
			return nil
		}
	}
	if s.version != version {
		return ErrSetModified
	}
	return nil
}

// Equal reports whether two sets cover exactly the same regions.
func (s *DataRegionSet) Equal(other *DataRegionSet) bool {
	if other == nil || len(s.regions) != len(other.regions) {
		return false
	}
	for i, r := range s.regions {
		if r != other.regions[i] {
			return false
		}
	}
	return true
}

// Hash returns a stable hash over the member regions. Equal sets hash to the
// same value.
func (s *DataRegionSet) Hash() uint64 {
	h := fnv.New64a()
	var buf [16]byte
	for _, r := range s.regions {
		for i := 0; i < 8; i++ {
			buf[i] = byte(uint64(r.First) >> (8 * i))
			buf[8+i] = byte(uint64(r.Last) >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (s *DataRegionSet) String() string {
	parts := make([]string, len(s.regions))
	for i, r := range s.regions {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
