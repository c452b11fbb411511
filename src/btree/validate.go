package btree

import (
	"context"
	"fmt"

	"pagevault/src/helpers"
	"pagevault/src/storage"
)

// Validate recursively checks the structural invariants of the tree: node
// fill bounds, in-node and cross-subtree key ordering, child allocation and
// distinctness, uniform leaf depth, and the exact pair count. It is only
// legal on a read-only store, reports progress per visited node, and fails
// with ErrCorrupt on the first violation.
func (t *BTree[K, V]) Validate(ctx context.Context, progress helpers.ProgressFunc) error {
	if !t.store.IsReadOnly() {
		return fmt.Errorf("cannot validate: %w", ErrNotReadOnly)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageIndex == storage.NoPageIndex {
		if t.pairCount != 0 {
			return fmt.Errorf("empty tree claims %d pairs: %w", t.pairCount, storage.ErrCorrupt)
		}
		return nil
	}

	v := &validator[K, V]{
		tree:     t,
		ctx:      ctx,
		progress: progress,
		visited:  make(map[int64]bool),
	}
	pairs, _, err := v.checkSubtree(t.rootPageIndex, nil, nil, true)
	if err != nil {
		return err
	}
	if pairs != t.pairCount {
		return fmt.Errorf("tree holds %d pairs but the handle says %d: %w", pairs, t.pairCount, storage.ErrCorrupt)
	}
	return nil
}

type validator[K any, V any] struct {
	tree     *BTree[K, V]
	ctx      context.Context
	progress helpers.ProgressFunc
	visited  map[int64]bool
	nodes    int64
}

// checkSubtree validates the subtree rooted at pageIndex against the open
// key interval (lower, upper) and returns its pair count and leaf depth.
func (v *validator[K, V]) checkSubtree(pageIndex int64, lower, upper *K, isRoot bool) (int64, int64, error) {
	t := v.tree
	if err := v.ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("validation cancelled: %w", err)
	}
	if !t.store.IsPageAllocated(pageIndex) {
		return 0, 0, fmt.Errorf("referenced page %d is not allocated: %w", pageIndex, storage.ErrCorrupt)
	}
	if v.visited[pageIndex] {
		return 0, 0, fmt.Errorf("page %d is referenced twice: %w", pageIndex, storage.ErrCorrupt)
	}
	v.visited[pageIndex] = true

	n, err := t.readNode(pageIndex)
	if err != nil {
		return 0, 0, err
	}
	v.nodes++
	helpers.Report(v.progress, v.nodes, t.store.AllocatedPageCount())

	count := n.count()
	if count == 0 {
		return 0, 0, fmt.Errorf("node on page %d is empty: %w", pageIndex, storage.ErrCorrupt)
	}
	if count > t.maxPairs {
		return 0, 0, fmt.Errorf("node on page %d holds %d pairs over capacity %d: %w", pageIndex, count, t.maxPairs, storage.ErrCorrupt)
	}
	if !isRoot && count < t.minPairs {
		return 0, 0, fmt.Errorf("node on page %d holds %d pairs below minimum %d: %w", pageIndex, count, t.minPairs, storage.ErrCorrupt)
	}

	// Keys must be strictly increasing and stay inside the separator
	// bounds inherited from the ancestors.
	keys := make([]K, count)
	for i := int64(0); i < count; i++ {
		key, err := t.keySerializer.Deserialize(n.keys[i])
		if err != nil {
			return 0, 0, fmt.Errorf("failed to decode key %d of page %d: %w", i, pageIndex, err)
		}
		keys[i] = key
		if i > 0 && t.compare(keys[i-1], key) >= 0 {
			return 0, 0, fmt.Errorf("keys out of order at slot %d of page %d: %w", i, pageIndex, storage.ErrCorrupt)
		}
	}
	if lower != nil && t.compare(keys[0], *lower) <= 0 {
		return 0, 0, fmt.Errorf("key below the separator bound on page %d: %w", pageIndex, storage.ErrCorrupt)
	}
	if upper != nil && t.compare(keys[count-1], *upper) >= 0 {
		return 0, 0, fmt.Errorf("key above the separator bound on page %d: %w", pageIndex, storage.ErrCorrupt)
	}

	if n.isLeaf {
		return count, 0, nil
	}

	pairs := count
	var leafDepth int64 = -1
	for i := int64(0); i <= count; i++ {
		childLower, childUpper := lower, upper
		if i > 0 {
			childLower = &keys[i-1]
		}
		if i < count {
			childUpper = &keys[i]
		}
		childPairs, depth, err := v.checkSubtree(n.children[i], childLower, childUpper, false)
		if err != nil {
			return 0, 0, err
		}
		if leafDepth == -1 {
			leafDepth = depth
		} else if depth != leafDepth {
			return 0, 0, fmt.Errorf("uneven leaf depth under page %d: %w", pageIndex, storage.ErrCorrupt)
		}
		pairs += childPairs
	}
	return pairs, leafDepth + 1, nil
}
