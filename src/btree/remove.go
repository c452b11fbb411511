package btree

import (
	"fmt"

	"pagevault/src/storage"
)

// containsKey is the read-only presence probe Remove uses before touching
// any page, so removing an absent key leaves the tree byte-identical.
func (t *BTree[K, V]) containsKey(key K) (bool, error) {
	pageIndex := t.rootPageIndex
	for pageIndex != storage.NoPageIndex {
		n, err := t.readNode(pageIndex)
		if err != nil {
			return false, err
		}
		index, exact, err := t.searchNode(n, key)
		if err != nil {
			return false, err
		}
		if exact {
			return true, nil
		}
		if n.isLeaf {
			return false, nil
		}
		pageIndex = n.children[index]
	}
	return false, nil
}

// Remove deletes key from the tree and reports whether it was present.
// Children at the minimum fill are repaired by borrowing or merging before
// the descent enters them, so the deletion itself can never underflow a
// node. A key found in an internal node is replaced by its in-order
// predecessor, which is then removed from the left subtree the same way.
func (t *BTree[K, V]) Remove(key K) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openIterators > 0 {
		return false, fmt.Errorf("cannot remove: %w", ErrTreeModified)
	}
	if t.rootPageIndex == storage.NoPageIndex {
		return false, nil
	}
	present, err := t.containsKey(key)
	if err != nil || !present {
		return false, err
	}

	current, err := t.readNode(t.rootPageIndex)
	if err != nil {
		return false, err
	}
	for {
		index, exact, err := t.searchNode(current, key)
		if err != nil {
			return false, err
		}

		if current.isLeaf {
			// The presence probe guarantees the key is here.
			current.deletePairAt(index)
			if err := t.writeNode(current); err != nil {
				return false, err
			}
			break
		}

		if exact {
			left, err := t.readNode(current.children[index])
			if err != nil {
				return false, err
			}
			if left.count() > t.minPairs {
				// Replace the pair with its in-order predecessor and
				// remove the predecessor from the left subtree.
				predKey, predValue, err := t.removeMax(left)
				if err != nil {
					return false, err
				}
				current.keys[index] = predKey
				current.values[index] = predValue
				if err := t.writeNode(current); err != nil {
					return false, err
				}
				break
			}
			right, err := t.readNode(current.children[index+1])
			if err != nil {
				return false, err
			}
			if right.count() > t.minPairs {
				// Rotating from the right moves the target pair down
				// into the left child; continue removing it there.
				if err := t.borrowFromRight(current, index, left, right); err != nil {
					return false, err
				}
				current = left
				continue
			}
			// Both neighbors sit at the minimum: merge them around the
			// target pair and keep removing inside the merged node.
			merged, err := t.mergeInto(current, index, left, right)
			if err != nil {
				return false, err
			}
			current = merged
			continue
		}

		child, err := t.readNode(current.children[index])
		if err != nil {
			return false, err
		}
		if child.count() == t.minPairs {
			child, err = t.repairChild(current, index, child)
			if err != nil {
				return false, err
			}
		}
		current = child
	}

	t.pairCount--
	t.structureVersion++
	if err := t.collapseRoot(); err != nil {
		return false, err
	}
	return true, t.writeHandle()
}

// removeMax removes and returns the largest pair of the subtree rooted at
// sub, repairing minimum-fill children on the way down. The caller
// guarantees sub holds more than the minimum fill.
func (t *BTree[K, V]) removeMax(sub *node) ([]byte, []byte, error) {
	current := sub
	for {
		if current.isLeaf {
			last := current.count() - 1
			maxKey, maxValue := current.keys[last], current.values[last]
			current.deletePairAt(last)
			if err := t.writeNode(current); err != nil {
				return nil, nil, err
			}
			return maxKey, maxValue, nil
		}
		childIndex := current.count()
		child, err := t.readNode(current.children[childIndex])
		if err != nil {
			return nil, nil, err
		}
		if child.count() == t.minPairs {
			child, err = t.repairChild(current, childIndex, child)
			if err != nil {
				return nil, nil, err
			}
		}
		current = child
	}
}

// repairChild brings the child at parent slot index above the minimum fill,
// borrowing from the richer sibling first and merging as the last resort.
// It returns the node the descent should continue into.
func (t *BTree[K, V]) repairChild(parent *node, index int64, child *node) (*node, error) {
	var left, right *node
	var err error
	if index > 0 {
		left, err = t.readNode(parent.children[index-1])
		if err != nil {
			return nil, err
		}
		if left.count() > t.minPairs {
			if err := t.borrowFromLeft(parent, index, child, left); err != nil {
				return nil, err
			}
			return child, nil
		}
	}
	if index < parent.count() {
		right, err = t.readNode(parent.children[index+1])
		if err != nil {
			return nil, err
		}
		if right.count() > t.minPairs {
			if err := t.borrowFromRight(parent, index, child, right); err != nil {
				return nil, err
			}
			return child, nil
		}
	}
	if left != nil {
		return t.mergeInto(parent, index-1, left, child)
	}
	return t.mergeInto(parent, index, child, right)
}

// borrowFromLeft rotates through the separator at index-1: the separator
// drops into the child's first slot and the left sibling's last pair rises
// into the parent. For internal nodes the sibling's last child pointer
// moves with it.
func (t *BTree[K, V]) borrowFromLeft(parent *node, index int64, child, left *node) error {
	sepIndex := index - 1
	if !child.isLeaf {
		child.children = append([]int64{left.children[left.count()]}, child.children...)
	}
	child.keys = append([][]byte{parent.keys[sepIndex]}, child.keys...)
	child.values = append([][]byte{parent.values[sepIndex]}, child.values...)

	last := left.count() - 1
	parent.keys[sepIndex] = left.keys[last]
	parent.values[sepIndex] = left.values[last]
	left.deletePairAt(last)

	if err := t.writeNode(left); err != nil {
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

// borrowFromRight rotates through the separator at index: the separator
// lands in the child's last slot and the right sibling's first pair rises
// into the parent. For internal nodes the sibling's first child pointer
// moves with it.
func (t *BTree[K, V]) borrowFromRight(parent *node, index int64, child, right *node) error {
	child.keys = append(child.keys, parent.keys[index])
	child.values = append(child.values, parent.values[index])
	if !child.isLeaf {
		child.children = append(child.children, right.children[0])
	}

	parent.keys[index] = right.keys[0]
	parent.values[index] = right.values[0]
	right.keys = right.keys[1:]
	right.values = right.values[1:]
	if !right.isLeaf {
		right.children = right.children[1:]
	}

	if err := t.writeNode(right); err != nil {
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

// mergeInto concatenates left, the separator at sepIndex, and right into
// the left node, frees the right node's page, and drops the separator from
// the parent. It returns the merged node.
func (t *BTree[K, V]) mergeInto(parent *node, sepIndex int64, left, right *node) (*node, error) {
	left.keys = append(left.keys, parent.keys[sepIndex])
	left.values = append(left.values, parent.values[sepIndex])
	appendPairs(left, right, 0, t.maxMove)
	parent.deletePairAt(sepIndex)

	if err := t.writeNode(left); err != nil {
		return nil, err
	}
	if err := t.writeNode(parent); err != nil {
		return nil, err
	}
	if _, err := t.store.FreePage(right.pageIndex); err != nil {
		return nil, fmt.Errorf("failed to free merged page %d: %w", right.pageIndex, err)
	}
	t.structureVersion++
	return left, nil
}

// collapseRoot retires an emptied root: an empty internal root hands the
// tree to its single child, an empty leaf root leaves the tree empty.
func (t *BTree[K, V]) collapseRoot() error {
	root, err := t.readNode(t.rootPageIndex)
	if err != nil {
		return err
	}
	if root.count() > 0 {
		return nil
	}
	oldRoot := t.rootPageIndex
	if root.isLeaf {
		t.rootPageIndex = storage.NoPageIndex
	} else {
		t.rootPageIndex = root.children[0]
	}
	if _, err := t.store.FreePage(oldRoot); err != nil {
		return fmt.Errorf("failed to free old root page %d: %w", oldRoot, err)
	}
	t.logger.Debugf("Collapsed root page %d", oldRoot)
	return nil
}
