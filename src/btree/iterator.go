package btree

import (
	"context"
	"fmt"

	"pagevault/src/storage"
)

// iterFrame tracks the traversal position inside one node. For internal
// frames, descended records whether the child at the current position has
// already been visited.
type iterFrame struct {
	node      *node
	pos       int64
	descended bool
}

// Iterator walks the tree's pairs in key order. It is lazy and single-use:
// a fresh call to Iterate yields a new sequence. While an iterator is open
// the tree is logically read-only; mutations fail until Close.
type Iterator[K any, V any] struct {
	tree      *BTree[K, V]
	ctx       context.Context
	version   uint64
	ascending bool
	stack     []iterFrame
	key       K
	value     V
	err       error
	done      bool
	closed    bool
}

// Iterate starts an ordered traversal. The returned iterator must be
// closed; until then every Insert, UpdateValue and Remove on the tree fails
// with ErrTreeModified.
func (t *BTree[K, V]) Iterate(ctx context.Context, ascending bool) *Iterator[K, V] {
	t.mu.Lock()
	t.openIterators++
	version := t.structureVersion
	rootIndex := t.rootPageIndex
	t.mu.Unlock()

	it := &Iterator[K, V]{
		tree:      t,
		ctx:       ctx,
		version:   version,
		ascending: ascending,
	}
	if rootIndex == storage.NoPageIndex {
		it.done = true
		it.release()
		return it
	}
	root, err := t.readNode(rootIndex)
	if err != nil {
		it.fail(err)
		return it
	}
	it.push(root)
	return it
}

func (it *Iterator[K, V]) push(n *node) {
	pos := int64(0)
	if !it.ascending {
		if n.isLeaf {
			pos = n.count() - 1
		} else {
			pos = n.count()
		}
	}
	it.stack = append(it.stack, iterFrame{node: n, pos: pos})
}

func (it *Iterator[K, V]) fail(err error) {
	it.err = err
	it.release()
}

// release gives the tree back to writers. Safe to call more than once.
func (it *Iterator[K, V]) release() {
	if it.closed {
		return
	}
	it.closed = true
	it.tree.mu.Lock()
	it.tree.openIterators--
	it.tree.mu.Unlock()
}

// Close ends the traversal and unblocks mutations.
func (it *Iterator[K, V]) Close() {
	it.done = true
	it.release()
}

// Err returns the error that ended the traversal, if any.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

// Key returns the key of the current pair. Valid after Next reports true.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value of the current pair. Valid after Next reports
// true.
func (it *Iterator[K, V]) Value() V {
	return it.value
}

// emit decodes the pair at slot i of n into the iterator's current pair.
func (it *Iterator[K, V]) emit(n *node, i int64) bool {
	key, err := it.tree.keySerializer.Deserialize(n.keys[i])
	if err != nil {
		it.fail(fmt.Errorf("failed to decode key: %w", err))
		return false
	}
	value, err := it.tree.valueSerializer.Deserialize(n.values[i])
	if err != nil {
		it.fail(fmt.Errorf("failed to decode value: %w", err))
		return false
	}
	it.key = key
	it.value = value
	return true
}

// Next advances to the next pair in order. It reports false when the
// sequence is exhausted, cancelled, or fails; Err distinguishes the cases.
func (it *Iterator[K, V]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.fail(fmt.Errorf("traversal cancelled: %w", err))
		return false
	}
	it.tree.mu.RLock()
	versionNow := it.tree.structureVersion
	it.tree.mu.RUnlock()
	if versionNow != it.version {
		it.fail(fmt.Errorf("cannot continue traversal: %w", ErrTreeModified))
		return false
	}

	for len(it.stack) > 0 {
		frame := &it.stack[len(it.stack)-1]
		n := frame.node

		if n.isLeaf {
			if it.ascending && frame.pos < n.count() {
				ok := it.emit(n, frame.pos)
				frame.pos++
				return ok
			}
			if !it.ascending && frame.pos >= 0 {
				ok := it.emit(n, frame.pos)
				frame.pos--
				return ok
			}
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		if !frame.descended {
			frame.descended = true
			child, err := it.tree.readNode(n.children[frame.pos])
			if err != nil {
				it.fail(err)
				return false
			}
			it.push(child)
			continue
		}

		if it.ascending {
			if frame.pos < n.count() {
				ok := it.emit(n, frame.pos)
				frame.pos++
				frame.descended = false
				return ok
			}
		} else {
			if frame.pos > 0 {
				frame.pos--
				ok := it.emit(n, frame.pos)
				frame.descended = false
				return ok
			}
		}
		it.stack = it.stack[:len(it.stack)-1]
	}

	it.done = true
	it.release()
	return false
}
