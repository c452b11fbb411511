package btree

import (
	"encoding/binary"
	"fmt"

	"pagevault/src/binaryutil"
	"pagevault/src/storage"
)

// Node layout on a page, all little-endian:
//   - byte 0: flags (bit 0 set for leaf nodes)
//   - bytes 1..8: live pair count
//   - bytes 9..16: reserved
//   - maxPairs key slots of keySize bytes each
//   - maxPairs value slots of valueSize bytes each
//   - maxPairs+1 child page indices (internal nodes only)
//   - padding up to the page size
//
// Live slots occupy [0, count); the bytes of unused slots are undefined.
const (
	nodeFlagsOffset = 0
	nodeCountOffset = 1
	nodeHeaderSize  = 17

	nodeFlagLeaf = 0x01

	childIndexSize = 8
)

// minPairCapacity is the smallest legal maximum pair count of a node.
const minPairCapacity = 3

// maxPairCapacity returns the largest odd pair count M such that the node
// header, M pairs and M+1 child indices fit the page. It returns zero when
// even minPairCapacity does not fit.
func maxPairCapacity(pageSize, keySize, valueSize int64) int64 {
	m := (pageSize - nodeHeaderSize - childIndexSize) / (keySize + valueSize + childIndexSize)
	if m%2 == 0 {
		m--
	}
	if m < minPairCapacity {
		return 0
	}
	return m
}

// node is the in-memory form of one B-tree page. Keys and values stay in
// their serialized form; only the slot bookkeeping is materialized.
type node struct {
	pageIndex int64
	isLeaf    bool
	keys      [][]byte
	values    [][]byte
	children  []int64
}

func (n *node) count() int64 {
	return int64(len(n.keys))
}

func (t *BTree[K, V]) keySlotOffset(i int64) int64 {
	return nodeHeaderSize + i*t.keySize
}

func (t *BTree[K, V]) valueSlotOffset(i int64) int64 {
	return nodeHeaderSize + t.maxPairs*t.keySize + i*t.valueSize
}

func (t *BTree[K, V]) childSlotOffset(i int64) int64 {
	return nodeHeaderSize + t.maxPairs*(t.keySize+t.valueSize) + i*childIndexSize
}

// readNode loads a node from its page. The page is read in four bounded
// ranges (header, keys, values, children) so a caching store serves the
// whole node from one admitted page.
func (t *BTree[K, V]) readNode(pageIndex int64) (*node, error) {
	var header [nodeHeaderSize]byte
	if err := t.store.ReadFrom(pageIndex, 0, header[:], 0, nodeHeaderSize); err != nil {
		return nil, fmt.Errorf("failed to read node header of page %d: %w", pageIndex, err)
	}
	count := binaryutil.Int64(header[nodeCountOffset:], binary.LittleEndian)
	if count < 0 || count > t.maxPairs {
		return nil, fmt.Errorf("node on page %d claims %d pairs with capacity %d: %w", pageIndex, count, t.maxPairs, storage.ErrCorrupt)
	}
	n := &node{
		pageIndex: pageIndex,
		isLeaf:    header[nodeFlagsOffset]&nodeFlagLeaf != 0,
		keys:      make([][]byte, count),
		values:    make([][]byte, count),
	}
	if count > 0 {
		keyBlock := make([]byte, count*t.keySize)
		if err := t.store.ReadFrom(pageIndex, t.keySlotOffset(0), keyBlock, 0, count*t.keySize); err != nil {
			return nil, fmt.Errorf("failed to read keys of page %d: %w", pageIndex, err)
		}
		valueBlock := make([]byte, count*t.valueSize)
		if err := t.store.ReadFrom(pageIndex, t.valueSlotOffset(0), valueBlock, 0, count*t.valueSize); err != nil {
			return nil, fmt.Errorf("failed to read values of page %d: %w", pageIndex, err)
		}
		for i := int64(0); i < count; i++ {
			n.keys[i] = keyBlock[i*t.keySize : (i+1)*t.keySize : (i+1)*t.keySize]
			n.values[i] = valueBlock[i*t.valueSize : (i+1)*t.valueSize : (i+1)*t.valueSize]
		}
	}
	if !n.isLeaf {
		childBlock := make([]byte, (count+1)*childIndexSize)
		if err := t.store.ReadFrom(pageIndex, t.childSlotOffset(0), childBlock, 0, (count+1)*childIndexSize); err != nil {
			return nil, fmt.Errorf("failed to read children of page %d: %w", pageIndex, err)
		}
		n.children = make([]int64, count+1)
		for i := int64(0); i <= count; i++ {
			n.children[i] = binaryutil.Int64(childBlock[i*childIndexSize:], binary.LittleEndian)
		}
	}
	return n, nil
}

// writeNode persists a node's header and live slots.
func (t *BTree[K, V]) writeNode(n *node) error {
	count := n.count()
	var header [nodeHeaderSize]byte
	if n.isLeaf {
		header[nodeFlagsOffset] = nodeFlagLeaf
	}
	binaryutil.PutInt64(header[nodeCountOffset:], binary.LittleEndian, count)
	if err := t.store.WriteTo(n.pageIndex, 0, header[:], 0, nodeHeaderSize); err != nil {
		return fmt.Errorf("failed to write node header of page %d: %w", n.pageIndex, err)
	}
	if count > 0 {
		keyBlock := make([]byte, count*t.keySize)
		valueBlock := make([]byte, count*t.valueSize)
		for i := int64(0); i < count; i++ {
			copy(keyBlock[i*t.keySize:], n.keys[i])
			copy(valueBlock[i*t.valueSize:], n.values[i])
		}
		if err := t.store.WriteTo(n.pageIndex, t.keySlotOffset(0), keyBlock, 0, count*t.keySize); err != nil {
			return fmt.Errorf("failed to write keys of page %d: %w", n.pageIndex, err)
		}
		if err := t.store.WriteTo(n.pageIndex, t.valueSlotOffset(0), valueBlock, 0, count*t.valueSize); err != nil {
			return fmt.Errorf("failed to write values of page %d: %w", n.pageIndex, err)
		}
	}
	if !n.isLeaf {
		childBlock := make([]byte, (count+1)*childIndexSize)
		for i := int64(0); i <= count; i++ {
			binaryutil.PutInt64(childBlock[i*childIndexSize:], binary.LittleEndian, n.children[i])
		}
		if err := t.store.WriteTo(n.pageIndex, t.childSlotOffset(0), childBlock, 0, (count+1)*childIndexSize); err != nil {
			return fmt.Errorf("failed to write children of page %d: %w", n.pageIndex, err)
		}
	}
	return nil
}

// insertPairAt inserts a key/value (and, for internal nodes, the child
// pointer to the right of the pair) at index i.
func (n *node) insertPairAt(i int64, key, value []byte, rightChild int64) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.values = append(n.values, nil)
	copy(n.values[i+1:], n.values[i:])
	n.values[i] = value
	if !n.isLeaf {
		n.children = append(n.children, 0)
		copy(n.children[i+2:], n.children[i+1:])
		n.children[i+1] = rightChild
	}
}

// deletePairAt removes the pair at index i; for internal nodes the child
// pointer to the right of the pair goes with it.
func (n *node) deletePairAt(i int64) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
	if !n.isLeaf {
		n.children = append(n.children[:i+1], n.children[i+2:]...)
	}
}

// appendPairs moves pairs (and trailing children) from src[from:] onto dst
// in chunks of at most maxMove pairs.
func appendPairs(dst, src *node, from int64, maxMove int64) {
	total := src.count() - from
	for moved := int64(0); moved < total; {
		chunk := min(maxMove, total-moved)
		dst.keys = append(dst.keys, src.keys[from+moved:from+moved+chunk]...)
		dst.values = append(dst.values, src.values[from+moved:from+moved+chunk]...)
		moved += chunk
	}
	if !src.isLeaf {
		dst.children = append(dst.children, src.children[from:]...)
	}
}

// truncatePairs drops every pair from index i on (and, for internal nodes,
// every child past i).
func (n *node) truncatePairs(i int64) {
	n.keys = n.keys[:i]
	n.values = n.values[:i]
	if !n.isLeaf {
		n.children = n.children[:i+1]
	}
}
