// File: bptree.go
// Package bptree provides a thread-safe B+Tree implementation.
// It supports concurrent reads and writes using per-node RWMutex and latch coupling.
// All operations (Insert, Search, Delete) are safe for concurrent use.
package bptree

import (
	"bytes"
	"sync"

	"github.com/segmentio/ksuid"
)

// DefaultOrder is the fallback branching factor if a user-supplied order is too small.
const DefaultOrder = 4

// findChildIndex determines which child pointer to follow for a given search key in an internal node.
// This implements the B+Tree navigation logic where:
// - For internal node with keys [k1, k2, ..., kn] and children [c0, c1, ..., cn]
// - If searchKey < k1, return 0 (follow c0)
// - If k1 <= searchKey < k2, return 1 (follow c1)
// - ...
// - If searchKey >= kn, return n (follow cn)
//
// Uses linear search for simplicity; could be optimized with binary search for large orders.
// Time complexity: O(order)
func findChildIndex(keys [][]byte, searchKey []byte) int {
	for i, k := range keys {
		if bytes.Compare(searchKey, k) < 0 {
			return i
		}
	}
	return len(keys)
}

// BPlusTree represents a thread-safe B+Tree data structure optimized for concurrent access.
// It provides O(log n) search, insert, and delete operations with fine-grained locking.
//
// Key features:
// - Thread-safe for concurrent reads and writes
// - Uses per-node RWMutex for fine-grained concurrency control
// - Implements latch coupling for efficient tree traversal
// - All keys are stored in leaf nodes, internal nodes contain separator keys
// - Supports range scans via leaf node linking
//
// The tree maintains the following invariants:
// - All leaves are at the same level (perfect balance)
// - Internal nodes contain separator keys that guide navigation
// - Splits leave each node (except root) at least half full (order/2 keys)
// - Delete does not merge or redistribute nodes, so a node may drop below that
// - Root has at least 2 children if it's an internal node
type BPlusTree struct {
	root   *node        // Root node of the tree
	order  int          // Maximum number of keys per node
	height int          // Height of the tree (1 for single leaf)
	m      sync.RWMutex // Protects root and height modifications
}

// ForEach walks every key/value pair in ascending key order by following
// the leaf-level next links, and calls fn for each. It holds the tree's
// read lock for the whole walk, so fn must not call back into the tree.
func (tree *BPlusTree) ForEach(fn func(key []byte, value ksuid.KSUID)) {
	tree.m.RLock()
	defer tree.m.RUnlock()

	current := tree.root
	if current == nil {
		return
	}
	for !current.isLeaf {
		if len(current.children) == 0 {
			return
		}
		current = current.children[0]
	}
	for current != nil {
		for i, k := range current.keys {
			fn(k, *current.values[i])
		}
		current = current.next
	}
}

// Height returns the current height of the B+Tree.
// Height is defined as the number of levels in the tree (1 for a single leaf node).
// This method is thread-safe and can be called concurrently with other operations.
func (tree *BPlusTree) Height() int {
	tree.m.RLock()
	h := tree.height
	tree.m.RUnlock()
	return h
}

// node represents a single node in the B+Tree, which can be either an internal node or a leaf node.
// Each node maintains its own RWMutex for fine-grained concurrency control.
//
// For internal nodes (!isLeaf):
// - keys: separator keys that guide navigation to child nodes
// - children: pointers to child nodes (len(children) = len(keys) + 1)
// - values: nil (not used)
//
// For leaf nodes (isLeaf):
// - keys: the actual data keys
// - children: nil (not used)
// - values: the corresponding values for each key
// - next: pointer to the next leaf node for range scan support
//
// Thread safety: Each node has its own RWMutex that protects all its fields.
// Multiple readers can access a node simultaneously, but writers get exclusive access.
type node struct {
	mutex    sync.RWMutex   // Per-node latch for concurrency control
	isLeaf   bool           // True if this is a leaf node, false for internal node
	keys     [][]byte       // Keys stored in this node
	children []*node        // Child nodes (internal nodes only)
	values   []*ksuid.KSUID // Values corresponding to keys (leaf nodes only)
	parent   *node          // Parent node (nil for root)
	next     *node          // Next leaf node for range scans (leaf nodes only)
}

// NewBPlusTree creates and returns a B+Tree with the given order.
// If the specified order < 3, we fall back to DefaultOrder.
func NewBPlusTree(order int) *BPlusTree {
	if order < 3 {
		order = DefaultOrder
	}
	rootNode := &node{
		isLeaf:   true,
		keys:     make([][]byte, 0, order),
		values:   make([]*ksuid.KSUID, 0, order),
		children: make([]*node, 0),
	}
	return &BPlusTree{
		root:   rootNode,
		order:  order,
		height: 1,
	}
}

// Search performs a point lookup for the given key in the B+Tree.
// Returns the associated value and true if the key exists, or nil and false if not found.
//
// This method is thread-safe and can be called concurrently with other operations.
// It uses latch coupling for efficient traversal:
// 1. Acquires tree-level read lock to safely access the root
// 2. Traverses down the tree using read locks on each node
// 3. Uses latch coupling: acquires child lock before releasing parent lock
// 4. Performs linear search on the leaf node keys
//
// Time complexity: O(log n) for tree traversal + O(order) for leaf search
// Space complexity: O(1) additional space
func (tree *BPlusTree) Search(key []byte) (*ksuid.KSUID, bool) {
	tree.m.RLock()
	current := tree.root
	if current == nil {
		tree.m.RUnlock()
		return nil, false
	}

	// Lock the current node in shared mode
	current.mutex.RLock()
	tree.m.RUnlock()

	// Traverse from root to leaf using latch coupling
	// Latch coupling ensures we always hold at least one lock during traversal
	for !current.isLeaf {
		idx := findChildIndex(current.keys, key)
		child := current.children[idx]

		// Latch coupling: acquire child's read lock BEFORE releasing parent's lock
		// This prevents race conditions during tree modifications
		child.mutex.RLock()
		current.mutex.RUnlock()

		// Now safely move to child (we still hold child's lock)
		current = child
	}

	// We're now at a leaf, holding its read lock
	// Search its keys
	for i, k := range current.keys {
		if bytes.Equal(key, k) {
			val := current.values[i]
			// Release leaf lock and return
			current.mutex.RUnlock()
			return val, true
		}
	}

	// Key not found
	current.mutex.RUnlock()
	return nil, false
}

// Insert adds or updates a key-value pair in the B+Tree.
// If the key already exists, its value is updated. If the key is new, it's inserted.
//
// This method is thread-safe and can be called concurrently with other operations.
// It uses a hybrid locking strategy for optimal concurrency:
// 1. Acquires tree-level read lock to safely access the root
// 2. Traverses down the tree using read locks (latch coupling)
// 3. Switches to exclusive lock on the target leaf node for modification
// 4. If the leaf overflows, acquires tree-level exclusive lock for splitting
//
// The insertion process:
// - Finds the correct leaf node for the key
// - Inserts the key-value pair in sorted order
// - Handles node splitting if capacity is exceeded
// - Maintains B+Tree balance and invariants
//
// Time complexity: O(log n) for traversal + O(order) for insertion/splitting
// Space complexity: O(order) for temporary operations during splitting
func (tree *BPlusTree) Insert(key []byte, value ksuid.KSUID) {
	tree.m.RLock()
	// If there's no root, create one (edge case)
	if tree.root == nil {
		tree.m.RUnlock()
		tree.m.Lock()
		if tree.root == nil {
			tree.root = &node{
				isLeaf: true,
				keys:   [][]byte{key},
				values: []*ksuid.KSUID{&value},
			}
			tree.height = 1
		}
		tree.m.Unlock()
		return
	}

	current := tree.root
	current.mutex.RLock()
	tree.m.RUnlock()
	// Traverse down with read locks until we reach a leaf
	for !current.isLeaf {
		idx := findChildIndex(current.keys, key)
		child := current.children[idx]

		// Acquire child's read lock before releasing parent's read lock
		child.mutex.RLock()
		current.mutex.RUnlock()

		current = child
	}

	// We have a read lock on a leaf node, but need to modify => exclusive lock
	current.mutex.RUnlock()
	// Lock the current node in exclusive mode
	current.mutex.Lock()
	defer current.mutex.Unlock()

	// Insert the key/value in sorted order
	insertKeyValueInLeaf(current, key, &value)

	// Check overflow
	if len(current.keys) > tree.order {
		tree.m.Lock()
		defer tree.m.Unlock()
		tree.splitLeaf(current)
	}
}

// Delete removes a key-value pair from the B+Tree if the key exists.
// Returns true if the key was found and removed, false if the key was not found.
//
// This method is thread-safe and can be called concurrently with other operations.
// It uses the same locking strategy as Insert:
// 1. Acquires tree-level read lock to safely access the root
// 2. Traverses down the tree using read locks (latch coupling)
// 3. Switches to exclusive lock on the target leaf node for modification
// 4. Removes the key-value pair if found
//
// Note: This implementation provides basic deletion without rebalancing.
// In a production B+Tree, you would typically implement redistribution and merging
// to maintain optimal space utilization when nodes become underfull.
//
// Time complexity: O(log n) for traversal + O(order) for key removal
// Space complexity: O(1) additional space
func (tree *BPlusTree) Delete(key []byte) bool {
	tree.m.RLock()
	current := tree.root
	if current == nil {
		tree.m.RUnlock()
		return false
	}
	current.mutex.RLock()
	tree.m.RUnlock()

	// Traverse down with read locks until we reach a leaf
	for !current.isLeaf {
		idx := findChildIndex(current.keys, key)
		child := current.children[idx]

		// Latch coupling: acquire child's read lock before releasing the current node
		child.mutex.RLock()
		current.mutex.RUnlock()

		current = child
	}

	// We have a read lock on a leaf node, but need to modify => exclusive lock
	current.mutex.RUnlock()
	current.mutex.Lock()
	defer current.mutex.Unlock()

	// Find and remove the key
	for i, k := range current.keys {
		if bytes.Equal(key, k) {
			// Remove the key and value
			current.keys = append(current.keys[:i], current.keys[i+1:]...)
			current.values = append(current.values[:i], current.values[i+1:]...)
			return true
		}
	}

	// Key not found
	return false
}

// insertKeyValueInLeaf inserts a key-value pair into a leaf node at the correct sorted position.
// If the key already exists, it updates the value. The leaf node must be locked exclusively.
//
// Algorithm:
// 1. Find the insertion point using binary search (linear scan here for simplicity)
// 2. If key exists, update the value in place
// 3. If key is new, make room by shifting elements and insert at the correct position
//
// This maintains the sorted order invariant of B+Tree leaf nodes.
func insertKeyValueInLeaf(leaf *node, key []byte, value *ksuid.KSUID) {
	// Find insertion point (could be optimized with binary search)
	idx := 0
	for idx < len(leaf.keys) && bytes.Compare(leaf.keys[idx], key) < 0 {
		idx++
	}

	// Check if the key already exists at this position
	if idx < len(leaf.keys) && bytes.Equal(leaf.keys[idx], key) {
		leaf.values[idx] = value // Update existing value
		return
	}

	// Insert new key-value pair
	// First, append placeholders to extend slices
	leaf.keys = append(leaf.keys, key)
	leaf.values = append(leaf.values, value)

	// Shift elements to the right to make room at idx
	copy(leaf.keys[idx+1:], leaf.keys[idx:])
	copy(leaf.values[idx+1:], leaf.values[idx:])

	// Insert the new key-value pair at the correct position
	leaf.keys[idx] = key
	leaf.values[idx] = value
}

// splitLeaf handles splitting a leaf node that has overflowed after insertion.
// This maintains the B+Tree invariant that no node exceeds the maximum order.
//
// Algorithm:
// 1. Split the leaf node into two halves at the midpoint
// 2. Create a new leaf node with the right half of keys/values
// 3. Update the linked list pointers for range scan support
// 4. If this is the root, create a new root with the split key
// 5. Otherwise, insert the split key into the parent node
//
// The split key (first key of the new leaf) is promoted to the parent level.
// This ensures balanced tree growth and maintains search properties.
//
// Must be called with leaf node locked in exclusive mode and tree.m held.
func (tree *BPlusTree) splitLeaf(leaf *node) {
	// Calculate split point (middle of the node)
	mid := len(leaf.keys) / 2

	// Create new leaf node with right half of keys and values
	newLeaf := &node{
		isLeaf: true,
		keys:   append(make([][]byte, 0), leaf.keys[mid:]...),         // Copy right half of keys
		values: append(make([]*ksuid.KSUID, 0), leaf.values[mid:]...), // Copy right half of values
		next:   leaf.next,                                             // Link to the original next leaf
		parent: leaf.parent,
	}

	// Adjust the original leaf to contain only left half
	leaf.keys = leaf.keys[:mid]
	leaf.values = leaf.values[:mid]
	leaf.next = newLeaf // Update linked list pointer

	// If the leaf is the root (no parent), create a new root
	if leaf.parent == nil {
		newRoot := &node{
			isLeaf:   false,
			keys:     [][]byte{newLeaf.keys[0]},
			children: []*node{leaf, newLeaf},
		}

		leaf.parent = newRoot
		newLeaf.parent = newRoot

		tree.root = newRoot
		tree.height++

		return
	}

	// Otherwise, insert the new leaf's first key into the parent
	parent := leaf.parent

	// We must lock the parent in exclusive mode before modifying it
	parent.mutex.Lock()
	defer parent.mutex.Unlock()

	insertKeyInParent(tree, parent, newLeaf.keys[0], leaf, newLeaf)
}

// insertKeyInParent inserts `key` and links `leftChild` & `rightChild` in the parent.
// Must be called with the parent locked in exclusive mode.
func insertKeyInParent(tree *BPlusTree,
	parent *node, key []byte,
	leftChild, rightChild *node) {

	idx := 0
	for idx < len(parent.keys) && bytes.Compare(parent.keys[idx], key) < 0 {
		idx++
	}

	parent.keys = append(parent.keys, key)
	copy(parent.keys[idx+1:], parent.keys[idx:])
	parent.keys[idx] = key

	parent.children = append(parent.children, nil)
	copy(parent.children[idx+2:], parent.children[idx+1:])
	parent.children[idx+1] = rightChild

	rightChild.parent = parent

	// Check for overflow
	if len(parent.keys) > tree.order {
		splitInternalNode(tree, parent)
	}
}

// splitInternalNode handles splitting an internal node that has overflowed.
// Must be called with 'internal' locked in exclusive mode.
func splitInternalNode(tree *BPlusTree, internal *node) {
	mid := len(internal.keys) / 2
	splitKey := internal.keys[mid]

	newInternal := &node{
		isLeaf:   false,
		keys:     append(make([][]byte, 0), internal.keys[mid+1:]...),
		children: append([]*node{}, internal.children[mid+1:]...),
		parent:   internal.parent,
	}

	// Update children's parent pointers
	for _, child := range newInternal.children {
		child.parent = newInternal
	}

	// Adjust the original internal node
	internal.keys = internal.keys[:mid]
	internal.children = internal.children[:mid+1]

	if internal.parent == nil {
		// Create a new root
		newRoot := &node{
			isLeaf:   false,
			keys:     [][]byte{splitKey},
			children: []*node{internal, newInternal},
		}
		internal.parent = newRoot
		newInternal.parent = newRoot
		tree.root = newRoot
		tree.height++
		return
	}

	// Insert splitKey into parent
	parent := internal.parent
	parent.mutex.Lock()
	defer parent.mutex.Unlock()

	insertKeyInParent(tree, parent, splitKey, internal, newInternal)
}
