package btree

import (
	"sort"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// NodeID names a node in the NodeCache collaborator. It is opaque to this
// package; NodeCache implementations are free to use it as a map key, a
// slot index into a preallocated array, or anything else.
type NodeID uint64

// NilNode is the zero NodeID, used for "no parent" / "no child".
const NilNode NodeID = 0

// Flags record the lifecycle state of an in-memory Node. They are stored
// as a single atomic word because the reachability protocol flips
// them from multiple goroutines: the writing goroutine clears InFlight,
// the allocating goroutine sets Dirty, and the finalizer clears Reachable.
type Flags uint32

const (
	FlagDirty Flags = 1 << iota
	FlagNeedWrite
	FlagWriteInFlight
	FlagNeverWritten
	FlagReachable
	FlagFreed
	FlagAccessed

	// FlagNeedRewrite schedules the node for relocation: the next splice
	// that lands in it takes the rewrite path even if the node has room,
	// so GC can move a node off a device without issuing its own request.
	FlagNeedRewrite
)

// Node is an in-memory interior (or leaf) node of one btree. Keys holds the
// node's live key set in Pos order; it is append-mostly and split/merge
// rewrite it wholesale rather than mutating it in place, consistent with
// the copy-on-write discipline the reachability protocol requires of the
// owning node itself.
type Node struct {
	id     NodeID
	Btree  ID
	Level  uint8 // 0 == leaf
	Min    Pos
	Max    Pos
	Format Format
	Ptrs   []Ptr // this node's own on-disk replicas, once written

	lock  nodeLock
	flags uint32 // atomic Flags bitmask

	keys []Key

	Parent   NodeID
	Sequence uint64 // bumped on every rewrite, used to detect stale pointers
}

// NewNode allocates a fresh, empty, dirty node covering [min, max).
func NewNode(btree ID, level uint8, min, max Pos) *Node {
	n := &Node{
		Btree: btree,
		Level: level,
		Min:   min,
		Max:   max,
	}
	atomic.StoreUint32(&n.flags, uint32(FlagDirty|FlagNeverWritten))
	return n
}

// ID returns the node's cache identity, assigned by NodeCache.Alloc.
func (n *Node) ID() NodeID { return n.id }

// SetID is called exactly once, by the NodeCache that allocated n.
func (n *Node) SetID(id NodeID) { n.id = id }

// Flags returns the current flag bitmask.
func (n *Node) Flags() Flags { return Flags(atomic.LoadUint32(&n.flags)) }

// SetFlags ORs the given bits into the flag word.
func (n *Node) SetFlags(f Flags) { atomicOr(&n.flags, uint32(f)) }

// ClearFlags ANDs the given bits out of the flag word.
func (n *Node) ClearFlags(f Flags) { atomicAndNot(&n.flags, uint32(f)) }

func atomicOr(addr *uint32, bits uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|bits) {
			return
		}
	}
}

func atomicAndNot(addr *uint32, bits uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old&^bits) {
			return
		}
	}
}

// Keys returns the node's live key set. Callers must hold at least a read
// lock on the node.
func (n *Node) Keys() []Key { return n.keys }

// SetKeys replaces the node's live key set wholesale. Callers must hold
// the write lock.
func (n *Node) SetKeys(keys []Key) {
	n.keys = keys
	n.Sequence++
}

// KeyCount reports how many live keys the node holds.
func (n *Node) KeyCount() int { return len(n.keys) }

// find returns the index of the first key whose Pos is >= pos, using
// binary search over the sorted key set (a linear scan doesn't hold up
// once nodes carry hundreds of interior pointers).
func (n *Node) find(pos Pos) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return !n.keys[i].Pos.Less(pos)
	})
}

// Lookup returns the key covering pos, if any.
func (n *Node) Lookup(pos Pos) (Key, bool) {
	i := n.find(pos)
	if i < len(n.keys) && n.keys[i].Pos.Equal(pos) {
		return n.keys[i], true
	}
	if i > 0 && n.keys[i-1].End().Cmp(pos) > 0 {
		return n.keys[i-1], true
	}
	return Key{}, false
}

// Insert inserts or replaces k in the live key set, keeping it sorted.
func (n *Node) Insert(k Key) {
	i := n.find(k.Pos)
	if i < len(n.keys) && n.keys[i].Pos.Equal(k.Pos) {
		n.keys[i] = k
		n.Sequence++
		return
	}
	n.keys = slices.Insert(n.keys, i, k)
	n.Sequence++
}

// ChildAt returns the child pointer responsible for pos in an interior
// node (Level > 0): the last key whose Pos is <= pos.
func (n *Node) ChildAt(pos Pos) (Key, bool) {
	i := n.find(pos)
	if i < len(n.keys) && n.keys[i].Pos.Equal(pos) {
		return n.keys[i], true
	}
	if i == 0 {
		return Key{}, false
	}
	return n.keys[i-1], true
}

// Overfull reports whether the node should split: its live key count has
// crossed the Format's capacity threshold.
func (n *Node) Overfull() bool {
	return len(n.keys) > n.Format.MaxKeys()
}

// Underfull reports whether the node is a merge candidate: below
// the low-water mark and not the root.
func (n *Node) Underfull() bool {
	return len(n.keys) < n.Format.MinKeys() && n.Parent != NilNode
}
