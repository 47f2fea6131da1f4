package btree

import "context"

// ReserveClass selects which allocation watermark a node reservation draws
// from — btree metadata gets priority over regular data so a nearly-full
// filesystem can still run GC and frees space.
type ReserveClass uint8

const (
	// ReserveNormal draws from the general pool; used for data writes
	// outside this package's scope.
	ReserveNormal ReserveClass = iota
	// ReserveBtree is the metadata watermark interior-node writes use.
	ReserveBtree
	// ReserveBtreeInterior is reserved for nodes above leaf level, which
	// must never fail to allocate once a split has already committed to
	// writing a new interior node — failing here would orphan the split's
	// new leaves.
	ReserveBtreeInterior
)

// OpenBucketRef is a handle to a partially-written allocation bucket the
// allocator is still appending to. Node writes that land in the same
// bucket as a recent write can skip a fresh bucket open.
type OpenBucketRef struct {
	Dev    uint32
	Bucket uint64
	Gen    uint8
}

// WritePoint groups node writes by (btree, level) so that nodes likely to
// be read together end up physically near each other — mirrors the
// allocator's write-point grouping for regular extents.
type WritePoint struct {
	Btree ID
	Level uint8
}

// Allocator is the sector-allocation collaborator. Implemented by
// pkg/alloc; out of this package's scope is how it tracks free space.
type Allocator interface {
	// Reserve asks for enough sectors for one node write at the given
	// class and write point. It may block if the reserve cache is
	// empty and the cannibalize lock is held by another goroutine.
	Reserve(ctx context.Context, class ReserveClass, wp WritePoint) ([]Ptr, error)

	// Release returns an unused reservation (e.g. a split that turned out
	// not to be needed) to the free pool without writing anything.
	Release(ptrs []Ptr)

	// MarkFreed records that ptrs are no longer referenced by any
	// reachable node and may be reused once the journal entry that
	// recorded the free has been durably committed.
	MarkFreed(ptrs []Ptr)

	// TryCannibalize attempts to take the cannibalize lock, which lets the
	// caller forcibly close open buckets to satisfy a reservation that
	// would otherwise block. Returns ErrCannibalizeLockHeld if another
	// goroutine already holds it.
	TryCannibalize() error

	// CannibalizeUnlock releases a previously taken cannibalize lock.
	CannibalizeUnlock()
}

// JournalPreres is a pre-reservation of journal log space, taken before an
// update transaction starts so that committing it can never block on log
// space once the transaction has already taken node locks.
type JournalPreres struct {
	Bytes uint32
}

// JournalPin keeps a journal entry from being reclaimed until the node it
// describes has itself been written and is reachable from the btree root
// — releasing a pin early would let the journal overwrite the only
// record of a node that isn't safely on disk yet.
type JournalPin struct {
	Seq uint64
}

// JournalEntry is one journal record: a set of interior-node key updates
// (a split/merge/rewrite's logical effect, replayed if the nodes
// themselves haven't reached disk yet) plus a complete snapshot of every
// btree's root pointer as of the moment the entry was appended. Carrying
// the whole root set on every entry, not just the one that changed,
// means recovery can reconstruct the Root Registry from whichever
// journal entry happens to be the last one read off any prefix of the
// log.
type JournalEntry struct {
	Btree ID
	Keys  []Key
	Roots []RootPtr
}

// Journal is the write-ahead log collaborator.
type Journal interface {
	// Preres reserves bytes of log space up front.
	Preres(ctx context.Context, bytes uint32) (JournalPreres, error)

	// Add appends entry using a previously taken preres, returning a pin
	// that must be released once the entry's effects are durable via the
	// btree itself (i.e. once willMakeReachable's node write completes).
	Add(pre JournalPreres, entry JournalEntry) (JournalPin, error)

	// Flush blocks until every entry appended so far is fsynced.
	Flush(ctx context.Context) error

	// PinRelease drops a pin taken by Add once it's safe to reclaim that
	// log region.
	PinRelease(pin JournalPin)
}

// NodeCache is the in-memory node cache collaborator: it owns node
// identity (NodeID allocation), eviction, and the mapping from NodeID to
// *Node. Implemented by pkg/nodecache.
type NodeCache interface {
	// Alloc creates a brand new node, assigns it an ID, and pins it (ref
	// count 1) so it can't be evicted before the caller looks it up.
	Alloc(btree ID, level uint8, min, max Pos) *Node

	// Get returns the node for id, pinning it. Callers must call Put when
	// done. Returns ErrStaleNode if id has been freed.
	Get(id NodeID) (*Node, error)

	// Put releases a pin taken by Alloc or Get.
	Put(n *Node)

	// Free marks id's node as freed: it's dropped from the cache once its
	// pin count reaches zero and no journal pin still references it.
	Free(id NodeID)

	// Evict asks the cache to drop some number of unpinned, clean nodes
	// to make room. Nothing in this package calls it; the cannibalize
	// path goes through Allocator.TryCannibalize instead.
	Evict(n int) int
}
