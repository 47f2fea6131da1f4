package btree

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeNodeCache is a minimal in-memory NodeCache good enough to drive the
// update engine's own tests without pulling in pkg/nodecache (which in
// turn would pull this package in, and does in its own tests — this fake
// keeps pkg/btree's test suite self-contained).
type fakeNodeCache struct {
	mu    sync.Mutex
	next  NodeID
	nodes map[NodeID]*Node
	freed map[NodeID]bool
}

func newFakeNodeCache() *fakeNodeCache {
	return &fakeNodeCache{
		nodes: make(map[NodeID]*Node),
		freed: make(map[NodeID]bool),
	}
}

func (c *fakeNodeCache) Alloc(btree ID, level uint8, min, max Pos) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	n := NewNode(btree, level, min, max)
	n.SetID(c.next)
	c.nodes[c.next] = n
	return n
}

func (c *fakeNodeCache) Get(id NodeID) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed[id] {
		return nil, ErrStaleNode
	}
	n, ok := c.nodes[id]
	if !ok {
		return nil, ErrStaleNode
	}
	return n, nil
}

func (c *fakeNodeCache) Put(n *Node) {}

func (c *fakeNodeCache) Free(id NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freed[id] = true
	delete(c.nodes, id)
}

func (c *fakeNodeCache) Evict(n int) int { return 0 }

// fakeAllocator hands out monotonically increasing sector offsets and
// never runs out, unless noSpace is set — used to exercise the
// cannibalize/ErrNoSpace escalation path.
type fakeAllocator struct {
	mu           sync.Mutex
	next         uint64
	noSpace      bool
	cannibalized bool
}

func (a *fakeAllocator) Reserve(ctx context.Context, class ReserveClass, wp WritePoint) ([]Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.noSpace && !a.cannibalized {
		return nil, ErrNoSpace
	}
	a.next++
	return []Ptr{{Version: PointerV1, Dev: 0, Sector: a.next, Sectors: 8}}, nil
}

func (a *fakeAllocator) Release(ptrs []Ptr)   {}
func (a *fakeAllocator) MarkFreed(ptrs []Ptr) {}

func (a *fakeAllocator) TryCannibalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.noSpace {
		a.cannibalized = true
		return nil
	}
	return ErrCannibalizeLockHeld
}

func (a *fakeAllocator) CannibalizeUnlock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cannibalized = false
}

// fakeJournal records entries in memory; Flush and Preres never block.
type fakeJournal struct {
	mu          sync.Mutex
	seq         uint64
	entries     []JournalEntry
	pins        map[uint64]bool
	preresCalls int
	preresErr   error // non-nil makes Preres fail synchronously
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{pins: make(map[uint64]bool)}
}

func (j *fakeJournal) Preres(ctx context.Context, bytes uint32) (JournalPreres, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.preresCalls++
	if j.preresErr != nil {
		return JournalPreres{}, j.preresErr
	}
	if err := ctx.Err(); err != nil {
		return JournalPreres{}, err
	}
	return JournalPreres{Bytes: bytes}, nil
}

func (j *fakeJournal) Add(pre JournalPreres, entry JournalEntry) (JournalPin, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	j.entries = append(j.entries, entry)
	j.pins[j.seq] = true
	return JournalPin{Seq: j.seq}, nil
}

func (j *fakeJournal) Flush(ctx context.Context) error { return nil }

func (j *fakeJournal) PinRelease(pin JournalPin) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pins, pin.Seq)
}

func newTestFilesystem() (*Filesystem, *fakeNodeCache, *fakeAllocator, *fakeJournal) {
	cache := newFakeNodeCache()
	alloc := &fakeAllocator{}
	journal := newFakeJournal()
	fs := NewFilesystemWithRegisterer(cache, alloc, journal, prometheus.NewRegistry())
	return fs, cache, alloc, journal
}
