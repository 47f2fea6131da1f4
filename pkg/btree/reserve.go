package btree

import (
	"container/ring"
	"context"
	"sync"
)

// reserveCacheSize is how many pre-reserved node allocations the Filesystem
// keeps warm per write point, so that a split or rewrite's second and
// third node allocation doesn't have to round-trip the Allocator while
// node locks are already held.
const reserveCacheSize = 8

// nodeReserve is the per-write-point ring of pre-fetched allocations.
type nodeReserve struct {
	mu   sync.Mutex
	r    *ring.Ring // next slot to write; each element is a nodeReserveSlot or nil
	size int
}

func newNodeReserve() *nodeReserve {
	r := ring.New(reserveCacheSize)
	return &nodeReserve{r: r}
}

// take pops one pre-reserved allocation, or returns (nil, false) if the
// cache is currently empty.
func (nr *nodeReserve) take() ([]Ptr, bool) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	if nr.size == 0 {
		return nil, false
	}
	slot := nr.r.Move(-nr.size)
	v := slot.Value.(nodeReserveSlot)
	slot.Value = nodeReserveSlot{}
	nr.size--
	return v.ptrs, true
}

// fill pushes a freshly allocated reservation into the cache, evicting the
// oldest entry if the ring is already full (a full ring means the caller
// is allocating faster than it's draining the cache, which only happens
// under a burst of rewrites — dropping the oldest keeps memory bounded).
func (nr *nodeReserve) fill(ptrs []Ptr) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	if nr.size == reserveCacheSize {
		nr.size--
	}
	nr.r.Value = nodeReserveSlot{ptrs: ptrs}
	nr.r = nr.r.Next()
	nr.size++
}

type nodeReserveSlot struct {
	ptrs []Ptr
}

// Reserve obtains sector space for one new node at the given class and
// write point, preferring the warm reserve cache and falling back to the
// Allocator collaborator on a cache miss. On an allocator failure it
// tries once to cannibalize open buckets before giving up with
// ErrNoSpace. Escalation order: cache, then allocator, then
// cannibalize, then fail.
func (fs *Filesystem) Reserve(ctx context.Context, class ReserveClass, wp WritePoint) ([]Ptr, error) {
	nr := fs.reserveFor(wp)

	if ptrs, ok := nr.take(); ok {
		fs.metrics.reserveCacheHits.Inc()
		return ptrs, nil
	}
	fs.metrics.reserveCacheMisses.Inc()

	ptrs, err := fs.Allocator.Reserve(ctx, class, wp)
	if err == nil {
		return ptrs, nil
	}

	if cErr := fs.Allocator.TryCannibalize(); cErr != nil {
		return nil, err
	}
	defer fs.Allocator.CannibalizeUnlock()

	ptrs, err2 := fs.Allocator.Reserve(ctx, class, wp)
	if err2 != nil {
		return nil, ErrNoSpace
	}
	return ptrs, nil
}

// Prefill tops up the reserve cache for wp by asking the Allocator for up
// to n more pre-reservations; it's best-effort and swallows allocator
// errors, since a cold cache just means the next Reserve call pays the
// round-trip itself.
func (fs *Filesystem) Prefill(ctx context.Context, class ReserveClass, wp WritePoint, n int) {
	nr := fs.reserveFor(wp)
	for i := 0; i < n; i++ {
		ptrs, err := fs.Allocator.Reserve(ctx, class, wp)
		if err != nil {
			return
		}
		nr.fill(ptrs)
	}
}

func (fs *Filesystem) reserveFor(wp WritePoint) *nodeReserve {
	fs.reserveMu.Lock()
	defer fs.reserveMu.Unlock()
	nr, ok := fs.reserveCaches[wp]
	if !ok {
		nr = newNodeReserve()
		fs.reserveCaches[wp] = nr
	}
	return nr
}
