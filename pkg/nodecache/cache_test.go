package nodecache

import (
	"testing"

	"github.com/coldtree/coldtree/pkg/btree"
)

func TestAllocPinsNode(t *testing.T) {
	c := New(0)
	n := c.Alloc(btree.Extents, 0, btree.PosMin, btree.PosMax)
	if c.Len() != 1 {
		t.Fatalf("expected 1 node, got %d", c.Len())
	}
	got, err := c.Get(n.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != n {
		t.Fatal("Get should return the same node instance")
	}
}

func TestFreeDropsUnpinnedNodeImmediately(t *testing.T) {
	c := New(0)
	n := c.Alloc(btree.Extents, 0, btree.PosMin, btree.PosMax)
	c.Put(n) // drop the alloc-time pin

	c.Free(n.ID())
	if c.Len() != 0 {
		t.Fatalf("expected node to be dropped on Free, cache has %d", c.Len())
	}
	if _, err := c.Get(n.ID()); err != btree.ErrStaleNode {
		t.Fatalf("expected ErrStaleNode after Free, got %v", err)
	}
}

func TestFreeWhilePinnedDefersRemoval(t *testing.T) {
	c := New(0)
	n := c.Alloc(btree.Extents, 0, btree.PosMin, btree.PosMax)
	// still pinned from Alloc
	c.Free(n.ID())
	if _, err := c.Get(n.ID()); err != btree.ErrStaleNode {
		t.Fatalf("Free should be visible to Get immediately even while pinned, got %v", err)
	}
	c.Put(n)
	if c.Len() != 0 {
		t.Fatalf("releasing the last pin on a freed node should drop it, cache has %d", c.Len())
	}
}

func TestEvictRespectsCapacity(t *testing.T) {
	c := New(2)
	for i := 0; i < 5; i++ {
		n := c.Alloc(btree.Extents, 0, btree.PosMin, btree.PosMax)
		c.Put(n)
	}
	if c.Len() > 2 {
		t.Fatalf("expected capacity to cap the cache at 2 unpinned nodes, got %d", c.Len())
	}
}

func TestEvictDoesNotDropPinnedNodes(t *testing.T) {
	c := New(1)
	pinned := c.Alloc(btree.Extents, 0, btree.PosMin, btree.PosMax) // stays pinned
	unpinned := c.Alloc(btree.Extents, 1, btree.PosMin, btree.PosMax)
	c.Put(unpinned)

	c.Evict(10)

	if _, err := c.Get(pinned.ID()); err != nil {
		t.Fatalf("pinned node must survive eviction: %v", err)
	}
	c.Put(pinned)
}
