// Package nodecache implements the in-memory node cache collaborator the
// update engine (pkg/btree) relies on for node identity and eviction. It
// is the btree analogue of pkg/store's HashIndex: a map protected by a
// single RWMutex, extended with a pin count per entry and an LRU list of
// unpinned, clean nodes available for eviction under memory pressure.
package nodecache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/coldtree/coldtree/pkg/btree"
)

// Cache is a NodeCache backed by an in-process map. It satisfies
// btree.NodeCache.
type Cache struct {
	mu       sync.RWMutex
	nodes    map[btree.NodeID]*entry
	lru      *list.List // of *entry, most-recently-used at the front
	nextID   uint64
	freed    map[btree.NodeID]bool
	capacity int
}

type entry struct {
	node    *btree.Node
	pins    int32
	lruElem *list.Element
}

// New creates an empty cache. capacity bounds how many unpinned nodes
// Evict will try to keep around before it starts dropping the
// least-recently-used ones; zero means unbounded (Evict then only drops
// nodes when called explicitly).
func New(capacity int) *Cache {
	return &Cache{
		nodes:    make(map[btree.NodeID]*entry),
		lru:      list.New(),
		freed:    make(map[btree.NodeID]bool),
		capacity: capacity,
	}
}

// Alloc creates a fresh node, assigns it the next NodeID, and pins it.
func (c *Cache) Alloc(bt btree.ID, level uint8, min, max btree.Pos) *btree.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	n := btree.NewNode(bt, level, min, max)
	n.SetID(btree.NodeID(c.nextID))

	e := &entry{node: n, pins: 1}
	c.nodes[n.ID()] = e
	return n
}

// Get returns the node for id, pinning it.
func (c *Cache) Get(id btree.NodeID) (*btree.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.freed[id] {
		return nil, btree.ErrStaleNode
	}
	e, ok := c.nodes[id]
	if !ok {
		return nil, btree.ErrStaleNode
	}
	atomic.AddInt32(&e.pins, 1)
	if e.lruElem != nil {
		c.lru.Remove(e.lruElem)
		e.lruElem = nil
	}
	return e.node, nil
}

// Put releases a pin taken by Alloc or Get. Once a node's pin count drops
// to zero it becomes eligible for LRU eviction (unless it's marked
// freed, in which case it's dropped immediately).
func (c *Cache) Put(n *btree.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.nodes[n.ID()]
	if !ok {
		return
	}
	if atomic.AddInt32(&e.pins, -1) > 0 {
		return
	}

	if c.freed[n.ID()] {
		delete(c.nodes, n.ID())
		return
	}
	e.lruElem = c.lru.PushFront(e)
	c.evictOverCapacity()
}

// Free marks id as freed. If the node is currently unpinned it's dropped
// immediately; otherwise it's removed on the next matching Put.
func (c *Cache) Free(id btree.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.freed[id] = true
	e, ok := c.nodes[id]
	if !ok {
		return
	}
	if atomic.LoadInt32(&e.pins) == 0 {
		if e.lruElem != nil {
			c.lru.Remove(e.lruElem)
		}
		delete(c.nodes, id)
	}
}

// Evict drops up to n unpinned, least-recently-used nodes, returning how
// many were actually dropped.
func (c *Cache) Evict(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(n)
}

func (c *Cache) evictOverCapacity() {
	if c.capacity <= 0 {
		return
	}
	over := len(c.nodes) - c.capacity
	if over > 0 {
		c.evictLocked(over)
	}
}

func (c *Cache) evictLocked(n int) int {
	dropped := 0
	for dropped < n {
		back := c.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.nodes, e.node.ID())
		dropped++
	}
	return dropped
}

// Len reports how many nodes (pinned or not) the cache currently holds.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}
