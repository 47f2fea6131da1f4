package btree

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Filesystem is the update engine's context object. Rather than package
// level globals for the reserve cache, the in-flight update list, the
// unwritten-node list and the root registry, every entry point in this
// package takes (or is a method on) a *Filesystem, so that more than one btree instance can exist in a process
// (tests in particular construct a fresh Filesystem per test case instead
// of fighting over shared package state).
type Filesystem struct {
	NodeCache
	Allocator
	Journal

	Roots *RootRegistry

	reserveMu     sync.Mutex
	reserveCaches map[WritePoint]*nodeReserve

	updatesMu sync.Mutex
	updates   map[UpdateID]*Update

	unwrittenMu sync.Mutex
	unwritten   map[NodeID]*Update // node id -> the update that owns it, before it's reachable

	// interiorMu guards blocked, the write_blocked dependency graph
	// between in-flight Updates: one lock per filesystem, not per node, so
	// reparenting is atomic with membership.
	interiorMu sync.Mutex
	blocked    map[NodeID][]*Update // parent node id -> updates whose link targets it

	metrics *engineMetrics
}

// NewFilesystem builds the engine context around the three collaborator
// implementations, registering its metrics on the default Prometheus
// registry. Callers typically get these from pkg/nodecache, pkg/alloc and
// pkg/journal, wired together in pkg/di.
func NewFilesystem(cache NodeCache, alloc Allocator, journal Journal) *Filesystem {
	return NewFilesystemWithRegisterer(cache, alloc, journal, prometheus.DefaultRegisterer)
}

// NewFilesystemWithRegisterer is NewFilesystem with an explicit metrics
// registry. Embedders running more than one Filesystem per process (and
// this package's own tests, which build a fresh one per test case) pass
// their own registry here, since registering the same series twice on one
// registry panics.
func NewFilesystemWithRegisterer(cache NodeCache, alloc Allocator, journal Journal, reg prometheus.Registerer) *Filesystem {
	fs := &Filesystem{
		NodeCache:     cache,
		Allocator:     alloc,
		Journal:       journal,
		Roots:         NewRootRegistry(),
		reserveCaches: make(map[WritePoint]*nodeReserve),
		updates:       make(map[UpdateID]*Update),
		unwritten:     make(map[NodeID]*Update),
		blocked:       make(map[NodeID][]*Update),
	}
	fs.metrics = newEngineMetrics(reg, fs.reserveCacheSizeGauge)
	return fs
}

func (fs *Filesystem) reserveCacheSizeGauge() float64 {
	fs.reserveMu.Lock()
	defer fs.reserveMu.Unlock()
	total := 0
	for _, nr := range fs.reserveCaches {
		nr.mu.Lock()
		total += nr.size
		nr.mu.Unlock()
	}
	return float64(total)
}

// Stats is the admin/introspection snapshot exposed over
// GET /api/v1/btree/stats.
type Stats struct {
	Roots            []RootPtr      `json:"roots"`
	InFlightUpdate   int            `json:"in_flight_updates"`
	UpdatesByState   map[string]int `json:"updates_by_state"`
	UnwrittenNodes   int            `json:"unwritten_nodes"`
	ReserveCacheSize int            `json:"reserve_cache_size"`
}

// Stat returns a point-in-time snapshot of engine-wide state.
func (fs *Filesystem) Stat() Stats {
	byState := make(map[string]int)
	fs.updatesMu.Lock()
	inFlight := len(fs.updates)
	for _, u := range fs.updates {
		byState[u.State().String()]++
	}
	fs.updatesMu.Unlock()

	fs.unwrittenMu.Lock()
	unwritten := len(fs.unwritten)
	fs.unwrittenMu.Unlock()

	return Stats{
		Roots:            fs.Roots.All(),
		InFlightUpdate:   inFlight,
		UpdatesByState:   byState,
		UnwrittenNodes:   unwritten,
		ReserveCacheSize: int(fs.reserveCacheSizeGauge()),
	}
}

// lookupOwner resolves which in-flight Update, if any, is responsible for
// making id reachable — used by reachability.go to break the cyclic
// reference a naive "node points back to its update" design would create
// : instead of a pointer field on Node, we keep a
// side table keyed by NodeID on the Filesystem.
func (fs *Filesystem) lookupOwner(id NodeID) (*Update, bool) {
	fs.unwrittenMu.Lock()
	defer fs.unwrittenMu.Unlock()
	u, ok := fs.unwritten[id]
	return u, ok
}

func (fs *Filesystem) registerUnwritten(id NodeID, u *Update) {
	fs.unwrittenMu.Lock()
	fs.unwritten[id] = u
	fs.unwrittenMu.Unlock()
}

func (fs *Filesystem) unregisterUnwritten(id NodeID) {
	fs.unwrittenMu.Lock()
	delete(fs.unwritten, id)
	fs.unwrittenMu.Unlock()
}

// blockWrite registers u as depending on parent: u's deferred link can't
// run until parent's own write completes, so if parent is freed first,
// WillFreeNode must reparent u rather than let it link against a node
// that no longer exists.
func (fs *Filesystem) blockWrite(parent NodeID, u *Update) {
	fs.interiorMu.Lock()
	fs.blocked[parent] = append(fs.blocked[parent], u)
	fs.interiorMu.Unlock()
}

// unblockWrite removes u from parent's dependent list once its link has
// been applied (or abandoned via reparenting).
func (fs *Filesystem) unblockWrite(parent NodeID, u *Update) {
	fs.interiorMu.Lock()
	defer fs.interiorMu.Unlock()
	deps := fs.blocked[parent]
	for i, d := range deps {
		if d == u {
			deps = append(deps[:i], deps[i+1:]...)
			break
		}
	}
	if len(deps) == 0 {
		delete(fs.blocked, parent)
	} else {
		fs.blocked[parent] = deps
	}
}

// takeWriteBlocked removes and returns every Update still waiting on
// parent's write to complete, for WillFreeNode to reparent onto whatever
// update is freeing parent.
func (fs *Filesystem) takeWriteBlocked(parent NodeID) []*Update {
	fs.interiorMu.Lock()
	defer fs.interiorMu.Unlock()
	deps := fs.blocked[parent]
	delete(fs.blocked, parent)
	return deps
}

// RecoverEntry applies one replayed journal entry's root snapshot to the
// Root Registry. Called once per entry, in log order, at mount time
// (pkg/di.Container.BuildFilesystem): because every entry carries a
// complete root set rather than just the root that changed, applying
// them in order always converges on the last entry's snapshot regardless
// of which prefix of the log survived a crash.
func (fs *Filesystem) RecoverEntry(entry JournalEntry) {
	for _, root := range entry.Roots {
		fs.Roots.Set(root)
	}
}
