package btree

import "context"

// Rewrite copies n's live key set into a freshly allocated node at a new
// disk location without changing the key set itself. This is the
// operation the GC/compaction path (out of this package's scope to drive,
// but exercised by cmd/coldctl's compact subcommand) uses to consolidate
// a node whose replicas have become fragmented, or to move a node off a
// device being evacuated.
func (fs *Filesystem) Rewrite(ctx context.Context, u *Update, parent, n *Node) (*Node, error) {
	fs.metrics.rewritesTotal.Inc()

	wp := WritePoint{Btree: n.Btree, Level: n.Level}
	ptrs, err := fs.Reserve(ctx, ReserveBtree, wp)
	if err != nil {
		return nil, err
	}

	fresh := fs.NodeCache.Alloc(n.Btree, n.Level, n.Min, n.Max)
	keys := append([]Key(nil), n.Keys()...)
	fresh.SetKeys(keys)
	fresh.Ptrs = ptrs
	fresh.Parent = n.Parent
	fresh.Format = Plan(keys, n.Format.ByteBudget, n.Format)
	fresh.Format.Compressed = ProbeCompressible(keys)

	fresh.Lock(LockWrite)
	defer fresh.Unlock(LockWrite)

	if err := fs.WillMakeReachable(u, fresh); err != nil {
		return nil, err
	}
	fs.WillFreeNode(u, n)

	// Both the root install and the parent splice are deferred to
	// finalize, once fresh has confirmed its own write — a
	// rewrite is exactly as subject to the ordering contract as a split
	// or merge, it just produces one new node instead of two.
	if parent == nil {
		u.setLink(&pendingLink{kind: linkRoot, node: fresh.ID(), level: fresh.Level})
		return fresh, nil
	}

	u.setLink(&pendingLink{
		kind:     linkSplice,
		parent:   parent.ID(),
		removed:  []Pos{n.Min},
		inserted: []Key{{Pos: fresh.Min, Ptrs: nodeRefPtrs(fresh)}},
	})
	fs.blockWrite(parent.ID(), u)

	return fresh, nil
}

// UpdateKey replaces n's btree pointer — the replica set its parent's
// separator key carries — without rewriting n's contents, used when only
// replica metadata changes (a scrub repaired one copy, a replica moved to
// another device). Unlike Rewrite it allocates nothing: n keeps its
// identity and key set, and only the pointer travels through the same
// deferred splice the other topology operations use, so the parent's
// journalled separator never names replicas that aren't durable yet. The
// cache keys nodes by NodeID rather than by a hash of their pointer, so
// concurrent lookups stay valid across the change and no transient
// second descriptor is needed for the window where both pointers exist.
//
// If n is the root there is no parent separator to fix up: the Root
// Registry entry is refreshed in place and the full root snapshot rides
// the journal entry WillMakeReachable queues.
func (fs *Filesystem) UpdateKey(u *Update, parent, n *Node, ptrs []Ptr) error {
	n.Lock(LockWrite)
	defer n.Unlock(LockWrite)

	n.Ptrs = append([]Ptr(nil), ptrs...)
	n.Sequence++
	n.SetFlags(FlagDirty | FlagNeedWrite)

	if err := fs.WillMakeReachable(u, n); err != nil {
		return err
	}

	if parent == nil || n.Parent == NilNode {
		u.setLink(&pendingLink{kind: linkRoot, node: n.ID(), level: n.Level})
		return nil
	}

	u.setLink(&pendingLink{
		kind:     linkSplice,
		parent:   parent.ID(),
		removed:  []Pos{n.Min},
		inserted: []Key{{Pos: n.Min, Ptrs: nodeRefPtrs(n)}},
	})
	fs.blockWrite(parent.ID(), u)
	return nil
}
