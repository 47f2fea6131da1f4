package btree

import "context"

// Split performs a node split: n has grown past its Format's
// MaxKeys, so its live key set is partitioned at the 3/5 pivot into two
// fresh nodes, which are linked into n's parent (or become a new root, if
// n had none). The caller must hold n locked for write and must not
// unlock it until Split returns; Split does not release n's lock, so the
// caller unlocks n afterwards.
func (fs *Filesystem) Split(ctx context.Context, u *Update, parent, n *Node) (left, right *Node, err error) {
	fs.metrics.splitsTotal.Inc()

	leftKeys, rightKeys := splitKeys(n.Keys())

	wp := WritePoint{Btree: n.Btree, Level: n.Level}

	leftPtrs, err := fs.Reserve(ctx, ReserveBtree, wp)
	if err != nil {
		return nil, nil, err
	}
	rightPtrs, err := fs.Reserve(ctx, ReserveBtree, wp)
	if err != nil {
		fs.Allocator.Release(leftPtrs)
		return nil, nil, err
	}

	bound := n.Max
	if len(rightKeys) > 0 {
		bound = rightKeys[0].Pos
	}

	left = fs.NodeCache.Alloc(n.Btree, n.Level, n.Min, bound)
	left.SetKeys(leftKeys)
	left.Ptrs = leftPtrs
	left.Parent = n.Parent
	left.Format = Plan(leftKeys, n.Format.ByteBudget, n.Format)
	left.Format.Compressed = ProbeCompressible(leftKeys)

	right = fs.NodeCache.Alloc(n.Btree, n.Level, bound, n.Max)
	right.SetKeys(rightKeys)
	right.Ptrs = rightPtrs
	right.Parent = n.Parent
	right.Format = Plan(rightKeys, n.Format.ByteBudget, n.Format)
	right.Format.Compressed = ProbeCompressible(rightKeys)

	left.Lock(LockWrite)
	right.Lock(LockWrite)
	defer left.Unlock(LockWrite)
	defer right.Unlock(LockWrite)

	if err := fs.WillMakeReachable(u, left); err != nil {
		return nil, nil, err
	}
	if err := fs.WillMakeReachable(u, right); err != nil {
		return nil, nil, err
	}

	fs.WillFreeNode(u, n)

	if parent == nil {
		// n was the root: the split grows the tree by one level. The new
		// root is itself a brand-new node, so it goes through the same
		// WillMakeReachable path as left/right, and this transaction
		// completes by a Root Registry swap rather than a parent splice
		// — deferred to finalize, once left, right and newRoot have all
		// confirmed their own writes.
		rootPtrs, err := fs.Reserve(ctx, ReserveBtreeInterior, WritePoint{Btree: n.Btree, Level: n.Level + 1})
		if err != nil {
			return nil, nil, err
		}
		newRoot := fs.NodeCache.Alloc(n.Btree, n.Level+1, PosMin, PosMax)
		newRoot.Ptrs = rootPtrs
		newRootKeys := []Key{
			{Pos: left.Min, Ptrs: nodeRefPtrs(left)},
			{Pos: right.Min, Ptrs: nodeRefPtrs(right)},
		}
		newRoot.SetKeys(newRootKeys)
		newRoot.Format = Plan(newRootKeys, n.Format.ByteBudget, n.Format)
		newRoot.Lock(LockWrite)
		defer newRoot.Unlock(LockWrite)

		left.Parent = newRoot.ID()
		right.Parent = newRoot.ID()

		if err := fs.WillMakeReachable(u, newRoot); err != nil {
			return nil, nil, err
		}
		u.setLink(&pendingLink{kind: linkRoot, node: newRoot.ID(), level: newRoot.Level})
		return left, right, nil
	}

	removed := []Pos{n.Min}
	inserted := []Key{
		{Pos: left.Min, Ptrs: nodeRefPtrs(left)},
		{Pos: right.Min, Ptrs: nodeRefPtrs(right)},
	}
	// The splice into parent is deferred to finalize rather than applied
	// here: left and right aren't durable yet, and parent's journal entry
	// must never name them before they are. blockWrite registers
	// the dependency so WillFreeNode can reparent u if parent itself gets
	// replaced before that splice ever runs.
	u.setLink(&pendingLink{kind: linkSplice, parent: parent.ID(), removed: removed, inserted: inserted})
	fs.blockWrite(parent.ID(), u)

	return left, right, nil
}

// nodeRefPtrs builds the parent-level pointer set referencing n: in this
// engine a child reference is carried as a Ptr slice on the separator key
// exactly like a leaf extent pointer, so interior and leaf levels share
// one Key representation end to end.
func nodeRefPtrs(n *Node) []Ptr {
	ptrs := make([]Ptr, len(n.Ptrs))
	copy(ptrs, n.Ptrs)
	return ptrs
}

// spliceParent applies a set of key removals/insertions to parent as part
// of a child-level split/merge/rewrite, and chains u onto the parent's
// own Update via EnterUpdatingAS. u still completes on its own once
// finalize returns; it does not wait for the parent's Update.
//
// If parent itself overflows as a result, it is split recursively — this
// is the mechanism by which a single leaf insertion can, in the worst
// case, propagate splits all the way to the root.
func (fs *Filesystem) spliceParent(ctx context.Context, u *Update, parent *Node, removed []Pos, inserted []Key) error {
	parent.Lock(LockWrite)

	for _, pos := range removed {
		removeKey(parent, pos)
	}
	for _, k := range inserted {
		parent.Insert(k)
	}

	needRewrite := parent.Flags()&FlagNeedRewrite != 0

	if !parent.Overfull() && !needRewrite {
		pu, err := fs.startUpdate(ctx, parent.Btree, defaultSpliceLogBytes, u.reclaim)
		if err != nil {
			parent.Unlock(LockWrite)
			return err
		}
		if err := fs.WillMakeReachable(pu, parent); err != nil {
			parent.Unlock(LockWrite)
			return err
		}
		parent.Unlock(LockWrite)
		u.EnterUpdatingAS(pu)
		return nil
	}

	grandparent, gpErr := fs.parentOf(parent)
	if gpErr != nil {
		parent.Unlock(LockWrite)
		return gpErr
	}

	pu, err := fs.startUpdate(ctx, parent.Btree, defaultSpliceLogBytes, u.reclaim)
	if err != nil {
		parent.Unlock(LockWrite)
		return err
	}
	if parent.Overfull() {
		_, _, err = fs.Split(ctx, pu, grandparent, parent)
	} else {
		// FlagNeedRewrite with room to spare: GC asked for this node to
		// move, so the splice that happened to land here pays for the
		// relocation instead of a separate request ever existing.
		parent.ClearFlags(FlagNeedRewrite)
		_, err = fs.Rewrite(ctx, pu, grandparent, parent)
	}
	parent.Unlock(LockWrite)
	if err != nil {
		return err
	}
	u.EnterUpdatingAS(pu)
	return nil
}

// parentOf looks up n's parent node via the NodeCache, returning
// (nil, nil) if n has no parent (it's a root).
func (fs *Filesystem) parentOf(n *Node) (*Node, error) {
	if n.Parent == NilNode {
		return nil, nil
	}
	p, err := fs.NodeCache.Get(n.Parent)
	if err != nil {
		return nil, err
	}
	fs.NodeCache.Put(p)
	return p, nil
}

func removeKey(n *Node, pos Pos) {
	keys := n.Keys()
	out := keys[:0]
	for _, k := range keys {
		if !k.Pos.Equal(pos) {
			out = append(out, k)
		}
	}
	n.SetKeys(out)
}

// defaultSpliceLogBytes is a conservative estimate of the journal space a
// single parent-level key splice needs; generous enough for a handful of
// Key records at the engine's coarse Ptr encoding.
const defaultSpliceLogBytes = 512
