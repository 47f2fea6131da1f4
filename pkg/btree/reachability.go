package btree

import (
	"context"
	"fmt"
	"time"
)

// WillMakeReachable is called once, before a new node is handed to the
// (out-of-scope) write path, to register the journal entry that will let
// the node become reachable even if the machine crashes before its
// parent's pointer update reaches disk. It must be called while u
// still holds the write lock on n, and before n.ClearFlags(FlagDirty).
//
// The entry carries a full snapshot of every btree's current root
// alongside n's own keys: recovery replays whichever entry is
// last in the log, so every entry needs the complete picture, not just
// whatever root this particular update happens to touch.
//
// The ordering this buys: the journal entry commits (or doesn't) strictly
// before the node write starts, so replay after a crash can always tell
// whether a given node was supposed to exist.
func (fs *Filesystem) WillMakeReachable(u *Update, n *Node) error {
	entry := JournalEntry{
		Btree: n.Btree,
		Keys:  n.Keys(),
		Roots: fs.Roots.All(),
	}

	pin, err := fs.Journal.Add(u.preres, entry)
	if err != nil {
		return WrapNodeID(err, n.ID())
	}

	u.mu.Lock()
	u.pin = pin
	u.hasPin = true
	u.mu.Unlock()

	n.SetFlags(FlagNeedWrite | FlagWriteInFlight)
	fs.registerUnwritten(n.ID(), u)
	u.AddNewNode(n.ID())
	return nil
}

// NodeWriteCompleted is called by the write path once n's on-disk write
// finishes. It clears the in-flight flags, marks the node reachable from
// its own reservation's perspective, and — if every new node belonging to
// u has now landed — triggers finalization: applying u's deferred link
// (a parent splice or a Root Registry install) and releasing u's journal
// pin. That deferral, not just the ordering of the journal write itself,
// is what actually enforces the ordering contract: a parent never gets its new child's
// pointer spliced in — and so never gets journalled with it — until this
// function has already confirmed every one of that child's own new nodes
// is durable.
//
// started is the time WillMakeReachable was called, used only to record
// the reachability-latency histogram; passing a zero Time skips the
// observation (tests that don't care about metrics can omit it).
func (fs *Filesystem) NodeWriteCompleted(u *Update, n *Node, started time.Time) error {
	n.ClearFlags(FlagWriteInFlight | FlagDirty | FlagNeverWritten)
	n.SetFlags(FlagReachable)
	fs.unregisterUnwritten(n.ID())

	if !started.IsZero() {
		fs.metrics.reachabilitySecs.Observe(time.Since(started).Seconds())
	}

	if !fs.allNewNodesReachable(u) {
		return nil
	}
	return fs.finalize(context.Background(), u)
}

func (fs *Filesystem) allNewNodesReachable(u *Update) bool {
	for _, id := range u.NewNodes() {
		n, err := fs.NodeCache.Get(id)
		if err != nil {
			continue // already freed/reclaimed: trivially "reachable"
		}
		reachable := n.Flags()&FlagReachable != 0
		fs.NodeCache.Put(n)
		if !reachable {
			return false
		}
	}
	return true
}

// finalize runs the tail of the reachability protocol once every new node
// in u is durably written: it applies u's pending link — if Split/Merge/
// Rewrite deferred a parent splice or root install via setLink, that
// deferred operation is what actually runs here, never earlier — flushes
// the journal, and calls Done to release u's own resources (journal pin,
// old node set, any pins inherited via reparenting). If u was chained
// into a parent via EnterUpdatingAS, u still completes on its own
// schedule here — the parent is a separate Update that completes
// independently once the writer reports its own new node (the rewritten
// parent) as written; EnterUpdatingAS exists so the two transactions'
// UpdatingAS state is visible together for introspection, not to make
// one wait on the other's Done.
func (fs *Filesystem) finalize(ctx context.Context, u *Update) error {
	if link := u.takeLink(); link != nil {
		if err := fs.applyLink(ctx, u, link); err != nil {
			return err
		}
	} else if _, hasRoot := fs.Roots.Get(u.Btree); !hasRoot && u.State() == UpdatingNode {
		// No topology op registered a link and the btree has no root yet:
		// this is the bootstrap path, where WillMakeReachable was called
		// directly against a single brand-new node (the first node a btree
		// ever gets). Install it as the root the same way a deferred
		// linkRoot would. An update with no link against a btree that
		// already has a root (a key-update, a splice's own parent write)
		// changes nothing about reachability topology and just completes.
		newNodes := u.NewNodes()
		if len(newNodes) == 1 {
			n, err := fs.NodeCache.Get(newNodes[0])
			if err == nil {
				level := n.Level
				fs.NodeCache.Put(n)
				if err := fs.swapRoot(u, newNodes[0], level); err != nil {
					return err
				}
			}
		}
	}

	if err := fs.Journal.Flush(ctx); err != nil {
		return err
	}

	return fs.Done(u)
}

// applyLink performs the ancestor-linking work a topology operation
// deferred onto u: installing a brand-new root, or splicing u's new
// nodes into an existing parent.
func (fs *Filesystem) applyLink(ctx context.Context, u *Update, link *pendingLink) error {
	switch link.kind {
	case linkRoot:
		return fs.swapRoot(u, link.node, link.level)
	case linkSplice:
		return fs.applySplice(ctx, u, link)
	default:
		return nil
	}
}

// swapRoot installs node as btree u.Btree's new root, advancing the Root
// Registry's generation. A root may only move to a strictly lower
// level if the old root is dying — anything else means pointers above the
// new root would dangle, which is a programmer error, not a recoverable
// condition.
func (fs *Filesystem) swapRoot(u *Update, node NodeID, level uint8) error {
	root, hasRoot := fs.Roots.Get(u.Btree)
	gen := uint64(0)
	if hasRoot {
		gen = root.Generation
		if level < root.Level && !fs.rootDying(root.Node) {
			panic(InvariantViolation{Msg: fmt.Sprintf(
				"root of %s moving down a level (%d -> %d) while the old root is still live",
				u.Btree, root.Level, level)})
		}
	}
	u.EnterUpdatingRoot()
	return fs.Roots.Swap(RootPtr{Btree: u.Btree, Node: node, Level: level}, gen)
}

// rootDying reports whether the current root node is marked freed (or has
// already been dropped from the cache entirely, e.g. a root recovered from
// the journal that was never faulted back in).
func (fs *Filesystem) rootDying(id NodeID) bool {
	old, err := fs.NodeCache.Get(id)
	if err != nil {
		return true
	}
	dying := old.Flags()&FlagFreed != 0
	fs.NodeCache.Put(old)
	return dying
}

// applySplice applies a deferred parent splice: it's the part of Split/
// Merge/Rewrite's work that used to run inline, now run only once u's own
// new nodes are confirmed durable. If the parent was freed out
// from under u in the meantime, WillFreeNode will already have cleared
// u's link via reparent — u never reaches here in that case.
func (fs *Filesystem) applySplice(ctx context.Context, u *Update, link *pendingLink) error {
	fs.unblockWrite(link.parent, u)

	parent, err := fs.NodeCache.Get(link.parent)
	if err != nil {
		return nil
	}
	defer fs.NodeCache.Put(parent)

	return fs.spliceParent(ctx, u, parent, link.removed, link.inserted)
}

// Reparent updates child's Parent pointer after an ancestor rewrite moved
// child to live under a new interior node, without requiring child itself
// to be rewritten. It must be called with child write
// locked.
func (fs *Filesystem) Reparent(child *Node, newParent NodeID) {
	child.Parent = newParent
	child.Sequence++
}

// WillFreeNode marks a replaced node as a candidate for reclamation, and
// reparents any update still write_blocked on old's eventual write:
// old is being replaced by u before some
// other update's deferred splice into it ever ran, so that dependent
// update can no longer link into old — it gets folded into u instead.
// The node isn't actually dropped from the cache until its pin count
// reaches zero (no in-flight reader still holds it) and, if it was ever
// itself made reachable, until the journal entry that records its
// replacement has been durably committed — enforced by freeing u's
// old-node set only in Done, which runs after finalize has applied u's
// link and flushed the journal.
func (fs *Filesystem) WillFreeNode(u *Update, old *Node) {
	old.SetFlags(FlagFreed)
	u.AddOldNode(old.ID())

	for _, dependent := range fs.takeWriteBlocked(old.ID()) {
		fs.reparent(u, dependent)
	}
}

// reparent detaches dependent's pending link — which targeted old, the
// node freed is now replacing — and chains dependent onto freed instead:
// freed's own splice/root-install already accounts for old's content
// changing, so dependent no longer needs (and can no longer perform) its
// own separate splice into a node that won't exist once freed completes.
// dependent's journal pin moves to freed so it's still released exactly
// once, from freed's own Done.
func (fs *Filesystem) reparent(freed, dependent *Update) {
	dependent.takeLink()
	if pin, ok := dependent.takePin(); ok {
		freed.addReparentedPin(pin)
	}
	dependent.EnterUpdatingAS(freed)
}
