package btree

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
)

// UpdateID names one update transaction. Built on ksuid rather than a
// plain counter so update IDs stay k-sortable and unique across process
// restarts, the same property pkg/bptree leans on ksuid for when it
// needs opaque-but-orderable identifiers.
type UpdateID string

// NewUpdateID mints a fresh, time-ordered update identifier.
func NewUpdateID() UpdateID { return UpdateID(ksuid.New().String()) }

// State is a position in the update transaction state machine:
//
//	NoUpdate -> UpdatingNode | UpdatingRoot -> UpdatingAS -> Complete -> Freed
//
// Modeled as an explicit enum with an exhaustive switch everywhere it's
// inspected, not a set of independent booleans, so an invalid transition
// is a compile-time-checkable missing case rather than a reachable bad
// combination of flags.
type State uint32

const (
	NoUpdate State = iota
	UpdatingNode
	UpdatingRoot
	UpdatingAS
	Complete
	Freed
)

func (s State) String() string {
	switch s {
	case NoUpdate:
		return "no_update"
	case UpdatingNode:
		return "updating_node"
	case UpdatingRoot:
		return "updating_root"
	case UpdatingAS:
		return "updating_as"
	case Complete:
		return "complete"
	case Freed:
		return "freed"
	default:
		return "unknown"
	}
}

// Update is one in-flight interior-node update transaction: a split,
// merge, rewrite or key-update in progress. It owns the set of new nodes
// being written and the set of old nodes they replace, and walks the
// state machine above as those writes land and the journal confirms them.
type Update struct {
	ID    UpdateID
	Btree ID

	state uint32 // atomic State

	mu       sync.Mutex
	newNodes []NodeID
	oldNodes []NodeID
	parent   *Update // set only while State == UpdatingAS

	preres JournalPreres
	pin    JournalPin
	hasPin bool

	// link is what finalize must apply once every one of this update's
	// new nodes has confirmed its own write — a root install or a parent
	// splice, never run eagerly. nil once
	// applied or abandoned via reparenting.
	link *pendingLink

	// reparentedPins holds journal pins inherited from updates that were
	// reparented onto this one by WillFreeNode, released alongside this
	// update's own pin in Done.
	reparentedPins []JournalPin

	reclaim bool // true for the GC/reclaim path's own updates; see DESIGN.md
}

// linkKind selects which deferred action finalize performs for a
// pendingLink.
type linkKind uint8

const (
	linkRoot linkKind = iota
	linkSplice
)

// pendingLink records the ancestor-linking work Split/Merge/Rewrite would
// otherwise have done inline: which parent node to splice, or which node
// to install as a new root. finalize applies it only after every new
// node this update produced has itself confirmed its write, which is the
// actual mechanism behind the reachability ordering contract ("a new node's btree
// pointer may appear in a parent's journalled bset only after the new
// node's own data is durable") — deferring the splice/install is what
// makes that true, instead of just documenting that it should be.
type pendingLink struct {
	kind linkKind

	// linkSplice fields: the parent node to apply removed/inserted to.
	parent   NodeID
	removed  []Pos
	inserted []Key

	// linkRoot fields: the new node to install as root.
	node  NodeID
	level uint8
}

// StartUpdate begins a new transaction against btree id. It takes a
// journal pre-reservation up front precisely so that committing
// the transaction later can never block on log space once node locks are
// already held — blocking there, rather than here, is how a btree update
// could deadlock against the journal's own writeback.
func (fs *Filesystem) StartUpdate(ctx context.Context, id ID, logBytes uint32) (*Update, error) {
	return fs.startUpdate(ctx, id, logBytes, false)
}

// StartReclaimUpdate begins a transaction on behalf of the GC/reclaim
// path (e.g. cmd/coldctl's compact subcommand evacuating a node off a
// device). Unlike StartUpdate it never takes its own journal preres: a
// reclaim pass runs against space the filesystem has already reserved
// for GC to make forward progress under, and a fresh Preres call here
// could block waiting on log space that the very reclaim trying to free
// it is meant to unblock: reclaim must never wait on reclaim.
func (fs *Filesystem) StartReclaimUpdate(ctx context.Context, id ID, logBytes uint32) (*Update, error) {
	return fs.startUpdate(ctx, id, logBytes, true)
}

func (fs *Filesystem) startUpdate(ctx context.Context, id ID, logBytes uint32, reclaim bool) (*Update, error) {
	var pre JournalPreres
	if !reclaim {
		var err error
		pre, err = fs.Journal.Preres(ctx, logBytes)
		if err != nil {
			return nil, err
		}
	}

	u := &Update{
		ID:      NewUpdateID(),
		Btree:   id,
		preres:  pre,
		reclaim: reclaim,
	}
	atomic.StoreUint32(&u.state, uint32(NoUpdate))

	fs.updatesMu.Lock()
	fs.updates[u.ID] = u
	fs.updatesMu.Unlock()

	return u, nil
}

// State returns the transaction's current state.
func (u *Update) State() State { return State(atomic.LoadUint32(&u.state)) }

// transition moves the transaction from `from` to `to`, returning false
// (and leaving the state untouched) if it wasn't in `from`. This is the
// single choke point every state change goes through so an invalid jump
// — e.g. Complete straight from NoUpdate — can't happen by omission.
func (u *Update) transition(from, to State) bool {
	return atomic.CompareAndSwapUint32(&u.state, uint32(from), uint32(to))
}

// AddNewNode registers a freshly allocated node as part of this
// transaction's output set and moves the transaction into UpdatingNode if
// it was still NoUpdate.
func (u *Update) AddNewNode(id NodeID) {
	u.mu.Lock()
	u.newNodes = append(u.newNodes, id)
	u.mu.Unlock()
	u.transition(NoUpdate, UpdatingNode)
}

// AddOldNode registers a node this transaction is replacing (it will be
// freed once the transaction completes and no reader can still be
// descending into it).
func (u *Update) AddOldNode(id NodeID) {
	u.mu.Lock()
	u.oldNodes = append(u.oldNodes, id)
	u.mu.Unlock()
}

// NewNodes returns the transaction's output node set.
func (u *Update) NewNodes() []NodeID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]NodeID(nil), u.newNodes...)
}

// OldNodes returns the transaction's replaced node set.
func (u *Update) OldNodes() []NodeID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]NodeID(nil), u.oldNodes...)
}

// setLink records the ancestor-linking work finalize must perform once
// every new node in u has confirmed its write.
func (u *Update) setLink(l *pendingLink) {
	u.mu.Lock()
	u.link = l
	u.mu.Unlock()
}

// takeLink returns and clears u's pending link, if any.
func (u *Update) takeLink() *pendingLink {
	u.mu.Lock()
	defer u.mu.Unlock()
	l := u.link
	u.link = nil
	return l
}

// takePin returns and clears u's own journal pin, if it has one. Used by
// reparent to move a write_blocked dependent's pin onto the update that
// freed the node it was waiting on.
func (u *Update) takePin() (JournalPin, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.pin, u.hasPin
	u.hasPin = false
	return p, ok
}

// addReparentedPin records a journal pin inherited from an update that
// WillFreeNode reparented onto u; it is
// released alongside u's own pin when u completes.
func (u *Update) addReparentedPin(p JournalPin) {
	u.mu.Lock()
	u.reparentedPins = append(u.reparentedPins, p)
	u.mu.Unlock()
}

// takeReparentedPins returns and clears u's inherited pin set.
func (u *Update) takeReparentedPins() []JournalPin {
	u.mu.Lock()
	defer u.mu.Unlock()
	pins := u.reparentedPins
	u.reparentedPins = nil
	return pins
}

// EnterUpdatingRoot marks that this transaction's next step is a Root
// Registry swap rather than linking into an existing parent node — taken
// by swapRoot when finalize installs a deferred root link or a btree's
// first (bootstrap) root.
func (u *Update) EnterUpdatingRoot() bool {
	return u.transition(UpdatingNode, UpdatingRoot)
}

// EnterUpdatingAS (Updating-Ancestors) marks that this transaction's new
// nodes have been linked into a parent node, which itself now needs its
// own Update to reach the root — set by reachability.go once the parent
// insertion completes, never called directly by split/merge/rewrite.
func (u *Update) EnterUpdatingAS(parent *Update) bool {
	u.mu.Lock()
	u.parent = parent
	u.mu.Unlock()
	return u.transition(UpdatingNode, UpdatingAS) || u.transition(UpdatingRoot, UpdatingAS)
}

// Parent returns the ancestor-update this transaction is chained from,
// if EnterUpdatingAS was called.
func (u *Update) Parent() *Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.parent
}

// Done finalizes the transaction (finalize has already flushed the
// journal before calling it): releases the pin, and frees
// the replaced node set. It is idempotent only in the sense that calling
// it twice returns ErrUpdateAlreadyDone the second time — callers must
// not treat that as success.
func (fs *Filesystem) Done(u *Update) error {
	var from State
	switch {
	case u.transition(UpdatingAS, Complete):
		from = UpdatingAS
	case u.transition(UpdatingRoot, Complete):
		from = UpdatingRoot
	case u.transition(UpdatingNode, Complete):
		from = UpdatingNode
	default:
		return ErrUpdateAlreadyDone
	}

	for _, id := range u.OldNodes() {
		fs.unregisterUnwritten(id)
		fs.NodeCache.Free(id)
	}

	if pin, ok := u.takePin(); ok {
		fs.Journal.PinRelease(pin)
	}
	for _, pin := range u.takeReparentedPins() {
		fs.Journal.PinRelease(pin)
	}

	atomic.StoreUint32(&u.state, uint32(Freed))

	fs.updatesMu.Lock()
	delete(fs.updates, u.ID)
	fs.updatesMu.Unlock()

	fs.metrics.recordUpdate(from.String())
	return nil
}
