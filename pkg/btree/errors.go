package btree

import "github.com/cockroachdb/errors"

// Sentinel errors for the update engine. Wrapped with
// cockroachdb/errors rather than stdlib fmt.Errorf so that errors.Is
// survives both %w-style wrapping and the cross-goroutine hand-off a
// journal replay or finalizer error needs to make — the same library
// pebble itself (coldtree's own storage dependency) uses for its internal
// error taxonomy.
var (
	// ErrNoSpace is returned by Reserve when the allocator has no sectors
	// left in the class requested and the reserve cache is also empty.
	ErrNoSpace = errors.New("btree: no space for node reservation")

	// ErrCannibalizeLockHeld is returned by TryCannibalize when another
	// goroutine is already freeing open buckets to satisfy its own
	// reservation.
	ErrCannibalizeLockHeld = errors.New("btree: cannibalize lock held")

	// ErrNodeJournalPinHeld means a node can't be reclaimed yet because an
	// older journal entry still pins it.
	ErrNodeJournalPinHeld = errors.New("btree: node pinned by journal entry")

	// ErrRootGeneration is returned by Root.Swap on a compare-and-swap
	// race: the registry's root pointer moved since the caller read it.
	ErrRootGeneration = errors.New("btree: root registry generation mismatch")

	// ErrUpdateAlreadyDone is returned by Update.Done on a transaction
	// that already completed or was rolled back.
	ErrUpdateAlreadyDone = errors.New("btree: update already completed")

	// ErrNotReachable is returned when a caller inspects a node that
	// never passed through willMakeReachable before being written.
	ErrNotReachable = errors.New("btree: node not reachable")

	// ErrStaleNode is returned when a Sequence check fails: the node was
	// rewritten since the caller last looked it up.
	ErrStaleNode = errors.New("btree: stale node pointer")
)

// InvariantViolation is the payload of the panics this package raises on
// impossible states: programmer errors, never runtime conditions a caller
// could meaningfully handle or retry.
type InvariantViolation struct {
	Msg string
}

func (v InvariantViolation) Error() string {
	return "btree: invariant violation: " + v.Msg
}

// WrapNodeID annotates err with the node it was encountered on, for
// error messages and log lines further up the stack.
func WrapNodeID(err error, id NodeID) error {
	return errors.Wrapf(err, "node %d", id)
}

// WrapBtree annotates err with which logical btree it happened in.
func WrapBtree(err error, id ID) error {
	return errors.Wrapf(err, "btree %s", id)
}
