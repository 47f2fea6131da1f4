package btree

import (
	"context"

	"golang.org/x/exp/slices"
)

// mergeHysteresis is the fraction of Format.MaxKeys that two adjacent
// siblings' combined key count must not exceed for Merge to actually
// combine them into one node, rather than just rebalancing a few keys
// across the boundary.
// Using a combined-size check rather than "either side is underfull"
// avoids the hysteresis failure mode where a merge immediately re-splits
// on the next insert.
const mergeHysteresis = 0.75

// Merge combines two adjacent sibling nodes, left and right, that have
// both fallen under their Format's MinKeys watermark. If their
// combined key count exceeds mergeHysteresis × MaxKeys, it
// rebalances instead: moves keys from the fuller side to the emptier one
// without discarding either node's identity. The caller must hold both
// nodes write-locked and parent write-locked; Merge releases none of them.
func (fs *Filesystem) Merge(ctx context.Context, u *Update, parent, left, right *Node) (*Node, error) {
	combined := len(left.Keys()) + len(right.Keys())

	if combined > int(float64(left.Format.MaxKeys())*mergeHysteresis) {
		oldRightMin := right.Min
		fs.rebalance(left, right)

		// rebalance rewrote both left and right's key sets in place, so
		// both need their own journal entry before their (unchanged)
		// identity can be trusted again, and the parent's separator key
		// for right needs updating to the key that moved. The splice is
		// deferred the same way a real merge's is: only once left and
		// right have both confirmed their rewritten content is durable.
		if err := fs.WillMakeReachable(u, left); err != nil {
			return nil, err
		}
		if err := fs.WillMakeReachable(u, right); err != nil {
			return nil, err
		}

		parentID := NilNode
		if parent != nil {
			parentID = parent.ID()
		}
		if parentID == NilNode {
			return nil, nil
		}
		u.setLink(&pendingLink{
			kind:     linkSplice,
			parent:   parentID,
			removed:  []Pos{oldRightMin},
			inserted: []Key{{Pos: right.Min, Ptrs: nodeRefPtrs(right)}},
		})
		fs.blockWrite(parentID, u)
		return nil, nil
	}

	fs.metrics.mergesTotal.Inc()

	merged := fs.NodeCache.Alloc(left.Btree, left.Level, left.Min, right.Max)
	keys := make([]Key, 0, combined)
	keys = append(keys, left.Keys()...)
	keys = append(keys, right.Keys()...)
	merged.SetKeys(keys)
	merged.Parent = left.Parent
	merged.Format = Plan(keys, left.Format.ByteBudget, left.Format)
	merged.Format.Compressed = ProbeCompressible(keys)

	wp := WritePoint{Btree: left.Btree, Level: left.Level}
	ptrs, err := fs.Reserve(ctx, ReserveBtree, wp)
	if err != nil {
		return nil, err
	}
	merged.Ptrs = ptrs

	merged.Lock(LockWrite)
	defer merged.Unlock(LockWrite)

	if err := fs.WillMakeReachable(u, merged); err != nil {
		return nil, err
	}

	fs.WillFreeNode(u, left)
	fs.WillFreeNode(u, right)

	// Deferred to finalize, once merged has confirmed its own write
	// — same reasoning as Split's parent splice.
	u.setLink(&pendingLink{
		kind:     linkSplice,
		parent:   parent.ID(),
		removed:  []Pos{left.Min, right.Min},
		inserted: []Key{{Pos: merged.Min, Ptrs: nodeRefPtrs(merged)}},
	})
	fs.blockWrite(parent.ID(), u)

	return merged, nil
}

// rebalance moves keys from whichever of left/right has more into the
// other, until they're within one key of even, without allocating new
// nodes. This is the cheaper alternative Merge takes when the two
// siblings' combined size doesn't justify actually collapsing them.
func (fs *Filesystem) rebalance(left, right *Node) {
	lk, rk := left.Keys(), right.Keys()
	for len(lk)-len(rk) > 1 {
		rk = slices.Insert(rk, 0, lk[len(lk)-1])
		lk = lk[:len(lk)-1]
	}
	for len(rk)-len(lk) > 1 {
		lk = append(lk, rk[0])
		rk = rk[1:]
	}
	left.SetKeys(lk)
	right.SetKeys(rk)
	left.Format = Plan(lk, left.Format.ByteBudget, left.Format)
	left.Format.Compressed = ProbeCompressible(lk)
	right.Format = Plan(rk, right.Format.ByteBudget, right.Format)
	right.Format.Compressed = ProbeCompressible(rk)
	if len(rk) > 0 {
		right.Min = rk[0].Pos
	}
}
