package btree

import (
	"github.com/klauspost/compress/zstd"
	"golang.org/x/exp/slices"
)

// Format is the packed on-disk layout a node's keys will be written with:
// the minimum field widths that still hold every live key, plus the node
// capacity those widths buy at the node's fixed byte budget. Recomputed
// by Plan on every rewrite and split since the live key set, and
// therefore the tightest widths, changes on every one of those.
type Format struct {
	InodeBits    uint8
	OffsetBits   uint8
	SnapshotBits uint8
	PtrBits      uint8

	// ByteBudget is the node's fixed on-disk size; MaxKeys is derived from
	// it and the field widths above.
	ByteBudget uint32

	// Compressed is an informational hint set by ProbeCompressible, not by
	// Plan: it doesn't affect the format's field widths or MaxKeys, it
	// just records whether the key set's pointer bytes were worth
	// compressing the last time someone checked. The actual overflow
	// fallback is returning the node's current format unchanged, never a
	// compressed substitute.
	Compressed bool
}

// DefaultByteBudget is the node size used when a caller doesn't override
// it — 4 btree node sectors at the project's standard 4KiB sector size.
const DefaultByteBudget = 16 * 1024

const bitsPerField = 64

// minBits returns the number of bits needed to hold v (0 bits for v == 0,
// matching the "all keys share this field's high bits" packing the format
// planner exploits when a field's value range across the live key set is
// narrow).
func minBits(v uint64) uint8 {
	var n uint8
	for v > 0 {
		n++
		v >>= 1
	}
	return n
}

// Plan computes the tightest Format that can represent every key in keys,
// given the node's current format. It walks the live set once, tracking
// the OR of (value XOR min-value) for each field so that fields which are
// constant, or vary only in their low bits, pack into far fewer bits than
// bitsPerField — the same idea the node cache's key comparator already
// relies on, generalized here into an explicit per-node format instead of
// a single fixed on-disk layout.
//
// If the narrowest format still overflows byteBudget, Plan falls back to
// current rather than returning the overflowing format: a rewrite
// that can't tighten a node's packing keeps the node readable under its
// existing layout instead of writing something wider than the budget.
func Plan(keys []Key, byteBudget uint32, current Format) Format {
	if byteBudget == 0 {
		byteBudget = DefaultByteBudget
	}
	if len(keys) == 0 {
		return Format{ByteBudget: byteBudget}
	}

	minInode, minOffset := keys[0].Pos.Inode, keys[0].Pos.Offset
	var minSnap uint32 = keys[0].Pos.Snapshot
	for _, k := range keys[1:] {
		if k.Pos.Inode < minInode {
			minInode = k.Pos.Inode
		}
		if k.Pos.Offset < minOffset {
			minOffset = k.Pos.Offset
		}
		if k.Pos.Snapshot < minSnap {
			minSnap = k.Pos.Snapshot
		}
	}

	var inodeSpread, offsetSpread uint64
	var snapSpread uint32
	var maxPtrs int
	for _, k := range keys {
		inodeSpread |= k.Pos.Inode - minInode
		offsetSpread |= k.Pos.Offset - minOffset
		snapSpread |= k.Pos.Snapshot - minSnap
		if len(k.Ptrs) > maxPtrs {
			maxPtrs = len(k.Ptrs)
		}
	}

	f := Format{
		InodeBits:    minBits(inodeSpread),
		OffsetBits:   minBits(offsetSpread),
		SnapshotBits: minBits(uint64(snapSpread)),
		PtrBits:      minBits(uint64(maxPtrs)) + 40, // device+gen+sector, coarse
		ByteBudget:   byteBudget,
	}

	if f.bytesPerKey()*uint32(len(keys)) > byteBudget {
		if current.ByteBudget == 0 {
			current.ByteBudget = byteBudget
		}
		return current
	}
	return f
}

func (f Format) bytesPerKey() uint32 {
	bits := uint32(f.InodeBits) + uint32(f.OffsetBits) + uint32(f.SnapshotBits) + uint32(f.PtrBits)
	return (bits + 7) / 8
}

// MaxKeys returns the split threshold: the node count that fills
// ByteBudget at this format's per-key width.
func (f Format) MaxKeys() int {
	bpk := f.bytesPerKey()
	if bpk == 0 {
		return 256
	}
	n := int(f.ByteBudget / bpk)
	if n < 4 {
		n = 4
	}
	return n
}

// MinKeys is the merge low-water mark: a quarter of MaxKeys, the complement of
// the 3/5 split threshold.
func (f Format) MinKeys() int {
	n := f.MaxKeys() / 4
	if n < 1 {
		n = 1
	}
	return n
}

// ProbeCompressible does a cheap zstd dry-run over a packed sample of a
// node's key set to decide whether its pointer bytes are worth writing
// compressed. This is independent of Plan's format-fitting decision — a
// node can have plenty of byte budget to spare and still benefit from
// compression, or vice versa — so callers run it separately and set the
// result on Format.Compressed themselves if they want to record it.
func ProbeCompressible(keys []Key) bool {
	return probeCompressible(keys)
}

// probeCompressible does a cheap zstd dry-run over a packed sample of the
// key set's pointer bytes to decide whether the overflow block is worth
// writing compressed. It never stores the compressor's output directly —
// this is a feasibility probe, not the write path — that's left to the
// node-cache collaborator, which owns the actual node buffer.
func probeCompressible(keys []Key) bool {
	sample := make([]byte, 0, 256)
	for _, k := range keys {
		for _, p := range k.Ptrs {
			sample = append(sample, byte(p.Sector), byte(p.Sector>>8), byte(p.Dev))
			if len(sample) >= 256 {
				break
			}
		}
		if len(sample) >= 256 {
			break
		}
	}
	if len(sample) == 0 {
		return false
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return false
	}
	defer enc.Close()
	compressed := enc.EncodeAll(sample, nil)
	return len(compressed) < len(sample)
}

// splitKeys partitions a sorted key slice into two runs at the format
// planner's preferred pivot: the 3/5 point by key count rather than a
// strict midpoint, so the left (older) half tends to be the fuller one
// and absorbs more writes before its own next split.
func splitKeys(keys []Key) (left, right []Key) {
	if len(keys) < 2 {
		return keys, nil
	}
	pivot := len(keys) * 3 / 5
	if pivot < 1 {
		pivot = 1
	}
	if pivot > len(keys)-1 {
		pivot = len(keys) - 1
	}
	left = slices.Clone(keys[:pivot])
	right = slices.Clone(keys[pivot:])
	return left, right
}
