package btree

import "fmt"

// Pos identifies a position in a btree's keyspace. Inode groups keys that
// belong to the same logical file/object, Offset orders keys within that
// inode, and Snapshot orders multiple versions of the same (Inode, Offset)
// created by snapshotting.
type Pos struct {
	Inode    uint64
	Offset   uint64
	Snapshot uint32
}

// PosMin sorts before every real position. Snapshot is descending in the
// total order, so the minimal sentinel carries the maximal snapshot id
// (and PosMax the minimal one) — a zero-valued Pos is NOT minimal.
var PosMin = Pos{Snapshot: ^uint32(0)}

// PosMax sorts after every real position.
var PosMax = Pos{
	Inode:  ^uint64(0),
	Offset: ^uint64(0),
}

// Cmp orders positions (Inode, Offset, Snapshot) with Snapshot descending —
// within one (Inode, Offset), a numerically larger snapshot ID sorts
// first, so a point lookup walking forward meets the highest snapshot ID
// first.
func (p Pos) Cmp(o Pos) int {
	switch {
	case p.Inode < o.Inode:
		return -1
	case p.Inode > o.Inode:
		return 1
	case p.Offset < o.Offset:
		return -1
	case p.Offset > o.Offset:
		return 1
	case p.Snapshot > o.Snapshot:
		return -1
	case p.Snapshot < o.Snapshot:
		return 1
	default:
		return 0
	}
}

// Less reports whether p sorts before o.
func (p Pos) Less(o Pos) bool { return p.Cmp(o) < 0 }

// Equal reports whether p and o are the same position.
func (p Pos) Equal(o Pos) bool { return p.Cmp(o) == 0 }

// Successor returns a position strictly greater than p: the next offset
// of the same inode with snapshot 0, or offset 0 of the next inode when
// p.Offset is already the maximum. Key.End uses it for zero-size keys.
func (p Pos) Successor() Pos {
	if p.Offset != ^uint64(0) {
		return Pos{Inode: p.Inode, Offset: p.Offset + 1}
	}
	return Pos{Inode: p.Inode + 1}
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d:%d", p.Inode, p.Offset, p.Snapshot)
}
