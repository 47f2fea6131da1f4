package btree

import "fmt"

// ID identifies which logical btree (extents, inodes, dirents, ...) a node
// or key belongs to. Values below BtreeMax are currently in use.
type ID uint8

const (
	Extents ID = iota
	Inodes
	Dirents
	Xattrs
	Alloc
	BtreeMax
)

func (id ID) String() string {
	switch id {
	case Extents:
		return "extents"
	case Inodes:
		return "inodes"
	case Dirents:
		return "dirents"
	case Xattrs:
		return "xattrs"
	case Alloc:
		return "alloc"
	default:
		return fmt.Sprintf("btree(%d)", uint8(id))
	}
}

// PointerVersion tags the on-disk shape of a Ptr, following the project's
// tagged-union convention for anything that has grown a second wire format:
// switch on Version, never type-assert.
type PointerVersion uint8

const (
	// PointerV1 stores an uncompressed sector run.
	PointerV1 PointerVersion = 1
	// PointerV2 adds a compressed-size field distinct from the logical
	// extent size, and a checksum type tag.
	PointerV2 PointerVersion = 2
)

// Ptr is one replica pointer: a (device, generation, sector offset) triple
// plus whatever PointerVersion-specific fields that replica needs to be
// read back.
type Ptr struct {
	Version  PointerVersion
	Dev      uint32
	Gen      uint8
	Sector   uint64
	Sectors  uint32 // on-disk length, in sectors
	CSumType uint8  // PointerV2 only; zero under PointerV1
}

// Cached reports whether this replica lives on a cache device rather than
// a durable backing device — cached replicas are dropped silently on node
// rewrite rather than causing a write error.
func (p Ptr) Cached() bool { return false }

// Key is one interior-node record: a position plus the set of child
// pointers reachable through it. Size is the key's length along Pos.Offset
// (zero for point keys such as dirent or inode records).
type Key struct {
	Pos  Pos
	Size uint64
	Ptrs []Ptr
}

// End returns the exclusive upper bound covered by k.
func (k Key) End() Pos {
	if k.Size == 0 {
		return k.Pos.Successor()
	}
	return Pos{Inode: k.Pos.Inode, Offset: k.Pos.Offset + k.Size, Snapshot: k.Pos.Snapshot}
}

// ByPos sorts a key slice by Pos, satisfying sort.Interface.
type ByPos []Key

func (b ByPos) Len() int           { return len(b) }
func (b ByPos) Less(i, j int) bool { return b[i].Pos.Less(b[j].Pos) }
func (b ByPos) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
