// Package btree implements the interior-node update engine of coldtree's
// copy-on-write, journalled B-tree storage layer: node allocation and
// reservation, the update transaction state machine, the reachability
// protocol that orders node writes against journal commits, and the
// split/merge/rewrite/key-update topology operations that keep a btree
// balanced under concurrent access.
//
// It does not implement the on-disk key codec, the sector allocator, the
// journal's own commit protocol, or the leaf-level key-value API — those
// are supplied by collaborator interfaces (NodeCache, Allocator, Journal)
// and implemented in pkg/nodecache, pkg/alloc and pkg/journal respectively.
package btree
