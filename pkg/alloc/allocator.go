// Package alloc implements the sector allocator collaborator the update
// engine (pkg/btree) draws node reservations from. It is grounded on
// pkg/storage's pebble-backed DefaultStorage: where that type persists
// whole records under a ksuid key, this package persists a free-sector
// cursor per device under a small fixed key, and layers the reservation
// and cannibalize-lock semantics pkg/btree.Allocator requires on top.
package alloc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/coldtree/coldtree/pkg/btree"
)

// SectorsPerNode is the fixed allocation granularity this allocator hands
// out per btree.Reserve call — one node's worth of sectors at the
// engine's default byte budget.
const SectorsPerNode = btree.DefaultByteBudget / 512

// Device describes one backing device's capacity, mirroring the
// dev/gen/offset triple a btree.Ptr carries.
type Device struct {
	ID           uint32
	Gen          uint8
	TotalSectors uint64
}

// Allocator is a bump allocator per device, backed by pebble for the
// free-cursor persistence a crash must be able to recover. It implements
// btree.Allocator.
type Allocator struct {
	db      *pebble.DB
	devices []Device

	mu      sync.Mutex
	cursors map[uint32]uint64 // dev id -> next free sector

	cannibalizeMu sync.Mutex
	cannibalized  bool
}

// Open creates or reopens an allocator state database at path, seeding
// cursors for the given devices from whatever pebble already has
// persisted (or zero, on a fresh filesystem).
func Open(path string, devices []Device) (*Allocator, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "alloc: opening pebble state")
	}

	a := &Allocator{
		db:      db,
		devices: devices,
		cursors: make(map[uint32]uint64, len(devices)),
	}

	for _, d := range devices {
		cursor, err := a.loadCursor(d.ID)
		if err != nil {
			return nil, err
		}
		a.cursors[d.ID] = cursor
	}
	return a, nil
}

func cursorKey(dev uint32) []byte {
	key := make([]byte, 5)
	key[0] = 'c'
	binary.BigEndian.PutUint32(key[1:], dev)
	return key
}

func (a *Allocator) loadCursor(dev uint32) (uint64, error) {
	data, closer, err := a.db.Get(cursorKey(dev))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "alloc: loading device cursor")
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("alloc: corrupt cursor record for device %d", dev)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (a *Allocator) storeCursor(dev uint32, cursor uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, cursor)
	return a.db.Set(cursorKey(dev), data, pebble.Sync)
}

// Reserve hands out SectorsPerNode sectors on whichever device currently
// has the most room, bumping its cursor and persisting the new cursor
// before returning — so a reservation, once returned, can never be handed
// out twice even across a crash.
func (a *Allocator) Reserve(ctx context.Context, class btree.ReserveClass, wp btree.WritePoint) ([]btree.Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, ok := a.pickDeviceLocked()
	if !ok {
		return nil, btree.ErrNoSpace
	}

	cursor := a.cursors[dev.ID]
	if cursor+SectorsPerNode > dev.TotalSectors {
		return nil, btree.ErrNoSpace
	}

	next := cursor + SectorsPerNode
	if err := a.storeCursor(dev.ID, next); err != nil {
		return nil, err
	}
	a.cursors[dev.ID] = next

	return []btree.Ptr{{
		Version: btree.PointerV1,
		Dev:     dev.ID,
		Gen:     dev.Gen,
		Sector:  cursor,
		Sectors: SectorsPerNode,
	}}, nil
}

// pickDeviceLocked returns the device with the most remaining room. Must
// be called with a.mu held.
func (a *Allocator) pickDeviceLocked() (Device, bool) {
	var best Device
	var bestFree uint64
	found := false
	for _, d := range a.devices {
		free := d.TotalSectors - a.cursors[d.ID]
		if !found || free > bestFree {
			best, bestFree, found = d, free, true
		}
	}
	return best, found
}

// Release returns an unused reservation. Because this allocator never
// reuses sectors below a device's cursor (it's pure bump allocation,
// matching the copy-on-write discipline the rest of this engine assumes),
// Release is a no-op: the space is simply never revisited until the
// out-of-scope GC/reclaim path compacts the device.
func (a *Allocator) Release(ptrs []btree.Ptr) {}

// MarkFreed records that ptrs are no longer referenced. Like Release,
// actual space reclamation is the out-of-scope GC path's job; this
// allocator only tracks the bump cursor.
func (a *Allocator) MarkFreed(ptrs []btree.Ptr) {}

// TryCannibalize takes the cannibalize lock, used by Filesystem.Reserve's
// no-space escalation path before retrying an allocation.
func (a *Allocator) TryCannibalize() error {
	a.cannibalizeMu.Lock()
	defer a.cannibalizeMu.Unlock()
	if a.cannibalized {
		return btree.ErrCannibalizeLockHeld
	}
	a.cannibalized = true
	return nil
}

// CannibalizeUnlock releases the cannibalize lock.
func (a *Allocator) CannibalizeUnlock() {
	a.cannibalizeMu.Lock()
	defer a.cannibalizeMu.Unlock()
	a.cannibalized = false
}

// Close closes the underlying pebble database.
func (a *Allocator) Close() error {
	return a.db.Close()
}
