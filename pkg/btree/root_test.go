package btree

import "testing"

func TestRootRegistrySetThenSwap(t *testing.T) {
	r := NewRootRegistry()
	r.Set(RootPtr{Btree: Extents, Node: 1})

	got, ok := r.Get(Extents)
	if !ok || got.Node != 1 {
		t.Fatalf("expected root node 1, got %+v ok=%v", got, ok)
	}

	if err := r.Swap(RootPtr{Btree: Extents, Node: 2}, got.Generation); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	got, _ = r.Get(Extents)
	if got.Node != 2 {
		t.Fatalf("expected root node 2 after swap, got %d", got.Node)
	}
}

func TestRootRegistrySwapRejectsStaleGeneration(t *testing.T) {
	r := NewRootRegistry()
	r.Set(RootPtr{Btree: Extents, Node: 1})

	if err := r.Swap(RootPtr{Btree: Extents, Node: 2}, 99); err != ErrRootGeneration {
		t.Fatalf("expected ErrRootGeneration on a stale CAS, got %v", err)
	}
}

func TestRootRegistrySwapOnEmptyRegistry(t *testing.T) {
	r := NewRootRegistry()
	if err := r.Swap(RootPtr{Btree: Inodes, Node: 1}, 0); err != nil {
		t.Fatalf("first install should use generation 0: %v", err)
	}
	got, ok := r.Get(Inodes)
	if !ok || got.Generation != 1 {
		t.Fatalf("expected generation 1 after first swap, got %+v", got)
	}
}

func TestRootRegistryAllReturnsEverything(t *testing.T) {
	r := NewRootRegistry()
	r.Set(RootPtr{Btree: Extents, Node: 1})
	r.Set(RootPtr{Btree: Inodes, Node: 2})

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(all))
	}
}
