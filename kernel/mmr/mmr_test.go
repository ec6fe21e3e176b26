package mmr

import (
	"testing"

	"github.com/coursekernel/proclab/kernel/cpu"
)

func TestAllocDeallocListID(t *testing.T) {
	c := cpu.New(0)
	r := NewRegistry(2)

	id0, err := r.AllocListID(c)
	if err != nil {
		t.Fatalf("AllocListID: %v", err)
	}
	id1, err := r.AllocListID(c)
	if err != nil {
		t.Fatalf("AllocListID: %v", err)
	}
	if id0 == id1 {
		t.Fatalf("expected distinct slots, got %d and %d", id0, id1)
	}
	if _, err := r.AllocListID(c); err != ErrNoFreeListID {
		t.Fatalf("expected ErrNoFreeListID once every slot is in use, got %v", err)
	}

	r.DeallocListID(c, id0)
	if id2, err := r.AllocListID(c); err != nil || id2 != id0 {
		t.Fatalf("expected slot %d to be reusable after deallocation, got %d, %v", id0, id2, err)
	}
}

func TestNewFamilySingleton(t *testing.T) {
	c := cpu.New(0)
	r := NewRegistry(4)

	var n Region
	if err := r.NewFamily(c, &n, 0x1000, 0x1000); err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	if !n.Shared() {
		t.Fatal("a NewFamily region should carry the Shared flag")
	}
	if n.Session != r.Session() {
		t.Fatal("a region's Session should match its registry's boot session")
	}
	size, err := r.FamilySize(n.ListID())
	if err != nil || size != 1 {
		t.Fatalf("expected a fresh family to have size 1, got %d, %v", size, err)
	}

	dofree, err := r.Remove(c, &n)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !dofree {
		t.Fatal("removing the sole member of a family should report dofree == true")
	}
}

func TestSpliceAfterAndRemove(t *testing.T) {
	c := cpu.New(0)
	r := NewRegistry(4)

	var parent, child Region
	if err := r.NewFamily(c, &parent, 0x2000, 0x1000); err != nil {
		t.Fatalf("NewFamily: %v", err)
	}
	id := parent.ListID()

	if err := r.SpliceAfter(c, id, &parent, &child); err != nil {
		t.Fatalf("SpliceAfter: %v", err)
	}
	if child.ListID() != id {
		t.Fatalf("spliced region should carry the parent family's listid, got %d want %d", child.ListID(), id)
	}
	if child.Session != parent.Session {
		t.Fatal("a spliced region should inherit the family's session tag")
	}
	if size, _ := r.FamilySize(id); size != 2 {
		t.Fatalf("expected family size 2 after splice, got %d", size)
	}

	// Removing one of two members must not collapse the family yet.
	dofree, err := r.Remove(c, &child)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if dofree {
		t.Fatal("removing one of two members should not report dofree")
	}
	if size, _ := r.FamilySize(id); size != 1 {
		t.Fatalf("expected family size 1 after removing one of two members, got %d", size)
	}

	// Removing the last member collapses it.
	dofree, err = r.Remove(c, &parent)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !dofree {
		t.Fatal("removing the final member should report dofree")
	}
}

func TestGetInvalidListID(t *testing.T) {
	r := NewRegistry(2)
	if _, err := r.get(0); err != ErrInvalidListID {
		t.Fatalf("expected ErrInvalidListID for an unallocated slot, got %v", err)
	}
	if _, err := r.get(99); err != ErrInvalidListID {
		t.Fatalf("expected ErrInvalidListID for an out-of-range slot, got %v", err)
	}
}
