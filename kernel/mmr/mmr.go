// Package mmr implements the MMR (Mapped Memory Region) family registry:
// the global table of shared-region family heads and their listid
// allocator, plus the doubly-linked family ring each MAP_SHARED region's
// member processes are threaded onto.
//
// Grounded on spec.md §4.C' and §3 "MMR (Mapped Memory Region)". The ring is
// expressed as an intrusive doubly-linked list through *Region nodes (one
// node lives inside each process's own mmr table), matching the design
// note's guidance to keep the ring intrusive while making the family
// registry itself an explicit, ceremonially-initialized table rather than a
// bare global array.
package mmr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/coursekernel/proclab/kernel/cpu"
)

// Flag mirrors the mmap-style flags carried by a region.
type Flag int

const (
	Private Flag = 1 << iota
	Shared
)

// Region is one process's mapping of a memory window. For MAP_PRIVATE it is
// always a singleton ring pointing at itself with ListID == -1. For
// MAP_SHARED it is one node in the family ring identified by ListID, and
// prev/next are owned exclusively by the Registry's NewFamily/SpliceAfter/
// Remove.
type Region struct {
	Valid  bool
	Addr   uintptr
	Length uintptr
	Flags  Flag

	// Session tags the boot run that created this region's family. It is
	// kept on the region only; audit snapshots do not record regions,
	// listids or session tags.
	Session uuid.UUID

	listID int

	prev, next *Region
}

// ListID reports the family this region belongs to, or -1 for MAP_PRIVATE.
func (r *Region) ListID() int { return r.listID }

// Shared reports whether the region carries MAP_SHARED.
func (r *Region) Shared() bool { return r.Flags&Shared != 0 }

// InitPrivate (re)initializes r as a fresh MAP_PRIVATE singleton ring.
func (r *Region) InitPrivate(addr, length uintptr) {
	r.Valid = true
	r.Addr = addr
	r.Length = length
	r.Flags = Private
	r.listID = -1
	r.prev, r.next = r, r
}

var (
	// ErrNoFreeListID is returned when every family slot is in use.
	ErrNoFreeListID = errors.New("mmr: no free family listid")
	// ErrInvalidListID is returned by Family for an out-of-range or unallocated id.
	ErrInvalidListID = errors.New("mmr: invalid family listid")
)

// family is the global registry's record for one MAP_SHARED listid: a lock
// serializing ring mutation, plus the ring's current size and an arbitrary
// member used as the traversal anchor.
type family struct {
	id    int
	lock  *cpu.Spinlock
	head  *Region
	count int
}

// Registry is the global, fixed-size table of family slots (spec.md's
// mmrlist_init/alloc_mmr_listid/dealloc_mmr_listid/get_mmr_list), with its
// own listid_lock distinct from any family's own lock, per the spec's lock
// ordering (listid_lock is acquired only to claim/release a slot, never
// while a family lock is held).
type Registry struct {
	listLock *cpu.Spinlock
	valid    []bool
	fam      []*family

	session uuid.UUID
}

// NewRegistry builds a registry with max family slots, all initially
// invalid — the Go analogue of mmrlist_init() zeroing the valid bitmap.
// Every family this registry creates is stamped with a fresh per-boot
// session UUID.
func NewRegistry(max int) *Registry {
	return &Registry{
		listLock: cpu.NewSpinlock("mmr-listid"),
		valid:    make([]bool, max),
		fam:      make([]*family, max),
		session:  uuid.New(),
	}
}

// Session reports the registry's boot-session tag.
func (r *Registry) Session() uuid.UUID { return r.session }

// AllocListID scans for the first invalid slot, claims it, and returns its
// index, or ErrNoFreeListID if the table is full.
func (r *Registry) AllocListID(c *cpu.CPU) (int, error) {
	r.listLock.Lock(c)
	defer r.listLock.Unlock(c)
	for i, used := range r.valid {
		if !used {
			r.valid[i] = true
			r.fam[i] = &family{id: i, lock: cpu.NewSpinlock(fmt.Sprintf("mmr-family-%d", i))}
			return i, nil
		}
	}
	return -1, ErrNoFreeListID
}

// DeallocListID clears the valid bit, returning the slot to the free pool.
// Callers must only do this once a family's ring has fully collapsed
// (Remove reported dofree == true).
func (r *Registry) DeallocListID(c *cpu.CPU, id int) {
	r.listLock.Lock(c)
	defer r.listLock.Unlock(c)
	if id < 0 || id >= len(r.valid) {
		return
	}
	r.valid[id] = false
	r.fam[id] = nil
}

func (r *Registry) get(id int) (*family, error) {
	if id < 0 || id >= len(r.valid) || !r.valid[id] || r.fam[id] == nil {
		return nil, ErrInvalidListID
	}
	return r.fam[id], nil
}

// NewFamily allocates a listid and initializes n as the sole member of its
// ring — the state a fresh MAP_SHARED mapping is created in before any
// fork has had a chance to splice a child into it.
func (r *Registry) NewFamily(c *cpu.CPU, n *Region, addr, length uintptr) error {
	id, err := r.AllocListID(c)
	if err != nil {
		return err
	}
	fam, err := r.get(id)
	if err != nil {
		return err
	}
	n.Valid = true
	n.Addr = addr
	n.Length = length
	n.Flags = Shared
	n.listID = id
	n.Session = r.session
	n.prev, n.next = n, n
	fam.lock.Lock(c)
	fam.head = n
	fam.count = 1
	fam.lock.Unlock(c)
	return nil
}

// SpliceAfter links n into the ring of listid id immediately after after,
// under that family's lock — used by fork to add a child's region right
// next to its parent's.
func (r *Registry) SpliceAfter(c *cpu.CPU, id int, after, n *Region) error {
	fam, err := r.get(id)
	if err != nil {
		return err
	}
	fam.lock.Lock(c)
	defer fam.lock.Unlock(c)
	n.Valid = true
	n.Flags = Shared
	n.listID = id
	n.Session = r.session
	n.next = after.next
	n.prev = after
	after.next.prev = n
	after.next = n
	fam.count++
	return nil
}

// Remove unlinks n from its family ring. dofree reports whether n was the
// ring's last member — the spec's contract that SHARED backing frames are
// freed only when the ring collapses to a single node, never on an
// intermediate departure.
func (r *Registry) Remove(c *cpu.CPU, n *Region) (dofree bool, err error) {
	fam, err := r.get(n.listID)
	if err != nil {
		return false, err
	}
	fam.lock.Lock(c)
	defer fam.lock.Unlock(c)
	if fam.count <= 1 {
		fam.head = nil
		fam.count = 0
		n.prev, n.next = n, n
		return true, nil
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	if fam.head == n {
		fam.head = n.next
	}
	n.prev, n.next = n, n
	fam.count--
	return false, nil
}

// FamilySize reports the current ring size for id, for tests and auditing.
func (r *Registry) FamilySize(id int) (int, error) {
	fam, err := r.get(id)
	if err != nil {
		return 0, err
	}
	return fam.count, nil
}
