// Package sem implements counting semaphores atop kernel/proc's
// sleep/wakeup (spec.md component I, §4.I), fixing the three races
// spec.md §9's REDESIGN FLAGS call out in the original: sem_wait holds
// exactly the target slot's own lock across its check-sleep-recheck loop
// (no stray second acquire, no scan starting at index 0), sem_post reads
// the caller-supplied handle exactly once, and sem_destroy clears valid
// while still holding the slot lock it then releases normally.
package sem

import (
	"errors"
	"unsafe"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/proc"
)

var (
	// ErrNoFreeSlot is returned by Init when every semaphore slot is in use.
	ErrNoFreeSlot = errors.New("sem: no free semaphore slot")
	// ErrInvalidHandle is returned by Wait/Post/Destroy/Count for an
	// out-of-range handle, and by Destroy for a slot that is not currently
	// valid. Wait and Post do not check validity, so they operate on a
	// destroyed slot's count.
	ErrInvalidHandle = errors.New("sem: invalid handle")
	// ErrKilled is returned by Wait if the calling process was killed while
	// blocked, matching spec.md's cooperative-kill convention.
	ErrKilled = errors.New("sem: process killed while waiting")
)

// Slot is one semaphore's table entry: {count, valid, lock} per spec.md §3.
type Slot struct {
	lock  *cpu.Spinlock
	valid bool
	count int
}

// Table is the fixed-size semaphore table (spec.md's NSEM), with its own
// table-wide lock used only to scan for and claim a free slot on Init. Init
// holds it while taking each slot's own lock in turn; nothing acquires a
// slot lock first and the table lock second.
type Table struct {
	tlock *cpu.Spinlock
	slots []*Slot
}

// New builds a table of n invalid semaphore slots.
func New(n int) *Table {
	slots := make([]*Slot, n)
	for i := range slots {
		slots[i] = &Slot{lock: cpu.NewSpinlock("sem-slot")}
	}
	return &Table{tlock: cpu.NewSpinlock("sem-table"), slots: slots}
}

func chanOf(s *Slot) uintptr {
	return uintptr(unsafe.Pointer(s)) //nolint:govet // opaque wait-channel token, never dereferenced
}

// Init implements sem_init: allocate a slot and store the initial value,
// returning the handle the caller would copy out to user space.
func (t *Table) Init(c *cpu.CPU, value int) (handle int, err error) {
	t.tlock.Lock(c)
	defer t.tlock.Unlock(c)
	for i, s := range t.slots {
		s.lock.Lock(c)
		if !s.valid {
			s.valid = true
			s.count = value
			s.lock.Unlock(c)
			return i, nil
		}
		s.lock.Unlock(c)
	}
	return -1, ErrNoFreeSlot
}

func (t *Table) slot(handle int) (*Slot, error) {
	if handle < 0 || handle >= len(t.slots) {
		return nil, ErrInvalidHandle
	}
	return t.slots[handle], nil
}

// Wait implements sem_wait(handle): the handle identifies the slot
// directly (no index scan); the slot's own lock is held across the
// check-sleep-recheck loop and handed to Sleep as its associated lock, so
// a concurrent Post can never land between the count check and going to
// sleep (spec.md §9 open question 1). Returns the CPU that redispatched
// caller if it blocked, which caller's own body must use from here on.
func (t *Table) Wait(pt *proc.Table, c *cpu.CPU, caller *proc.Proc, handle int) (*cpu.CPU, error) {
	s, err := t.slot(handle)
	if err != nil {
		return c, err
	}
	s.lock.Lock(c)
	for s.count == 0 {
		if caller.Killed {
			s.lock.Unlock(c)
			return c, ErrKilled
		}
		c = pt.Sleep(c, caller, chanOf(s), s.lock)
	}
	s.count--
	s.lock.Unlock(c)
	return c, nil
}

// Post implements sem_post(handle): handle is read exactly once by the
// caller (kernel/syscall's copy-in boundary) and passed in as a plain int
// here — the fix for spec.md §9 open question 2's missing copy-in.
func (t *Table) Post(pt *proc.Table, c *cpu.CPU, handle int) error {
	s, err := t.slot(handle)
	if err != nil {
		return err
	}
	s.lock.Lock(c)
	s.count++
	pt.Wakeup(c, chanOf(s))
	s.lock.Unlock(c)
	return nil
}

// Destroy implements sem_destroy(handle): require the slot currently
// valid, then mark it invalid, all under the slot's own lock — Destroy
// never touches the lock field itself (spec.md §9 open question 3), so the
// deferred Unlock below always releases the same lock Lock acquired.
func (t *Table) Destroy(c *cpu.CPU, handle int) error {
	s, err := t.slot(handle)
	if err != nil {
		return err
	}
	s.lock.Lock(c)
	defer s.lock.Unlock(c)
	if !s.valid {
		return ErrInvalidHandle
	}
	s.valid = false
	return nil
}

// Count reports a slot's current value, for tests and diagnostics.
func (t *Table) Count(c *cpu.CPU, handle int) (int, error) {
	s, err := t.slot(handle)
	if err != nil {
		return 0, err
	}
	s.lock.Lock(c)
	defer s.lock.Unlock(c)
	return s.count, nil
}
