package proc

import (
	"errors"
	"fmt"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/mmr"
	"github.com/coursekernel/proclab/kernel/vm"
)

// MaxMMR and NOFile are the compile-time array capacities backing Proc's
// mmr/ofile tables (spec.md's MAX_MMR, NOFILE). A Table's configured limits
// (see kernel/config.go) must not exceed these; they exist as Go consts,
// rather than runtime-sized slices, because xv6 itself sizes these as
// fixed per-process arrays.
const (
	MaxMMR = 16
	NOFile = 16
)

var (
	// ErrNoFreeSlot is returned by AllocProc when every slot is in use.
	ErrNoFreeSlot = errors.New("proc: no free process slot")
	// ErrTooManyFiles/ErrTooManyMMRs guard configured limits against the array caps.
	ErrTooManyFiles = errors.New("proc: configured NOFILE exceeds table capacity")
	ErrTooManyMMRs  = errors.New("proc: configured MAX_MMR exceeds table capacity")
)

// Table is the fixed-size process table (spec.md component B) plus the
// collaborators fork/exit/wait need: the PID allocator, the MMR family
// registry, and the physical frame allocator. It is the single
// ceremonially-initialized object the rest of the kernel is built around,
// per the design note on recasting xv6's global arrays.
type Table struct {
	slots []*Proc

	waitLock *cpu.Spinlock

	pidLock *cpu.Spinlock
	nextPID int

	fa  *vm.FrameAllocator
	reg *mmr.Registry

	sched Scheduler

	nofile int
	maxmmr int

	timeslices [NumPriorities]int

	initProc *Proc
}

// NewTable allocates nproc UNUSED slots and wires in the frame allocator and
// MMR registry every process will use. sched is set separately via
// SetScheduler once the scheduler (which itself needs the table) exists —
// breaking the construction cycle the two components would otherwise have.
func NewTable(nproc, nofile, maxmmr int, fa *vm.FrameAllocator, reg *mmr.Registry, timeslices [NumPriorities]int) (*Table, error) {
	if nofile > NOFile {
		return nil, ErrTooManyFiles
	}
	if maxmmr > MaxMMR {
		return nil, ErrTooManyMMRs
	}
	t := &Table{
		slots:      make([]*Proc, nproc),
		waitLock:   cpu.NewSpinlock("wait_lock"),
		pidLock:    cpu.NewSpinlock("pid_lock"),
		fa:         fa,
		reg:        reg,
		nofile:     nofile,
		maxmmr:     maxmmr,
		timeslices: timeslices,
	}
	for i := range t.slots {
		t.slots[i] = &Proc{
			Lock:  cpu.NewSpinlock(fmt.Sprintf("proc-%d", i)),
			index: i,
			run:   make(chan struct{}),
			park:  make(chan struct{}),
		}
	}
	return t, nil
}

// SetScheduler wires in the scheduler queues used by Sleep/Wakeup/Kill/Fork
// to enqueue newly runnable processes.
func (t *Table) SetScheduler(s Scheduler) { t.sched = s }

// NProc returns the table's fixed slot count.
func (t *Table) NProc() int { return len(t.slots) }

// Slot returns the process at index i, for the scheduler's RR scan and for
// diagnostics; it does not take any lock.
func (t *Table) Slot(i int) *Proc { return t.slots[i] }

// InitProc returns the init process (pid 1), or nil before UserInit runs.
func (t *Table) InitProc() *Proc { return t.initProc }

func (t *Table) timeslice(pr Priority) int { return t.timeslices[pr] }

// allocPID hands out the next PID; PIDs are a monotonic counter and are
// never recycled, per spec.md's PID allocator invariant.
func (t *Table) allocPID(c *cpu.CPU) int {
	t.pidLock.Lock(c)
	defer t.pidLock.Unlock(c)
	t.nextPID++
	return t.nextPID
}

// AllocProc scans for an UNUSED slot, claims it, assigns a fresh PID, and
// initializes its address space and trap frame, returning with the slot
// lock still held on success (spec.md §4.B). On any allocation failure the
// partially constructed slot is torn back down via freeProcLocked before
// returning the error.
func (t *Table) AllocProc(c *cpu.CPU) (*Proc, error) {
	for _, p := range t.slots {
		p.Lock.Lock(c)
		if p.State != Unused {
			p.Lock.Unlock(c)
			continue
		}
		p.State = Used
		p.PID = t.allocPID(c)
		p.Priority = High
		p.Timeslice = t.timeslice(High)
		p.TSticks = 0
		p.CPUTime = 0
		p.Yielded = false
		p.Killed = false
		p.XState = 0
		p.Chan = 0
		p.Parent = nil

		p.AS = vm.NewAddressSpace(t.fa)
		tf, err := vm.NewTrapFrame()
		if err != nil {
			t.freeProcLocked(c, p)
			return nil, err
		}
		p.TF = tf
		p.KStack = vm.NewKernelStack()
		p.Ctx = vm.Context{ResumeAt: "fork_ret"}
		p.launch()
		return p, nil
	}
	return nil, ErrNoFreeSlot
}

// FreeProc tears a ZOMBIE slot back down to UNUSED (spec.md's freeproc,
// invoked from wait once a zombie's status has been collected). Caller
// must hold p.Lock; the lock survives the zeroing (the *cpu.Spinlock value
// is preserved) so callers don't need to re-fetch it.
func (t *Table) FreeProc(c *cpu.CPU, p *Proc) {
	t.freeProcLocked(c, p)
}

func (t *Table) freeProcLocked(c *cpu.CPU, p *Proc) {
	for i := range p.MMR {
		r := &p.MMR[i]
		if r.Valid {
			t.releaseRegion(c, p, r)
		}
	}
	if p.AS != nil {
		p.AS.Free()
	}
	lock, idx := p.Lock, p.index
	*p = Proc{Lock: lock, index: idx, run: make(chan struct{}), park: make(chan struct{})}
	p.State = Unused
}

// releaseRegion implements free_proc's per-region teardown: PRIVATE
// regions are always unmapped; SHARED regions are unlinked from their
// family ring and only unmapped once the ring collapses to empty.
func (t *Table) releaseRegion(c *cpu.CPU, p *Proc, r *mmr.Region) {
	dofree := true
	if r.Shared() {
		var err error
		dofree, err = t.reg.Remove(c, r)
		if err == nil && dofree {
			t.reg.DeallocListID(c, r.ListID())
		}
	}
	if dofree {
		p.AS.UnmapRegion(r.Addr, r.Length)
	}
	r.Valid = false
}

// Registry exposes the MMR family registry, for the lifecycle (fork) and
// syscall layers that must splice/allocate families.
func (t *Table) Registry() *mmr.Registry { return t.reg }

// Frames exposes the physical frame allocator, for the freepmem syscall and
// for vm operations that need it directly.
func (t *Table) Frames() *vm.FrameAllocator { return t.fa }

// WaitLock exposes the process-tree lock for lifecycle.go; it is a
// distinct type (not embedded) so every acquisition site is visible at a
// grep, matching the lock-ordering discipline spec.md §5 mandates.
func (t *Table) WaitLock() *cpu.Spinlock { return t.waitLock }

// ScanRunnable implements the RR policy's scheduling scan (spec.md §4.F):
// a strict slot-array walk, taking each slot's lock briefly, looking for
// the first RUNNABLE process, returned with its lock still held (matching
// AllocProc's "returns locked on success" convention, which the scheduler
// already expects to consume).
func (t *Table) ScanRunnable(c *cpu.CPU) *Proc {
	for _, p := range t.slots {
		p.Lock.Lock(c)
		if p.State == Runnable {
			return p
		}
		p.Lock.Unlock(c)
	}
	return nil
}

// Snapshot is a point-in-time, lock-safe copy of one slot's externally
// visible fields — the Go-native pstat record (spec.md §6 procinfo).
type Snapshot struct {
	PID     int
	Name    string
	State   State
	Size    uintptr
	CPUTime int
	PPID    int
}

// Snapshots walks every non-UNUSED slot under its own lock and returns a
// pstat-style snapshot array, for the procinfo syscall and the debug-key
// listing (spec.md §6).
func (t *Table) Snapshots(c *cpu.CPU) []Snapshot {
	// wait_lock guards Parent, and must be acquired before any p.lock per
	// the spec's lock ordering (spec.md §5).
	t.waitLock.Lock(c)
	defer t.waitLock.Unlock(c)
	var out []Snapshot
	for _, p := range t.slots {
		p.Lock.Lock(c)
		if p.State != Unused {
			ppid := 0
			if p.Parent != nil {
				ppid = p.Parent.PID
			}
			var size uintptr
			if p.AS != nil {
				size = p.AS.Size()
			}
			out = append(out, Snapshot{
				PID:     p.PID,
				Name:    p.Name(),
				State:   p.State,
				Size:    size,
				CPUTime: p.CPUTime,
				PPID:    ppid,
			})
		}
		p.Lock.Unlock(c)
	}
	return out
}
