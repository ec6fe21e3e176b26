// Package proc owns the process slot table: the bounded-table allocator,
// the per-slot state machine, sleep/wakeup, and fork/exit/wait/kill. It is
// the Go-native home for spec.md components B, G, and H.
//
// Grounded on manager/process.go's processManager (a supervised,
// lock-guarded, restartable unit of work) generalized from "one external OS
// process" to "one process-table slot" — the same discipline of "take the
// lock, check state, act, release" that governs every method here.
package proc

import (
	"bytes"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/mmr"
	"github.com/coursekernel/proclab/kernel/vm"
)

// State is one of the six slot states spec.md §3 names.
type State int

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Used:
		return "USED"
	case Sleeping:
		return "SLEEPING"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "INVALID"
	}
}

// Priority is one of the three MLFQ levels; under the RR policy every
// process is forced to High and priority is otherwise unused.
type Priority int

const (
	High Priority = iota
	Medium
	Low
	NumPriorities
)

func (p Priority) String() string {
	switch p {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	default:
		return "INVALID"
	}
}

// NameLen matches xv6's proc.name[16].
const NameLen = 16

// Scheduler is the narrow slice of kernel/sched's Scheduler that the proc
// package needs in order to enqueue a process it just made runnable. The
// dependency is inverted this way (proc defines the interface, sched
// implements it) specifically so proc never imports sched, even though
// sched must import proc to manipulate *Proc — avoiding the import cycle
// the two components would otherwise form, and matching the design note
// that the queue module alone should own queue linkage.
type Scheduler interface {
	EnqueueHead(c *cpu.CPU, p *Proc)
	EnqueueTail(c *cpu.CPU, p *Proc)
}

// Body is one process's simulated workload: everything it needs except the
// dispatching CPU (the owning Table, itself, and any other kernel handle
// such as a semaphore table) is captured by closure when the body is
// constructed, rather than threaded through a parameter list — user-space
// program code is explicitly out of scope (spec.md §1), so Body exists only
// so tests and an embedding program can drive fork/exit/wait/sleep/kill
// through the real scheduler instead of calling internals directly.
//
// The CPU is the one exception: any of a kernel's cfg.NCPU scheduler loops
// may dispatch a RUNNABLE process on any pass (spec.md's scheduler has no
// CPU affinity), so a body cannot simply close over the *cpu.CPU its first
// dispatch happened to use — every call that can park it (Sleep, Yield,
// Wait, ...) returns the CPU it actually resumed on, and a body must thread
// that value through its own local c the same way these helpers do.
//
// A Body must eventually call Table.Exit for the process it was given;
// Table.Exit is the only operation that lets its goroutine return.
type Body func(c *cpu.CPU)

// Proc is one process-table slot. Every field below Lock is guarded by it,
// including State itself, per spec.md's invariant (2): RUNNING implies some
// CPU's current points here; (3): SLEEPING implies Chan != 0.
type Proc struct {
	Lock *cpu.Spinlock

	index int

	PID    int
	State  State
	Parent *Proc

	Chan   uintptr
	Killed bool
	XState int

	name      [NameLen]byte
	Priority  Priority
	Timeslice int
	TSticks   int
	CPUTime   int
	Yielded   bool

	AS     *vm.AddressSpace
	TF     *vm.TrapFrame
	KStack *vm.KernelStack
	Ctx    vm.Context

	MMR [MaxMMR]mmr.Region

	Ofile [NOFile]vm.File
	Cwd   vm.Inode

	body    Body
	run     chan struct{}
	park    chan struct{}
	started bool

	// curCPU is the *cpu.CPU that last dispatched this process, written by
	// Dispatch immediately before it signals run. The send on run
	// happens-before the body goroutine's matching receive, so the body
	// (and sched, resuming inside it) may read curCPU right after waking
	// with no lock of its own.
	curCPU *cpu.CPU
}

// SetName copies s into the fixed-size debug name field, truncating to
// NameLen bytes exactly as xv6's safestrcpy does.
func (p *Proc) SetName(s string) {
	var buf [NameLen]byte
	copy(buf[:], s)
	p.name = buf
}

// Name returns the debug name as a Go string.
func (p *Proc) Name() string {
	n := bytes.IndexByte(p.name[:], 0)
	if n < 0 {
		n = len(p.name)
	}
	return string(p.name[:n])
}

// Index returns the slot's fixed position in its Table, stable for the
// slot's lifetime (including across UNUSED/USED cycles) — useful for
// deterministic test assertions and for internal/audit snapshots.
func (p *Proc) Index() int { return p.index }

// launch starts the goroutine that will run this slot's Body whenever the
// scheduler dispatches it; it blocks immediately on run until the first
// dispatch. Called once per occupancy, from AllocProc (slot structs are
// never reallocated — FreeProc zeroes fields in place — so the goroutine
// from a prior occupant has already returned by the time a new one
// launches, per the Exit/schedFinal contract).
func (p *Proc) launch() {
	run, body := p.run, &p.body
	go func() {
		<-run
		(*body)(p.curCPU)
	}()
}

// sched is the context-switch primitive (spec.md §4.F "sched()"): caller
// must hold Lock, with State already changed away from Running. It gives up
// the CPU by signaling park and blocks until the scheduler dispatches this
// process again, returning the CPU that redispatched it — which may differ
// from c, since dispatch carries no CPU affinity.
func (p *Proc) sched(c *cpu.CPU) *cpu.CPU {
	p.assertSchedPrecondition(c)
	p.park <- struct{}{}
	<-p.run
	return p.curCPU
}

// schedFinal is sched's terminal form, used only by Exit: it signals park
// exactly once and does not wait to be resumed, letting the process's
// goroutine return (and end) immediately afterward.
func (p *Proc) schedFinal(c *cpu.CPU) {
	p.assertSchedPrecondition(c)
	p.park <- struct{}{}
}

// Dispatch runs one timeslice of p on c: the scheduler's half of the
// context switch (spec.md §4.F scheduler()). Caller must hold p.Lock and
// have already set State to Running and c.SetCurrent(p); Dispatch signals
// run and blocks until the process calls sched/schedFinal and signals park
// back, at which point the scheduler regains control to pick its next
// process. Exported (unlike run/park themselves) so kernel/sched can drive
// the handoff without reaching into Proc's unexported fields.
//
// A process's first ever dispatch is the one case with no earlier
// Sleep/Yield/Preempt/Exit call to have left p.Lock released on its way out
// (every later resume begins inside one of those, which took the lock
// itself before parking and releases it right after waking back up).
// Dispatch releases it once here instead, standing in for xv6's forkret.
func (p *Proc) Dispatch(c *cpu.CPU) {
	if !p.Lock.Holding(c) {
		panic("proc: Dispatch called without the slot lock held")
	}
	p.curCPU = c
	if !p.started {
		p.started = true
		p.Lock.Unlock(c)
	}
	p.run <- struct{}{}
	<-p.park
}

func (p *Proc) assertSchedPrecondition(c *cpu.CPU) {
	if !p.Lock.Holding(c) {
		panic("proc: sched called without the slot lock held")
	}
	if p.State == Running {
		panic("proc: sched called while state is still RUNNING")
	}
}
