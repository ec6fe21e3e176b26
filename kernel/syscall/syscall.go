// Package syscall is the dispatch surface (spec.md component J, §6):
// thin wrappers translating each operation's sentinel errors into the
// signed -1 xv6's trap return convention uses, since nothing above this
// layer should ever see a Go error value. There is no user-space copy-in
// here (filesystem/trap entry are out of scope, spec.md §1): callers pass
// already-resolved Go values, and each method corresponds to exactly one
// syscall number a real trap dispatcher would route to.
package syscall

import (
	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/mmr"
	"github.com/coursekernel/proclab/kernel/proc"
	"github.com/coursekernel/proclab/kernel/sched"
	"github.com/coursekernel/proclab/kernel/sem"
	"github.com/coursekernel/proclab/kernel/vm"
)

// Table bundles every collaborator the syscall surface dispatches into.
type Table struct {
	Proc  *proc.Table
	Sem   *sem.Table
	MMR   *mmr.Registry
	Frame *vm.FrameAllocator
	Clock *Clock
	Sched *sched.Scheduler
}

// New builds a syscall dispatch table over the given kernel collaborators.
func New(pt *proc.Table, st *sem.Table, reg *mmr.Registry, fa *vm.FrameAllocator, cl *Clock, sc *sched.Scheduler) *Table {
	return &Table{Proc: pt, Sem: st, MMR: reg, Frame: fa, Clock: cl, Sched: sc}
}

// Fork implements the fork syscall: returns the child pid in the parent,
// or -1 on resource exhaustion. There is no "0 in the child" return value
// here in the literal xv6 sense — childBody is the child's own code, so it
// never observes Fork's return value at all; it simply begins executing.
func (t *Table) Fork(c *cpu.CPU, caller *proc.Proc, childBody proc.Body) int64 {
	pid, err := t.Proc.Fork(c, caller, childBody)
	if err != nil {
		return -1
	}
	return int64(pid)
}

// Exit implements the exit syscall. It does not return control to the
// caller in any meaningful sense: per Body's contract, the calling body
// must return immediately afterward.
func (t *Table) Exit(c *cpu.CPU, caller *proc.Proc, status int) {
	t.Proc.Exit(c, caller, status)
}

// Wait implements the wait syscall: blocks until a child exits, returning
// its pid and exit status, or (-1, 0) if the caller has no children. Also
// returns the CPU that redispatched caller, which caller's own body must
// use from here on — wait always blocks at least once it has a live child,
// and dispatch carries no CPU affinity.
func (t *Table) Wait(c *cpu.CPU, caller *proc.Proc) (newC *cpu.CPU, pid, status int64) {
	newC, p, st, ok := t.Proc.Wait(c, caller)
	if !ok {
		return newC, -1, 0
	}
	return newC, int64(p), int64(st)
}

// Wait2 implements the wait2 syscall: as Wait, also reporting the reaped
// child's accumulated CPU time (rusage).
func (t *Table) Wait2(c *cpu.CPU, caller *proc.Proc) (newC *cpu.CPU, pid, status, cputime int64) {
	newC, p, st, cpu_, ok := t.Proc.Wait2(c, caller)
	if !ok {
		return newC, -1, 0, 0
	}
	return newC, int64(p), int64(st), int64(cpu_)
}

// Getpid implements the getpid syscall.
func (t *Table) Getpid(caller *proc.Proc) int64 {
	return int64(caller.PID)
}

// Kill implements the kill syscall: 0 if pid was found, -1 otherwise.
func (t *Table) Kill(c *cpu.CPU, pid int) int64 {
	if err := t.Proc.Kill(c, pid); err != nil {
		return -1
	}
	return 0
}

// Sleep implements the sleep syscall: blocks for n ticks, returning 0, or
// -1 if the caller was killed while waiting. Also returns the CPU that
// redispatched caller, which caller's own body must use from here on.
func (t *Table) Sleep(c *cpu.CPU, caller *proc.Proc, n int) (newC *cpu.CPU, result int64) {
	target := t.Clock.Uptime(c) + n
	newC, killed := t.Clock.sleepUntil(c, caller, target)
	if killed {
		return newC, -1
	}
	return newC, 0
}

// Sbrk implements the sbrk syscall: grows (n > 0) or shrinks (n < 0) the
// caller's heap, returning the old break, or -1 on exhaustion.
func (t *Table) Sbrk(caller *proc.Proc, n int) int64 {
	old, err := caller.AS.Grow(n)
	if err != nil {
		return -1
	}
	return int64(old)
}

// Uptime implements the uptime syscall.
func (t *Table) Uptime(c *cpu.CPU) int64 {
	return int64(t.Clock.Uptime(c))
}

// Freepmem implements the freepmem diagnostic syscall (SPEC_FULL.md §4).
func (t *Table) Freepmem() int64 {
	return int64(t.Frame.FreeCount())
}

// SemInit implements sem_init: allocates a slot and returns its handle (to
// be written to the user-space out pointer by a caller above this layer),
// or -1 if the semaphore table is full.
func (t *Table) SemInit(c *cpu.CPU, value int) int64 {
	h, err := t.Sem.Init(c, value)
	if err != nil {
		return -1
	}
	return int64(h)
}

// SemWait implements sem_wait: 0 on success, -1 if the handle is invalid or
// the caller was killed while blocked. Also returns the CPU that
// redispatched caller, which caller's own body must use from here on.
func (t *Table) SemWait(c *cpu.CPU, caller *proc.Proc, handle int) (newC *cpu.CPU, result int64) {
	newC, err := t.Sem.Wait(t.Proc, c, caller, handle)
	if err != nil {
		return newC, -1
	}
	return newC, 0
}

// SemPost implements sem_post: 0 on success, -1 on an invalid handle.
func (t *Table) SemPost(c *cpu.CPU, handle int) int64 {
	if err := t.Sem.Post(t.Proc, c, handle); err != nil {
		return -1
	}
	return 0
}

// SemDestroy implements sem_destroy: 0 on success, -1 on an invalid handle.
func (t *Table) SemDestroy(c *cpu.CPU, handle int) int64 {
	if err := t.Sem.Destroy(c, handle); err != nil {
		return -1
	}
	return 0
}

// Tick charges caller one unit of simulated CPU consumption, demoting it a
// priority level and forcing it off the CPU once its timeslice is spent
// without a voluntary yield (spec.md §5's MLFQ aging rule). A compute-bound
// body calls this once per unit of work it does, standing in for the timer
// interrupts a real kernel would take mid-quantum; nothing below the
// scheduler needs to know that no such interrupt actually exists here.
// Returns the CPU that redispatched caller if Tick triggered a preemption,
// or c unchanged otherwise — callers must always use the returned value.
func (t *Table) Tick(c *cpu.CPU, caller *proc.Proc) *cpu.CPU {
	return t.Sched.Tick(c, t.Proc, caller)
}

// Procinfo implements the procinfo syscall: returns one pstat entry for
// every non-UNUSED slot (the out pointer a real trap dispatcher would
// copy_out to is this layer's caller's concern); the active count is the
// length of the returned slice.
func (t *Table) Procinfo(c *cpu.CPU) []proc.Snapshot {
	return t.Proc.Snapshots(c)
}
