package proc

import (
	"errors"
	"unsafe"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/vm"
)

// ErrNoSuchProcess is returned by Kill when no slot holds the given pid.
var ErrNoSuchProcess = errors.New("proc: no such pid")

// chanOf derives a wait-channel token from a process's identity. spec.md's
// design notes call channels "opaque integers (pointer-bit-pattern is
// fine)... no memory is dereferenced"; this is exactly that — the pointer
// is never read through, only compared for equality by Sleep/Wakeup.
func chanOf(p *Proc) uintptr {
	return uintptr(unsafe.Pointer(p)) //nolint:govet // address used only as an opaque token, never dereferenced
}

// UserInit implements spec.md §8 scenario 1: boot the system with exactly
// one process (pid 1, "initcode"), runnable and enqueued at the head of
// HIGH so it is the first thing any CPU's scheduler dispatches.
func (t *Table) UserInit(c *cpu.CPU, body Body) (*Proc, error) {
	p, err := t.AllocProc(c)
	if err != nil {
		return nil, err
	}
	p.SetName("initcode")
	p.body = body
	p.State = Runnable
	t.sched.EnqueueHead(c, p)
	t.initProc = p
	p.Lock.Unlock(c)
	return p, nil
}

// Fork implements spec.md §4.H fork(): allocate a child slot, clone the
// parent's address space, trap frame, open files, cwd, and MMR table
// (splicing MAP_SHARED regions into their family ring, deep-copying
// MAP_PRIVATE ones), then make the child runnable.
//
// Real fork() duplicates the parent's running instruction stream; nothing
// in Go can duplicate a live goroutine's call stack, so the caller supplies
// childBody — the closure the child's own goroutine will execute — exactly
// as it would supply the program a real exec() loads. This is a named,
// deliberate adaptation to the fact user-space program code is out of
// scope (spec.md §1): childBody plays the role of "whatever the child's
// copy of the address space was already about to run".
func (t *Table) Fork(c *cpu.CPU, parent *Proc, childBody Body) (pid int, err error) {
	np, err := t.AllocProc(c)
	if err != nil {
		return -1, err
	}

	if err = vm.Copy(parent.AS, np.AS, 0, parent.AS.Size()); err != nil {
		t.freeProcLocked(c, np)
		return -1, err
	}
	np.AS.SetSize(parent.AS.Size())

	*np.TF = *parent.TF
	np.TF.SetReturn(0) // child's fork() returns 0

	for i := range parent.Ofile {
		if parent.Ofile[i] != nil {
			np.Ofile[i] = parent.Ofile[i].Dup()
		}
	}
	np.Cwd = parent.Cwd
	np.SetName(parent.Name())
	np.body = childBody

	for i := range parent.MMR {
		pr := &parent.MMR[i]
		if !pr.Valid {
			continue
		}
		cr := &np.MMR[i]
		if pr.Shared() {
			if err = vm.CopyShared(parent.AS, np.AS, pr.Addr, pr.Length); err != nil {
				t.freeProcLocked(c, np)
				return -1, err
			}
			if err = t.reg.SpliceAfter(c, pr.ListID(), pr, cr); err != nil {
				t.freeProcLocked(c, np)
				return -1, err
			}
		} else {
			if err = vm.Copy(parent.AS, np.AS, pr.Addr, pr.Length); err != nil {
				t.freeProcLocked(c, np)
				return -1, err
			}
			cr.InitPrivate(pr.Addr, pr.Length)
		}
	}

	np.Lock.Unlock(c)
	t.waitLock.Lock(c)
	np.Parent = parent
	t.waitLock.Unlock(c)
	np.Lock.Lock(c)

	np.State = Runnable
	t.sched.EnqueueTail(c, np)
	pid = np.PID
	np.Lock.Unlock(c)
	return pid, nil
}

// Exit implements spec.md §4.H exit(): release files and cwd, reparent any
// children to init, wake a parent blocked in wait(), become a zombie, and
// give up the CPU for the last time. Exit never logically returns — here
// that is expressed by calling schedFinal, after which the calling
// goroutine simply returns and ends.
func (t *Table) Exit(c *cpu.CPU, p *Proc, status int) {
	for i := range p.Ofile {
		if p.Ofile[i] != nil {
			p.Ofile[i].Close()
			p.Ofile[i] = nil
		}
	}
	p.Cwd = nil

	t.waitLock.Lock(c)
	t.reparentChildren(c, p)
	if p.Parent != nil {
		t.Wakeup(c, chanOf(p.Parent))
	}

	p.Lock.Lock(c)
	p.XState = status
	p.State = Zombie
	t.waitLock.Unlock(c)

	// No matching p.Lock.Unlock here: this process never runs again, so
	// there is no later resume to release it the way Sleep/Yield/Preempt
	// do. The scheduler's own dispatch loop releases it once schedFinal
	// hands control back, exactly as it releases any other process's lock
	// once its turn on the CPU ends.
	p.schedFinal(c)
}

// reparentChildren reassigns every child of p to the init process. Caller
// must hold wait_lock, under whose protection Parent is read and written
// throughout the table (spec.md §5).
func (t *Table) reparentChildren(c *cpu.CPU, p *Proc) {
	reparented := false
	for _, child := range t.slots {
		if child == p {
			continue
		}
		if child.Parent == p {
			child.Parent = t.initProc
			reparented = true
		}
	}
	if reparented && t.initProc != nil {
		t.Wakeup(c, chanOf(t.initProc))
	}
}

// Wait implements spec.md §4.H wait(addr): block until some child becomes
// a ZOMBIE, then reap it and report its pid and exit status. ok is false
// when p has no children, or once Killed is observed while blocked.
// Returns the CPU that redispatched p (may differ from c if it blocked),
// which the caller must use for anything done afterward.
func (t *Table) Wait(c *cpu.CPU, p *Proc) (newC *cpu.CPU, pid, status int, ok bool) {
	newC, pid, status, _, ok = t.wait(c, p)
	return
}

// Wait2 behaves like Wait but additionally reports the reaped child's
// accumulated CPU time (original_source's rusage extension, spec.md §6).
func (t *Table) Wait2(c *cpu.CPU, p *Proc) (newC *cpu.CPU, pid, status, cputime int, ok bool) {
	return t.wait(c, p)
}

func (t *Table) wait(c *cpu.CPU, p *Proc) (newC *cpu.CPU, pid, status, cputime int, ok bool) {
	t.waitLock.Lock(c)
	for {
		haveChild := false
		for _, child := range t.slots {
			if child.Parent != p {
				continue
			}
			haveChild = true
			child.Lock.Lock(c)
			if child.State != Zombie {
				child.Lock.Unlock(c)
				continue
			}
			pid = child.PID
			status = child.XState
			cputime = child.CPUTime
			t.FreeProc(c, child)
			child.Lock.Unlock(c)
			t.waitLock.Unlock(c)
			return c, pid, status, cputime, true
		}
		if !haveChild || p.Killed {
			t.waitLock.Unlock(c)
			return c, 0, 0, 0, false
		}
		c = t.Sleep(c, p, chanOf(p), t.waitLock)
	}
}

// Kill implements spec.md §4.H kill(pid): mark the matching slot Killed,
// and if it is SLEEPING, wake it immediately (enqueued at head, matching
// the "urgency" xv6 gives freshly runnable processes) so it notices the
// flag at its next cooperative check.
func (t *Table) Kill(c *cpu.CPU, pid int) error {
	for _, p := range t.slots {
		p.Lock.Lock(c)
		if p.State != Unused && p.PID == pid {
			p.Killed = true
			if p.State == Sleeping {
				p.State = Runnable
				p.Chan = 0
				t.sched.EnqueueHead(c, p)
			}
			p.Lock.Unlock(c)
			return nil
		}
		p.Lock.Unlock(c)
	}
	return ErrNoSuchProcess
}
