// Package cpu models one simulated processor and the spinlock primitive
// every other kernel package synchronizes on.
//
// Grounded on manager/process.go's use of sync.Mutex plus a die channel to
// coordinate a supervised loop (kernel/sched.Scheduler plays the same role
// per CPU), adapted to carry xv6's push_off/pop_off interrupt-nesting
// discipline explicitly rather than dropping it for a bare mutex: the spec
// calls this load-bearing for correctness on an interrupt-driven kernel, and
// we preserve it even though this simulation has no real interrupt
// controller to disable.
package cpu

import "fmt"

// CPU is per-processor state: which process it is currently running, and
// the nesting depth / saved enable-state of its simulated interrupt line.
// Only the goroutine playing the role of this CPU may touch its fields;
// unlike xv6's mycpu(), which reads a hardware register, every kernel call
// that needs "this CPU" receives the *CPU explicitly as a parameter. That
// mirrors the ownership discipline the spec's design notes ask for:
// process-table links are never aliased references, and neither is this.
type CPU struct {
	ID int

	current any // set by the scheduler; typed by the proc package

	noff        int32
	intena      bool
	intrEnabled bool
}

// New returns a CPU with interrupts simulated as enabled, matching the state
// a real core is in before it ever takes a spinlock.
func New(id int) *CPU {
	return &CPU{ID: id, intrEnabled: true}
}

// Current returns whatever the scheduler last installed as "running here".
func (c *CPU) Current() any { return c.current }

// SetCurrent is called by the scheduler core when switching a process in or
// out; nil means idle.
func (c *CPU) SetCurrent(p any) { c.current = p }

// IntrEnabled reports this CPU's simulated interrupt-enable flag.
func (c *CPU) IntrEnabled() bool { return c.intrEnabled }

// IntrOn is called by the scheduler between iterations so the CPU doesn't
// deadlock waiting for a wakeup while every interrupt source is masked.
func (c *CPU) IntrOn() { c.intrEnabled = true }

// PushOff disables (simulated) interrupts and bumps the nesting depth,
// remembering whether they were enabled only on the outermost call.
func (c *CPU) PushOff() {
	enabled := c.intrEnabled
	c.intrEnabled = false
	if c.noff == 0 {
		c.intena = enabled
	}
	c.noff++
}

// PopOff undoes one PushOff, restoring the saved enable-state once the
// nesting depth returns to zero.
func (c *CPU) PopOff() {
	if c.intrEnabled {
		panic("cpu: PopOff called with interrupts already enabled")
	}
	if c.noff < 1 {
		panic("cpu: PopOff without a matching PushOff")
	}
	c.noff--
	if c.noff == 0 && c.intena {
		c.intrEnabled = true
	}
}

// Holding reports whether this CPU is mid push_off/pop_off nesting, i.e.
// holds at least one spinlock.
func (c *CPU) Holding() bool { return c.noff > 0 }

// Spinlock is xv6's spinlock: acquisition disables interrupts on the local
// CPU via push_off, release re-enables them only once nesting drops to
// zero. The owner field exists purely for the "no lock held across a
// return to user space" / "unlock by non-holder" invariant checks in
// spec.md §8, not for the mutual-exclusion itself (the one-slot channel ch
// does that).
type Spinlock struct {
	name  string
	ch    chan struct{}
	owner *CPU
}

// NewSpinlock returns an unheld lock identified by name for panic messages.
func NewSpinlock(name string) *Spinlock {
	return &Spinlock{name: name, ch: make(chan struct{}, 1)}
}

// Lock acquires the spinlock on behalf of c, disabling its interrupts first
// exactly as xv6's acquire() calls push_off() before spinning.
func (l *Spinlock) Lock(c *CPU) {
	c.PushOff()
	if l.Holding(c) {
		panic(fmt.Sprintf("spinlock %q: already held by this cpu", l.name))
	}
	l.ch <- struct{}{}
	l.owner = c
}

// Unlock releases the spinlock and re-enables interrupts via pop_off.
func (l *Spinlock) Unlock(c *CPU) {
	if l.owner != c {
		panic(fmt.Sprintf("spinlock %q: unlock by non-holder", l.name))
	}
	l.owner = nil
	<-l.ch
	c.PopOff()
}

// Holding reports whether c currently holds the lock.
func (l *Spinlock) Holding(c *CPU) bool { return l.owner == c }

// Name returns the lock's debug name, used in panic messages elsewhere.
func (l *Spinlock) Name() string { return l.name }
