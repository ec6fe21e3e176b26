package proc

import "github.com/coursekernel/proclab/kernel/cpu"

// Sleep implements spec.md §4.G: atomically (with respect to Wakeup)
// records that p is sleeping on chan, releases the caller's lock lk, and
// gives up the CPU. On resumption the slot lock is released before lk is
// reacquired, exactly mirroring xv6's sleep()/acquire(lk) ordering at
// return. chan is an opaque token compared only for equality, never
// dereferenced, per the design note on recasting wait channels.
//
// Whichever CPU redispatches p is returned; since dispatch has no CPU
// affinity it need not be c, and the caller must use the returned value for
// every lock it takes from here on (including lk, reacquired below).
func (t *Table) Sleep(c *cpu.CPU, p *Proc, chn uintptr, lk *cpu.Spinlock) *cpu.CPU {
	p.Lock.Lock(c)
	lk.Unlock(c)

	p.Chan = chn
	p.State = Sleeping
	c = p.sched(c)

	p.Chan = 0
	p.Lock.Unlock(c)

	lk.Lock(c)
	return c
}

// Wakeup implements spec.md §4.G: with no slot locks held on entry, scans
// every slot, waking each one that is SLEEPING on chan. The "acquire slot
// lock, then re-check state" pattern here, combined with Sleep setting Chan
// under the same slot lock, is what makes a wakeup that's linearized after
// the matching sleep never get lost (spec.md §8's "wakeup cannot be lost"
// law).
func (t *Table) Wakeup(c *cpu.CPU, chn uintptr) {
	for _, p := range t.slots {
		if p == c.Current() {
			continue
		}
		p.Lock.Lock(c)
		if p.State == Sleeping && p.Chan == chn {
			p.State = Runnable
			p.Chan = 0
			t.sched.EnqueueHead(c, p)
		}
		p.Lock.Unlock(c)
	}
}

// Preempt force-deschedules p without marking it as having voluntarily
// yielded: the scheduler's simulated timer-tick accounting (kernel/sched's
// Tick) uses this, instead of Yield, specifically so Yielded stays false
// and the MLFQ demotion rule can tell the two cases apart. Returns the CPU
// that redispatched p, which the caller must use from here on.
func (t *Table) Preempt(c *cpu.CPU, p *Proc) *cpu.CPU {
	p.Lock.Lock(c)
	p.State = Runnable
	t.sched.EnqueueTail(c, p)
	c = p.sched(c)
	p.Lock.Unlock(c)
	return c
}

// Yield implements spec.md §4.F: voluntarily give up the CPU, re-enqueuing
// at the tail of the process's current priority queue so FIFO order among
// equal-priority runnable processes is preserved. Returns the CPU that
// redispatched p, which the caller must use from here on.
func (t *Table) Yield(c *cpu.CPU, p *Proc) *cpu.CPU {
	p.Lock.Lock(c)
	p.State = Runnable
	p.Yielded = true
	t.sched.EnqueueTail(c, p)
	c = p.sched(c)
	p.Lock.Unlock(c)
	return c
}
