package syscall

import (
	"unsafe"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/proc"
)

// Clock is the tick source sleep(ticks) and uptime() report against. A real
// kernel increments this from the timer-interrupt trap handler (out of
// scope, spec.md §1); here an embedding program (or a test) drives it
// explicitly by calling Tick once per simulated clock tick, which wakes
// every process sleeping on the clock the way xv6's trap handler wakes
// everyone sleeping on the global &ticks.
type Clock struct {
	table *proc.Table
	lock  *cpu.Spinlock
	ticks int
}

// NewClock builds a clock starting at tick 0, wired to t for waking
// sleepers on each Tick.
func NewClock(t *proc.Table) *Clock {
	return &Clock{table: t, lock: cpu.NewSpinlock("clock")}
}

func (cl *Clock) chanToken() uintptr {
	return uintptr(unsafe.Pointer(cl)) //nolint:govet // opaque wait-channel token, never dereferenced
}

// Tick advances the clock by one and wakes every process sleeping on it.
func (cl *Clock) Tick(c *cpu.CPU) {
	cl.lock.Lock(c)
	cl.ticks++
	cl.lock.Unlock(c)
	cl.table.Wakeup(c, cl.chanToken())
}

// Uptime returns the tick count since boot.
func (cl *Clock) Uptime(c *cpu.CPU) int {
	cl.lock.Lock(c)
	defer cl.lock.Unlock(c)
	return cl.ticks
}

// sleepUntil blocks caller until the clock reaches target or caller is
// killed, implementing sleep(ticks)'s "-1 if killed" contract. Returns the
// CPU that redispatched caller, which the caller's own body must use from
// here on.
func (cl *Clock) sleepUntil(c *cpu.CPU, caller *proc.Proc, target int) (newC *cpu.CPU, killed bool) {
	cl.lock.Lock(c)
	for cl.ticks < target {
		if caller.Killed {
			cl.lock.Unlock(c)
			return c, true
		}
		c = cl.table.Sleep(c, caller, cl.chanToken(), cl.lock)
	}
	cl.lock.Unlock(c)
	return c, false
}
