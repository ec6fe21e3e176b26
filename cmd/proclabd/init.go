package main

import (
	"time"

	"github.com/coursekernel/proclab/kernel"
	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/proc"
)

// selfRef lets initBody's closure refer to the *proc.Proc UserInit is still
// in the middle of allocating when the closure is constructed: the
// goroutine running Body never executes until the scheduler dispatches it
// for the first time, well after Boot has finished wiring p into the box,
// so there is no race.
type selfRef struct {
	p *proc.Proc
}

// initBody is pid 1's workload: the classic init loop, reaping any
// children that exit and otherwise idling. No other process exists to
// fork children in this minimal daemon, so in practice this just idles —
// an embedding program driving real workloads would fork them before or
// instead of running this loop.
//
// The CPU that first dispatches this body need not be the one that
// redispatches it after Wait blocks: every cfg.NCPU scheduler loop can pick
// up any RUNNABLE process, so the body reassigns its local c from Wait's
// returned value on every iteration instead of closing over the CPU it
// started on.
func initBody(k *kernel.Kernel, ref *selfRef) proc.Body {
	return func(c *cpu.CPU) {
		for {
			var ok bool
			c, _, _, ok = k.Table.Wait(c, ref.p)
			if ok {
				continue
			}
			if ref.p.Killed {
				k.Table.Exit(c, ref.p, 0)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// startClock drives the simulated timer tick that sleep(ticks) and uptime()
// key off of, since this simulation has no real hardware timer interrupt
// (spec.md §1). MLFQ aging does not use this clock; it counts scheduler
// passes. The clock goroutine ticks under its own CPU identity, distinct
// from every scheduler loop's.
func startClock(k *kernel.Kernel, period time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(period)
	go func() {
		defer t.Stop()
		c := cpu.New(k.NCPU())
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				k.Sys.Clock.Tick(c)
			}
		}
	}()
}
