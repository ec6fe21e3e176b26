package sched

import (
	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/proc"
)

// Policy selects which of the two interchangeable scheduler cores a
// Scheduler runs (spec.md §4.F).
type Policy int

const (
	RR Policy = iota
	MLFQ
)

func (p Policy) String() string {
	if p == MLFQ {
		return "MLFQ"
	}
	return "RR"
}

// AgingThreshold is the default number of consecutive scheduler passes a
// process may sit in MEDIUM or LOW without being dispatched before it is
// promoted back to HIGH (SPEC_FULL.md §5, open question 5).
const AgingThreshold = 30

// Scheduler owns the three priority queues and drives each CPU's dispatch
// loop. It implements proc.Scheduler so kernel/proc can enqueue a process
// it just made runnable without importing this package.
type Scheduler struct {
	table *proc.Table

	policy         Policy
	agingThreshold int

	queues [proc.NumPriorities]*Queue
}

// New builds a scheduler over t with queues sized per timeslices (indexed
// by proc.Priority). Under RR, the queues exist but are never consulted by
// Run; EnqueueHead/EnqueueTail become no-ops, matching spec.md §4.F's "RR
// policy: round-robin scan of the slot array" (no queue involvement at
// all).
func New(t *proc.Table, policy Policy, timeslices [proc.NumPriorities]int) *Scheduler {
	s := &Scheduler{
		table:          t,
		policy:         policy,
		agingThreshold: AgingThreshold,
	}
	s.queues[proc.High] = NewQueue("sched-high", timeslices[proc.High])
	s.queues[proc.Medium] = NewQueue("sched-medium", timeslices[proc.Medium])
	s.queues[proc.Low] = NewQueue("sched-low", timeslices[proc.Low])
	return s
}

// Policy reports the scheduler's configured policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// EnqueueHead implements proc.Scheduler: under MLFQ, puts p at the head of
// its current priority's queue (used by UserInit and by Wakeup/Kill's
// "urgency" re-enqueue); under RR, does nothing — the RR scan finds p on
// its own.
func (s *Scheduler) EnqueueHead(c *cpu.CPU, p *proc.Proc) {
	if s.policy != MLFQ {
		return
	}
	s.queues[p.Priority].EnqueueHead(c, p)
}

// EnqueueTail implements proc.Scheduler: under MLFQ, appends p to its
// current priority's queue (used by Fork/Yield/Preempt and by aging
// promotion); a no-op under RR.
func (s *Scheduler) EnqueueTail(c *cpu.CPU, p *proc.Proc) {
	if s.policy != MLFQ {
		return
	}
	s.queues[p.Priority].EnqueueTail(c, p)
}

// Run is one CPU's scheduler() loop (spec.md §4.F): it never returns.
// Between iterations interrupts are explicitly re-enabled so a CPU with no
// runnable work doesn't deadlock waiting for one (spec.md: "between
// scheduler iterations, interrupts are explicitly re-enabled").
func (s *Scheduler) Run(c *cpu.CPU) {
	for {
		c.IntrOn()

		var p *proc.Proc
		switch s.policy {
		case RR:
			p = s.table.ScanRunnable(c)
			if p == nil {
				continue
			}
			s.dispatch(c, p)
		case MLFQ:
			s.promoteAged(c)
			p = s.dequeueMLFQ(c)
			if p == nil {
				continue
			}
			p.Lock.Lock(c)
			if p.State != proc.Runnable {
				p.Lock.Unlock(c)
				continue
			}
			s.dispatch(c, p)
		}
	}
}

// dispatch runs one slice of p: caller must hold p.Lock (ScanRunnable and
// the MLFQ branch above both return/acquire it that way). It transitions
// Running -> dispatch -> back to whatever state the body left p in,
// releasing p.Lock before returning.
func (s *Scheduler) dispatch(c *cpu.CPU, p *proc.Proc) {
	p.State = proc.Running
	c.SetCurrent(p)
	p.Dispatch(c)
	c.SetCurrent(nil)
	p.Lock.Unlock(c)
}

// dequeueMLFQ implements "dequeue from HIGH, else MEDIUM, else LOW"
// (spec.md §4.F).
func (s *Scheduler) dequeueMLFQ(c *cpu.CPU) *proc.Proc {
	for _, q := range s.queues {
		if p := q.Dequeue(c); p != nil {
			return p
		}
	}
	return nil
}

// promoteAged ages every process currently waiting in MEDIUM or LOW by one
// scheduler pass, promoting any that have waited agingThreshold consecutive
// passes without being dispatched back to HIGH (SPEC_FULL.md §5, open
// question 5). HIGH itself is never aged; there is nowhere higher to go.
func (s *Scheduler) promoteAged(c *cpu.CPU) {
	var promoted []*proc.Proc
	promoted = append(promoted, s.queues[proc.Medium].agePromote(c, s.agingThreshold)...)
	promoted = append(promoted, s.queues[proc.Low].agePromote(c, s.agingThreshold)...)
	for _, p := range promoted {
		p.Lock.Lock(c)
		p.Priority = proc.High
		p.Timeslice = s.queues[proc.High].Timeslice()
		p.TSticks = 0
		p.Lock.Unlock(c)
		s.queues[proc.High].EnqueueTail(c, p)
	}
}

// Tick is the simulated timer-interrupt checkpoint a process body calls
// once per unit of simulated work it performs. Nothing outside a Body
// preempts a goroutine mid-execution in this simulation (spec.md's trap
// handler is explicitly out of scope, §1), so Tick stands in for it: under
// MLFQ, once a process has consumed its full timeslice without voluntarily
// yielding first (Yielded still false), it is demoted one priority level
// and force-descheduled via Table.Preempt, exactly matching the decided
// aging rule (SPEC_FULL.md §5, open question 5). Under RR, Tick only
// accumulates CPU-time accounting. Returns the CPU that redispatched p when
// a preemption occurred, or c unchanged otherwise.
func (s *Scheduler) Tick(c *cpu.CPU, t *proc.Table, p *proc.Proc) *cpu.CPU {
	p.Lock.Lock(c)
	p.TSticks++
	p.CPUTime++
	full := p.TSticks >= p.Timeslice
	p.Lock.Unlock(c)

	if s.policy != MLFQ || !full {
		return c
	}

	p.Lock.Lock(c)
	if !p.Yielded && p.Priority < proc.Low {
		p.Priority++
	}
	p.Timeslice = s.queues[p.Priority].Timeslice()
	p.TSticks = 0
	p.Yielded = false
	p.Lock.Unlock(c)

	return t.Preempt(c, p)
}
