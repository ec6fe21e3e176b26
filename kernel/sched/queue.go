// Package sched implements the scheduler queues and per-CPU scheduler core
// (spec.md components E and F): three priority FIFOs, an RR policy that
// ignores them entirely, and an MLFQ policy that dequeues HIGH, then
// MEDIUM, then LOW, demoting/promoting per the aging rule SPEC_FULL.md §5
// decides.
//
// Grounded on manager/process.go's supervised-loop shape (acquire, check,
// act, release, repeat) generalized to a per-CPU dispatch loop, and on the
// spec's own design note that the queue module — not the process slot —
// should own the intrusive linkage. Queue therefore keeps next-pointers in
// a private side-map instead of a field on proc.Proc.
package sched

import (
	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/proc"
)

// Queue is one priority level's intrusive FIFO (spec.md §3 "per priority:
// head, tail, timeslice, lock"). Linkage lives in next, keyed by slot
// identity, rather than as a field on proc.Proc, so proc stays ignorant of
// how it is ordered on a queue.
type Queue struct {
	lock *cpu.Spinlock

	head, tail *proc.Proc
	next       map[*proc.Proc]*proc.Proc
	waitTicks  map[*proc.Proc]int

	timeslice int
}

// NewQueue builds an empty queue for one priority level with its fixed
// per-level timeslice (ticks).
func NewQueue(name string, timeslice int) *Queue {
	return &Queue{
		lock:      cpu.NewSpinlock(name),
		next:      make(map[*proc.Proc]*proc.Proc),
		waitTicks: make(map[*proc.Proc]int),
		timeslice: timeslice,
	}
}

// Timeslice returns this level's per-process slice length.
func (q *Queue) Timeslice() int { return q.timeslice }

// checkInvariant panics on head==nil xor tail==nil, per spec.md §4.E's
// "queue invariant: head == NULL iff tail == NULL. Violations panic."
func (q *Queue) checkInvariant() {
	if (q.head == nil) != (q.tail == nil) {
		panic("sched: queue invariant violated: head/tail nil mismatch")
	}
}

// EnqueueTail appends p to the queue's tail. Caller must already hold p's
// slot lock (spec.md §4.E: "all three operations assume the caller has the
// slot lock for insertions").
func (q *Queue) EnqueueTail(c *cpu.CPU, p *proc.Proc) {
	q.lock.Lock(c)
	defer q.lock.Unlock(c)
	q.next[p] = nil
	if q.tail == nil {
		q.head, q.tail = p, p
	} else {
		q.next[q.tail] = p
		q.tail = p
	}
	q.checkInvariant()
}

// EnqueueHead prepends p to the queue's head, used on wakeup and kill-wake
// to preserve urgency for freshly runnable processes (spec.md §4.E).
func (q *Queue) EnqueueHead(c *cpu.CPU, p *proc.Proc) {
	q.lock.Lock(c)
	defer q.lock.Unlock(c)
	q.next[p] = q.head
	q.head = p
	if q.tail == nil {
		q.tail = p
	}
	q.checkInvariant()
}

// Dequeue pops the head under the queue lock, then briefly takes the
// popped process's own slot lock to clear its queue linkage, matching
// spec.md §4.E's "dequeue(prio) pops the head under queue lock, then
// briefly acquires the slot lock to NULL its next pointer." Returns with
// no lock held: the scheduler core takes the slot lock again itself to
// re-verify RUNNABLE before dispatch.
func (q *Queue) Dequeue(c *cpu.CPU) *proc.Proc {
	q.lock.Lock(c)
	p := q.head
	if p == nil {
		q.lock.Unlock(c)
		return nil
	}
	q.head = q.next[p]
	delete(q.next, p)
	delete(q.waitTicks, p)
	if q.head == nil {
		q.tail = nil
	}
	q.checkInvariant()
	q.lock.Unlock(c)

	p.Lock.Lock(c)
	p.Lock.Unlock(c)
	return p
}

// agePromote increments every currently-queued process's wait-pass count
// by one and extracts (unlinking from this queue) any that have reached
// threshold, for the scheduler to promote to HIGH. Used only on the MEDIUM
// and LOW queues (SPEC_FULL.md §5, open question 5).
func (q *Queue) agePromote(c *cpu.CPU, threshold int) []*proc.Proc {
	q.lock.Lock(c)
	defer q.lock.Unlock(c)
	if q.head == nil {
		return nil
	}
	var keep, promoted []*proc.Proc
	for p := q.head; p != nil; {
		nxt := q.next[p]
		q.waitTicks[p]++
		if q.waitTicks[p] >= threshold {
			promoted = append(promoted, p)
			delete(q.waitTicks, p)
		} else {
			keep = append(keep, p)
		}
		p = nxt
	}
	q.next = make(map[*proc.Proc]*proc.Proc)
	q.head, q.tail = nil, nil
	for _, p := range keep {
		q.next[p] = nil
		if q.tail == nil {
			q.head, q.tail = p, p
		} else {
			q.next[q.tail] = p
			q.tail = p
		}
	}
	q.checkInvariant()
	return promoted
}
