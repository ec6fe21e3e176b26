package proc

import (
	"testing"
	"time"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/mmr"
	"github.com/coursekernel/proclab/kernel/vm"
)

// fifoScheduler is the simplest possible proc.Scheduler: it only exists so
// tests can drive Table without importing kernel/sched, which would form an
// import cycle (sched already imports proc). Enqueue calls are no-ops; the
// accompanying runScheduler helper below finds runnable work with the same
// ScanRunnable scan kernel/sched's RR core uses.
type fifoScheduler struct{}

func (fifoScheduler) EnqueueHead(c *cpu.CPU, p *Proc) {}
func (fifoScheduler) EnqueueTail(c *cpu.CPU, p *Proc) {}

func testCollaborators(nproc int) (*vm.FrameAllocator, *mmr.Registry) {
	return vm.NewFrameAllocator(nproc * 16), mmr.NewRegistry(nproc)
}

func newTestTable(t *testing.T, nproc int) (*Table, *cpu.CPU) {
	t.Helper()
	fa := vm.NewFrameAllocator(nproc * 16)
	reg := mmr.NewRegistry(nproc)
	timeslices := [NumPriorities]int{High: 8, Medium: 16, Low: 32}
	table, err := NewTable(nproc, 4, 4, fa, reg, timeslices)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	table.SetScheduler(fifoScheduler{})
	return table, cpu.New(0)
}

// runScheduler plays the role of one CPU's scheduler loop, scanning for
// RUNNABLE work and dispatching it until stop is closed. Only one goroutine
// ever acts as c at a time: this loop is blocked inside p.Dispatch for
// whichever process is currently running, so a body calling back into Table
// (Fork, Wait, Sleep, Yield, Exit...) never races this loop for c's state.
func runScheduler(table *Table, c *cpu.CPU, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		p := table.ScanRunnable(c)
		if p == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		p.State = Running
		c.SetCurrent(p)
		p.Dispatch(c)
		c.SetCurrent(nil)
		p.Lock.Unlock(c)
	}
}

// findByPID locates a process by pid for test bodies that only learned
// their child's pid (Fork's return value carries no *Proc, mirroring how a
// real child never sees its own slot pointer either).
func findByPID(table *Table, pid int) *Proc {
	for i := 0; i < table.NProc(); i++ {
		p := table.Slot(i)
		if p.PID == pid {
			return p
		}
	}
	return nil
}
