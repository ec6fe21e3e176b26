package sem

import (
	"testing"
	"time"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/mmr"
	"github.com/coursekernel/proclab/kernel/proc"
	"github.com/coursekernel/proclab/kernel/vm"
)

type fifoScheduler struct{}

func (fifoScheduler) EnqueueHead(c *cpu.CPU, p *proc.Proc) {}
func (fifoScheduler) EnqueueTail(c *cpu.CPU, p *proc.Proc) {}

func newTestTable(t *testing.T, nproc int) (*proc.Table, *cpu.CPU) {
	t.Helper()
	fa := vm.NewFrameAllocator(nproc * 16)
	reg := mmr.NewRegistry(nproc)
	timeslices := [proc.NumPriorities]int{proc.High: 8, proc.Medium: 16, proc.Low: 32}
	pt, err := proc.NewTable(nproc, 4, 4, fa, reg, timeslices)
	if err != nil {
		t.Fatalf("proc.NewTable: %v", err)
	}
	pt.SetScheduler(fifoScheduler{})
	return pt, cpu.New(0)
}

// runScheduler mirrors kernel/proc's own test helper: a single RR scan-and-
// dispatch loop, stoppable, with exactly one goroutine ever playing c.
func runScheduler(pt *proc.Table, c *cpu.CPU, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		p := pt.ScanRunnable(c)
		if p == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		p.State = proc.Running
		c.SetCurrent(p)
		p.Dispatch(c)
		c.SetCurrent(nil)
		p.Lock.Unlock(c)
	}
}

func findByPID(pt *proc.Table, pid int) *proc.Proc {
	for i := 0; i < pt.NProc(); i++ {
		p := pt.Slot(i)
		if p.PID == pid {
			return p
		}
	}
	return nil
}
