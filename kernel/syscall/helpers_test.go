package syscall

import (
	"testing"
	"time"

	"github.com/coursekernel/proclab/kernel/cpu"
	"github.com/coursekernel/proclab/kernel/mmr"
	"github.com/coursekernel/proclab/kernel/proc"
	"github.com/coursekernel/proclab/kernel/sched"
	"github.com/coursekernel/proclab/kernel/sem"
	"github.com/coursekernel/proclab/kernel/vm"
)

// newTestSyscallTable wires up every collaborator the dispatch surface
// needs, the way kernel.Boot does, sized small for tests.
func newTestSyscallTable(t *testing.T, nproc int, policy sched.Policy) (*Table, *cpu.CPU) {
	t.Helper()
	c := cpu.New(0)
	fa := vm.NewFrameAllocator(nproc * 16)
	reg := mmr.NewRegistry(nproc)
	ts := [proc.NumPriorities]int{proc.High: 4, proc.Medium: 8, proc.Low: 16}
	pt, err := proc.NewTable(nproc, 4, 4, fa, reg, ts)
	if err != nil {
		t.Fatalf("proc.NewTable: %v", err)
	}
	s := sched.New(pt, policy, ts)
	pt.SetScheduler(s)
	st := sem.New(4)
	clock := NewClock(pt)
	return New(pt, st, reg, fa, clock, s), c
}

// runScheduler plays one CPU's RR dispatch loop until stop is closed.
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
