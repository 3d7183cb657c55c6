package task_test

import (
	"os"
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/kheap"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
)

func TestMain(m *testing.M) {
	hal.Boot(hal.Config{})
	irq.Init()
	vmm.Init()
	kheap.Init()
	task.Init()
	os.Exit(m.Run())
}

func spin(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i != 10000; i++ {
		if cond() {
			return
		}

		task.Current().Yield()
	}

	t.Fatal("the condition was never reached")
}

func TestMainThread(t *testing.T) {
	curr := task.Current()
	if curr.Name() != "main" {
		t.Fatalf("expected the main thread; got '%s'", curr.Name())
	}

	if curr.Status() != task.StatusRunning {
		t.Fatal("expected the main thread to be running")
	}

	if !curr.IsKrnlThread() {
		t.Fatal("expected the main thread to be a kernel thread")
	}

	if !curr.IsStackValid() {
		t.Fatal("expected an intact stack guard")
	}

	if task.CurrentPid() != 0 {
		t.Fatal("expected pid 0 for kernel threads")
	}
}

func TestThreadsRunInCreationOrder(t *testing.T) {
	var order []string
	mk := func(name string) {
		task.CreateKrnlThread(name, 8, func(arg interface{}) {
			order = append(order, arg.(string))
		}, name)
	}

	mk("a")
	mk("b")
	mk("c")
	spin(t, func() bool { return len(order) == 3 })

	for i, exp := range []string{"a", "b", "c"} {
		if order[i] != exp {
			t.Fatalf("expected FIFO order [a b c]; got %v", order)
		}
	}
}

func TestUnblockedThreadRunsFirst(t *testing.T) {
	var order []string
	var waiter *task.Thread
	blocked := false
	waiter = task.CreateKrnlThread("waiter", 8, func(interface{}) {
		blocked = true
		task.Current().Block(task.StatusWaiting)
		order = append(order, "waiter")
	}, nil)

	spin(t, func() bool { return blocked })
	if waiter.Status() != task.StatusWaiting {
		t.Fatal("expected the waiter to be blocked")
	}

	task.CreateKrnlThread("late", 8, func(interface{}) {
		order = append(order, "late")
	}, nil)

	// The unblocked thread enters the ready list at the front and must
	// run before the earlier-created one.
	task.Unblock(waiter)
	spin(t, func() bool { return len(order) == 2 })
	if order[0] != "waiter" || order[1] != "late" {
		t.Fatalf("expected the waiter to run first; got %v", order)
	}
}

func TestTickBudget(t *testing.T) {
	thd := task.Current()
	thd.ResetTicks()
	for i := uint32(0); i != thd.Priority(); i++ {
		if !thd.Tick() {
			t.Fatalf("expected tick %d to stay within the budget", i)
		}
	}

	if thd.Tick() {
		t.Fatal("expected the budget to be exhausted")
	}

	thd.ResetTicks()
	if !thd.Tick() {
		t.Fatal("expected a fresh budget after the reset")
	}

	thd.ResetTicks()
}

func TestCreateProcess(t *testing.T) {
	var pid uint32
	done := false
	proc := task.CreateProcess("u1", func() {
		pid = task.CurrentPid()
		done = true
	})

	spin(t, func() bool { return done })
	if pid == 0 || pid != proc.Pid() {
		t.Fatalf("expected the process to observe its own pid %d; got %d", proc.Pid(), pid)
	}

	if proc.ParentPid() != task.NoPid {
		t.Fatal("expected no parent pid")
	}

	if proc.MainThread().Priority() != 31 {
		t.Fatal("expected the default main-thread priority")
	}
}

func TestProcessPageDirSharesKernelHalf(t *testing.T) {
	done := false
	proc := task.CreateProcess("u2", func() {
		done = true
	})

	pd := proc.PageDir()
	for i := uint32(vmm.KrnlPageDirStart); i != mem.PageDirCount-1; i++ {
		master := vmm.ReadU32(vmm.PageDirBase + vmm.VrAddr(i*4))
		got := vmm.ReadU32(pd + vmm.VrAddr(i*4))
		if master != got {
			t.Fatalf("expected kernel PDE %d to be shared; master 0x%x, process 0x%x", i, master, got)
		}
	}

	selfRef := vmm.PageEntry(vmm.ReadU32(pd + vmm.VrAddr(mem.PageDirSelfRef*4)))
	if !selfRef.IsPresent() || selfRef.Addr() != pd.PhysAddr() {
		t.Fatal("expected the last PDE to refer to the directory itself")
	}

	spin(t, func() bool { return done })
}

func TestForkReturnsTwice(t *testing.T) {
	var results []uint32
	proc := task.CreateProcess("forker", func() {
		results = append(results, task.ForkCurrent())
	})

	spin(t, func() bool { return len(results) == 2 })
	if results[0] == 0 {
		t.Fatal("expected the parent to observe the child pid")
	}

	if results[1] != 0 {
		t.Fatalf("expected the child to observe 0; got %d", results[1])
	}

	if results[0] == proc.Pid() {
		t.Fatal("expected the child pid to differ from the parent pid")
	}
}

func TestForkCopiesMemory(t *testing.T) {
	const (
		pattern   = 0xA5A5A5A5
		overwrite = 0x5C5C5C5C
	)

	var childSaw uint32
	parentWrote := false
	childDone := false

	task.CreateProcess("mem", func() {
		va := vmm.AllocPages(vmm.PoolUser, 1)
		vmm.WriteU32(va, pattern)

		if task.ForkCurrent() != 0 {
			// Parent: overwrite the page after the fork.
			vmm.WriteU32(va, overwrite)
			parentWrote = true
			return
		}

		// Child: wait for the parent's write, then check that the
		// copied page is untouched.
		for !parentWrote {
			task.Current().Yield()
		}

		childSaw = vmm.ReadU32(va)
		childDone = true
	})

	spin(t, func() bool { return childDone })
	if childSaw != pattern {
		t.Fatalf("expected the child to keep 0x%x; got 0x%x", uint32(pattern), childSaw)
	}
}

func TestForkedChildKeepsAllocatorLayout(t *testing.T) {
	var parentVa, childVa vmm.VrAddr
	done := false
	task.CreateProcess("layout", func() {
		va := vmm.AllocPages(vmm.PoolUser, 2)
		if task.ForkCurrent() != 0 {
			parentVa = va
			return
		}

		childVa = va
		done = true
	})

	spin(t, func() bool { return done && parentVa != 0 })
	if parentVa != childVa {
		t.Fatalf("expected the replayed allocation to land at 0x%x; got 0x%x", uint32(parentVa), uint32(childVa))
	}
}
