package sync_test

import (
	"os"
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/kheap"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/sync"
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

// spin yields the processor until the condition holds.
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

func TestSemaphoreBlocksAtZero(t *testing.T) {
	sema := sync.NewSemaphore(0, 1)
	ran := false
	task.CreateKrnlThread("incr", 8, func(interface{}) {
		ran = true
		sema.Increase()
	}, nil)

	// Decrease parks the main thread until the worker runs.
	sema.Decrease()
	if !ran {
		t.Fatal("expected the worker to run before Decrease returned")
	}

	if got := sema.Value(); got != 0 {
		t.Fatalf("expected the semaphore to be zero; got %d", got)
	}
}

func TestSemaphoreCountsUpToMax(t *testing.T) {
	sema := sync.NewSemaphore(1, 3)
	sema.Increase()
	sema.Increase()
	sema.Increase()
	if got := sema.Value(); got != 3 {
		t.Fatalf("expected the value to saturate at 3; got %d", got)
	}

	sema.Decrease()
	sema.Decrease()
	if got := sema.Value(); got != 1 {
		t.Fatalf("expected 1 after two decreases; got %d", got)
	}

	sema.Decrease()
}

func TestMutexRecursion(t *testing.T) {
	var mtx sync.Mutex
	mtx.Lock()
	mtx.Lock()
	mtx.Unlock()
	mtx.Unlock()
}

func TestMutexContention(t *testing.T) {
	var mtx sync.Mutex
	var order []string
	mtx.Lock()
	done := false
	task.CreateKrnlThread("locker", 8, func(interface{}) {
		mtx.Lock()
		order = append(order, "worker")
		mtx.Unlock()
		done = true
	}, nil)

	// Let the worker hit the held mutex.
	task.Current().Yield()
	order = append(order, "main")
	mtx.Unlock()
	spin(t, func() bool { return done })

	if len(order) != 2 || order[0] != "main" || order[1] != "worker" {
		t.Fatalf("expected the worker to wait for the unlock; got %v", order)
	}
}

func TestBoundedQueueProducerConsumer(t *testing.T) {
	q := sync.NewBoundedQueue(2)
	produced := false
	task.CreateKrnlThread("producer", 8, func(interface{}) {
		guard := irq.NewGuard()
		for i := 0; i != 5; i++ {
			q.Push(i)
		}

		guard.Leave()
		produced = true
	}, nil)

	guard := irq.NewGuard()
	for i := 0; i != 5; i++ {
		if got := q.Pop().(int); got != i {
			guard.Leave()
			t.Fatalf("expected to pop %d; got %d", i, got)
		}
	}

	if !q.IsEmpty() {
		guard.Leave()
		t.Fatal("expected an empty queue after popping everything")
	}

	guard.Leave()
	spin(t, func() bool { return produced })
}
