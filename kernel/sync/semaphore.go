package sync

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

// Semaphore is a counting semaphore with a fixed maximum value. Threads
// that decrease it at zero are parked on the wait list until another
// thread increases it.
type Semaphore struct {
	val, max uint32
	waiters  taglist.List
}

// NewSemaphore creates a semaphore with the given initial and maximum
// values.
func NewSemaphore(val, max uint32) Semaphore {
	if val > max {
		kfmt.Panicf("sync", "the semaphore value %d exceeds its maximum %d", val, max)
	}

	return Semaphore{val: val, max: max}
}

// Init sets the initial and maximum values.
func (s *Semaphore) Init(val, max uint32) {
	*s = NewSemaphore(val, max)
}

// Increase wakes one waiting thread and increases the value if it is
// below the maximum.
func (s *Semaphore) Increase() {
	guard := irq.NewGuard()
	defer guard.Leave()

	if s.val > s.max {
		kfmt.Panicf("sync", "the semaphore value %d exceeds its maximum %d", s.val, s.max)
	}

	if s.val != s.max {
		if !s.waiters.IsEmpty() {
			unblockFn(s.waiters.Pop())
		}

		s.val++
	}
}

// Decrease waits until the value is positive, then decreases it.
func (s *Semaphore) Decrease() {
	guard := irq.NewGuard()
	defer guard.Leave()

	// When the thread is woken up it is possible another thread grabbed
	// the semaphore faster, so the value is checked again.
	for s.val == 0 {
		curr := currentTagFn()
		if curr == nil {
			kfmt.Panicf("sync", "cannot wait on a semaphore before the scheduler is installed")
		}

		if s.waiters.Contains(curr) {
			kfmt.Panicf("sync", "the current thread is already waiting")
		}

		s.waiters.PushBack(curr)
		blockFn()
	}

	s.val--
}

// Value returns the current value.
func (s *Semaphore) Value() uint32 {
	return s.val
}
