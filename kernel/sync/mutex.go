package sync

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

// Mutex is a recursive lock built on a binary semaphore. The thread
// holding it may lock it again; each lock must be matched by an unlock.
type Mutex struct {
	sema        Semaphore
	holder      *taglist.Tag
	repeatTimes uint32
	inited      bool
}

func (m *Mutex) lazyInit() {
	if !m.inited {
		m.sema.Init(1, 1)
		m.inited = true
	}
}

// Lock acquires the mutex, blocking while another thread holds it.
func (m *Mutex) Lock() {
	m.lazyInit()
	curr := currentTagFn()
	if curr != nil && m.holder == curr {
		if m.repeatTimes == 0 {
			kfmt.Panicf("sync", "the mutex holder has no lock count")
		}

		m.repeatTimes++
		return
	}

	m.sema.Decrease()
	m.holder = curr
	if m.repeatTimes != 0 {
		kfmt.Panicf("sync", "the mutex was handed over with a lock count")
	}

	m.repeatTimes = 1
}

// Unlock releases the mutex. Only the holder may call it.
func (m *Mutex) Unlock() {
	if m.holder != currentTagFn() {
		kfmt.Panicf("sync", "the mutex is unlocked by a thread that does not hold it")
	}

	if m.repeatTimes > 1 {
		m.repeatTimes--
		return
	}

	if m.repeatTimes != 1 {
		kfmt.Panicf("sync", "the mutex is not locked")
	}

	// The holder is reset before the semaphore is released.
	m.repeatTimes = 0
	m.holder = nil
	m.sema.Increase()
}
