// Package sync provides the thread synchronization primitives: the
// counting semaphore, the recursive mutex and the bounded blocking queue.
//
// The primitives block and wake threads through scheduler hooks installed
// by the task package. Until a scheduler is installed the hooks fall back
// to a single flow of control that never contends.
package sync

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

var (
	// currentTagFn returns the wait tag of the running thread.
	currentTagFn = func() *taglist.Tag { return nil }

	// blockFn blocks the running thread.
	blockFn = func() {
		kfmt.Panicf("sync", "blocking is not available before the scheduler is installed")
	}

	// unblockFn makes the thread owning the tag ready to run.
	unblockFn = func(*taglist.Tag) {
		kfmt.Panicf("sync", "waking is not available before the scheduler is installed")
	}
)

// SetScheduler installs the scheduler hooks the primitives block and wake
// threads with.
func SetScheduler(currentTag func() *taglist.Tag, block func(), unblock func(*taglist.Tag)) {
	currentTagFn = currentTag
	blockFn = block
	unblockFn = unblock
}
