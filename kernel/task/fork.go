package task

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
)

// fork duplicates the thread for a child process. The child is created
// already ready: its saved trap frame returns 0 and its first run goes
// straight through the interrupt-exit path into user code.
func (t *Thread) fork(child *Process) *Thread {
	page := vmm.AllocPages(vmm.PoolKernel, 1)
	vmm.AssertAlloc(uint32(page))

	c := &Thread{}
	c.init(t.name, t.priority, child, page)
	c.intrStack = t.intrStack
	// The return value of the fork in the child is 0.
	c.intrStack.EAX = 0
	c.callback = forkedChildEntry
	c.status = StatusReady
	readyList.PushBack(&c.generalTag)
	return c
}

// forkedChildEntry is the first-run entry of a forked main thread: it
// falls through the interrupt-exit path into the user program.
func forkedChildEntry(interface{}) {
	jmpToIntrExit(Current().proc)
}

// forkInto duplicates the process state into a freshly created child.
func (p *Process) forkInto(child *Process) {
	child.pid = newPid()
	child.parentPid = p.pid
	child.code = p.code
	child.blockDescs.Init()
	child.initVrAddrPool()
	child.initPageDir()
	child.mainThd = p.mainThd.fork(child)
	p.fileDescs.forkInto(&child.fileDescs)

	buf := vmm.AllocPages(vmm.PoolKernel, 1)
	vmm.AssertAlloc(uint32(buf))
	p.copyMemTo(child, buf)
	vmm.FreePages(buf, 1)
}

// copyMemTo copies every allocated user page of the process to the same
// virtual address in the child. Pages are staged through a kernel buffer
// that stays mapped across the page directory switches.
func (p *Process) copyMemTo(child *Process, buf vmm.VrAddr) {
	// The buffer page lives in the kernel half, which every page
	// directory shares, so its contents survive the CR3 switches.
	staging := hal.Bytes(buf.PhysAddr(), mem.PageSize)
	bm := p.vrAddrs.Bitmap()
	for i := uint32(0); i != bm.Capacity(); i++ {
		if !bm.IsAlloc(i) {
			continue
		}

		addr := p.vrAddrs.StartAddr() + vmm.VrAddr(i*mem.PageSize)

		// Copy the page into the kernel staging buffer.
		vmm.ReadBytes(addr, staging)

		// Switch to the child's address space and back the same
		// virtual address with a fresh page holding the copy. The
		// child's address pool is left untouched: when the child
		// replays the user program, its allocations find these pages
		// again.
		child.mainThd.loadPageDir()
		phyPage := vmm.MemPool(vmm.PoolUser).AllocPages(1)
		vmm.AssertAlloc(phyPage)
		addr.MapToPhys(phyPage)
		vmm.WriteBytes(addr, staging)
		p.mainThd.loadPageDir()
	}
}

// Fork clones the current process. It returns the child's ID in the
// parent; the child's fork returns 0. Interrupts must be disabled by the
// caller.
//
// In this rendition a forked child re-enters the user program and replays
// the recorded results of earlier forks until it reaches its own fork
// call, where it observes 0; see DESIGN.md.
func (p *Process) Fork() uint32 {
	if cpu.InterruptsEnabled() {
		kfmt.Panicf("task", "fork requires interrupts to be disabled")
	}

	k := p.forkCalls
	p.forkCalls++
	if k < len(p.forkResults) {
		return p.forkResults[k]
	}

	child := &Process{}
	child.forkResults = append(append([]uint32{}, p.forkResults...), 0)
	p.forkInto(child)
	p.forkResults = append(p.forkResults, child.pid)
	return child.pid
}

// ForkCurrent forks the process of the running thread.
func ForkCurrent() uint32 {
	p := CurrentProcess()
	if p == nil {
		kfmt.Panicf("task", "kernel threads cannot fork")
	}

	guard := irq.NewGuard()
	defer guard.Leave()
	return p.Fork()
}
