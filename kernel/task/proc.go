package task

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/kheap"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/sync"
)

const (
	// defaultPriority is the priority of a process's main thread.
	defaultPriority = 31

	// ImageBase is the virtual base address of a user image.
	ImageBase = 0x08048000

	// usrStackBase is the page below the kernel half holding the single
	// user stack.
	usrStackBase = mem.KrnlBase - mem.PageSize

	// NoPid marks a process without a parent.
	NoPid = ^uint32(0)

	// User-mode segment selectors with RPL 3.
	selUsrCode = 0x2B
	selUsrData = 0x33

	// eflagsIF is the interrupt-enable flag an interrupt return
	// restores for user code.
	eflagsIF = 1 << 9
)

// UserFunc is the entry of a user program.
type UserFunc func()

// Process is a user process.
type Process struct {
	// vrAddrs is the user half of the address space. Separate pools let
	// processes use the same virtual address for different physical
	// pages.
	vrAddrs vmm.VrAddrPool

	blockDescs kheap.BlockDescTab

	// pageDir is the kernel virtual address of the process page
	// directory table.
	pageDir vmm.VrAddr

	pid       uint32
	parentPid uint32

	fileDescs FileDescTab

	mainThd *Thread

	code UserFunc

	// forkResults replays earlier fork return values when the child
	// re-enters the user program; see Fork.
	forkResults []uint32
	forkCalls   int
}

var (
	pidCounter uint32
	pidLock    sync.Mutex
)

func newPid() uint32 {
	pidLock.Lock()
	defer pidLock.Unlock()
	pidCounter++
	return pidCounter
}

// CurrentProcess returns the process of the running thread, or nil for
// kernel threads.
func CurrentProcess() *Process {
	return Current().proc
}

// CurrentPid returns the current process's ID, or 0 for kernel threads.
func CurrentPid() uint32 {
	if p := CurrentProcess(); p != nil {
		return p.pid
	}

	return 0
}

// Pid returns the process's ID.
func (p *Process) Pid() uint32 {
	return p.pid
}

// ParentPid returns the parent process's ID, or NoPid without a parent.
func (p *Process) ParentPid() uint32 {
	return p.parentPid
}

// MainThread returns the main thread.
func (p *Process) MainThread() *Thread {
	return p.mainThd
}

// VrAddrPool returns the user virtual address pool.
func (p *Process) VrAddrPool() *vmm.VrAddrPool {
	return &p.vrAddrs
}

// PageDir returns the kernel virtual address of the page directory.
func (p *Process) PageDir() vmm.VrAddr {
	return p.pageDir
}

// FileDescs returns the file descriptor table.
func (p *Process) FileDescs() *FileDescTab {
	return &p.fileDescs
}

// CreateProcess creates and starts a user process running code.
func CreateProcess(name string, code UserFunc) *Process {
	if code == nil {
		kfmt.Panicf("task", "the process has no code entry")
	}

	p := &Process{code: code}
	p.initVrAddrPool()
	p.initPageDir()
	p.blockDescs.Init()
	p.fileDescs.Init()
	p.pid = newPid()
	p.parentPid = NoPid
	p.mainThd = Create(name, defaultPriority, startProcess, nil, p)
	return p
}

// initVrAddrPool sizes the user address pool to cover the user half of
// the address space, [ImageBase, KrnlBase).
func (p *Process) initVrAddrPool() {
	byteLen := (mem.KrnlBase - ImageBase) / mem.PageSize / 8
	p.vrAddrs.Init(ImageBase, make([]byte, byteLen), true)
}

// initPageDir builds the process page directory: the kernel half is
// copied from the active directory so kernel memory is shared, and the
// last entry refers to the directory itself.
func (p *Process) initPageDir() {
	pd := vmm.AllocPages(vmm.PoolKernel, 1)
	vmm.AssertAlloc(uint32(pd))

	for i := uint32(vmm.KrnlPageDirStart); i != mem.PageDirCount-1; i++ {
		entry := vmm.ReadU32(vmm.PageDirBase + vmm.VrAddr(i*4))
		vmm.WriteU32(pd+vmm.VrAddr(i*4), entry)
	}

	phys := pd.PhysAddr()
	vmm.WriteU32(pd+vmm.VrAddr(mem.PageDirSelfRef*4), uint32(vmm.NewPageEntry(phys, true, true, true)))
	p.pageDir = pd
}

// startProcess is the main-thread callback of every process. It builds a
// synthetic trap frame with user selectors, allocates the user stack page
// and drops to ring 3 through the interrupt-exit path.
func startProcess(interface{}) {
	t := Current()
	p := t.proc
	stack := vmm.AllocPageAt(vmm.PoolUser, usrStackBase)
	vmm.AssertAlloc(uint32(stack))

	frame := &t.intrStack
	*frame = IntrStack{
		DS: selUsrData, ES: selUsrData, FS: selUsrData,
		EFlags: eflagsIF,
		OldCS:  selUsrCode,
		OldSS:  selUsrData,
		OldESP: uint32(stack) + mem.PageSize,
	}
	jmpToIntrExit(p)
}

// jmpToIntrExit restores user execution: interrupts come back on with the
// restored EFLAGS and control transfers to the user code.
func jmpToIntrExit(p *Process) {
	p.forkCalls = 0
	if !cpu.InterruptsEnabled() {
		cpu.EnableInterrupts()
	}

	p.code()
}
