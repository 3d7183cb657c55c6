// Package task implements threads, the scheduler and user processes.
//
// Every thread owns one page from the kernel pool that stands for its
// kernel stack; the control block keeps the page address as its stable
// handle. Execution contexts are goroutines parked on per-thread handoff
// gates, so exactly one thread runs at a time and the switch protocol is
// the single point where control is transferred.
package task

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/kheap"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/sync"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

// Status is the life-cycle state of a thread.
type Status int

const (
	// StatusDied marks a thread that is created but not started, or one
	// that has exited.
	StatusDied Status = iota
	// StatusReady marks a thread waiting on the ready list.
	StatusReady
	// StatusRunning marks the thread owning the processor.
	StatusRunning
	// StatusBlocked marks a thread waiting on a synchronization object.
	StatusBlocked
	// StatusWaiting marks a thread waiting for another task.
	StatusWaiting
	// StatusHanging marks a suspended thread.
	StatusHanging
)

const (
	// maxNameLen bounds thread names.
	maxNameLen = 16

	// stackGuard is the canonical guard word. As long as no stack
	// overflow has corrupted the control block it keeps this value.
	stackGuard uint32 = 0x12345678

	idlePriority = 10
)

// Callback is the entry function of a thread.
type Callback func(arg interface{})

// IntrStack is the register snapshot a trap pushes onto a thread's kernel
// stack. The interrupt-exit path restores user execution from it.
type IntrStack struct {
	VecNum                                 uint32
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
	GS, FS, ES, DS                         uint32
	ErrCode                                uint32
	OldEIP                                 uint32
	OldCS                                  uint32
	EFlags                                 uint32
	OldESP                                 uint32
	OldSS                                  uint32
}

// Thread is the thread control block.
type Thread struct {
	name         string
	status       Status
	priority     uint32
	remainTicks  uint32
	elapsedTicks uint32
	proc         *Process
	stackGuard   uint32

	// generalTag links the thread into the ready list or a wait list;
	// allTag links it into the list of every thread.
	generalTag, allTag taglist.Tag

	// page is the kernel-stack page backing this thread.
	page vmm.VrAddr

	intrStack IntrStack

	// fileDescs is used for kernel threads; user threads use their
	// process's table.
	fileDescs FileDescTab

	gate     chan struct{}
	started  bool
	callback Callback
	arg      interface{}
}

var (
	readyList taglist.List
	allList   taglist.List

	current *Thread
	mainThd *Thread
	idleThd *Thread

	inited bool
)

// Current returns the running thread.
func Current() *Thread {
	if current == nil {
		kfmt.Panicf("task", "threads have not been initialized")
	}

	return current
}

// ByTag returns the thread owning a tag.
func ByTag(tag *taglist.Tag) *Thread {
	return tag.Owner().(*Thread)
}

// IsInited reports whether threads have been initialized.
func IsInited() bool {
	return inited
}

// newThread allocates a kernel-stack page and the control block pinned to
// it, and links the thread into the all-thread list.
func newThread(name string, priority uint32, proc *Process) *Thread {
	page := vmm.AllocPages(vmm.PoolKernel, 1)
	vmm.AssertAlloc(uint32(page))

	t := &Thread{}
	t.init(name, priority, proc, page)
	return t
}

func (t *Thread) init(name string, priority uint32, proc *Process, page vmm.VrAddr) {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	t.name = name
	t.stackGuard = stackGuard
	t.priority = priority
	t.remainTicks = priority
	t.elapsedTicks = 0
	t.proc = proc
	t.page = page
	t.gate = make(chan struct{}, 1)
	t.generalTag.Init(t)
	t.allTag.Init(t)
	t.fileDescs.Init()

	// The main kernel thread is already running when the system starts.
	if t == mainThd {
		t.status = StatusRunning
	} else {
		t.status = StatusDied
	}

	if allList.Contains(&t.allTag) {
		kfmt.Panicf("task", "the thread is already registered")
	}

	allList.PushBack(&t.allTag)
}

// start sets the thread callback and adds the thread to the ready list.
func (t *Thread) start(callback Callback, arg interface{}) {
	if t.status != StatusDied {
		kfmt.Panicf("task", "the thread has already started")
	}

	t.callback = callback
	t.arg = arg
	t.status = StatusReady
	readyList.PushBack(&t.generalTag)
}

// Create creates and starts a thread.
func Create(name string, priority uint32, callback Callback, arg interface{}, proc *Process) *Thread {
	t := newThread(name, priority, proc)
	t.start(callback, arg)
	return t
}

// CreateKrnlThread creates and starts a kernel thread.
func CreateKrnlThread(name string, priority uint32, callback Callback, arg interface{}) *Thread {
	return Create(name, priority, callback, arg, nil)
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// Status returns the thread status.
func (t *Thread) Status() Status {
	return t.status
}

// Priority returns the maximum number of ticks the thread runs at a time.
func (t *Thread) Priority() uint32 {
	return t.priority
}

// Process returns the parent process, or nil for kernel threads.
func (t *Thread) Process() *Process {
	return t.proc
}

// IsKrnlThread reports whether the thread belongs to no user process.
func (t *Thread) IsKrnlThread() bool {
	return t.proc == nil
}

// KrnlStackBottom returns the bottom of the thread's kernel stack; traps
// from user mode land there.
func (t *Thread) KrnlStackBottom() uint32 {
	return uint32(t.page) + mem.PageSize
}

// IntrStackRef returns the saved trap frame of the thread.
func (t *Thread) IntrStackRef() *IntrStack {
	return &t.intrStack
}

// Tag returns the general list tag of the thread.
func (t *Thread) Tag() *taglist.Tag {
	return &t.generalTag
}

// IsStackValid reports whether the stack guard still holds its canonical
// value. It is checked before a control block is trusted.
func (t *Thread) IsStackValid() bool {
	return t.stackGuard == stackGuard
}

func (t *Thread) assertStack() {
	if !t.IsStackValid() {
		kfmt.Panicf("task", "the kernel stack of '%s' has overflowed", t.name)
	}
}

// ElapsedTicks returns the number of ticks since startup.
func (t *Thread) ElapsedTicks() uint32 {
	return t.elapsedTicks
}

// ResetTicks refills the remaining time slices from the priority.
func (t *Thread) ResetTicks() {
	t.remainTicks = t.priority
}

// Tick charges one tick and reports whether the thread may keep running.
func (t *Thread) Tick() bool {
	t.elapsedTicks++
	if t.remainTicks > 0 {
		t.remainTicks--
		return true
	}

	return false
}

// loadPageDir installs the thread's page directory table.
func (t *Thread) loadPageDir() {
	if t.proc != nil {
		cpu.SwitchPageDir(vmm.VrAddr(t.proc.pageDir).PhysAddr())
	} else {
		cpu.SwitchPageDir(hal.KrnlPageDirPhysBase)
	}
}

// loadKrnlEnv prepares the processor for the thread: its page directory
// and, for user threads, the kernel stack published in the task state
// segment.
func (t *Thread) loadKrnlEnv() {
	t.loadPageDir()
	if !t.IsKrnlThread() {
		TaskStateSeg().Update(t)
	}
}

// Block takes the thread off the processor with the given status. Only
// the running thread can block itself.
func (t *Thread) Block(status Status) {
	if status != StatusBlocked && status != StatusWaiting && status != StatusHanging {
		kfmt.Panicf("task", "status %d is not a blocking status", status)
	}

	guard := irq.NewGuard()
	t.status = status
	t.schedule()
	guard.Leave()
}

// Unblock puts a blocked thread at the front of the ready list so it runs
// soon.
func Unblock(t *Thread) {
	t.assertStack()
	if t.status != StatusBlocked && t.status != StatusWaiting && t.status != StatusHanging {
		kfmt.Panicf("task", "'%s' is not blocked", t.name)
	}

	guard := irq.NewGuard()
	if readyList.Contains(&t.generalTag) {
		kfmt.Panicf("task", "'%s' is already on the ready list", t.name)
	}

	t.status = StatusReady
	readyList.PushFront(&t.generalTag)
	guard.Leave()
}

// Yield moves the thread to the back of the ready list without refilling
// its time slices and schedules another thread.
func (t *Thread) Yield() {
	guard := irq.NewGuard()
	if readyList.Contains(&t.generalTag) {
		kfmt.Panicf("task", "'%s' is already on the ready list", t.name)
	}

	t.status = StatusReady
	readyList.PushBack(&t.generalTag)
	t.schedule()
	guard.Leave()
}

// Schedule takes the running thread off the processor, refilling its time
// slices, and switches to the next ready thread.
func (t *Thread) Schedule() {
	t.schedule()
}

func (t *Thread) schedule() {
	if cpu.InterruptsEnabled() {
		kfmt.Panicf("task", "the scheduler requires interrupts to be disabled")
	}

	t.assertStack()
	if t.status == StatusRunning {
		if readyList.Contains(&t.generalTag) {
			kfmt.Panicf("task", "the running thread is on the ready list")
		}

		t.ResetTicks()
		t.status = StatusReady
		readyList.PushBack(&t.generalTag)
	}

	// If no thread is ready the idle thread is woken up to halt the
	// processor until the next interrupt.
	if readyList.IsEmpty() {
		Unblock(idleThd)
	}

	next := ByTag(readyList.Pop())
	next.loadKrnlEnv()
	next.status = StatusRunning
	switchTo(t, next)
}

// switchTo hands the processor from one thread to another. The outgoing
// thread parks on its gate unless it has exited; the incoming thread is
// resumed, or its goroutine is started for the first run.
func switchTo(from, to *Thread) {
	if from == to {
		return
	}

	dying := from.status == StatusDied
	current = to
	if !to.started {
		to.started = true
		go to.run()
	}

	to.gate <- struct{}{}
	if dying {
		return
	}

	<-from.gate
}

// run is the first-run trampoline: it waits for the first hand-off,
// enables interrupts and tail-calls the thread callback.
func (t *Thread) run() {
	<-t.gate
	cpu.EnableInterrupts()
	t.callback(t.arg)
	t.exit()
}

// exit terminates the thread when its callback returns.
func (t *Thread) exit() {
	irq.NewGuard()
	t.status = StatusDied
	t.allTag.Detach()
	page := t.page
	t.page = 0
	vmm.FreePages(page, 1)
	t.schedule()
}

// Idle is the body of the idle thread: it stays blocked until the
// scheduler finds the ready list empty, then halts the processor.
func idle(interface{}) {
	for {
		Current().Block(StatusBlocked)
		cpu.EnableInterrupts()
		cpu.Halt()
	}
}

// Init binds the calling flow of control as the main kernel thread,
// creates the idle thread and installs the scheduler hooks used by the
// synchronization and heap packages.
func Init() {
	if inited {
		kfmt.Panicf("task", "threads are already initialized")
	}

	if !vmm.IsInited() {
		kfmt.Panicf("task", "memory must be initialized before threads")
	}

	page := vmm.AllocPages(vmm.PoolKernel, 1)
	vmm.AssertAlloc(uint32(page))
	mainThd = &Thread{}
	current = mainThd
	mainThd.init("main", defaultPriority, nil, page)
	mainThd.started = true

	idleThd = CreateKrnlThread("idle", idlePriority, idle, nil)

	sync.SetScheduler(
		func() *taglist.Tag { return &Current().generalTag },
		func() { Current().Block(StatusBlocked) },
		func(tag *taglist.Tag) { Unblock(ByTag(tag)) },
	)
	kheap.SetUserStateProviders(
		func() *kheap.BlockDescTab {
			p := Current().proc
			if p == nil {
				kfmt.Panicf("task", "the current thread has no process")
			}

			return &p.blockDescs
		},
		func() vmm.PoolType {
			if Current().IsKrnlThread() {
				return vmm.PoolKernel
			}

			return vmm.PoolUser
		},
	)
	vmm.SetUserAddrPoolProvider(func() *vmm.VrAddrPool {
		p := Current().proc
		if p == nil {
			kfmt.Panicf("task", "the current thread has no process")
		}

		return &p.vrAddrs
	})

	inited = true
	kfmt.Printf("[task] threads have been initialized\n")
}
