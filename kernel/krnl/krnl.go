// Package krnl performs kernel bring-up: it initializes every subsystem
// in dependency order and populates the system-call table.
package krnl

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/device"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/kbd"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/pit"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/kheap"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/syscall"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
)

// OpenArgs carries the argument of the OpenFile system call.
type OpenArgs struct {
	Path  string
	Flags fs.OpenMode
}

// WriteArgs carries the argument of the WriteFile system call.
type WriteArgs struct {
	Desc uint32
	Data []byte
}

// ReadArgs carries the argument of the ReadFile system call.
type ReadArgs struct {
	Desc uint32
	Buf  []byte
}

// SeekArgs carries the argument of the SeekFile system call.
type SeekArgs struct {
	Desc   uint32
	Offset int32
	Origin fs.SeekOrigin
}

// initSysCall registers the kernel functions behind the system calls.
func initSysCall() {
	syscall.Register(syscall.GetCurrPid, func(interface{}) interface{} {
		return task.CurrentPid()
	})
	syscall.Register(syscall.PrintChar, func(arg interface{}) interface{} {
		kfmt.Printf("%c", arg.(byte))
		return nil
	})
	syscall.Register(syscall.PrintHex, func(arg interface{}) interface{} {
		kfmt.Printf("0x%x", arg.(uint32))
		return nil
	})
	syscall.Register(syscall.PrintStr, func(arg interface{}) interface{} {
		kfmt.Printf("%s", arg.(string))
		return nil
	})
	syscall.Register(syscall.MemAlloc, func(arg interface{}) interface{} {
		return uint32(kheap.Allocate(arg.(uint32)))
	})
	syscall.Register(syscall.MemFree, func(arg interface{}) interface{} {
		kheap.Free(vmm.VrAddr(arg.(uint32)))
		return nil
	})
	syscall.Register(syscall.OpenFile, func(arg interface{}) interface{} {
		args := arg.(OpenArgs)
		return fs.Open(args.Path, args.Flags)
	})
	syscall.Register(syscall.CloseFile, func(arg interface{}) interface{} {
		fs.Close(arg.(uint32))
		return nil
	})
	syscall.Register(syscall.WriteFile, func(arg interface{}) interface{} {
		args := arg.(WriteArgs)
		return fs.Write(args.Desc, args.Data)
	})
	syscall.Register(syscall.ReadFile, func(arg interface{}) interface{} {
		args := arg.(ReadArgs)
		return fs.Read(args.Desc, args.Buf)
	})
	syscall.Register(syscall.SeekFile, func(arg interface{}) interface{} {
		args := arg.(SeekArgs)
		return fs.Seek(args.Desc, args.Offset, args.Origin)
	})
	syscall.Register(syscall.DeleteFile, func(arg interface{}) interface{} {
		return fs.Delete(arg.(string))
	})
	syscall.Register(syscall.CreateDir, func(arg interface{}) interface{} {
		return fs.CreateDir(arg.(string))
	})
	syscall.Register(syscall.Fork, func(interface{}) interface{} {
		return task.ForkCurrent()
	})
}

// InitKernel boots the kernel on an already assembled machine: interrupt
// dispatch, system calls, memory, threads, the timer, the task state
// segment and the keyboard come up with interrupts disabled; then
// interrupts are enabled and the disks and the file system follow.
func InitKernel() {
	irq.Init()
	initSysCall()
	vmm.Init()
	kheap.Init()
	task.Init()
	mustInit(pit.Driver{})
	task.InitTaskStateSeg()
	mustInit(kbd.Driver{})
	cpu.EnableInterrupts()
	mustInit(ide.Driver{})
	mustInit(fs.Driver{})
}

// kfmtWriter forwards driver bring-up output to the kernel console.
type kfmtWriter struct{}

func (kfmtWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

func mustInit(d device.Driver) {
	if err := d.DriverInit(kfmtWriter{}); err != nil {
		kfmt.Panicf("krnl", "failed to initialize the '%s' driver: %s", d.DriverName(), err.Message)
	}
}

// Boot assembles the machine, attaches its devices and boots the kernel.
// attachDevices registers the machine's port devices (such as emulated
// disks) on the fresh bus before the kernel comes up.
func Boot(cfg hal.Config, attachDevices func()) {
	hal.Boot(cfg)
	if attachDevices != nil {
		attachDevices()
	}

	InitKernel()
}
