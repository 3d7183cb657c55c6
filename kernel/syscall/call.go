// Package syscall implements the system-call table. User code enters the
// kernel through a single trap carrying a call number and an argument
// pointer; the trap handler looks the number up here.
package syscall

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
)

// Count is the maximum number of supported system calls.
const Count = 0x60

// Type identifies a system call. Each type corresponds to one kernel
// function.
type Type uint32

const (
	GetCurrPid Type = iota
	PrintChar
	PrintHex
	PrintStr
	MemAlloc
	MemFree
	OpenFile
	CloseFile
	WriteFile
	ReadFile
	SeekFile
	DeleteFile
	CreateDir
	Fork
)

// Handler services one system call. The argument and result layouts are
// part of each call's contract.
type Handler func(arg interface{}) interface{}

var handlers [Count]Handler

// Register installs the kernel function behind a call number.
func Register(t Type, handler Handler) {
	if uint32(t) >= Count {
		kfmt.Panicf("syscall", "call number 0x%x is out of range", uint32(t))
	}

	handlers[t] = handler
}

// Call raises the system-call trap: the dispatcher runs with interrupts
// disabled like any interrupt gate and returns the handler result.
func Call(t Type, arg interface{}) interface{} {
	if uint32(t) >= Count || handlers[t] == nil {
		kfmt.Panicf("syscall", "call number 0x%x is not registered", uint32(t))
	}

	guard := irq.NewGuard()
	defer guard.Leave()
	return handlers[t](arg)
}
