// Package irq implements interrupt dispatch and the interrupt guard.
package irq

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
)

const (
	// Count is the number of interrupt vectors the kernel handles.
	Count = 0x31

	// StartUserIntrNum is the vector of the first hardware interrupt
	// behind the programmable interrupt controller.
	StartUserIntrNum = 0x20
)

// Well-known interrupt vectors.
const (
	// PageFault is the page-fault exception.
	PageFault = 0x0E

	// Clock is the interval-timer interrupt.
	Clock = StartUserIntrNum
	// Keyboard is the keyboard-controller interrupt.
	Keyboard = StartUserIntrNum + 1
	// PrimaryIdeChnl is the interrupt of the primary IDE channel.
	PrimaryIdeChnl = StartUserIntrNum + 14
	// SecondaryIdeChnl is the interrupt of the secondary IDE channel.
	SecondaryIdeChnl = StartUserIntrNum + 15

	// SysCall is the system-call trap.
	SysCall = Count - 1

	// SpuriousMaster is raised by the master PIC for IRQ7 glitches.
	SpuriousMaster = StartUserIntrNum + 7
	// SpuriousSlave is raised by the slave PIC for IRQ15 glitches.
	SpuriousSlave = StartUserIntrNum + 15
)

// Handler services one interrupt vector.
type Handler func(vector uint32)

var (
	handlers [Count]Handler
	names    [Count]string

	// haltFn is swapped by tests so a fatal default-handler report does
	// not stop the test process.
	haltFn = func() {
		for {
			cpu.Halt()
		}
	}
)

// Register installs a handler for a vector.
func Register(vector uint32, name string, handler Handler) {
	if vector >= Count {
		kfmt.Panicf("irq", "vector 0x%x is out of range", vector)
	}

	if name != "" {
		names[vector] = name
	}

	if handler != nil {
		handlers[vector] = handler
	}
}

// Name returns the registered name of a vector.
func Name(vector uint32) string {
	return names[vector]
}

// Dispatch runs the handler for a vector.
func Dispatch(vector uint32) {
	if vector >= Count {
		kfmt.Panicf("irq", "vector 0x%x is out of range", vector)
	}

	handlers[vector](vector)
}

// defaultHandler reports unexpected interrupts. Spurious vectors from the
// two PICs are silently ignored.
func defaultHandler(vector uint32) {
	if vector == SpuriousMaster || vector == SpuriousSlave {
		return
	}

	kfmt.Printf("\n!!!!! Exception !!!!!\n")
	kfmt.Printf("\t0x%x %s\n", vector, names[vector])
	haltFn()
}

// Init installs the default handlers and connects the dispatcher to the
// machine's interrupt lines.
func Init() {
	for i := uint32(0); i != Count; i++ {
		Register(i, "Unknown", defaultHandler)
	}

	Register(0x00, "#DE Divide Error", nil)
	Register(0x01, "#DB Debug Exception", nil)
	Register(0x02, "NMI Intr", nil)
	Register(0x03, "#BP Breakpoint Exception", nil)
	Register(0x04, "#OF Overflow Exception", nil)
	Register(0x05, "#BR Bound Range Exceeded Exception", nil)
	Register(0x06, "#UD Invalid Opcode Exception", nil)
	Register(0x07, "#NM Device Not Available Exception", nil)
	Register(0x08, "#DF Double Fault Exception", nil)
	Register(0x09, "Coprocessor Segment Overrun", nil)
	Register(0x0A, "#TS Invalid TSS Exception", nil)
	Register(0x0B, "#NP Segment Not Present", nil)
	Register(0x0C, "#SS Stack Fault Exception", nil)
	Register(0x0D, "#GP General Protection Exception", nil)
	Register(PageFault, "#PF Page-Fault Exception", nil)
	Register(0x10, "#MF x87 FPU Floating-Point Error", nil)
	Register(0x11, "#AC Alignment Check Exception", nil)
	Register(0x12, "#MC Machine-Check Exception", nil)
	Register(0x13, "#XF SIMD Floating-Point Exception", nil)

	hal.SetIRQHandler(Dispatch)
	kfmt.Printf("[irq] the interrupt dispatch table has been initialized\n")
}

// Guard disables interrupts for the duration of a scope. Nesting is safe:
// only the outermost guard re-enables interrupts.
type Guard struct {
	enabled bool
}

// NewGuard records the interrupt flag and disables interrupts.
func NewGuard() Guard {
	g := Guard{enabled: cpu.InterruptsEnabled()}
	if g.enabled {
		cpu.DisableInterrupts()
	}

	return g
}

// Leave restores the interrupt flag recorded on entry.
func (g Guard) Leave() {
	if g.enabled {
		cpu.EnableInterrupts()
	}
}
