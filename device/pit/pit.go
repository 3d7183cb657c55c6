// Package pit drives the Intel 8253 programmable interval timer: it
// programs counter 0 for the scheduling clock and services the clock
// interrupt.
package pit

import (
	"io"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
)

const (
	// FreqPerSecond is the clock interrupt frequency.
	FreqPerSecond = 100

	// inputFreq is the input clock of the 8253.
	inputFreq = 1193180

	portCounter0 = 0x40
	portCtrl     = 0x43

	// ctrlRateGenerator programs counter 0 as a rate generator with
	// binary counting, writing the low byte then the high byte.
	ctrlRateGenerator = 0x34
)

var (
	ticks  uint32
	inited bool
)

// Ticks returns the number of clock ticks since startup.
func Ticks() uint32 {
	return ticks
}

// IsInited reports whether the timer has been initialized.
func IsInited() bool {
	return inited
}

// clockIntrHandler charges the running thread one tick and schedules when
// its time slices run out.
func clockIntrHandler(uint32) {
	curr := task.Current()
	if !curr.IsStackValid() {
		kfmt.Panicf("pit", "the kernel stack of the running thread has overflowed")
	}

	ticks++
	if !curr.Tick() {
		curr.Schedule()
	}
}

// Tick raises the clock interrupt line once. The hosted machine has no
// autonomous clock; boot code and tests pump it explicitly.
func Tick() {
	hal.Raise(irq.Clock)
}

// Driver is the timer device driver.
type Driver struct{}

// DriverName returns the driver name.
func (Driver) DriverName() string {
	return "pit"
}

// DriverInit programs counter 0 and installs the clock handler.
func (Driver) DriverInit(w io.Writer) *kernel.Error {
	ticks = 0
	initVal := uint32(inputFreq / FreqPerSecond)
	cpu.PortWriteByte(portCtrl, ctrlRateGenerator)
	cpu.PortWriteByte(portCounter0, uint8(initVal))
	cpu.PortWriteByte(portCounter0, uint8(initVal>>8))

	irq.Register(irq.Clock, "Clock", clockIntrHandler)
	task.SetTimerSource(Ticks, FreqPerSecond)
	inited = true
	kfmt.Fprintf(w, "[pit] the interval timer has been initialized at %d Hz\n", FreqPerSecond)
	return nil
}
