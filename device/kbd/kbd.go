// Package kbd drives the keyboard controller. Scancodes arriving with the
// keyboard interrupt are buffered in a bounded blocking queue that reader
// threads consume.
package kbd

import (
	"io"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/sync"
)

const (
	// dataPort is the keyboard controller output buffer.
	dataPort = 0x60

	// bufCapacity bounds the number of buffered scancodes.
	bufCapacity = 64
)

var scancodes *sync.BoundedQueue

// kbdIntrHandler reads one scancode from the controller and buffers it.
// Scancodes arriving while the queue is full are dropped.
func kbdIntrHandler(uint32) {
	code := cpu.PortReadByte(dataPort)
	if scancodes.IsFull() {
		return
	}

	scancodes.Push(code)
}

// NextScancode blocks until a scancode is available and returns it.
func NextScancode() uint8 {
	guard := irq.NewGuard()
	defer guard.Leave()
	return scancodes.Pop().(uint8)
}

// Driver is the keyboard device driver.
type Driver struct{}

// DriverName returns the driver name.
func (Driver) DriverName() string {
	return "kbd"
}

// DriverInit creates the scancode queue and installs the interrupt
// handler.
func (Driver) DriverInit(w io.Writer) *kernel.Error {
	scancodes = sync.NewBoundedQueue(bufCapacity)
	irq.Register(irq.Keyboard, "Keyboard", kbdIntrHandler)
	kfmt.Fprintf(w, "[kbd] the keyboard has been initialized\n")
	return nil
}
