// Package cpu exposes the instruction-level operations the kernel needs.
// On real hardware these are single instructions; here they drive the
// machine state owned by the hal package.
package cpu

import "github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"

var (
	// haltFn is used by tests to observe calls to Halt.
	haltFn = func() {}
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	hal.EnableInterrupts()
}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {
	hal.DisableInterrupts()
}

// InterruptsEnabled returns true if interrupt handling is enabled.
func InterruptsEnabled() bool {
	return hal.InterruptsEnabled()
}

// Halt stops instruction execution until the next external interrupt.
func Halt() {
	haltFn()
}

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
// Translations are never cached here, so only the call itself matters.
func FlushTLBEntry(virtAddr uint32) {}

// SwitchPageDir sets the root page table directory to point to the
// specified physical address and flushes the TLB.
func SwitchPageDir(physAddr uint32) {
	hal.SetCR3(physAddr)
}

// ActivePageDir returns the physical address of the active page directory.
func ActivePageDir() uint32 {
	return hal.CR3()
}

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8 {
	var buf [1]byte
	hal.HandleIO(port, hal.IODirIn, buf[:])
	return buf[0]
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8) {
	buf := [1]byte{val}
	hal.HandleIO(port, hal.IODirOut, buf[:])
}

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16 {
	var buf [2]byte
	hal.HandleIO(port, hal.IODirIn, buf[:])
	return uint16(buf[0]) | uint16(buf[1])<<8
}

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16) {
	buf := [2]byte{byte(val), byte(val >> 8)}
	hal.HandleIO(port, hal.IODirOut, buf[:])
}

// PortReadWords reads count uint16 values from the requested port into buf.
func PortReadWords(port uint16, buf []byte, count uint32) {
	for i := uint32(0); i < count; i++ {
		val := PortReadWord(port)
		buf[i*2] = byte(val)
		buf[i*2+1] = byte(val >> 8)
	}
}

// PortWriteWords writes count uint16 values from data to the requested port.
func PortWriteWords(port uint16, data []byte, count uint32) {
	for i := uint32(0); i < count; i++ {
		PortWriteWord(port, uint16(data[i*2])|uint16(data[i*2+1])<<8)
	}
}
