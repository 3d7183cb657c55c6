// Package hal models the machine the kernel runs on: physical memory, the
// paging registers, the interrupt flag and the port I/O bus. The real-mode
// loader normally assembles this state before the kernel entry point runs;
// Boot plays that role here.
package hal

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
)

const (
	// BiosDiskCountAddr is where the BIOS records the number of attached
	// hard disks.
	BiosDiskCountAddr = 0x475

	// LoaderBase is the physical address the loader is loaded at. The
	// loader stores the detected memory size right behind its GDT, which
	// has 60 eight-byte descriptors.
	LoaderBase = 0x900

	// MemSizeAddr holds the total physical memory size in bytes.
	MemSizeAddr = LoaderBase + 60*8

	// KrnlPageDirPhysBase is the physical address of the kernel page
	// directory table built by the loader.
	KrnlPageDirPhysBase = 1 * mem.MB
)

// IODirection tells a port device whether the access is a read or a write.
type IODirection uint8

const (
	IODirIn IODirection = iota
	IODirOut
)

// PioDevice is a device reachable through port I/O.
type PioDevice interface {
	// HandleIO services one access to a port owned by the device. The
	// data slice is 1, 2 or 4 bytes long; for reads the device fills it,
	// for writes it holds the value written.
	HandleIO(port uint16, dir IODirection, data []byte) *kernel.Error
}

// IRQHandler receives hardware interrupt vectors raised by devices.
type IRQHandler func(vector uint32)

// Config describes the machine to assemble.
type Config struct {
	// MemSize is the physical memory size in bytes. Zero selects 32 MiB.
	MemSize uint32

	// DiskCount is recorded in the BIOS data area.
	DiskCount uint8
}

var (
	errUnhandledPort = &kernel.Error{Module: "hal", Message: "no device is registered for the port"}

	ram    []byte
	cr3    uint32
	intrOn bool

	ports      map[uint16]PioDevice
	irqHandler IRQHandler
	pending    []uint32
)

// Boot resets the machine and performs the loader's work: it clears RAM,
// stores the BIOS and loader data, builds the kernel page directory with
// its pre-allocated kernel page tables and the self-referencing last
// entry, and loads CR3. Interrupts start disabled.
func Boot(cfg Config) {
	size := cfg.MemSize
	if size == 0 {
		size = 32 * mem.MB
	}

	ram = make([]byte, size)
	cr3 = 0
	intrOn = false
	ports = make(map[uint16]PioDevice)
	irqHandler = nil
	pending = nil

	ram[BiosDiskCountAddr] = cfg.DiskCount
	WriteU32(MemSizeAddr, size)
	buildKrnlPageDir()
	SetCR3(KrnlPageDirPhysBase)
}

// buildKrnlPageDir lays out the paging structures the loader leaves
// behind: the page directory at 1 MiB, one page table per kernel page
// directory entry directly behind it, an identity mapping of the low
// 1 MiB reachable through both PDE 0 and the first kernel PDE, and the
// self-reference in the last entry.
func buildKrnlPageDir() {
	const entrySize = 4
	pd := uint32(KrnlPageDirPhysBase)
	firstTab := pd + mem.PageSize

	krnlStart := uint32(mem.KrnlBase >> 22)
	krnlCount := uint32(mem.PageDirCount - 1 - int(krnlStart))
	for i := uint32(0); i < krnlCount; i++ {
		tab := firstTab + i*mem.PageSize
		WriteU32(pd+(krnlStart+i)*entrySize, tab|0x7)
	}

	// The low 1 MiB holds the kernel image; map it identically and at
	// the kernel base so both early and high addresses work.
	WriteU32(pd, firstTab|0x7)
	for i := uint32(0); i < (1*mem.MB)/mem.PageSize; i++ {
		WriteU32(firstTab+i*entrySize, i*mem.PageSize|0x7)
	}

	WriteU32(pd+uint32(mem.PageDirCount-1)*entrySize, pd|0x7)
}

// MemSize returns the physical memory size of the running machine.
func MemSize() uint32 {
	return uint32(len(ram))
}

// ReadU8 reads a byte from physical memory.
func ReadU8(addr uint32) uint8 {
	return ram[addr]
}

// WriteU8 writes a byte to physical memory.
func WriteU8(addr uint32, val uint8) {
	ram[addr] = val
}

// ReadU32 reads a little-endian 32-bit word from physical memory.
func ReadU32(addr uint32) uint32 {
	return uint32(ram[addr]) | uint32(ram[addr+1])<<8 | uint32(ram[addr+2])<<16 | uint32(ram[addr+3])<<24
}

// WriteU32 writes a little-endian 32-bit word to physical memory.
func WriteU32(addr uint32, val uint32) {
	ram[addr] = byte(val)
	ram[addr+1] = byte(val >> 8)
	ram[addr+2] = byte(val >> 16)
	ram[addr+3] = byte(val >> 24)
}

// Bytes returns a slice of physical memory starting at addr.
func Bytes(addr, size uint32) []byte {
	return ram[addr : addr+size]
}

// SetCR3 loads the physical address of a page directory table.
func SetCR3(addr uint32) {
	cr3 = addr
}

// CR3 returns the physical address of the active page directory table.
func CR3() uint32 {
	return cr3
}

// EnableInterrupts sets the interrupt flag and delivers any vectors that
// were raised while it was clear.
func EnableInterrupts() {
	intrOn = true
	drainPending()
}

func drainPending() {
	for len(pending) > 0 && intrOn {
		v := pending[0]
		pending = pending[1:]
		deliver(v)
	}
}

// DisableInterrupts clears the interrupt flag.
func DisableInterrupts() {
	intrOn = false
}

// InterruptsEnabled reports the interrupt flag.
func InterruptsEnabled() bool {
	return intrOn
}

// SetIRQHandler installs the receiver for hardware interrupt vectors.
func SetIRQHandler(h IRQHandler) {
	irqHandler = h
}

// Raise delivers a hardware interrupt vector to the installed handler. If
// interrupts are disabled the vector stays pending until they are enabled
// again, like a raised line behind a masked PIC.
func Raise(vector uint32) {
	if !intrOn {
		pending = append(pending, vector)
		return
	}

	deliver(vector)
}

// deliver runs the handler with the interrupt flag cleared, matching the
// behaviour of an interrupt gate. Vectors that arrived in the meantime
// follow once the flag is restored.
func deliver(vector uint32) {
	if irqHandler == nil {
		return
	}

	intrOn = false
	irqHandler(vector)
	intrOn = true
	drainPending()
}

// RegisterPorts attaches a device to an inclusive port range.
func RegisterPorts(start, end uint16, dev PioDevice) {
	for p := uint32(start); p <= uint32(end); p++ {
		ports[uint16(p)] = dev
	}
}

// HandleIO routes a port access to the owning device.
func HandleIO(port uint16, dir IODirection, data []byte) *kernel.Error {
	dev, ok := ports[port]
	if !ok {
		return errUnhandledPort
	}

	return dev.HandleIO(port, dir, data)
}
