// Package ide drives the two IDE channels and their disks: LBA28 PIO
// transfers paced by the channel interrupt, disk identification and the
// MBR/EBR partition scan.
package ide

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/sync"
)

// ChnlType tells the primary channel from the secondary one.
type ChnlType int

const (
	// ChnlInvalid marks an unconfigured channel.
	ChnlInvalid ChnlType = iota
	// ChnlPrimary is the primary IDE channel at port 0x1F0.
	ChnlPrimary
	// ChnlSecondary is the secondary IDE channel at port 0x170.
	ChnlSecondary
)

const (
	// MaxDiskCountPerChnl is the number of disks a channel can carry.
	MaxDiskCountPerChnl = 2

	// MaxChnlCount is the number of IDE channels on the machine.
	MaxChnlCount = 2

	primaryBasePort   = 0x1F0
	secondaryBasePort = 0x170

	portDataOff      = 0
	portErrorOff     = 1
	portSecCntOff    = 2
	portLbaLowOff    = 3
	portLbaMidOff    = 4
	portLbaHighOff   = 5
	portDeviceOff    = 6
	portStatusOff    = 7
	portCmdOff       = 7
	portAltStatusOff = 0x206
)

// IdeChnl is one IDE channel: two disk slots sharing one set of I/O
// ports and one interrupt line.
type IdeChnl struct {
	name     string
	typ      ChnlType
	basePort uint16
	intrNum  uint32
	disks    [MaxDiskCountPerChnl]Disk

	// mtx serializes commands; at most one command is outstanding per
	// channel.
	mtx sync.Mutex

	// waitingIntr is set once a command has been submitted and the
	// channel expects a completion interrupt.
	waitingIntr bool

	// diskDone transfers "device done" from the interrupt handler to
	// the waiting thread.
	diskDone sync.Semaphore
}

// Name returns the channel name.
func (c *IdeChnl) Name() string {
	return c.name
}

// Type returns the channel type.
func (c *IdeChnl) Type() ChnlType {
	return c.typ
}

// IntrNum returns the interrupt vector of the channel.
func (c *IdeChnl) IntrNum() uint32 {
	return c.intrNum
}

// Disk returns the disk at an index: 0 for the master, 1 for the slave.
func (c *IdeChnl) Disk(idx int) *Disk {
	if idx < 0 || idx >= MaxDiskCountPerChnl {
		kfmt.Panicf("ide", "disk index %d is out of range", idx)
	}

	return &c.disks[idx]
}

// MasterDisk returns the master disk.
func (c *IdeChnl) MasterDisk() *Disk {
	return c.Disk(0)
}

// SlaveDisk returns the slave disk.
func (c *IdeChnl) SlaveDisk() *Disk {
	return c.Disk(1)
}

// Lock returns the channel mutex.
func (c *IdeChnl) Lock() *sync.Mutex {
	return &c.mtx
}

// setType assigns the channel type and its base I/O port.
func (c *IdeChnl) setType(typ ChnlType) {
	c.typ = typ
	switch typ {
	case ChnlPrimary:
		c.basePort = primaryBasePort
	case ChnlSecondary:
		c.basePort = secondaryBasePort
	default:
		kfmt.Panicf("ide", "the system only supports two IDE channels")
	}
}

// needToWaitForIntr marks whether the channel expects an interrupt.
func (c *IdeChnl) needToWaitForIntr(wait bool) {
	c.waitingIntr = wait
}

// IsWaitingForIntr reports whether a command is outstanding.
func (c *IdeChnl) IsWaitingForIntr() bool {
	return c.waitingIntr
}

// Block parks the calling thread until the disk finishes its operation.
// It is called after a command has been submitted to the disk.
func (c *IdeChnl) Block() {
	c.diskDone.Decrease()
}

// Unblock wakes the thread waiting for the disk. The interrupt handler
// calls it when the disk has finished.
func (c *IdeChnl) Unblock() {
	c.diskDone.Increase()
}

func (c *IdeChnl) dataPort() uint16      { return c.basePort + portDataOff }
func (c *IdeChnl) errorPort() uint16     { return c.basePort + portErrorOff }
func (c *IdeChnl) secCntPort() uint16    { return c.basePort + portSecCntOff }
func (c *IdeChnl) lbaLowPort() uint16    { return c.basePort + portLbaLowOff }
func (c *IdeChnl) lbaMidPort() uint16    { return c.basePort + portLbaMidOff }
func (c *IdeChnl) lbaHighPort() uint16   { return c.basePort + portLbaHighOff }
func (c *IdeChnl) devicePort() uint16    { return c.basePort + portDeviceOff }
func (c *IdeChnl) statusPort() uint16    { return c.basePort + portStatusOff }
func (c *IdeChnl) cmdPort() uint16       { return c.basePort + portCmdOff }
func (c *IdeChnl) altStatusPort() uint16 { return c.basePort + portAltStatusOff }

var chnls [MaxChnlCount]IdeChnl

// Chnl returns one of the IDE channels.
func Chnl(idx int) *IdeChnl {
	if idx < 0 || idx >= MaxChnlCount {
		kfmt.Panicf("ide", "channel index %d is out of range", idx)
	}

	return &chnls[idx]
}

// ChnlCount returns the number of channels carrying attached disks.
func ChnlCount() int {
	count := (DiskCount() + MaxDiskCountPerChnl - 1) / MaxDiskCountPerChnl
	if count < 1 || count > MaxChnlCount {
		kfmt.Panicf("ide", "%d disks cannot be attached to two IDE channels", DiskCount())
	}

	return count
}

// DiskCount returns the number of hard disks the BIOS detected.
func DiskCount() int {
	count := int(hal.ReadU8(hal.BiosDiskCountAddr))
	if count == 0 {
		kfmt.Panicf("ide", "no disk is attached")
	}

	return count
}

// diskIntrHandler services a channel-completion interrupt: it wakes the
// waiting thread and reads the status register so the device deasserts
// the interrupt line.
func diskIntrHandler(vector uint32) {
	var chnl *IdeChnl
	switch vector {
	case irq.PrimaryIdeChnl:
		chnl = &chnls[0]
	case irq.SecondaryIdeChnl:
		chnl = &chnls[1]
	default:
		kfmt.Panicf("ide", "vector 0x%x is not an IDE interrupt", vector)
	}

	if chnl.IsWaitingForIntr() {
		chnl.needToWaitForIntr(false)
		// The channel is locked while a disk is manipulated, so the
		// interrupt can only belong to the last submitted command.
		chnl.Unblock()
		readByteFromPortFn(chnl.statusPort())
	}
}
