package ide

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
)

const (
	// SectorSize is the size of a sector in bytes.
	SectorSize = 512

	// PrimPartCount is the number of primary partitions per disk.
	PrimPartCount = 4
	// MaxLogicPartCount is the maximum supported number of logical
	// partitions per disk.
	MaxLogicPartCount = 8

	// MaxDiskSize is the maximum supported disk size.
	MaxDiskSize = 80 * mem.MB
	// MaxLba is the maximum logical block address.
	MaxLba = MaxDiskSize/SectorSize - 1

	// maxSectorCountPerAccess bounds one disk command. The count
	// register is one byte, where zero stands for 256 sectors.
	maxSectorCountPerAccess = 256
)

// Disk commands.
const (
	cmdRead     = 0x20
	cmdWrite    = 0x30
	cmdIdentify = 0xEC
)

// Status register bits.
const (
	statusErr   = 1 << 0
	statusDrq   = 1 << 3
	statusReady = 1 << 6
	statusBusy  = 1 << 7
)

var (
	// The port accessors are swapped by tests.
	readByteFromPortFn  = cpu.PortReadByte
	writeByteToPortFn   = cpu.PortWriteByte
	readWordsFromPortFn = cpu.PortReadWords
	writeWordsToPortFn  = cpu.PortWriteWords
)

// Disk is one disk under an IDE channel.
type Disk struct {
	name       string
	chnl       *IdeChnl
	idx        int
	primParts  [PrimPartCount]Part
	logicParts [MaxLogicPartCount]Part
}

// Name returns the disk name.
func (d *Disk) Name() string {
	return d.name
}

// Chnl returns the owning channel.
func (d *Disk) Chnl() *IdeChnl {
	return d.chnl
}

// IsMaster reports whether the disk is the channel master.
func (d *Disk) IsMaster() bool {
	return d.idx == 0
}

// PrimaryPart returns a primary partition.
func (d *Disk) PrimaryPart(idx int) *Part {
	if idx < 0 || idx >= PrimPartCount {
		kfmt.Panicf("ide", "primary partition %d is out of range", idx)
	}

	return &d.primParts[idx]
}

// LogicPart returns a logical partition.
func (d *Disk) LogicPart(idx int) *Part {
	if idx < 0 || idx >= MaxLogicPartCount {
		kfmt.Panicf("ide", "logical partition %d is out of range", idx)
	}

	return &d.logicParts[idx]
}

// attach puts the disk under a channel as its master or slave.
func (d *Disk) attach(chnl *IdeChnl, idx int) {
	d.chnl = chnl
	if idx < 0 || idx >= MaxDiskCountPerChnl {
		kfmt.Panicf("ide", "disk index %d is out of range", idx)
	}

	d.idx = idx
}

// sel selects the disk as the command target on its channel.
func (d *Disk) sel() {
	writeByteToPortFn(d.chnl.devicePort(), deviceReg(d.IsMaster(), 0))
}

// deviceReg formats the device register: the two fixed bits, LBA mode,
// the master/slave bit and LBA bits 24-27.
func deviceReg(master bool, lba uint32) uint8 {
	val := uint8(0xA0) | 1<<6 | uint8((lba>>24)&0xF)
	if !master {
		val |= 1 << 4
	}

	return val
}

// setSectors programs a sector range for a read or write command.
func (d *Disk) setSectors(startLba, count uint32) {
	if count == 0 || count > maxSectorCountPerAccess {
		kfmt.Panicf("ide", "%d sectors cannot be transferred at once", count)
	}

	if startLba+count-1 > MaxLba {
		kfmt.Panicf("ide", "the sector range exceeds the maximum LBA")
	}

	chnl := d.chnl
	// A count of 256 is programmed as zero.
	writeByteToPortFn(chnl.secCntPort(), uint8(count%maxSectorCountPerAccess))
	writeByteToPortFn(chnl.lbaLowPort(), uint8(startLba))
	writeByteToPortFn(chnl.lbaMidPort(), uint8(startLba>>8))
	writeByteToPortFn(chnl.lbaHighPort(), uint8(startLba>>16))
	writeByteToPortFn(chnl.devicePort(), deviceReg(d.IsMaster(), startLba))
}

// sendCmd submits a command and marks the channel as expecting an
// interrupt.
func (d *Disk) sendCmd(cmd uint8) {
	d.chnl.needToWaitForIntr(true)
	writeByteToPortFn(d.chnl.cmdPort(), cmd)
}

// busyWait polls the status register until the device leaves the busy
// state, sleeping between checks, and reports whether data is ready.
// Waiting is capped at 30 seconds.
func (d *Disk) busyWait() bool {
	const (
		maxWaitMs = 30 * 1000
		sleepMs   = 10
	)

	statusPort := d.chnl.statusPort()
	for waited := uint32(0); waited < maxWaitMs; waited += sleepMs {
		if readByteFromPortFn(statusPort)&statusBusy != 0 {
			task.Current().Sleep(sleepMs)
			continue
		}

		return readByteFromPortFn(statusPort)&statusDrq != 0
	}

	return false
}

func (d *Disk) readWords(buf []byte, wordCount uint32) {
	readWordsFromPortFn(d.chnl.dataPort(), buf, wordCount)
}

func (d *Disk) writeWords(data []byte, wordCount uint32) {
	writeWordsToPortFn(d.chnl.dataPort(), data, wordCount)
}

// ReadSectors reads count sectors starting at startLba into buf.
//
// The channel is locked for the whole transfer. After each command the
// thread blocks on the channel until the completion interrupt arrives.
func (d *Disk) ReadSectors(startLba uint32, buf []byte, count uint32) {
	if count == 0 || uint32(len(buf)) < count*SectorSize {
		kfmt.Panicf("ide", "the read buffer cannot hold %d sectors", count)
	}

	chnl := d.chnl
	chnl.Lock().Lock()
	defer chnl.Lock().Unlock()

	d.sel()
	read := uint32(0)
	for read < count {
		curr := count - read
		if curr > maxSectorCountPerAccess {
			curr = maxSectorCountPerAccess
		}

		d.setSectors(startLba+read, curr)
		d.sendCmd(cmdRead)
		// The disk starts working once it receives the command; the
		// channel blocks until the completion interrupt wakes it.
		chnl.Block()
		if !d.busyWait() {
			kfmt.Panicf("ide", "failed to read the disk '%s', LBA %d", d.name, startLba+read)
		}

		d.readWords(buf[read*SectorSize:], curr*SectorSize/2)
		read += curr
	}
}

// WriteSectors writes count sectors starting at startLba from data.
//
// Unlike reading, the thread blocks after the data burst: the device
// raises its interrupt once it has drained the words.
func (d *Disk) WriteSectors(startLba uint32, data []byte, count uint32) {
	if count == 0 || uint32(len(data)) < count*SectorSize {
		kfmt.Panicf("ide", "the write buffer does not hold %d sectors", count)
	}

	chnl := d.chnl
	chnl.Lock().Lock()
	defer chnl.Lock().Unlock()

	d.sel()
	written := uint32(0)
	for written < count {
		curr := count - written
		if curr > maxSectorCountPerAccess {
			curr = maxSectorCountPerAccess
		}

		d.setSectors(startLba+written, curr)
		d.sendCmd(cmdWrite)
		if !d.busyWait() {
			kfmt.Panicf("ide", "failed to write the disk '%s', LBA %d", d.name, startLba+written)
		}

		d.writeWords(data[written*SectorSize:], curr*SectorSize/2)
		chnl.Block()
		written += curr
	}
}

// Info is the disk identification data.
type Info struct {
	Serial      string
	Model       string
	SectorCount uint32
}

// parseInfo decodes an identify block. The strings arrive as words with
// the two characters of every pair swapped.
func parseInfo(buf []byte) Info {
	const (
		serialPos = 10 * 2
		serialLen = 20
		modelPos  = 27 * 2
		modelLen  = 40
		secCntPos = 60 * 2
	)

	return Info{
		Serial:      swapBytePairs(buf[serialPos : serialPos+serialLen]),
		Model:       swapBytePairs(buf[modelPos : modelPos+modelLen]),
		SectorCount: uint32(buf[secCntPos]) | uint32(buf[secCntPos+1])<<8 | uint32(buf[secCntPos+2])<<16 | uint32(buf[secCntPos+3])<<24,
	}
}

func swapBytePairs(src []byte) string {
	out := make([]byte, len(src))
	for i := 0; i+1 < len(src); i += 2 {
		out[i], out[i+1] = src[i+1], src[i]
	}

	end := len(out)
	for end > 0 && (out[end-1] == 0 || out[end-1] == ' ') {
		end--
	}

	return string(out[:end])
}

// GetInfo identifies the disk.
func (d *Disk) GetInfo() Info {
	chnl := d.chnl
	chnl.Lock().Lock()
	defer chnl.Lock().Unlock()

	d.sel()
	d.sendCmd(cmdIdentify)
	chnl.Block()
	if !d.busyWait() {
		kfmt.Panicf("ide", "failed to identify the disk '%s'", d.name)
	}

	var buf [SectorSize]byte
	d.readWords(buf[:], SectorSize/2)
	return parseInfo(buf[:])
}
