package ide

import (
	"fmt"
	"io"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

const (
	// BootDiskIdx is the global index of the boot disk; it is never
	// scanned for partitions.
	BootDiskIdx = 0

	// BootSectorCount is the number of boot sectors at the start of a
	// partition.
	BootSectorCount = 1

	// Partition table types.
	partTypeEmpty = 0x00
	partTypeExt   = 0x05

	partTabOffset = 446
	bootRecordSig = 0xAA55
	sigOffset     = 510
	partEntrySize = 16
)

// Part is one partition of a disk.
type Part struct {
	tag         taglist.Tag
	startLba    uint32
	sectorCount uint32
	name        string
	disk        *Disk
}

// PartByTag returns the partition owning a tag.
func PartByTag(tag *taglist.Tag) *Part {
	return tag.Owner().(*Part)
}

// Name returns the partition name.
func (p *Part) Name() string {
	return p.name
}

// StartLba returns the first sector of the partition.
func (p *Part) StartLba() uint32 {
	return p.startLba
}

// SectorCount returns the number of sectors in the partition.
func (p *Part) SectorCount() uint32 {
	return p.sectorCount
}

// Disk returns the disk carrying the partition.
func (p *Part) Disk() *Disk {
	if p.disk == nil {
		kfmt.Panicf("ide", "the partition is not attached to a disk")
	}

	return p.disk
}

// IsValid reports whether the partition exists on a disk.
func (p *Part) IsValid() bool {
	return p.disk != nil && p.sectorCount > 0
}

// Tag returns the tag linking the partition into the partition list.
func (p *Part) Tag() *taglist.Tag {
	return &p.tag
}

var diskParts taglist.List

// DiskParts returns the list of every partition found on all disks.
func DiskParts() *taglist.List {
	return &diskParts
}

// partTabEntry is one of the four 16-byte entries in a boot record.
type partTabEntry struct {
	typ         uint8
	startLba    uint32
	sectorCount uint32
}

func parsePartTab(sector []byte) [PrimPartCount]partTabEntry {
	if sig := uint16(sector[sigOffset]) | uint16(sector[sigOffset+1])<<8; sig != bootRecordSig {
		kfmt.Panicf("ide", "the boot record signature 0x%x is invalid", sig)
	}

	var entries [PrimPartCount]partTabEntry
	for i := 0; i != PrimPartCount; i++ {
		base := partTabOffset + i*partEntrySize
		entries[i] = partTabEntry{
			typ:         sector[base+4],
			startLba:    uint32(sector[base+8]) | uint32(sector[base+9])<<8 | uint32(sector[base+10])<<16 | uint32(sector[base+11])<<24,
			sectorCount: uint32(sector[base+12]) | uint32(sector[base+13])<<8 | uint32(sector[base+14])<<16 | uint32(sector[base+15])<<24,
		}
	}

	return entries
}

// partScan tracks the state of one disk's partition scan.
type partScan struct {
	// extLbaBase is the start of the extended partition; logical boot
	// records address their children relative to it.
	extLbaBase uint32

	primIdx, logicIdx int
}

// ScanParts reads the master boot record and recursively descends
// extended partitions, filling the primary and logical partition tables.
func (d *Disk) ScanParts() {
	scan := partScan{}
	d.scanParts(&scan, 0)
}

func (d *Disk) scanParts(scan *partScan, lba uint32) {
	if scan.logicIdx >= MaxLogicPartCount {
		return
	}

	var sector [SectorSize]byte
	d.ReadSectors(lba, sector[:], 1)
	for _, entry := range parsePartTab(sector[:]) {
		switch {
		case entry.typ == partTypeExt:
			if scan.extLbaBase != 0 {
				// Logical boot records are relative to the extended
				// partition itself.
				d.scanParts(scan, scan.extLbaBase+entry.startLba)
			} else {
				scan.extLbaBase = entry.startLba
				d.scanParts(scan, entry.startLba)
			}
		case entry.typ != partTypeEmpty:
			var part *Part
			var name string
			if scan.extLbaBase != 0 {
				if scan.logicIdx >= MaxLogicPartCount {
					return
				}

				part = &d.logicParts[scan.logicIdx]
				// Logical partitions are numbered behind the four
				// primary slots: sdX5, sdX6 and so on.
				name = fmt.Sprintf("%s%d", d.name, scan.logicIdx+1+PrimPartCount)
				scan.logicIdx++
			} else {
				part = &d.primParts[scan.primIdx]
				name = fmt.Sprintf("%s%d", d.name, scan.primIdx+1)
				scan.primIdx++
			}

			part.startLba = lba + entry.startLba
			part.sectorCount = entry.sectorCount
			part.disk = d
			part.name = name
			part.tag.Init(part)
			diskParts.PushBack(&part.tag)
		}
	}
}

var inited bool

// IsInited reports whether the disks have been initialized.
func IsInited() bool {
	return inited
}

// Driver is the IDE subsystem driver.
type Driver struct{}

// DriverName returns the driver name.
func (Driver) DriverName() string {
	return "ide"
}

// DriverInit configures the channels, attaches the detected disks, scans
// their partitions and reports what it found.
func (Driver) DriverInit(w io.Writer) *kernel.Error {
	if !vmm.IsInited() {
		kfmt.Panicf("ide", "memory must be initialized before disks")
	}

	if !cpu.InterruptsEnabled() {
		kfmt.Panicf("ide", "disk bring-up requires interrupts to be enabled")
	}

	diskParts.Init()
	kfmt.Fprintf(w, "[ide] initializing disks\n")
	diskCount := DiskCount()
	initedDisks := 0
	for chnlIdx := 0; chnlIdx != ChnlCount(); chnlIdx++ {
		chnl := &chnls[chnlIdx]
		chnl.name = fmt.Sprintf("ide%d", chnlIdx)
		chnl.diskDone.Init(0, 1)
		switch chnlIdx {
		case 0:
			chnl.setType(ChnlPrimary)
			chnl.intrNum = irq.PrimaryIdeChnl
		case 1:
			chnl.setType(ChnlSecondary)
			chnl.intrNum = irq.SecondaryIdeChnl
		}

		irq.Register(chnl.intrNum, chnl.name, diskIntrHandler)
		for diskIdx := 0; diskIdx != MaxDiskCountPerChnl && initedDisks != diskCount; diskIdx, initedDisks = diskIdx+1, initedDisks+1 {
			disk := chnl.Disk(diskIdx)
			disk.name = fmt.Sprintf("sd%c", 'a'+chnlIdx*MaxDiskCountPerChnl+diskIdx)
			disk.attach(chnl, diskIdx)
			if chnlIdx*MaxDiskCountPerChnl+diskIdx != BootDiskIdx {
				disk.ScanParts()
			}

			printDiskInfo(w, disk)
		}
	}

	inited = true
	kfmt.Fprintf(w, "[ide] disks have been initialized\n")
	return nil
}

func printDiskInfo(w io.Writer, d *Disk) {
	info := d.GetInfo()
	kfmt.Fprintf(w, "\t%s: serial %s, model %s, %d sectors, %d MB\n",
		d.name, info.Serial, info.Model, info.SectorCount, info.SectorCount*SectorSize/(1024*1024))
	for i := 0; i != PrimPartCount; i++ {
		if part := d.PrimaryPart(i); part.IsValid() {
			kfmt.Fprintf(w, "\t\tprimary part %s: start %d, %d sectors\n", part.Name(), part.StartLba(), part.SectorCount())
		}
	}

	for i := 0; i != MaxLogicPartCount; i++ {
		if part := d.LogicPart(i); part.IsValid() {
			kfmt.Fprintf(w, "\t\tlogic part %s: start %d, %d sectors\n", part.Name(), part.StartLba(), part.SectorCount())
		}
	}
}
