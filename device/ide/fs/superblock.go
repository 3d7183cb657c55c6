package fs

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs/fspath"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/bitmap"
)

const (
	// superBlockSign is the magic number marking a formatted partition.
	superBlockSign = 0x11223344

	// SuperBlockStartLba is the sector of a partition holding the super
	// block, right behind the boot sector.
	SuperBlockStartLba = ide.BootSectorCount

	superBlockSectorCount = 1

	// maxFileCountPerPart bounds the index nodes of a partition.
	maxFileCountPerPart = 0x1000

	// bitsPerSector is the number of allocation bits one bitmap sector
	// covers.
	bitsPerSector = ide.SectorSize * 8
)

// SuperBlock maintains the layout of one formatted partition.
//
//	┌─────────────┬─────────────┬──────────────┬───────────────────┬─────────────┬────────┐
//	│ Boot Sector │ Super Block │ Block Bitmap │ Index Node Bitmap │ Index Nodes │ Blocks │
//	└─────────────┴─────────────┴──────────────┴───────────────────┴─────────────┴────────┘
type SuperBlock struct {
	Sign uint32

	PartStartLba    uint32
	PartSectorCount uint32
	PartInodeCount  uint32

	BlockBitmapStartLba    uint32
	BlockBitmapSectorCount uint32

	InodeBitmapStartLba    uint32
	InodeBitmapSectorCount uint32

	InodesStartLba    uint32
	InodesSectorCount uint32

	DataStartLba uint32
	RootInodeIdx uint32
}

// IsSignValid reports whether the partition has been formatted.
func (s *SuperBlock) IsSignValid() bool {
	return s.Sign == superBlockSign
}

func (s *SuperBlock) encode(buf []byte) {
	fields := [...]uint32{
		s.Sign, s.PartStartLba, s.PartSectorCount, s.PartInodeCount,
		s.BlockBitmapStartLba, s.BlockBitmapSectorCount,
		s.InodeBitmapStartLba, s.InodeBitmapSectorCount,
		s.InodesStartLba, s.InodesSectorCount,
		s.DataStartLba, s.RootInodeIdx,
	}
	for i, f := range fields {
		putU32(buf[i*4:], f)
	}
}

func (s *SuperBlock) decode(buf []byte) {
	fields := [...]*uint32{
		&s.Sign, &s.PartStartLba, &s.PartSectorCount, &s.PartInodeCount,
		&s.BlockBitmapStartLba, &s.BlockBitmapSectorCount,
		&s.InodeBitmapStartLba, &s.InodeBitmapSectorCount,
		&s.InodesStartLba, &s.InodesSectorCount,
		&s.DataStartLba, &s.RootInodeIdx,
	}
	for i, f := range fields {
		*f = getU32(buf[i*4:])
	}
}

// calcBlockBitmapSectors sizes the block bitmap. The bitmap itself
// consumes sectors that can then not hold data, so a one-pass
// approximation is used: it may waste a sector on exactly sized
// partitions but stays read-compatible.
func calcBlockBitmapSectors(freeSectorCount uint32) (sectorCount, bitLen uint32) {
	bitmapSectors := roundUpDiv(freeSectorCount, bitsPerSector)
	bitLen = freeSectorCount - bitmapSectors
	return roundUpDiv(bitLen, bitsPerSector), bitLen
}

func roundUpDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// FormatPart creates a file system on a partition: the super block, the
// two bitmaps, the index node area and the root directory.
func FormatPart(part *ide.Part) {
	if maxFileCountPerPart%bitsPerSector != 0 {
		kfmt.Panicf("fs", "the node count must fill whole bitmap sectors")
	}

	inodeBitmapSectors := uint32(maxFileCountPerPart / bitsPerSector)
	inodesSectors := roundUpDiv(maxFileCountPerPart*inodeSize, ide.SectorSize)
	usedSectors := ide.BootSectorCount + superBlockSectorCount + inodeBitmapSectors + inodesSectors
	freeSectors := part.SectorCount() - usedSectors
	blockBitmapSectors, blockBitmapBitLen := calcBlockBitmapSectors(freeSectors)

	sb := SuperBlock{
		Sign:            superBlockSign,
		PartStartLba:    part.StartLba(),
		PartSectorCount: part.SectorCount(),
		PartInodeCount:  maxFileCountPerPart,
		RootInodeIdx:    RootInodeIdx,
	}
	sb.BlockBitmapSectorCount = blockBitmapSectors
	sb.BlockBitmapStartLba = sb.PartStartLba + SuperBlockStartLba + superBlockSectorCount
	sb.InodeBitmapSectorCount = inodeBitmapSectors
	sb.InodeBitmapStartLba = sb.BlockBitmapStartLba + blockBitmapSectors
	sb.InodesSectorCount = inodesSectors
	sb.InodesStartLba = sb.InodeBitmapStartLba + inodeBitmapSectors
	sb.DataStartLba = sb.InodesStartLba + inodesSectors

	disk := part.Disk()
	writeSuperBlock(disk, &sb)
	writeBlockBitmap(disk, &sb, blockBitmapBitLen)
	writeNodeBitmap(disk, &sb)
	writeRootDirNode(disk, &sb)
	writeRootDirEntries(disk, &sb)
}

func writeSuperBlock(disk *ide.Disk, sb *SuperBlock) {
	var sector [ide.SectorSize]byte
	sb.encode(sector[:])
	disk.WriteSectors(sb.PartStartLba+SuperBlockStartLba, sector[:], superBlockSectorCount)
}

func writeBlockBitmap(disk *ide.Disk, sb *SuperBlock, bitLen uint32) {
	buf := make([]byte, sb.BlockBitmapSectorCount*ide.SectorSize)
	bm := bitmap.New(buf, true)
	// The first block belongs to the root directory. The padding bits
	// behind the last real block must never be handed out, so they are
	// marked allocated up front.
	bm.ForceAlloc(RootInodeIdx, 1)
	bm.ForceAlloc(bitLen, bm.Capacity()-bitLen)
	disk.WriteSectors(sb.BlockBitmapStartLba, buf, sb.BlockBitmapSectorCount)
}

func writeNodeBitmap(disk *ide.Disk, sb *SuperBlock) {
	buf := make([]byte, sb.InodeBitmapSectorCount*ide.SectorSize)
	bm := bitmap.New(buf, true)
	// The bit of the root directory's node is occupied.
	bm.ForceAlloc(RootInodeIdx, 1)
	disk.WriteSectors(sb.InodeBitmapStartLba, buf, sb.InodeBitmapSectorCount)
}

func writeRootDirNode(disk *ide.Disk, sb *SuperBlock) {
	buf := make([]byte, sb.InodesSectorCount*ide.SectorSize)
	var root IdxNode
	root.Init()
	root.Idx = RootInodeIdx
	root.Size = MinEntryCount * dirEntrySize
	// The root directory's entries sit at the start of the data area.
	root.SetDirectLba(0, sb.DataStartLba)
	root.encode(buf[RootInodeIdx*inodeSize:])
	disk.WriteSectors(sb.InodesStartLba, buf, sb.InodesSectorCount)
}

func writeRootDirEntries(disk *ide.Disk, sb *SuperBlock) {
	var sector [ide.SectorSize]byte
	// The root directory is its own parent.
	curr := NewDirEntry(TypeDirectory, fspath.CurrDirName, RootInodeIdx)
	parent := NewDirEntry(TypeDirectory, fspath.ParentDirName, RootInodeIdx)
	curr.encode(sector[:])
	parent.encode(sector[dirEntrySize:])
	disk.WriteSectors(sb.DataStartLba, sector[:], 1)
}
