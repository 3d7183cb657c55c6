// Package fs implements the on-disk file system: the super block, index
// nodes with direct and single-indirect blocks, hierarchical directories
// and the open-file table.
package fs

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

// NPos marks an invalid index.
const NPos = ^uint32(0)

const (
	// DirectBlockCount is the number of direct blocks in an index node.
	DirectBlockCount = 12

	// indirectSectorCount is the number of blocks the single indirect
	// block table can list; the table itself occupies one sector.
	indirectSectorCount = ide.SectorSize / 4

	// SectorCountPerInode is the total number of data blocks an index
	// node can address.
	SectorCountPerInode = DirectBlockCount + indirectSectorCount

	// inodeSize is the on-disk size of an index node: index, size and
	// open count words, the write flag byte, twelve direct addresses
	// and the indirect table address.
	inodeSize = 4 + 4 + 4 + 1 + DirectBlockCount*4 + 4

	// RootInodeIdx is the index of the root directory's index node.
	RootInodeIdx = 0
)

// IdxNode is an index node: it stores the size and the disk block
// locations of a file or directory. Index nodes do not record their own
// type; directory entries do.
type IdxNode struct {
	// tag links the node into the partition's open-node list.
	tag taglist.Tag

	// Idx is the node's index in the partition's node area.
	Idx uint32

	// Size is the file size, or for directories the total size of all
	// entries.
	Size uint32

	// OpenTimes counts how often the node is currently open. It exists
	// only in memory.
	OpenTimes uint32

	// WriteDeny is set while a writer has the file open. It exists only
	// in memory.
	WriteDeny bool

	directLbas  [DirectBlockCount]uint32
	indirectLba uint32
}

// NodeByTag returns the index node owning a tag.
func NodeByTag(tag *taglist.Tag) *IdxNode {
	return tag.Owner().(*IdxNode)
}

// Init resets the node to an unused state.
func (n *IdxNode) Init() {
	n.tag.Init(n)
	n.Idx = NPos
	n.Size = 0
	n.OpenTimes = 0
	n.WriteDeny = false
	n.directLbas = [DirectBlockCount]uint32{}
	n.indirectLba = 0
}

// IsOpen reports whether any task holds the node open.
func (n *IdxNode) IsOpen() bool {
	return n.OpenTimes != 0
}

// DirectLba returns the address of a direct block, or 0 if unused.
func (n *IdxNode) DirectLba(idx uint32) uint32 {
	if idx >= DirectBlockCount {
		kfmt.Panicf("fs", "direct block %d is out of range", idx)
	}

	return n.directLbas[idx]
}

// SetDirectLba assigns a direct block address.
func (n *IdxNode) SetDirectLba(idx, lba uint32) {
	if idx >= DirectBlockCount {
		kfmt.Panicf("fs", "direct block %d is out of range", idx)
	}

	n.directLbas[idx] = lba
}

// IndirectTabLba returns the address of the single indirect block table,
// or 0 if the node has none.
func (n *IdxNode) IndirectTabLba() uint32 {
	return n.indirectLba
}

// SetIndirectTabLba assigns the single indirect block table address.
func (n *IdxNode) SetIndirectTabLba(lba uint32) {
	n.indirectLba = lba
}

// Close drops one reference. When nobody holds the node open any more it
// leaves the open-node list.
func (n *IdxNode) Close() {
	guard := irq.NewGuard()
	defer guard.Leave()

	if n.OpenTimes == 0 {
		kfmt.Panicf("fs", "index node %d is closed twice", n.Idx)
	}

	if n.OpenTimes--; n.OpenTimes == 0 {
		n.tag.Detach()
	}
}

// encode serializes the node into its on-disk form. The slots of the open
// count and write flag are written as zero and ignored when read back.
func (n *IdxNode) encode(buf []byte) {
	putU32(buf[0:], n.Idx)
	putU32(buf[4:], n.Size)
	putU32(buf[8:], 0)
	buf[12] = 0
	for i := 0; i != DirectBlockCount; i++ {
		putU32(buf[13+i*4:], n.directLbas[i])
	}

	putU32(buf[13+DirectBlockCount*4:], n.indirectLba)
}

// decode fills the in-memory node from its on-disk form.
func (n *IdxNode) decode(buf []byte) {
	n.Idx = getU32(buf[0:])
	n.Size = getU32(buf[4:])
	n.OpenTimes = 0
	n.WriteDeny = false
	for i := 0; i != DirectBlockCount; i++ {
		n.directLbas[i] = getU32(buf[13+i*4:])
	}

	n.indirectLba = getU32(buf[13+DirectBlockCount*4:])
}

// nodePos locates an index node inside the node area of a partition.
type nodePos struct {
	// lba is the first sector holding the node.
	lba uint32

	// offsetInSector is the node's byte offset inside that sector.
	offsetInSector uint32

	// acrossSectors is set when the node spans into the next sector.
	acrossSectors bool
}

func (p *FilePart) nodePosOf(idx uint32) nodePos {
	if idx >= maxFileCountPerPart {
		kfmt.Panicf("fs", "index node %d is out of range", idx)
	}

	offset := idx * inodeSize
	pos := nodePos{
		lba:            p.superBlock.InodesStartLba + offset/ide.SectorSize,
		offsetInSector: offset % ide.SectorSize,
	}
	pos.acrossSectors = ide.SectorSize-pos.offsetInSector < inodeSize
	return pos
}

func putU32(buf []byte, val uint32) {
	buf[0] = byte(val)
	buf[1] = byte(val >> 8)
	buf[2] = byte(val >> 16)
	buf[3] = byte(val >> 24)
}

func getU32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}
