package fs

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs/fspath"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/bitmap"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

// FilePart is a partition carrying a mounted file system.
type FilePart struct {
	*ide.Part

	superBlock *SuperBlock

	// blockBitmap tracks the data blocks of the partition. A block is a
	// sector, the smallest allocation unit.
	blockBitmap bitmap.Bitmap

	// inodeBitmap tracks the fixed set of index nodes.
	inodeBitmap bitmap.Bitmap

	// openInodes caches every index node that is currently open.
	openInodes taglist.List
}

// Mount loads the super block and the bitmaps of a formatted partition.
func Mount(part *ide.Part) *FilePart {
	p := &FilePart{Part: part}
	p.loadSuperBlock()
	p.loadBlockBitmap()
	p.loadNodeBitmap()
	return p
}

func (p *FilePart) loadSuperBlock() {
	var sector [ide.SectorSize]byte
	p.Disk().ReadSectors(p.StartLba()+SuperBlockStartLba, sector[:], superBlockSectorCount)
	sb := &SuperBlock{}
	sb.decode(sector[:])
	if !sb.IsSignValid() {
		kfmt.Panicf("fs", "the partition '%s' has no valid file system", p.Name())
	}

	p.superBlock = sb
}

// SuperBlock returns the super block of the mounted partition.
func (p *FilePart) SuperBlock() *SuperBlock {
	if p.superBlock == nil {
		kfmt.Panicf("fs", "the partition '%s' is not mounted", p.Name())
	}

	return p.superBlock
}

func (p *FilePart) loadBlockBitmap() {
	sb := p.SuperBlock()
	bits := make([]byte, sb.BlockBitmapSectorCount*ide.SectorSize)
	p.Disk().ReadSectors(sb.BlockBitmapStartLba, bits, sb.BlockBitmapSectorCount)
	p.blockBitmap = bitmap.New(bits, false)
}

func (p *FilePart) loadNodeBitmap() {
	sb := p.SuperBlock()
	bits := make([]byte, sb.InodeBitmapSectorCount*ide.SectorSize)
	p.Disk().ReadSectors(sb.InodeBitmapStartLba, bits, sb.InodeBitmapSectorCount)
	p.inodeBitmap = bitmap.New(bits, false)
}

// allocNode reserves a free index node and returns its number, or NPos.
func (p *FilePart) allocNode() uint32 {
	idx := p.inodeBitmap.Alloc(1)
	if idx == bitmap.NPos {
		kfmt.Printf("[fs] the partition has no available index node\n")
		return NPos
	}

	return idx
}

func (p *FilePart) freeNode(idx uint32) {
	p.inodeBitmap.Free(idx, 1)
}

// allocBlock reserves a free data block and returns its sector address,
// or NPos.
func (p *FilePart) allocBlock() uint32 {
	idx := p.blockBitmap.Alloc(1)
	if idx == bitmap.NPos {
		kfmt.Printf("[fs] the partition has no available data block\n")
		return NPos
	}

	return idx + p.SuperBlock().DataStartLba
}

func (p *FilePart) freeBlock(lba uint32) {
	start := p.SuperBlock().DataStartLba
	if lba < start {
		kfmt.Panicf("fs", "sector %d is not a data block", lba)
	}

	p.blockBitmap.Free(lba-start, 1)
}

// syncNodeBitmap writes the bitmap sector containing a node's bit back to
// the partition.
func (p *FilePart) syncNodeBitmap(idx uint32) {
	p.syncBitmapSector(p.inodeBitmap, p.SuperBlock().InodeBitmapStartLba, idx)
}

// syncBlockBitmap writes the bitmap sector containing a block's bit back
// to the partition.
func (p *FilePart) syncBlockBitmap(lba uint32) {
	start := p.SuperBlock().DataStartLba
	if lba < start {
		kfmt.Panicf("fs", "sector %d is not a data block", lba)
	}

	p.syncBitmapSector(p.blockBitmap, p.SuperBlock().BlockBitmapStartLba, lba-start)
}

func (p *FilePart) syncBitmapSector(bm bitmap.Bitmap, startLba, bitIdx uint32) {
	sectorOff := bitIdx / bitsPerSector
	byteOff := sectorOff * ide.SectorSize
	p.Disk().WriteSectors(startLba+sectorOff, bm.Bits()[byteOff:byteOff+ide.SectorSize], 1)
}

// OpenNode returns the in-memory index node with the given number,
// loading it from the partition unless it is already open.
func (p *FilePart) OpenNode(idx uint32) *IdxNode {
	if idx >= maxFileCountPerPart {
		kfmt.Panicf("fs", "index node %d is out of range", idx)
	}

	if tag := p.openInodes.Find(func(tag *taglist.Tag) bool {
		return NodeByTag(tag).Idx == idx
	}); tag != nil {
		node := NodeByTag(tag)
		node.OpenTimes++
		return node
	}

	node := &IdxNode{}
	node.Init()

	pos := p.nodePosOf(idx)
	buf := p.readNodeSectors(pos)
	node.decode(buf[pos.offsetInSector:])

	node.OpenTimes = 1
	p.openInodes.PushBack(&node.tag)
	return node
}

func (p *FilePart) readNodeSectors(pos nodePos) []byte {
	count := uint32(1)
	if pos.acrossSectors {
		count = 2
	}

	buf := make([]byte, count*ide.SectorSize)
	p.Disk().ReadSectors(pos.lba, buf, count)
	return buf
}

// syncNode writes an index node to the partition. The in-memory open
// count and write flag are not persisted.
func (p *FilePart) syncNode(node *IdxNode) {
	pos := p.nodePosOf(node.Idx)
	buf := p.readNodeSectors(pos)
	node.encode(buf[pos.offsetInSector:])
	p.Disk().WriteSectors(pos.lba, buf, uint32(len(buf))/ide.SectorSize)
}

// zeroFillNode clears the on-disk slot of a deleted index node.
func (p *FilePart) zeroFillNode(idx uint32) {
	pos := p.nodePosOf(idx)
	buf := p.readNodeSectors(pos)
	for i := uint32(0); i != inodeSize; i++ {
		buf[pos.offsetInSector+i] = 0
	}

	p.Disk().WriteSectors(pos.lba, buf, uint32(len(buf))/ide.SectorSize)
}

// loadNodeLbas assembles the full block address array of a node: the
// twelve direct blocks followed by the entries of the indirect table.
func (p *FilePart) loadNodeLbas(node *IdxNode) [SectorCountPerInode]uint32 {
	var lbas [SectorCountPerInode]uint32
	for i := uint32(0); i != DirectBlockCount; i++ {
		lbas[i] = node.DirectLba(i)
	}

	if tab := node.IndirectTabLba(); tab != 0 {
		var sector [ide.SectorSize]byte
		p.Disk().ReadSectors(tab, sector[:], 1)
		for i := 0; i != indirectSectorCount; i++ {
			lbas[DirectBlockCount+i] = getU32(sector[i*4:])
		}
	}

	return lbas
}

// writeIndirectTab persists the indirect part of a block address array.
func (p *FilePart) writeIndirectTab(node *IdxNode, lbas *[SectorCountPerInode]uint32) {
	var sector [ide.SectorSize]byte
	for i := 0; i != indirectSectorCount; i++ {
		putU32(sector[i*4:], lbas[DirectBlockCount+i])
	}

	p.Disk().WriteSectors(node.IndirectTabLba(), sector[:], 1)
}

// deleteNode releases every block of a node, its indirect table and the
// node itself, and clears its on-disk slot.
func (p *FilePart) deleteNode(idx uint32) {
	node := p.OpenNode(idx)
	for _, lba := range p.loadNodeLbas(node) {
		if lba != 0 {
			p.freeBlock(lba)
			p.syncBlockBitmap(lba)
		}
	}

	if tab := node.IndirectTabLba(); tab != 0 {
		p.freeBlock(tab)
		p.syncBlockBitmap(tab)
	}

	p.freeNode(idx)
	p.syncNodeBitmap(idx)
	p.zeroFillNode(idx)
	node.Close()
}

// OpenDirByIdx opens the directory stored in an index node.
func (p *FilePart) OpenDirByIdx(inodeIdx uint32) *Directory {
	return &Directory{inode: p.OpenNode(inodeIdx)}
}

// OpenRootDir opens the root directory of the partition as the shared
// root handle. The new node is opened before the previous one is closed
// because it may belong to another partition.
func (p *FilePart) OpenRootDir() {
	old := rootDir.inode
	rootDir.pos = 0
	rootDir.inode = p.OpenNode(p.SuperBlock().RootInodeIdx)
	if old != nil {
		old.Close()
	}
}

// searchDirEntry scans every block of a directory for an entry name.
func (p *FilePart) searchDirEntry(dir *Directory, name string) (DirEntry, bool) {
	if name == "" || len(name) > fspath.MaxNameLen {
		kfmt.Panicf("fs", "'%s' is not a valid entry name", name)
	}

	var sector [ide.SectorSize]byte
	for _, lba := range p.loadNodeLbas(dir.Node()) {
		if lba == 0 {
			continue
		}

		p.Disk().ReadSectors(lba, sector[:], 1)
		for _, entry := range decodeDirEntries(sector[:]) {
			if entry.Type != TypeUnknown && entry.Name == name {
				return entry, true
			}
		}
	}

	return DirEntry{}, false
}

// pathSearchRecord tracks one path walk.
type pathSearchRecord struct {
	// searched is the prefix of the path that was found.
	searched string

	// parent is the directory of the last found component. It is open;
	// the caller must close it.
	parent *Directory

	// typ is the type of the last found component.
	typ FileType

	// inodeIdx is the index node of the last found component.
	inodeIdx uint32
}

// searchPath walks an absolute path component by component from the root
// directory and reports whether the full path was found.
func (p *FilePart) searchPath(path string) (pathSearchRecord, bool) {
	if !fspath.IsAbsolute(path) {
		kfmt.Panicf("fs", "'%s' is not an absolute path", path)
	}

	record := pathSearchRecord{inodeIdx: NPos}
	if fspath.IsRootDir(path) {
		record.inodeIdx = RootInodeIdx
		record.parent = &rootDir
		record.typ = TypeDirectory
		return record, true
	}

	record.typ = TypeUnknown
	record.parent = &rootDir
	parentInodeIdx := uint32(RootInodeIdx)

	fspath.Visit(path, func(_, name string) bool {
		record.searched = fspath.Join(record.searched, name)
		entry, found := p.searchDirEntry(record.parent, name)
		if !found {
			record.typ = TypeUnknown
			return false
		}

		switch entry.Type {
		case TypeDirectory:
			parentInodeIdx = record.parent.NodeIdx()
			record.typ = TypeDirectory
			record.inodeIdx = entry.InodeIdx
			// The found directory becomes the parent for the next
			// component.
			record.parent.Close()
			record.parent = p.OpenDirByIdx(entry.InodeIdx)
			return true
		case TypeRegular:
			record.typ = TypeRegular
			record.inodeIdx = entry.InodeIdx
			return false
		default:
			kfmt.Panicf("fs", "entry '%s' has an unknown type", name)
			return false
		}
	})

	// A walk that stopped at a regular file before the last component
	// did not find the full path.
	if record.typ == TypeUnknown || fspath.Depth(path) != fspath.Depth(record.searched) {
		return record, false
	}

	if record.typ == TypeDirectory {
		// For a path like "/a/b/c" naming a directory, the last opened
		// parent is "c" itself; reopen its direct parent "b".
		record.parent.Close()
		record.parent = p.OpenDirByIdx(parentInodeIdx)
	}

	return record, true
}

// ReadDir returns the next entry of a directory, or false when every
// entry has been enumerated.
func (p *FilePart) ReadDir(dir *Directory) (DirEntry, bool) {
	if dir.pos >= dir.Node().Size {
		return DirEntry{}, false
	}

	var sector [ide.SectorSize]byte
	pos := uint32(0)
	for _, lba := range p.loadNodeLbas(dir.Node()) {
		if lba == 0 {
			continue
		}

		p.Disk().ReadSectors(lba, sector[:], 1)
		for _, entry := range decodeDirEntries(sector[:]) {
			if entry.Type == TypeUnknown {
				continue
			}

			// Keep moving until the current enumeration offset is
			// reached.
			if pos < dir.pos {
				pos += dirEntrySize
				continue
			}

			dir.pos += dirEntrySize
			return entry, true
		}
	}

	return DirEntry{}, false
}

// OpenDir opens the directory at an absolute path.
func (p *FilePart) OpenDir(path string) *Directory {
	if fspath.IsRootDir(path) {
		return &rootDir
	}

	record, found := p.searchPath(path)
	defer record.parent.Close()
	if !found {
		kfmt.Printf("[fs] the path '%s' does not exist\n", record.searched)
		return nil
	}

	if record.typ == TypeRegular {
		kfmt.Printf("[fs] the path '%s' is a file\n", record.searched)
		return nil
	}

	return p.OpenDirByIdx(record.inodeIdx)
}

// syncDirEntry stores a new entry into a directory, allocating a fresh
// block when every present block is fully populated.
func (p *FilePart) syncDirEntry(dir *Directory, entry DirEntry) bool {
	node := dir.Node()
	if node.Size < MinEntryCount*dirEntrySize || node.Size%dirEntrySize != 0 {
		kfmt.Panicf("fs", "directory node %d has a corrupt size %d", node.Idx, node.Size)
	}

	var sector [ide.SectorSize]byte
	lbas := p.loadNodeLbas(node)
	for i := uint32(0); i != SectorCountPerInode; i++ {
		if lbas[i] == 0 {
			// Allocate a new block for the entry.
			newLba := p.allocBlock()
			if newLba == NPos {
				return false
			}

			lbas[i] = newLba
			p.syncBlockBitmap(newLba)
			if i < DirectBlockCount {
				node.SetDirectLba(i, newLba)
			} else {
				if node.IndirectTabLba() == 0 {
					// This is the first indirect block; the table
					// itself needs a block too.
					tabLba := p.allocBlock()
					if tabLba == NPos {
						p.freeBlock(newLba)
						p.syncBlockBitmap(newLba)
						return false
					}

					node.SetIndirectTabLba(tabLba)
					p.syncBlockBitmap(tabLba)
				}

				p.writeIndirectTab(node, &lbas)
			}

			for j := range sector {
				sector[j] = 0
			}

			entry.encode(sector[:])
			p.Disk().WriteSectors(newLba, sector[:], 1)
			node.Size += dirEntrySize
			return true
		}

		// Look for a free slot in an existing block.
		p.Disk().ReadSectors(lbas[i], sector[:], 1)
		for j := uint32(0); j != dirEntriesPerSector; j++ {
			if FileType(getU32(sector[j*dirEntrySize:])) == TypeUnknown {
				entry.encode(sector[j*dirEntrySize:])
				p.Disk().WriteSectors(lbas[i], sector[:], 1)
				node.Size += dirEntrySize
				return true
			}
		}
	}

	kfmt.Printf("[fs] the directory is full\n")
	return false
}

// deleteDirEntry removes the entry referring to an index node from a
// directory. When the removal leaves the directory with only its two
// mandatory entries and every live entry was in the entry's block, that
// block is released, together with the indirect table when it was the
// last block the table held.
func (p *FilePart) deleteDirEntry(dir *Directory, inodeIdx uint32) bool {
	node := dir.Node()
	if node.Size < MinEntryCount*dirEntrySize || node.Size%dirEntrySize != 0 {
		kfmt.Panicf("fs", "directory node %d has a corrupt size %d", node.Idx, node.Size)
	}

	var sector [ide.SectorSize]byte
	lbas := p.loadNodeLbas(node)
	for i := uint32(0); i != SectorCountPerInode; i++ {
		if lbas[i] == 0 {
			continue
		}

		p.Disk().ReadSectors(lbas[i], sector[:], 1)
		entries := decodeDirEntries(sector[:])
		foundSlot := -1
		entryCount := 0
		for j, entry := range entries {
			if entry.Type == TypeUnknown {
				continue
			}

			entryCount++
			if entry.Name != fspath.CurrDirName && entry.Name != fspath.ParentDirName && entry.InodeIdx == inodeIdx {
				foundSlot = j
			}
		}

		if foundSlot < 0 {
			continue
		}

		if entryCount == MinEntryCount+1 && node.Size == (MinEntryCount+1)*dirEntrySize {
			// Removing the entry drops the directory to its two
			// mandatory entries and every live entry lived in this
			// block; release the block itself.
			p.freeBlock(lbas[i])
			p.syncBlockBitmap(lbas[i])
			if i < DirectBlockCount {
				node.SetDirectLba(i, 0)
			} else {
				indirectBlocks := 0
				for j := DirectBlockCount; j != SectorCountPerInode; j++ {
					if lbas[j] != 0 {
						indirectBlocks++
					}
				}

				if indirectBlocks > 1 {
					lbas[i] = 0
					p.writeIndirectTab(node, &lbas)
				} else {
					// It was the last indirect block; the table goes
					// too.
					tab := node.IndirectTabLba()
					p.freeBlock(tab)
					p.syncBlockBitmap(tab)
					node.SetIndirectTabLba(0)
				}
			}
		} else {
			for k := uint32(0); k != dirEntrySize; k++ {
				sector[uint32(foundSlot)*dirEntrySize+k] = 0
			}

			p.Disk().WriteSectors(lbas[i], sector[:], 1)
		}

		node.Size -= dirEntrySize
		p.syncNode(node)
		return true
	}

	return false
}

// CreateDir creates the directory at an absolute path. The parent must
// exist and the last component must not.
func (p *FilePart) CreateDir(path string) bool {
	record, found := p.searchPath(path)
	defer record.parent.Close()
	name := fspath.FileName(record.searched)
	if found {
		kfmt.Printf("[fs] the file or directory '%s' already exists\n", path)
		return false
	}

	if fspath.Depth(path) != fspath.Depth(record.searched) {
		kfmt.Printf("[fs] the path '%s' does not exist\n", record.searched)
		return false
	}

	inodeIdx := p.allocNode()
	blockLba := p.allocBlock()
	if inodeIdx == NPos || blockLba == NPos {
		p.rollbackAlloc(inodeIdx, blockLba)
		return false
	}

	// Link the new directory into its parent.
	if !p.syncDirEntry(record.parent, NewDirEntry(TypeDirectory, name, inodeIdx)) {
		p.rollbackAlloc(inodeIdx, blockLba)
		return false
	}

	p.syncNode(record.parent.Node())

	// The fresh directory holds its two mandatory entries.
	var sector [ide.SectorSize]byte
	NewDirEntry(TypeDirectory, fspath.CurrDirName, inodeIdx).encode(sector[:])
	NewDirEntry(TypeDirectory, fspath.ParentDirName, record.parent.NodeIdx()).encode(sector[dirEntrySize:])
	p.Disk().WriteSectors(blockLba, sector[:], 1)
	p.syncBlockBitmap(blockLba)

	var node IdxNode
	node.Init()
	node.Idx = inodeIdx
	node.SetDirectLba(0, blockLba)
	node.Size = MinEntryCount * dirEntrySize
	p.syncNode(&node)
	p.syncNodeBitmap(inodeIdx)
	return true
}

func (p *FilePart) rollbackAlloc(inodeIdx, blockLba uint32) {
	if inodeIdx != NPos {
		p.freeNode(inodeIdx)
	}

	if blockLba != NPos {
		p.freeBlock(blockLba)
	}
}

// DeleteDir removes an empty, non-root directory from its parent.
func (p *FilePart) DeleteDir(parent *Directory, child *Directory) bool {
	inodeIdx := child.NodeIdx()
	if !p.deleteDirEntry(parent, inodeIdx) {
		return false
	}

	p.deleteNode(inodeIdx)
	return true
}

// DeleteFile removes the file at an absolute path. Directories, missing
// files and files that are currently open are rejected.
func (p *FilePart) DeleteFile(path string) bool {
	if fspath.IsDir(path) {
		kfmt.Printf("[fs] the path '%s' is not a file but a directory\n", path)
		return false
	}

	record, found := p.searchPath(path)
	defer record.parent.Close()
	if !found {
		kfmt.Printf("[fs] the file '%s' does not exist\n", path)
		return false
	}

	if record.typ == TypeDirectory {
		kfmt.Printf("[fs] the path '%s' is not a file but a directory\n", path)
		return false
	}

	if GetFileTab().Contains(record.inodeIdx) {
		kfmt.Printf("[fs] the file '%s' is in use\n", path)
		return false
	}

	p.deleteDirEntry(record.parent, record.inodeIdx)
	p.deleteNode(record.inodeIdx)
	return true
}

// openFileByIdx opens the file stored in an index node and returns a
// process-local descriptor. Opening for writing claims the node's write
// flag; a second writer is rejected.
func (p *FilePart) openFileByIdx(inodeIdx uint32, flags OpenMode) uint32 {
	tab := GetFileTab()
	desc := tab.FreeDesc()
	if desc == NPos {
		return NPos
	}

	node := p.OpenNode(inodeIdx)
	if flags.isWrite() {
		guard := irq.NewGuard()
		if node.WriteDeny {
			guard.Leave()
			node.Close()
			kfmt.Printf("[fs] the file cannot be written now\n")
			return NPos
		}

		node.WriteDeny = true
		guard.Leave()
	}

	file := tab.File(desc)
	file.Clear()
	file.inode = node
	file.flags = flags
	return task.CurrentFileDescTab().SyncGlobal(desc)
}

// createFile creates a file in a directory, opens it and returns a
// process-local descriptor.
func (p *FilePart) createFile(dir *Directory, name string, flags OpenMode) uint32 {
	tab := GetFileTab()
	inodeIdx := p.allocNode()
	desc := tab.FreeDesc()
	if inodeIdx == NPos || desc == NPos {
		if inodeIdx != NPos {
			p.freeNode(inodeIdx)
		}

		return NPos
	}

	node := &IdxNode{}
	node.Init()
	node.Idx = inodeIdx
	if flags.isWrite() {
		node.WriteDeny = true
	}

	file := tab.File(desc)
	file.Clear()
	file.inode = node
	file.flags = flags

	if !p.syncDirEntry(dir, NewDirEntry(TypeRegular, name, inodeIdx)) {
		file.Clear()
		p.freeNode(inodeIdx)
		return NPos
	}

	p.syncNode(dir.Node())
	p.syncNode(node)
	p.syncNodeBitmap(inodeIdx)

	node.OpenTimes = 1
	p.openInodes.PushBack(&node.tag)
	return task.CurrentFileDescTab().SyncGlobal(desc)
}

// OpenFile opens or creates the file at an absolute path and returns a
// process-local descriptor, or NPos on failure.
func (p *FilePart) OpenFile(path string, flags OpenMode) uint32 {
	if fspath.IsDir(path) {
		kfmt.Printf("[fs] the path '%s' is not a file but a directory\n", path)
		return NPos
	}

	record, found := p.searchPath(path)
	defer record.parent.Close()

	switch {
	case record.typ == TypeDirectory:
		kfmt.Printf("[fs] the path '%s' is not a file but a directory\n", path)
		return NPos
	case fspath.Depth(path) != fspath.Depth(record.searched):
		kfmt.Printf("[fs] the path '%s' does not exist\n", record.searched)
		return NPos
	case !found && !flags.IsSet(CreateNew):
		kfmt.Printf("[fs] the file '%s' does not exist\n", path)
		return NPos
	case found && flags.IsSet(CreateNew):
		kfmt.Printf("[fs] the file '%s' already exists\n", path)
		return NPos
	}

	if found {
		return p.openFileByIdx(record.inodeIdx, flags)
	}

	return p.createFile(record.parent, fspath.FileName(path), flags)
}

// SeekFile moves the access offset of an open file and returns the new
// position. The result is clamped to the file size.
func (p *FilePart) SeekFile(file *File, offset int32, origin SeekOrigin) uint32 {
	size := file.Node().Size
	var pos int64
	switch origin {
	case SeekBegin:
		pos = int64(offset)
	case SeekCurr:
		pos = int64(file.pos) + int64(offset)
	case SeekEnd:
		pos = int64(size) + int64(offset)
	default:
		kfmt.Panicf("fs", "%d is not a seek origin", origin)
	}

	if pos < 0 {
		pos = 0
	}

	if pos > int64(size) {
		pos = int64(size)
	}

	file.pos = uint32(pos)
	return file.pos
}

// ReadFile reads up to len(buf) bytes from the access offset of an open
// file and returns the number of bytes read.
func (p *FilePart) ReadFile(file *File, buf []byte) uint32 {
	node := file.Node()
	size := uint32(len(buf))
	if left := node.Size - file.pos; size > left {
		size = left
	}

	if size == 0 {
		return 0
	}

	lbas := p.loadNodeLbas(node)
	var sector [ide.SectorSize]byte
	read := uint32(0)
	for read < size {
		sectorIdx := file.pos / ide.SectorSize
		offsetInSector := file.pos % ide.SectorSize
		chunk := ide.SectorSize - offsetInSector
		if left := size - read; chunk > left {
			chunk = left
		}

		if lbas[sectorIdx] == 0 {
			kfmt.Panicf("fs", "node %d has no block for sector %d", node.Idx, sectorIdx)
		}

		p.Disk().ReadSectors(lbas[sectorIdx], sector[:], 1)
		copy(buf[read:read+chunk], sector[offsetInSector:offsetInSector+chunk])
		read += chunk
		file.pos += chunk
	}

	return read
}

// WriteFile appends data at the end of an open file and returns the
// number of bytes written. New blocks are wired into the direct slots
// and, past the twelfth, into the single indirect table; on allocation
// failure everything freshly wired is rolled back and 0 is returned.
func (p *FilePart) WriteFile(file *File, data []byte) uint32 {
	node := file.Node()
	size := uint32(len(data))
	currSize := node.Size
	if currSize+size > SectorCountPerInode*ide.SectorSize {
		kfmt.Printf("[fs] failed to write, the file exceeds the maximum size\n")
		return 0
	}

	currSectors := roundUpDiv(currSize, ide.SectorSize)
	newSectors := roundUpDiv(currSize+size, ide.SectorSize)

	lbas := p.loadNodeLbas(node)
	if currSectors != newSectors {
		crossesIndirect := currSectors <= DirectBlockCount && newSectors > DirectBlockCount
		if crossesIndirect && node.IndirectTabLba() == 0 {
			tabLba := p.allocBlock()
			if tabLba == NPos {
				return 0
			}

			node.SetIndirectTabLba(tabLba)
			p.syncBlockBitmap(tabLba)
		}

		failed := false
		for i := currSectors; i != newSectors; i++ {
			newLba := p.allocBlock()
			if newLba == NPos {
				failed = true
				break
			}

			if i < DirectBlockCount {
				node.SetDirectLba(i, newLba)
			}

			lbas[i] = newLba
			p.syncBlockBitmap(newLba)
		}

		if failed {
			for i := currSectors; i != newSectors && lbas[i] != 0; i++ {
				if i < DirectBlockCount {
					node.SetDirectLba(i, 0)
				}

				p.freeBlock(lbas[i])
				p.syncBlockBitmap(lbas[i])
				lbas[i] = 0
			}

			if crossesIndirect {
				tab := node.IndirectTabLba()
				node.SetIndirectTabLba(0)
				p.freeBlock(tab)
				p.syncBlockBitmap(tab)
			}

			return 0
		}

		if newSectors > DirectBlockCount {
			p.writeIndirectTab(node, &lbas)
		}
	}

	// Write the data sector by sector. The first affected sector may
	// hold old bytes that must survive, so it is read back first.
	var sector [ide.SectorSize]byte
	firstWrite := true
	written := uint32(0)
	for written < size {
		sectorIdx := node.Size / ide.SectorSize
		offsetInSector := node.Size % ide.SectorSize
		chunk := ide.SectorSize - offsetInSector
		if left := size - written; chunk > left {
			chunk = left
		}

		if firstWrite {
			p.Disk().ReadSectors(lbas[sectorIdx], sector[:], 1)
			firstWrite = false
		} else {
			for i := range sector {
				sector[i] = 0
			}
		}

		copy(sector[offsetInSector:offsetInSector+chunk], data[written:written+chunk])
		p.Disk().WriteSectors(lbas[sectorIdx], sector[:], 1)
		written += chunk
		node.Size += chunk
		file.pos = node.Size
	}

	p.syncNode(node)
	return written
}
