package fs

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs/fspath"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
)

// FileType tells files and directories apart in directory entries.
type FileType uint32

const (
	// TypeUnknown marks an empty entry slot.
	TypeUnknown FileType = iota
	// TypeRegular marks a regular file.
	TypeRegular
	// TypeDirectory marks a directory.
	TypeDirectory
)

const (
	// MinEntryCount is the number of entries every directory carries:
	// the current directory and its parent.
	MinEntryCount = 2

	// dirEntrySize is the on-disk size of a directory entry: the type
	// word, the name buffer and the index node word.
	dirEntrySize = 4 + (fspath.MaxNameLen + 1) + 4

	dirEntriesPerSector = ide.SectorSize / dirEntrySize
)

// DirEntry is one item of a directory: a named link to an index node.
type DirEntry struct {
	Type     FileType
	Name     string
	InodeIdx uint32
}

// NewDirEntry creates a directory entry.
func NewDirEntry(typ FileType, name string, inodeIdx uint32) DirEntry {
	if name == "" || len(name) > fspath.MaxNameLen {
		kfmt.Panicf("fs", "'%s' is not a valid entry name", name)
	}

	return DirEntry{Type: typ, Name: name, InodeIdx: inodeIdx}
}

func (e DirEntry) encode(buf []byte) {
	putU32(buf[0:], uint32(e.Type))
	name := buf[4 : 4+fspath.MaxNameLen+1]
	for i := range name {
		name[i] = 0
	}

	copy(name, e.Name)
	putU32(buf[4+fspath.MaxNameLen+1:], e.InodeIdx)
}

func decodeDirEntry(buf []byte) DirEntry {
	name := buf[4 : 4+fspath.MaxNameLen+1]
	end := 0
	for end < len(name) && name[end] != 0 {
		end++
	}

	return DirEntry{
		Type:     FileType(getU32(buf[0:])),
		Name:     string(name[:end]),
		InodeIdx: getU32(buf[4+fspath.MaxNameLen+1:]),
	}
}

// decodeDirEntries splits a sector into its directory entries.
func decodeDirEntries(sector []byte) [dirEntriesPerSector]DirEntry {
	var entries [dirEntriesPerSector]DirEntry
	for i := 0; i != dirEntriesPerSector; i++ {
		entries[i] = decodeDirEntry(sector[i*dirEntrySize:])
	}

	return entries
}

// Directory is an open directory handle.
type Directory struct {
	// inode stores the directory entries; nil while the directory is
	// not open.
	inode *IdxNode

	// pos is the byte offset lazy enumeration has reached.
	pos uint32
}

// IsOpen reports whether the directory is open.
func (d *Directory) IsOpen() bool {
	return d.inode != nil
}

// Node returns the index node of the directory.
func (d *Directory) Node() *IdxNode {
	if !d.IsOpen() {
		kfmt.Panicf("fs", "the directory is not open")
	}

	return d.inode
}

// NodeIdx returns the index node number of the directory.
func (d *Directory) NodeIdx() uint32 {
	return d.Node().Idx
}

// IsEmpty reports whether the directory only holds the two mandatory
// entries.
func (d *Directory) IsEmpty() bool {
	return d.Node().Size == MinEntryCount*dirEntrySize
}

// Rewind resets the enumeration offset to the first entry.
func (d *Directory) Rewind() {
	d.pos = 0
}

// Close releases the directory handle. The shared root directory stays
// open.
func (d *Directory) Close() {
	if d == &rootDir {
		return
	}

	d.Node().Close()
	d.inode = nil
}
