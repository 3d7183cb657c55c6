package fs

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
)

// OpenMode is the bitmask of open and access flags.
type OpenMode uint32

const (
	// ReadOnly opens a file for reading.
	ReadOnly OpenMode = 0
	// WriteOnly opens a file for writing.
	WriteOnly OpenMode = 1
	// ReadWrite opens a file for reading and writing.
	ReadWrite OpenMode = 2
	// CreateNew creates the file, failing if it already exists.
	CreateNew OpenMode = 4
)

// IsSet reports whether every given flag is set.
func (m OpenMode) IsSet(flags OpenMode) bool {
	return m&flags == flags
}

// isWrite reports whether the mode asks for write access.
func (m OpenMode) isWrite() bool {
	return m.IsSet(WriteOnly) || m.IsSet(ReadWrite)
}

// SeekOrigin anchors a seek offset.
type SeekOrigin int

const (
	// SeekBegin measures from the start of the file.
	SeekBegin SeekOrigin = iota
	// SeekCurr measures from the current position.
	SeekCurr
	// SeekEnd measures from the end of the file.
	SeekEnd
)

const (
	// MaxOpenFileTimes is the capacity of the system open-file table.
	MaxOpenFileTimes = 32

	// StdStreamCount reserves the first descriptors for the standard
	// streams.
	StdStreamCount = 3
)

// File is one slot of the open-file table.
type File struct {
	flags OpenMode

	// inode stores the file contents; nil while the slot is free.
	inode *IdxNode

	// pos is the access offset.
	pos uint32
}

// IsOpen reports whether the slot holds an open file.
func (f *File) IsOpen() bool {
	return f.inode != nil
}

// Node returns the index node of the open file.
func (f *File) Node() *IdxNode {
	if !f.IsOpen() {
		kfmt.Panicf("fs", "the file is not open")
	}

	return f.inode
}

// NodeIdx returns the index node number of the open file.
func (f *File) NodeIdx() uint32 {
	return f.Node().Idx
}

// Clear frees the slot.
func (f *File) Clear() {
	f.flags = 0
	f.inode = nil
	f.pos = 0
}

// Close releases the file: writers give up their write claim and the
// inode reference is dropped.
func (f *File) Close() {
	if !f.IsOpen() {
		return
	}

	if f.flags.isWrite() {
		if !f.inode.WriteDeny {
			kfmt.Panicf("fs", "a writable file lost its write claim")
		}

		f.inode.WriteDeny = false
	}

	f.inode.Close()
	f.Clear()
}

// FileTab is the system open-file table. A global file descriptor is an
// index into it; the first three slots stand for the standard streams.
type FileTab struct {
	files [MaxOpenFileTimes]File
}

// FreeDesc returns a free global descriptor, or NPos when the table is
// full.
func (t *FileTab) FreeDesc() uint32 {
	for i := StdStreamCount; i != MaxOpenFileTimes; i++ {
		if !t.files[i].IsOpen() {
			return uint32(i)
		}
	}

	kfmt.Printf("[fs] the system file table is full\n")
	return NPos
}

// Contains reports whether any open file uses the index node.
func (t *FileTab) Contains(inodeIdx uint32) bool {
	for i := StdStreamCount; i != MaxOpenFileTimes; i++ {
		if t.files[i].IsOpen() && t.files[i].NodeIdx() == inodeIdx {
			return true
		}
	}

	return false
}

// File returns the slot behind a global descriptor.
func (t *FileTab) File(desc uint32) *File {
	if desc >= MaxOpenFileTimes {
		kfmt.Panicf("fs", "global descriptor %d is out of range", desc)
	}

	return &t.files[desc]
}

var fileTab FileTab

// GetFileTab returns the system open-file table.
func GetFileTab() *FileTab {
	return &fileTab
}
