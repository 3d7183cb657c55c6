package task

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
)

const (
	// MaxOpenFileCount is the number of descriptor slots a process or
	// kernel thread owns.
	MaxOpenFileCount = 8

	// StdStreamCount is the number of reserved standard-stream
	// descriptors.
	StdStreamCount = 3

	// InvalidFileDesc marks a free descriptor slot.
	InvalidFileDesc = ^uint32(0)
)

// FileDescTab maps the local file descriptors of a process or kernel
// thread to slots in the global open-file table. It holds no data about
// the open files themselves.
type FileDescTab struct {
	descs [MaxOpenFileCount]uint32
}

// Init reserves the three standard streams and clears the rest.
func (t *FileDescTab) Init() {
	for i := range t.descs {
		if i < StdStreamCount {
			t.descs[i] = uint32(i)
		} else {
			t.descs[i] = InvalidFileDesc
		}
	}
}

// SyncGlobal stores a global descriptor in the first free local slot and
// returns the local descriptor, or InvalidFileDesc when the table is
// full.
func (t *FileDescTab) SyncGlobal(global uint32) uint32 {
	for i := StdStreamCount; i != MaxOpenFileCount; i++ {
		if t.descs[i] == InvalidFileDesc {
			t.descs[i] = global
			return uint32(i)
		}
	}

	kfmt.Printf("[task] the process file table is full\n")
	return InvalidFileDesc
}

// GetGlobal returns the global descriptor a local descriptor refers to.
func (t *FileDescTab) GetGlobal(local uint32) uint32 {
	if local < StdStreamCount || local >= MaxOpenFileCount {
		kfmt.Panicf("task", "local descriptor %d is out of range", local)
	}

	global := t.descs[local]
	if global == InvalidFileDesc {
		kfmt.Panicf("task", "local descriptor %d is not open", local)
	}

	return global
}

// Reset frees a local descriptor slot.
func (t *FileDescTab) Reset(local uint32) {
	if local < StdStreamCount || local >= MaxOpenFileCount {
		kfmt.Panicf("task", "local descriptor %d is out of range", local)
	}

	t.descs[local] = InvalidFileDesc
}

var forkGlobalDescFn = func(global uint32) {}

// SetForkGlobalDescHook installs the callback invoked for every open
// global descriptor copied by a fork; the file system uses it to bump
// inode reference counts.
func SetForkGlobalDescHook(fn func(global uint32)) {
	forkGlobalDescFn = fn
}

// forkInto copies the table to a child and reports every open descriptor
// to the file system.
func (t *FileDescTab) forkInto(child *FileDescTab) {
	child.descs = t.descs
	for i := StdStreamCount; i != MaxOpenFileCount; i++ {
		if t.descs[i] != InvalidFileDesc {
			forkGlobalDescFn(t.descs[i])
		}
	}
}

// CurrentFileDescTab returns the descriptor table of the running thread:
// its own for kernel threads, the process's otherwise.
func CurrentFileDescTab() *FileDescTab {
	t := Current()
	if t.IsKrnlThread() {
		return &t.fileDescs
	}

	return &t.proc.fileDescs
}
