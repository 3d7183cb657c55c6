package fs

import (
	"io"

	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs/fspath"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/taglist"
)

// defaultPartName is the partition all file and directory operations
// target.
const defaultPartName = "sdb1"

var (
	rootDir     Directory
	defaultPart *FilePart
)

// RootDir returns the shared root directory handle.
func RootDir() *Directory {
	return &rootDir
}

// DefaultPart returns the mounted default partition.
func DefaultPart() *FilePart {
	if defaultPart == nil {
		kfmt.Panicf("fs", "no partition is mounted")
	}

	return defaultPart
}

// mountDefaultPart finds the default partition by name and mounts it.
func mountDefaultPart(w io.Writer) {
	tag := ide.DiskParts().Find(func(tag *taglist.Tag) bool {
		return ide.PartByTag(tag).Name() == defaultPartName
	})
	if tag == nil {
		kfmt.Panicf("fs", "failed to find the default mount partition '%s'", defaultPartName)
	}

	defaultPart = Mount(ide.PartByTag(tag))
	kfmt.Fprintf(w, "[fs] the partition '%s' has been mounted\n", defaultPartName)
}

// Driver is the file system driver.
type Driver struct{}

// DriverName returns the driver name.
func (Driver) DriverName() string {
	return "fs"
}

// DriverInit formats every unformatted partition, mounts the default
// partition and opens its root directory.
func (Driver) DriverInit(w io.Writer) *kernel.Error {
	if !ide.IsInited() {
		kfmt.Panicf("fs", "disks must be initialized before the file system")
	}

	for chnlIdx := 0; chnlIdx != ide.ChnlCount(); chnlIdx++ {
		chnl := ide.Chnl(chnlIdx)
		for diskIdx := 0; diskIdx != ide.MaxDiskCountPerChnl; diskIdx++ {
			disk := chnl.Disk(diskIdx)
			for partIdx := 0; partIdx != ide.PrimPartCount+ide.MaxLogicPartCount; partIdx++ {
				var part *ide.Part
				if partIdx < ide.PrimPartCount {
					part = disk.PrimaryPart(partIdx)
				} else {
					part = disk.LogicPart(partIdx - ide.PrimPartCount)
				}

				if !part.IsValid() {
					continue
				}

				var sector [ide.SectorSize]byte
				disk.ReadSectors(part.StartLba()+SuperBlockStartLba, sector[:], 1)
				sb := &SuperBlock{}
				sb.decode(sector[:])
				if !sb.IsSignValid() {
					FormatPart(part)
					kfmt.Fprintf(w, "[fs] the partition '%s' has been formatted\n", part.Name())
				} else {
					kfmt.Fprintf(w, "[fs] the partition '%s' already has a file system\n", part.Name())
				}
			}
		}
	}

	mountDefaultPart(w)
	DefaultPart().OpenRootDir()

	// Forked children keep their parent's open files; every copied
	// descriptor keeps its inode alive one more time.
	task.SetForkGlobalDescHook(func(global uint32) {
		file := GetFileTab().File(global)
		if !file.IsOpen() || !file.Node().IsOpen() {
			kfmt.Panicf("fs", "a forked descriptor refers to a closed file")
		}

		file.Node().OpenTimes++
	})
	return nil
}

// globalFile resolves a process-local descriptor to its open file.
func globalFile(localDesc uint32) *File {
	global := task.CurrentFileDescTab().GetGlobal(localDesc)
	file := GetFileTab().File(global)
	if !file.IsOpen() {
		kfmt.Panicf("fs", "descriptor %d is not open", localDesc)
	}

	return file
}

// Open opens or creates a file on the default partition and returns a
// process-local descriptor, or NPos on failure.
func Open(path string, flags OpenMode) uint32 {
	return DefaultPart().OpenFile(path, flags)
}

// Close releases a process-local descriptor.
func Close(localDesc uint32) {
	file := globalFile(localDesc)
	file.Close()
	task.CurrentFileDescTab().Reset(localDesc)
}

// Write appends data to an open file and returns the number of bytes
// written.
func Write(localDesc uint32, data []byte) uint32 {
	return DefaultPart().WriteFile(globalFile(localDesc), data)
}

// Read reads up to len(buf) bytes from an open file and returns the
// number of bytes read.
func Read(localDesc uint32, buf []byte) uint32 {
	return DefaultPart().ReadFile(globalFile(localDesc), buf)
}

// Seek moves the access offset of an open file.
func Seek(localDesc uint32, offset int32, origin SeekOrigin) uint32 {
	return DefaultPart().SeekFile(globalFile(localDesc), offset, origin)
}

// Delete removes a file by path.
func Delete(path string) bool {
	return DefaultPart().DeleteFile(path)
}

// CreateDir creates a directory by path.
func CreateDir(path string) bool {
	return DefaultPart().CreateDir(path)
}

// OpenDir opens a directory by path, or nil on failure.
func OpenDir(path string) *Directory {
	return DefaultPart().OpenDir(path)
}

// ReadDir enumerates the next entry of an open directory.
func ReadDir(dir *Directory) (DirEntry, bool) {
	return DefaultPart().ReadDir(dir)
}

// DeleteDir removes a directory by path. Only empty, non-root
// directories can be deleted.
func DeleteDir(path string) bool {
	if fspath.IsRootDir(path) {
		kfmt.Printf("[fs] the root directory cannot be deleted\n")
		return false
	}

	part := DefaultPart()
	record, found := part.searchPath(path)
	defer record.parent.Close()
	if !found || record.typ != TypeDirectory {
		kfmt.Printf("[fs] the directory '%s' does not exist\n", path)
		return false
	}

	child := part.OpenDirByIdx(record.inodeIdx)
	defer child.Close()
	if !child.IsEmpty() {
		kfmt.Printf("[fs] the directory '%s' is not empty\n", path)
		return false
	}

	return part.DeleteDir(record.parent, child)
}
