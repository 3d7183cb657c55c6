package fs_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/idetest"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/krnl"
)

var sdbImg *idetest.DiskImage

func TestMain(m *testing.M) {
	krnl.Boot(hal.Config{DiskCount: 2}, func() {
		sdaImg := idetest.NewDiskImage("SN-A", "BOOT DISK", 4*1024*1024)
		sdbImg = idetest.NewDiskImage("SN-B", "DATA DISK", 16*1024*1024)
		// One primary partition of 8 MiB.
		sdbImg.WriteBootRecord(0, []idetest.PartEntry{
			{Type: 0x83, StartLba: 2048, SectorCount: 16384},
		})
		idetest.Attach(0x1F0, irq.PrimaryIdeChnl, sdaImg, sdbImg)
	})
	os.Exit(m.Run())
}

func TestFormatAndMount(t *testing.T) {
	part := fs.DefaultPart()
	if part.Name() != "sdb1" {
		t.Fatalf("expected the default partition sdb1; got '%s'", part.Name())
	}

	sb := part.SuperBlock()
	if !sb.IsSignValid() {
		t.Fatal("expected a valid super-block magic after mounting")
	}

	if sb.PartStartLba != 2048 || sb.PartSectorCount != 16384 {
		t.Fatalf("expected the partition geometry in the super block; got %d/%d", sb.PartStartLba, sb.PartSectorCount)
	}

	if sb.PartInodeCount != 4096 || sb.RootInodeIdx != 0 {
		t.Fatalf("expected 4096 index nodes and root node 0; got %d/%d", sb.PartInodeCount, sb.RootInodeIdx)
	}

	// Bit 0 of both bitmaps belongs to the root directory.
	var sector [ide.SectorSize]byte
	disk := part.Disk()
	disk.ReadSectors(sb.BlockBitmapStartLba, sector[:], 1)
	if sector[0]&1 == 0 {
		t.Fatal("expected block-bitmap bit 0 to be set")
	}

	disk.ReadSectors(sb.InodeBitmapStartLba, sector[:], 1)
	if sector[0]&1 == 0 {
		t.Fatal("expected inode-bitmap bit 0 to be set")
	}
}

func TestRootDirHoldsDotEntries(t *testing.T) {
	root := fs.OpenDir("/")
	if root == nil {
		t.Fatal("expected the root directory to open")
	}

	root.Rewind()
	var names []string
	for {
		entry, ok := fs.ReadDir(root)
		if !ok {
			break
		}

		if entry.Type != fs.TypeDirectory {
			t.Fatalf("expected a directory entry; got type %d", entry.Type)
		}

		if entry.InodeIdx != fs.RootInodeIdx {
			t.Fatalf("expected both entries to refer to the root node; got %d", entry.InodeIdx)
		}

		names = append(names, entry.Name)
	}

	if len(names) != 2 || names[0] != "." || names[1] != ".." {
		t.Fatalf("expected exactly '.' and '..'; got %v", names)
	}

	root.Rewind()
}

func TestCreateWriteReadFile(t *testing.T) {
	desc := fs.Open("/hello", fs.CreateNew|fs.ReadWrite)
	if desc == fs.NPos {
		t.Fatal("expected the file to be created")
	}

	data := []byte("hello, file system")
	if got := fs.Write(desc, data); got != uint32(len(data)) {
		t.Fatalf("expected %d bytes written; got %d", len(data), got)
	}

	fs.Seek(desc, 0, fs.SeekBegin)
	buf := make([]byte, len(data))
	if got := fs.Read(desc, buf); got != uint32(len(data)) {
		t.Fatalf("expected %d bytes read; got %d", len(data), got)
	}

	if !bytes.Equal(buf, data) {
		t.Fatalf("expected %q; got %q", data, buf)
	}

	fs.Close(desc)

	// Reopen read-only and check persistence.
	desc = fs.Open("/hello", fs.ReadOnly)
	if desc == fs.NPos {
		t.Fatal("expected the file to reopen")
	}

	if got := fs.Read(desc, buf); got != uint32(len(data)) || !bytes.Equal(buf, data) {
		t.Fatalf("expected the contents to persist; got %d bytes %q", got, buf)
	}

	fs.Close(desc)
}

func TestHierarchicalCreateAndList(t *testing.T) {
	if !fs.CreateDir("/a") {
		t.Fatal("expected /a to be created")
	}

	if !fs.CreateDir("/a/b") {
		t.Fatal("expected /a/b to be created")
	}

	desc := fs.Open("/a/b/f", fs.CreateNew|fs.ReadWrite)
	if desc == fs.NPos {
		t.Fatal("expected /a/b/f to be created")
	}

	if got := fs.Write(desc, []byte("hello")); got != 5 {
		t.Fatalf("expected 5 bytes written; got %d", got)
	}

	fs.Close(desc)

	desc = fs.Open("/a/b/f", fs.ReadOnly)
	buf := make([]byte, 5)
	if got := fs.Read(desc, buf); got != 5 || string(buf) != "hello" {
		t.Fatalf("expected to read 'hello'; got %d bytes %q", got, buf)
	}

	fs.Close(desc)

	dir := fs.OpenDir("/a")
	if dir == nil {
		t.Fatal("expected /a to open")
	}

	defer dir.Close()
	var names []string
	for {
		entry, ok := fs.ReadDir(dir)
		if !ok {
			break
		}

		names = append(names, entry.Name)
	}

	if len(names) != 3 || names[0] != "." || names[1] != ".." || names[2] != "b" {
		t.Fatalf("expected '.', '..' and 'b'; got %v", names)
	}

	// A fresh directory carries '.' and '..' pointing at itself and its
	// parent.
	sub := fs.OpenDir("/a/b")
	defer sub.Close()
	curr, ok := fs.ReadDir(sub)
	if !ok || curr.Name != "." || curr.InodeIdx != sub.NodeIdx() {
		t.Fatalf("expected '.' to refer to the directory itself; got %+v", curr)
	}

	parent, ok := fs.ReadDir(sub)
	if !ok || parent.Name != ".." || parent.InodeIdx != dir.NodeIdx() {
		t.Fatalf("expected '..' to refer to the parent; got %+v", parent)
	}
}

func TestSeekClampsToFile(t *testing.T) {
	desc := fs.Open("/seek", fs.CreateNew|fs.ReadWrite)
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	fs.Write(desc, data)

	if got := fs.Seek(desc, 10, fs.SeekBegin); got != 10 {
		t.Fatalf("expected position 10; got %d", got)
	}

	if got := fs.Seek(desc, 5, fs.SeekCurr); got != 15 {
		t.Fatalf("expected position 15; got %d", got)
	}

	if got := fs.Seek(desc, -30, fs.SeekEnd); got != 70 {
		t.Fatalf("expected position 70; got %d", got)
	}

	if got := fs.Seek(desc, -500, fs.SeekBegin); got != 0 {
		t.Fatalf("expected the position to clamp at 0; got %d", got)
	}

	if got := fs.Seek(desc, 500, fs.SeekBegin); got != 100 {
		t.Fatalf("expected the position to clamp at the size; got %d", got)
	}

	buf := make([]byte, 10)
	fs.Seek(desc, 90, fs.SeekBegin)
	if got := fs.Read(desc, buf); got != 10 || buf[0] != 90 {
		t.Fatalf("expected the tail bytes; got %d bytes starting 0x%x", got, buf[0])
	}

	fs.Close(desc)
}

func TestDeleteBusyFile(t *testing.T) {
	desc := fs.Open("/busy", fs.CreateNew|fs.ReadWrite)
	if desc == fs.NPos {
		t.Fatal("expected the file to be created")
	}

	if fs.Delete("/busy") {
		t.Fatal("expected deleting an open file to fail")
	}

	// The file still resolves.
	if probe := fs.Open("/busy", fs.ReadOnly); probe == fs.NPos {
		t.Fatal("expected the file to still exist")
	} else {
		fs.Close(probe)
	}

	fs.Close(desc)
	if !fs.Delete("/busy") {
		t.Fatal("expected deletion to succeed after closing")
	}

	if fs.Open("/busy", fs.ReadOnly) != fs.NPos {
		t.Fatal("expected the deleted file to be gone")
	}
}

func TestSecondWriterIsRejected(t *testing.T) {
	first := fs.Open("/locked", fs.CreateNew|fs.WriteOnly)
	if first == fs.NPos {
		t.Fatal("expected the file to be created")
	}

	if second := fs.Open("/locked", fs.WriteOnly); second != fs.NPos {
		t.Fatal("expected the second writer to be rejected")
	}

	// Reading concurrently is fine.
	reader := fs.Open("/locked", fs.ReadOnly)
	if reader == fs.NPos {
		t.Fatal("expected a concurrent reader to succeed")
	}

	fs.Close(reader)
	fs.Close(first)

	second := fs.Open("/locked", fs.WriteOnly)
	if second == fs.NPos {
		t.Fatal("expected the writer to succeed after the close")
	}

	fs.Close(second)
}

func TestMaxFileSize(t *testing.T) {
	const maxSize = fs.SectorCountPerInode * ide.SectorSize

	desc := fs.Open("/big", fs.CreateNew|fs.ReadWrite)
	if desc == fs.NPos {
		t.Fatal("expected the file to be created")
	}

	data := make([]byte, maxSize)
	for i := range data {
		data[i] = byte(i % 251)
	}

	if got := fs.Write(desc, data); got != maxSize {
		t.Fatalf("expected the maximum size to be writable; got %d", got)
	}

	// One more byte does not fit and leaves the size unchanged.
	if got := fs.Write(desc, []byte{0xFF}); got != 0 {
		t.Fatalf("expected the overflowing write to fail; got %d", got)
	}

	if got := fs.Seek(desc, 0, fs.SeekEnd); got != maxSize {
		t.Fatalf("expected the size to stay at %d; got %d", maxSize, got)
	}

	fs.Seek(desc, 0, fs.SeekBegin)
	buf := make([]byte, maxSize)
	if got := fs.Read(desc, buf); got != maxSize || !bytes.Equal(buf, data) {
		t.Fatalf("expected the full contents back; got %d bytes", got)
	}

	fs.Close(desc)
	if !fs.Delete("/big") {
		t.Fatal("expected the big file to be deletable")
	}
}

func TestDeleteDirectoryRules(t *testing.T) {
	if !fs.CreateDir("/d") {
		t.Fatal("expected /d to be created")
	}

	if !fs.CreateDir("/d/sub") {
		t.Fatal("expected /d/sub to be created")
	}

	if fs.DeleteDir("/d") {
		t.Fatal("expected deleting a non-empty directory to fail")
	}

	if !fs.DeleteDir("/d/sub") {
		t.Fatal("expected the empty subdirectory to be deletable")
	}

	if !fs.DeleteDir("/d") {
		t.Fatal("expected the emptied directory to be deletable")
	}

	if fs.OpenDir("/d") != nil {
		t.Fatal("expected the deleted directory to be gone")
	}
}

func TestOpenErrors(t *testing.T) {
	if fs.Open("/missing", fs.ReadOnly) != fs.NPos {
		t.Fatal("expected opening a missing file to fail")
	}

	if fs.Open("/no/such/parent", fs.CreateNew|fs.ReadWrite) != fs.NPos {
		t.Fatal("expected a missing intermediate directory to fail")
	}

	fs.CreateDir("/adir")
	if fs.Open("/adir", fs.ReadOnly) != fs.NPos {
		t.Fatal("expected opening a directory as a file to fail")
	}

	desc := fs.Open("/exists", fs.CreateNew|fs.ReadWrite)
	fs.Close(desc)
	if fs.Open("/exists", fs.CreateNew|fs.ReadWrite) != fs.NPos {
		t.Fatal("expected CreateNew on an existing file to fail")
	}

	if !fs.CreateDir("/adir/x") {
		t.Fatal("expected a nested directory to be creatable")
	}

	if fs.CreateDir("/adir/x") {
		t.Fatal("expected creating an existing directory to fail")
	}
}

func TestCreateDeleteOpenRoundTrip(t *testing.T) {
	desc := fs.Open("/tmp", fs.CreateNew|fs.ReadWrite)
	if desc == fs.NPos {
		t.Fatal("expected the file to be created")
	}

	fs.Close(desc)
	if !fs.Delete("/tmp") {
		t.Fatal("expected the file to be deleted")
	}

	if fs.Open("/tmp", fs.ReadOnly) != fs.NPos {
		t.Fatal("expected the deleted file to be unresolvable")
	}
}
