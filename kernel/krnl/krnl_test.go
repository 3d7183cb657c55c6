package krnl_test

import (
	"os"
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/fs"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/ide/idetest"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/kbd"
	"github.com/Zhuagenborn/Tiny-x86-OS/device/pit"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/krnl"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/syscall"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/task"
)

// kbdPort pretends to be the keyboard controller output buffer.
type kbdPort struct {
	code uint8
}

func (p *kbdPort) HandleIO(port uint16, dir hal.IODirection, data []byte) *kernel.Error {
	if dir == hal.IODirIn {
		data[0] = p.code
	}

	return nil
}

var kbdDev kbdPort

func TestMain(m *testing.M) {
	krnl.Boot(hal.Config{DiskCount: 2}, func() {
		sda := idetest.NewDiskImage("SN-A", "BOOT DISK", 4*1024*1024)
		sdb := idetest.NewDiskImage("SN-B", "DATA DISK", 16*1024*1024)
		sdb.WriteBootRecord(0, []idetest.PartEntry{
			{Type: 0x83, StartLba: 2048, SectorCount: 16384},
		})
		idetest.Attach(0x1F0, irq.PrimaryIdeChnl, sda, sdb)
		hal.RegisterPorts(0x60, 0x60, &kbdDev)
	})
	os.Exit(m.Run())
}

func TestSysCallPid(t *testing.T) {
	if got := syscall.Call(syscall.GetCurrPid, nil).(uint32); got != 0 {
		t.Fatalf("expected pid 0 for the kernel thread; got %d", got)
	}
}

func TestSysCallMemory(t *testing.T) {
	addr := syscall.Call(syscall.MemAlloc, uint32(256)).(uint32)
	if addr == 0 {
		t.Fatal("expected the allocation to succeed")
	}

	syscall.Call(syscall.MemFree, addr)
}

func TestSysCallFileRoundTrip(t *testing.T) {
	desc := syscall.Call(syscall.OpenFile, krnl.OpenArgs{
		Path:  "/sys",
		Flags: fs.CreateNew | fs.ReadWrite,
	}).(uint32)
	if desc == fs.NPos {
		t.Fatal("expected the file to be created")
	}

	data := []byte("trap data")
	written := syscall.Call(syscall.WriteFile, krnl.WriteArgs{Desc: desc, Data: data}).(uint32)
	if written != uint32(len(data)) {
		t.Fatalf("expected %d bytes written; got %d", len(data), written)
	}

	syscall.Call(syscall.SeekFile, krnl.SeekArgs{Desc: desc, Offset: 0, Origin: fs.SeekBegin})
	buf := make([]byte, len(data))
	read := syscall.Call(syscall.ReadFile, krnl.ReadArgs{Desc: desc, Buf: buf}).(uint32)
	if read != uint32(len(data)) || string(buf) != string(data) {
		t.Fatalf("expected the data back; got %d bytes %q", read, buf)
	}

	syscall.Call(syscall.CloseFile, desc)
	if !syscall.Call(syscall.DeleteFile, "/sys").(bool) {
		t.Fatal("expected the file to be deleted")
	}
}

func TestSysCallCreateDir(t *testing.T) {
	if !syscall.Call(syscall.CreateDir, "/sysdir").(bool) {
		t.Fatal("expected the directory to be created")
	}

	if dir := fs.OpenDir("/sysdir"); dir == nil {
		t.Fatal("expected the directory to open")
	} else {
		dir.Close()
	}
}

func TestSysCallFork(t *testing.T) {
	var results []uint32
	done := func() bool { return len(results) == 2 }
	task.CreateProcess("syfork", func() {
		results = append(results, syscall.Call(syscall.Fork, nil).(uint32))
	})

	for i := 0; i != 10000 && !done(); i++ {
		task.Current().Yield()
	}

	if !done() {
		t.Fatal("expected both fork returns")
	}

	if results[0] == 0 || results[1] != 0 {
		t.Fatalf("expected the parent to see the child pid and the child to see 0; got %v", results)
	}
}

func TestKeyboardScancodeFlow(t *testing.T) {
	kbdDev.code = 0x1C
	hal.Raise(irq.Keyboard)
	if got := kbd.NextScancode(); got != 0x1C {
		t.Fatalf("expected scancode 0x1C; got 0x%x", got)
	}
}

func TestClockTickChargesThread(t *testing.T) {
	curr := task.Current()
	curr.ResetTicks()
	before := curr.ElapsedTicks()
	ticksBefore := pit.Ticks()

	pit.Tick()
	if got := curr.ElapsedTicks(); got != before+1 {
		t.Fatalf("expected one elapsed tick; got %d", got-before)
	}

	if got := pit.Ticks(); got != ticksBefore+1 {
		t.Fatalf("expected the global tick counter to advance; got %d", got-ticksBefore)
	}
}

func TestSleepWaitsForTicks(t *testing.T) {
	stop := false
	task.CreateKrnlThread("ticker", 8, func(interface{}) {
		for !stop {
			pit.Tick()
			task.Current().Yield()
		}
	}, nil)

	start := pit.Ticks()
	task.Current().Sleep(50)
	stop = true

	// 50 ms at 100 Hz are at least 5 ticks.
	if got := pit.Ticks() - start; got < 5 {
		t.Fatalf("expected at least 5 ticks to pass; got %d", got)
	}
}
