package hal

import (
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
)

func TestBootAssemblesLoaderState(t *testing.T) {
	Boot(Config{MemSize: 8 * mem.MB, DiskCount: 3})

	if got := ReadU8(BiosDiskCountAddr); got != 3 {
		t.Fatalf("expected 3 disks in the BIOS data area; got %d", got)
	}

	if got := ReadU32(MemSizeAddr); got != 8*mem.MB {
		t.Fatalf("expected the loader-recorded memory size; got 0x%x", got)
	}

	if got := CR3(); got != KrnlPageDirPhysBase {
		t.Fatalf("expected CR3 to hold the kernel page directory; got 0x%x", got)
	}

	// The last directory entry refers to the directory itself.
	selfRef := ReadU32(KrnlPageDirPhysBase + uint32(mem.PageDirSelfRef)*4)
	if selfRef&^0xFFF != KrnlPageDirPhysBase || selfRef&1 == 0 {
		t.Fatalf("expected a present self-reference; got 0x%x", selfRef)
	}

	// The first kernel directory entry maps the low megabyte.
	firstKrnl := ReadU32(KrnlPageDirPhysBase + uint32(mem.KrnlBase>>22)*4)
	if firstKrnl&1 == 0 {
		t.Fatal("expected the first kernel page table to be present")
	}

	pte := ReadU32((firstKrnl &^ 0xFFF) + 5*4)
	if pte&^0xFFF != 5*mem.PageSize {
		t.Fatalf("expected an identity mapping of the low megabyte; got 0x%x", pte)
	}
}

func TestMemoryWordAccess(t *testing.T) {
	Boot(Config{})
	WriteU32(0x1000, 0x11223344)
	if got := ReadU32(0x1000); got != 0x11223344 {
		t.Fatalf("expected the word to read back; got 0x%x", got)
	}

	if got := ReadU8(0x1000); got != 0x44 {
		t.Fatalf("expected little-endian storage; got 0x%x", got)
	}
}

func TestPendingInterruptsDrainOnEnable(t *testing.T) {
	Boot(Config{})
	var delivered []uint32
	SetIRQHandler(func(vec uint32) {
		delivered = append(delivered, vec)
	})

	Raise(0x20)
	Raise(0x2E)
	if len(delivered) != 0 {
		t.Fatal("expected no delivery while interrupts are disabled")
	}

	EnableInterrupts()
	if len(delivered) != 2 || delivered[0] != 0x20 || delivered[1] != 0x2E {
		t.Fatalf("expected the pending vectors in order; got %v", delivered)
	}

	Raise(0x21)
	if len(delivered) != 3 {
		t.Fatal("expected immediate delivery while interrupts are enabled")
	}
}

func TestHandlerRunsWithInterruptsDisabled(t *testing.T) {
	Boot(Config{})
	sawEnabled := true
	SetIRQHandler(func(uint32) {
		sawEnabled = InterruptsEnabled()
	})

	EnableInterrupts()
	Raise(0x20)
	if sawEnabled {
		t.Fatal("expected the handler to run with interrupts disabled")
	}

	if !InterruptsEnabled() {
		t.Fatal("expected interrupts to be restored after the handler")
	}
}

type recordingDev struct {
	lastPort uint16
	lastDir  IODirection
	lastVal  byte
}

func (d *recordingDev) HandleIO(port uint16, dir IODirection, data []byte) *kernel.Error {
	d.lastPort = port
	d.lastDir = dir
	if dir == IODirOut {
		d.lastVal = data[0]
	} else {
		data[0] = 0x7F
	}

	return nil
}

func TestPortRouting(t *testing.T) {
	Boot(Config{})
	dev := &recordingDev{}
	RegisterPorts(0x1F0, 0x1F7, dev)

	buf := []byte{0xAB}
	if err := HandleIO(0x1F2, IODirOut, buf); err != nil {
		t.Fatal(err)
	}

	if dev.lastPort != 0x1F2 || dev.lastVal != 0xAB {
		t.Fatalf("expected the write to reach the device; got port 0x%x val 0x%x", dev.lastPort, dev.lastVal)
	}

	if err := HandleIO(0x1F0, IODirIn, buf); err != nil || buf[0] != 0x7F {
		t.Fatalf("expected the read to come from the device; got 0x%x, err %v", buf[0], err)
	}

	if err := HandleIO(0x3F8, IODirIn, buf); err == nil {
		t.Fatal("expected an error for an unhandled port")
	}
}
