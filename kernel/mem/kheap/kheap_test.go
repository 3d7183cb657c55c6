package kheap

import (
	"os"
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
)

func TestMain(m *testing.M) {
	hal.Boot(hal.Config{})
	vmm.Init()
	Init()
	os.Exit(m.Run())
}

func TestSmallBlockReuse(t *testing.T) {
	a := AllocateFrom(vmm.PoolKernel, 100)
	if a == 0 {
		t.Fatal("expected the first allocation to succeed")
	}

	b := AllocateFrom(vmm.PoolKernel, 300)
	if b == 0 {
		t.Fatal("expected the second allocation to succeed")
	}

	FreeFrom(vmm.PoolKernel, a)
	c := AllocateFrom(vmm.PoolKernel, 100)
	if c != a {
		t.Fatalf("expected the freed block at 0x%x to be reused; got 0x%x", uint32(a), uint32(c))
	}

	// One block of the 128-byte arena is in use.
	desc := KrnlDescTab().MinDesc(100)
	if desc.BlockSize() != 128 {
		t.Fatalf("expected the 128-byte descriptor; got %d", desc.BlockSize())
	}

	if got, exp := desc.FreeCount(), desc.BlocksPerArena()-1; got != exp {
		t.Fatalf("expected %d free blocks; got %d", exp, got)
	}

	FreeFrom(vmm.PoolKernel, b)
	FreeFrom(vmm.PoolKernel, c)
}

func TestDescriptorSizes(t *testing.T) {
	sizes := []uint32{16, 32, 64, 128, 256, 512, 1024}
	for i, exp := range sizes {
		desc := KrnlDescTab().Desc(uint32(i))
		if desc.BlockSize() != exp {
			t.Fatalf("expected descriptor %d to manage %d-byte blocks; got %d", i, exp, desc.BlockSize())
		}

		if got := desc.BlocksPerArena(); got != (mem.PageSize-12)/exp {
			t.Fatalf("expected %d blocks per arena for size %d; got %d", (mem.PageSize-12)/exp, exp, got)
		}
	}
}

func TestLargeAllocationUsesPages(t *testing.T) {
	freeBefore := vmm.MemPool(vmm.PoolKernel).FreeCount()
	addr := AllocateFrom(vmm.PoolKernel, 3*mem.PageSize)
	if addr == 0 {
		t.Fatal("expected the large allocation to succeed")
	}

	// Three pages of payload plus the arena header need four pages.
	if got := freeBefore - vmm.MemPool(vmm.PoolKernel).FreeCount(); got != 4 {
		t.Fatalf("expected 4 pages for the large arena; got %d", got)
	}

	vmm.WriteU32(addr, 0xCAFEBABE)
	if got := vmm.ReadU32(addr); got != 0xCAFEBABE {
		t.Fatalf("expected the write to read back; got 0x%x", got)
	}

	FreeFrom(vmm.PoolKernel, addr)
	if got := vmm.MemPool(vmm.PoolKernel).FreeCount(); got != freeBefore {
		t.Fatalf("expected all pages back after the free; got %d of %d", got, freeBefore)
	}
}

func TestFullArenaIsReclaimed(t *testing.T) {
	freeBefore := vmm.MemPool(vmm.PoolKernel).FreeCount()
	desc := KrnlDescTab().MinDesc(1024)
	count := desc.BlocksPerArena()

	blocks := make([]vmm.VrAddr, count)
	for i := range blocks {
		blocks[i] = AllocateFrom(vmm.PoolKernel, 1024)
		if blocks[i] == 0 {
			t.Fatal("expected the allocation to succeed")
		}
	}

	for _, b := range blocks {
		FreeFrom(vmm.PoolKernel, b)
	}

	if got := desc.FreeCount(); got != 0 {
		t.Fatalf("expected the reclaimed arena to leave no free blocks; got %d", got)
	}

	if got := vmm.MemPool(vmm.PoolKernel).FreeCount(); got != freeBefore {
		t.Fatalf("expected the arena page back; got %d of %d", got, freeBefore)
	}
}

func TestAllocateZeroesBlocks(t *testing.T) {
	a := AllocateFrom(vmm.PoolKernel, 64)
	vmm.WriteU32(a, 0xFFFFFFFF)
	FreeFrom(vmm.PoolKernel, a)
	b := AllocateFrom(vmm.PoolKernel, 64)
	if got := vmm.ReadU32(b); got != 0 {
		t.Fatalf("expected a zeroed block; got 0x%x", got)
	}

	FreeFrom(vmm.PoolKernel, b)
}
