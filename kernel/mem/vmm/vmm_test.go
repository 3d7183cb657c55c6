package vmm

import (
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
)

// bootSmall assembles a machine whose pools hold 16 kernel and 16 user
// pages so exhaustion is easy to trigger.
func bootSmall() {
	hal.Boot(hal.Config{MemSize: 2*mem.MB + 32*mem.PageSize})
	Init()
}

func TestRecursivePageDirAccess(t *testing.T) {
	bootSmall()

	v := VrAddr(mem.KrnlBase + 0x1234)
	pde := v.PageDirEntry()
	if !pde.IsPresent() {
		t.Fatal("expected the kernel page directory entry to be present")
	}

	// The directory itself is visible through the self-reference.
	if got := ReadU32(PageDirBase + VrAddr(mem.PageDirSelfRef*4)); PageEntry(got).Addr() != hal.KrnlPageDirPhysBase {
		t.Fatalf("expected the self-reference to point at the directory; got 0x%x", got)
	}

	// The low megabyte is identity mapped and mapped at the kernel base.
	if got := VrAddr(mem.KrnlBase + 0x1234).PhysAddr(); got != 0x1234 {
		t.Fatalf("expected the kernel base mapping to reach 0x1234; got 0x%x", got)
	}
}

func TestAllocPagesMapsAndZeroes(t *testing.T) {
	bootSmall()

	base := AllocPages(PoolKernel, 3)
	if base != KrnlHeapBase {
		t.Fatalf("expected the first heap address 0x%x; got 0x%x", uint32(KrnlHeapBase), uint32(base))
	}

	for i := uint32(0); i != 3; i++ {
		page := base + VrAddr(i*mem.PageSize)
		if !page.IsMapped() {
			t.Fatalf("expected page %d to be mapped", i)
		}

		if got := ReadU32(page); got != 0 {
			t.Fatalf("expected page %d to be zeroed; got 0x%x", i, got)
		}
	}

	WriteU32(base+VrAddr(2*mem.PageSize+8), 0xDEADBEEF)
	if got := ReadU32(base + VrAddr(2*mem.PageSize+8)); got != 0xDEADBEEF {
		t.Fatalf("expected the write to read back; got 0x%x", got)
	}

	FreePages(base, 3)
	if got := MemPool(PoolKernel).FreeCount(); got != 16 {
		t.Fatalf("expected all 16 kernel pages free after the free; got %d", got)
	}
}

func TestAllocPagesRollsBackOnExhaustion(t *testing.T) {
	bootSmall()

	// Steal three physical pages so the address pool is larger than the
	// physical pool.
	stolen := MemPool(PoolKernel).AllocPages(3)
	if stolen == 0 {
		t.Fatal("expected the steal to succeed")
	}

	if got := AllocPages(PoolKernel, 16); got != 0 {
		t.Fatalf("expected exhaustion to fail the allocation; got 0x%x", uint32(got))
	}

	if got := MemPool(PoolKernel).FreeCount(); got != 13 {
		t.Fatalf("expected the physical pool to be restored to 13 pages; got %d", got)
	}

	if got := AddrPool(PoolKernel).FreeCount(); got != 16 {
		t.Fatalf("expected the address pool to be restored to 16 pages; got %d", got)
	}

	if got := AllocPages(PoolKernel, 13); got == 0 {
		t.Fatal("expected the rolled-back pages to be allocatable")
	}
}

func TestUnmapWithoutPageTableIsNoOp(t *testing.T) {
	bootSmall()

	v := VrAddr(0x08048000)
	if v.PageDirEntry().IsPresent() {
		t.Fatal("expected no page table for the user image base")
	}

	v.Unmap()
}

func TestAllocPageAt(t *testing.T) {
	bootSmall()

	target := KrnlHeapBase + VrAddr(5*mem.PageSize+123)
	got := AllocPageAt(PoolKernel, target)
	if got != target.PageAddr() {
		t.Fatalf("expected the aligned page base; got 0x%x", uint32(got))
	}

	if !got.IsMapped() {
		t.Fatal("expected the pinned page to be mapped")
	}
}
