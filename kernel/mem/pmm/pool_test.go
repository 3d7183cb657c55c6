package pmm

import (
	"testing"

	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
)

func TestAllocAndFreePages(t *testing.T) {
	var pool PhyMemPagePool
	pool.Init(0x200000, make([]byte, 2))

	if got := pool.FreeCount(); got != 16 {
		t.Fatalf("expected 16 free pages; got %d", got)
	}

	base := pool.AllocPages(4)
	if base != 0x200000 {
		t.Fatalf("expected the pool base; got 0x%x", base)
	}

	if got := pool.FreeCount(); got != 12 {
		t.Fatalf("expected 12 free pages; got %d", got)
	}

	next := pool.AllocPages(1)
	if next != 0x200000+4*mem.PageSize {
		t.Fatalf("expected the page after the run; got 0x%x", next)
	}

	pool.FreePages(base, 4)
	if got := pool.FreeCount(); got != 15 {
		t.Fatalf("expected 15 free pages; got %d", got)
	}

	// The freed run is reusable.
	if got := pool.AllocPages(4); got != base {
		t.Fatalf("expected the freed run; got 0x%x", got)
	}
}

func TestAllocFailsWhenExhausted(t *testing.T) {
	var pool PhyMemPagePool
	pool.Init(0x400000, make([]byte, 1))
	if got := pool.AllocPages(9); got != 0 {
		t.Fatalf("expected 0 for an oversized request; got 0x%x", got)
	}

	if got := pool.AllocPages(8); got == 0 {
		t.Fatal("expected the full pool to be allocatable")
	}

	if got := pool.AllocPages(1); got != 0 {
		t.Fatalf("expected 0 from an exhausted pool; got 0x%x", got)
	}
}
