// Package pmm implements the physical memory page pools. A pool hands out
// page-aligned physical frames tracked by a bitmap; the kernel and user
// halves of memory each get their own pool.
package pmm

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/sync"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/bitmap"
)

// PhyMemPagePool allocates physical memory in pages.
//
// The pool only manages physical pages. They cannot be accessed directly
// after allocation; each page should be mapped to a virtual address first.
type PhyMemPagePool struct {
	mtx          sync.Mutex
	startPhyAddr uint32
	freeCount    uint32
	bm           bitmap.Bitmap
}

// Init creates a pool starting at a physical address with a bitmap over
// the supplied buffer.
func (p *PhyMemPagePool) Init(startPhyAddr uint32, bits []byte) {
	p.startPhyAddr = startPhyAddr
	p.bm = bitmap.New(bits, true)
	p.freeCount = p.bm.Capacity()
}

// AllocPages reserves count contiguous physical pages and returns the
// physical base address, or 0 if the pool cannot satisfy the request.
func (p *PhyMemPagePool) AllocPages(count uint32) uint32 {
	if count == 0 {
		kfmt.Panicf("pmm", "the allocation count is zero")
	}

	begin := p.bm.Alloc(count)
	if begin == bitmap.NPos {
		return 0
	}

	p.freeCount -= count
	return p.startPhyAddr + begin*mem.PageSize
}

// FreePages releases count pages starting at a page-aligned base.
func (p *PhyMemPagePool) FreePages(phyBase, count uint32) {
	if phyBase < p.startPhyAddr || phyBase%mem.PageSize != 0 {
		kfmt.Panicf("pmm", "0x%x is not a page base of this pool", phyBase)
	}

	p.bm.Free((phyBase-p.startPhyAddr)/mem.PageSize, count)
	p.freeCount += count
}

// FreeCount returns the number of free pages.
func (p *PhyMemPagePool) FreeCount() uint32 {
	return p.freeCount
}

// StartAddr returns the physical address of the first page.
func (p *PhyMemPagePool) StartAddr() uint32 {
	return p.startPhyAddr
}

// Lock returns the pool lock. It must be held across allocation or
// release.
func (p *PhyMemPagePool) Lock() *sync.Mutex {
	return &p.mtx
}
