package vmm

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/util/bitmap"
)

// VrAddrPool allocates virtual addresses in pages.
//
// The pool only manages addresses. They cannot be accessed after
// allocation until they are mapped to physical pages.
type VrAddrPool struct {
	startVrAddr VrAddr
	freeCount   uint32
	bm          bitmap.Bitmap
}

// Init creates a pool starting at a virtual address with a bitmap over
// the supplied buffer.
func (p *VrAddrPool) Init(startVrAddr VrAddr, bits []byte, clear bool) {
	p.startVrAddr = startVrAddr
	p.bm = bitmap.New(bits, clear)
	p.freeCount = p.bm.Capacity()
}

// AllocPages reserves count contiguous virtual page addresses and returns
// the first one, or 0 if the pool cannot satisfy the request.
func (p *VrAddrPool) AllocPages(count uint32) VrAddr {
	begin := p.bm.Alloc(count)
	if begin == bitmap.NPos {
		return 0
	}

	p.freeCount -= count
	return p.startVrAddr + VrAddr(begin*mem.PageSize)
}

// AllocPageAt reserves the page containing a specific virtual address and
// returns its page base.
func (p *VrAddrPool) AllocPageAt(vrAddr VrAddr) VrAddr {
	aligned := vrAddr.PageAddr()
	p.bm.ForceAlloc(uint32(aligned-p.startVrAddr)/mem.PageSize, 1)
	if p.freeCount == 0 {
		kfmt.Panicf("vmm", "the address pool is exhausted")
	}

	p.freeCount--
	return aligned
}

// FreePages releases count pages starting at a page-aligned base.
func (p *VrAddrPool) FreePages(vrBase VrAddr, count uint32) {
	if vrBase < p.startVrAddr || uint32(vrBase)%mem.PageSize != 0 {
		kfmt.Panicf("vmm", "0x%x is not a page base of this pool", uint32(vrBase))
	}

	p.bm.Free(uint32(vrBase-p.startVrAddr)/mem.PageSize, count)
	p.freeCount += count
}

// FreeCount returns the number of free page addresses.
func (p *VrAddrPool) FreeCount() uint32 {
	return p.freeCount
}

// StartAddr returns the first address the pool manages.
func (p *VrAddrPool) StartAddr() VrAddr {
	return p.startVrAddr
}

// Bitmap returns the allocation bitmap.
func (p *VrAddrPool) Bitmap() bitmap.Bitmap {
	return p.bm
}
