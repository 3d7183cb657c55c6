package vmm

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/pmm"
)

// PoolType selects the kernel or the user memory pools.
type PoolType int

const (
	// PoolKernel selects kernel memory.
	PoolKernel PoolType = iota
	// PoolUser selects user memory.
	PoolUser
)

const (
	// KrnlPageDirStart is the index of the first kernel page directory
	// entry.
	KrnlPageDirStart = mem.KrnlBase >> 22

	// KrnlPageDirCount is the number of kernel page directory entries
	// excluding the self-reference.
	KrnlPageDirCount = mem.PageDirCount - KrnlPageDirStart - 1

	// KrnlHeapBase is the first virtual address the kernel address pool
	// hands out.
	KrnlHeapBase VrAddr = mem.KrnlBase + 0x00100000

	// bitmapBase is the physical address of the pool bitmaps. The loader
	// reserves this region below the kernel image.
	bitmapBase = 0x0009A000
)

var (
	krnlMemPool  pmm.PhyMemPagePool
	usrMemPool   pmm.PhyMemPagePool
	krnlAddrPool VrAddrPool

	// usrAddrPoolFn returns the user address pool of the current
	// process. The task package installs it once processes exist.
	usrAddrPoolFn = func() *VrAddrPool {
		kfmt.Panicf("vmm", "no user process is running")
		return nil
	}

	inited bool
)

// SetUserAddrPoolProvider installs the accessor for the current process's
// user address pool.
func SetUserAddrPoolProvider(fn func() *VrAddrPool) {
	usrAddrPoolFn = fn
}

// Init sets up the physical pools and the kernel address pool from the
// memory size the loader recorded. The kernel and users each get half of
// the memory left over after the kernel image and its paging structures.
func Init() {
	total := hal.ReadU32(hal.MemSizeAddr)
	used := uint32(mem.PageSize + KrnlPageDirCount*mem.PageSize + mem.KrnlSize)
	freePages := (total - used) / mem.PageSize
	krnlFreePages := freePages / 2
	usrFreePages := freePages - krnlFreePages

	krnlMemBase := used
	usrMemBase := krnlMemBase + krnlFreePages*mem.PageSize

	krnlBmLen := krnlFreePages / 8
	usrBmLen := usrFreePages / 8

	krnlMemPool.Init(krnlMemBase, hal.Bytes(bitmapBase, krnlBmLen))
	usrMemPool.Init(usrMemBase, hal.Bytes(bitmapBase+krnlBmLen, usrBmLen))
	krnlAddrPool.Init(KrnlHeapBase, hal.Bytes(bitmapBase+krnlBmLen+usrBmLen, krnlBmLen), true)
	inited = true

	kfmt.Printf("[vmm] memory pools have been initialized\n")
	kfmt.Printf("\tthe memory size is 0x%x\n", total)
	kfmt.Printf("\tthe kernel physical memory starts at 0x%x\n", krnlMemBase)
	kfmt.Printf("\tthe user physical memory starts at 0x%x\n", usrMemBase)
}

// IsInited reports whether memory management has been initialized.
func IsInited() bool {
	return inited
}

// MemPool returns the physical page pool of a pool type.
func MemPool(t PoolType) *pmm.PhyMemPagePool {
	if t == PoolKernel {
		return &krnlMemPool
	}

	return &usrMemPool
}

// AddrPool returns the virtual address pool of a pool type. The user pool
// belongs to the current process.
func AddrPool(t PoolType) *VrAddrPool {
	if t == PoolKernel {
		return &krnlAddrPool
	}

	return usrAddrPoolFn()
}

// PoolTypeOfPhys returns the pool a physical address belongs to.
func PoolTypeOfPhys(phyAddr uint32) PoolType {
	if phyAddr < usrMemPool.StartAddr() {
		return PoolKernel
	}

	return PoolUser
}

// PoolTypeOf returns the pool the physical page behind a virtual address
// belongs to.
func PoolTypeOf(v VrAddr) PoolType {
	return PoolTypeOfPhys(v.PhysAddr())
}

func allocPages(memPool *pmm.PhyMemPagePool, addrPool *VrAddrPool, count uint32) VrAddr {
	vrBase := addrPool.AllocPages(count)
	if vrBase == 0 {
		return 0
	}

	for i := uint32(0); i != count; i++ {
		vrAddr := vrBase + VrAddr(i*mem.PageSize)
		// A page that is already mapped belongs to a forked address
		// space being replayed; it keeps its copied contents.
		if vrAddr.IsMapped() {
			continue
		}

		phyPage := memPool.AllocPages(1)
		if phyPage == 0 {
			// Roll back everything already mapped together with the
			// remaining reserved addresses.
			if i > 0 {
				freePages(memPool, addrPool, vrBase, i)
			}

			addrPool.FreePages(vrBase+VrAddr(i*mem.PageSize), count-i)
			return 0
		}

		vrAddr.MapToPhys(phyPage)
		Memset(vrAddr, 0, mem.PageSize)
	}

	return vrBase
}

func freePages(memPool *pmm.PhyMemPagePool, addrPool *VrAddrPool, vrBase VrAddr, count uint32) {
	for i := uint32(0); i != count; i++ {
		vrAddr := vrBase + VrAddr(i*mem.PageSize)
		memPool.FreePages(vrAddr.PhysAddr(), 1)
		vrAddr.Unmap()
	}

	addrPool.FreePages(vrBase, count)
}

// AllocPages reserves count contiguous virtual pages from a pool and maps
// each of them to a freshly allocated physical page. The returned region
// is zeroed. It returns 0 when the request cannot be satisfied; partial
// allocations are rolled back.
func AllocPages(t PoolType, count uint32) VrAddr {
	memPool := MemPool(t)
	memPool.Lock().Lock()
	defer memPool.Lock().Unlock()
	return allocPages(memPool, AddrPool(t), count)
}

// AllocPageAt reserves the page containing a specific virtual address and
// maps it to a freshly allocated physical page.
func AllocPageAt(t PoolType, vrAddr VrAddr) VrAddr {
	return AllocPageAtWithPool(t, AddrPool(t), vrAddr)
}

// AllocPageAtWithPool is AllocPageAt against an explicit address pool,
// used when the target process is not the current one.
func AllocPageAtWithPool(t PoolType, addrPool *VrAddrPool, vrAddr VrAddr) VrAddr {
	memPool := MemPool(t)
	memPool.Lock().Lock()
	defer memPool.Lock().Unlock()

	aligned := addrPool.AllocPageAt(vrAddr)
	// An already mapped page belongs to a forked address space being
	// replayed; it keeps its copied contents.
	if aligned.IsMapped() {
		return aligned
	}

	phyPage := memPool.AllocPages(1)
	if phyPage == 0 {
		addrPool.FreePages(aligned, 1)
		return 0
	}

	aligned.MapToPhys(phyPage)
	return aligned
}

// FreePages unmaps and releases count pages starting at a page-aligned
// virtual base. The owning pool is derived from the mapped physical
// address.
func FreePages(vrBase VrAddr, count uint32) {
	t := PoolTypeOf(vrBase)
	memPool := MemPool(t)
	memPool.Lock().Lock()
	defer memPool.Lock().Unlock()
	freePages(memPool, AddrPool(t), vrBase, count)
}
