// Package kheap implements the byte-granular heap allocator on top of the
// page pools. Small requests are served from one-page arenas split into
// fixed-size blocks; larger requests get their own multi-page arenas.
package kheap

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem/vmm"
)

const (
	// MinBlockSize is the smallest managed block size.
	MinBlockSize = 16
	// MaxBlockSize is the largest managed block size; larger requests
	// are served by large arenas.
	MaxBlockSize = 1024

	descCount = 7

	// arenaHdrSize is the size of the arena header at the start of every
	// arena page: descriptor index, count and the large flag, each a
	// 32-bit word.
	arenaHdrSize = 12

	noDesc = ^uint32(0)
)

// BlockDesc manages the free blocks of one block size. Free blocks are
// threaded through the arenas themselves: the first word of a free block
// holds the address of the next one.
type BlockDesc struct {
	blockSize      uint32
	blocksPerArena uint32
	freeHead       vmm.VrAddr
}

// BlockSize returns the block size the descriptor manages.
func (d *BlockDesc) BlockSize() uint32 {
	return d.blockSize
}

// BlocksPerArena returns the number of blocks an arena holds.
func (d *BlockDesc) BlocksPerArena() uint32 {
	return d.blocksPerArena
}

// FreeCount walks the free list and returns the number of free blocks.
func (d *BlockDesc) FreeCount() uint32 {
	n := uint32(0)
	for curr := d.freeHead; curr != 0; curr = vmm.VrAddr(vmm.ReadU32(curr)) {
		n++
	}

	return n
}

func (d *BlockDesc) push(block vmm.VrAddr) {
	vmm.WriteU32(block, uint32(d.freeHead))
	d.freeHead = block
}

func (d *BlockDesc) pop() vmm.VrAddr {
	block := d.freeHead
	if block != 0 {
		d.freeHead = vmm.VrAddr(vmm.ReadU32(block))
	}

	return block
}

// detachArenaBlocks unlinks every free block living in the arena page.
func (d *BlockDesc) detachArenaBlocks(arena vmm.VrAddr) {
	for d.freeHead != 0 && d.freeHead.PageAddr() == arena {
		d.freeHead = vmm.VrAddr(vmm.ReadU32(d.freeHead))
	}

	for curr := d.freeHead; curr != 0; {
		next := vmm.VrAddr(vmm.ReadU32(curr))
		if next != 0 && next.PageAddr() == arena {
			vmm.WriteU32(curr, vmm.ReadU32(next))
			continue
		}

		curr = next
	}
}

// BlockDescTab holds the seven descriptors of one memory pool. The kernel
// has one table; each user process carries its own.
type BlockDescTab struct {
	descs [descCount]BlockDesc
}

// Init sets up descriptors for sizes 16, 32, ... 1024.
func (t *BlockDescTab) Init() {
	size := uint32(MinBlockSize)
	for i := range t.descs {
		t.descs[i] = BlockDesc{
			blockSize:      size,
			blocksPerArena: (mem.PageSize - arenaHdrSize) / size,
		}
		size *= 2
	}
}

// MinDesc returns the smallest descriptor whose block size satisfies the
// required size, or nil if the size needs a large arena.
func (t *BlockDescTab) MinDesc(size uint32) *BlockDesc {
	for i := range t.descs {
		if size <= t.descs[i].blockSize {
			return &t.descs[i]
		}
	}

	return nil
}

// Desc returns the descriptor at an index.
func (t *BlockDescTab) Desc(idx uint32) *BlockDesc {
	return &t.descs[idx]
}

func (t *BlockDescTab) descIdx(d *BlockDesc) uint32 {
	for i := range t.descs {
		if &t.descs[i] == d {
			return uint32(i)
		}
	}

	kfmt.Panicf("kheap", "the descriptor is not in the table")
	return 0
}

// arena header accessors

func arenaOf(block vmm.VrAddr) vmm.VrAddr {
	return block.PageAddr()
}

func arenaDescIdx(arena vmm.VrAddr) uint32 {
	return vmm.ReadU32(arena)
}

func arenaCount(arena vmm.VrAddr) uint32 {
	return vmm.ReadU32(arena + 4)
}

func arenaIsLarge(arena vmm.VrAddr) bool {
	return vmm.ReadU32(arena+8) != 0
}

func setArenaHdr(arena vmm.VrAddr, descIdx, count uint32, large bool) {
	vmm.WriteU32(arena, descIdx)
	vmm.WriteU32(arena+4, count)
	if large {
		vmm.WriteU32(arena+8, 1)
	} else {
		vmm.WriteU32(arena+8, 0)
	}
}

func setArenaCount(arena vmm.VrAddr, count uint32) {
	vmm.WriteU32(arena+4, count)
}

func arenaBlock(arena vmm.VrAddr, d *BlockDesc, idx uint32) vmm.VrAddr {
	return arena + arenaHdrSize + vmm.VrAddr(idx*d.blockSize)
}

var (
	krnlDescs BlockDescTab

	// usrDescsFn returns the descriptor table of the current process and
	// currentPoolFn the pool the running thread allocates from; the task
	// package installs both.
	usrDescsFn = func() *BlockDescTab {
		kfmt.Panicf("kheap", "no user process is running")
		return nil
	}

	currentPoolFn = func() vmm.PoolType { return vmm.PoolKernel }

	inited bool
)

// SetUserStateProviders installs the accessors for per-process heap state.
func SetUserStateProviders(descs func() *BlockDescTab, pool func() vmm.PoolType) {
	usrDescsFn = descs
	currentPoolFn = pool
}

// Init sets up the kernel descriptor table.
func Init() {
	krnlDescs.Init()
	inited = true
}

// IsInited reports whether the heap allocator has been initialized.
func IsInited() bool {
	return inited
}

// KrnlDescTab returns the kernel block descriptor table.
func KrnlDescTab() *BlockDescTab {
	return &krnlDescs
}

// DescTab returns the descriptor table of a pool type.
func DescTab(t vmm.PoolType) *BlockDescTab {
	if t == vmm.PoolKernel {
		return &krnlDescs
	}

	return usrDescsFn()
}

// AllocateFrom allocates size bytes of virtual memory from a pool and
// returns the address, or 0 when memory is exhausted.
func AllocateFrom(t vmm.PoolType, size uint32) vmm.VrAddr {
	if size == 0 {
		kfmt.Panicf("kheap", "the allocation size is zero")
	}

	if vmm.MemPool(t).FreeCount()*mem.PageSize < size {
		return 0
	}

	if size > MaxBlockSize {
		pages := mem.PageCount(size + arenaHdrSize)
		arena := vmm.AllocPages(t, pages)
		if arena == 0 {
			return 0
		}

		setArenaHdr(arena, noDesc, pages, true)
		return arena + arenaHdrSize
	}

	descs := DescTab(t)
	desc := descs.MinDesc(size)
	if desc.freeHead == 0 {
		// The free list is empty; carve a fresh arena into blocks.
		arena := vmm.AllocPages(t, 1)
		if arena == 0 {
			return 0
		}

		setArenaHdr(arena, descs.descIdx(desc), desc.blocksPerArena, false)
		guard := irq.NewGuard()
		for i := desc.blocksPerArena; i != 0; i-- {
			desc.push(arenaBlock(arena, desc, i-1))
		}

		guard.Leave()
	}

	block := desc.pop()
	vmm.Memset(block, 0, desc.blockSize)
	arena := arenaOf(block)
	setArenaCount(arena, arenaCount(arena)-1)
	return block
}

// Allocate allocates size bytes from the pool of the running thread.
func Allocate(size uint32) vmm.VrAddr {
	return AllocateFrom(currentPoolFn(), size)
}

// FreeFrom releases memory returned by AllocateFrom back to a pool.
func FreeFrom(t vmm.PoolType, addr vmm.VrAddr) {
	if addr == 0 {
		return
	}

	arena := arenaOf(addr)
	if arenaIsLarge(arena) {
		vmm.FreePages(arena, arenaCount(arena))
		return
	}

	descs := DescTab(t)
	desc := descs.Desc(arenaDescIdx(arena))
	desc.push(addr)
	count := arenaCount(arena) + 1
	setArenaCount(arena, count)
	if count == desc.blocksPerArena {
		// Every block is free again; drop the arena page.
		desc.detachArenaBlocks(arena)
		vmm.FreePages(arena, 1)
	}
}

// Free releases memory back to the pool that owns the address.
func Free(addr vmm.VrAddr) {
	if addr == 0 {
		return
	}

	FreeFrom(vmm.PoolTypeOf(addr), addr)
}
