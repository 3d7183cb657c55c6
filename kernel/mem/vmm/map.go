package vmm

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/cpu"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/hal"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"
)

// translate walks the active paging structures for v and returns the
// physical address, exactly as the MMU would.
func translate(v VrAddr) uint32 {
	pde := PageEntry(hal.ReadU32(cpu.ActivePageDir() + v.PageDirEntryIdx()*4))
	if !pde.IsPresent() {
		kfmt.Panicf("vmm", "the page directory entry for 0x%x is not present", uint32(v))
	}

	pte := PageEntry(hal.ReadU32(pde.Addr() + v.PageTabEntryIdx()*4))
	if !pte.IsPresent() {
		kfmt.Panicf("vmm", "the page table entry for 0x%x is not present", uint32(v))
	}

	return pte.Addr() + v.Offset()
}

// ReadU32 reads a 32-bit word through a virtual address.
func ReadU32(v VrAddr) uint32 {
	return hal.ReadU32(translate(v))
}

// WriteU32 writes a 32-bit word through a virtual address.
func WriteU32(v VrAddr, val uint32) {
	hal.WriteU32(translate(v), val)
}

// ReadBytes copies memory at a virtual address into buf.
func ReadBytes(v VrAddr, buf []byte) {
	read := uint32(0)
	for read < uint32(len(buf)) {
		left := mem.PageSize - (v + VrAddr(read)).Offset()
		chunk := uint32(len(buf)) - read
		if chunk > left {
			chunk = left
		}

		copy(buf[read:read+chunk], hal.Bytes(translate(v+VrAddr(read)), chunk))
		read += chunk
	}
}

// WriteBytes copies data into memory at a virtual address.
func WriteBytes(v VrAddr, data []byte) {
	written := uint32(0)
	for written < uint32(len(data)) {
		left := mem.PageSize - (v + VrAddr(written)).Offset()
		chunk := uint32(len(data)) - written
		if chunk > left {
			chunk = left
		}

		copy(hal.Bytes(translate(v+VrAddr(written)), chunk), data[written:written+chunk])
		written += chunk
	}
}

// Memset fills size bytes at a virtual address with val.
func Memset(v VrAddr, val byte, size uint32) {
	done := uint32(0)
	for done < size {
		left := mem.PageSize - (v + VrAddr(done)).Offset()
		chunk := size - done
		if chunk > left {
			chunk = left
		}

		buf := hal.Bytes(translate(v+VrAddr(done)), chunk)
		for i := range buf {
			buf[i] = val
		}

		done += chunk
	}
}

// MapToPhys maps the virtual address to a physical page. If the page
// table for it does not exist yet, a fresh page is taken from the kernel
// physical pool, installed as the directory entry and cleared.
func (v VrAddr) MapToPhys(phyAddr uint32) {
	if !v.PageDirEntry().IsPresent() {
		tabPhys := krnlMemPool.AllocPages(1)
		AssertAlloc(tabPhys)
		v.setPageDirEntry(NewPageEntry(tabPhys, true, true, true))
		Memset(Compose(mem.PageDirSelfRef, v.PageDirEntryIdx(), 0), 0, mem.PageSize)
	}

	if v.PageTabEntry().IsPresent() {
		kfmt.Panicf("vmm", "0x%x is already mapped", uint32(v))
	}

	v.setPageTabEntry(NewPageEntry(phyAddr, true, true, true))
}

// Unmap removes the mapping for the virtual address. Unmapping an address
// whose page table does not exist is a no-op.
func (v VrAddr) Unmap() {
	if v.PageDirEntry().IsPresent() {
		v.setPageTabEntry(v.PageTabEntry().SetPresent(false))
		cpu.FlushTLBEntry(uint32(v))
	}
}

// PhysAddr returns the physical address the virtual address is mapped to.
func (v VrAddr) PhysAddr() uint32 {
	return v.PageTabEntry().Addr() + v.Offset()
}

// AssertAlloc stops the kernel when an allocation returned no memory.
func AssertAlloc(addr uint32) {
	if addr == 0 {
		kfmt.Panicf("vmm", "failed to allocate memory")
	}
}
