// Package vmm implements virtual memory: page entries, the recursive page
// directory access scheme, virtual address pools and the composed page
// allocator that backs virtual pages with physical frames.
package vmm

import "github.com/Zhuagenborn/Tiny-x86-OS/kernel/mem"

// PageEntry is a page directory entry or a page table entry. It encodes a
// physical page base and the present, writable and user/supervisor flags.
//
//	 31-12    11-9   8   7   6   5    4     3     2    1   0
//	┌────────────┬─────┬───┬───┬───┬───┬─────┬─────┬─────┬───┬───┐
//	│ Base 31-12 │ AVL │ G │ 0 │ D │ A │ PCD │ PWT │ U/S │ W │ P │
//	└────────────┴─────┴───┴───┴───┴───┴─────┴─────┴─────┴───┴───┘
type PageEntry uint32

const (
	entryPresent  PageEntry = 1 << 0
	entryWritable PageEntry = 1 << 1
	entryUser     PageEntry = 1 << 2

	entryAddrMask PageEntry = 0xFFFFF000
)

// NewPageEntry creates a page entry for a physical page base.
func NewPageEntry(phyAddr uint32, writable, user, present bool) PageEntry {
	e := PageEntry(phyAddr) & entryAddrMask
	if writable {
		e |= entryWritable
	}

	if user {
		e |= entryUser
	}

	if present {
		e |= entryPresent
	}

	return e
}

// IsPresent reports whether the page presents.
func (e PageEntry) IsPresent() bool {
	return e&entryPresent != 0
}

// IsWritable reports whether the page is writable.
func (e PageEntry) IsWritable() bool {
	return e&entryWritable != 0
}

// IsUser reports whether the page is accessible at user level.
func (e PageEntry) IsUser() bool {
	return e&entryUser != 0
}

// Addr returns the physical page base the entry points to.
func (e PageEntry) Addr() uint32 {
	return uint32(e & entryAddrMask)
}

// SetPresent returns the entry with the present flag updated.
func (e PageEntry) SetPresent(present bool) PageEntry {
	if present {
		return e | entryPresent
	}

	return e &^ entryPresent
}

// VrAddr is a 32-bit virtual address.
//
//	 31-22   21-12   11-0
//	│ PDE │  PTE  │ Offset │
type VrAddr uint32

// Compose builds a virtual address from paging indexes and an offset.
func Compose(pageDirEntry, pageTabEntry, offset uint32) VrAddr {
	return VrAddr(pageDirEntry<<22 | pageTabEntry<<12 | offset)
}

// PageDirEntryIdx returns the index of the page directory entry.
func (v VrAddr) PageDirEntryIdx() uint32 {
	return uint32(v) >> 22
}

// PageTabEntryIdx returns the index of the page table entry.
func (v VrAddr) PageTabEntryIdx() uint32 {
	return (uint32(v) >> 12) & 0x3FF
}

// Offset returns the offset in the page.
func (v VrAddr) Offset() uint32 {
	return uint32(v) & (mem.PageSize - 1)
}

// PageAddr returns the base address of the page containing v.
func (v VrAddr) PageAddr() VrAddr {
	return v - VrAddr(v.Offset())
}

// PageDirBase is the virtual address of the active page directory table.
// The last directory entry points to the directory itself, so with both
// the directory and table indexes set to the self-reference the directory
// is addressed as if it were a plain page.
const PageDirBase VrAddr = 0xFFFFF000

// pageDirEntryAddr returns the virtual address through which the page
// directory entry for v can be accessed in the active address space.
func (v VrAddr) pageDirEntryAddr() VrAddr {
	return Compose(mem.PageDirSelfRef, mem.PageDirSelfRef, v.PageDirEntryIdx()*4)
}

// pageTabEntryAddr returns the virtual address through which the page
// table entry for v can be accessed in the active address space.
func (v VrAddr) pageTabEntryAddr() VrAddr {
	return Compose(mem.PageDirSelfRef, v.PageDirEntryIdx(), v.PageTabEntryIdx()*4)
}

// PageDirEntry reads the page directory entry for v.
func (v VrAddr) PageDirEntry() PageEntry {
	return PageEntry(ReadU32(v.pageDirEntryAddr()))
}

// PageTabEntry reads the page table entry for v. The directory entry must
// be present.
func (v VrAddr) PageTabEntry() PageEntry {
	return PageEntry(ReadU32(v.pageTabEntryAddr()))
}

func (v VrAddr) setPageDirEntry(e PageEntry) {
	WriteU32(v.pageDirEntryAddr(), uint32(e))
}

func (v VrAddr) setPageTabEntry(e PageEntry) {
	WriteU32(v.pageTabEntryAddr(), uint32(e))
}

// IsMapped reports whether the virtual address is mapped to a physical
// address in the active address space.
func (v VrAddr) IsMapped() bool {
	return v.PageDirEntry().IsPresent() && v.PageTabEntry().IsPresent()
}
