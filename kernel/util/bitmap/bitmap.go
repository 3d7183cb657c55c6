// Package bitmap implements a fixed-width bit allocator over a byte
// buffer.
package bitmap

import "github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"

// NPos is returned by Alloc when no run of free bits is available.
const NPos = ^uint32(0)

const bitsPerByte = 8

// Bitmap manages allocation bits stored in an external byte buffer.
type Bitmap struct {
	bits []byte
}

// New creates a bitmap over bits, optionally clearing the buffer.
func New(bits []byte, clear bool) Bitmap {
	if len(bits) == 0 {
		kfmt.Panicf("bitmap", "the bit buffer is empty")
	}

	bm := Bitmap{bits: bits}
	if clear {
		bm.Clear()
	}

	return bm
}

// Capacity returns the number of bits the bitmap manages.
func (bm Bitmap) Capacity() uint32 {
	return uint32(len(bm.bits)) * bitsPerByte
}

// ByteLen returns the length of the underlying buffer in bytes.
func (bm Bitmap) ByteLen() uint32 {
	return uint32(len(bm.bits))
}

// Bits returns the underlying buffer.
func (bm Bitmap) Bits() []byte {
	return bm.bits
}

// Clear frees every bit.
func (bm Bitmap) Clear() {
	for i := range bm.bits {
		bm.bits[i] = 0
	}
}

// IsAlloc reports whether a bit is allocated.
func (bm Bitmap) IsAlloc(idx uint32) bool {
	bm.checkIdx(idx)
	return bm.bits[idx/bitsPerByte]&(1<<(idx%bitsPerByte)) != 0
}

// Alloc finds the leftmost run of count free bits, marks them allocated
// and returns the index of the first one, or NPos if no such run exists.
func (bm Bitmap) Alloc(count uint32) uint32 {
	if count == 0 {
		kfmt.Panicf("bitmap", "the allocation count is zero")
	}

	run := uint32(0)
	for i := uint32(0); i != bm.Capacity(); i++ {
		if bm.IsAlloc(i) {
			run = 0
			continue
		}

		if run++; run == count {
			begin := i - count + 1
			bm.set(begin, count)
			return begin
		}
	}

	return NPos
}

// ForceAlloc unconditionally marks bits as allocated.
func (bm Bitmap) ForceAlloc(begin, count uint32) {
	if count > 0 {
		bm.set(begin, count)
	}
}

// Free clears bits.
func (bm Bitmap) Free(begin, count uint32) {
	for i := uint32(0); i != count; i++ {
		bm.checkIdx(begin + i)
		bm.bits[(begin+i)/bitsPerByte] &^= 1 << ((begin + i) % bitsPerByte)
	}
}

func (bm Bitmap) set(begin, count uint32) {
	for i := uint32(0); i != count; i++ {
		bm.checkIdx(begin + i)
		bm.bits[(begin+i)/bitsPerByte] |= 1 << ((begin + i) % bitsPerByte)
	}
}

func (bm Bitmap) checkIdx(idx uint32) {
	if idx >= bm.Capacity() {
		kfmt.Panicf("bitmap", "bit %d is out of range", idx)
	}
}
