// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"unsafe"
)

type block struct {
	// pointer address
	addr uintptr
	// buffer size
	size uint
}

func (b *block) read(off uint, buf []byte) {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(b.addr+uintptr(off))), len(buf))
	copy(buf, mem)
}

func (b *block) write(off uint, buf []byte) {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(b.addr+uintptr(off))), len(buf))
	copy(mem, buf)
}

func (b *block) slice() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(b.addr)), int(b.size))
}

// crossesBoundary reports whether the [addr, addr+size) range crosses any
// multiple of boundary, which xHCI ring/context/scratchpad allocations must
// never do (spec.md §4.2).
func crossesBoundary(addr uintptr, size uint, boundary uint) bool {
	if boundary == 0 || size == 0 {
		return false
	}

	first := uint64(addr) / uint64(boundary)
	last := (uint64(addr) + uint64(size) - 1) / uint64(boundary)

	return first != last
}
