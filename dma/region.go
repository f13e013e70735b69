// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma implements the DMA allocator facade described by spec.md
// §4.2: a first-fit allocator over a pre-reserved, contiguous address
// range, handing out zero-initialized buffers that satisfy an alignment
// and a boundary constraint (an allocated block must never straddle a
// multiple of the boundary).
//
// The package follows the allocator design of
// github.com/usbarmory/tamago's dma package: a doubly-linked free list of
// blocks, addresses treated as literal memory locations rather than file
// offsets, so reading/writing a DMA buffer is a plain memory copy once its
// address is known. Unlike tamago, which runs on SoCs with a single
// identity-mapped physical/virtual address space, this package only ever
// deals in the driver's own virtual addresses: physical-address
// translation for the DMA engine is the job of the Platform collaborator
// (see the root xhci package), reached through its VirtToPhys method.
package dma

import (
	"container/list"
	"fmt"
	"sync"
)

// Constraint describes the alignment and boundary requirements of a class
// of xHCI DMA-visible structure (spec.md §4.2).
type Constraint struct {
	// Align is the required power-of-2 byte alignment. Zero means word
	// alignment (4).
	Align uint
	// Boundary is the byte multiple an allocation must not straddle.
	// Zero means no boundary constraint.
	Boundary uint
	// MaxSize, if non-zero, bounds the size of a single allocation
	// against this constraint (e.g. scratchpad buffers are always
	// exactly one page).
	MaxSize uint
}

// Constraints for the structures spec.md §4.2 enumerates.
var (
	RingConstraint       = Constraint{Align: 64, Boundary: 64 * 1024}
	DCBAAConstraint      = Constraint{Align: 64, Boundary: 4096}
	ScratchpadConstraint = Constraint{Align: 4096, Boundary: 4096, MaxSize: 4096}
	Context32Constraint  = Constraint{Align: 32, Boundary: 4096}
	Context64Constraint  = Constraint{Align: 64, Boundary: 4096}
	InputCtxConstraint   = Constraint{Align: 64, Boundary: 4096}
)

// AllocError reports that a DMA allocation could not be satisfied, either
// because it violates its own Constraint or because the Region has no free
// block left large enough to hold it.
type AllocError struct {
	Size   uint
	Reason string
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("dma: allocation of %d bytes failed: %s", e.Size, e.Reason)
}

// AccessError reports a Read or Write against an address or offset that was
// never handed out by Alloc, or that runs past the end of the block it was.
type AccessError struct {
	Addr   uintptr
	Reason string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("dma: access at %#x failed: %s", e.Addr, e.Reason)
}

// Region represents a memory region allocated for DMA purposes.
type Region struct {
	sync.Mutex

	start uintptr
	size  uint

	freeBlocks *list.List
	usedBlocks map[uintptr]*block
}

var dma *Region

// Init initializes a memory region for DMA buffer allocation. The caller
// must guarantee the passed range is used for nothing else and, on real
// hardware, has already been mapped uncacheable/DMA-coherent as needed
// (spec.md's mark_uncacheable Platform call).
func (r *Region) Init(start uintptr, size uint) {
	r.start = start
	r.size = size

	r.freeBlocks = list.New()
	r.freeBlocks.PushFront(&block{addr: start, size: size})
	r.usedBlocks = make(map[uintptr]*block)
}

// Init initializes the package-level default Region, reachable through the
// free functions below (Alloc, Read, Write, Free) as well as Default().
func Init(start uintptr, size uint) {
	dma = &Region{}
	dma.Init(start, size)
}

// Default returns the package-level default Region.
func Default() *Region {
	return dma
}

// Start returns the region's start address.
func (r *Region) Start() uintptr {
	return r.start
}

// End returns the region's end address.
func (r *Region) End() uintptr {
	return r.start + uintptr(r.size)
}

// Size returns the region's size.
func (r *Region) Size() uint {
	return r.size
}

// Alloc reserves size bytes satisfying c, zeroes them, and returns the
// allocation's address together with a slice over it. The allocation is
// released with Free. It returns an *AllocError rather than panicking when
// size violates c.MaxSize or no free block is large enough.
func (r *Region) Alloc(size uint, c Constraint) (addr uintptr, buf []byte, err error) {
	if size == 0 {
		return 0, nil, nil
	}

	if c.MaxSize != 0 && size > c.MaxSize {
		return 0, nil, &AllocError{Size: size, Reason: fmt.Sprintf("exceeds constraint max %d", c.MaxSize)}
	}

	r.Lock()
	defer r.Unlock()

	b, err := r.alloc(size, c)
	if err != nil {
		return 0, nil, err
	}
	buf = b.slice()

	for i := range buf {
		buf[i] = 0
	}

	r.usedBlocks[b.addr] = b

	return b.addr, buf, nil
}

// Alloc reserves size bytes against the default Region.
func Alloc(size uint, c Constraint) (addr uintptr, buf []byte, err error) {
	return dma.Alloc(size, c)
}

// Read reads len(buf) bytes at offset off within a previously allocated
// block, returning an *AccessError instead of panicking if addr was never
// allocated or the read runs past the end of its block.
func (r *Region) Read(addr uintptr, off int, buf []byte) error {
	if addr == 0 || len(buf) == 0 {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return &AccessError{Addr: addr, Reason: "read of unallocated address"}
	}

	if uint(off+len(buf)) > b.size {
		return &AccessError{Addr: addr, Reason: "invalid read parameters"}
	}

	b.read(uint(off), buf)
	return nil
}

// Read reads from the default Region.
func Read(addr uintptr, off int, buf []byte) error {
	return dma.Read(addr, off, buf)
}

// Write writes buf at offset off within a previously allocated block,
// returning an *AccessError instead of panicking if addr was never
// allocated or the write runs past the end of its block.
func (r *Region) Write(addr uintptr, off int, buf []byte) error {
	if addr == 0 || len(buf) == 0 {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return &AccessError{Addr: addr, Reason: "write of unallocated address"}
	}

	if uint(off+len(buf)) > b.size {
		return &AccessError{Addr: addr, Reason: "invalid write parameters"}
	}

	b.write(uint(off), buf)
	return nil
}

// Write writes to the default Region.
func Write(addr uintptr, off int, buf []byte) error {
	return dma.Write(addr, off, buf)
}

// Free releases a previously allocated block.
func (r *Region) Free(addr uintptr) {
	if addr == 0 {
		return
	}

	r.Lock()
	defer r.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return
	}

	r.free(b)
	delete(r.usedBlocks, addr)
}

// Free releases a block previously allocated against the default Region.
func Free(addr uintptr) {
	dma.Free(addr)
}

func (r *Region) defrag() {
	var prev *block

	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prev != nil && prev.addr+uintptr(prev.size) == b.addr {
			prev.size += b.size
			defer r.freeBlocks.Remove(e)
			continue
		}

		prev = b
	}
}

// alloc finds the first free block able to hold size bytes aligned to
// c.Align without crossing a c.Boundary multiple, splitting off the unused
// head (padding) and tail back onto the free list.
func (r *Region) alloc(size uint, c Constraint) (*block, error) {
	align := c.Align
	if align == 0 {
		align = 4
	}

	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		pad := alignPad(b.addr, align)
		candidate := b.addr + uintptr(pad)

		if crossesBoundary(candidate, size, c.Boundary) {
			next := nextBoundary(candidate, c.Boundary)
			pad = uint(next - uint64(b.addr))
			candidate = b.addr + uintptr(pad)
		}

		total := size + pad
		if b.size < total {
			continue
		}

		if pad != 0 {
			r.freeBlocks.InsertBefore(&block{addr: b.addr, size: pad}, e)
		}

		if rest := b.size - total; rest != 0 {
			r.freeBlocks.InsertBefore(&block{addr: candidate + uintptr(size), size: rest}, e)
		}

		r.freeBlocks.Remove(e)

		return &block{addr: candidate, size: size}, nil
	}

	return nil, &AllocError{Size: size, Reason: "out of memory"}
}

func (r *Region) free(used *block) {
	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.addr > used.addr {
			r.freeBlocks.InsertBefore(used, e)
			r.defrag()
			return
		}
	}

	r.freeBlocks.PushBack(used)
	r.defrag()
}

func alignPad(addr uintptr, align uint) uint {
	if align == 0 {
		return 0
	}

	r := uint(addr) & (align - 1)
	if r == 0 {
		return 0
	}

	return align - r
}

func nextBoundary(addr uintptr, boundary uint) uint64 {
	return ((uint64(addr) / uint64(boundary)) + 1) * uint64(boundary)
}
