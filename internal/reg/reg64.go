// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"sync/atomic"
	"unsafe"
)

// Get64 returns the bitfield at pos, masked, of a 64-bit register.
func Get64(addr uintptr, pos int, mask int) uint64 {
	r := (*uint64)(unsafe.Pointer(addr))
	v := atomic.LoadUint64(r)

	return (v >> pos) & uint64(mask)
}

// Read64 returns the raw value of a 64-bit register.
func Read64(addr uintptr) uint64 {
	r := (*uint64)(unsafe.Pointer(addr))
	return atomic.LoadUint64(r)
}

// Write64 stores val into a 64-bit register.
//
// xHCI (spec.md §4.1) requires that a 64-bit register be written as a
// single Qword store when possible, falling back to two Dword stores
// (low-dword first) otherwise; on a 64-bit host the atomic Qword store is
// always available, so Write64 always takes that path.
func Write64(addr uintptr, val uint64) {
	r := (*uint64)(unsafe.Pointer(addr))
	atomic.StoreUint64(r, val)
}

// WriteSplit64 performs the low-dword-first fallback write described in
// spec.md §4.1, for platforms or registers where a single 64-bit store is
// not guaranteed atomic.
func WriteSplit64(addr uintptr, val uint64) {
	lo := (*uint32)(unsafe.Pointer(addr))
	hi := (*uint32)(unsafe.Pointer(addr + 4))

	atomic.StoreUint32(lo, uint32(val))
	atomic.StoreUint32(hi, uint32(val>>32))
}

// Or64 ORs val into a 64-bit register.
func Or64(addr uintptr, val uint64) {
	r := (*uint64)(unsafe.Pointer(addr))

	v := atomic.LoadUint64(r)
	v |= val

	atomic.StoreUint64(r, v)
}
