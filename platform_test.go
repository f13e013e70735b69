// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"runtime"
	"unsafe"
)

// mockPlatform is a Platform collaborator over a single identity-mapped
// process-memory region, used to exercise the controller core without a
// real PCI device (spec.md §8's "mock controller + mock device" scenarios
// drive against exactly this kind of fake).
type mockPlatform struct {
	qemu bool

	irqHandler func()
}

// mockBackings keeps every buffer mockPlatform hands out reachable for the
// duration of the test binary.
var mockBackings [][]byte

func mockAlloc(size uint) uintptr {
	buf := make([]byte, size)
	mockBackings = append(mockBackings, buf)
	runtime.KeepAlive(buf)
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (p *mockPlatform) MapMMIO(bar uintptr, size uint) (uintptr, error) {
	// bar is already a test-allocated virtual address in these tests;
	// a real Platform would map a physical BAR here.
	return bar, nil
}

func (p *mockPlatform) VirtToPhys(vaddr uintptr) uint64 {
	// identity mapping: this core never dereferences the "physical"
	// value itself, it only round-trips it through registers the mock
	// reads back with internal/reg, so identity is sufficient.
	return uint64(vaddr)
}

func (p *mockPlatform) MarkUncacheable(vaddr uintptr, size uint) {}

func (p *mockPlatform) RegisterIRQ(vector int, handler func()) {
	p.irqHandler = handler
}

func (p *mockPlatform) SleepMs(n int) {}
func (p *mockPlatform) SleepUs(n int) {}

func (p *mockPlatform) IsQEMU() bool { return p.qemu }
