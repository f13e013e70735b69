// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"runtime"
	"testing"
	"unsafe"
)

// testBackings keeps every test region's backing buffer reachable for the
// duration of the test binary; a bare uintptr does not keep its referent
// alive against the garbage collector.
var testBackings [][]byte

func newTestRegion(size uint) *Region {
	backing := make([]byte, size)
	testBackings = append(testBackings, backing)
	runtime.KeepAlive(backing)

	r := &Region{}
	r.Init(uintptr(unsafe.Pointer(&backing[0])), size)

	return r
}

func TestAllocAlignment(t *testing.T) {
	r := newTestRegion(64 * 1024)

	addr, buf, err := r.Alloc(128, Constraint{Align: 64})
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}

	if addr%64 != 0 {
		t.Fatalf("addr %#x not 64-byte aligned", addr)
	}

	if len(buf) != 128 {
		t.Fatalf("len(buf) = %d, want 128", len(buf))
	}

	for _, b := range buf {
		if b != 0 {
			t.Fatal("Alloc() did not zero the buffer")
		}
	}
}

func TestAllocBoundary(t *testing.T) {
	r := newTestRegion(256 * 1024)

	// a prior 1-byte allocation leaves the free block's start unaligned;
	// the next ring allocation must still not straddle a boundary.
	_, _, _ = r.Alloc(1, Constraint{Align: 1})

	addr, _, _ := r.Alloc(256, RingConstraint)

	if crossesBoundary(addr, 256, RingConstraint.Boundary) {
		t.Fatalf("allocation at %#x crosses a %#x boundary", addr, RingConstraint.Boundary)
	}
}

func TestFreeReuse(t *testing.T) {
	r := newTestRegion(4096)

	addr1, _, _ := r.Alloc(256, Constraint{Align: 4})
	r.Free(addr1)

	addr2, _, _ := r.Alloc(256, Constraint{Align: 4})

	if addr1 != addr2 {
		t.Fatalf("freed block not reused: addr1=%#x addr2=%#x", addr1, addr2)
	}
}

func TestReadWrite(t *testing.T) {
	r := newTestRegion(4096)

	addr, _, _ := r.Alloc(16, Constraint{Align: 4})

	want := []byte("0123456789abcdef")[:16]
	if err := r.Write(addr, 0, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got := make([]byte, 16)
	if err := r.Read(addr, 0, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if string(got) != string(want) {
		t.Fatalf("Read() = %q, want %q", got, want)
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	r := newTestRegion(128)

	_, _, err := r.Alloc(256, Constraint{Align: 4})
	if _, ok := err.(*AllocError); !ok {
		t.Fatalf("err = %T(%v), want *AllocError", err, err)
	}
}

func TestAllocExceedsMaxSize(t *testing.T) {
	r := newTestRegion(4096)

	_, _, err := r.Alloc(8192, Constraint{Align: 4, MaxSize: 4096})
	if _, ok := err.(*AllocError); !ok {
		t.Fatalf("err = %T(%v), want *AllocError", err, err)
	}
}

func TestReadWriteUnallocatedAddress(t *testing.T) {
	r := newTestRegion(4096)

	if err := r.Write(r.Start()+4, 0, []byte{1}); err == nil {
		t.Fatal("Write() to unallocated address succeeded, want *AccessError")
	} else if _, ok := err.(*AccessError); !ok {
		t.Fatalf("err = %T(%v), want *AccessError", err, err)
	}

	addr, _, err := r.Alloc(16, Constraint{Align: 4})
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}

	if err := r.Read(addr, 8, make([]byte, 16)); err == nil {
		t.Fatal("Read() past block end succeeded, want *AccessError")
	} else if _, ok := err.(*AccessError); !ok {
		t.Fatalf("err = %T(%v), want *AccessError", err, err)
	}
}

func TestCrossesBoundary(t *testing.T) {
	cases := []struct {
		addr, size, boundary uint
		want                 bool
	}{
		{addr: 0, size: 64, boundary: 65536, want: false},
		{addr: 65536 - 32, size: 64, boundary: 65536, want: true},
		{addr: 65536, size: 64, boundary: 65536, want: false},
		{addr: 100, size: 10, boundary: 0, want: false},
	}

	for _, c := range cases {
		if got := crossesBoundary(uintptr(c.addr), c.size, c.boundary); got != c.want {
			t.Errorf("crossesBoundary(%d, %d, %d) = %v, want %v", c.addr, c.size, c.boundary, got, c.want)
		}
	}
}
