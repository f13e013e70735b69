// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"runtime"
	"testing"
	"time"
	"unsafe"
)

// mockRegs keeps every backing buffer reachable for the duration of the
// test binary, since a bare uintptr does not keep its referent alive
// against the garbage collector.
var mockRegs [][]byte

func mockReg() uintptr {
	buf := make([]byte, 8)
	mockRegs = append(mockRegs, buf)
	runtime.KeepAlive(buf)
	return uintptr(unsafe.Pointer(&buf[0]))
}

func TestSetClear(t *testing.T) {
	addr := mockReg()

	Set(addr, 3)

	if v := Get(addr, 3, 1); v != 1 {
		t.Fatalf("Get() = %d, want 1", v)
	}

	Clear(addr, 3)

	if v := Get(addr, 3, 1); v != 0 {
		t.Fatalf("Get() = %d, want 0", v)
	}
}

func TestSetNClearN(t *testing.T) {
	addr := mockReg()

	SetN(addr, 4, 0xff, 0xab)

	if v := Get(addr, 4, 0xff); v != 0xab {
		t.Fatalf("Get() = %#x, want 0xab", v)
	}

	ClearN(addr, 4, 0xff)

	if v := Get(addr, 4, 0xff); v != 0 {
		t.Fatalf("Get() = %#x, want 0", v)
	}
}

func TestWriteOne(t *testing.T) {
	addr := mockReg()

	Write(addr, 0xffffffff)
	WriteOne(addr, 2)

	// a write-1-to-clear acknowledgement only stores the one bit being
	// cleared, leaving every other bit at its pre-write value of 0 -
	// this distinguishes WriteOne from an ordinary read-modify-write Or.
	if v := Read(addr); v != 1<<2 {
		t.Fatalf("Read() = %#x, want %#x", v, uint32(1<<2))
	}
}

func TestWaitFor(t *testing.T) {
	addr := mockReg()

	Set(addr, 0)

	if !WaitFor(10*time.Millisecond, addr, 0, 1, 1) {
		t.Fatal("WaitFor() = false, want true")
	}

	if WaitFor(10*time.Millisecond, addr, 0, 1, 0) {
		t.Fatal("WaitFor() = true, want false (timeout)")
	}
}

func TestWrite64(t *testing.T) {
	addr := mockReg()

	Write64(addr, 0x0102030405060708)

	if v := Read64(addr); v != 0x0102030405060708 {
		t.Fatalf("Read64() = %#x, want %#x", v, uint64(0x0102030405060708))
	}
}

func TestWriteSplit64(t *testing.T) {
	addr := mockReg()

	WriteSplit64(addr, 0x0102030405060708)

	if v := Read64(addr); v != 0x0102030405060708 {
		t.Fatalf("Read64() = %#x, want %#x", v, uint64(0x0102030405060708))
	}
}

func TestOr64(t *testing.T) {
	addr := mockReg()

	Write64(addr, 0xf0)
	Or64(addr, 0x0f)

	if v := Read64(addr); v != 0xff {
		t.Fatalf("Read64() = %#x, want 0xff", v)
	}
}
