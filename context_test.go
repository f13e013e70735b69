// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"testing"
	"unsafe"
)

func TestDCIFromAddress(t *testing.T) {
	cases := []struct {
		addr uint8
		want int
	}{
		{addr: 0x00, want: 1}, // default control endpoint
		{addr: 0x80, want: 1}, // EP0 IN still collapses to DCI 1
		{addr: 0x01, want: 2}, // EP1 OUT
		{addr: 0x81, want: 3}, // EP1 IN
		{addr: 0x02, want: 4}, // EP2 OUT
		{addr: 0x8f, want: 31}, // EP15 IN, maxDCI
	}

	for _, c := range cases {
		if got := dciFromAddress(c.addr); got != c.want {
			t.Errorf("dciFromAddress(%#x) = %d, want %d", c.addr, got, c.want)
		}
	}
}

func TestEndpointType(t *testing.T) {
	cases := []struct {
		transferType uint8
		in           bool
		want         uint8
	}{
		{usbTransferControl, false, EPTypeControl},
		{usbTransferControl, true, EPTypeControl},
		{usbTransferIsoch, false, EPTypeIsochOut},
		{usbTransferIsoch, true, EPTypeIsochIn},
		{usbTransferBulk, false, EPTypeBulkOut},
		{usbTransferBulk, true, EPTypeBulkIn},
		{usbTransferInterrupt, false, EPTypeInterruptOut},
		{usbTransferInterrupt, true, EPTypeInterruptIn},
	}

	for _, c := range cases {
		if got := endpointType(c.transferType, c.in); got != c.want {
			t.Errorf("endpointType(%d, %v) = %d, want %d", c.transferType, c.in, got, c.want)
		}
	}
}

func TestInitialMaxPacketSize(t *testing.T) {
	cases := []struct {
		speed uint8
		want  uint16
	}{
		{SpeedLow, 8},
		{SpeedFull, 64},
		{SpeedHigh, 64},
		{SpeedSuper, 512},
	}

	for _, c := range cases {
		if got := initialMaxPacketSize(c.speed); got != c.want {
			t.Errorf("initialMaxPacketSize(%d) = %d, want %d", c.speed, got, c.want)
		}
	}
}

func TestContextSizeDispatch(t *testing.T) {
	if contextSize(false) != ctx32 {
		t.Fatal("contextSize(false) != ctx32")
	}
	if contextSize(true) != ctx64 {
		t.Fatal("contextSize(true) != ctx64")
	}

	if got := ctx32.deviceContextSize(); got != 32*32 {
		t.Fatalf("ctx32.deviceContextSize() = %d, want %d", got, 32*32)
	}
	if got := ctx64.inputContextSize(); got != 64*33 {
		t.Fatalf("ctx64.inputContextSize() = %d, want %d", got, 64*33)
	}
}

// bufOffset returns the byte offset of sub into buf, so tests can assert
// against the exact absolute offset a view computed rather than merely
// round-tripping a value through the same (possibly buggy) accessor that
// wrote it.
func bufOffset(t *testing.T, buf, sub []byte) int {
	t.Helper()

	base := uintptr(unsafe.Pointer(&buf[0]))
	at := uintptr(unsafe.Pointer(&sub[0]))

	if at < base || at > base+uintptr(len(buf)) {
		t.Fatalf("sub-slice is not within buf")
	}

	return int(at - base)
}

func TestInputContextViewAbsoluteOffsets(t *testing.T) {
	size := ctx32
	buf := make([]byte, size.inputContextSize())
	view := inputContextView{buf: buf, size: size}

	// Input Control Context occupies sub-context 0, Slot Context
	// sub-context 1, Endpoint Context dci sub-context (1+dci) — spec.md
	// lines 49-51's "Input Control Context prepended to a Device
	// Context shape".
	if got := bufOffset(t, buf, view.control().buf); got != 0 {
		t.Fatalf("control() offset = %d, want 0", got)
	}
	if got := bufOffset(t, buf, view.slot().buf); got != int(size) {
		t.Fatalf("slot() offset = %d, want %d", got, int(size))
	}
	if got := bufOffset(t, buf, view.endpoint(1).buf); got != 2*int(size) {
		t.Fatalf("endpoint(1) offset = %d, want %d", got, 2*int(size))
	}
	if got := bufOffset(t, buf, view.endpoint(maxDCI).buf); got != (1+maxDCI)*int(size) {
		t.Fatalf("endpoint(maxDCI) offset = %d, want %d", got, (1+maxDCI)*int(size))
	}
}

func TestOutputDeviceContextViewAbsoluteOffsets(t *testing.T) {
	size := ctx32
	buf := make([]byte, size.deviceContextSize())
	view := outputDeviceContextView{buf: buf, size: size}

	// A bare Device Context has no Input Control Context prefix: Slot
	// Context is sub-context 0, Endpoint Context dci is sub-context dci.
	if got := bufOffset(t, buf, view.slot().buf); got != 0 {
		t.Fatalf("slot() offset = %d, want 0", got)
	}
	if got := bufOffset(t, buf, view.endpoint(1).buf); got != int(size) {
		t.Fatalf("endpoint(1) offset = %d, want %d", got, int(size))
	}

	// dci=31 (maxDCI) is spec-legal and must not panic or run past the
	// end of a bare Device Context.
	ep := view.endpoint(maxDCI)
	if got := bufOffset(t, buf, ep.buf); got != maxDCI*int(size) {
		t.Fatalf("endpoint(maxDCI) offset = %d, want %d", got, maxDCI*int(size))
	}
	if got := len(ep.buf); got != int(size) {
		t.Fatalf("endpoint(maxDCI) length = %d, want %d", got, int(size))
	}
}

func TestInputContextViewRoundTrip(t *testing.T) {
	size := ctx32
	buf := make([]byte, size.inputContextSize())
	view := inputContextView{buf: buf, size: size}

	ctl := view.control()
	ctl.setAddFlag(0)
	ctl.setAddFlag(1)

	if ctl.addFlags() != 0x3 {
		t.Fatalf("addFlags() = %#x, want 0x3", ctl.addFlags())
	}

	slot := view.slot()
	slot.setRouteString(0x12345)
	slot.setSpeed(SpeedHigh)
	slot.setContextEntries(1)
	slot.setRootHubPortNum(2)

	if slot.contextEntries() != 1 {
		t.Fatalf("contextEntries() = %d, want 1", slot.contextEntries())
	}

	ep0 := view.endpoint(1)
	ep0.setType(EPTypeControl)
	ep0.setMaxPacketSize(64)
	ep0.setTRDequeuePointer(0xdeadbeef<<4 | 1)

	if got := ep0.maxPacketSize(); got != 64 {
		t.Fatalf("maxPacketSize() = %d, want 64", got)
	}

	// writing the endpoint sub-context must not disturb the slot
	// sub-context that precedes it.
	if slot.contextEntries() != 1 {
		t.Fatalf("contextEntries() = %d after endpoint writes, want 1 (unchanged)", slot.contextEntries())
	}
}

func TestOutputDeviceContextViewDisjointFromInput(t *testing.T) {
	size := ctx32
	buf := make([]byte, size.deviceContextSize())
	view := outputDeviceContextView{buf: buf, size: size}

	view.slot().setRouteString(0xabcde)
	ep1 := view.endpoint(2)
	ep1.setMaxPacketSize(512)

	if got := view.endpoint(2).maxPacketSize(); got != 512 {
		t.Fatalf("maxPacketSize() = %d, want 512", got)
	}

	if got := view.slot().contextEntries(); got != 0 {
		t.Fatalf("contextEntries() = %d, want 0 (untouched)", got)
	}

	// dci=maxDCI must not panic (xHCI 1.2's documented maximum DCI is
	// spec-legal, not an edge case to special-case away).
	ep31 := view.endpoint(maxDCI)
	ep31.setMaxPacketSize(8)
	if got := ep31.maxPacketSize(); got != 8 {
		t.Fatalf("endpoint(maxDCI).maxPacketSize() = %d, want 8", got)
	}
}

func TestSyncOutputToInputOffsetsAgree(t *testing.T) {
	// device.go's syncOutputToInput byte-copies the Output Device
	// Context to absolute offset `size` within the Input Context
	// buffer; this must agree with inputContextView.slot()'s own
	// computed offset, or ADDRESS_DEVICE/CONFIGURE_ENDPOINT would read
	// state the driver never actually wrote there.
	size := ctx32
	inputBuf := make([]byte, size.inputContextSize())
	view := inputContextView{buf: inputBuf, size: size}

	if got, want := bufOffset(t, inputBuf, view.slot().buf), int(size); got != want {
		t.Fatalf("inputContextView.slot() offset = %d, want %d to match syncOutputToInput's copy(inputCtxBuf[size:], ...)", got, want)
	}
}
