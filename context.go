// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"unsafe"

	"github.com/usbarmory/xhci/bits"
)

// dword reinterprets the 4 bytes at buf[off:off+4] as a *uint32, the same
// little-endian-native-layout assumption internal/reg makes for MMIO
// registers (spec.md targets LE hosts exclusively). This lets context
// sub-structures use the teacher's bits package for bitfield access instead
// of hand-rolled shift/mask arithmetic.
func dword(buf []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[off]))
}

func qword(buf []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[off]))
}

// ctxSize is the byte size of one sub-context (Slot Context or a single
// Endpoint Context) under a given CSZ flavor (spec.md §3, §9: "a pure
// layout choice driven by a single runtime boolean... do not replicate
// the entire state machine twice").
type ctxSize int

const (
	ctx32 ctxSize = 32
	ctx64 ctxSize = 64
)

func contextSize(csz bool) ctxSize {
	if csz {
		return ctx64
	}
	return ctx32
}

// maxDCI is the highest Device Context Index: 1 bidirectional default
// control endpoint plus up to 30 directional endpoints (spec.md §3).
const maxDCI = 31

// slotOffset and endpointOffset return Device-Context-relative offsets
// (spec.md lines 49-51: "Slot Context followed by up to 31 Endpoint
// Contexts"): the Slot Context is sub-context 0, Endpoint Context dci is
// sub-context dci. An Input Context prepends one further sub-context
// slot (the Input Control Context) ahead of this same shape; callers that
// need an Input-Context-relative offset add that one-slot prefix
// themselves (see inputContextView), rather than having it baked in here,
// since outputDeviceContextView has no such prefix to add.
func (s ctxSize) inputControlOffset() int { return 0 }
func (s ctxSize) slotOffset() int         { return 0 }
func (s ctxSize) endpointOffset(dci int) int {
	return int(s) * dci
}

// deviceContextSize returns the total byte size of a bare Device Context
// (Slot Context + 31 Endpoint Contexts, no Input Control Context prefix).
func (s ctxSize) deviceContextSize() int {
	return int(s) * (1 + maxDCI)
}

// inputContextSize returns the total byte size of an Input Context (Input
// Control Context + Device Context shape).
func (s ctxSize) inputContextSize() int {
	return int(s) * (2 + maxDCI)
}

// inputControl is a view over an Input Context's Input Control Context
// (Drop/Add flag bitmaps), the first sub-context slot.
type inputControl struct {
	buf []byte
}

func (c inputControl) dropFlags() uint32 { return *dword(c.buf, 0) }
func (c inputControl) addFlags() uint32  { return *dword(c.buf, 4) }

func (c inputControl) setDropFlag(dci int) { bits.Set(dword(c.buf, 0), dci) }
func (c inputControl) setAddFlag(dci int)  { bits.Set(dword(c.buf, 4), dci) }

// Slot Context dword layout (xHCI 1.2 table 6-7).
const (
	slotRouteStringMask = 0xfffff
	slotSpeedShift      = 20
	slotContextEntriesShift = 27
	slotRootHubPortShift = 16
	slotInterrupterShift = 22
)

// slotContext is a view over a Slot Context sub-context.
type slotContext struct {
	buf []byte
}

func (s slotContext) setRouteString(v uint32) {
	bits.SetN(dword(s.buf, 0), 0, slotRouteStringMask, v&slotRouteStringMask)
}

func (s slotContext) setSpeed(v uint8) {
	bits.SetN(dword(s.buf, 0), slotSpeedShift, 0xf, uint32(v))
}

func (s slotContext) setContextEntries(v uint8) {
	bits.SetN(dword(s.buf, 0), slotContextEntriesShift, 0x1f, uint32(v&0x1f))
}

func (s slotContext) contextEntries() uint8 {
	return uint8(bits.GetN(dword(s.buf, 0), slotContextEntriesShift, 0x1f))
}

func (s slotContext) setRootHubPortNum(v uint8) {
	bits.SetN(dword(s.buf, 4), slotRootHubPortShift, 0xff, uint32(v))
}

func (s slotContext) setInterrupterTarget(v uint16) {
	bits.SetN(dword(s.buf, 8), slotInterrupterShift, 0x3ff, uint32(v&0x3ff))
}

func (s slotContext) usbDeviceAddress() uint8 {
	return uint8(bits.GetN(dword(s.buf, 12), 0, 0xff))
}

// Endpoint Context dword layout (xHCI 1.2 table 6-9).
const (
	epStateMask       = 0x7
	epIntervalShift    = 16
	epMaxPStreamsShift = 10
	epMultShift        = 8
	epTypeShift        = 3
	epCErrShift        = 1
	epMaxBurstShift    = 8
	epMaxPacketSizeShift = 16
	epAvgTRBLenShift   = 0
	epMaxESITLoShift   = 16
)

// Endpoint types, per the xHCI 1.2 endpoint-context EP Type field.
const (
	EPTypeNotValid     = 0
	EPTypeIsochOut     = 1
	EPTypeBulkOut      = 2
	EPTypeInterruptOut = 3
	EPTypeControl      = 4
	EPTypeIsochIn      = 5
	EPTypeBulkIn       = 6
	EPTypeInterruptIn  = 7
)

// endpointContext is a view over a single Endpoint Context sub-context.
type endpointContext struct {
	buf []byte
}

func (e endpointContext) setInterval(v uint8) {
	bits.SetN(dword(e.buf, 0), epIntervalShift, 0xff, uint32(v))
}

func (e endpointContext) setType(v uint8) {
	bits.SetN(dword(e.buf, 4), epTypeShift, 0x7, uint32(v))
}

func (e endpointContext) setCErr(v uint8) {
	bits.SetN(dword(e.buf, 4), epCErrShift, 0x3, uint32(v&0x3))
}

func (e endpointContext) setMaxBurstSize(v uint8) {
	bits.SetN(dword(e.buf, 4), epMaxBurstShift, 0xff, uint32(v))
}

func (e endpointContext) setMaxPacketSize(v uint16) {
	bits.SetN(dword(e.buf, 4), epMaxPacketSizeShift, 0xffff, uint32(v))
}

func (e endpointContext) maxPacketSize() uint16 {
	return uint16(bits.GetN(dword(e.buf, 4), epMaxPacketSizeShift, 0xffff))
}

func (e endpointContext) setTRDequeuePointer(v uint64) {
	*qword(e.buf, 8) = v
}

func (e endpointContext) setAverageTRBLength(v uint16) {
	bits.SetN(dword(e.buf, 16), epAvgTRBLenShift, 0xffff, uint32(v))
}

func (e endpointContext) setMaxESITPayloadLo(v uint16) {
	bits.SetN(dword(e.buf, 16), epMaxESITLoShift, 0xffff, uint32(v))
}

// inputContextView is a typed view over a raw Input Context byte buffer,
// dispatching every offset computation through the controller-selected
// ctxSize (spec.md §9's "context-size enum plus a small set of
// accessors").
type inputContextView struct {
	buf  []byte
	size ctxSize
}

func (v inputContextView) control() inputControl {
	return inputControl{buf: v.buf[v.size.inputControlOffset() : v.size.inputControlOffset()+8]}
}

func (v inputContextView) slot() slotContext {
	off := int(v.size) + v.size.slotOffset()
	return slotContext{buf: v.buf[off : off+int(v.size)]}
}

func (v inputContextView) endpoint(dci int) endpointContext {
	off := int(v.size) + v.size.endpointOffset(dci)
	return endpointContext{buf: v.buf[off : off+int(v.size)]}
}

// outputDeviceContextView is a view over a bare (no Input Control prefix)
// Output Device Context, as installed in DCBAA.
type outputDeviceContextView struct {
	buf  []byte
	size ctxSize
}

func (v outputDeviceContextView) slot() slotContext {
	off := v.size.slotOffset()
	return slotContext{buf: v.buf[off : off+int(v.size)]}
}

func (v outputDeviceContextView) endpoint(dci int) endpointContext {
	off := v.size.endpointOffset(dci)
	return endpointContext{buf: v.buf[off : off+int(v.size)]}
}

// dciFromAddress computes the Device Context Index from a USB endpoint
// address byte, per spec.md §3: DCI = 2*endpoint_num + direction_in.
func dciFromAddress(bEndpointAddress uint8) int {
	num := int(bEndpointAddress & 0x0f)
	in := bEndpointAddress&0x80 != 0

	if num == 0 {
		return 1
	}

	dci := 2 * num
	if in {
		dci++
	}

	return dci
}

// endpointType maps (direction-in, transfer-type) to the Endpoint Context
// EP Type field, per spec.md §4.5's "set endpoint_type per (direction,
// transfer-type) matrix".
func endpointType(transferType uint8, in bool) uint8 {
	switch transferType {
	case usbTransferIsoch:
		if in {
			return EPTypeIsochIn
		}
		return EPTypeIsochOut
	case usbTransferBulk:
		if in {
			return EPTypeBulkIn
		}
		return EPTypeBulkOut
	case usbTransferInterrupt:
		if in {
			return EPTypeInterruptIn
		}
		return EPTypeInterruptOut
	default:
		return EPTypeControl
	}
}

// USB endpoint transfer-type values (bmAttributes bits 1:0 of an Endpoint
// Descriptor).
const (
	usbTransferControl   = 0
	usbTransferIsoch     = 1
	usbTransferBulk      = 2
	usbTransferInterrupt = 3
)

// initialMaxPacketSize returns the control endpoint's starting MPS guess
// by negotiated speed, per spec.md §4.5.
func initialMaxPacketSize(speed uint8) uint16 {
	switch speed {
	case SpeedLow:
		return 8
	case SpeedFull:
		return 64
	case SpeedHigh:
		return 64
	default:
		return 512 // SuperSpeed and up
	}
}

// Port speed codes, per PORTSC bits 13:10 (xHCI 1.2 table 5-12, USB2
// values; USB3 values are read from the Supported Protocol capability's
// PSI tables in the general case, simplified here to the common PSIV
// mapping used by most controllers).
const (
	SpeedFull  = 1
	SpeedLow   = 2
	SpeedHigh  = 3
	SpeedSuper = 4
)
