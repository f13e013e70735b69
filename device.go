// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"github.com/usbarmory/xhci/dma"
	"github.com/usbarmory/xhci/hid"
	"github.com/usbarmory/xhci/ring"
	"github.com/usbarmory/xhci/usbdesc"
)

// Endpoint is a single endpoint's record: its own transfer ring and DMA
// data buffer, per spec.md §3's device-record shape.
type Endpoint struct {
	Descriptor usbdesc.Endpoint
	DCI        int
	Ring       *ring.Producer
	BufferAddr uintptr
	Buffer     []byte
}

// Interface owns its endpoint records and an optional class-driver
// binding (spec.md §3).
type Interface struct {
	Descriptor usbdesc.Interface
	Endpoints  []*Endpoint
	HIDReport  []byte
	Driver     hid.Driver
}

// Device is the host-side record for one addressed USB device (spec.md
// §3: "{ port_id, slot_id, speed, ctx_size_flavor, input_ctx_dma_ptr,
// control_transfer_ring, interfaces[] }").
type Device struct {
	PortID uint8
	SlotID uint8
	Speed  uint8

	ctxSize ctxSize

	inputCtxAddr uintptr
	inputCtxBuf  []byte

	outputCtxAddr uintptr
	outputCtxBuf  []byte

	ControlRing *ring.Producer
	Interfaces  []*Interface

	Descriptor usbdesc.Device
	Config     usbdesc.Configuration

	// doorbell is wired in by the owning Controller so Device can
	// satisfy hid.Device without importing it back into Controller.
	doorbell func(dci int)
}

func (d *Device) input() inputContextView {
	return inputContextView{buf: d.inputCtxBuf, size: d.ctxSize}
}

func (d *Device) output() outputDeviceContextView {
	return outputDeviceContextView{buf: d.outputCtxBuf, size: d.ctxSize}
}

// deviceManager owns the DCBAA and the per-slot device table (spec.md
// §4.5, §9's "bounded map keyed by slot ID... a fixed-capacity array
// indexed by slot ID suffices").
type deviceManager struct {
	mem *dma.Region

	csz     bool
	maxSlot int

	dcbaaAddr uintptr
	dcbaaBuf  []byte

	devices []*Device // indexed by slot ID, devices[0] unused
}

func newDeviceManager(mem *dma.Region, maxSlot int, csz bool) (*deviceManager, error) {
	addr, buf, err := mem.Alloc(uint(maxSlot+1)*8, dma.DCBAAConstraint)
	if err != nil {
		return nil, &OutOfResources{Reason: "DCBAA: " + err.Error()}
	}

	return &deviceManager{
		mem:       mem,
		csz:       csz,
		maxSlot:   maxSlot,
		dcbaaAddr: addr,
		dcbaaBuf:  buf,
		devices:   make([]*Device, maxSlot+1),
	}, nil
}

// setDCBAAEntry installs phys into DCBAA[slot].
func (m *deviceManager) setDCBAAEntry(slot int, phys uint64) {
	off := slot * 8
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(phys >> (8 * i))
	}
	copy(m.dcbaaBuf[off:off+8], tmp[:])
}

// allocScratchpad allocates the Scratchpad Buffer Array and its pages,
// installing the array's physical base into DCBAA[0] (spec.md §4.4).
func (m *deviceManager) allocScratchpad(platform Platform, count int) error {
	if count == 0 {
		return nil
	}

	arrAddr, arrBuf, err := m.mem.Alloc(uint(count)*8, dma.DCBAAConstraint)
	if err != nil {
		return &OutOfResources{Reason: "scratchpad array: " + err.Error()}
	}

	for i := 0; i < count; i++ {
		pageAddr, _, err := m.mem.Alloc(4096, dma.ScratchpadConstraint)
		if err != nil {
			return &OutOfResources{Reason: "scratchpad page: " + err.Error()}
		}
		phys := platform.VirtToPhys(pageAddr)

		off := i * 8
		for b := 0; b < 8; b++ {
			arrBuf[off+b] = byte(phys >> (8 * b))
		}
	}

	m.setDCBAAEntry(0, platform.VirtToPhys(arrAddr))

	return nil
}

// createDevice allocates a fresh Output Device Context and Input Context
// for a newly enabled slot, installs the Output Context's physical base
// into DCBAA[slot], and returns the Device record (spec.md §4.5).
func (m *deviceManager) createDevice(platform Platform, slot uint8, portID uint8, speed uint8) (*Device, error) {
	size := contextSize(m.csz)

	outAddr, outBuf, err := m.mem.Alloc(uint(size.deviceContextSize()), constraintFor(size))
	if err != nil {
		return nil, &OutOfResources{Reason: "output device context: " + err.Error()}
	}

	inAddr, inBuf, err := m.mem.Alloc(uint(size.inputContextSize()), dma.InputCtxConstraint)
	if err != nil {
		return nil, &OutOfResources{Reason: "input context: " + err.Error()}
	}

	m.setDCBAAEntry(int(slot), platform.VirtToPhys(outAddr))

	dev := &Device{
		PortID:        portID,
		SlotID:        slot,
		Speed:         speed,
		ctxSize:       size,
		inputCtxAddr:  inAddr,
		inputCtxBuf:   inBuf,
		outputCtxAddr: outAddr,
		outputCtxBuf:  outBuf,
	}

	m.devices[slot] = dev

	return dev, nil
}

func constraintFor(size ctxSize) dma.Constraint {
	if size == ctx64 {
		return dma.Context64Constraint
	}
	return dma.Context32Constraint
}

// device returns the device record for a slot, or nil.
func (m *deviceManager) device(slot uint8) *Device {
	if int(slot) >= len(m.devices) {
		return nil
	}
	return m.devices[slot]
}

// freeDevice releases every DMA allocation dev owns: its Input Context,
// Output Device Context, control Transfer Ring, and every endpoint's
// Transfer Ring and data buffer. Called from Controller.Close after
// DISABLE_SLOT, once the controller can no longer write through dev's
// contexts or rings.
func freeDevice(mem *dma.Region, dev *Device) {
	mem.Free(dev.inputCtxAddr)
	mem.Free(dev.outputCtxAddr)

	if dev.ControlRing != nil {
		mem.Free(dev.ControlRing.PhysicalBase())
	}

	for _, iface := range dev.Interfaces {
		for _, ep := range iface.Endpoints {
			if ep.Ring != nil {
				mem.Free(ep.Ring.PhysicalBase())
			}
			mem.Free(ep.BufferAddr)
		}
	}
}

// removeDevice clears a slot's device-table entry and DCBAA entry after
// DISABLE_SLOT completes.
func (m *deviceManager) removeDevice(slot uint8) {
	if int(slot) < len(m.devices) {
		m.devices[slot] = nil
	}
	m.setDCBAAEntry(int(slot), 0)
}

// buildDefaultControlInput fills a fresh device's Input Context for
// ADDRESS_DEVICE: Add-Flags A0 (Slot) and A1 (default control endpoint),
// per spec.md §4.5.
func buildDefaultControlInput(dev *Device, platform Platform, routeString uint32) {
	view := dev.input()

	ctl := view.control()
	ctl.setAddFlag(0)
	ctl.setAddFlag(1)

	slot := view.slot()
	slot.setRouteString(routeString)
	slot.setSpeed(dev.Speed)
	slot.setContextEntries(1)
	slot.setRootHubPortNum(dev.PortID)
	slot.setInterrupterTarget(0)

	ep0 := view.endpoint(1)
	ep0.setType(EPTypeControl)
	ep0.setCErr(3)
	ep0.setMaxPacketSize(initialMaxPacketSize(dev.Speed))
	ep0.setAverageTRBLength(8)
	ep0.setTRDequeuePointer(segmentPhys(platform, dev.ControlRing))
}

// segmentPhys translates a producer ring's physical base, preserving the
// cycle bit the low bit of Segment() already carries.
func segmentPhys(platform Platform, p *ring.Producer) uint64 {
	phys := platform.VirtToPhys(p.PhysicalBase())
	if p.CycleBit() {
		phys |= 1
	}
	return phys
}

// updateControlMPS rewrites the Input Context's control Endpoint Context
// MPS field, used when step 5 of device setup (spec.md §4.6) discovers a
// different bMaxPacketSize0 than the initial guess.
func updateControlMPS(dev *Device, mps uint16) {
	view := dev.input()
	ctl := view.control()
	ctl.setAddFlag(1)
	view.endpoint(1).setMaxPacketSize(mps)
}

// syncOutputToInput byte-copies the Output Device Context into the
// embedded device-context slot of the Input Context, so subsequent
// commands observe controller-assigned state such as the device address
// (spec.md §3, §4.5).
func syncOutputToInput(dev *Device) {
	size := int(dev.ctxSize)
	copy(dev.inputCtxBuf[size:], dev.outputCtxBuf)
}

// addEndpoint extends dev's Input Context with a newly discovered
// endpoint, advancing Slot Context entries to the max enabled DCI
// (spec.md §4.5).
func addEndpoint(dev *Device, desc usbdesc.Endpoint, ringMem *dma.Region, platform Platform) (*Endpoint, error) {
	dci := dciFromAddress(desc.Address)
	in := desc.Address&0x80 != 0
	transferType := desc.Attributes & 0x3

	view := dev.input()
	ctl := view.control()
	ctl.setAddFlag(dci)

	epRing, err := ring.NewProducer(ringMem)
	if err != nil {
		return nil, &OutOfResources{Reason: "endpoint ring: " + err.Error()}
	}

	bufAddr, buf, err := ringMem.Alloc(uint(desc.MaxPacketSize), dma.RingConstraint)
	if err != nil {
		return nil, &OutOfResources{Reason: "endpoint buffer: " + err.Error()}
	}

	ep := view.endpoint(dci)
	ep.setType(endpointType(transferType, in))
	ep.setMaxPacketSize(desc.MaxPacketSize)
	ep.setMaxBurstSize(0)
	ep.setAverageTRBLength(uint16(desc.MaxPacketSize))
	ep.setInterval(computeInterval(dev.Speed, transferType, desc.Interval))
	ep.setCErr(3)
	ep.setTRDequeuePointer(segmentPhys(platform, epRing))

	slot := view.slot()
	if uint8(dci) > slot.contextEntries() {
		slot.setContextEntries(uint8(dci))
	}

	endpoint := &Endpoint{
		Descriptor: desc,
		DCI:        dci,
		Ring:       epRing,
		BufferAddr: bufAddr,
		Buffer:     buf,
	}

	return endpoint, nil
}

// computeInterval applies spec.md §4.5's interval semantics: HS/SS
// interrupt/isoch store bInterval-1 (2^n * 125us units); FS/LS interrupt
// stores bInterval clamped to [3, 18]; control and bulk store 0.
func computeInterval(speed uint8, transferType uint8, bInterval uint8) uint8 {
	if transferType == usbTransferControl || transferType == usbTransferBulk {
		return 0
	}

	switch speed {
	case SpeedHigh, SpeedSuper:
		if bInterval == 0 {
			return 0
		}
		return bInterval - 1
	default:
		if bInterval < 3 {
			return 3
		}
		if bInterval > 18 {
			return 18
		}
		return bInterval
	}
}
