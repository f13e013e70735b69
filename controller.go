// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"sync"
	"time"

	"github.com/usbarmory/xhci/internal/reg"
	"github.com/usbarmory/xhci/mmio"
	"github.com/usbarmory/xhci/ring"
)

// lifecycle tracks the Controller state machine of spec.md §4.4:
// Uninitialized -> MmioMapped -> CapabilitiesParsed -> BiosHandoffComplete
// -> Reset -> OperationalProgrammed -> RuntimeProgrammed -> Running ->
// (per-port) PortsReset -> DeviceDiscovery.
type lifecycle int

const (
	stateUninitialized lifecycle = iota
	stateMmioMapped
	stateCapabilitiesParsed
	stateBiosHandoffComplete
	stateReset
	stateOperationalProgrammed
	stateRuntimeProgrammed
	stateRunning
	statePortsReset
	stateDeviceDiscovery
)

// Controller is a single xHCI host controller instance.
type Controller struct {
	cfg Config

	base     uintptr
	cap      mmio.Capability
	op       mmio.Operational
	runtime  mmio.Runtime
	doorbell mmio.Doorbell

	state lifecycle

	maxSlots  int
	maxPorts  int
	csz       bool

	cmdRing   *ring.Producer
	evtRing   *ring.Event
	devices   *deviceManager

	commandMu   sync.Mutex
	setupMu     sync.Mutex
	pendingCmd  chan ring.TRB
	xferMu      sync.Mutex // guards xferEvent; separate from setupMu, which SetupDevice holds across its control transfers
	xferEvent   map[uint8]chan ring.TRB // keyed by slot ID, one in-flight control transfer per slot

	portConnect chan portEvent
}

type portEvent struct {
	port uint8
	ccs  bool
}

// PortEvent is a port connect/disconnect notification surfaced by
// NextPortEvent: either a hardware Port Status Change Event, or one
// synthesized by pollExistingConnections for a device that was already
// connected before the controller started running.
type PortEvent struct {
	Port      int
	Connected bool
}

// NextPortEvent blocks until a port connect/disconnect notification
// arrives or timeout elapses, driving spec.md §4.4's per-port discovery
// loop: a caller typically follows a Connected event with ResetPort then
// SetupDevice.
func (c *Controller) NextPortEvent(timeout time.Duration) (PortEvent, bool) {
	select {
	case e := <-c.portConnect:
		c.state = stateDeviceDiscovery
		return PortEvent{Port: int(e.port), Connected: e.ccs}, true
	case <-time.After(timeout):
		return PortEvent{}, false
	}
}

// New constructs a Controller bound to cfg but does not bring the
// hardware up; Open runs the whole bring-up sequence (reset, programming,
// start) that spec.md §4.4 lays out.
func New(cfg Config) (*Controller, error) {
	cfg.applyDefaults()

	base, err := cfg.Platform.MapMMIO(cfg.MMIOBase, cfg.MMIOSize)
	if err != nil {
		return nil, err
	}

	cfg.Platform.MarkUncacheable(base, cfg.MMIOSize)

	c := &Controller{
		cfg:         cfg,
		base:        base,
		cap:         mmio.Capability{Base: base},
		state:       stateMmioMapped,
		pendingCmd:  make(chan ring.TRB, 1),
		xferEvent:   make(map[uint8]chan ring.TRB),
		portConnect: make(chan portEvent, 16),
	}

	c.op = mmio.Operational{Base: base + uintptr(c.cap.CapLength())}
	c.runtime = mmio.Runtime{Base: base + c.cap.RTSOFF()}
	c.doorbell = mmio.Doorbell{Base: base + c.cap.DBOFF()}

	c.maxSlots = int(c.cap.MaxSlots())
	c.maxPorts = int(c.cap.MaxPorts())
	c.csz = c.cap.CSZ()
	c.state = stateCapabilitiesParsed

	debugf("capabilities: maxSlots=%d maxPorts=%d csz=%v ac64=%v", c.maxSlots, c.maxPorts, c.csz, c.cap.AC64())

	return c, nil
}

// Open runs the full bring-up sequence: handoff, reset, operational and
// runtime programming, start, and IRQ registration (spec.md §4.4).
func Open(cfg Config) (*Controller, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.handoff(); err != nil {
		logf("%v", err)
	}

	if err := c.reset(); err != nil {
		return nil, err
	}

	if err := c.programOperational(); err != nil {
		return nil, err
	}

	if err := c.programRuntime(); err != nil {
		return nil, err
	}

	if err := c.start(); err != nil {
		return nil, err
	}

	c.cfg.Platform.RegisterIRQ(c.cfg.IRQVector, c.handleIRQ)

	return c, nil
}

// handoff walks extended capabilities, recording Supported Protocol USB3
// port ranges and performing BIOS->OS handoff for USB Legacy Support
// entries (spec.md §4.4).
func (c *Controller) handoff() error {
	var handoffErr error

	walkExtendedCapabilities(c.base, c.cap.XECP(), func(id capabilityID, addr uintptr) bool {
		switch id {
		case capUSBLegacySupport:
			if err := biosHandoff(addr); err != nil {
				handoffErr = err
			}
		case capSupportedProtocol:
			p := parseSupportedProtocol(addr)
			debugf("supported protocol: major=%d ports=[%d,%d)", p.MajorRevision, p.PortOffset, p.PortOffset+p.PortCount)
		}
		return true
	})

	c.state = stateBiosHandoffComplete

	return handoffErr
}

const resetPollTimeout = 500 * time.Millisecond

// reset clears RUN_STOP, waits for HCH, sets HCRESET, and waits for
// HCRESET and CNR to clear, asserting the post-reset register state
// (spec.md §4.4).
func (c *Controller) reset() error {
	c.op.SetUSBCMD(c.op.USBCMD() &^ (1 << mmio.USBCMDRunStop))

	if !reg.WaitFor(resetPollTimeout, c.op.StatusAddr(), mmio.USBSTSHCH, 1, 1) {
		return &ControllerReset{Phase: "halt"}
	}

	c.op.SetUSBCMD(c.op.USBCMD() | (1 << mmio.USBCMDHCRST))

	if !reg.WaitFor(resetPollTimeout, c.op.Base, mmio.USBCMDHCRST, 1, 0) {
		return &ControllerReset{Phase: "hcrst"}
	}

	if !reg.WaitFor(resetPollTimeout, c.op.StatusAddr(), mmio.USBSTSCNR, 1, 0) {
		return &ControllerReset{Phase: "cnr"}
	}

	c.state = stateReset

	return nil
}

// programOperational sets DNCTRL, CONFIG.MaxSlotsEn, and allocates the
// DCBAA, scratchpad, and Command Ring (spec.md §4.4).
func (c *Controller) programOperational() error {
	c.op.SetDNCTRL(0xffff)
	c.op.SetCONFIG(uint32(c.maxSlots))

	devices, err := newDeviceManager(c.cfg.DMA, c.maxSlots, c.csz)
	if err != nil {
		return err
	}
	c.devices = devices

	if n := int(c.cap.MaxScratchpadBuffers()); n > 0 {
		if err := c.devices.allocScratchpad(c.cfg.Platform, n); err != nil {
			return err
		}
	}

	c.op.SetDCBAAP(c.cfg.Platform.VirtToPhys(c.devices.dcbaaAddr))

	c.cmdRing, err = ring.NewProducer(c.cfg.DMA)
	if err != nil {
		return &OutOfResources{Reason: "command ring: " + err.Error()}
	}

	crcr := c.cfg.Platform.VirtToPhys(c.cmdRing.PhysicalBase())
	if c.cmdRing.CycleBit() {
		crcr |= 1
	}
	c.op.SetCRCR(crcr)

	c.state = stateOperationalProgrammed

	return nil
}

// programRuntime allocates the Event Ring on interrupter 0 and enables
// it, in the mandatory ERSTSZ -> ERDP -> ERSTBA order (spec.md §4.3,
// §4.4, §5).
func (c *Controller) programRuntime() error {
	interrupter := c.runtime.Interrupter(0)

	evtRing, err := ring.NewEvent(c.cfg.DMA)
	if err != nil {
		return &OutOfResources{Reason: "event ring: " + err.Error()}
	}
	c.evtRing = evtRing

	interrupter.SetERSTSZ(1)
	interrupter.SetERDP(c.cfg.Platform.VirtToPhys(c.evtRing.RingBase()))
	interrupter.SetERSTBA(c.cfg.Platform.VirtToPhys(c.evtRing.ERSTBase()))

	interrupter.SetIMAN(interrupter.IMAN() | (1 << mmio.IMANIE))
	interrupter.ClearIP()
	c.op.ClearUSBSTS(mmio.USBSTSEINT)

	c.state = stateRuntimeProgrammed

	return nil
}

const startPollTimeout = 500 * time.Millisecond

// start sets RUN_STOP last, after every other register is programmed
// (spec.md §5's ordering guarantee), and waits for the controller to
// leave the halted/not-ready state.
func (c *Controller) start() error {
	c.op.SetUSBCMD(c.op.USBCMD() | (1 << mmio.USBCMDRunStop) | (1 << mmio.USBCMDINTE) | (1 << mmio.USBCMDHSEE))

	if !reg.WaitFor(startPollTimeout, c.op.StatusAddr(), mmio.USBSTSHCH, 1, 0) {
		return &ControllerReset{Phase: "start"}
	}

	c.state = stateRunning

	c.pollExistingConnections()

	return nil
}

// pollExistingConnections synthesizes a port-connect event for every port
// that already reports CCS=1 once the controller starts running. Real
// hardware only raises PORTSC's CSC bit (and the Port Status Change Event
// that follows it) on a connect *transition*; a device plugged in before
// the driver ever ran would otherwise never be discovered, since there is
// no transition left for hardware to report (spec.md §9's open question on
// already-connected ports at reset).
func (c *Controller) pollExistingConnections() {
	for i := 1; i <= c.maxPorts; i++ {
		sc := c.op.Port(i).SC()
		if sc&(1<<mmio.PortSCCCS) == 0 {
			continue
		}

		select {
		case c.portConnect <- portEvent{port: uint8(i), ccs: true}:
		default:
		}
	}
}

const (
	portPowerSettleMs = 20
	portResetTimeout  = 500 * time.Millisecond
)

// ResetPort performs spec.md §4.4's per-port reset sequence and reports
// whether the port came up enabled.
func (c *Controller) ResetPort(index int) error {
	port := c.op.Port(index)

	sc := port.SC()

	if sc&(1<<mmio.PortSCPP) == 0 {
		port.SetSC(sc | (1 << mmio.PortSCPP))
		c.cfg.Platform.SleepMs(portPowerSettleMs)
	}

	port.SetSC((1 << mmio.PortSCCSC) | (1 << mmio.PortSCPEC) | (1 << mmio.PortSCPRC) | (1 << mmio.PortSCWRC))

	speed := port.Speed()
	resetBit := mmio.PortSCPR
	changeBit := mmio.PortSCPRC

	if speed >= SpeedSuper {
		resetBit = mmio.PortSCWPR
		changeBit = mmio.PortSCWRC
	}

	port.SetSC(port.SC() | (1 << resetBit))

	if !reg.WaitFor(portResetTimeout, port.Base, changeBit, 1, 1) {
		return &PortReset{Port: index}
	}

	if port.SC()&(1<<mmio.PortSCPED) != 0 {
		port.SetSC((1 << mmio.PortSCCSC) | (1 << mmio.PortSCPEC) | (1 << mmio.PortSCPRC) | (1 << mmio.PortSCWRC))
		c.state = statePortsReset
		return nil
	}

	return &PortReset{Port: index}
}

// MaxPorts returns the number of root-hub ports the controller exposes.
func (c *Controller) MaxPorts() int { return c.maxPorts }

// PortConnected reports the current connect status of a port.
func (c *Controller) PortConnected(index int) bool {
	return c.op.Port(index).SC()&(1<<mmio.PortSCCCS) != 0
}

// PortSpeed returns a port's negotiated speed code.
func (c *Controller) PortSpeed(index int) uint8 {
	return uint8(c.op.Port(index).Speed())
}

// Close stops the controller, disables any still-enabled slots, and frees
// every DMA allocation those slots still own: each device's Input Context,
// Output Device Context and control Transfer Ring, and every endpoint's
// Transfer Ring and data buffer (closing spec.md §9's open question on
// undisabled slots in favor of cleanup-on-close, documented in DESIGN.md).
// It does not free the controller-wide Command Ring, Event Ring, DCBAA or
// scratchpad allocations: Close only tears down per-device state, so a
// Controller can be Close'd and a fresh one opened over the same DMA
// region without those allocations colliding with the new one's.
func (c *Controller) Close() error {
	if c.devices != nil {
		for slot, dev := range c.devices.devices {
			if dev == nil {
				continue
			}
			if _, err := c.sendCommand(ring.DisableSlotCommand(uint8(slot)), c.cfg.CommandTimeout); err != nil {
				logf("close: disable slot %d: %v", slot, err)
			}
			freeDevice(c.cfg.DMA, dev)
		}
	}

	c.op.SetUSBCMD(c.op.USBCMD() &^ (1 << mmio.USBCMDRunStop))
	reg.WaitFor(resetPollTimeout, c.op.StatusAddr(), mmio.USBSTSHCH, 1, 1)

	return nil
}
