// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"time"

	"github.com/usbarmory/xhci/mmio"
	"github.com/usbarmory/xhci/ring"
)

// sendCommand serializes on the command mutex, enqueues trb on the
// Command Ring, rings doorbell 0, and blocks for the matching Command
// Completion Event, bounded by timeout (spec.md §4.6). Exactly one
// command is ever in flight, so the pendingCmd channel needs no slot-
// keyed demultiplexing.
func (c *Controller) sendCommand(trb ring.TRB, timeout time.Duration) (ring.TRB, error) {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	c.cmdRing.Enqueue(trb)
	c.doorbell.Ring(0, 0)

	select {
	case evt := <-c.pendingCmd:
		if cc := evt.CompletionCode(); cc != ring.CompletionSuccess {
			return evt, &CommandFailed{TRBType: trb.Type(), CompletionCode: cc}
		}
		return evt, nil
	case <-time.After(timeout):
		return ring.TRB{}, &CommandTimeout{TRBType: trb.Type()}
	}
}

// controlTransferChain is a prepared SETUP/DATA/STATUS TRB sequence for
// the default control endpoint, built so the QEMU quirk (spec.md §4.6)
// can decide how many doorbell rings to issue.
type controlTransferChain struct {
	setup  ring.TRB
	data   *ring.TRB
	status ring.TRB
}

// startControlTransfer enqueues a control-transfer chain on dev's control
// ring and waits for its Transfer Event, applying the QEMU SETUP/DATA
// quirk when cfg.Platform.IsQEMU() (spec.md §4.6).
func (c *Controller) startControlTransfer(dev *Device, chain controlTransferChain) (ring.TRB, error) {
	r := dev.ControlRing
	db := uint8(doorbellTargetControl)

	if c.cfg.Platform.IsQEMU() {
		r.Enqueue(chain.setup)
		if chain.data != nil {
			r.Enqueue(*chain.data)
		}
		r.Enqueue(chain.status)
		c.doorbell.Ring(int(dev.SlotID), db)
	} else {
		r.Enqueue(chain.setup)
		if chain.data != nil {
			r.Enqueue(*chain.data)
			c.doorbell.Ring(int(dev.SlotID), db)
		}
		r.Enqueue(chain.status)
		c.doorbell.Ring(int(dev.SlotID), db)
	}

	return c.waitTransferEvent(dev.SlotID, c.cfg.TransferTimeout)
}

// doorbellTargetControl is the doorbell target field value for the
// default control endpoint (DCI 1), per spec.md §4.1.
const doorbellTargetControl = 1

func (c *Controller) waitTransferEvent(slot uint8, timeout time.Duration) (ring.TRB, error) {
	ch := c.xferChannel(slot)

	select {
	case evt := <-ch:
		if cc := evt.CompletionCode(); cc != ring.CompletionSuccess && cc != ring.CompletionShortPacket {
			return evt, &TransferFailed{CompletionCode: cc}
		}
		return evt, nil
	case <-time.After(timeout):
		return ring.TRB{}, &TransferTimeout{}
	}
}

func (c *Controller) xferChannel(slot uint8) chan ring.TRB {
	c.xferMu.Lock()
	defer c.xferMu.Unlock()

	ch, ok := c.xferEvent[slot]
	if !ok {
		ch = make(chan ring.TRB, 1)
		c.xferEvent[slot] = ch
	}

	return ch
}

// RingDoorbell rings the doorbell for a device's endpoint, satisfying the
// hid.Device interface's upward call (spec.md §6).
func (dev *Device) RingDoorbell(dci int) {
	dev.ringDoorbell(dci)
}

// ringDoorbell calls dev.doorbell, which the Controller that owns dev sets,
// wiring the Device record back to its doorbell without Device depending
// on Controller.
func (dev *Device) ringDoorbell(dci int) {
	if dev.doorbell != nil {
		dev.doorbell(dci)
	}
}

// EndpointBuffer returns the DMA buffer for the endpoint at dci, or nil.
func (dev *Device) EndpointBuffer(dci int) []byte {
	for _, iface := range dev.Interfaces {
		for _, ep := range iface.Endpoints {
			if ep.DCI == dci {
				return ep.Buffer
			}
		}
	}
	return nil
}

// handleIRQ drains the Event Ring and classifies every event TRB,
// dispatching to the command/transfer completion channels or the port-
// connect queue, then acknowledges the interrupter (IMAN.IP and
// USBSTS.EINT) (spec.md §4.6). It does not EOI the IRQ: the Platform
// interface has no EOI call.
func (c *Controller) handleIRQ() {
	events, erdp := c.evtRing.Drain()
	if len(events) == 0 {
		return
	}

	interrupter := c.runtime.Interrupter(0)
	interrupter.SetERDP(c.cfg.Platform.VirtToPhys(uintptr(erdp)) | (1 << mmio.ERDPEHB))

	for _, evt := range events {
		c.dispatchEvent(evt)
	}

	interrupter.ClearIP()
	c.op.ClearUSBSTS(mmio.USBSTSEINT)
}

func (c *Controller) dispatchEvent(evt ring.TRB) {
	switch evt.Type() {
	case ring.TypePortStatusChangeEvent:
		port := int(evt.PortID())
		sc := c.op.Port(port).SC()
		if sc&(1<<mmio.PortSCCSC) != 0 {
			select {
			case c.portConnect <- portEvent{port: uint8(port), ccs: sc&(1<<mmio.PortSCCCS) != 0}:
			default:
			}
		}
		c.op.Port(port).SetSC((1 << mmio.PortSCCSC) | (1 << mmio.PortSCPEC) | (1 << mmio.PortSCPRC) | (1 << mmio.PortSCWRC))

	case ring.TypeCommandCompletionEvent:
		select {
		case c.pendingCmd <- evt:
		default:
		}

	case ring.TypeTransferEvent:
		slot := evt.SlotID()
		ch := c.xferChannel(slot)
		select {
		case ch <- evt:
		default:
		}

		if dev := c.devices.device(slot); dev != nil {
			c.deliverClassEvent(dev, evt)
		}

	default:
		debugf("unhandled event type %s", evt.Type())
	}
}

// deliverClassEvent invokes the owning interface's class driver callback
// for a transfer-completion event, if one is attached (spec.md §4.6).
func (c *Controller) deliverClassEvent(dev *Device, evt ring.TRB) {
	dci := int(evt.EndpointID())

	for _, iface := range dev.Interfaces {
		if iface.Driver == nil {
			continue
		}
		for _, ep := range iface.Endpoints {
			if ep.DCI == dci {
				// TransferLength is the residual, so the bytes received
				// are the buffer length minus it.
				n := len(ep.Buffer) - int(evt.TransferLength())
				if n < 0 {
					n = 0
				}
				iface.Driver.OnEvent(dev, dci, ep.Buffer[:n])
				return
			}
		}
	}
}

// RecoverStalledEndpoint implements the STALL recovery sequence
// (RESET_ENDPOINT followed by CLEAR_FEATURE(ENDPOINT_HALT)) recovered
// from original_source's _reset_endpoint (SPEC_FULL.md §4).
func (c *Controller) RecoverStalledEndpoint(dev *Device, dci int) error {
	if _, err := c.sendCommand(ring.ResetEndpointCommand(dev.SlotID, uint8(dci)), c.cfg.CommandTimeout); err != nil {
		return err
	}

	epNum, dirIn := dciToAddress(dci)

	return c.clearEndpointHalt(dev, endpointAddress(epNum, dirIn))
}

func dciToAddress(dci int) (num uint8, in bool) {
	return uint8(dci / 2), dci%2 == 1
}

func endpointAddress(num uint8, in bool) uint16 {
	v := uint16(num)
	if in {
		v |= 0x80
	}
	return v
}
