// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"github.com/usbarmory/xhci/dma"
	"github.com/usbarmory/xhci/ring"
)

// controlRequest drives dev's default control endpoint through a
// SETUP/DATA/STATUS sequence for a single standard or class USB device
// request (spec.md §4.6). trt is the Setup-Stage transfer type:
// ring.TRTInData for requests that read data back into buf,
// ring.TRTOutData for requests that send buf, or ring.TRTNoData for a
// no-data request.
func (c *Controller) controlRequest(dev *Device, bmRequestType, bRequest uint8, wValue, wIndex uint16, buf []byte, trt uint8) ([]byte, error) {
	wLength := uint16(len(buf))

	chain := controlTransferChain{
		setup: ring.SetupStageTRB(bmRequestType, bRequest, wValue, wIndex, wLength, trt),
	}

	var bufAddr uintptr
	var dmaBuf []byte

	if len(buf) > 0 {
		var err error
		bufAddr, dmaBuf, err = c.cfg.DMA.Alloc(uint(len(buf)), dma.RingConstraint)
		if err != nil {
			return nil, &OutOfResources{Reason: "control transfer data buffer: " + err.Error()}
		}
		defer c.cfg.DMA.Free(bufAddr)

		if trt == ring.TRTOutData {
			copy(dmaBuf, buf)
		}

		dir := uint8(ring.DirOut)
		if trt == ring.TRTInData {
			dir = ring.DirIn
		}

		data := ring.DataStageTRB(c.cfg.Platform.VirtToPhys(bufAddr), uint32(len(buf)), dir, false)
		chain.data = &data
	}

	statusDir := uint8(ring.DirIn)
	if trt == ring.TRTInData {
		statusDir = ring.DirOut
	}
	chain.status = ring.StatusStageTRB(statusDir, true)

	evt, err := c.startControlTransfer(dev, chain)
	if err != nil {
		return nil, err
	}

	if len(buf) > 0 && trt == ring.TRTInData {
		received := len(buf) - int(evt.TransferLength())
		if received < 0 {
			received = 0
		}
		copy(buf, dmaBuf[:received])
		return buf[:received], nil
	}

	return nil, nil
}

// Standard USB request codes (USB 2.0 table 9-4).
const (
	reqGetDescriptor   = 0x06
	reqSetConfiguration = 0x09
	reqSetInterface    = 0x0b
	reqClearFeature    = 0x01
	reqSetProtocol     = 0x0b // class request, HID bRequest namespace overlaps SET_INTERFACE's value
)

const featureEndpointHalt = 0

// getDescriptor issues GET_DESCRIPTOR(type, index, length) over dev's
// control endpoint (spec.md §4.6's "GET_DESCRIPTOR (device, configuration,
// string): 0x80, 0x06, ...").
func (c *Controller) getDescriptor(dev *Device, descType, index uint8, langID uint16, length int) ([]byte, error) {
	buf := make([]byte, length)
	wValue := uint16(descType)<<8 | uint16(index)
	return c.controlRequest(dev, 0x80, reqGetDescriptor, wValue, langID, buf, ring.TRTInData)
}

// getHIDReportDescriptor issues GET_DESCRIPTOR(HID_REPORT) targeted at a
// specific interface (spec.md §4.6: "0x81, 0x06, (HID_REPORT<<8)|index,
// interface_num, length").
func (c *Controller) getHIDReportDescriptor(dev *Device, interfaceNum uint8, length int) ([]byte, error) {
	buf := make([]byte, length)
	wValue := uint16(0x22)<<8 | uint16(0)
	return c.controlRequest(dev, 0x81, reqGetDescriptor, wValue, uint16(interfaceNum), buf, ring.TRTInData)
}

// setConfiguration issues SET_CONFIGURATION as a no-data control transfer
// (spec.md §4.6).
func (c *Controller) setConfiguration(dev *Device, value uint8) error {
	_, err := c.controlRequest(dev, 0x00, reqSetConfiguration, uint16(value), 0, nil, ring.TRTNoData)
	return err
}

// setProtocol issues the HID SET_PROTOCOL class request.
func (c *Controller) setProtocol(dev *Device, interfaceNum uint8, protocol uint16) error {
	_, err := c.controlRequest(dev, 0x21, reqSetProtocol, protocol, uint16(interfaceNum), nil, ring.TRTNoData)
	return err
}

// setInterface issues SET_INTERFACE as a no-data control transfer.
func (c *Controller) setInterface(dev *Device, interfaceNum, altSetting uint8) error {
	_, err := c.controlRequest(dev, 0x01, reqSetInterface, uint16(altSetting), uint16(interfaceNum), nil, ring.TRTNoData)
	return err
}

// clearEndpointHalt issues CLEAR_FEATURE(ENDPOINT_HALT).
func (c *Controller) clearEndpointHalt(dev *Device, endpointAddr uint16) error {
	_, err := c.controlRequest(dev, 0x02, reqClearFeature, featureEndpointHalt, endpointAddr, nil, ring.TRTNoData)
	return err
}
