// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"github.com/usbarmory/xhci/hid"
	"github.com/usbarmory/xhci/ring"
	"github.com/usbarmory/xhci/usbdesc"
)

const maxConfigurationLength = 4096

// SetupDevice drives the eleven-step device bring-up sequence of spec.md
// §4.6, serialized by the device-setup mutex, grounded directly on
// original_source/.../xhci.cpp's _setup_device.
func (c *Controller) SetupDevice(portID uint8) (*Device, error) {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	// 1. Enable slot.
	evt, err := c.sendCommand(ring.EnableSlotCommand(), c.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	slot := evt.SlotID()

	speed := c.PortSpeed(int(portID))

	// 2. Create Output Device Context, build Input Context with MPS
	// estimated from port speed.
	dev, err := c.devices.createDevice(c.cfg.Platform, slot, portID, speed)
	if err != nil {
		return nil, err
	}
	dev.doorbell = func(dci int) { c.doorbell.Ring(int(slot), doorbellTarget(dci)) }

	dev.ControlRing, err = ring.NewProducer(c.cfg.DMA)
	if err != nil {
		return dev, &OutOfResources{Reason: "control ring: " + err.Error()}
	}

	buildDefaultControlInput(dev, c.cfg.Platform, 0)

	inputPA := c.cfg.Platform.VirtToPhys(dev.inputCtxAddr)

	// 3. ADDRESS_DEVICE with BSR=1.
	if _, err := c.sendCommand(ring.AddressDeviceCommand(inputPA, slot, true), c.cfg.CommandTimeout); err != nil {
		return dev, err
	}

	// 4. GET_DESCRIPTOR(DEVICE, 8).
	hdr, err := c.getDescriptor(dev, usbdesc.TypeDevice, 0, 0, 8)
	if err != nil {
		return dev, err
	}

	devDesc := usbdesc.ParseDevice(hdr)
	newMPS := uint16(devDesc.MaxPacketSize0)
	oldMPS := initialMaxPacketSize(speed)

	// 5. Rebuild control Endpoint Context with the new MPS; EVALUATE_CONTEXT
	// only if it changed.
	if newMPS != oldMPS {
		updateControlMPS(dev, newMPS)

		if _, err := c.sendCommand(ring.EvaluateContextCommand(inputPA, slot), c.cfg.CommandTimeout); err != nil {
			return dev, err
		}
	}

	// 6. ADDRESS_DEVICE with BSR=0.
	if _, err := c.sendCommand(ring.AddressDeviceCommand(inputPA, slot, false), c.cfg.CommandTimeout); err != nil {
		return dev, err
	}

	// 7. Sync Output->Input.
	syncOutputToInput(dev)

	// 8. Full device descriptor, then string descriptors, then
	// configuration.
	full, err := c.getDescriptor(dev, usbdesc.TypeDevice, 0, 0, 18)
	if err != nil {
		return dev, err
	}
	dev.Descriptor = usbdesc.ParseDevice(full)

	if err := c.readStrings(dev); err != nil {
		logf("setup: string descriptors: %v", err)
	}

	cfgHdr, err := c.getDescriptor(dev, usbdesc.TypeConfiguration, 0, 0, 9)
	if err != nil {
		return dev, err
	}
	hdrCfg := usbdesc.ParseConfigurationHeader(cfgHdr)

	if int(hdrCfg.TotalLength) > maxConfigurationLength {
		return dev, &DescriptorTooLarge{WTotalLength: int(hdrCfg.TotalLength), BufferSize: maxConfigurationLength}
	}

	full, err = c.getDescriptor(dev, usbdesc.TypeConfiguration, 0, 0, int(hdrCfg.TotalLength))
	if err != nil {
		return dev, err
	}
	cfg := usbdesc.ParseConfiguration(full)
	dev.Config = cfg

	// 9. Sync Output->Input; SET_CONFIGURATION.
	syncOutputToInput(dev)

	if err := c.setConfiguration(dev, cfg.ConfigurationValue); err != nil {
		return dev, err
	}

	// 10. Walk the configuration blob, adding interfaces and endpoints,
	// fetching HID report descriptors.
	for i := range cfg.Interfaces {
		ifaceDesc := cfg.Interfaces[i]
		iface := &Interface{Descriptor: ifaceDesc}

		if ifaceDesc.HIDReportLength != 0 {
			report, err := c.getHIDReportDescriptor(dev, ifaceDesc.InterfaceNumber, int(ifaceDesc.HIDReportLength))
			if err != nil {
				logf("setup: HID report descriptor: %v", err)
			} else {
				iface.HIDReport = report
			}
		}

		for _, epDesc := range ifaceDesc.Endpoints {
			ep, err := addEndpoint(dev, epDesc, c.cfg.DMA, c.cfg.Platform)
			if err != nil {
				return dev, err
			}
			iface.Endpoints = append(iface.Endpoints, ep)
		}

		dev.Interfaces = append(dev.Interfaces, iface)
	}

	// 11. CONFIGURE_ENDPOINT, sync Output->Input, attach boot-HID class
	// driver if applicable.
	if _, err := c.sendCommand(ring.ConfigureEndpointCommand(inputPA, slot), c.cfg.CommandTimeout); err != nil {
		return dev, err
	}

	syncOutputToInput(dev)

	c.attachBootHID(dev)

	return dev, nil
}

func doorbellTarget(dci int) uint8 {
	return uint8(dci)
}

// readStrings fetches the language-ID string descriptor and the
// manufacturer/product/serial strings, each via a two-step header-then-
// body read, per spec.md §4.6 step 8. Failures are non-fatal: string
// descriptors are cosmetic.
func (c *Controller) readStrings(dev *Device) error {
	langHdr, err := c.getDescriptor(dev, usbdesc.TypeString, 0, 0, 4)
	if err != nil {
		return err
	}
	if len(langHdr) < 4 {
		return nil
	}

	langID := uint16(langHdr[2]) | uint16(langHdr[3])<<8

	for _, idx := range []uint8{dev.Descriptor.Manufacturer, dev.Descriptor.Product, dev.Descriptor.SerialNumber} {
		if idx == 0 {
			continue
		}

		hdr, err := c.getDescriptor(dev, usbdesc.TypeString, idx, langID, 2)
		if err != nil || len(hdr) < 2 {
			continue
		}

		full, err := c.getDescriptor(dev, usbdesc.TypeString, idx, langID, int(hdr[0]))
		if err != nil {
			continue
		}

		debugf("string[%d]: %x", idx, full)
	}

	return nil
}

// attachBootHID attaches a keyboard or mouse class driver to the first
// interrupt-IN endpoint of a recognized boot-protocol HID interface and
// invokes its OnStartup, per spec.md §4.6 step 11.
func (c *Controller) attachBootHID(dev *Device) {
	for _, iface := range dev.Interfaces {
		if !iface.Descriptor.IsBootHID() {
			continue
		}

		var interruptIn *Endpoint
		for _, ep := range iface.Endpoints {
			if ep.Descriptor.Address&0x80 != 0 && ep.Descriptor.Attributes&0x3 == 0x3 {
				interruptIn = ep
				break
			}
		}
		if interruptIn == nil {
			continue
		}

		var driver hid.Driver
		switch iface.Descriptor.InterfaceProtocol {
		case usbdesc.ProtocolKeyboard:
			driver = &hid.Keyboard{DCI: interruptIn.DCI}
		case usbdesc.ProtocolMouse:
			driver = &hid.Mouse{DCI: interruptIn.DCI}
		default:
			continue
		}

		if err := c.setProtocol(dev, iface.Descriptor.InterfaceNumber, 0); err != nil {
			logf("setup: SET_PROTOCOL(boot): %v", err)
		}

		iface.Driver = driver
		driver.OnStartup(dev)
	}
}
