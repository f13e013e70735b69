// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbdesc parses standard USB descriptors returned by a device
// over the default control endpoint: Device, Configuration, Interface,
// Endpoint, and HID descriptors (spec.md §2's "Descriptor & protocol
// glue" row). This is the parsing inverse of the teacher's descriptor-
// building code (soc/imx6/usb/descriptor.go builds these same shapes to
// describe a device-mode gadget to a host); the wire layout and
// encoding/binary usage follow that file closely, read in the opposite
// direction.
package usbdesc

import "encoding/binary"

// Standard descriptor types (USB 2.0 table 9-5, plus the HID class
// descriptor type used by spec.md's GET_REPORT_DESCRIPTOR flow).
const (
	TypeDevice        = 1
	TypeConfiguration = 2
	TypeString        = 3
	TypeInterface     = 4
	TypeEndpoint      = 5
	TypeHID           = 0x21
	TypeHIDReport     = 0x22
)

// Device is the 18-byte Device Descriptor (USB 2.0 table 9-8).
type Device struct {
	Length            uint8
	DescriptorType    uint8
	USB               uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceRelease     uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// ParseDevice parses an 18-byte (or the 8-byte prefix spec.md §4.6 step 4
// reads) Device Descriptor.
func ParseDevice(buf []byte) Device {
	var d Device

	d.Length = buf[0]
	d.DescriptorType = buf[1]

	if len(buf) < 8 {
		return d
	}

	d.USB = binary.LittleEndian.Uint16(buf[2:4])
	d.DeviceClass = buf[4]
	d.DeviceSubClass = buf[5]
	d.DeviceProtocol = buf[6]
	d.MaxPacketSize0 = buf[7]

	if len(buf) < 18 {
		return d
	}

	d.VendorID = binary.LittleEndian.Uint16(buf[8:10])
	d.ProductID = binary.LittleEndian.Uint16(buf[10:12])
	d.DeviceRelease = binary.LittleEndian.Uint16(buf[12:14])
	d.Manufacturer = buf[14]
	d.Product = buf[15]
	d.SerialNumber = buf[16]
	d.NumConfigurations = buf[17]

	return d
}

// Configuration is the 9-byte Configuration Descriptor header (USB 2.0
// table 9-10) plus the interfaces discovered while walking its trailing
// descriptor blob.
type Configuration struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8

	Interfaces []Interface
}

// ParseConfigurationHeader parses only the fixed 9-byte header, as used
// by spec.md §4.6 step 8's two-step header-then-body read.
func ParseConfigurationHeader(buf []byte) Configuration {
	return Configuration{
		Length:             buf[0],
		DescriptorType:     buf[1],
		TotalLength:        binary.LittleEndian.Uint16(buf[2:4]),
		NumInterfaces:      buf[4],
		ConfigurationValue: buf[5],
		Configuration:      buf[6],
		Attributes:         buf[7],
		MaxPower:           buf[8],
	}
}

// Interface is an Interface Descriptor (USB 2.0 table 9-12) together with
// its endpoints and optional HID report descriptor blob.
type Interface struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8

	Endpoints []Endpoint
	HIDReportLength uint16
}

// Endpoint is an Endpoint Descriptor (USB 2.0 table 9-13).
type Endpoint struct {
	Length         uint8
	DescriptorType uint8
	Address        uint8
	Attributes     uint8
	MaxPacketSize  uint16
	Interval       uint8
}

// HID class codes/subclasses/protocols used to recognize a boot-protocol
// keyboard or mouse (spec.md §4.6 step 11).
const (
	ClassHID          = 3
	SubClassBoot      = 1
	ProtocolKeyboard  = 1
	ProtocolMouse     = 2
)

// ParseConfiguration walks the full configuration blob (header already
// known to be well formed via ParseConfigurationHeader), grouping
// Interface/Endpoint/HID descriptors under the Interface that precedes
// them, per spec.md §4.6 step 10.
func ParseConfiguration(buf []byte) Configuration {
	cfg := ParseConfigurationHeader(buf)

	off := int(buf[0])
	var cur *Interface

	for off+2 <= len(buf) {
		length := int(buf[off])
		if length == 0 || off+length > len(buf) {
			break
		}

		descType := buf[off+1]

		switch descType {
		case TypeInterface:
			iface := Interface{
				Length:            buf[off],
				DescriptorType:    buf[off+1],
				InterfaceNumber:   buf[off+2],
				AlternateSetting:  buf[off+3],
				NumEndpoints:      buf[off+4],
				InterfaceClass:    buf[off+5],
				InterfaceSubClass: buf[off+6],
				InterfaceProtocol: buf[off+7],
				Interface:         buf[off+8],
			}
			cfg.Interfaces = append(cfg.Interfaces, iface)
			cur = &cfg.Interfaces[len(cfg.Interfaces)-1]

		case TypeHID:
			if cur != nil && length >= 9 {
				cur.HIDReportLength = binary.LittleEndian.Uint16(buf[off+7 : off+9])
			}

		case TypeEndpoint:
			ep := Endpoint{
				Length:         buf[off],
				DescriptorType: buf[off+1],
				Address:        buf[off+2],
				Attributes:     buf[off+3],
				MaxPacketSize:  binary.LittleEndian.Uint16(buf[off+4 : off+6]),
				Interval:       buf[off+6],
			}
			if cur != nil {
				cur.Endpoints = append(cur.Endpoints, ep)
			}
		}

		off += length
	}

	return cfg
}

// IsBootHID reports whether an interface advertises a recognized
// boot-protocol HID device (keyboard or mouse).
func (i Interface) IsBootHID() bool {
	if i.InterfaceClass != ClassHID || i.InterfaceSubClass != SubClassBoot {
		return false
	}
	return i.InterfaceProtocol == ProtocolKeyboard || i.InterfaceProtocol == ProtocolMouse
}

// Marshal serializes a Configuration back to wire bytes from the fields
// ParseConfiguration keeps. Configuration, Interface and Endpoint
// descriptors are written field for field. A HID descriptor is written
// with only bLength, bDescriptorType and the report-descriptor length set;
// its other bytes (bcdHID, country code, descriptor count and type) are
// zero, and descriptors of other types are not written, so such a blob
// does not round-trip byte for byte.
func (c Configuration) Marshal() []byte {
	buf := make([]byte, 0, c.TotalLength)

	header := make([]byte, 9)
	header[0] = 9
	header[1] = TypeConfiguration
	binary.LittleEndian.PutUint16(header[2:4], c.TotalLength)
	header[4] = c.NumInterfaces
	header[5] = c.ConfigurationValue
	header[6] = c.Configuration
	header[7] = c.Attributes
	header[8] = c.MaxPower
	buf = append(buf, header...)

	for _, iface := range c.Interfaces {
		ifaceBuf := make([]byte, 9)
		ifaceBuf[0] = 9
		ifaceBuf[1] = TypeInterface
		ifaceBuf[2] = iface.InterfaceNumber
		ifaceBuf[3] = iface.AlternateSetting
		ifaceBuf[4] = iface.NumEndpoints
		ifaceBuf[5] = iface.InterfaceClass
		ifaceBuf[6] = iface.InterfaceSubClass
		ifaceBuf[7] = iface.InterfaceProtocol
		ifaceBuf[8] = iface.Interface
		buf = append(buf, ifaceBuf...)

		if iface.HIDReportLength != 0 {
			hidBuf := make([]byte, 9)
			hidBuf[0] = 9
			hidBuf[1] = TypeHID
			binary.LittleEndian.PutUint16(hidBuf[7:9], iface.HIDReportLength)
			buf = append(buf, hidBuf...)
		}

		for _, ep := range iface.Endpoints {
			epBuf := make([]byte, 7)
			epBuf[0] = 7
			epBuf[1] = TypeEndpoint
			epBuf[2] = ep.Address
			epBuf[3] = ep.Attributes
			binary.LittleEndian.PutUint16(epBuf[4:6], ep.MaxPacketSize)
			epBuf[6] = ep.Interval
			buf = append(buf, epBuf...)
		}
	}

	return buf
}
