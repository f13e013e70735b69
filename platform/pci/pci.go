// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pci implements PCI Express configuration-space access and device
// enumeration for a memory-mapped (ECAM) configuration region, adapted from
// the legacy CONFIG_ADDRESS/CONFIG_DATA port-I/O driver the teacher carries
// for ring-0 bare-metal targets. A hosted driver never holds IN/OUT
// privilege, so configuration space here is addressed the way a modern
// host already exposes it to userspace or a kernel driver: as a flat,
// uintptr-addressed MMCONFIG/ECAM window (PCI Express Base Spec §7.2.2),
// one 4 KiB page per (bus, device, function).
//
// This package exists to back an xhci.Platform implementation (see
// platform.go): PCI bus enumeration, BAR decoding and capability walking
// are the PCI/memory services the root xhci package's Platform interface
// abstracts away rather than performs itself.
package pci

import (
	"github.com/usbarmory/xhci/bits"
	"github.com/usbarmory/xhci/internal/reg"
)

// ECAM device function address-space layout (PCI Express Base Spec §7.2.2):
// each (bus, device, function) gets its own 4 KiB configuration page.
const (
	busShift = 20
	devShift = 15
	fnShift  = 12
	pageSize = 1 << 12
)

// Device represents an enumerated PCI/PCIe function.
type Device struct {
	Bus      uint8
	Slot     uint8
	Function uint8

	Vendor uint16
	Device uint16
	Class  uint32

	// base is the ECAM virtual base this function's configuration page
	// is mapped at.
	base uintptr
}

// ecamAddress returns the configuration register address for off within
// d's configuration page.
func (d *Device) ecamAddress(off uint32) uintptr {
	return d.base + uintptr(off&0xffc)
}

// Read returns the 32-bit configuration space value at off.
func (d *Device) Read(off uint32) uint32 {
	return reg.Read(d.ecamAddress(off))
}

// Write stores val at configuration space offset off.
func (d *Device) Write(off uint32, val uint32) {
	reg.Write(d.ecamAddress(off), val)
}

// Configuration space offsets this package cares about (PCI Local Bus Spec
// §6.1).
const (
	offVendorDevice  = 0x00
	offCommandStatus = 0x04
	offClass         = 0x08
	offHeaderType    = 0x0c
	offBAR0          = 0x10
	offCapPointer    = 0x34
)

// commandBusMaster enables the device as a DMA bus master; commandMemSpace
// enables BAR decoding of memory accesses (PCI Local Bus Spec §6.2.2).
const (
	commandMemSpace  = 1 << 1
	commandBusMaster = 1 << 2
)

// EnableBusMaster sets the Bus Master and Memory Space enable bits, which
// an xHCI controller requires before it can DMA through DCBAA/rings/
// contexts or be addressed through its MMIO BAR.
func (d *Device) EnableBusMaster() {
	cmd := d.Read(offCommandStatus)
	d.Write(offCommandStatus, cmd|commandMemSpace|commandBusMaster)
}

// barType identifies a Base Address Register's addressing width and space,
// decoded the way the teacher's BaseAddress does (bits.Get on the low
// type bits of the BAR dword).
const (
	barSpaceIO   = 1
	barType64Bit = 2
)

// BaseAddress returns the physical base address programmed into BAR n (0
// based), resolving 64-bit BARs across the adjacent dword pair.
func (d *Device) BaseAddress(n int) uint64 {
	off := uint32(offBAR0 + n*4)
	bar := d.Read(off)

	if bits.Get(&bar, 0) {
		// I/O space BAR; xHCI controllers only ever expose memory
		// BARs, but report it verbatim rather than guessing.
		return uint64(bar &^ 0x3)
	}

	addr := uint64(bar &^ 0xf)

	if bits.GetN(&bar, 1, 0b11) == barType64Bit {
		hi := d.Read(off + 4)
		addr |= uint64(hi) << 32
	}

	return addr
}

// probe reads vendor/device/class if a function is present (vendor ID
// 0xffff means "not present", per PCI Local Bus Spec §6.1).
func probe(base uintptr, bus, slot, fn uint8) *Device {
	d := &Device{Bus: bus, Slot: slot, Function: fn, base: base}

	vd := d.Read(offVendorDevice)
	if uint16(vd&0xffff) == 0xffff {
		return nil
	}

	d.Vendor = uint16(vd & 0xffff)
	d.Device = uint16(vd >> 16)
	d.Class = d.Read(offClass) >> 8

	return d
}

// Bus enumerates the functions behind an ECAM window, following the
// teacher's Devices(bus)/Probe(bus, vendor, device) split but walking a
// memory-mapped window instead of issuing per-function port-I/O cycles.
type Bus struct {
	// ecamBase is the virtual address the full bus's ECAM window (32
	// devices * 8 functions * 4 KiB) has been mapped to.
	ecamBase uintptr
	bus      uint8
}

// NewBus wraps an already-mapped ECAM window for the given PCI bus number.
func NewBus(ecamBase uintptr, bus uint8) *Bus {
	return &Bus{ecamBase: ecamBase, bus: bus}
}

// Devices returns every present function on the bus.
func (b *Bus) Devices() []*Device {
	var found []*Device

	for dev := uint8(0); dev < 32; dev++ {
		for fn := uint8(0); fn < 8; fn++ {
			base := b.ecamBase + (uintptr(dev)<<3+uintptr(fn))*pageSize

			d := probe(base, b.bus, dev, fn)
			if d == nil {
				if fn == 0 {
					break
				}
				continue
			}

			found = append(found, d)

			if fn == 0 && !d.multiFunction() {
				break
			}
		}
	}

	return found
}

func (d *Device) multiFunction() bool {
	return d.Read(offHeaderType)&0x800000 != 0
}

// Find returns the first function on the bus matching vendor/device IDs,
// mirroring the teacher's Probe helper.
func (b *Bus) Find(vendor, device uint16) *Device {
	for _, d := range b.Devices() {
		if d.Vendor == vendor && d.Device == device {
			return d
		}
	}
	return nil
}

// FindClass returns the first function on the bus matching a class code
// (Base Class << 16 | Sub-Class << 8 | Prog IF), used to locate the xHCI
// controller (class 0x0c0330) without a priori knowledge of its vendor.
func (b *Bus) FindClass(class uint32) *Device {
	for _, d := range b.Devices() {
		if d.Class == class {
			return d
		}
	}
	return nil
}
