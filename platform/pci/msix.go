// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pci

import (
	"github.com/usbarmory/xhci/internal/reg"
)

const msixEnableBit = 31

// MSIX represents a function's MSI-X Capability Structure (PCI Express
// Base Spec §7.7.2), adapted from the teacher's CapabilityMSIX to target
// this package's ECAM-addressed Device, writing table entries through
// internal/reg in place of tamago's dma.NewRegion/Reserve pair.
type MSIX struct {
	device         *Device
	off            uint32
	messageControl uint16
	tableOffset    uint32
	tableBIR       int
}

// TableBIR returns the BAR index (0-5) the MSI-X table lives behind, so
// the caller can resolve it to a mapped virtual address before calling
// SetEntry.
func (m *MSIX) TableBIR() int { return m.tableBIR }

// LoadMSIX reads the MSI-X capability at off, as located by
// Device.FindCapability(CapMSIX).
func LoadMSIX(d *Device, off uint32) *MSIX {
	val := d.Read(off)

	m := &MSIX{
		device:         d,
		off:            off,
		messageControl: uint16(val >> 16),
	}

	table := d.Read(off + 4)
	m.tableBIR = int(table & 0b111)
	m.tableOffset = table &^ 0b111

	return m
}

// TableSize returns the number of entries in the MSI-X table.
func (m *MSIX) TableSize() int {
	return int(m.messageControl&0x7ff) + 1
}

// Enable sets the MSI-X Enable bit, after every entry of interest has been
// programmed via SetEntry.
func (m *MSIX) Enable() {
	ctrl := m.device.Read(m.off)
	m.device.Write(m.off, ctrl|1<<msixEnableBit)
}

// SetEntry programs MSI-X table entry n, mapped at barVirt (the virtual
// address the BIR's BAR has already been mapped to by the caller), to
// deliver interrupt vector data at the given message address, routing the
// controller's completion/transfer event interrupt to vector through the
// host's MSI-X table rather than a legacy INTx pin. The table lives in BAR
// (MMIO) space, not DMA-allocated memory, so entries are written with
// internal/reg rather than through a dma.Region.
func (m *MSIX) SetEntry(barVirt uintptr, n int, addr uint64, data uint32) error {
	if n >= m.TableSize() {
		return errTableIndexOutOfRange
	}

	const entrySize = 16
	entryAddr := barVirt + uintptr(m.tableOffset) + uintptr(n*entrySize)

	reg.Write(entryAddr, uint32(addr))
	reg.Write(entryAddr+4, uint32(addr>>32))
	reg.Write(entryAddr+8, data)
	reg.Write(entryAddr+12, 0) // Vector Control: unmasked

	return nil
}

var errTableIndexOutOfRange = msixError("MSI-X table index out of range")

type msixError string

func (e msixError) Error() string { return string(e) }
