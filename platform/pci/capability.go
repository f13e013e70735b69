// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pci

// Capability IDs (PCI Local Bus Spec §6.7, PCI Express Base Spec §7.9).
const (
	CapPowerManagement = 0x01
	CapMSI             = 0x05
	CapVendorSpecific  = 0x09
	CapPCIExpress      = 0x10
	CapMSIX            = 0x11
)

// CapabilityHeader is the common two-byte prefix of every entry in the
// Capabilities Linked List.
type CapabilityHeader struct {
	ID   uint8
	Next uint8
}

// Capabilities walks the device's Capabilities Linked List, yielding each
// header and its offset in configuration space. It stops once Next is zero
// or a malformed list would otherwise loop (guarded by a hop bound, since
// configuration space is attacker/firmware controlled input).
func (d *Device) Capabilities(yield func(CapabilityHeader, uint32) bool) {
	if d.Read(offCommandStatus)>>16&0x10 == 0 {
		// Capabilities List bit (Status register, bit 4) clear: no
		// list present.
		return
	}

	off := uint32(d.Read(offCapPointer) & 0xfc)

	for hop := 0; off != 0 && hop < 64; hop++ {
		val := d.Read(off)

		hdr := CapabilityHeader{
			ID:   uint8(val & 0xff),
			Next: uint8(val >> 8),
		}

		if !yield(hdr, off) {
			return
		}

		off = uint32(hdr.Next & 0xfc)
	}
}

// FindCapability returns the configuration-space offset of the first
// capability matching id, or 0 if absent.
func (d *Device) FindCapability(id uint8) (off uint32, ok bool) {
	d.Capabilities(func(hdr CapabilityHeader, at uint32) bool {
		if hdr.ID == id {
			off, ok = at, true
			return false
		}
		return true
	})

	return
}
