// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"time"

	"github.com/usbarmory/xhci/internal/reg"
)

// Extended capability IDs (xHCI 1.2 table 7-1), named and stringified per
// the original driver's xhci_extended_capability_to_string catalog
// (spec.md's DOMAIN STACK section 2; no pack repo ships this table, so it
// is grounded directly on original_source/ rather than a library).
type capabilityID uint8

const (
	capReserved           capabilityID = 0
	capUSBLegacySupport   capabilityID = 1
	capSupportedProtocol  capabilityID = 2
	capExtendedPowerMgmt  capabilityID = 3
	capIOVirtualization   capabilityID = 4
	capMessageInterrupt   capabilityID = 5
	capLocalMemory        capabilityID = 6
	capUSBDebugCapability capabilityID = 10
	capExtendedMessageInterrupt capabilityID = 17
)

func (c capabilityID) String() string {
	switch c {
	case capUSBLegacySupport:
		return "USB Legacy Support"
	case capSupportedProtocol:
		return "Supported Protocol"
	case capExtendedPowerMgmt:
		return "Extended Power Management"
	case capIOVirtualization:
		return "I/O Virtualization"
	case capMessageInterrupt:
		return "Message Interrupt"
	case capLocalMemory:
		return "Local Memory"
	case capUSBDebugCapability:
		return "USB Debug Capability"
	case capExtendedMessageInterrupt:
		return "Extended Message-Interrupt"
	default:
		return "Reserved"
	}
}

const (
	xecpIDMask   = 0xff
	xecpNextMask = 0xff
	xecpNextShift = 8
)

// usbLegacySupport offsets, relative to the USB Legacy Support capability
// entry (xHCI 1.2 §7.1.1).
const (
	uslsBIOSOwned = 16 // byte 2, bit 0 (within the 32-bit entry)
	uslsOSOwned   = 24 // byte 3, bit 0
)

// uslsCtlStsOffset is the byte offset of the USB Legacy Support Control and
// Status register (USBLEGCTLSTS) from the start of the capability entry; it
// is a separate dword from USBLEGSUP (xHCI 1.2 §7.1.1). uslsSMIEnable is
// its SMI Enable bit: while set, BIOS SMI handlers keep fielding USB SMIs
// even after OS ownership is claimed, so it must be cleared as part of
// handoff.
const (
	uslsCtlStsOffset = 4
	uslsSMIEnable    = 0
)

const biosHandoffTimeout = 1 * time.Second

// walkExtendedCapabilities follows the xECP linked list of 32-bit entries
// rooted at base+xecpOffset, invoking fn for each entry's (id, addr). It
// stops when fn returns false or the list ends (next == 0) (spec.md §4.4).
func walkExtendedCapabilities(base uintptr, xecpOffset uintptr, fn func(id capabilityID, addr uintptr) bool) {
	if xecpOffset == 0 {
		return
	}

	addr := base + xecpOffset

	for {
		entry := reg.Read(addr)
		id := capabilityID(entry & xecpIDMask)
		next := (entry >> xecpNextShift) & xecpNextMask

		if !fn(id, addr) {
			return
		}

		if next == 0 {
			return
		}

		addr += uintptr(next) * 4
	}
}

// biosHandoff requests BIOS-to-OS ownership handoff for a USB Legacy
// Support capability entry found at addr: per xHCI 1.2 §7.1.1 it first
// clears USBLEGCTLSTS's SMI Enable bit so the BIOS stops servicing USB
// SMIs, then sets the OS-owned semaphore and polls for the BIOS-owned
// semaphore to clear (spec.md §4.4). On timeout it force-clears the BIOS
// semaphore and returns *BiosHandoffTimeout so the caller can log and
// proceed.
func biosHandoff(addr uintptr) error {
	reg.Clear(addr+uslsCtlStsOffset, uslsSMIEnable)

	reg.Set(addr, uslsOSOwned)

	if reg.WaitFor(biosHandoffTimeout, addr, uslsBIOSOwned, 1, 0) {
		return nil
	}

	reg.Clear(addr, uslsBIOSOwned)

	return &BiosHandoffTimeout{}
}

// supportedProtocolRange describes a Supported Protocol extended
// capability entry's compatible port range.
type supportedProtocolRange struct {
	MajorRevision uint8
	PortOffset    int
	PortCount     int
}

// parseSupportedProtocol reads a Supported Protocol capability entry's
// port-range fields (xHCI 1.2 §7.2).
func parseSupportedProtocol(addr uintptr) supportedProtocolRange {
	dw0 := reg.Read(addr)
	dw2 := reg.Read(addr + 8)

	return supportedProtocolRange{
		MajorRevision: uint8(dw0 >> 24),
		PortOffset:    int(dw2 & 0xff),
		PortCount:     int((dw2 >> 8) & 0xff),
	}
}
