// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mmio provides typed, volatile views over the four MMIO regions an
// xHCI controller exposes relative to a single base pointer: Capability,
// Operational, Runtime, and Doorbell registers (spec.md §4.1).
//
// The views are thin wrappers around internal/reg, following the same
// split the teacher (github.com/usbarmory/tamago) uses between a raw
// register-access primitive (internal/reg) and typed per-peripheral views
// built on top of it (e.g. soc/nxp/usb's endpoint/device types). Nothing in
// this package issues a syscall: the base address is a pointer into memory
// a PCI collaborator has already mapped.
package mmio

import (
	"github.com/usbarmory/xhci/internal/reg"
)

// Capability holds the capability-register base address (read-only
// region). CAPLENGTH gives the offset to the Operational registers.
type Capability struct {
	Base uintptr
}

const (
	capCAPLENGTH  = 0x00
	capHCIVERSION = 0x02
	capHCSPARAMS1 = 0x04
	capHCSPARAMS2 = 0x08
	capHCSPARAMS3 = 0x0c
	capHCCPARAMS1 = 0x10
	capDBOFF      = 0x14
	capRTSOFF     = 0x18
	capHCCPARAMS2 = 0x1c
)

// CapLength returns the byte offset from Base to the Operational registers.
func (c Capability) CapLength() uint32 {
	return reg.Get(c.Base+capCAPLENGTH, 0, 0xff)
}

// HCIVersion returns the xHCI revision in BCD (e.g. 0x0100 for 1.0).
func (c Capability) HCIVersion() uint32 {
	return reg.Get(c.Base+capCAPLENGTH, 16, 0xffff)
}

// MaxSlots is the maximum number of device slots the controller supports.
func (c Capability) MaxSlots() uint32 {
	return reg.Get(c.Base+capHCSPARAMS1, 0, 0xff)
}

// MaxInterrupters is the maximum number of interrupters supported.
func (c Capability) MaxInterrupters() uint32 {
	return reg.Get(c.Base+capHCSPARAMS1, 8, 0x7ff)
}

// MaxPorts is the number of root-hub ports.
func (c Capability) MaxPorts() uint32 {
	return reg.Get(c.Base+capHCSPARAMS1, 24, 0xff)
}

// ERSTMax is the maximum number of ERST entries supported, expressed as
// 2^ERSTMax.
func (c Capability) ERSTMax() uint32 {
	return reg.Get(c.Base+capHCSPARAMS2, 4, 0xf)
}

// MaxScratchpadBuffers is the number of scratchpad buffers the controller
// requires in DCBAA[0].
func (c Capability) MaxScratchpadBuffers() uint32 {
	params := reg.Read(c.Base + capHCSPARAMS2)
	hi := (params >> 21) & 0x1f
	lo := (params >> 27) & 0x1f
	return (hi << 5) | lo
}

// CSZ reports whether the controller uses 64-byte (true) or 32-byte
// (false) device/input contexts.
func (c Capability) CSZ() bool {
	return reg.Get(c.Base+capHCCPARAMS1, 2, 0x1) == 1
}

// AC64 reports whether the controller supports 64-bit addressing.
func (c Capability) AC64() bool {
	return reg.Get(c.Base+capHCCPARAMS1, 0, 0x1) == 1
}

// XECP returns the byte offset from Base to the first extended-capability
// entry, or 0 if the controller has none.
func (c Capability) XECP() uintptr {
	dwords := reg.Get(c.Base+capHCCPARAMS1, 16, 0xffff)
	return uintptr(dwords) * 4
}

// DBOFF returns the byte offset from Base to the Doorbell array.
func (c Capability) DBOFF() uintptr {
	return uintptr(reg.Read(c.Base+capDBOFF) &^ 0x3)
}

// RTSOFF returns the byte offset from Base to the Runtime register set.
func (c Capability) RTSOFF() uintptr {
	return uintptr(reg.Read(c.Base+capRTSOFF) &^ 0x1f)
}

// Operational register offsets, relative to Operational.Base.
const (
	opUSBCMD    = 0x00
	opUSBSTS    = 0x04
	opPAGESIZE  = 0x08
	opDNCTRL    = 0x14
	opCRCR      = 0x18
	opDCBAAP    = 0x30
	opCONFIG    = 0x38
	opPortBase  = 0x400
	opPortPitch = 0x10
)

// USBCMD bit positions.
const (
	USBCMDRunStop = 0
	USBCMDHCRST   = 1
	USBCMDINTE    = 2
	USBCMDHSEE    = 3
)

// USBSTS bit positions.
const (
	USBSTSHCH = 0
	USBSTSHSE = 2
	USBSTSEINT = 3
	USBSTSPCD = 4
	USBSTSCNR = 11
)

// Operational is the Operational register view at base+CAPLENGTH.
type Operational struct {
	Base uintptr
}

func (o Operational) USBCMD() uint32          { return reg.Read(o.Base + opUSBCMD) }
func (o Operational) SetUSBCMD(v uint32)      { reg.Write(o.Base+opUSBCMD, v) }
func (o Operational) USBSTS() uint32          { return reg.Read(o.Base + opUSBSTS) }
func (o Operational) ClearUSBSTS(bit int)     { reg.WriteOne(o.Base+opUSBSTS, bit) }

// StatusAddr returns the USBSTS register's address, for callers that need
// to pass it to internal/reg.WaitFor directly.
func (o Operational) StatusAddr() uintptr { return o.Base + opUSBSTS }
func (o Operational) PageSize() uint32        { return reg.Read(o.Base + opPAGESIZE) }
func (o Operational) SetDNCTRL(v uint32)      { reg.Write(o.Base+opDNCTRL, v) }
func (o Operational) SetCRCR(v uint64)        { reg.Write64(o.Base+opCRCR, v) }
func (o Operational) CRCR() uint64            { return reg.Read64(o.Base + opCRCR) }
func (o Operational) SetDCBAAP(v uint64)      { reg.Write64(o.Base+opDCBAAP, v) }
func (o Operational) DCBAAP() uint64          { return reg.Read64(o.Base + opDCBAAP) }
func (o Operational) CONFIG() uint32          { return reg.Read(o.Base + opCONFIG) }
func (o Operational) SetCONFIG(v uint32)      { reg.Write(o.Base+opCONFIG, v) }

// Port returns the per-port register set for a 1-based port index.
func (o Operational) Port(index int) Port {
	return Port{Base: o.Base + opPortBase + uintptr((index-1)*opPortPitch)}
}

// Port-register change bits (PORTSC), write-1-to-clear.
const (
	PortSCCCS  = 0  // Current Connect Status
	PortSCPED  = 1  // Port Enabled/Disabled
	PortSCPR   = 4  // Port Reset
	PortSCPP   = 9  // Port Power
	PortSCSpeed = 10 // Port Speed, 4-bit field
	PortSCPIC  = 14 // Port Indicator Control
	PortSCLWS  = 16 // Port Link Write Strobe
	PortSCCSC  = 17 // Connect Status Change
	PortSCPEC  = 18 // Port Enabled/Disabled Change
	PortSCWRC  = 19 // Warm Port Reset Change
	PortSCPRC  = 21 // Port Reset Change
	PortSCWPR  = 31 // Warm Port Reset
)

// Port is a single port's PORTSC/PORTPMSC/PORTLI/PORTHLPMC register set.
type Port struct {
	Base uintptr
}

func (p Port) SC() uint32       { return reg.Read(p.Base + 0x0) }
func (p Port) SetSC(v uint32)   { reg.Write(p.Base+0x0, v) }
func (p Port) PMSC() uint32     { return reg.Read(p.Base + 0x4) }
func (p Port) LI() uint32       { return reg.Read(p.Base + 0x8) }
func (p Port) HLPMC() uint32    { return reg.Read(p.Base + 0xc) }

// Speed returns the port's negotiated speed code (PORTSC bits 13:10).
func (p Port) Speed() uint32 {
	return reg.Get(p.Base, PortSCSpeed, 0xf)
}

// Runtime register offsets.
const (
	rtMFINDEX        = 0x00
	rtInterrupterBase = 0x20
	rtInterrupterSize = 0x20
)

// Runtime is the Runtime register view at base+RTSOFF.
type Runtime struct {
	Base uintptr
}

// Interrupter returns the register set for interrupter n (0-based).
func (r Runtime) Interrupter(n int) Interrupter {
	return Interrupter{Base: r.Base + rtInterrupterBase + uintptr(n*rtInterrupterSize)}
}

// IMAN bit positions.
const (
	IMANIP = 0 // Interrupt Pending
	IMANIE = 1 // Interrupt Enable
)

// Interrupter is one Interrupter Register Set (IMAN/IMOD/ERSTSZ/ERSTBA/ERDP).
type Interrupter struct {
	Base uintptr
}

func (i Interrupter) IMAN() uint32         { return reg.Read(i.Base + 0x0) }
func (i Interrupter) SetIMAN(v uint32)     { reg.Write(i.Base+0x0, v) }
func (i Interrupter) ClearIP()             { reg.Or(i.Base+0x0, 1<<IMANIP) }
func (i Interrupter) SetIMOD(v uint32)     { reg.Write(i.Base+0x4, v) }
func (i Interrupter) SetERSTSZ(v uint32)   { reg.Write(i.Base+0x8, v) }
func (i Interrupter) SetERDP(v uint64)     { reg.Write64(i.Base+0x18, v) }
func (i Interrupter) ERDP() uint64         { return reg.Read64(i.Base + 0x18) }
func (i Interrupter) SetERSTBA(v uint64)   { reg.Write64(i.Base+0x10, v) }

// ERDP event-handler-busy bit.
const ERDPEHB = 3

// Doorbell is the doorbell array at base+DBOFF.
type Doorbell struct {
	Base uintptr
}

// Ring writes target into the doorbell register for slot (0 = Command
// Ring).
func (d Doorbell) Ring(slot int, target uint8) {
	reg.Write(d.Base+uintptr(slot*4), uint32(target))
}
