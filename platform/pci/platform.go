// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pci

import (
	"sync"
	"time"
)

func sleep(us int) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

// XHCIClassCode is the PCI Class Code for a USB3 xHCI host controller
// (Base Class 0x0c "Serial Bus", Sub-Class 0x03 "USB", Prog IF 0x30
// "xHCI"), per the PCI Code and ID Assignment Specification.
const XHCIClassCode = 0x0c0330

// Platform is a reference implementation of the root xhci package's
// Platform interface, backed by a real PCI/PCIe xHCI function discovered
// on an ECAM-addressed bus. It is the concrete PCI/memory collaborator
// spec.md §6 describes as external to the controller core: BAR mapping,
// physical-address translation, interrupt routing and QEMU detection all
// live here rather than in the xhci package itself.
//
// A host integrating this driver is expected to have already mapped the
// function's MMIO BAR and the platform's ECAM window into its own address
// space (identity-mapped on bare metal, or via mmap on a hosted OS); this
// package does not perform that mapping itself, since doing so requires
// OS- or firmware-specific calls outside any single portable API.
type Platform struct {
	mu sync.Mutex

	Device *Device

	// BARVirt is the virtual address the controller's MMIO BAR (BAR0,
	// the only BAR an xHCI function exposes) has been mapped to.
	BARVirt uintptr
	// BARPhys is that BAR's physical/bus address, as programmed into
	// the BAR0/BAR1 register pair.
	BARPhys uint64

	// PhysOffset is the constant virtual-to-physical offset of the
	// identity-ish mapping DMA buffers are allocated from (vaddr + off
	// == bus address), the common case for a single contiguous DMA
	// window reserved at boot.
	PhysOffset int64

	// QEMUVendorID, when matched against Device.Vendor, marks the
	// controller as a QEMU emulated xHCI (spec.md §4.6's control-
	// transfer doorbell quirk). QEMU's emulated xHCI reports Red Hat's
	// vendor ID, 0x1b36.
	QEMUVendorID uint16

	irq     map[int]func()
	msix    *MSIX
	msixBAR uintptr
}

// NewPlatform discovers the xHCI controller on bus (an already ECAM-mapped
// ECAM window) and prepares a Platform. It does not map the controller's
// MMIO BAR: the caller finishes bring-up by setting BARVirt/BARPhys once
// it has mapped BaseAddress(0) itself, then passes the Platform to
// xhci.Config.
func NewPlatform(bus *Bus) (*Platform, error) {
	dev := bus.FindClass(XHCIClassCode)
	if dev == nil {
		return nil, errNoController
	}

	dev.EnableBusMaster()

	p := &Platform{
		Device: dev,
		irq:    make(map[int]func()),
	}

	if off, ok := dev.FindCapability(CapMSIX); ok {
		p.msix = LoadMSIX(dev, off)
	}

	return p, nil
}

var errNoController = platformError("no xHCI controller found on bus")

type platformError string

func (e platformError) Error() string { return string(e) }

// MapMMIO implements xhci.Platform. bar must equal BARPhys: the mapping
// itself is the host's job (see NewPlatform's doc comment); this only
// hands back the virtual address already recorded for it.
func (p *Platform) MapMMIO(bar uintptr, size uint) (uintptr, error) {
	if uint64(bar) != p.BARPhys {
		return 0, errBARMismatch
	}
	return p.BARVirt, nil
}

var errBARMismatch = platformError("bar does not match the discovered controller's BAR0")

// VirtToPhys implements xhci.Platform under the PhysOffset-based
// translation described above.
func (p *Platform) VirtToPhys(vaddr uintptr) uint64 {
	return uint64(int64(vaddr) + p.PhysOffset)
}

// MarkUncacheable implements xhci.Platform. A hosted process maps DMA
// memory uncacheable (or non-speculative, write-combining for the ring
// producer side) at mmap time; there is nothing further to do once that
// mapping exists, so this is a no-op here, mirroring how tamago's own SoC
// packages treat already-uncacheable DMA windows.
func (p *Platform) MarkUncacheable(vaddr uintptr, size uint) {}

// RegisterIRQ implements xhci.Platform by recording handler for vector,
// to be invoked by Deliver. It does not program the MSI-X table
// (ConfigureMSIX does) and registers no legacy INTx handler, which would
// need an OS-specific IRQ subsystem handle.
func (p *Platform) RegisterIRQ(vector int, handler func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.irq[vector] = handler
}

// Deliver invokes the handler registered for vector, if any. A host's
// interrupt dispatch (MSI-X vector table entry 0 firing, or an INTx ISR)
// calls this to hand control to the core's event-ring dispatch.
func (p *Platform) Deliver(vector int) {
	p.mu.Lock()
	h := p.irq[vector]
	p.mu.Unlock()

	if h != nil {
		h()
	}
}

// ConfigureMSIX programs MSI-X table entry n (mapped behind its own BAR,
// not necessarily BAR0) to deliver vector to addr/data, then enables MSI-X
// delivery. Call once BARVirt (and, if the MSI-X table lives behind a
// different BAR, that BAR's mapping) is known.
func (p *Platform) ConfigureMSIX(n int, tableBARVirt uintptr, addr uint64, data uint32) error {
	if p.msix == nil {
		return errNoMSIX
	}

	if err := p.msix.SetEntry(tableBARVirt, n, addr, data); err != nil {
		return err
	}

	p.msix.Enable()

	return nil
}

var errNoMSIX = platformError("controller has no MSI-X capability")

// SleepMs implements xhci.Platform.
func (p *Platform) SleepMs(n int) { sleep(n * 1000) }

// SleepUs implements xhci.Platform.
func (p *Platform) SleepUs(n int) { sleep(n) }

// IsQEMU implements xhci.Platform, matching the discovered function's
// vendor ID against QEMUVendorID (defaults to 0x1b36, Red Hat Inc., the ID
// QEMU's emulated xHCI reports) when the caller leaves it unset.
func (p *Platform) IsQEMU() bool {
	want := p.QEMUVendorID
	if want == 0 {
		want = 0x1b36
	}
	return p.Device.Vendor == want
}
