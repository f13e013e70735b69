// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ring

import (
	"encoding/binary"

	"github.com/usbarmory/xhci/dma"
)

// TRBCount is the fixed depth of every producer ring (Command and
// Transfer), including the trailing Link-TRB slot (spec.md §3: "a
// contiguous, aligned (64 B), boundary-respecting (64 KiB) array of 256
// TRBs").
const TRBCount = 256

// linkSlot is the index of the last slot, always a Link-TRB.
const linkSlot = TRBCount - 1

// Producer is a host-producer, controller-consumer ring: the Command Ring
// or an endpoint's Transfer Ring. Both share the same 256-TRB shape with a
// trailing Link-TRB (spec.md §4.3).
type Producer struct {
	mem   *dma.Region
	addr  uintptr
	pcs   bool
	enqueue int

	// DoorbellID identifies the ring's doorbell target: 0 for the
	// Command Ring, or the endpoint DCI for a Transfer Ring.
	DoorbellID int
	// SlotID is the owning device slot; unused (0) for the Command Ring.
	SlotID uint8
}

// NewProducer allocates a 256-TRB producer ring from mem and installs its
// Link-TRB, with the initial Producer Cycle State set to 1 as spec.md §3
// requires. It returns the dma.Region's *dma.AllocError unchanged if the
// ring's backing allocation fails.
func NewProducer(mem *dma.Region) (*Producer, error) {
	addr, buf, err := mem.Alloc(TRBCount*Size, dma.RingConstraint)
	if err != nil {
		return nil, err
	}

	link := Link(uint64(addr), true)
	link = withCycle(link, true)
	copy(buf[linkSlot*Size:(linkSlot+1)*Size], link.Marshal())

	return &Producer{mem: mem, addr: addr, pcs: true}, nil
}

// PhysicalBase returns the ring's DMA physical-equivalent base address (in
// this core's single-address-space model, its DMA virtual address; a
// Platform collaborator translates it to a bus address before it is
// written into a register).
func (p *Producer) PhysicalBase() uintptr {
	return p.addr
}

// CycleBit returns the ring's current Producer Cycle State.
func (p *Producer) CycleBit() bool {
	return p.pcs
}

// Enqueue copies trb into the next producer slot with its cycle bit
// overwritten to the ring's current PCS, advances the enqueue index, and
// wraps (flipping PCS and refreshing the Link-TRB's cycle bit) when the
// Link-TRB slot is reached (spec.md §4.3). It returns the slot's physical
// address, used by callers that need to correlate a completion event back
// to the TRB that produced it.
func (p *Producer) Enqueue(trb TRB) uintptr {
	trb = withCycle(trb, p.pcs)

	off := p.enqueue * Size
	slotAddr := p.addr + uintptr(off)

	// Writes stay within the ring's own allocation by construction (off
	// never exceeds TRBCount*Size), so the only possible *dma.AccessError
	// would indicate a driver bug, not a runtime condition Enqueue's
	// callers could meaningfully recover from.
	_ = p.mem.Write(p.addr, off, trb.Marshal())

	p.enqueue++

	if p.enqueue == linkSlot {
		link := withCycle(Link(uint64(p.addr), true), p.pcs)
		_ = p.mem.Write(p.addr, linkSlot*Size, link.Marshal())

		p.pcs = !p.pcs
		p.enqueue = 0
	}

	return slotAddr
}

// Segment returns the segment the controller should see for
// TR-Dequeue-Pointer-style fields: physical base OR'd with the current
// cycle bit.
func (p *Producer) Segment() uint64 {
	v := uint64(p.addr)
	if p.pcs {
		v |= 1
	}
	return v
}

// Event is a single segment, controller-producer, host-consumer Event Ring
// described by a one-entry ERST (spec.md §3, §4.3).
type Event struct {
	mem     *dma.Region
	ring    uintptr
	erst    uintptr
	ccs     bool
	dequeue int
}

// ERSTEntrySize is the byte size of a single Event Ring Segment Table
// entry (spec.md §3: "ring_segment_base_address uint64, ring_segment_size
// uint32, rsvd uint32").
const ERSTEntrySize = 16

// NewEvent allocates the Event Ring's segment and its one-entry ERST, with
// the initial Consumer Cycle State set to 1. The caller is responsible for
// the mandatory runtime-register programming order of spec.md §4.3
// (ERSTSZ, then ERDP, then ERSTBA last). It returns the dma.Region's
// *dma.AllocError unchanged if either backing allocation fails.
func NewEvent(mem *dma.Region) (*Event, error) {
	ring, _, err := mem.Alloc(TRBCount*Size, dma.RingConstraint)
	if err != nil {
		return nil, err
	}

	erst, erstBuf, err := mem.Alloc(ERSTEntrySize, dma.RingConstraint)
	if err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint64(erstBuf[0:8], uint64(ring))
	binary.LittleEndian.PutUint32(erstBuf[8:12], TRBCount)

	return &Event{mem: mem, ring: ring, erst: erst, ccs: true}, nil
}

// RingBase returns the Event Ring segment's physical base.
func (ev *Event) RingBase() uintptr { return ev.ring }

// ERSTBase returns the ERST's physical base.
func (ev *Event) ERSTBase() uintptr { return ev.erst }

// HasPending reports whether the TRB at the current dequeue index carries
// the consumer's current cycle bit (spec.md §4.3's has_pending()).
func (ev *Event) HasPending() bool {
	buf := make([]byte, Size)
	_ = ev.mem.Read(ev.ring, ev.dequeue*Size, buf)
	return Unmarshal(buf).CycleBit() == ev.ccs
}

// Drain dequeues every pending TRB, wrapping the dequeue index and
// flipping CCS at the segment boundary, and returns the dequeue physical
// address the caller should program into ERDP (spec.md §4.3's drain()).
func (ev *Event) Drain() (events []TRB, erdp uint64) {
	buf := make([]byte, Size)

	for {
		_ = ev.mem.Read(ev.ring, ev.dequeue*Size, buf)
		trb := Unmarshal(buf)

		if trb.CycleBit() != ev.ccs {
			break
		}

		events = append(events, trb)

		ev.dequeue++
		if ev.dequeue == TRBCount {
			ev.dequeue = 0
			ev.ccs = !ev.ccs
		}
	}

	erdp = uint64(ev.ring) + uint64(ev.dequeue*Size)

	return events, erdp
}

