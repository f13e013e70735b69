// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ring

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/usbarmory/xhci/dma"
)

// testBackings keeps every test region's backing buffer reachable for the
// duration of the test binary; a bare uintptr does not keep its referent
// alive against the garbage collector.
var testBackings [][]byte

func newTestMem(t *testing.T, size uint) *dma.Region {
	t.Helper()

	backing := make([]byte, size)
	testBackings = append(testBackings, backing)
	runtime.KeepAlive(backing)

	r := &dma.Region{}
	r.Init(uintptr(unsafe.Pointer(&backing[0])), size)

	return r
}

func TestProducerCycleBitInvariant(t *testing.T) {
	mem := newTestMem(t, 1<<20)
	p, err := NewProducer(mem)
	if err != nil {
		t.Fatalf("NewProducer() error = %v", err)
	}

	if !p.CycleBit() {
		t.Fatal("initial PCS must be 1")
	}

	// enqueue TRBCount-2 TRBs, filling every usable slot but the last
	// (enqueue index 254); the ring must not wrap yet.
	for i := 0; i < TRBCount-2; i++ {
		p.Enqueue(NormalTRB(0x1000, 16, false, false))
	}

	if !p.CycleBit() {
		t.Fatal("PCS should not have flipped before the last usable slot is filled")
	}

	// filling the last usable slot moves the enqueue index onto the
	// Link-TRB slot, which wraps the ring and must flip PCS.
	p.Enqueue(NormalTRB(0x1000, 16, false, false))

	if p.CycleBit() {
		t.Fatal("PCS must flip after wrapping past the Link-TRB slot")
	}
}

func TestProducerLinkTRBCorrectness(t *testing.T) {
	mem := newTestMem(t, 1<<20)
	p, err := NewProducer(mem)
	if err != nil {
		t.Fatalf("NewProducer() error = %v", err)
	}
	base := p.PhysicalBase()

	for i := 0; i < TRBCount-1; i++ {
		p.Enqueue(NormalTRB(0x1000, 16, false, false))
	}

	buf := make([]byte, Size)
	if err := mem.Read(p.PhysicalBase(), linkSlot*Size, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	link := Unmarshal(buf)

	if link.Type() != TypeLink {
		t.Fatalf("slot 255 type = %v, want Link", link.Type())
	}

	if link.Parameter != uint64(base) {
		t.Fatalf("Link parameter = %#x, want ring base %#x", link.Parameter, base)
	}

	if !link.CycleBit() {
		t.Fatal("Link-TRB cycle bit must match the new PCS after the wrap that produced it")
	}
}

func TestEventRingDrainWrapsAndFlipsCCS(t *testing.T) {
	mem := newTestMem(t, 1<<20)
	ev, err := NewEvent(mem)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	// fabricate TRBCount controller-produced TRBs with cycle bit 1
	// directly into the segment, simulating what a real controller
	// would have written.
	for i := 0; i < TRBCount; i++ {
		trb := withCycle(NormalTRB(uint64(i), 0, false, false), true)
		if err := mem.Write(ev.RingBase(), i*Size, trb.Marshal()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	events, _ := ev.Drain()

	if len(events) != TRBCount {
		t.Fatalf("Drain() returned %d events, want %d", len(events), TRBCount)
	}

	if ev.HasPending() {
		t.Fatal("no events should remain pending after a full drain")
	}
}

