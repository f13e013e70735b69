// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"testing"
	"time"

	"github.com/usbarmory/xhci/internal/reg"
)

func TestBiosHandoffClearsSMIEnable(t *testing.T) {
	addr := mockAlloc(8)

	reg.Set(addr, uslsBIOSOwned)
	reg.Set(addr+uslsCtlStsOffset, uslsSMIEnable)

	go func() {
		time.Sleep(1 * time.Millisecond)
		reg.Clear(addr, uslsBIOSOwned)
	}()

	if err := biosHandoff(addr); err != nil {
		t.Fatalf("biosHandoff() error = %v", err)
	}

	if reg.Get(addr, uslsOSOwned, 1) != 1 {
		t.Fatal("OS-owned semaphore was not set")
	}

	if reg.Get(addr+uslsCtlStsOffset, uslsSMIEnable, 1) != 0 {
		t.Fatal("SMI Enable bit was not cleared during handoff")
	}
}

func TestBiosHandoffTimeoutForcesOwnership(t *testing.T) {
	addr := mockAlloc(8)

	reg.Set(addr, uslsBIOSOwned)
	reg.Set(addr+uslsCtlStsOffset, uslsSMIEnable)

	err := biosHandoff(addr)
	if _, ok := err.(*BiosHandoffTimeout); !ok {
		t.Fatalf("err = %T(%v), want *BiosHandoffTimeout", err, err)
	}

	if reg.Get(addr, uslsBIOSOwned, 1) != 0 {
		t.Fatal("BIOS-owned semaphore was not force-cleared on timeout")
	}

	if reg.Get(addr+uslsCtlStsOffset, uslsSMIEnable, 1) != 0 {
		t.Fatal("SMI Enable bit was not cleared before the timed-out poll")
	}
}
