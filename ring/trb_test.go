// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ring

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	trb := EnableSlotCommand()
	trb = withCycle(trb, true)

	got := Unmarshal(trb.Marshal())

	if got != trb {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, trb)
	}
}

func TestTypeField(t *testing.T) {
	trb := AddressDeviceCommand(0x1000, 3, true)

	if trb.Type() != TypeAddressDeviceCmd {
		t.Fatalf("Type() = %v, want %v", trb.Type(), TypeAddressDeviceCmd)
	}

	if trb.Control&(1<<ctrlBSR) == 0 {
		t.Fatal("BSR bit not set")
	}
}

func TestLinkTRBCycle(t *testing.T) {
	l := Link(0x2000, true)
	l = withCycle(l, true)

	if l.Type() != TypeLink {
		t.Fatalf("Type() = %v, want Link", l.Type())
	}

	if !l.CycleBit() {
		t.Fatal("expected cycle bit set")
	}

	if l.Parameter != 0x2000 {
		t.Fatalf("Parameter = %#x, want 0x2000", l.Parameter)
	}
}

func TestCompletionCodeString(t *testing.T) {
	if CompletionSuccess.String() != "Success" {
		t.Fatalf("String() = %q", CompletionSuccess.String())
	}

	if CompletionStallError.String() == "" {
		t.Fatal("expected non-empty string for StallError")
	}
}

func TestSetupStageTRBEncodesRequest(t *testing.T) {
	trb := SetupStageTRB(0x80, 0x06, 0x0100, 0, 8, TRTInData)

	if trb.Type() != TypeSetupStage {
		t.Fatalf("Type() = %v, want SetupStage", trb.Type())
	}

	if bmRequestType := uint8(trb.Parameter); bmRequestType != 0x80 {
		t.Fatalf("bmRequestType = %#x, want 0x80", bmRequestType)
	}

	if bRequest := uint8(trb.Parameter >> 8); bRequest != 0x06 {
		t.Fatalf("bRequest = %#x, want 0x06", bRequest)
	}

	if wValue := uint16(trb.Parameter >> 16); wValue != 0x0100 {
		t.Fatalf("wValue = %#x, want 0x0100", wValue)
	}

	if trb.Status != 8 {
		t.Fatalf("Status (TRB transfer length) = %d, want 8", trb.Status)
	}
}
