// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "testing"

func TestDecodeBootKeyboardReportKeyDown(t *testing.T) {
	var prev [6]uint8

	report := []byte{ModLeftShift, 0, 0x04, 0, 0, 0, 0, 0} // shift + 'a'
	events := DecodeBootKeyboardReport(report, &prev)

	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	if events[0].Type != KeyDown || events[0].Keycode != 0x04 {
		t.Fatalf("events[0] = %+v, want KeyDown 0x04", events[0])
	}

	if prev[0] != 0x04 {
		t.Fatalf("prev not updated: %v", prev)
	}
}

func TestDecodeBootKeyboardReportKeyUp(t *testing.T) {
	prev := [6]uint8{0x04}

	report := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	events := DecodeBootKeyboardReport(report, &prev)

	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}

	if events[0].Type != KeyUp || events[0].Keycode != 0x04 {
		t.Fatalf("events[0] = %+v, want KeyUp 0x04", events[0])
	}

	if prev != ([6]uint8{}) {
		t.Fatalf("prev not cleared: %v", prev)
	}
}

func TestDecodeBootKeyboardReportNoChange(t *testing.T) {
	prev := [6]uint8{0x04}

	report := []byte{0, 0, 0x04, 0, 0, 0, 0, 0}
	events := DecodeBootKeyboardReport(report, &prev)

	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0 for an unchanged report", len(events))
	}
}

func TestDecodeBootKeyboardReportTooShort(t *testing.T) {
	var prev [6]uint8

	if events := DecodeBootKeyboardReport([]byte{0, 0}, &prev); events != nil {
		t.Fatalf("events = %v, want nil for a short report", events)
	}
}

func TestDecodeBootMouseReportThreeByte(t *testing.T) {
	r := DecodeBootMouseReport([]byte{ButtonLeft, 5, 0xfb}) // DY = -5

	if r.Buttons != ButtonLeft {
		t.Fatalf("Buttons = %#x, want %#x", r.Buttons, ButtonLeft)
	}
	if r.DX != 5 {
		t.Fatalf("DX = %d, want 5", r.DX)
	}
	if r.DY != -5 {
		t.Fatalf("DY = %d, want -5", r.DY)
	}
	if r.Wheel != 0 {
		t.Fatalf("Wheel = %d, want 0 for a 3-byte report", r.Wheel)
	}
}

func TestDecodeBootMouseReportFourByte(t *testing.T) {
	r := DecodeBootMouseReport([]byte{0, 0, 0, 1})

	if r.Wheel != 1 {
		t.Fatalf("Wheel = %d, want 1", r.Wheel)
	}
}

func TestDecodeBootMouseReportTooShort(t *testing.T) {
	r := DecodeBootMouseReport([]byte{0, 0})

	if r != (MouseReport{}) {
		t.Fatalf("r = %+v, want zero value for a too-short report", r)
	}
}
