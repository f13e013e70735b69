// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hid implements the upward class-driver collaborator boundary
// spec.md §6 names ("a class driver exposes on_startup(hcd, device) and
// on_event(hcd, device)"), plus the boot-protocol report decoding
// recovered from original_source/.../xhci_usb_hid_kbd_driver.h and
// xhci_usb_hid_mouse_driver.h (SPEC_FULL.md §4): the fixed 8-byte boot
// keyboard report and 3/4-byte boot mouse report, decoded upstream of the
// class-driver boundary rather than left as a bare byte slice.
//
// This package only implements the boot-protocol layouts, not the general
// HID report-descriptor parser the original's input subsystem carries
// (hid_report_parser); spec.md's control-transfer engine already fetches
// the raw HID report descriptor (GET_DESCRIPTOR(HID_REPORT)) and hands it
// to the driver unparsed for drivers that want it, matching spec.md §4.6
// step 10's "store the blob" behavior.
package hid

// Device is the subset of a device record a class driver needs, kept
// deliberately small: drivers ring doorbells and read transfer buffers,
// they do not touch rings or contexts directly (spec.md §6: "Class
// drivers may call back into ring_doorbell(slot, ep_dci) and obtain
// endpoint data buffers").
type Device interface {
	// RingDoorbell rings the doorbell for the given endpoint DCI on
	// this device's slot.
	RingDoorbell(dci int)
	// EndpointBuffer returns the DMA data buffer for the endpoint at
	// the given DCI.
	EndpointBuffer(dci int) []byte
}

// Driver is the class-driver callback interface spec.md §6 names.
type Driver interface {
	// OnStartup is invoked once configuration completes, after the
	// driver has been attached to its owning interface.
	OnStartup(dev Device)
	// OnEvent is invoked on every transfer-completion event for any
	// endpoint belonging to the owning interface.
	OnEvent(dev Device, dci int, data []byte)
}

// KeyEventType distinguishes a key press from a release in a KeyEvent.
type KeyEventType int

const (
	KeyDown KeyEventType = iota
	KeyUp
)

// Modifier bits, per the USB HID Boot Interface keyboard report's
// modifier byte (byte 0).
const (
	ModLeftCtrl   = 1 << 0
	ModLeftShift  = 1 << 1
	ModLeftAlt    = 1 << 2
	ModLeftGUI    = 1 << 3
	ModRightCtrl  = 1 << 4
	ModRightShift = 1 << 5
	ModRightAlt   = 1 << 6
	ModRightGUI   = 1 << 7
)

// KeyEvent is a single decoded key transition.
type KeyEvent struct {
	Type      KeyEventType
	Keycode   uint8
	Modifiers uint8
}

// DecodeBootKeyboardReport decodes the fixed 8-byte boot-protocol
// keyboard report (modifier byte, reserved byte, 6 keycode bytes) and
// diffs it against prev to produce key-down/key-up events, mirroring the
// original driver's _process_input_report (original_source's
// xhci_usb_hid_kbd_driver.h, m_prev_keys[6]).
func DecodeBootKeyboardReport(report []byte, prev *[6]uint8) []KeyEvent {
	if len(report) < 8 {
		return nil
	}

	modifiers := report[0]
	var cur [6]uint8
	copy(cur[:], report[2:8])

	var events []KeyEvent

	for _, k := range prev {
		if k == 0 || contains(cur, k) {
			continue
		}
		events = append(events, KeyEvent{Type: KeyUp, Keycode: k, Modifiers: modifiers})
	}

	for _, k := range cur {
		if k == 0 || contains(*prev, k) {
			continue
		}
		events = append(events, KeyEvent{Type: KeyDown, Keycode: k, Modifiers: modifiers})
	}

	*prev = cur

	return events
}

func contains(set [6]uint8, k uint8) bool {
	for _, v := range set {
		if v == k {
			return true
		}
	}
	return false
}

// Mouse button bits, per the USB HID Boot Interface mouse report's button
// byte (byte 0).
const (
	ButtonLeft   = 1 << 0
	ButtonRight  = 1 << 1
	ButtonMiddle = 1 << 2
)

// MouseReport is a decoded boot-protocol mouse report: a 1-byte button
// mask followed by signed X/Y (and, in the 4-byte form, wheel) deltas.
type MouseReport struct {
	Buttons uint8
	DX      int8
	DY      int8
	Wheel   int8
}

// DecodeBootMouseReport decodes a 3- or 4-byte boot-protocol mouse
// report, mirroring original_source's xhci_usb_hid_mouse_driver.h report
// layout.
func DecodeBootMouseReport(report []byte) MouseReport {
	r := MouseReport{}

	if len(report) < 3 {
		return r
	}

	r.Buttons = report[0]
	r.DX = int8(report[1])
	r.DY = int8(report[2])

	if len(report) >= 4 {
		r.Wheel = int8(report[3])
	}

	return r
}
