// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbdesc

import "testing"

func TestParseDeviceEightByte(t *testing.T) {
	buf := []byte{8, TypeDevice, 0x00, 0x02, 0, 0, 0, 64}

	d := ParseDevice(buf)

	if d.MaxPacketSize0 != 64 {
		t.Fatalf("MaxPacketSize0 = %d, want 64", d.MaxPacketSize0)
	}
	if d.NumConfigurations != 0 {
		t.Fatalf("NumConfigurations = %d, want 0 (18-byte fields untouched)", d.NumConfigurations)
	}
}

func TestParseDeviceFull(t *testing.T) {
	buf := make([]byte, 18)
	buf[0] = 18
	buf[1] = TypeDevice
	buf[7] = 64
	buf[8] = 0x34
	buf[9] = 0x12
	buf[17] = 1

	d := ParseDevice(buf)

	if d.VendorID != 0x1234 {
		t.Fatalf("VendorID = %#x, want 0x1234", d.VendorID)
	}
	if d.NumConfigurations != 1 {
		t.Fatalf("NumConfigurations = %d, want 1", d.NumConfigurations)
	}
}

// buildKeyboardConfig constructs a one-interface, one-endpoint boot-
// keyboard configuration blob by hand, mirroring what a real device's
// GET_DESCRIPTOR(CONFIGURATION) response looks like on the wire.
func buildKeyboardConfig() []byte {
	buf := []byte{
		9, TypeConfiguration, 0, 0, 1, 1, 0, 0x80, 50,
		9, TypeInterface, 0, 0, 1, ClassHID, SubClassBoot, ProtocolKeyboard, 0,
		9, TypeHID, 0x11, 0x01, 0, 1, TypeHIDReport, 63, 0,
		7, TypeEndpoint, 0x81, 0x03, 8, 0, 10,
	}
	total := len(buf)
	buf[2] = byte(total)
	buf[3] = byte(total >> 8)
	return buf
}

func TestParseConfigurationGroupsEndpointsUnderInterface(t *testing.T) {
	buf := buildKeyboardConfig()

	cfg := ParseConfiguration(buf)

	if len(cfg.Interfaces) != 1 {
		t.Fatalf("len(Interfaces) = %d, want 1", len(cfg.Interfaces))
	}

	iface := cfg.Interfaces[0]

	if !iface.IsBootHID() {
		t.Fatal("expected IsBootHID() true for a boot keyboard interface")
	}

	if iface.HIDReportLength != 63 {
		t.Fatalf("HIDReportLength = %d, want 63", iface.HIDReportLength)
	}

	if len(iface.Endpoints) != 1 {
		t.Fatalf("len(Endpoints) = %d, want 1", len(iface.Endpoints))
	}

	if ep := iface.Endpoints[0]; ep.Address != 0x81 || ep.MaxPacketSize != 8 {
		t.Fatalf("Endpoint = %+v, unexpected", ep)
	}
}

func TestConfigurationMarshalRoundTrip(t *testing.T) {
	buf := buildKeyboardConfig()

	cfg := ParseConfiguration(buf)
	got := cfg.Marshal()

	if len(got) != len(buf) {
		t.Fatalf("Marshal() length = %d, want %d", len(got), len(buf))
	}

	reparsed := ParseConfiguration(got)

	if len(reparsed.Interfaces) != len(cfg.Interfaces) {
		t.Fatalf("re-parsed interface count = %d, want %d", len(reparsed.Interfaces), len(cfg.Interfaces))
	}

	if reparsed.Interfaces[0].HIDReportLength != cfg.Interfaces[0].HIDReportLength {
		t.Fatal("HID report length did not survive the round trip")
	}

	if reparsed.Interfaces[0].Endpoints[0] != cfg.Interfaces[0].Endpoints[0] {
		t.Fatal("endpoint descriptor did not survive the round trip")
	}
}

func TestIsBootHIDRejectsNonHID(t *testing.T) {
	iface := Interface{InterfaceClass: 0x08} // mass storage
	if iface.IsBootHID() {
		t.Fatal("expected IsBootHID() false for a non-HID interface")
	}
}
