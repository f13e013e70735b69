// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "log"

// Mouse is a boot-protocol mouse class driver: it decodes interrupt-IN
// reports into MouseReport values and hands them to Handler.
type Mouse struct {
	// DCI is the interrupt-IN endpoint's Device Context Index.
	DCI int
	// Handler receives each decoded report. May be nil.
	Handler func(MouseReport)
}

// OnStartup rings the interrupt endpoint's doorbell once to prime the
// first report.
func (m *Mouse) OnStartup(dev Device) {
	log.Printf("hid: boot mouse attached")
	dev.RingDoorbell(m.DCI)
}

// OnEvent decodes the completed report and re-arms the endpoint.
func (m *Mouse) OnEvent(dev Device, dci int, data []byte) {
	if dci != m.DCI {
		return
	}

	if m.Handler != nil {
		m.Handler(DecodeBootMouseReport(data))
	}

	dev.RingDoorbell(m.DCI)
}
