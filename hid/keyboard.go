// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "log"

// Keyboard is a boot-protocol keyboard class driver: it decodes interrupt-
// IN reports into key events and hands them to Handler.
type Keyboard struct {
	// DCI is the interrupt-IN endpoint's Device Context Index.
	DCI int
	// Handler receives each decoded key transition. May be nil.
	Handler func(KeyEvent)

	prev [6]uint8
}

// OnStartup rings the interrupt endpoint's doorbell once to prime the
// first report.
func (k *Keyboard) OnStartup(dev Device) {
	log.Printf("hid: boot keyboard attached")
	dev.RingDoorbell(k.DCI)
}

// OnEvent decodes the completed report and re-arms the endpoint.
func (k *Keyboard) OnEvent(dev Device, dci int, data []byte) {
	if dci != k.DCI {
		return
	}

	for _, ev := range DecodeBootKeyboardReport(data, &k.prev) {
		if k.Handler != nil {
			k.Handler(ev)
		}
	}

	dev.RingDoorbell(k.DCI)
}
