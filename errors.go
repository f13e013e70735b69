// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"fmt"

	"github.com/usbarmory/xhci/ring"
)

// ControllerReset reports that a reset/halt/CNR poll exceeded its bound
// during the named lifecycle phase (spec.md §7).
type ControllerReset struct {
	Phase string
}

func (e *ControllerReset) Error() string {
	return fmt.Sprintf("xhci: controller reset failed at phase %q", e.Phase)
}

// BiosHandoffTimeout reports that the BIOS did not release ownership of
// the controller within the bounded poll; the caller forces takeover and
// continues (spec.md §4.4).
type BiosHandoffTimeout struct{}

func (e *BiosHandoffTimeout) Error() string {
	return "xhci: BIOS handoff timed out, forcing takeover"
}

// PortReset reports that a port did not report PED=1 after a reset
// sequence; non-fatal, the port is left as-is (spec.md §4.4).
type PortReset struct {
	Port int
}

func (e *PortReset) Error() string {
	return fmt.Sprintf("xhci: port %d did not enable after reset", e.Port)
}

// CommandTimeout reports that a Command-Completion-Event for the given TRB
// type did not arrive within send_command's bound (spec.md §4.6).
type CommandTimeout struct {
	TRBType ring.Type
}

func (e *CommandTimeout) Error() string {
	return fmt.Sprintf("xhci: command %s timed out", e.TRBType)
}

// TransferTimeout reports that a Transfer-Event did not arrive within a
// control-transfer's bound (spec.md §4.6).
type TransferTimeout struct{}

func (e *TransferTimeout) Error() string {
	return "xhci: transfer timed out"
}

// CommandFailed reports a non-SUCCESS completion code for a command
// (spec.md §7).
type CommandFailed struct {
	TRBType        ring.Type
	CompletionCode ring.CompletionCode
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("xhci: command %s failed: %s", e.TRBType, e.CompletionCode)
}

// TransferFailed reports a non-SUCCESS completion code for a transfer
// (spec.md §7).
type TransferFailed struct {
	CompletionCode ring.CompletionCode
}

func (e *TransferFailed) Error() string {
	return fmt.Sprintf("xhci: transfer failed: %s", e.CompletionCode)
}

// DescriptorTooLarge reports that a configuration descriptor's
// wTotalLength exceeded the statically provisioned buffer (spec.md §7).
type DescriptorTooLarge struct {
	WTotalLength int
	BufferSize   int
}

func (e *DescriptorTooLarge) Error() string {
	return fmt.Sprintf("xhci: configuration descriptor of %d bytes exceeds %d byte buffer", e.WTotalLength, e.BufferSize)
}

// OutOfResources reports that the DMA allocator failed to satisfy an
// allocation request (spec.md §7).
type OutOfResources struct {
	Reason string
}

func (e *OutOfResources) Error() string {
	return fmt.Sprintf("xhci: out of resources: %s", e.Reason)
}
