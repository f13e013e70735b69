// https://github.com/usbarmory/xhci
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ring implements the xHCI producer/consumer ring protocol
// (spec.md §3, §4.3): the Transfer Request Block wire shape, the Command
// and Transfer rings (host-producer), and the Event Ring (controller-
// producer), all sharing the same cycle-bit handshake.
//
// TRB variants are a closed tagged union over a 16-byte shape (spec.md §9
// design note): a single TRB type carries every field as typed accessors,
// and construction goes through typed builder functions that set trb_type
// and the cycle-bit policy, following the teacher's own builder-function
// style for wire structures (soc/nxp/usb/setup.go).
package ring

import "encoding/binary"

// Size is the on-the-wire byte size of a single TRB.
const Size = 16

// Type identifies a TRB variant, carried in bits 15:10 of the control
// dword (spec.md §3, §6 "wire-level bit-exact with the xHCI 1.2
// specification").
type Type uint8

// TRB types, per the xHCI 1.2 specification table 6-86.
const (
	TypeReserved Type = 0

	TypeNormal       Type = 1
	TypeSetupStage   Type = 2
	TypeDataStage    Type = 3
	TypeStatusStage  Type = 4
	TypeIsoch        Type = 5
	TypeLink         Type = 6
	TypeEventData    Type = 7
	TypeNoop         Type = 8

	TypeEnableSlotCmd       Type = 9
	TypeDisableSlotCmd      Type = 10
	TypeAddressDeviceCmd    Type = 11
	TypeConfigureEndpointCmd Type = 12
	TypeEvaluateContextCmd  Type = 13
	TypeResetEndpointCmd    Type = 14
	TypeStopEndpointCmd     Type = 15
	TypeSetTRDequeuePtrCmd  Type = 16
	TypeResetDeviceCmd      Type = 17
	TypeNoopCmd             Type = 23

	TypeTransferEvent           Type = 32
	TypeCommandCompletionEvent  Type = 33
	TypePortStatusChangeEvent   Type = 34
	TypeBandwidthRequestEvent   Type = 35
	TypeDoorbellEvent           Type = 36
	TypeHostControllerEvent     Type = 37
	TypeDeviceNotificationEvent Type = 38
	TypeMfindexWrapEvent        Type = 39
)

func (t Type) String() string {
	switch t {
	case TypeNormal:
		return "Normal"
	case TypeSetupStage:
		return "Setup Stage"
	case TypeDataStage:
		return "Data Stage"
	case TypeStatusStage:
		return "Status Stage"
	case TypeIsoch:
		return "Isoch"
	case TypeLink:
		return "Link"
	case TypeEventData:
		return "Event Data"
	case TypeNoop:
		return "No-Op"
	case TypeEnableSlotCmd:
		return "Enable Slot Command"
	case TypeDisableSlotCmd:
		return "Disable Slot Command"
	case TypeAddressDeviceCmd:
		return "Address Device Command"
	case TypeConfigureEndpointCmd:
		return "Configure Endpoint Command"
	case TypeEvaluateContextCmd:
		return "Evaluate Context Command"
	case TypeResetEndpointCmd:
		return "Reset Endpoint Command"
	case TypeStopEndpointCmd:
		return "Stop Endpoint Command"
	case TypeSetTRDequeuePtrCmd:
		return "Set TR Dequeue Pointer Command"
	case TypeResetDeviceCmd:
		return "Reset Device Command"
	case TypeNoopCmd:
		return "No-Op Command"
	case TypeTransferEvent:
		return "Transfer Event"
	case TypeCommandCompletionEvent:
		return "Command Completion Event"
	case TypePortStatusChangeEvent:
		return "Port Status Change Event"
	case TypeBandwidthRequestEvent:
		return "Bandwidth Request Event"
	case TypeDoorbellEvent:
		return "Doorbell Event"
	case TypeHostControllerEvent:
		return "Host Controller Event"
	case TypeDeviceNotificationEvent:
		return "Device Notification Event"
	case TypeMfindexWrapEvent:
		return "MFINDEX Wrap Event"
	default:
		return "Reserved"
	}
}

// CompletionCode is the xHCI completion code carried in a Command
// Completion or Transfer Event TRB's status dword (spec.md §6, "TRB
// completion codes 0-29"). Grounded in the original driver's
// xhci_trb_completion_code_to_string catalog, since no pack repo ships an
// xHCI/TRB stack to import a completion-code table from.
type CompletionCode uint8

const (
	CompletionInvalid             CompletionCode = 0
	CompletionSuccess             CompletionCode = 1
	CompletionDataBufferError     CompletionCode = 2
	CompletionBabbleDetectedError CompletionCode = 3
	CompletionUSBTransactionError CompletionCode = 4
	CompletionTRBError            CompletionCode = 5
	CompletionStallError          CompletionCode = 6
	CompletionResourceError       CompletionCode = 7
	CompletionBandwidthError      CompletionCode = 8
	CompletionNoSlotsError        CompletionCode = 9
	CompletionInvalidStreamType   CompletionCode = 10
	CompletionSlotNotEnabled      CompletionCode = 11
	CompletionEndpointNotEnabled  CompletionCode = 12
	CompletionShortPacket         CompletionCode = 13
	CompletionRingUnderrun        CompletionCode = 14
	CompletionRingOverrun         CompletionCode = 15
	CompletionVFEventRingFull     CompletionCode = 16
	CompletionParameterError      CompletionCode = 17
	CompletionBandwidthOverrun    CompletionCode = 18
	CompletionContextStateError   CompletionCode = 19
	CompletionNoPingResponse      CompletionCode = 20
	CompletionEventRingFull       CompletionCode = 21
	CompletionIncompatibleDevice  CompletionCode = 22
	CompletionMissedService       CompletionCode = 23
	CompletionCommandRingStopped  CompletionCode = 24
	CompletionCommandAborted      CompletionCode = 25
	CompletionStopped             CompletionCode = 26
	CompletionStoppedLengthInval  CompletionCode = 27
	CompletionStoppedShortPacket  CompletionCode = 28
	CompletionMaxExitLatencyTooLarge CompletionCode = 29
)

func (c CompletionCode) String() string {
	switch c {
	case CompletionInvalid:
		return "Invalid"
	case CompletionSuccess:
		return "Success"
	case CompletionDataBufferError:
		return "Data Buffer Error"
	case CompletionBabbleDetectedError:
		return "Babble Detected Error"
	case CompletionUSBTransactionError:
		return "USB Transaction Error"
	case CompletionTRBError:
		return "TRB Error"
	case CompletionStallError:
		return "Stall Error"
	case CompletionResourceError:
		return "Resource Error"
	case CompletionBandwidthError:
		return "Bandwidth Error"
	case CompletionNoSlotsError:
		return "No Slots Available Error"
	case CompletionInvalidStreamType:
		return "Invalid Stream Type Error"
	case CompletionSlotNotEnabled:
		return "Slot Not Enabled Error"
	case CompletionEndpointNotEnabled:
		return "Endpoint Not Enabled Error"
	case CompletionShortPacket:
		return "Short Packet"
	case CompletionRingUnderrun:
		return "Ring Underrun"
	case CompletionRingOverrun:
		return "Ring Overrun"
	case CompletionVFEventRingFull:
		return "VF Event Ring Full Error"
	case CompletionParameterError:
		return "Parameter Error"
	case CompletionBandwidthOverrun:
		return "Bandwidth Overrun Error"
	case CompletionContextStateError:
		return "Context State Error"
	case CompletionNoPingResponse:
		return "No Ping Response Error"
	case CompletionEventRingFull:
		return "Event Ring Full Error"
	case CompletionIncompatibleDevice:
		return "Incompatible Device Error"
	case CompletionMissedService:
		return "Missed Service Error"
	case CompletionCommandRingStopped:
		return "Command Ring Stopped"
	case CompletionCommandAborted:
		return "Command Aborted"
	case CompletionStopped:
		return "Stopped"
	case CompletionStoppedLengthInval:
		return "Stopped - Length Invalid"
	case CompletionStoppedShortPacket:
		return "Stopped - Short Packet"
	case CompletionMaxExitLatencyTooLarge:
		return "Max Exit Latency Too Large Error"
	default:
		return "Reserved"
	}
}

// Control dword bit positions shared across most TRB variants.
const (
	ctrlCycle  = 0
	ctrlENT    = 1  // Evaluate Next TRB
	ctrlISP    = 2  // Interrupt-on Short Packet
	ctrlNoSnoop = 3
	ctrlChain  = 4
	ctrlIOC    = 5  // Interrupt On Completion
	ctrlIDT    = 6  // Immediate Data
	ctrlBSR    = 9  // Block Set Address Request (Address Device Command only)
	ctrlTRT    = 16 // Transfer Type (Data/Status Stage)
	ctrlDIR    = 16 // Direction (Setup Stage TRT field reused)
	ctrlTypeShift = 10
	ctrlTypeMask  = 0x3f
	ctrlTargetShift = 16
	ctrlTargetMask  = 0x3ff
)

// TRB is the 16-byte Transfer Request Block: a 64-bit parameter, a 32-bit
// status, and a 32-bit control word (spec.md §3).
type TRB struct {
	Parameter uint64
	Status    uint32
	Control   uint32
}

// Type returns the TRB's type field (control bits 15:10).
func (t TRB) Type() Type {
	return Type((t.Control >> ctrlTypeShift) & ctrlTypeMask)
}

// CycleBit returns the TRB's cycle bit.
func (t TRB) CycleBit() bool {
	return t.Control&(1<<ctrlCycle) != 0
}

// withType returns a copy of t with its type field set.
func withType(t TRB, typ Type) TRB {
	t.Control = (t.Control &^ (ctrlTypeMask << ctrlTypeShift)) | (uint32(typ) << ctrlTypeShift)
	return t
}

// withCycle returns a copy of t with its cycle bit set to cycle.
func withCycle(t TRB, cycle bool) TRB {
	if cycle {
		t.Control |= 1 << ctrlCycle
	} else {
		t.Control &^= 1 << ctrlCycle
	}
	return t
}

// Marshal encodes t into its 16-byte wire form, little-endian per the xHCI
// specification.
func (t TRB) Marshal() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint64(buf[0:8], t.Parameter)
	binary.LittleEndian.PutUint32(buf[8:12], t.Status)
	binary.LittleEndian.PutUint32(buf[12:16], t.Control)
	return buf
}

// Unmarshal decodes a 16-byte wire TRB.
func Unmarshal(buf []byte) TRB {
	return TRB{
		Parameter: binary.LittleEndian.Uint64(buf[0:8]),
		Status:    binary.LittleEndian.Uint32(buf[8:12]),
		Control:   binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// Link builds a Link TRB pointing at physical address next, with
// toggleCycle set for the Link TRB that closes a producer ring (spec.md
// §3: "the last slot of Command/Transfer rings is a Link-TRB pointing
// back to slot 0 and toggling the producer cycle bit").
func Link(next uint64, toggleCycle bool) TRB {
	t := TRB{Parameter: next}
	if toggleCycle {
		t.Control |= 1 << 1 // Toggle Cycle bit, control bit 1 on a Link TRB
	}
	return withType(t, TypeLink)
}

// EnableSlotCommand builds an ENABLE_SLOT command TRB.
func EnableSlotCommand() TRB {
	return withType(TRB{}, TypeEnableSlotCmd)
}

// DisableSlotCommand builds a DISABLE_SLOT command TRB for the given slot.
func DisableSlotCommand(slotID uint8) TRB {
	t := withType(TRB{}, TypeDisableSlotCmd)
	t.Control |= uint32(slotID) << 24
	return t
}

// AddressDeviceCommand builds an ADDRESS_DEVICE command TRB. bsr is the
// Block Set Address Request bit (spec.md §4.6 step 3/6).
func AddressDeviceCommand(inputCtxPA uint64, slotID uint8, bsr bool) TRB {
	t := TRB{Parameter: inputCtxPA}
	if bsr {
		t.Control |= 1 << ctrlBSR
	}
	t = withType(t, TypeAddressDeviceCmd)
	t.Control |= uint32(slotID) << 24
	return t
}

// ConfigureEndpointCommand builds a CONFIGURE_ENDPOINT command TRB.
func ConfigureEndpointCommand(inputCtxPA uint64, slotID uint8) TRB {
	t := withType(TRB{Parameter: inputCtxPA}, TypeConfigureEndpointCmd)
	t.Control |= uint32(slotID) << 24
	return t
}

// EvaluateContextCommand builds an EVALUATE_CONTEXT command TRB.
func EvaluateContextCommand(inputCtxPA uint64, slotID uint8) TRB {
	t := withType(TRB{Parameter: inputCtxPA}, TypeEvaluateContextCmd)
	t.Control |= uint32(slotID) << 24
	return t
}

// ResetEndpointCommand builds a RESET_ENDPOINT command TRB.
func ResetEndpointCommand(slotID uint8, dci uint8) TRB {
	t := withType(TRB{}, TypeResetEndpointCmd)
	t.Control |= uint32(dci) << ctrlTargetShift
	t.Control |= uint32(slotID) << 24
	return t
}

// NormalTRB builds a Normal transfer TRB for bulk/interrupt data.
func NormalTRB(bufferPA uint64, length uint32, ioc bool, chain bool) TRB {
	t := TRB{Parameter: bufferPA}
	t.Status = length & 0x1ffff
	if ioc {
		t.Control |= 1 << ctrlIOC
	}
	if chain {
		t.Control |= 1 << ctrlChain
	}
	return withType(t, TypeNormal)
}

// SetupStageTRB builds a Setup-Stage TRB carrying the 8-byte USB device
// request, per spec.md §4.6's standard control requests.
func SetupStageTRB(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, trt uint8) TRB {
	param := uint64(bmRequestType) | uint64(bRequest)<<8 | uint64(wValue)<<16 | uint64(wIndex)<<32 | uint64(wLength)<<48
	t := TRB{Parameter: param}
	t.Status = 8
	t.Control |= 1 << ctrlIDT
	t.Control |= uint32(trt) << ctrlTRT
	return withType(t, TypeSetupStage)
}

// Control-transfer direction/type values for the Setup-Stage TRT field and
// the Data-Stage DIR field.
const (
	TRTNoData   = 0
	TRTOutData  = 2
	TRTInData   = 3
	DirOut      = 0
	DirIn       = 1
)

// DataStageTRB builds a Data-Stage TRB.
func DataStageTRB(bufferPA uint64, length uint32, dir uint8, ioc bool) TRB {
	t := TRB{Parameter: bufferPA}
	t.Status = length & 0x1ffff
	t.Control |= uint32(dir) << ctrlDIR
	if ioc {
		t.Control |= 1 << ctrlIOC
	}
	return withType(t, TypeDataStage)
}

// StatusStageTRB builds a Status-Stage TRB. dir is DirIn for an OUT data
// stage (or no-data request) and DirOut for an IN data stage, per the USB
// control-transfer status-stage direction-reversal rule.
func StatusStageTRB(dir uint8, ioc bool) TRB {
	t := TRB{}
	t.Control |= uint32(dir) << ctrlDIR
	if ioc {
		t.Control |= 1 << ctrlIOC
	}
	return withType(t, TypeStatusStage)
}

// EventDataTRB builds an Event-Data TRB, used to tag a transfer chain so
// its completion event carries caller-chosen data in its Parameter field.
func EventDataTRB(data uint64, ioc bool) TRB {
	t := TRB{Parameter: data}
	t.Control |= 1 << ctrlISP // Event Data (ED) flag, control bit 2
	if ioc {
		t.Control |= 1 << ctrlIOC
	}
	return withType(t, TypeEventData)
}

// SlotID returns the Slot ID field carried in a Command Completion or
// Transfer Event TRB's control word (bits 31:24).
func (t TRB) SlotID() uint8 {
	return uint8(t.Control >> 24)
}

// CompletionCode returns the completion code field of an Event TRB
// (status bits 31:24).
func (t TRB) CompletionCode() CompletionCode {
	return CompletionCode(t.Status >> 24)
}

// CommandTRBPointer returns a Command Completion Event TRB's pointer to
// the completed command.
func (t TRB) CommandTRBPointer() uint64 {
	return t.Parameter
}

// PortID returns a Port Status Change Event TRB's port ID field (1-based,
// parameter bits 31:24).
func (t TRB) PortID() uint8 {
	return uint8(t.Parameter >> 24)
}

// EndpointID returns a Transfer Event TRB's Endpoint ID (DCI) field
// (control bits 20:16).
func (t TRB) EndpointID() uint8 {
	return uint8((t.Control >> ctrlTargetShift) & ctrlTargetMask)
}

// TransferLength returns a Transfer Event TRB's residual transfer length
// (status bits 23:0).
func (t TRB) TransferLength() uint32 {
	return t.Status & 0xffffff
}
