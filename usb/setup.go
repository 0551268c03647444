package usb

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Standard request codes (bRequest).
const (
	ReqGetStatus        = 0x00
	ReqClearFeature     = 0x01
	ReqSetFeature       = 0x03
	ReqSetAddress       = 0x05
	ReqGetDescriptor    = 0x06
	ReqSetDescriptor    = 0x07
	ReqGetConfiguration = 0x08
	ReqSetConfiguration = 0x09
	ReqGetInterface     = 0x0A
	ReqSetInterface     = 0x0B
)

// bmRequestType fields
const (
	ReqDirMask       = 0x80
	ReqDirOut        = 0x00
	ReqDirIn         = 0x80
	ReqTypeMask      = 0x60
	ReqTypeStandard  = 0x00
	ReqTypeClass     = 0x20
	ReqTypeVendor    = 0x40
	ReqRecipientMask = 0x1F
	ReqRecipientDev  = 0x00
	ReqRecipientIntf = 0x01
	ReqRecipientEp   = 0x02
)

// SetupPacketLen is the size of a SETUP packet on the wire.
const SetupPacketLen = 8

// ErrShortSetup is returned when fewer than 8 bytes are available to decode.
var ErrShortSetup = errors.New("setup packet too short")

// SetupPacket is the decoded 8-byte SETUP stage payload.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16 // LE
	Index       uint16 // LE
	Length      uint16 // LE
}

// ParseSetup decodes a SETUP packet from b into out.
func ParseSetup(b []byte, out *SetupPacket) error {
	if len(b) < SetupPacketLen {
		return ErrShortSetup
	}
	out.RequestType = b[0]
	out.Request = b[1]
	out.Value = binary.LittleEndian.Uint16(b[2:4])
	out.Index = binary.LittleEndian.Uint16(b[4:6])
	out.Length = binary.LittleEndian.Uint16(b[6:8])
	return nil
}

// Bytes returns the wire representation of the packet.
func (s SetupPacket) Bytes() [SetupPacketLen]byte {
	var b [SetupPacketLen]byte
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:4], s.Value)
	binary.LittleEndian.PutUint16(b[4:6], s.Index)
	binary.LittleEndian.PutUint16(b[6:8], s.Length)
	return b
}

// Type returns the request type bits (standard, class or vendor).
func (s SetupPacket) Type() uint8 { return s.RequestType & ReqTypeMask }

// IsStandard reports whether the request is a standard (chapter 9) request.
func (s SetupPacket) IsStandard() bool { return s.Type() == ReqTypeStandard }

// IsIn reports whether the data stage, if any, is device-to-host.
func (s SetupPacket) IsIn() bool { return s.RequestType&ReqDirMask == ReqDirIn }

// Recipient returns the recipient bits.
func (s SetupPacket) Recipient() uint8 { return s.RequestType & ReqRecipientMask }

// DescriptorType returns the descriptor type of a GET_DESCRIPTOR request.
func (s SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the descriptor index of a GET_DESCRIPTOR request.
func (s SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

func (s SetupPacket) String() string {
	dir := "OUT"
	if s.IsIn() {
		dir = "IN"
	}
	return fmt.Sprintf("%s type=0x%02x req=0x%02x value=0x%04x index=0x%04x length=%d",
		dir, s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// RequestName returns the symbolic name of a standard request code.
func RequestName(req uint8) string {
	switch req {
	case ReqGetStatus:
		return "GET_STATUS"
	case ReqClearFeature:
		return "CLEAR_FEATURE"
	case ReqSetFeature:
		return "SET_FEATURE"
	case ReqSetAddress:
		return "SET_ADDRESS"
	case ReqGetDescriptor:
		return "GET_DESCRIPTOR"
	case ReqSetDescriptor:
		return "SET_DESCRIPTOR"
	case ReqGetConfiguration:
		return "GET_CONFIGURATION"
	case ReqSetConfiguration:
		return "SET_CONFIGURATION"
	case ReqGetInterface:
		return "GET_INTERFACE"
	case ReqSetInterface:
		return "SET_INTERFACE"
	default:
		return fmt.Sprintf("REQ_0x%02x", req)
	}
}
