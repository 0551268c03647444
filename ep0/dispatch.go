package ep0

import (
	"github.com/usbboot/usbboot/usb"
)

// OutcomeKind tells the state machine which stage follows a SETUP.
type OutcomeKind uint8

const (
	// OutcomeStall rejects the request.
	OutcomeStall OutcomeKind = iota
	// OutcomeNoData accepts a request without a data stage; the engine arms
	// the zero-length IN status.
	OutcomeNoData
	// OutcomeReply means an IN reply of Len bytes is armed. It is a data
	// stage whenever the request has wLength > 0, even if Len is zero; only
	// with wLength == 0 does the zero-length reply serve as the status stage.
	OutcomeReply
	// OutcomeDataStage means a handler armed its own IN or OUT data stage.
	OutcomeDataStage
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStall:
		return "stall"
	case OutcomeNoData:
		return "no-data"
	case OutcomeReply:
		return "reply"
	case OutcomeDataStage:
		return "data-stage"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one SETUP packet.
type Outcome struct {
	Kind OutcomeKind
	Len  int
}

var (
	Stall     = Outcome{Kind: OutcomeStall}
	NoData    = Outcome{Kind: OutcomeNoData}
	DataStage = Outcome{Kind: OutcomeDataStage}
)

// Reply reports an armed IN reply of n bytes.
func Reply(n int) Outcome { return Outcome{Kind: OutcomeReply, Len: n} }

// replied converts a queuer result into an Outcome.
func replied(n int, err error) Outcome {
	if err != nil {
		return Stall
	}
	return Reply(n)
}

var zeroReply [2]byte

// Dispatch interprets one SETUP packet against the device state.
func (e *Engine) Dispatch(setup usb.SetupPacket) Outcome {
	if !setup.IsStandard() {
		if e.class == nil {
			return Stall
		}
		return e.class.HandleSetup(e, setup)
	}

	requested := int(setup.Length)

	switch setup.Request {
	case usb.ReqGetStatus:
		// No remote wakeup, no self power, no halted endpoints.
		return replied(e.ReplyScratch(zeroReply[:2], requested))

	case usb.ReqClearFeature, usb.ReqSetFeature:
		return NoData

	case usb.ReqSetAddress:
		// The old address stays in effect until the status stage completes.
		e.pending = pendingAddress{set: true, addr: uint8(setup.Value & 0x7F)}
		e.state = StateSettingAddress
		return NoData

	case usb.ReqGetDescriptor:
		return e.getDescriptor(setup)

	case usb.ReqGetConfiguration:
		cfg := [1]byte{e.config}
		return replied(e.ReplyScratch(cfg[:], requested))

	case usb.ReqSetConfiguration:
		v := uint8(setup.Value)
		if e.desc != nil && !e.desc.ValidConfiguration(v) {
			return Stall
		}
		e.config = v
		e.state = StateConfigured
		return NoData

	case usb.ReqGetInterface:
		// Only alternate setting 0 exists.
		return replied(e.ReplyScratch(zeroReply[:1], requested))

	case usb.ReqSetInterface:
		return Stall

	default:
		return Stall
	}
}

func (e *Engine) getDescriptor(setup usb.SetupPacket) Outcome {
	if e.desc == nil {
		return Stall
	}
	d, ok := e.desc.Descriptor(setup.DescriptorType(), setup.DescriptorIndex(), setup.Index)
	if !ok {
		return Stall
	}
	return replied(e.BeginTx(d, len(d), int(setup.Length), nil))
}
