package ep0

import "fmt"

// MaxPacketSize0 is the largest EP0 packet size and the capacity of each of
// the two fixed control buffer slots.
const MaxPacketSize0 = 64

// Toggle is the DATA0/DATA1 synchronisation bit of one direction.
type Toggle uint8

const (
	Data0 Toggle = 0
	Data1 Toggle = 1
)

// Flip returns the other toggle value.
func (t Toggle) Flip() Toggle { return t ^ 1 }

func (t Toggle) String() string {
	if t == Data1 {
		return "DATA1"
	}
	return "DATA0"
}

// Slot indexes one of the two pingpong buffer slots.
type Slot uint8

const (
	SlotEven Slot = 0
	SlotOdd  Slot = 1
)

// Other returns the opposite slot.
func (s Slot) Other() Slot { return s ^ 1 }

// DeviceState is the chapter 9 device state as far as this stack tracks it.
type DeviceState uint8

const (
	StateDefault DeviceState = iota
	StateAddress
	StateSettingAddress // SET_ADDRESS accepted, waiting for its status stage
	StateConfigured
)

func (s DeviceState) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateAddress:
		return "address"
	case StateSettingAddress:
		return "setting-address"
	case StateConfigured:
		return "configured"
	default:
		return fmt.Sprintf("DeviceState(%d)", uint8(s))
	}
}

// Stage is the stage of the control transfer in progress.
type Stage uint8

const (
	StageIdle Stage = iota
	StageData
	StageStatus
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageData:
		return "data"
	case StageStatus:
		return "status"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Token classifies a completed hardware transaction.
type Token uint8

const (
	TokenUnknown Token = iota
	TokenSetup
	TokenIn
	TokenOut
)

func (t Token) String() string {
	switch t {
	case TokenSetup:
		return "SETUP"
	case TokenIn:
		return "IN"
	case TokenOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// pendingAddress is the deferred SET_ADDRESS side effect. It is applied only
// when the status stage of the SET_ADDRESS transfer completes.
type pendingAddress struct {
	set  bool
	addr uint8
}

// Snapshot is a copy of the device state for logging and inspection.
type Snapshot struct {
	Address        uint8
	PendingAddress uint8
	Config         uint8
	State          DeviceState
	Stage          Stage
	RxToggle       Toggle
	TxToggle       Toggle
	RxSlot         Slot
}
