// Package ep0 implements the device side of USB control endpoint zero: the
// SETUP/DATA/STATUS stage machine, the standard request dispatcher and the
// per-direction transfer queuer that feeds the hardware driver one packet at
// a time.
//
// An Engine is driven by calling Handle once per completed hardware
// transaction. It never blocks and does not allocate on the transfer path.
// It is not safe for concurrent use: the caller must not re-enter it while a
// completion is being handled.
package ep0

import (
	"context"
	"log/slog"

	"github.com/usbboot/usbboot/usb"
)

// Config configures an Engine.
type Config struct {
	// MaxPacketSize is the EP0 max packet size (8, 16, 32 or 64). Zero means 64.
	MaxPacketSize int
	// Descriptors answers GET_DESCRIPTOR. Without it those requests STALL.
	Descriptors Descriptors
	// Class receives class and vendor requests. Without it they STALL.
	Class ClassHandler
}

// Engine is the control endpoint context: both pipes, the device state and
// the two fixed buffer slots.
type Engine struct {
	drv    Driver
	desc   Descriptors
	class  ClassHandler
	logger *slog.Logger

	maxPacket int
	buf       [2][MaxPacketSize0]byte

	tx Pipe
	rx Pipe

	address uint8
	config  uint8
	state   DeviceState
	stage   Stage
	pending pendingAddress
	// state to return to when a SET_ADDRESS is abandoned by a new SETUP
	prevState DeviceState
}

// New returns an engine bound to drv. Call Reset before the first
// transaction to arm EP0 for a SETUP.
func New(drv Driver, cfg Config, logger *slog.Logger) *Engine {
	mps := cfg.MaxPacketSize
	if mps <= 0 || mps > MaxPacketSize0 {
		mps = MaxPacketSize0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		drv:       drv,
		desc:      cfg.Descriptors,
		class:     cfg.Class,
		logger:    logger,
		maxPacket: mps,
	}
	e.tx.maxPacket = mps
	e.rx.maxPacket = mps
	return e
}

// Handle processes one completed EP0 transaction.
func (e *Engine) Handle(c Completion) {
	switch tok := c.Token(); tok {
	case TokenSetup:
		e.handleSetup(c.SetupData())
	case TokenIn:
		if e.AdvanceTx() {
			return
		}
		e.resolve(tok)
	case TokenOut:
		if e.AdvanceRx() {
			return
		}
		e.resolve(tok)
	case TokenUnknown:
		// Control endpoints only see SETUP, IN and OUT.
	}
}

// Reset returns the device to the default state after a USB bus reset and
// arms EP0 for the first SETUP.
func (e *Engine) Reset() {
	e.drv.AbortTransfers()
	e.tx.discard()
	e.rx.discard()
	e.tx.pingpong = SlotEven
	e.rx.pingpong = SlotEven

	e.address = 0
	e.config = 0
	e.state = StateDefault
	e.prevState = StateDefault
	e.pending = pendingAddress{}
	e.stage = StageIdle

	e.logger.LogAttrs(context.Background(), slog.LevelDebug, "ep0 bus reset")
	e.setupControl()
}

// Snapshot returns a copy of the device and stage state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Address:        e.address,
		PendingAddress: e.pending.addr,
		Config:         e.config,
		State:          e.state,
		Stage:          e.stage,
		RxToggle:       e.rx.toggle,
		TxToggle:       e.tx.toggle,
		RxSlot:         e.rx.pingpong,
	}
}

// MaxPacket returns the configured EP0 max packet size.
func (e *Engine) MaxPacket() int { return e.maxPacket }

// TxPipe exposes the IN pipe to drivers and tests.
func (e *Engine) TxPipe() *Pipe { return &e.tx }

// RxPipe exposes the OUT pipe to drivers and tests.
func (e *Engine) RxPipe() *Pipe { return &e.rx }

func (e *Engine) handleSetup(data []byte) {
	e.drv.AbortTransfers()
	e.tx.discard()
	e.rx.discard()

	// The SETUP used the receive slot armed for it and was sent as DATA0,
	// so both data stage directions continue with DATA1.
	e.rx.pingpong = e.rx.pingpong.Other()
	e.rx.toggle = Data1
	e.tx.toggle = Data1

	if e.pending.set {
		// The previous SET_ADDRESS never finished its status stage.
		e.pending = pendingAddress{}
		e.state = e.prevState
	}
	if e.state != StateSettingAddress {
		e.prevState = e.state
	}

	var setup usb.SetupPacket
	out := Stall
	if err := usb.ParseSetup(data, &setup); err == nil {
		out = e.Dispatch(setup)
	}

	switch out.Kind {
	case OutcomeReply:
		// An IN request with wLength > 0 has a data stage even when the reply
		// is empty: the host reads a zero-length packet, then sends status.
		if setup.IsIn() && setup.Length > 0 {
			e.stage = StageData
		} else {
			e.stage = StageStatus
		}
	case OutcomeDataStage:
		e.stage = StageData
	case OutcomeNoData:
		e.stage = StageStatus
		_, _ = e.BeginTx(nil, 0, 0, nil)
	case OutcomeStall:
		e.logger.LogAttrs(context.Background(), slog.LevelDebug, "ep0 stall",
			slog.String("request", usb.RequestName(setup.Request)),
			slog.Int("type", int(setup.RequestType)))
		e.drv.Stall(0)
		e.stage = StageIdle
		e.setupControl()
	}
	e.drv.EnableTransfers()
}

// resolve runs when the queuer reports a finished transfer.
func (e *Engine) resolve(tok Token) {
	switch e.stage {
	case StageData:
		// Status goes the opposite way of the data stage and is always DATA1.
		e.stage = StageStatus
		if tok == TokenIn {
			e.rx.toggle = Data1
			_, _ = e.BeginRx(nil, 0, nil)
		} else {
			e.tx.toggle = Data1
			_, _ = e.BeginTx(nil, 0, 0, nil)
		}
	case StageStatus, StageIdle:
		e.stage = StageIdle
		if e.state == StateSettingAddress && e.pending.set {
			e.address = e.pending.addr
			e.pending = pendingAddress{}
			e.state = StateAddress
			e.logger.LogAttrs(context.Background(), slog.LevelDebug, "ep0 address committed",
				slog.Int("address", int(e.address)))
			e.drv.CommitAddress(e.address)
		}
		e.setupControl()
	}
}

// setupControl arms EP0 for the next SETUP with the initial toggles of a
// control transfer.
func (e *Engine) setupControl() {
	e.rx.toggle = Data0
	e.tx.toggle = Data1
	_, _ = e.BeginRx(e.buf[e.rx.pingpong][:e.maxPacket], e.maxPacket, nil)
}
