// Package udc simulates a full-speed USB device controller with a pingpong
// buffered control endpoint. It implements the hardware side the ep0 engine
// drives and lets a host (a test, or the USB/IP server) step transactions
// against it.
package udc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/usbboot/usbboot/ep0"
	"github.com/usbboot/usbboot/internal/log"
	"github.com/usbboot/usbboot/usb"
)

var (
	// ErrStall is returned when the endpoint answered with a STALL handshake.
	ErrStall = errors.New("udc: endpoint stalled")
	// ErrNAK is returned when no buffer is armed for the transaction.
	ErrNAK = errors.New("udc: endpoint NAK")
	// ErrToggle is returned when device and host disagree on DATA0/DATA1.
	ErrToggle = errors.New("udc: data toggle mismatch")
	// ErrOverrun is returned when an OUT packet does not fit the armed buffer.
	ErrOverrun = errors.New("udc: packet exceeds armed buffer")
	// ErrProtocol is returned when the status stage carries data.
	ErrProtocol = errors.New("udc: control protocol violation")
)

// Stats counts transactions since the controller was created. Stalls and
// NAKs count handshakes returned to the host.
type Stats struct {
	Setups uint64
	Ins    uint64
	Outs   uint64
	Stalls uint64
	NAKs   uint64
}

// Controller is a simulated device controller with one control endpoint.
// All methods are safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	sie    sie
	engine *ep0.Engine
	logger *slog.Logger
	stats  Stats

	// host side expected toggles
	hostIn  ep0.Toggle
	hostOut ep0.Toggle
}

// New creates a controller running an ep0 engine with cfg, and powers it up
// with a bus reset.
func New(cfg ep0.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Controller{logger: logger}
	c.engine = ep0.New(&c.sie, cfg, logger)
	c.busReset()
	return c
}

// BusReset signals a USB bus reset: the address returns to 0 and EP0 is
// re-armed for a SETUP.
func (c *Controller) BusReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busReset()
}

func (c *Controller) busReset() {
	c.sie.reset()
	c.engine.Reset()
	c.logger.Debug("udc bus reset")
}

// Address returns the value of the device address register.
func (c *Controller) Address() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sie.address
}

// Snapshot returns the engine's device and stage state.
func (c *Controller) Snapshot() ep0.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Snapshot()
}

// Stats returns the transaction counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Setup delivers one SETUP transaction. SETUP is never NAKed and clears any
// STALL condition.
func (c *Controller) Setup(pkt [usb.SetupPacketLen]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup(pkt)
}

// In performs one IN transaction and returns the packet the device sent.
func (c *Controller) In() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in()
}

// Out performs one OUT transaction carrying data.
func (c *Controller) Out(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out(data)
}

// ControlTransfer runs a complete control transfer the way a host does:
// SETUP, an optional data stage of up to wLength bytes, then the status
// stage in the opposite direction. For OUT transfers at most wLength bytes
// of out are sent.
func (c *Controller) ControlTransfer(setup usb.SetupPacket, out []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setup(setup.Bytes())
	mps := c.engine.MaxPacket()
	want := int(setup.Length)

	if setup.IsIn() && want > 0 {
		var in []byte
		for len(in) < want {
			pkt, err := c.in()
			if err != nil {
				return in, fmt.Errorf("data stage: %w", err)
			}
			in = append(in, pkt...)
			if len(pkt) < mps {
				break
			}
		}
		c.hostOut = ep0.Data1
		if err := c.out(nil); err != nil {
			return in, fmt.Errorf("status stage: %w", err)
		}
		return in, nil
	}

	n := min(len(out), want)
	if setup.IsIn() {
		n = 0
	}
	for off := 0; off < n; {
		end := min(off+mps, n)
		if err := c.out(out[off:end]); err != nil {
			return nil, fmt.Errorf("data stage: %w", err)
		}
		off = end
	}
	c.hostIn = ep0.Data1
	pkt, err := c.in()
	if err != nil {
		return nil, fmt.Errorf("status stage: %w", err)
	}
	if len(pkt) != 0 {
		return nil, fmt.Errorf("%w: status stage carried %d bytes", ErrProtocol, len(pkt))
	}
	return nil, nil
}

func (c *Controller) setup(pkt [usb.SetupPacketLen]byte) {
	c.stats.Setups++
	c.sie.stalled = false
	// The SIE stops processing tokens after a SETUP until the firmware
	// re-enables it.
	c.sie.enabled = false
	c.sie.tx.armed = false
	c.sie.rx.armed = false
	c.hostIn = ep0.Data1
	c.hostOut = ep0.Data1
	c.trace("SETUP", slog.String("packet", fmt.Sprintf("% x", pkt[:])))
	c.engine.Handle(completion{tok: ep0.TokenSetup, setup: pkt[:]})
}

func (c *Controller) in() ([]byte, error) {
	bd := &c.sie.tx
	if err := c.ready(bd); err != nil {
		return nil, err
	}
	if bd.toggle != c.hostIn {
		return nil, fmt.Errorf("%w: IN sent %s, host expected %s", ErrToggle, bd.toggle, c.hostIn)
	}
	pkt := append([]byte{}, bd.data...)
	bd.armed = false
	c.hostIn = c.hostIn.Flip()
	c.stats.Ins++
	c.trace("IN", slog.Int("len", len(pkt)), slog.String("toggle", bd.toggle.String()))
	c.engine.Handle(completion{tok: ep0.TokenIn})
	return pkt, nil
}

func (c *Controller) out(data []byte) error {
	bd := &c.sie.rx
	if err := c.ready(bd); err != nil {
		return err
	}
	if bd.toggle != c.hostOut {
		return fmt.Errorf("%w: OUT sent %s, device expected %s", ErrToggle, c.hostOut, bd.toggle)
	}
	if len(data) > len(bd.dst) {
		return fmt.Errorf("%w: %d bytes into %d", ErrOverrun, len(data), len(bd.dst))
	}
	c.sie.rxLen[bd.slot] = copy(bd.dst, data)
	bd.armed = false
	c.hostOut = c.hostOut.Flip()
	c.stats.Outs++
	c.trace("OUT", slog.Int("len", len(data)), slog.String("toggle", bd.toggle.String()))
	c.engine.Handle(completion{tok: ep0.TokenOut})
	return nil
}

func (c *Controller) ready(bd *bufferDescriptor) error {
	if c.sie.stalled {
		c.stats.Stalls++
		return ErrStall
	}
	if !c.sie.enabled || !bd.armed {
		c.stats.NAKs++
		return ErrNAK
	}
	return nil
}

func (c *Controller) trace(token string, attrs ...slog.Attr) {
	c.logger.LogAttrs(context.Background(), log.LevelTrace, "udc "+token, attrs...)
}

type completion struct {
	tok   ep0.Token
	setup []byte
}

func (c completion) Token() ep0.Token  { return c.tok }
func (c completion) SetupData() []byte { return c.setup }
