package udc

import "github.com/usbboot/usbboot/ep0"

// bufferDescriptor is one direction's armed transaction as the serial
// interface engine sees it.
type bufferDescriptor struct {
	armed  bool
	slot   ep0.Slot
	toggle ep0.Toggle
	data   []byte // IN payload, aliases the slot buffer
	dst    []byte // OUT destination, owned by the engine
}

// sie is the register file of the simulated controller. It is only touched
// with the Controller mutex held.
type sie struct {
	tx, rx  bufferDescriptor
	txBuf   [2][ep0.MaxPacketSize0]byte
	rxLen   [2]int
	address uint8
	stalled bool
	enabled bool
}

var _ ep0.Driver = (*sie)(nil)

func (s *sie) reset() {
	s.tx = bufferDescriptor{}
	s.rx = bufferDescriptor{}
	s.rxLen = [2]int{}
	s.address = 0
	s.stalled = false
	s.enabled = true
}

func (s *sie) ArmTx(p *ep0.Pipe, chunk []byte) {
	slot := p.Slot()
	n := copy(s.txBuf[slot][:], chunk)
	s.tx = bufferDescriptor{
		armed:  true,
		slot:   slot,
		toggle: p.Toggle(),
		data:   s.txBuf[slot][:n],
	}
	// The TX slot rotates in hardware on every arm.
	p.FlipSlot()
}

func (s *sie) ArmRx(p *ep0.Pipe, dst []byte) {
	s.rx = bufferDescriptor{
		armed:  true,
		slot:   p.Slot(),
		toggle: p.Toggle(),
		dst:    dst,
	}
}

func (s *sie) RxLength(ep uint8, slot ep0.Slot) int {
	if ep != 0 {
		return 0
	}
	return s.rxLen[slot]
}

func (s *sie) Stall(ep uint8) {
	if ep == 0 {
		s.stalled = true
	}
}

func (s *sie) CommitAddress(addr uint8) { s.address = addr }

func (s *sie) AbortTransfers() {
	s.tx.armed = false
	s.rx.armed = false
}

func (s *sie) EnableTransfers() { s.enabled = true }
