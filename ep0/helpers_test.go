package ep0_test

import (
	"testing"

	"github.com/usbboot/usbboot/ep0"
	"github.com/usbboot/usbboot/usb"
)

type armed struct {
	dir    ep0.Token
	slot   ep0.Slot
	toggle ep0.Toggle
	data   []byte // IN chunk
	size   int    // OUT capacity
}

type fakeDriver struct {
	arms      []armed
	rxDst     []byte
	rxLen     int
	stalls    int
	committed []uint8
	aborts    int
	enables   int
}

func (d *fakeDriver) ArmTx(p *ep0.Pipe, chunk []byte) {
	d.arms = append(d.arms, armed{
		dir:    ep0.TokenIn,
		slot:   p.Slot(),
		toggle: p.Toggle(),
		data:   append([]byte{}, chunk...),
	})
	p.FlipSlot()
}

func (d *fakeDriver) ArmRx(p *ep0.Pipe, dst []byte) {
	d.rxDst = dst
	d.arms = append(d.arms, armed{
		dir:    ep0.TokenOut,
		slot:   p.Slot(),
		toggle: p.Toggle(),
		size:   len(dst),
	})
}

func (d *fakeDriver) RxLength(ep uint8, slot ep0.Slot) int { return d.rxLen }
func (d *fakeDriver) Stall(ep uint8)                       { d.stalls++ }
func (d *fakeDriver) CommitAddress(addr uint8)             { d.committed = append(d.committed, addr) }
func (d *fakeDriver) AbortTransfers()                      { d.aborts++ }
func (d *fakeDriver) EnableTransfers()                     { d.enables++ }

// receive simulates the host writing data into the armed OUT buffer.
func (d *fakeDriver) receive(data []byte) {
	d.rxLen = copy(d.rxDst, data)
}

func (d *fakeDriver) lastArm(t *testing.T) armed {
	t.Helper()
	if len(d.arms) == 0 {
		t.Fatal("nothing armed")
	}
	return d.arms[len(d.arms)-1]
}

type completion struct {
	tok   ep0.Token
	setup []byte
}

func (c completion) Token() ep0.Token  { return c.tok }
func (c completion) SetupData() []byte { return c.setup }

func setupDone(s usb.SetupPacket) completion {
	b := s.Bytes()
	return completion{tok: ep0.TokenSetup, setup: b[:]}
}

var (
	inDone  = completion{tok: ep0.TokenIn}
	outDone = completion{tok: ep0.TokenOut}
)

type staticDescriptors map[uint16][]byte

func descKey(typ, index uint8) uint16 { return uint16(typ)<<8 | uint16(index) }

func (s staticDescriptors) Descriptor(typ, index uint8, langID uint16) ([]byte, bool) {
	d, ok := s[descKey(typ, index)]
	return d, ok
}

func (s staticDescriptors) ValidConfiguration(v uint8) bool { return v <= 1 }

func newEngine(t *testing.T, cfg ep0.Config) (*ep0.Engine, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	e := ep0.New(d, cfg, nil)
	e.Reset()
	d.arms = nil
	return e, d
}

func stdIn(req uint8, value, length uint16) usb.SetupPacket {
	return usb.SetupPacket{RequestType: usb.ReqDirIn, Request: req, Value: value, Length: length}
}

func stdOut(req uint8, value uint16) usb.SetupPacket {
	return usb.SetupPacket{RequestType: usb.ReqDirOut, Request: req, Value: value}
}
