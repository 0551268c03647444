package ep0_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbboot/usbboot/ep0"
	"github.com/usbboot/usbboot/usb"
)

type classFunc func(e *ep0.Engine, setup usb.SetupPacket) ep0.Outcome

func (f classFunc) HandleSetup(e *ep0.Engine, setup usb.SetupPacket) ep0.Outcome {
	return f(e, setup)
}

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestDispatch_StandardRequests(t *testing.T) {
	tests := []struct {
		name     string
		setup    usb.SetupPacket
		wantKind ep0.OutcomeKind
		wantLen  int
		wantData []byte
	}{
		{name: "get status", setup: stdIn(usb.ReqGetStatus, 0, 2), wantKind: ep0.OutcomeReply, wantLen: 2, wantData: []byte{0, 0}},
		{name: "get status truncated", setup: stdIn(usb.ReqGetStatus, 0, 1), wantKind: ep0.OutcomeReply, wantLen: 1, wantData: []byte{0}},
		{name: "get status zero length", setup: stdIn(usb.ReqGetStatus, 0, 0), wantKind: ep0.OutcomeReply, wantData: []byte{}},
		{name: "clear feature", setup: stdOut(usb.ReqClearFeature, 1), wantKind: ep0.OutcomeNoData},
		{name: "set feature", setup: stdOut(usb.ReqSetFeature, 1), wantKind: ep0.OutcomeNoData},
		{name: "set address", setup: stdOut(usb.ReqSetAddress, 7), wantKind: ep0.OutcomeNoData},
		{name: "get configuration", setup: stdIn(usb.ReqGetConfiguration, 0, 1), wantKind: ep0.OutcomeReply, wantLen: 1, wantData: []byte{0}},
		{name: "set configuration", setup: stdOut(usb.ReqSetConfiguration, 1), wantKind: ep0.OutcomeNoData},
		{name: "get interface", setup: stdIn(usb.ReqGetInterface, 0, 1), wantKind: ep0.OutcomeReply, wantLen: 1, wantData: []byte{0}},
		{name: "set interface", setup: stdOut(usb.ReqSetInterface, 0), wantKind: ep0.OutcomeStall},
		{name: "set descriptor", setup: stdOut(usb.ReqSetDescriptor, 0x0100), wantKind: ep0.OutcomeStall},
		{name: "unknown request", setup: stdIn(0x33, 0, 4), wantKind: ep0.OutcomeStall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, d := newEngine(t, ep0.Config{})
			out := e.Dispatch(tt.setup)
			assert.Equal(t, tt.wantKind, out.Kind, "got %s", out.Kind)
			assert.Equal(t, tt.wantLen, out.Len)
			if tt.wantData == nil {
				assert.Empty(t, d.arms)
				return
			}
			a := d.lastArm(t)
			assert.Equal(t, ep0.TokenIn, a.dir)
			assert.Equal(t, tt.wantData, a.data)
		})
	}
}

func TestDispatch_SetAddressMasksValue(t *testing.T) {
	e, _ := newEngine(t, ep0.Config{})
	e.Dispatch(stdOut(usb.ReqSetAddress, 0xC5))

	s := e.Snapshot()
	assert.Equal(t, uint8(0x45), s.PendingAddress)
	assert.Equal(t, uint8(0), s.Address, "address must not change before the status stage")
	assert.Equal(t, ep0.StateSettingAddress, s.State)
}

func TestDispatch_GetDescriptor(t *testing.T) {
	desc := staticDescriptors{
		descKey(usb.DeviceDescType, 0): seq(18),
		descKey(usb.ConfigDescType, 0): seq(128),
		descKey(usb.StringDescType, 1): seq(10),
	}

	tests := []struct {
		name      string
		desc      ep0.Descriptors
		value     uint16
		length    uint16
		wantKind  ep0.OutcomeKind
		wantLen   int
		wantShort bool
	}{
		{name: "device, host asks for 64", desc: desc, value: 0x0100, length: 64, wantKind: ep0.OutcomeReply, wantLen: 18, wantShort: true},
		{name: "device, first 8 bytes", desc: desc, value: 0x0100, length: 8, wantKind: ep0.OutcomeReply, wantLen: 8},
		{name: "config, total length", desc: desc, value: 0x0200, length: 128, wantKind: ep0.OutcomeReply, wantLen: 128},
		{name: "config, header only", desc: desc, value: 0x0200, length: 9, wantKind: ep0.OutcomeReply, wantLen: 9},
		{name: "string", desc: desc, value: 0x0301, length: 255, wantKind: ep0.OutcomeReply, wantLen: 10, wantShort: true},
		{name: "unknown string", desc: desc, value: 0x0309, length: 255, wantKind: ep0.OutcomeStall},
		{name: "unknown type", desc: desc, value: 0x0600, length: 10, wantKind: ep0.OutcomeStall},
		{name: "no table", value: 0x0100, length: 18, wantKind: ep0.OutcomeStall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, d := newEngine(t, ep0.Config{Descriptors: tt.desc})
			out := e.Dispatch(stdIn(usb.ReqGetDescriptor, tt.value, tt.length))
			assert.Equal(t, tt.wantKind, out.Kind, "got %s", out.Kind)
			assert.Equal(t, tt.wantLen, out.Len)
			assert.Equal(t, tt.wantShort, e.TxPipe().Short())
			if tt.wantKind == ep0.OutcomeStall {
				assert.Empty(t, d.arms)
			}
		})
	}
}

func TestDispatch_GetDescriptorMultiPacket(t *testing.T) {
	desc := staticDescriptors{descKey(usb.ConfigDescType, 0): seq(128)}
	e, d := newEngine(t, ep0.Config{Descriptors: desc})

	e.Handle(setupDone(stdIn(usb.ReqGetDescriptor, 0x0200, 255)))
	e.Handle(inDone)
	e.Handle(inDone)
	// 128 is a multiple of 64 and the host asked for more, so a ZLP follows.
	e.Handle(inDone)
	e.Handle(outDone)

	var sizes []int
	var toggles []ep0.Toggle
	var got []byte
	for _, a := range d.arms {
		if a.dir != ep0.TokenIn {
			continue
		}
		sizes = append(sizes, len(a.data))
		toggles = append(toggles, a.toggle)
		got = append(got, a.data...)
	}
	assert.Equal(t, []int{64, 64, 0}, sizes)
	assert.Equal(t, []ep0.Toggle{ep0.Data1, ep0.Data0, ep0.Data1}, toggles)
	assert.Equal(t, seq(128), got)
	assert.Equal(t, ep0.StageIdle, e.Snapshot().Stage)
}

func TestDispatch_SetConfigurationValidated(t *testing.T) {
	tests := []struct {
		name     string
		desc     ep0.Descriptors
		value    uint16
		wantKind ep0.OutcomeKind
		wantCfg  uint8
	}{
		{name: "known configuration", desc: staticDescriptors{}, value: 1, wantKind: ep0.OutcomeNoData, wantCfg: 1},
		{name: "unconfigure", desc: staticDescriptors{}, value: 0, wantKind: ep0.OutcomeNoData, wantCfg: 0},
		{name: "unknown configuration", desc: staticDescriptors{}, value: 2, wantKind: ep0.OutcomeStall, wantCfg: 0},
		{name: "no table accepts anything", value: 3, wantKind: ep0.OutcomeNoData, wantCfg: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, ep0.Config{Descriptors: tt.desc})
			out := e.Dispatch(stdOut(usb.ReqSetConfiguration, tt.value))
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantCfg, e.Snapshot().Config)
		})
	}
}

func TestDispatch_ClassRequests(t *testing.T) {
	classSetup := usb.SetupPacket{
		RequestType: usb.ReqDirIn | usb.ReqTypeClass | usb.ReqRecipientIntf,
		Request:     0x03,
		Length:      6,
	}

	t.Run("no handler stalls", func(t *testing.T) {
		e, d := newEngine(t, ep0.Config{})
		assert.Equal(t, ep0.OutcomeStall, e.Dispatch(classSetup).Kind)
		assert.Empty(t, d.arms)
	})

	t.Run("vendor request without handler stalls", func(t *testing.T) {
		e, _ := newEngine(t, ep0.Config{})
		s := classSetup
		s.RequestType = usb.ReqDirIn | usb.ReqTypeVendor
		assert.Equal(t, ep0.OutcomeStall, e.Dispatch(s).Kind)
	})

	t.Run("handler sees the request", func(t *testing.T) {
		var seen usb.SetupPacket
		class := classFunc(func(e *ep0.Engine, s usb.SetupPacket) ep0.Outcome {
			seen = s
			n, err := e.ReplyScratch([]byte{0, 100, 0, 0, 2, 0}, int(s.Length))
			require.NoError(t, err)
			return ep0.Reply(n)
		})
		e, d := newEngine(t, ep0.Config{Class: class})
		out := e.Dispatch(classSetup)
		assert.Equal(t, classSetup, seen)
		assert.Equal(t, ep0.Reply(6), out)
		assert.Equal(t, []byte{0, 100, 0, 0, 2, 0}, d.lastArm(t).data)
	})

	t.Run("standard requests bypass handler", func(t *testing.T) {
		called := false
		class := classFunc(func(*ep0.Engine, usb.SetupPacket) ep0.Outcome {
			called = true
			return ep0.Stall
		})
		e, _ := newEngine(t, ep0.Config{Class: class})
		out := e.Dispatch(stdIn(usb.ReqGetConfiguration, 0, 1))
		assert.False(t, called)
		assert.Equal(t, ep0.OutcomeReply, out.Kind)
	})
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "stall", ep0.OutcomeStall.String())
	assert.Equal(t, "no-data", ep0.OutcomeNoData.String())
	assert.Equal(t, "reply", ep0.OutcomeReply.String())
	assert.Equal(t, "data-stage", ep0.OutcomeDataStage.String())
	assert.Equal(t, "unknown", ep0.OutcomeKind(42).String())
}
