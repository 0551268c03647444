package virtualbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbboot/usbboot/device"
	"github.com/usbboot/usbboot/usb"
)

type stubDevice struct{ id int }

func (s *stubDevice) Control(usb.SetupPacket, []byte) ([]byte, error) { return nil, nil }
func (s *stubDevice) HandleTransfer(uint32, uint32, []byte) ([]byte, error) { return nil, nil }
func (s *stubDevice) Reset() {}
func (s *stubDevice) GetDescriptor() *usb.Descriptor { return &usb.Descriptor{} }

func TestAdd_AssignsIdentity(t *testing.T) {
	bus := New()
	t.Cleanup(func() { _ = bus.Close() })

	a, b := &stubDevice{1}, &stubDevice{2}
	ctxA, err := bus.Add(a)
	require.NoError(t, err)
	_, err = bus.Add(b)
	require.NoError(t, err)

	meta := device.GetDeviceMeta(ctxA)
	require.NotNil(t, meta)
	assert.Equal(t, bus.BusID(), meta.BusId)
	assert.Equal(t, uint32(1), meta.DevId)

	metas := bus.GetAllDeviceMetas()
	require.Len(t, metas, 2)
	assert.Equal(t, uint32(2), metas[1].Meta.DevId)

	m, ctx, ok := bus.Lookup(metas[1].Meta.BusIDString())
	require.True(t, ok)
	assert.Same(t, b, m.Dev)
	assert.Equal(t, bus.GetDeviceContext(b), ctx)

	_, _, ok = bus.Lookup("9-9")
	assert.False(t, ok)

	_, err = bus.Add(a)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRemove_CancelsAndFreesNumber(t *testing.T) {
	bus := New()
	t.Cleanup(func() { _ = bus.Close() })

	a, b := &stubDevice{1}, &stubDevice{2}
	ctxA, _ := bus.Add(a)
	_, _ = bus.Add(b)

	require.NoError(t, bus.Remove(a))
	assert.Error(t, ctxA.Err())
	assert.Len(t, bus.Devices(), 1)
	assert.ErrorIs(t, bus.Remove(a), ErrDeviceNotFound)

	ctxC, err := bus.Add(&stubDevice{3})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), device.GetDeviceMeta(ctxC).DevId)

	require.NoError(t, bus.RemoveDeviceByID(2))
	assert.ErrorIs(t, bus.RemoveDeviceByID(2), ErrDeviceNotFound)
}

func TestNewWithBusID(t *testing.T) {
	bus, err := NewWithBusID(200)
	require.NoError(t, err)

	_, err = NewWithBusID(200)
	assert.ErrorIs(t, err, ErrBusInUse)

	ctx, _ := bus.Add(&stubDevice{1})
	require.NoError(t, bus.Close())
	assert.Error(t, ctx.Err())

	again, err := NewWithBusID(200)
	require.NoError(t, err)
	_ = again.Close()
}
