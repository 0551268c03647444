package usb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbboot/usbboot/usb"
)

func TestParseDeviceDescriptor_RoundTrip(t *testing.T) {
	d := sampleDescriptor().Device
	got, err := usb.ParseDeviceDescriptor(d.Bytes())
	require.NoError(t, err)
	d.Speed = 0
	assert.Equal(t, d, got)

	_, err = usb.ParseDeviceDescriptor(d.Bytes()[:8])
	assert.ErrorIs(t, err, usb.ErrMalformedDescriptor)
}

func TestParseInterfaces(t *testing.T) {
	desc := sampleDescriptor()
	cfg := desc.ConfigBytes()

	h, err := usb.ParseConfigHeader(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(len(cfg)), h.WTotalLength)
	assert.Equal(t, uint8(1), h.BNumInterfaces)

	ifaces, err := usb.ParseInterfaces(cfg)
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, desc.Interfaces[0].Descriptor, ifaces[0])

	_, err = usb.ParseInterfaces(append(cfg[:len(cfg):len(cfg)], 9, 4))
	assert.ErrorIs(t, err, usb.ErrMalformedDescriptor)
}

func TestDecodeStringDescriptor(t *testing.T) {
	type testCase struct {
		name    string
		in      []byte
		want    string
		wantErr bool
	}
	cases := []testCase{
		{name: "ascii", in: usb.EncodeStringDescriptor("usbboot"), want: "usbboot"},
		{name: "non-BMP", in: usb.EncodeStringDescriptor("boot \U0001F680"), want: "boot \U0001F680"},
		{name: "empty", in: []byte{2, 3}, want: ""},
		{name: "wrong type", in: []byte{4, 1, 'a', 0}, wantErr: true},
		{name: "truncated", in: []byte{8, 3, 'a', 0}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := usb.DecodeStringDescriptor(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
