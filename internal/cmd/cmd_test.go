package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"

	"github.com/usbboot/usbboot/device/bootloader"
	"github.com/usbboot/usbboot/internal/log"
	srvusb "github.com/usbboot/usbboot/internal/server/usb"
	th "github.com/usbboot/usbboot/internal/testing"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestConfigKey(t *testing.T) {
	cases := map[string]string{
		"Addr":              "addr",
		"BusID":             "bus_id",
		"ConnectionTimeout": "connection_timeout",
		"VendorID":          "vendor_id",
		"USBVersion":        "usb_version",
		"RawFile":           "raw_file",
	}
	for in, want := range cases {
		assert.Equal(t, want, configKey(in), in)
	}
}

func TestBuildMapFromStruct_Serve(t *testing.T) {
	m := buildMapFromStruct(configCommands["serve"])

	assert.Equal(t, "30s", m["connection_timeout"])
	usb, ok := m["usb"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ":3241", usb["addr"])
	assert.Equal(t, uint64(1), usb["bus_id"])
	assert.NotContains(t, usb, "connection_timeout")

	dev, ok := m["device"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, dev, "vendor_id")
	assert.Contains(t, dev, "serial")
}

func TestConfigInit_Run(t *testing.T) {
	dir := t.TempDir()
	type testCase struct {
		format string
		check  func(*testing.T, []byte)
	}
	cases := []testCase{
		{format: "json", check: func(t *testing.T, b []byte) {
			var m map[string]any
			require.NoError(t, json.Unmarshal(b, &m))
			assert.Equal(t, "localhost:3241", m["addr"])
		}},
		{format: "yaml", check: func(t *testing.T, b []byte) {
			var m map[string]any
			require.NoError(t, yaml.Unmarshal(b, &m))
			assert.Equal(t, "yaml", m["format"])
		}},
		{format: "toml", check: func(t *testing.T, b []byte) {
			assert.Contains(t, string(b), "timeout = \"5s\"")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			out := filepath.Join(dir, "nested", "enumerate."+tc.format)
			c := &ConfigInit{Command: "enumerate", Format: tc.format, Output: out}
			require.NoError(t, c.Run())

			b, err := os.ReadFile(out)
			require.NoError(t, err)
			tc.check(t, b)

			assert.Error(t, c.Run(), "existing file without --force")
			c.Force = true
			assert.NoError(t, c.Run())
		})
	}
}

func TestConfigInit_Errors(t *testing.T) {
	assert.Error(t, (&ConfigInit{Command: "serve", Format: "ini"}).Run())
	assert.Error(t, (&ConfigInit{Command: "proxy", Format: "json"}).Run())
}

func TestDeviceOptions_CreateOptions(t *testing.T) {
	o, err := DeviceOptions{VendorID: "0x0483", ProductID: "57105", Serial: "S1"}.CreateOptions()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0483), *o.IdVendor)
	assert.Equal(t, uint16(0xDF11), *o.IdProduct)
	assert.Equal(t, "S1", *o.Serial)

	o, err = DeviceOptions{}.CreateOptions()
	require.NoError(t, err)
	assert.Nil(t, o.IdVendor)
	assert.Nil(t, o.Serial)

	_, err = DeviceOptions{VendorID: "0x10000"}.CreateOptions()
	assert.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := &Serve{
		UsbServerConfig:   srvusb.ServerConfig{Addr: "127.0.0.1:0"},
		ConnectionTimeout: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.StartServer(ctx, discard(), log.NewRaw(nil)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_ListenError(t *testing.T) {
	s := &Serve{UsbServerConfig: srvusb.ServerConfig{Addr: "256.0.0.1:99999"}}
	assert.Error(t, s.StartServer(context.Background(), discard(), nil))
}

func TestEnumerate_Execute(t *testing.T) {
	ts := th.NewTestServer(t)
	e := &Enumerate{Addr: ts.Server.Addr().String(), Address: 7, Timeout: 2 * time.Second, Format: "json"}

	var out bytes.Buffer
	require.NoError(t, e.Execute(context.Background(), discard(), &out))

	var rep Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, ts.BusID, rep.BusID)
	assert.Equal(t, "0x1209", rep.VendorID)
	assert.Equal(t, "0xb007", rep.ProductID)
	assert.Equal(t, "2.00", rep.USBVersion)
	assert.Equal(t, uint8(64), rep.MaxPacketSize)
	assert.Equal(t, "usbboot", rep.Manufacturer)
	assert.Equal(t, bootloader.DefaultSerial, rep.Serial)
	assert.Equal(t, uint16(27), rep.TotalLength)
	require.Len(t, rep.Interfaces, 1)
	assert.Equal(t, "0xfe", rep.Interfaces[0].Class)
	assert.Equal(t, "Internal Flash", rep.Interfaces[0].Name)

	assert.Equal(t, uint8(7), ts.Device.Address())
	assert.Equal(t, uint8(1), ts.Device.State().Config)
}

func TestEnumerate_YAMLReport(t *testing.T) {
	ts := th.NewTestServer(t)
	e := &Enumerate{Addr: ts.Server.Addr().String(), BusID: ts.BusID, Address: 1, Timeout: 2 * time.Second, Format: "yaml"}

	var out bytes.Buffer
	require.NoError(t, e.Execute(context.Background(), discard(), &out))
	assert.Contains(t, out.String(), "product: usbboot DFU bootloader")
}

func TestEnumerate_UnknownBusID(t *testing.T) {
	ts := th.NewTestServer(t)
	e := &Enumerate{Addr: ts.Server.Addr().String(), BusID: "99-9", Timeout: time.Second}
	assert.Error(t, e.Execute(context.Background(), discard(), &bytes.Buffer{}))
}
