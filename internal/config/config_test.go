package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLI_Defaults(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	kctx, err := parser.Parse([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", kctx.Command())
	assert.Equal(t, "info", cli.Log.Level)
	assert.Equal(t, ":3241", cli.Serve.UsbServerConfig.Addr)
	assert.Equal(t, uint32(1), cli.Serve.UsbServerConfig.BusID)
	assert.Equal(t, 30*time.Second, cli.Serve.ConnectionTimeout)
}

func TestCLI_Flags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{
		"--log.level=trace", "serve",
		"--usb.addr=127.0.0.1:4000", "--device.vendor-id=0x0483", "--device.serial=X1",
	})
	require.NoError(t, err)
	assert.Equal(t, "trace", cli.Log.Level)
	assert.Equal(t, "127.0.0.1:4000", cli.Serve.UsbServerConfig.Addr)
	assert.Equal(t, "0x0483", cli.Serve.Device.VendorID)
	assert.Equal(t, "X1", cli.Serve.Device.Serial)
}

func TestCLI_JSONConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "log": {"level": "debug"},
  "usb": {"addr": "127.0.0.1:5000", "bus_id": 3},
  "connection_timeout": "5s"
}`), 0o644))

	var cli CLI
	parser, err := kong.New(&cli, kong.Configuration(kong.JSON, path))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cli.Log.Level)
	assert.Equal(t, "127.0.0.1:5000", cli.Serve.UsbServerConfig.Addr)
	assert.Equal(t, uint32(3), cli.Serve.UsbServerConfig.BusID)
	assert.Equal(t, 5*time.Second, cli.Serve.ConnectionTimeout)
}

func TestCLI_ConfigInitEnum(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{"config", "init", "serve", "--format=yaml"})
	require.NoError(t, err)
	assert.Equal(t, "serve", cli.ConfigCommand.Init.Command)

	_, err = parser.Parse([]string{"config", "init", "proxy"})
	assert.Error(t, err)
}
