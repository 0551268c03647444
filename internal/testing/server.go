// Package testing starts servers for end-to-end tests.
package testing

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/usbboot/usbboot/device/bootloader"
	srvusb "github.com/usbboot/usbboot/internal/server/usb"
	"github.com/usbboot/usbboot/usb"
	"github.com/usbboot/usbboot/usbip"
)

// TestServer is a running USB/IP server with one exported bootloader.
type TestServer struct {
	Server *srvusb.Server
	Client *usbip.Client
	Device *bootloader.Bootloader
	BusID  string
}

// NewTestServer starts a server on a loopback port exporting a default
// bootloader. It is closed when the test ends.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	dev := bootloader.New(nil, nil)
	ts := NewTestServerWithConfig(t, TestServerConfig(t), dev)
	ts.Device = dev
	return ts
}

// NewTestServerWithConfig starts a server with cfg exporting devs.
func NewTestServerWithConfig(t *testing.T, cfg srvusb.ServerConfig, devs ...usb.Device) *TestServer {
	t.Helper()

	srv := srvusb.New(cfg, slog.New(slog.DiscardHandler), nil)
	ts := &TestServer{Server: srv}
	for i, d := range devs {
		if _, err := srv.Add(d); err != nil {
			t.Fatalf("export device %d: %v", i, err)
		}
	}
	if len(devs) > 0 {
		ts.BusID = srv.Devices()[0].Meta.BusIDString()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		t.Fatalf("USB/IP server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("USB/IP server did not become ready")
	}
	t.Cleanup(func() {
		_ = srv.Close()
		<-errCh
	})

	ts.Client = usbip.NewClient(srv.Addr().String(), 2*time.Second)
	return ts
}

// TestServerConfig returns a loopback config with short timeouts.
func TestServerConfig(t *testing.T) srvusb.ServerConfig {
	t.Helper()

	return srvusb.ServerConfig{
		Addr:              "127.0.0.1:0",
		ConnectionTimeout: 1 * time.Second,
	}
}
