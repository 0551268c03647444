package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/usbboot/usbboot/device"
	"github.com/usbboot/usbboot/device/bootloader"
	"github.com/usbboot/usbboot/internal/log"
	"github.com/usbboot/usbboot/internal/server/usb"
)

// DeviceOptions override the exported bootloader's identity.
type DeviceOptions struct {
	VendorID  string `help:"USB vendor ID, e.g. 0x1209 (default: built-in)" env:"USBBOOT_DEVICE_VID"`
	ProductID string `help:"USB product ID, e.g. 0xb007 (default: built-in)" env:"USBBOOT_DEVICE_PID"`
	Serial    string `help:"Serial number string (default: built-in)" env:"USBBOOT_DEVICE_SERIAL"`
}

// CreateOptions converts the flags into device.CreateOptions.
func (o DeviceOptions) CreateOptions() (*device.CreateOptions, error) {
	var out device.CreateOptions
	parse := func(name, s string) (*uint16, error) {
		if s == "" {
			return nil, nil
		}
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
		id := uint16(v)
		return &id, nil
	}
	var err error
	if out.IdVendor, err = parse("vendor ID", o.VendorID); err != nil {
		return nil, err
	}
	if out.IdProduct, err = parse("product ID", o.ProductID); err != nil {
		return nil, err
	}
	if o.Serial != "" {
		out.Serial = &o.Serial
	}
	return &out, nil
}

// Serve exports one bootloader device over USB/IP.
type Serve struct {
	UsbServerConfig   usb.ServerConfig `embed:"" prefix:"usb."`
	Device            DeviceOptions    `embed:"" prefix:"device."`
	ConnectionTimeout time.Duration    `help:"Timeout for the USB/IP management handshake" default:"30s" env:"USBBOOT_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the serve command is executed.
func (s *Serve) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

// StartServer runs until ctx is done or the listener fails.
func (s *Serve) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	s.UsbServerConfig.ConnectionTimeout = s.ConnectionTimeout

	opts, err := s.Device.CreateOptions()
	if err != nil {
		return err
	}
	dev := bootloader.New(opts, logger)

	srv := usb.New(s.UsbServerConfig, logger, rawLogger)
	devCtx, err := srv.Add(dev)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("export bootloader: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = srv.Close()
		return err
	case <-srv.Ready():
	}

	busID := device.GetDeviceMeta(devCtx).BusIDString()
	logger.Info("Bootloader ready", "busid", busID, "addr", srv.Addr().String())
	logger.Info(fmt.Sprintf("Attach with: usbip attach -r <host> -b %s", busID))

	select {
	case <-ctx.Done():
		_ = srv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		_ = srv.Close()
		return err
	}
}
