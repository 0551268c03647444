// Package bootloader provides a USB bootloader device in DFU mode. Every
// control transfer runs packet by packet through a simulated device
// controller and the ep0 engine.
package bootloader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/usbboot/usbboot/device"
	"github.com/usbboot/usbboot/ep0"
	"github.com/usbboot/usbboot/internal/udc"
	"github.com/usbboot/usbboot/usb"
)

// ErrUnsupportedEndpoint is returned for transfers on endpoints other than 0.
var ErrUnsupportedEndpoint = errors.New("bootloader: only endpoint 0 is implemented")

// Bootloader implements usb.Device.
type Bootloader struct {
	descriptor usb.Descriptor
	ctrl       *udc.Controller
}

var _ usb.Device = (*Bootloader)(nil)

// New returns a bootloader device, reset and waiting for enumeration.
func New(o *device.CreateOptions, logger *slog.Logger) *Bootloader {
	d := &Bootloader{
		descriptor: defaultDescriptor(),
	}
	if o != nil {
		if o.IdVendor != nil {
			d.descriptor.Device.IDVendor = *o.IdVendor
		}
		if o.IdProduct != nil {
			d.descriptor.Device.IDProduct = *o.IdProduct
		}
		if o.Serial != nil {
			d.descriptor.Strings[strSerial] = *o.Serial
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d.ctrl = udc.New(ep0.Config{
		MaxPacketSize: int(d.descriptor.Device.BMaxPacketSize0),
		Descriptors:   usb.NewDescriptorTable(&d.descriptor),
	}, logger.With("device", fmt.Sprintf("%04x:%04x", d.descriptor.Device.IDVendor, d.descriptor.Device.IDProduct)))
	return d
}

// Control runs one control transfer through the controller.
func (d *Bootloader) Control(setup usb.SetupPacket, out []byte) ([]byte, error) {
	return d.ctrl.ControlTransfer(setup, out)
}

// HandleTransfer rejects everything: the bootloader only has EP0.
func (d *Bootloader) HandleTransfer(ep uint32, dir uint32, out []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: ep%d", ErrUnsupportedEndpoint, ep)
}

// Reset signals a bus reset.
func (d *Bootloader) Reset() { d.ctrl.BusReset() }

// GetDescriptor returns the device's static descriptors.
func (d *Bootloader) GetDescriptor() *usb.Descriptor { return &d.descriptor }

// State returns the EP0 engine state.
func (d *Bootloader) State() ep0.Snapshot { return d.ctrl.Snapshot() }

// Address returns the committed bus address.
func (d *Bootloader) Address() uint8 { return d.ctrl.Address() }

// Stats returns the controller's transaction counters.
func (d *Bootloader) Stats() udc.Stats { return d.ctrl.Stats() }
