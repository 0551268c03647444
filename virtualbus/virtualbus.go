// Package virtualbus assigns bus identities to exported devices and owns
// their lifetimes.
package virtualbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/usbboot/usbboot/device"
	"github.com/usbboot/usbboot/usb"
	"github.com/usbboot/usbboot/usbip"
)

const basepath = "/sys/devices/platform/usbboot/usb"

var (
	ErrBusInUse       = errors.New("bus number already allocated")
	ErrDeviceNotFound = errors.New("device not found")
	ErrDuplicate      = errors.New("device already registered on this bus")
)

var (
	busMu     sync.Mutex
	busInUse  = make(map[uint32]bool)
	busNumber uint32
)

// VirtualBus is one USB bus holding exported devices.
type VirtualBus struct {
	mu      sync.Mutex
	busID   uint32
	devIDs  map[uint32]bool
	devices []busDevice
}

// DeviceMeta pairs a device with its export identity.
type DeviceMeta struct {
	Dev  usb.Device
	Meta usbip.ExportMeta
}

type busDevice struct {
	dev    usb.Device
	meta   usbip.ExportMeta
	ctx    context.Context
	cancel context.CancelFunc
}

// New allocates the next free bus number.
func New() *VirtualBus {
	busMu.Lock()
	defer busMu.Unlock()
	for {
		busNumber++
		if busNumber != 0 && !busInUse[busNumber] {
			break
		}
	}
	busInUse[busNumber] = true
	return &VirtualBus{busID: busNumber, devIDs: make(map[uint32]bool)}
}

// NewWithBusID claims a specific bus number.
func NewWithBusID(busID uint32) (*VirtualBus, error) {
	busMu.Lock()
	defer busMu.Unlock()
	if busID == 0 || busInUse[busID] {
		return nil, fmt.Errorf("%w: %d", ErrBusInUse, busID)
	}
	busInUse[busID] = true
	return &VirtualBus{busID: busID, devIDs: make(map[uint32]bool)}, nil
}

// BusID returns the bus number.
func (vb *VirtualBus) BusID() uint32 { return vb.busID }

// Add attaches dev at the lowest free device number. The returned context
// carries the export metadata and is cancelled when the device is removed.
func (vb *VirtualBus) Add(dev usb.Device) (context.Context, error) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	for _, d := range vb.devices {
		if d.dev == dev {
			return nil, ErrDuplicate
		}
	}
	devID := uint32(1)
	for vb.devIDs[devID] {
		devID++
	}
	vb.devIDs[devID] = true

	busDevID := fmt.Sprintf("%d-%d", vb.busID, devID)
	var meta usbip.ExportMeta
	copy(meta.Path[:], fmt.Sprintf("%s%d/%s", basepath, vb.busID, busDevID))
	copy(meta.USBBusId[:], busDevID)
	meta.BusId = vb.busID
	meta.DevId = devID

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, device.ExportMetaKey, &meta)
	vb.devices = append(vb.devices, busDevice{dev: dev, meta: meta, ctx: ctx, cancel: cancel})
	return ctx, nil
}

// GetAllDeviceMetas returns every attached device with its identity.
func (vb *VirtualBus) GetAllDeviceMetas() []DeviceMeta {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	out := make([]DeviceMeta, 0, len(vb.devices))
	for _, d := range vb.devices {
		out = append(out, DeviceMeta{Dev: d.dev, Meta: d.meta})
	}
	return out
}

// Lookup finds a device by busid string ("1-2").
func (vb *VirtualBus) Lookup(busID string) (DeviceMeta, context.Context, bool) {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	for _, d := range vb.devices {
		if d.meta.BusIDString() == busID {
			return DeviceMeta{Dev: d.dev, Meta: d.meta}, d.ctx, true
		}
	}
	return DeviceMeta{}, nil, false
}

// Devices returns the attached devices.
func (vb *VirtualBus) Devices() []usb.Device {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	out := make([]usb.Device, 0, len(vb.devices))
	for _, d := range vb.devices {
		out = append(out, d.dev)
	}
	return out
}

// Remove detaches dev and cancels its context.
func (vb *VirtualBus) Remove(dev usb.Device) error {
	return vb.removeWhere(func(d *busDevice) bool { return d.dev == dev })
}

// RemoveDeviceByID detaches the device with the given device number.
func (vb *VirtualBus) RemoveDeviceByID(devID uint32) error {
	return vb.removeWhere(func(d *busDevice) bool { return d.meta.DevId == devID })
}

func (vb *VirtualBus) removeWhere(match func(*busDevice) bool) error {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	for i := range vb.devices {
		d := &vb.devices[i]
		if !match(d) {
			continue
		}
		d.cancel()
		delete(vb.devIDs, d.meta.DevId)
		vb.devices = append(vb.devices[:i], vb.devices[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w on bus %d", ErrDeviceNotFound, vb.busID)
}

// GetDeviceContext returns the context handed out by Add, or nil.
func (vb *VirtualBus) GetDeviceContext(dev usb.Device) context.Context {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	for _, d := range vb.devices {
		if d.dev == dev {
			return d.ctx
		}
	}
	return nil
}

// Close detaches every device and releases the bus number.
func (vb *VirtualBus) Close() error {
	vb.mu.Lock()
	for _, d := range vb.devices {
		d.cancel()
	}
	vb.devices = nil
	clear(vb.devIDs)
	vb.mu.Unlock()

	busMu.Lock()
	defer busMu.Unlock()
	delete(busInUse, vb.busID)
	return nil
}
