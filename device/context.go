// Package device holds what every exported device shares: creation options
// and the per-device context handed out by the bus.
package device

import (
	"context"

	"github.com/usbboot/usbboot/usbip"
)

// CreateOptions overrides identity fields of a device's descriptors.
// Nil fields keep the device defaults.
type CreateOptions struct {
	IdVendor  *uint16
	IdProduct *uint16
	Serial    *string
}

type contextKey int

const (
	ExportMetaKey contextKey = iota
)

// GetDeviceMeta extracts the device metadata from a device context.
// Returns nil if the context doesn't contain device metadata.
func GetDeviceMeta(ctx context.Context) *usbip.ExportMeta {
	if meta, ok := ctx.Value(ExportMetaKey).(*usbip.ExportMeta); ok {
		return meta
	}
	return nil
}
