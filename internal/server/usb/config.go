package usb

import "time"

// ServerConfig represents the serve subcommand's USB/IP settings.
type ServerConfig struct {
	Addr              string        `help:"USB/IP server listen address" default:":3241" env:"USBBOOT_USB_ADDR"`
	BusID             uint32        `help:"Bus number of the exported device (0 picks the next free one)" default:"1" env:"USBBOOT_USB_BUS_ID"`
	ConnectionTimeout time.Duration `kong:"-"`
}
