// Package config defines the CLI structure and configuration for usbboot.
package config

import (
	"github.com/alecthomas/kong"

	"github.com/usbboot/usbboot/internal/cmd"
)

type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"USBBOOT_LOG_LEVEL"`
	File    string `help:"Log file path (default: none; logs only to console)" env:"USBBOOT_LOG_FILE"`
	RawFile string `help:"Raw USB/IP traffic log file path (default: none)" env:"USBBOOT_LOG_RAW_FILE"`
}

// CLI is the root command structure for Kong CLI parsing.
type CLI struct {
	Log `embed:"" prefix:"log."`

	Config  string           `help:"Path to a JSON, YAML or TOML config file" type:"path" env:"USBBOOT_CONFIG"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Serve         cmd.Serve         `cmd:"" help:"Export a USB bootloader device over USB/IP"`
	Enumerate     cmd.Enumerate     `cmd:"" help:"Import a USB/IP device and enumerate it like a host"`
	ConfigCommand cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration helpers"`
}
