package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/usbboot/usbboot/usb"
	"github.com/usbboot/usbboot/usbip"
)

// Enumerate imports an exported device and enumerates it the way a host
// does, then prints what it learned.
type Enumerate struct {
	Addr    string        `help:"USB/IP server address" default:"localhost:3241" env:"USBBOOT_ENUMERATE_ADDR"`
	BusID   string        `help:"Bus ID to import (default: first exported device)" env:"USBBOOT_ENUMERATE_BUSID"`
	Address uint8         `help:"Address to assign with SET_ADDRESS" default:"1"`
	Timeout time.Duration `help:"Per-request timeout" default:"5s"`
	Format  string        `help:"Report format" enum:"yaml,json,toml" default:"yaml"`
}

// InterfaceReport describes one interface of the active configuration.
type InterfaceReport struct {
	Number   uint8  `json:"number" yaml:"number" toml:"number"`
	Class    string `json:"class" yaml:"class" toml:"class"`
	SubClass string `json:"subClass" yaml:"subClass" toml:"subClass"`
	Protocol string `json:"protocol" yaml:"protocol" toml:"protocol"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
}

// Report is the result of an enumeration.
type Report struct {
	BusID         string            `json:"busId" yaml:"busId" toml:"busId"`
	Address       uint8             `json:"address" yaml:"address" toml:"address"`
	VendorID      string            `json:"vendorId" yaml:"vendorId" toml:"vendorId"`
	ProductID     string            `json:"productId" yaml:"productId" toml:"productId"`
	USBVersion    string            `json:"usbVersion" yaml:"usbVersion" toml:"usbVersion"`
	MaxPacketSize uint8             `json:"maxPacketSize0" yaml:"maxPacketSize0" toml:"maxPacketSize0"`
	Manufacturer  string            `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty" toml:"manufacturer,omitempty"`
	Product       string            `json:"product,omitempty" yaml:"product,omitempty" toml:"product,omitempty"`
	Serial        string            `json:"serial,omitempty" yaml:"serial,omitempty" toml:"serial,omitempty"`
	Configuration uint8             `json:"configuration" yaml:"configuration" toml:"configuration"`
	TotalLength   uint16            `json:"configTotalLength" yaml:"configTotalLength" toml:"configTotalLength"`
	Interfaces    []InterfaceReport `json:"interfaces" yaml:"interfaces" toml:"interfaces"`
}

// Run is called by Kong when the enumerate command is executed.
func (e *Enumerate) Run(logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*e.Timeout)
	defer cancel()
	return e.Execute(ctx, logger, os.Stdout)
}

// Execute enumerates the device and writes the report to w.
func (e *Enumerate) Execute(ctx context.Context, logger *slog.Logger, w io.Writer) error {
	client := usbip.NewClient(e.Addr, e.Timeout)

	busID := e.BusID
	if busID == "" {
		devs, err := client.ListDevices(ctx)
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		if len(devs) == 0 {
			return errors.New("server exports no devices")
		}
		busID = devs[0].BusIDString()
	}
	logger.Debug("Importing device", "addr", e.Addr, "busid", busID)

	conn, err := client.Import(ctx, busID)
	if err != nil {
		return fmt.Errorf("import %s: %w", busID, err)
	}
	defer conn.Close()

	rep, err := enumerate(conn, e.Address, logger)
	if err != nil {
		return err
	}
	rep.BusID = busID
	return writeReport(w, e.Format, rep)
}

func getDescriptor(conn *usbip.Conn, typ, index uint8, langID, length uint16) ([]byte, error) {
	return conn.Control(usb.SetupPacket{
		RequestType: usb.ReqDirIn,
		Request:     usb.ReqGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Index:       langID,
		Length:      length,
	}, nil)
}

// enumerate follows the Linux hub driver: a short device descriptor read
// for bMaxPacketSize0, SET_ADDRESS, the full device descriptor, the
// configuration header then the whole configuration, strings and finally
// SET_CONFIGURATION.
func enumerate(conn *usbip.Conn, addr uint8, logger *slog.Logger) (*Report, error) {
	head, err := getDescriptor(conn, usb.DeviceDescType, 0, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR(device): %w", err)
	}
	if len(head) < 8 {
		return nil, fmt.Errorf("device descriptor too short: %d bytes", len(head))
	}
	logger.Debug("Max packet size", "bMaxPacketSize0", head[7])

	if _, err := conn.Control(usb.SetupPacket{Request: usb.ReqSetAddress, Value: uint16(addr)}, nil); err != nil {
		return nil, fmt.Errorf("SET_ADDRESS(%d): %w", addr, err)
	}

	raw, err := getDescriptor(conn, usb.DeviceDescType, 0, 0, usb.DeviceDescLen)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR(device): %w", err)
	}
	dd, err := usb.ParseDeviceDescriptor(raw)
	if err != nil {
		return nil, err
	}

	raw, err = getDescriptor(conn, usb.ConfigDescType, 0, 0, usb.ConfigDescLen)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR(config header): %w", err)
	}
	ch, err := usb.ParseConfigHeader(raw)
	if err != nil {
		return nil, err
	}
	cfg, err := getDescriptor(conn, usb.ConfigDescType, 0, 0, ch.WTotalLength)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR(config): %w", err)
	}
	ifaces, err := usb.ParseInterfaces(cfg)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Address:       addr,
		VendorID:      fmt.Sprintf("0x%04x", dd.IDVendor),
		ProductID:     fmt.Sprintf("0x%04x", dd.IDProduct),
		USBVersion:    fmt.Sprintf("%x.%02x", dd.BcdUSB>>8, dd.BcdUSB&0xFF),
		MaxPacketSize: dd.BMaxPacketSize0,
		Configuration: ch.BConfigurationValue,
		TotalLength:   ch.WTotalLength,
	}

	str := stringReader(conn, logger)
	rep.Manufacturer = str(dd.IManufacturer)
	rep.Product = str(dd.IProduct)
	rep.Serial = str(dd.ISerialNumber)
	for _, i := range ifaces {
		rep.Interfaces = append(rep.Interfaces, InterfaceReport{
			Number:   i.BInterfaceNumber,
			Class:    fmt.Sprintf("0x%02x", i.BInterfaceClass),
			SubClass: fmt.Sprintf("0x%02x", i.BInterfaceSubClass),
			Protocol: fmt.Sprintf("0x%02x", i.BInterfaceProtocol),
			Name:     str(i.IInterface),
		})
	}

	if _, err := conn.Control(usb.SetupPacket{Request: usb.ReqSetConfiguration, Value: uint16(ch.BConfigurationValue)}, nil); err != nil {
		return nil, fmt.Errorf("SET_CONFIGURATION(%d): %w", ch.BConfigurationValue, err)
	}
	active, err := conn.Control(usb.SetupPacket{RequestType: usb.ReqDirIn, Request: usb.ReqGetConfiguration, Length: 1}, nil)
	if err != nil {
		return nil, fmt.Errorf("GET_CONFIGURATION: %w", err)
	}
	if len(active) != 1 || active[0] != ch.BConfigurationValue {
		return nil, fmt.Errorf("device reports configuration %v, want %d", active, ch.BConfigurationValue)
	}
	return rep, nil
}

// stringReader returns a lookup that reads string descriptors in the first
// language the device lists. Failures yield "".
func stringReader(conn *usbip.Conn, logger *slog.Logger) func(uint8) string {
	var langID uint16
	if langs, err := getDescriptor(conn, usb.StringDescType, 0, 0, 255); err == nil && len(langs) >= 4 {
		langID = uint16(langs[2]) | uint16(langs[3])<<8
	}
	return func(index uint8) string {
		if index == 0 || langID == 0 {
			return ""
		}
		raw, err := getDescriptor(conn, usb.StringDescType, index, langID, 255)
		if err != nil {
			logger.Debug("String descriptor unavailable", "index", index, "error", err)
			return ""
		}
		s, err := usb.DecodeStringDescriptor(raw)
		if err != nil {
			logger.Debug("String descriptor malformed", "index", index, "error", err)
			return ""
		}
		return s
	}
}

func writeReport(w io.Writer, format string, rep *Report) error {
	var data []byte
	var err error
	switch normalizeFormat(format) {
	case "json":
		data, err = json.MarshalIndent(rep, "", "  ")
		data = append(data, '\n')
	case "toml":
		data, err = toml.Marshal(*rep)
	default:
		data, err = yaml.Marshal(rep)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
