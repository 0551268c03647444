// Package usbip encodes and decodes the USB/IP wire protocol. All numbers
// are big-endian.
package usbip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	Version = 0x0111

	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003

	CmdSubmitCode = 0x00000001
	CmdUnlinkCode = 0x00000002
	RetSubmitCode = 0x00000003
	RetUnlinkCode = 0x00000004

	DirOut = 0x00000000
	DirIn  = 0x00000001
)

// URB completion status values, negated Linux errno.
const (
	StatusOK        int32 = 0
	StatusEPIPE     int32 = -32
	StatusConnReset int32 = -104
)

// BusIDSize is the length of the busid field in import requests.
const BusIDSize = 32

// MgmtHeader is the 8-byte header of devlist and import messages.
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

func (h *MgmtHeader) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, h)
}

// ReadMgmtHeader decodes a MgmtHeader and checks the protocol version.
func ReadMgmtHeader(r io.Reader) (MgmtHeader, error) {
	var h MgmtHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported usbip version %#04x", h.Version)
	}
	return h, nil
}

// DevListReplyHeader follows MgmtHeader in OP_REP_DEVLIST.
type DevListReplyHeader struct {
	NDevices uint32
}

func (d *DevListReplyHeader) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, d)
}

// ReadImportRequest reads the busid following an OP_REQ_IMPORT header.
func ReadImportRequest(r io.Reader) (string, error) {
	var req [BusIDSize]byte
	if _, err := io.ReadFull(r, req[:]); err != nil {
		return "", err
	}
	return cString(req[:]), nil
}

// ExportMeta is the bus identity of an exported device.
type ExportMeta struct {
	Path     [256]byte
	USBBusId [BusIDSize]byte
	BusId    uint32
	DevId    uint32
}

// BusIDString returns the busid ("1-1") without NUL padding.
func (m *ExportMeta) BusIDString() string { return cString(m.USBBusId[:]) }

// PathString returns the sysfs path without NUL padding.
func (m *ExportMeta) PathString() string { return cString(m.Path[:]) }

// DeviceInfo is the fixed part of a device record following ExportMeta.
type DeviceInfo struct {
	Speed               uint32
	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8
}

// InterfaceDesc is one interface triplet in a devlist entry.
type InterfaceDesc struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	_        uint8
}

// ExportedDevice is one device record of a devlist or import reply.
type ExportedDevice struct {
	ExportMeta
	DeviceInfo
	Interfaces []InterfaceDesc
}

// WriteDevlist writes the record followed by its interface triplets.
func (d *ExportedDevice) WriteDevlist(w io.Writer) error {
	if err := d.WriteImport(w); err != nil {
		return err
	}
	if len(d.Interfaces) == 0 {
		return nil
	}
	return binary.Write(w, binary.BigEndian, d.Interfaces)
}

// WriteImport writes the record without interface triplets.
func (d *ExportedDevice) WriteImport(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, &d.ExportMeta); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, &d.DeviceInfo)
}

// ReadExportedDevice decodes one record. Devlist records carry interface
// triplets, import records do not.
func ReadExportedDevice(r io.Reader, withInterfaces bool) (ExportedDevice, error) {
	var d ExportedDevice
	if err := binary.Read(r, binary.BigEndian, &d.ExportMeta); err != nil {
		return d, err
	}
	if err := binary.Read(r, binary.BigEndian, &d.DeviceInfo); err != nil {
		return d, err
	}
	if !withInterfaces || d.BNumInterfaces == 0 {
		return d, nil
	}
	d.Interfaces = make([]InterfaceDesc, d.BNumInterfaces)
	if err := binary.Read(r, binary.BigEndian, d.Interfaces); err != nil {
		return d, err
	}
	return d, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
