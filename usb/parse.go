package usb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// ErrMalformedDescriptor is returned by the decoders for truncated or
// mistyped descriptors.
var ErrMalformedDescriptor = errors.New("malformed descriptor")

// ParseDeviceDescriptor decodes an 18-byte device descriptor as returned by
// GET_DESCRIPTOR. Speed is left zero: it is not part of the descriptor.
func ParseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	if len(b) < DeviceDescLen || b[0] < DeviceDescLen || b[1] != DeviceDescType {
		return DeviceDescriptor{}, fmt.Errorf("%w: device descriptor of %d bytes", ErrMalformedDescriptor, len(b))
	}
	return DeviceDescriptor{
		BcdUSB:             binary.LittleEndian.Uint16(b[2:4]),
		BDeviceClass:       b[4],
		BDeviceSubClass:    b[5],
		BDeviceProtocol:    b[6],
		BMaxPacketSize0:    b[7],
		IDVendor:           binary.LittleEndian.Uint16(b[8:10]),
		IDProduct:          binary.LittleEndian.Uint16(b[10:12]),
		BcdDevice:          binary.LittleEndian.Uint16(b[12:14]),
		IManufacturer:      b[14],
		IProduct:           b[15],
		ISerialNumber:      b[16],
		BNumConfigurations: b[17],
	}, nil
}

// ParseConfigHeader decodes the first 9 bytes of a configuration descriptor.
func ParseConfigHeader(b []byte) (ConfigHeader, error) {
	if len(b) < ConfigDescLen || b[1] != ConfigDescType {
		return ConfigHeader{}, fmt.Errorf("%w: configuration header", ErrMalformedDescriptor)
	}
	return ConfigHeader{
		WTotalLength:        binary.LittleEndian.Uint16(b[2:4]),
		BNumInterfaces:      b[4],
		BConfigurationValue: b[5],
		IConfiguration:      b[6],
		BMAttributes:        b[7],
		BMaxPower:           b[8],
	}, nil
}

// ParseInterfaces walks a full configuration descriptor and returns its
// interface descriptors in order.
func ParseInterfaces(config []byte) ([]InterfaceDescriptor, error) {
	var out []InterfaceDescriptor
	for off := 0; off < len(config); {
		if len(config)-off < 2 || config[off] < 2 || off+int(config[off]) > len(config) {
			return out, fmt.Errorf("%w: bad length at offset %d", ErrMalformedDescriptor, off)
		}
		d := config[off : off+int(config[off])]
		if d[1] == InterfaceDescType {
			if len(d) < InterfaceDescLen {
				return out, fmt.Errorf("%w: short interface descriptor", ErrMalformedDescriptor)
			}
			out = append(out, InterfaceDescriptor{
				BInterfaceNumber:   d[2],
				BAlternateSetting:  d[3],
				BNumEndpoints:      d[4],
				BInterfaceClass:    d[5],
				BInterfaceSubClass: d[6],
				BInterfaceProtocol: d[7],
				IInterface:         d[8],
			})
		}
		off += len(d)
	}
	return out, nil
}

// DecodeStringDescriptor returns the UTF-8 text of a string descriptor.
func DecodeStringDescriptor(b []byte) (string, error) {
	if len(b) < 2 || b[1] != StringDescType || int(b[0]) > len(b) || b[0]%2 != 0 {
		return "", fmt.Errorf("%w: string descriptor", ErrMalformedDescriptor)
	}
	units := make([]uint16, 0, (b[0]-2)/2)
	for i := 2; i+1 < int(b[0]); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(b[i:]))
	}
	return string(utf16.Decode(units)), nil
}
