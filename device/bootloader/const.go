package bootloader

import "github.com/usbboot/usbboot/usb"

// Default identity. 0x1209 is the pid.codes open source vendor ID.
const (
	DefaultVendorID  = 0x1209
	DefaultProductID = 0xB007
	DefaultSerial    = "0001"
)

// String descriptor indices.
const (
	strManufacturer = 0x01
	strProduct      = 0x02
	strSerial       = 0x03
	strInterface    = 0x04
)

// DFU mode interface triplet (DFU 1.1, section 4.2.3).
const (
	dfuInterfaceClass    = 0xFE // application specific
	dfuInterfaceSubClass = 0x01 // device firmware upgrade
	dfuInterfaceProtocol = 0x02 // DFU mode
)

const (
	configValue      = 0x01
	configAttrBus    = 0x80 // bus powered
	configMaxPower   = 50   // 100 mA in 2 mA units
	dfuDetachTimeout = 255  // ms
	dfuVersion       = 0x0110
	speedFull        = 2
)

// defaultDescriptor returns a fresh copy of the bootloader descriptors so
// that option overrides never leak between devices.
func defaultDescriptor() usb.Descriptor {
	return usb.Descriptor{
		Device: usb.DeviceDescriptor{
			BcdUSB:             0x0200,
			BDeviceClass:       0x00, // per interface
			BDeviceSubClass:    0x00,
			BDeviceProtocol:    0x00,
			BMaxPacketSize0:    64,
			IDVendor:           DefaultVendorID,
			IDProduct:          DefaultProductID,
			BcdDevice:          0x0100,
			IManufacturer:      strManufacturer,
			IProduct:           strProduct,
			ISerialNumber:      strSerial,
			BNumConfigurations: 1,
			Speed:              speedFull,
		},
		Config: usb.ConfigHeader{
			BConfigurationValue: configValue,
			BMAttributes:        configAttrBus,
			BMaxPower:           configMaxPower,
		},
		Interfaces: []usb.InterfaceConfig{
			{
				Descriptor: usb.InterfaceDescriptor{
					BInterfaceNumber:   0x00,
					BAlternateSetting:  0x00,
					BNumEndpoints:      0x00, // DFU runs entirely on EP0
					BInterfaceClass:    dfuInterfaceClass,
					BInterfaceSubClass: dfuInterfaceSubClass,
					BInterfaceProtocol: dfuInterfaceProtocol,
					IInterface:         strInterface,
				},
				ClassData: usb.DFUFunctionalDescriptor{
					BMAttributes:   usb.DFUCanDownload | usb.DFUManifestationTolerant,
					WDetachTimeout: dfuDetachTimeout,
					WTransferSize:  64,
					BcdDFUVersion:  dfuVersion,
				}.Bytes(),
			},
		},
		Strings: map[uint8]string{
			strManufacturer: "usbboot",
			strProduct:      "usbboot DFU bootloader",
			strSerial:       DefaultSerial,
			strInterface:    "Internal Flash",
		},
	}
}
