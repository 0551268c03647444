package usb

// Device is the interface the USB/IP server exports.
type Device interface {
	// Control runs one complete control transfer on EP0 and returns the IN
	// data stage payload, if any.
	Control(setup SetupPacket, out []byte) ([]byte, error)
	// HandleTransfer processes a non-EP0 transfer.
	// ep is the endpoint number (without direction). dir is usbip.DirIn or usbip.DirOut.
	HandleTransfer(ep uint32, dir uint32, out []byte) ([]byte, error)
	// Reset performs a USB bus reset of the device.
	Reset()
	GetDescriptor() *Descriptor
}
