package ep0

import "github.com/usbboot/usbboot/usb"

// Driver is the hardware peripheral layer the engine drives. All methods are
// called from Engine.Handle or from the Begin*/Advance* helpers and must not
// block.
type Driver interface {
	// ArmTx programs the next IN transaction with chunk, using p.Toggle().
	// Drivers that rotate TX slots in hardware call p.FlipSlot here.
	ArmTx(p *Pipe, chunk []byte)
	// ArmRx programs the next OUT transaction to receive into dst, using
	// p.Slot() and p.Toggle().
	ArmRx(p *Pipe, dst []byte)
	// RxLength returns the number of bytes the just-completed OUT transaction
	// on ep delivered into slot.
	RxLength(ep uint8, slot Slot) int
	// Stall asserts STALL on ep until the next SETUP.
	Stall(ep uint8)
	// CommitAddress writes the device address register.
	CommitAddress(addr uint8)
	// AbortTransfers cancels armed but incomplete EP0 transactions.
	AbortTransfers()
	// EnableTransfers resumes transaction processing after a SETUP.
	EnableTransfers()
}

// Completion describes one finished hardware transaction on EP0.
type Completion interface {
	Token() Token
	// SetupData returns the 8 SETUP bytes; only valid for TokenSetup.
	SetupData() []byte
}

// Descriptors resolves GET_DESCRIPTOR requests. Returned slices must stay
// valid and unmodified for the lifetime of the engine.
type Descriptors interface {
	Descriptor(typ, index uint8, langID uint16) ([]byte, bool)
	ValidConfiguration(v uint8) bool
}

// ClassHandler receives class and vendor requests. It may arm a data stage
// with Engine.BeginTx/BeginRx and must report what it did via the Outcome.
type ClassHandler interface {
	HandleSetup(e *Engine, setup usb.SetupPacket) Outcome
}
