package ep0

// Callback is invoked once when a transfer, including any terminating short
// packet, is done. For IN transfers n is 0; for OUT transfers n is the number
// of bytes received into buf.
type Callback func(buf []byte, n int)

// Pipe is the state of the transfer in progress in one direction.
type Pipe struct {
	data      []byte // caller owned, valid until the callback fires
	remaining int
	pos       int
	last      int // size of the most recently armed chunk
	toggle    Toggle
	pingpong  Slot
	short     bool
	maxPacket int
	callback  Callback
}

// Toggle returns the data toggle the next transaction must use.
func (p *Pipe) Toggle() Toggle { return p.toggle }

// Slot returns the buffer slot the next transaction uses.
func (p *Pipe) Slot() Slot { return p.pingpong }

// FlipSlot advances the slot. Drivers that rotate TX slots in hardware call
// this from ArmTx.
func (p *Pipe) FlipSlot() { p.pingpong = p.pingpong.Other() }

// Remaining returns the number of bytes not yet armed or received.
func (p *Pipe) Remaining() int { return p.remaining }

// Pos returns the number of bytes transferred so far.
func (p *Pipe) Pos() int { return p.pos }

// Short reports whether a terminating short packet is still owed.
func (p *Pipe) Short() bool { return p.short }

// MaxPacket returns the endpoint's maximum packet size.
func (p *Pipe) MaxPacket() int { return p.maxPacket }

func (p *Pipe) start(buf []byte, n int, cb Callback) {
	p.data = buf
	p.remaining = n
	p.pos = 0
	p.last = 0
	p.short = false
	p.callback = cb
}

// discard drops the transfer without running its callback. Toggle and slot
// are hardware state and survive.
func (p *Pipe) discard() {
	p.data = nil
	p.remaining = 0
	p.pos = 0
	p.last = 0
	p.short = false
	p.callback = nil
}

// complete runs the callback at most once.
func (p *Pipe) complete(n int) {
	cb, buf := p.callback, p.data
	p.callback = nil
	if cb != nil {
		cb(buf, n)
	}
}
