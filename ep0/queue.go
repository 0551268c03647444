package ep0

import "errors"

// ErrBufferOverflow is returned when a transfer does not fit its buffer.
var ErrBufferOverflow = errors.New("ep0: transfer exceeds buffer capacity")

// BeginTx starts an IN transfer of min(available, requested) bytes from buf
// and arms the first packet. When the host asked for more than is available
// the transfer is short and may need a terminating zero-length packet.
func (e *Engine) BeginTx(buf []byte, available, requested int, cb Callback) (int, error) {
	if available > len(buf) || available < 0 || requested < 0 {
		return -1, ErrBufferOverflow
	}
	p := &e.tx
	n := min(available, requested)
	p.start(buf, n, cb)
	p.short = available < requested
	e.queueTx()
	return n, nil
}

// AdvanceTx accounts for a completed IN transaction. It returns true while
// more packets are armed and false once the transfer is done. A pending short
// transfer arms a terminating zero-length packet only after a full-size last
// packet, not unconditionally.
func (e *Engine) AdvanceTx() bool {
	p := &e.tx

	// The host accepted the packet and flipped its toggle; follow it.
	p.toggle = p.toggle.Flip()

	if p.remaining > 0 {
		e.queueTx()
		return true
	}
	if p.short {
		p.short = false
		// A packet shorter than max already ended the transfer on the wire.
		if p.last == p.maxPacket {
			e.queueTx()
			return true
		}
	}
	p.complete(0)
	return false
}

// SendScratch copies data into the free control buffer slot and sends it as
// an exact-length IN transfer.
func (e *Engine) SendScratch(data []byte) (int, error) {
	return e.ReplyScratch(data, len(data))
}

// ReplyScratch is SendScratch for a reply to a request asking for requested
// bytes.
func (e *Engine) ReplyScratch(data []byte, requested int) (int, error) {
	dst := e.buf[e.tx.pingpong][:e.maxPacket]
	if len(data) > len(dst) {
		return -1, ErrBufferOverflow
	}
	n := copy(dst, data)
	return e.BeginTx(dst, n, requested, nil)
}

// BeginRx starts an OUT transfer of up to maxLen bytes into buf.
func (e *Engine) BeginRx(buf []byte, maxLen int, cb Callback) (int, error) {
	if maxLen > len(buf) || maxLen < 0 {
		return -1, ErrBufferOverflow
	}
	e.rx.start(buf, maxLen, cb)
	e.queueRx()
	return maxLen, nil
}

// AdvanceRx accounts for a completed OUT transaction. It returns true while
// more data is expected and false once the transfer is done.
func (e *Engine) AdvanceRx() bool {
	p := &e.rx

	p.toggle = p.toggle.Flip()

	n := e.drv.RxLength(0, p.pingpong)
	if n > p.remaining {
		n = p.remaining
	}
	p.remaining -= n
	p.pos += n

	// The slot is free again; the next arm uses the other one.
	p.pingpong = p.pingpong.Other()

	if n < p.maxPacket || p.remaining == 0 {
		p.complete(p.pos)
		return false
	}
	e.queueRx()
	return true
}

func (e *Engine) queueTx() {
	p := &e.tx
	n := min(p.remaining, p.maxPacket)
	chunk := p.data[p.pos : p.pos+n]
	p.pos += n
	p.remaining -= n
	p.last = n
	e.drv.ArmTx(p, chunk)
}

func (e *Engine) queueRx() {
	p := &e.rx
	n := min(p.remaining, p.maxPacket)
	p.last = n
	e.drv.ArmRx(p, p.data[p.pos:p.pos+n])
}
