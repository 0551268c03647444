package usbip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// URBHeaderSize is the size of every URB command and reply header.
const URBHeaderSize = 0x30

// MaxTransferLen bounds OUT payloads accepted from the wire.
const MaxTransferLen = 1 << 20

var (
	ErrUnknownCommand   = errors.New("usbip: unknown URB command")
	ErrTransferTooLarge = errors.New("usbip: transfer buffer too large")
)

// HeaderBasic is common to all URB commands and replies.
type HeaderBasic struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
	Dir     uint32
	Ep      uint32
}

// CmdSubmit is USBIP_CMD_SUBMIT.
type CmdSubmit struct {
	Basic             HeaderBasic
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             [8]byte
}

func (c *CmdSubmit) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, c)
}

// RetSubmit is USBIP_RET_SUBMIT.
type RetSubmit struct {
	Basic           HeaderBasic
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Padding         [8]byte
}

func (r *RetSubmit) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, r)
}

// CmdUnlink is USBIP_CMD_UNLINK.
type CmdUnlink struct {
	Basic        HeaderBasic
	UnlinkSeqnum uint32
	Padding      [24]byte
}

func (c *CmdUnlink) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, c)
}

// RetUnlink is USBIP_RET_UNLINK.
type RetUnlink struct {
	Basic   HeaderBasic
	Status  int32
	Padding [24]byte
}

func (r *RetUnlink) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, r)
}

// URB is one command read from the URB stream. Exactly one of Submit and
// Unlink is set.
type URB struct {
	Submit  *CmdSubmit
	Unlink  *CmdUnlink
	Payload []byte // OUT data of a submit
}

// Seqnum returns the sequence number of the command.
func (u *URB) Seqnum() uint32 {
	if u.Submit != nil {
		return u.Submit.Basic.Seqnum
	}
	return u.Unlink.Basic.Seqnum
}

// ReadURB reads one command header and, for OUT submits, its payload.
func ReadURB(r io.Reader) (*URB, error) {
	var hdr [URBHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	switch cmd := binary.BigEndian.Uint32(hdr[0:4]); cmd {
	case CmdSubmitCode:
		var c CmdSubmit
		if err := binary.Read(bytes.NewReader(hdr[:]), binary.BigEndian, &c); err != nil {
			return nil, err
		}
		u := &URB{Submit: &c}
		if c.Basic.Dir == DirOut && c.TransferBufferLen > 0 {
			if c.TransferBufferLen > MaxTransferLen {
				return nil, fmt.Errorf("%w: %d", ErrTransferTooLarge, c.TransferBufferLen)
			}
			u.Payload = make([]byte, c.TransferBufferLen)
			if _, err := io.ReadFull(r, u.Payload); err != nil {
				return nil, fmt.Errorf("read OUT payload: %w", err)
			}
		}
		return u, nil
	case CmdUnlinkCode:
		var c CmdUnlink
		if err := binary.Read(bytes.NewReader(hdr[:]), binary.BigEndian, &c); err != nil {
			return nil, err
		}
		return &URB{Unlink: &c}, nil
	default:
		return nil, fmt.Errorf("%w %#x", ErrUnknownCommand, cmd)
	}
}

// ReadRetSubmit reads a RET_SUBMIT header and, when in is set, its
// ActualLength bytes of IN data.
func ReadRetSubmit(r io.Reader, in bool) (RetSubmit, []byte, error) {
	var ret RetSubmit
	if err := binary.Read(r, binary.BigEndian, &ret); err != nil {
		return ret, nil, err
	}
	if ret.Basic.Command != RetSubmitCode {
		return ret, nil, fmt.Errorf("%w %#x, want RET_SUBMIT", ErrUnknownCommand, ret.Basic.Command)
	}
	if !in || ret.ActualLength == 0 {
		return ret, nil, nil
	}
	if ret.ActualLength > MaxTransferLen {
		return ret, nil, fmt.Errorf("%w: %d", ErrTransferTooLarge, ret.ActualLength)
	}
	data := make([]byte, ret.ActualLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return ret, nil, fmt.Errorf("read IN payload: %w", err)
	}
	return ret, data, nil
}

// ReadRetUnlink reads a RET_UNLINK.
func ReadRetUnlink(r io.Reader) (RetUnlink, error) {
	var ret RetUnlink
	if err := binary.Read(r, binary.BigEndian, &ret); err != nil {
		return ret, err
	}
	if ret.Basic.Command != RetUnlinkCode {
		return ret, fmt.Errorf("%w %#x, want RET_UNLINK", ErrUnknownCommand, ret.Basic.Command)
	}
	return ret, nil
}
