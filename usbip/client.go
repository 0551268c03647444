package usbip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/usbboot/usbboot/usb"
)

// ErrStalled is returned by Conn.Control when the device answered -EPIPE.
var ErrStalled = errors.New("usbip: control pipe stalled")

// StatusError is a non-zero RET_SUBMIT status other than -EPIPE.
type StatusError struct {
	Seqnum uint32
	Status int32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usbip: urb %d completed with status %d", e.Seqnum, e.Status)
}

// Client talks to a USB/IP server the way the kernel's vhci driver does.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a client for addr. timeout bounds each request and
// defaults to two seconds.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	return conn, nil
}

// ListDevices issues OP_REQ_DEVLIST.
func (c *Client) ListDevices(ctx context.Context) ([]ExportedDevice, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := (&MgmtHeader{Version: Version, Command: OpReqDevlist}).Write(conn); err != nil {
		return nil, err
	}
	h, err := ReadMgmtHeader(conn)
	if err != nil {
		return nil, fmt.Errorf("read devlist reply: %w", err)
	}
	if h.Command != OpRepDevlist {
		return nil, fmt.Errorf("unexpected reply command %#04x", h.Command)
	}
	var n DevListReplyHeader
	if err := binary.Read(conn, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	devices := make([]ExportedDevice, 0, n.NDevices)
	for range n.NDevices {
		d, err := ReadExportedDevice(conn, true)
		if err != nil {
			return nil, fmt.Errorf("read device record: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Import issues OP_REQ_IMPORT for busID and returns the connection, now
// carrying the URB stream.
func (c *Client) Import(ctx context.Context, busID string) (*Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	var req [BusIDSize]byte
	copy(req[:], busID)
	if err := (&MgmtHeader{Version: Version, Command: OpReqImport}).Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(req[:]); err != nil {
		conn.Close()
		return nil, err
	}
	h, err := ReadMgmtHeader(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read import reply: %w", err)
	}
	if h.Command != OpRepImport {
		conn.Close()
		return nil, fmt.Errorf("unexpected reply command %#04x", h.Command)
	}
	if h.Status != 0 {
		conn.Close()
		return nil, fmt.Errorf("import of %s refused (status %d)", busID, h.Status)
	}
	dev, err := ReadExportedDevice(conn, false)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read device record: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &Conn{conn: conn, Device: dev, timeout: c.timeout}, nil
}

// Conn is an imported device's URB stream.
type Conn struct {
	Device ExportedDevice

	mu      sync.Mutex
	conn    net.Conn
	seq     uint32
	timeout time.Duration
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Submit sends one CMD_SUBMIT and waits for its RET_SUBMIT. For IN
// transfers inLen is the buffer length offered to the device.
func (c *Conn) Submit(dir, ep uint32, setup [8]byte, out []byte, inLen uint32) (RetSubmit, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	cmd := CmdSubmit{
		Basic: HeaderBasic{Command: CmdSubmitCode, Seqnum: c.seq, Dir: dir, Ep: ep},
		Setup: setup,
	}
	if dir == DirIn {
		cmd.TransferBufferLen = inLen
	} else {
		cmd.TransferBufferLen = uint32(len(out))
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	if err := cmd.Write(c.conn); err != nil {
		return RetSubmit{}, nil, err
	}
	if dir == DirOut && len(out) > 0 {
		if _, err := c.conn.Write(out); err != nil {
			return RetSubmit{}, nil, err
		}
	}
	ret, data, err := ReadRetSubmit(c.conn, dir == DirIn)
	if err != nil {
		return ret, nil, err
	}
	if ret.Basic.Seqnum != c.seq {
		return ret, nil, fmt.Errorf("reply for urb %d, want %d", ret.Basic.Seqnum, c.seq)
	}
	return ret, data, nil
}

// Control runs a control transfer on EP0. The data direction follows the
// setup packet.
func (c *Conn) Control(setup usb.SetupPacket, out []byte) ([]byte, error) {
	dir := uint32(DirOut)
	if setup.IsIn() {
		dir = DirIn
		out = nil
	}
	ret, data, err := c.Submit(dir, 0, setup.Bytes(), out, uint32(setup.Length))
	if err != nil {
		return nil, err
	}
	switch ret.Status {
	case StatusOK:
		return data, nil
	case StatusEPIPE:
		return nil, ErrStalled
	default:
		return nil, &StatusError{Seqnum: ret.Basic.Seqnum, Status: ret.Status}
	}
}

// Unlink sends CMD_UNLINK for seqnum and returns the reply status.
func (c *Conn) Unlink(seqnum uint32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	cmd := CmdUnlink{
		Basic:        HeaderBasic{Command: CmdUnlinkCode, Seqnum: c.seq},
		UnlinkSeqnum: seqnum,
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	if err := cmd.Write(c.conn); err != nil {
		return 0, err
	}
	ret, err := ReadRetUnlink(c.conn)
	if err != nil {
		return 0, err
	}
	return ret.Status, nil
}
