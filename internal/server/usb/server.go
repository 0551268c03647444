// Package usb serves exported devices over USB/IP.
package usb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/usbboot/usbboot/device"
	"github.com/usbboot/usbboot/internal/log"
	"github.com/usbboot/usbboot/usb"
	"github.com/usbboot/usbboot/usbip"
	"github.com/usbboot/usbboot/virtualbus"
)

// importStatusNoDevice is the OP_REP_IMPORT status for an unknown busid.
const importStatusNoDevice = 1

type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger
	bus       *virtualbus.VirtualBus

	mu        sync.Mutex
	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a server owning one virtual bus. A zero or taken BusID in
// config falls back to the next free bus number.
func New(config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 30 * time.Second
	}
	bus, err := virtualbus.NewWithBusID(config.BusID)
	if err != nil {
		bus = virtualbus.New()
		if config.BusID != 0 {
			logger.Warn("bus number unavailable, using next free", "requested", config.BusID, "bus", bus.BusID())
		}
	}
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		bus:       bus,
		ready:     make(chan struct{}),
	}
}

// Add exports dev. The returned context carries its export metadata.
func (s *Server) Add(dev usb.Device) (context.Context, error) {
	ctx, err := s.bus.Add(dev)
	if err != nil {
		return nil, err
	}
	d := dev.GetDescriptor().Device
	s.logger.Info("Device exported", "busid", device.GetDeviceMeta(ctx).BusIDString(),
		"vid", fmt.Sprintf("%04x", d.IDVendor), "pid", fmt.Sprintf("%04x", d.IDProduct))
	return ctx, nil
}

// Remove withdraws dev and closes its URB stream, if any.
func (s *Server) Remove(dev usb.Device) error { return s.bus.Remove(dev) }

// Devices lists the exported devices.
func (s *Server) Devices() []virtualbus.DeviceMeta { return s.bus.GetAllDeviceMetas() }

// Bus returns the server's bus.
func (s *Server) Bus() *virtualbus.VirtualBus { return s.bus }

// ListenAndServe accepts connections until Close is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("USB/IP server listening", "addr", ln.Addr().String(), "bus", s.bus.BusID())

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("USB/IP server stopped")
				return nil
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		s.logger.Debug("Client connected", "remote", c.RemoteAddr())
		go func() {
			if err := s.handleConn(c); err != nil {
				if isClientDisconnect(err) {
					s.logger.Info("Client disconnected", "remote", c.RemoteAddr(), "error", err)
				} else {
					s.logger.Error("Connection handler error", "remote", c.RemoteAddr(), "error", err)
				}
			}
		}()
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting and releases the bus. Open URB streams end.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	return errors.Join(err, s.bus.Close())
}

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()
	conn = &logConn{Conn: conn, raw: s.rawLogger}
	if err := conn.SetDeadline(time.Now().Add(s.config.ConnectionTimeout)); err != nil {
		s.logger.Warn("Failed to set deadline", "error", err)
	}

	h, err := usbip.ReadMgmtHeader(conn)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	switch h.Command {
	case usbip.OpReqDevlist:
		s.logger.Debug("OP_REQ_DEVLIST")
		return s.handleDevList(conn)
	case usbip.OpReqImport:
		dev, ctx, err := s.handleImport(conn)
		if err != nil {
			return fmt.Errorf("handle import: %w", err)
		}
		return s.handleUrbStream(ctx, conn, dev)
	default:
		return fmt.Errorf("protocol violation: unexpected op %#04x", h.Command)
	}
}

func exportRecord(meta usbip.ExportMeta, desc *usb.Descriptor) usbip.ExportedDevice {
	exp := usbip.ExportedDevice{
		ExportMeta: meta,
		DeviceInfo: usbip.DeviceInfo{
			Speed:               desc.Device.Speed,
			IDVendor:            desc.Device.IDVendor,
			IDProduct:           desc.Device.IDProduct,
			BcdDevice:           desc.Device.BcdDevice,
			BDeviceClass:        desc.Device.BDeviceClass,
			BDeviceSubClass:     desc.Device.BDeviceSubClass,
			BDeviceProtocol:     desc.Device.BDeviceProtocol,
			BConfigurationValue: desc.Config.BConfigurationValue,
			BNumConfigurations:  desc.Device.BNumConfigurations,
			BNumInterfaces:      uint8(len(desc.Interfaces)),
		},
	}
	for _, iface := range desc.Interfaces {
		exp.Interfaces = append(exp.Interfaces, usbip.InterfaceDesc{
			Class:    iface.Descriptor.BInterfaceClass,
			SubClass: iface.Descriptor.BInterfaceSubClass,
			Protocol: iface.Descriptor.BInterfaceProtocol,
		})
	}
	return exp
}

func (s *Server) handleDevList(conn net.Conn) error {
	metas := s.bus.GetAllDeviceMetas()
	var buf bytes.Buffer
	_ = (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepDevlist}).Write(&buf)
	_ = (&usbip.DevListReplyHeader{NDevices: uint32(len(metas))}).Write(&buf)
	for _, m := range metas {
		exp := exportRecord(m.Meta, m.Dev.GetDescriptor())
		_ = exp.WriteDevlist(&buf)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write devlist: %w", err)
	}
	return nil
}

func (s *Server) handleImport(conn net.Conn) (usb.Device, context.Context, error) {
	busID, err := usbip.ReadImportRequest(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("read import busid: %w", err)
	}
	s.logger.Info("Import request", "busid", busID)

	m, ctx, ok := s.bus.Lookup(busID)
	if !ok {
		rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport, Status: importStatusNoDevice}
		_ = rep.Write(conn)
		return nil, nil, fmt.Errorf("no device matches busid %q", busID)
	}
	dev := m.Dev

	var buf bytes.Buffer
	_ = (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport}).Write(&buf)
	exp := exportRecord(m.Meta, dev.GetDescriptor())
	_ = exp.WriteImport(&buf)
	// The attaching host starts enumeration from a freshly reset device.
	dev.Reset()
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, nil, fmt.Errorf("write import reply: %w", err)
	}
	return dev, ctx, nil
}

type logConn struct {
	net.Conn
	raw log.RawLogger
}

func (lc *logConn) Read(p []byte) (int, error) {
	n, err := lc.Conn.Read(p)
	if n > 0 && lc.raw != nil {
		lc.raw.Log(true, p[:n])
	}
	return n, err
}

func (lc *logConn) Write(p []byte) (int, error) {
	n, err := lc.Conn.Write(p)
	if n > 0 && lc.raw != nil {
		lc.raw.Log(false, p[:n])
	}
	return n, err
}

func (s *Server) handleUrbStream(ctx context.Context, conn net.Conn, dev usb.Device) error {
	_ = conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		urb, err := usbip.ReadURB(conn)
		if ctx.Err() != nil {
			s.logger.Info("Device removed, closing URB stream")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read URB: %w", err)
		}

		if u := urb.Unlink; u != nil {
			// Submits complete before the next command is read, so the
			// target has always been given back already.
			s.logger.Debug("USBIP_CMD_UNLINK", "seq", u.Basic.Seqnum, "unlink", u.UnlinkSeqnum)
			ret := usbip.RetUnlink{
				Basic:  usbip.HeaderBasic{Command: usbip.RetUnlinkCode, Seqnum: u.Basic.Seqnum},
				Status: usbip.StatusConnReset,
			}
			if err := ret.Write(conn); err != nil {
				return fmt.Errorf("write RET_UNLINK: %w", err)
			}
			continue
		}

		cmd := urb.Submit
		status, data := s.processSubmit(dev, cmd, urb.Payload)
		ret := usbip.RetSubmit{
			Basic:  usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: cmd.Basic.Seqnum},
			Status: status,
		}
		if cmd.Basic.Dir == usbip.DirIn {
			ret.ActualLength = uint32(len(data))
		} else if status == usbip.StatusOK {
			ret.ActualLength = uint32(len(urb.Payload))
		}

		var out bytes.Buffer
		_ = ret.Write(&out)
		if cmd.Basic.Dir == usbip.DirIn {
			out.Write(data)
		}
		if _, err := conn.Write(out.Bytes()); err != nil {
			return fmt.Errorf("write RET_SUBMIT: %w", err)
		}
	}
}

// processSubmit runs one submit against dev and returns the URB status and
// IN data.
func (s *Server) processSubmit(dev usb.Device, cmd *usbip.CmdSubmit, out []byte) (int32, []byte) {
	seq := cmd.Basic.Seqnum
	if cmd.Basic.Ep != 0 {
		data, err := dev.HandleTransfer(cmd.Basic.Ep, cmd.Basic.Dir, out)
		if err != nil {
			s.logger.Debug("Transfer failed", "seq", seq, "ep", cmd.Basic.Ep, "error", err)
			return usbip.StatusEPIPE, nil
		}
		return usbip.StatusOK, clip(data, cmd.TransferBufferLen)
	}

	var setup usb.SetupPacket
	if err := usb.ParseSetup(cmd.Setup[:], &setup); err != nil {
		return usbip.StatusEPIPE, nil
	}
	data, err := dev.Control(setup, out)
	if err != nil {
		s.logger.Debug("Control transfer stalled", "seq", seq, "setup", setup.String(), "error", err)
		return usbip.StatusEPIPE, nil
	}
	s.logger.Debug("Control transfer", "seq", seq, "request", usb.RequestName(setup.Request), "setup", setup.String(), "len", len(data))
	return usbip.StatusOK, clip(data, cmd.TransferBufferLen)
}

func clip(b []byte, n uint32) []byte {
	if uint32(len(b)) > n {
		return b[:n]
	}
	return b
}

// isClientDisconnect reports whether err is an ordinary peer disconnect.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "connection reset by peer") || strings.Contains(e, "forcibly closed")
}
