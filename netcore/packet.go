//go:build linux

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Raw packet sockets.
//

package netcore

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/txtstamp"
	"golang.org/x/sys/unix"
)

// txtimeReportErrors is SOF_TXTIME_REPORT_ERRORS.
const txtimeReportErrors = 1 << 1

// PacketConfig configures [*Network.OpenPacket].
type PacketConfig struct {
	// Interface is the mandatory interface name.
	Interface string

	// Priority is the SO_PRIORITY of outgoing frames.
	Priority int

	// Receive binds the socket to Interface so that it receives the
	// frames matching Protocol.
	Receive bool

	// Protocol is the ethertype to receive. Zero means all.
	Protocol uint16

	// ReadTimeout bounds each receive. Zero means no timeout.
	ReadTimeout time.Duration

	// TxTime enables SO_TXTIME with TxTimeClock as the reference.
	TxTime      bool
	TxTimeClock int32
}

// htons converts a short to network byte order.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// PacketConn is a raw AF_PACKET socket bound to an interface.
type PacketConn struct {
	channel   *txtstamp.Channel
	closeonce sync.Once
	ctx       context.Context // only used for logging
	fd        int
	hwaddr    net.HardwareAddr
	ifindex   int
	ifname    string
	netx      *Network
	oob       []byte
	sa        unix.SockaddrLinklayer
	txtime    bool
}

// OpenPacket opens a raw packet socket as described by cfg.
func (nx *Network) OpenPacket(ctx context.Context, cfg PacketConfig) (*PacketConn, error) {
	t0 := nx.timeNow()
	nx.emit(ctx, "openPacketStart",
		slog.String("interface", cfg.Interface),
		slog.Int("priority", cfg.Priority),
		slog.Bool("receive", cfg.Receive),
		slog.Bool("txtime", cfg.TxTime),
		slog.Time("t", t0),
	)

	conn, err := nx.openPacket(ctx, cfg)

	nx.emit(ctx, "openPacketDone",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.String("interface", cfg.Interface),
		slog.Time("t0", t0),
		slog.Time("t", nx.timeNow()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errclass.ErrResourceAcquisition, err)
	}
	return conn, nil
}

func (nx *Network) openPacket(ctx context.Context, cfg PacketConfig) (*PacketConn, error) {
	ifi, err := nx.interfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", cfg.Interface, err)
	}

	proto := 0
	if cfg.Receive {
		proto = unix.ETH_P_ALL
		if cfg.Protocol != 0 {
			proto = int(cfg.Protocol)
		}
	}
	fd, err := nx.socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(uint16(proto))))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	conn := &PacketConn{
		ctx:     ctx,
		fd:      fd,
		hwaddr:  ifi.HardwareAddr,
		ifindex: ifi.Index,
		ifname:  ifi.Name,
		netx:    nx,
		sa: unix.SockaddrLinklayer{
			Protocol: htons(uint16(proto)),
			Ifindex:  ifi.Index,
			Halen:    6,
		},
		txtime: cfg.TxTime,
	}
	conn.channel = &txtstamp.Channel{Fd: fd, Logger: nx.Logger}

	if err := nx.setupPacket(conn, cfg); err != nil {
		nx.closeFd(fd)
		return nil, err
	}
	return conn, nil
}

func (nx *Network) setupPacket(conn *PacketConn, cfg PacketConfig) error {
	if err := nx.setsockoptInt(conn.fd, unix.SOL_SOCKET, unix.SO_PRIORITY, cfg.Priority); err != nil {
		return fmt.Errorf("setsockopt SO_PRIORITY: %w", err)
	}
	if cfg.Receive {
		if err := nx.bind(conn.fd, &conn.sa); err != nil {
			return fmt.Errorf("bind to %s: %w", cfg.Interface, err)
		}
	}
	if cfg.ReadTimeout > 0 {
		if err := nx.setReadTimeout(conn.fd, cfg.ReadTimeout); err != nil {
			return fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
		}
	}
	if cfg.TxTime {
		if err := nx.setTxTime(conn.fd, cfg.TxTimeClock); err != nil {
			return fmt.Errorf("setsockopt SO_TXTIME: %w", err)
		}
		conn.oob = make([]byte, unix.CmsgSpace(8))
		h := (*unix.Cmsghdr)(unsafe.Pointer(&conn.oob[0]))
		h.Level = unix.SOL_SOCKET
		h.Type = unix.SCM_TXTIME
		h.SetLen(unix.CmsgLen(8))
	}
	return nil
}

func (nx *Network) interfaceByName(name string) (*net.Interface, error) {
	if nx.InterfaceByName != nil {
		return nx.InterfaceByName(name)
	}
	return net.InterfaceByName(name)
}

func (nx *Network) socket(domain, typ, proto int) (int, error) {
	if nx.SocketFunc != nil {
		return nx.SocketFunc(domain, typ, proto)
	}
	return unix.Socket(domain, typ, proto)
}

func (nx *Network) setsockoptInt(fd, level, opt, value int) error {
	if nx.SetsockoptIntFunc != nil {
		return nx.SetsockoptIntFunc(fd, level, opt, value)
	}
	return unix.SetsockoptInt(fd, level, opt, value)
}

func (nx *Network) bind(fd int, sa *unix.SockaddrLinklayer) error {
	if nx.BindFunc != nil {
		return nx.BindFunc(fd, sa)
	}
	return unix.Bind(fd, sa)
}

func (nx *Network) setReadTimeout(fd int, timeout time.Duration) error {
	if nx.SetReadTimeoutFunc != nil {
		return nx.SetReadTimeoutFunc(fd, timeout)
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// sockTxtime is struct sock_txtime.
type sockTxtime struct {
	clockid int32
	flags   uint32
}

func (nx *Network) setTxTime(fd int, clockid int32) error {
	if nx.SetTxTimeFunc != nil {
		return nx.SetTxTimeFunc(fd, clockid)
	}
	st := sockTxtime{clockid: clockid, flags: txtimeReportErrors}
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), unix.SOL_SOCKET,
		unix.SO_TXTIME, uintptr(unsafe.Pointer(&st)), unsafe.Sizeof(st), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (nx *Network) sendmsg(fd int, p, oob []byte, to *unix.SockaddrLinklayer) (int, error) {
	if nx.SendmsgFunc != nil {
		return nx.SendmsgFunc(fd, p, oob, to, 0)
	}
	return unix.SendmsgN(fd, p, oob, to, 0)
}

func (nx *Network) closeFd(fd int) error {
	if nx.CloseFunc != nil {
		return nx.CloseFunc(fd)
	}
	return unix.Close(fd)
}

// Fd returns the socket file descriptor.
func (c *PacketConn) Fd() int {
	return c.fd
}

// Interface returns the interface name.
func (c *PacketConn) Interface() string {
	return c.ifname
}

// HardwareAddr returns the hardware address of the interface.
func (c *PacketConn) HardwareAddr() net.HardwareAddr {
	return c.hwaddr
}

// Send transmits a frame to the destination address it carries. A
// nonzero txtime is attached as SCM_TXTIME when SO_TXTIME is enabled.
func (c *PacketConn) Send(data []byte, txtime int64) error {
	if len(data) < 6 {
		return fmt.Errorf("%w: frame too short", errclass.ErrConfigInvalid)
	}
	copy(c.sa.Addr[:6], data[:6])
	var oob []byte
	if c.txtime && txtime != 0 {
		binary.NativeEndian.PutUint64(c.oob[unix.CmsgLen(0):], uint64(txtime))
		oob = c.oob
	}
	n, err := c.netx.sendmsg(c.fd, data, oob, &c.sa)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

// ReadTimestamp reads a frame or an error queue record. See
// [*txtstamp.Channel.ReadTimestamp] for the semantics.
func (c *PacketConn) ReadTimestamp(ctx context.Context, errQueue bool, timeout time.Duration) (*txtstamp.Record, error) {
	return c.channel.ReadTimestamp(ctx, errQueue, timeout)
}

// EnableTimestamping arms hardware and software timestamping after
// warning about the capabilities the driver lacks.
func (c *PacketConn) EnableTimestamping(ctx context.Context) error {
	arm := c.netx.Arm
	if arm == nil {
		arm = &txtstamp.Arm{Logger: c.netx.Logger}
	}
	if _, err := arm.ValidateInfo(ctx, c.ifname); err != nil {
		return err
	}
	return arm.Enable(ctx, c.fd, c.ifname)
}

// Close closes the socket.
func (c *PacketConn) Close() (err error) {
	c.closeonce.Do(func() {
		t0 := c.netx.timeNow()
		c.netx.emit(c.ctx, "closeStart",
			slog.String("interface", c.ifname),
			slog.String("protocol", "packet"),
			slog.Time("t", t0),
		)

		err = c.netx.closeFd(c.fd)

		c.netx.emit(c.ctx, "closeDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("interface", c.ifname),
			slog.String("protocol", "packet"),
			slog.Time("t0", t0),
			slog.Time("t", c.netx.timeNow()),
		)
	})
	return
}
