//go:build linux

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Definition of Network.
//

package netcore

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/rbmk-project/isochron/txtstamp"
	"golang.org/x/sys/unix"
)

// Network allows opening and observing packet sockets and management
// connections.
//
// The zero value is ready to use.
//
// A [*Network] is safe for concurrent use by multiple goroutines as long as
// you don't modify its fields after construction and the underlying fields you
// may set (e.g., SocketFunc) are also safe.
type Network struct {
	// SocketFunc is the optional function to create a socket. If this
	// field is nil, we use [unix.Socket].
	SocketFunc func(domain, typ, proto int) (int, error)

	// SetsockoptIntFunc is the optional function to set integer socket
	// options. If this field is nil, we use [unix.SetsockoptInt].
	SetsockoptIntFunc func(fd, level, opt, value int) error

	// SetTxTimeFunc is the optional function to enable SO_TXTIME on a
	// socket. If this field is nil, we use the setsockopt system call.
	SetTxTimeFunc func(fd int, clockid int32) error

	// SetReadTimeoutFunc is the optional function to set SO_RCVTIMEO. If
	// this field is nil, we use [unix.SetsockoptTimeval].
	SetReadTimeoutFunc func(fd int, timeout time.Duration) error

	// BindFunc is the optional function to bind a socket. If this field
	// is nil, we use [unix.Bind].
	BindFunc func(fd int, sa *unix.SockaddrLinklayer) error

	// SendmsgFunc is the optional function to send a message. If this
	// field is nil, we use [unix.SendmsgN].
	SendmsgFunc func(fd int, p, oob []byte, to *unix.SockaddrLinklayer, flags int) (int, error)

	// CloseFunc is the optional function to close a socket. If this
	// field is nil, we use [unix.Close].
	CloseFunc func(fd int) error

	// InterfaceByName is the optional function to look up an interface.
	// If this field is nil, we use [net.InterfaceByName].
	InterfaceByName func(name string) (*net.Interface, error)

	// DialUnixFunc is the optional function to create a UNIX datagram
	// connection bound to laddr. If this field is nil, we use a
	// [*net.Dialer] with LocalAddr set.
	DialUnixFunc func(ctx context.Context, laddr, raddr *net.UnixAddr) (net.Conn, error)

	// RemoveFunc is the optional function to remove a file. If this field
	// is nil, we use [os.Remove].
	RemoveFunc func(name string) error

	// Arm is the optional [*txtstamp.Arm] used to enable timestamping. If
	// this field is nil, we use the real system calls.
	Arm *txtstamp.Arm

	// Logger is the optional structured logger for emitting
	// structured diagnostic events. If this field is nil, we
	// will not be emitting structured logs.
	Logger *slog.Logger

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time

	// WrapConn is an optional function to wrap a connection to emit
	// structured logs. [WrapConn] is the default wrapper to use.
	WrapConn func(ctx context.Context, netx *Network, conn net.Conn) net.Conn
}

// DefaultNetwork is the default [*Network] used by this package.
var DefaultNetwork = &Network{}

// timeNow is a function that returns the current time.
func (nx *Network) timeNow() time.Time {
	if nx.TimeNow != nil {
		return nx.TimeNow()
	}
	return time.Now()
}

// emit emits a structured log event when a logger is configured.
func (nx *Network) emit(ctx context.Context, msg string, attrs ...slog.Attr) {
	if nx.Logger != nil {
		nx.Logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
}
