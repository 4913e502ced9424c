//go:build linux

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Connections to the ptp4l management socket.
//

package netcore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/rbmk-project/isochron/errclass"
)

// DefaultManagementSocket is the default ptp4l management socket.
const DefaultManagementSocket = "/var/run/ptp4l"

// DialManagement connects a UNIX datagram socket to the daemon socket at
// path. The local socket lives next to path and is removed on Close.
func (nx *Network) DialManagement(ctx context.Context, path string) (net.Conn, error) {
	if path == "" {
		path = DefaultManagementSocket
	}
	local := filepath.Join(filepath.Dir(path), fmt.Sprintf("isochron.%d", os.Getpid()))
	laddr := &net.UnixAddr{Name: local, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: path, Net: "unixgram"}

	t0 := nx.timeNow()
	nx.emit(ctx, "connectStart",
		slog.String("localAddr", local),
		slog.String("protocol", "unixgram"),
		slog.String("remoteAddr", path),
		slog.Time("t", t0),
	)

	// a stale socket from a previous run would make bind fail
	if err := nx.remove(local); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", errclass.ErrResourceAcquisition, err)
	}
	conn, err := nx.dialUnix(ctx, laddr, raddr)

	nx.emit(ctx, "connectDone",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.String("localAddr", local),
		slog.String("protocol", "unixgram"),
		slog.String("remoteAddr", path),
		slog.Time("t0", t0),
		slog.Time("t", nx.timeNow()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errclass.ErrResourceAcquisition, err)
	}

	conn = &unlinkConn{Conn: conn, path: local, remove: nx.remove}
	return nx.maybeWrapConn(ctx, conn), nil
}

func (nx *Network) dialUnix(ctx context.Context, laddr, raddr *net.UnixAddr) (net.Conn, error) {
	if nx.DialUnixFunc != nil {
		return nx.DialUnixFunc(ctx, laddr, raddr)
	}
	dialer := &net.Dialer{LocalAddr: laddr}
	return dialer.DialContext(ctx, raddr.Net, raddr.Name)
}

func (nx *Network) remove(name string) error {
	if nx.RemoveFunc != nil {
		return nx.RemoveFunc(name)
	}
	return os.Remove(name)
}

// unlinkConn removes the bound socket path when closed.
type unlinkConn struct {
	net.Conn
	path   string
	remove func(name string) error
}

// Close implements [net.Conn].
func (c *unlinkConn) Close() error {
	err := c.Conn.Close()
	if rerr := c.remove(c.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	return err
}
