//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package txtstamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbmk-project/isochron/errclass"
	"golang.org/x/sys/unix"
)

// DefaultBufferSize is the default size of the packet buffer.
const DefaultBufferSize = 1600

// controlSize is the size of the ancillary data buffer.
const controlSize = 256

// Channel reads timestamps from a socket.
//
// The zero value is not ready to use; set at least Fd. A Channel
// is not safe for concurrent use.
type Channel struct {
	// Fd is the socket file descriptor.
	Fd int

	// Logger is the optional logger for diagnostics about unknown
	// or unusual control messages.
	Logger *slog.Logger

	// PollFunc is the optional function to poll the socket. If this
	// field is nil, we use [unix.Poll].
	PollFunc func(fds []unix.PollFd, timeout int) (int, error)

	// RecvmsgFunc is the optional function to receive a message. If
	// this field is nil, we use [unix.Recvmsg].
	RecvmsgFunc func(fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error)

	// BufferSize is the optional packet buffer size. If zero, we
	// use [DefaultBufferSize].
	BufferSize int

	// buf and oob are allocated by the first read and reused.
	buf []byte
	oob []byte
}

// ErrUnexpectedEvent indicates a wake up without a pending error.
var ErrUnexpectedEvent = errors.New("poll woke up on non-error event")

func (c *Channel) poll(fds []unix.PollFd, timeout int) (int, error) {
	if c.PollFunc != nil {
		return c.PollFunc(fds, timeout)
	}
	return unix.Poll(fds, timeout)
}

func (c *Channel) recvmsg(p, oob []byte, flags int) (int, int, int, error) {
	recv := unix.Recvmsg
	if c.RecvmsgFunc != nil {
		recv = c.RecvmsgFunc
	}
	n, oobn, recvflags, _, err := recv(c.Fd, p, oob, flags)
	return n, oobn, recvflags, err
}

// buffers returns the packet and control buffers.
func (c *Channel) buffers() ([]byte, []byte) {
	if c.buf == nil {
		size := c.BufferSize
		if size <= 0 {
			size = DefaultBufferSize
		}
		c.buf = make([]byte, size)
		c.oob = make([]byte, controlSize)
	}
	return c.buf, c.oob
}

// ReadTimestamp performs a single read from the socket.
//
// With errQueue false, it receives the next inbound frame along with
// its receive timestamps. With errQueue true, it waits up to timeout
// for an error queue event and then reads from the error queue.
//
// A nil record and a nil error mean that there was nothing to read,
// which is the "no timestamp yet" condition, not a failure. The
// context is only used for logging. The Packet of the returned record
// aliases a buffer that the next read overwrites.
func (c *Channel) ReadTimestamp(ctx context.Context, errQueue bool, timeout time.Duration) (*Record, error) {
	flags := 0
	if errQueue {
		ready, err := c.waitErrQueue(timeout)
		if err != nil || !ready {
			return nil, err
		}
		flags = unix.MSG_ERRQUEUE
	}

	buf, oob := c.buffers()
	n, oobn, recvflags, err := c.recvmsg(buf, oob, flags)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("recvmsg: %w", err)
	case recvflags&unix.MSG_CTRUNC != 0:
		return nil, fmt.Errorf("%w: control data truncated", errclass.ErrDecodeMalformed)
	case n <= 0 && oobn <= 0:
		return nil, nil
	}

	rec := &Record{Packet: buf[:max(n, 0)]}
	if err := ParseControl(ctx, oob[:oobn], rec, c.Logger); err != nil {
		return nil, err
	}
	return rec, nil
}

// waitErrQueue waits for a POLLPRI event on the socket.
func (c *Channel) waitErrQueue(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(c.Fd), Events: unix.POLLPRI}}
	for {
		n, err := c.poll(fds, int(timeout.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll for tx timestamp: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&unix.POLLPRI == 0 {
			return false, fmt.Errorf("%w: revents %#x", ErrUnexpectedEvent, fds[0].Revents)
		}
		return true, nil
	}
}
