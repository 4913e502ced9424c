//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rbmk-project/common/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	localAddr  = &net.UnixAddr{Name: "/var/run/isochron.1234", Net: "unixgram"}
	remoteAddr = &net.UnixAddr{Name: "/var/run/ptp4l", Net: "unixgram"}
)

// ioConn overrides Read and Write of a [*mocks.Conn].
type ioConn struct {
	*mocks.Conn
	read  func([]byte) (int, error)
	write func([]byte) (int, error)
}

func (c *ioConn) Read(b []byte) (int, error)  { return c.read(b) }
func (c *ioConn) Write(b []byte) (int, error) { return c.write(b) }

// newJSONLogger returns a logger writing JSON lines without the time key.
func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// parseLogs parses the JSON lines in buf.
func parseLogs(t *testing.T, buf *bytes.Buffer) []map[string]any {
	var logs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		logs = append(logs, entry)
	}
	return logs
}

func TestConnLocalAddr(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		addr := connLocalAddr(nil)
		assert.Equal(t, "", addr.Network())
		assert.Equal(t, "", addr.String())
	})

	t.Run("nil local address", func(t *testing.T) {
		conn := &mocks.Conn{
			MockLocalAddr: func() net.Addr { return nil },
		}
		addr := connLocalAddr(conn)
		assert.Equal(t, "", addr.String())
	})

	t.Run("valid address", func(t *testing.T) {
		conn := &mocks.Conn{
			MockLocalAddr: func() net.Addr { return localAddr },
		}
		assert.Equal(t, localAddr, connLocalAddr(conn))
	})
}

func TestConnRemoteAddr(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		addr := connRemoteAddr(nil)
		assert.Equal(t, "", addr.Network())
	})

	t.Run("valid address", func(t *testing.T) {
		conn := &mocks.Conn{
			MockRemoteAddr: func() net.Addr { return remoteAddr },
		}
		assert.Equal(t, remoteAddr, connRemoteAddr(conn))
	})
}

func TestMaybeWrapConn(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		nx := &Network{}
		assert.Nil(t, nx.maybeWrapConn(context.Background(), nil))
	})

	t.Run("no logger configured", func(t *testing.T) {
		nx := &Network{WrapConn: WrapConn}
		conn := &mocks.Conn{}
		assert.Equal(t, conn, nx.maybeWrapConn(context.Background(), conn))
	})

	t.Run("full wrapping", func(t *testing.T) {
		nx := &Network{
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			WrapConn: WrapConn,
		}
		conn := &mocks.Conn{
			MockLocalAddr:  func() net.Addr { return localAddr },
			MockRemoteAddr: func() net.Addr { return remoteAddr },
		}
		wrapped := nx.maybeWrapConn(context.Background(), conn)
		require.IsType(t, &connWrapper{}, wrapped)
		cw := wrapped.(*connWrapper)
		assert.Equal(t, "unixgram", cw.protocol)
		assert.Equal(t, "/var/run/ptp4l", cw.raddr)
	})
}

func TestConnWrapper(t *testing.T) {
	fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	setup := func(conn net.Conn) (*bytes.Buffer, *connWrapper) {
		var buf bytes.Buffer
		nx := &Network{
			Logger:  newJSONLogger(&buf),
			TimeNow: func() time.Time { return fixedTime },
		}
		return &buf, WrapConn(context.Background(), nx, conn).(*connWrapper)
	}

	addrs := &mocks.Conn{
		MockLocalAddr:  func() net.Addr { return localAddr },
		MockRemoteAddr: func() net.Addr { return remoteAddr },
	}

	t.Run("Close emits events once", func(t *testing.T) {
		closeCount := 0
		addrs.MockClose = func() error {
			closeCount++
			return nil
		}
		buf, wrapper := setup(addrs)

		assert.NoError(t, wrapper.Close())
		assert.NoError(t, wrapper.Close())
		assert.Equal(t, 1, closeCount)

		logs := parseLogs(t, buf)
		require.Len(t, logs, 2)
		assert.Equal(t, map[string]any{
			"level":      "INFO",
			"msg":        "closeStart",
			"localAddr":  "/var/run/isochron.1234",
			"protocol":   "unixgram",
			"remoteAddr": "/var/run/ptp4l",
			"t":          fixedTime.Format(time.RFC3339Nano),
		}, logs[0])
		assert.Equal(t, map[string]any{
			"level":      "INFO",
			"msg":        "closeDone",
			"err":        nil,
			"errClass":   "",
			"localAddr":  "/var/run/isochron.1234",
			"protocol":   "unixgram",
			"remoteAddr": "/var/run/ptp4l",
			"t0":         fixedTime.Format(time.RFC3339Nano),
			"t":          fixedTime.Format(time.RFC3339Nano),
		}, logs[1])
	})

	t.Run("Read", func(t *testing.T) {
		conn := &ioConn{
			Conn: addrs,
			read: func(b []byte) (int, error) { return copy(b, "abc"), nil },
		}
		buf, wrapper := setup(conn)

		data := make([]byte, 16)
		count, err := wrapper.Read(data)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		logs := parseLogs(t, buf)
		require.Len(t, logs, 2)
		assert.Equal(t, "readStart", logs[0]["msg"])
		assert.Equal(t, float64(16), logs[0]["ioBufferSize"])
		assert.Equal(t, "readDone", logs[1]["msg"])
		assert.Equal(t, float64(3), logs[1]["ioBytesCount"])
	})

	t.Run("Write error", func(t *testing.T) {
		expectedErr := errors.New("mocked write error")
		conn := &ioConn{
			Conn:  addrs,
			write: func(b []byte) (int, error) { return 0, expectedErr },
		}
		buf, wrapper := setup(conn)

		_, err := wrapper.Write([]byte("hello"))
		assert.ErrorIs(t, err, expectedErr)

		logs := parseLogs(t, buf)
		require.Len(t, logs, 2)
		assert.Equal(t, "writeDone", logs[1]["msg"])
		assert.Equal(t, expectedErr.Error(), logs[1]["err"])
		assert.Equal(t, "EGENERIC", logs[1]["errClass"])
	})

	t.Run("no logger configured", func(t *testing.T) {
		wrapper := WrapConn(context.Background(), &Network{}, &mocks.Conn{
			MockClose:      func() error { return nil },
			MockLocalAddr:  func() net.Addr { return localAddr },
			MockRemoteAddr: func() net.Addr { return remoteAddr },
		})
		assert.NoError(t, wrapper.Close())
	})
}
