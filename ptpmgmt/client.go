// SPDX-License-Identifier: GPL-3.0-or-later

package ptpmgmt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rbmk-project/isochron/errclass"
)

// DefaultTimeout is the default time to wait for a response.
const DefaultTimeout = time.Second

// maxMessageSize bounds the size of a response.
const maxMessageSize = 1500

// Client queries ptp4l through its management socket.
//
// Construct using [NewClient] or by filling the fields. A [*Client]
// serializes its queries so it is safe for concurrent use.
type Client struct {
	// Conn is the mandatory datagram connection to the daemon. When it
	// implements SetReadDeadline, we use it to enforce Timeout.
	Conn io.ReadWriter

	// Domain is the PTP domain number.
	Domain uint8

	// Identity is the source port identity. When zero, we derive one
	// from the process id.
	Identity PortIdentity

	// Logger is the optional structured logger.
	Logger *slog.Logger

	// TimeNow is the optional function returning the current time.
	TimeNow func() time.Time

	// Timeout is the optional response timeout; zero means [DefaultTimeout].
	Timeout time.Duration

	mu  sync.Mutex
	seq uint16
}

// NewClient creates a [*Client] for the given connection and domain.
func NewClient(conn io.ReadWriter, domain uint8) *Client {
	return &Client{Conn: conn, Domain: domain}
}

func (c *Client) timeNow() time.Time {
	if c.TimeNow != nil {
		return c.TimeNow()
	}
	return time.Now()
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) identity() PortIdentity {
	if c.Identity != (PortIdentity{}) {
		return c.Identity
	}
	pid := os.Getpid()
	var id PortIdentity
	id.ClockIdentity[6] = byte(pid >> 24)
	id.ClockIdentity[7] = byte(pid >> 16)
	id.PortNumber = uint16(pid)
	return id
}

// readDeadliner is implemented by connections supporting read deadlines.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Get sends a GET for the given dataset and returns the response data.
func (c *Client) Get(ctx context.Context, target PortIdentity, id ManagementID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	seq := c.seq

	t0 := c.timeNow()
	if c.Logger != nil {
		c.Logger.DebugContext(
			ctx,
			"ptpQueryStart",
			slog.String("managementId", id.String()),
			slog.Int("sequenceId", int(seq)),
			slog.String("target", target.String()),
			slog.Time("t", t0),
		)
	}

	data, err := c.get(ctx, seq, target, id)

	if c.Logger != nil {
		c.Logger.DebugContext(
			ctx,
			"ptpQueryDone",
			slog.Int("dataLength", len(data)),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("managementId", id.String()),
			slog.Int("sequenceId", int(seq)),
			slog.String("target", target.String()),
			slog.Time("t0", t0),
			slog.Time("t", c.timeNow()),
		)
	}
	return data, err
}

func (c *Client) get(ctx context.Context, seq uint16, target PortIdentity, id ManagementID) ([]byte, error) {
	req := &Request{
		Sequence: seq,
		Domain:   c.Domain,
		Source:   c.identity(),
		Target:   target,
		Action:   ActionGet,
		ID:       id,
	}
	msg, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if rd, ok := c.Conn.(readDeadliner); ok {
		deadline := c.timeNow().Add(c.timeout())
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := rd.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %w", errclass.ErrQuery, err)
		}
		defer rd.SetReadDeadline(time.Time{})
	}

	if _, err := c.Conn.Write(msg); err != nil {
		return nil, fmt.Errorf("%w: sending %s: %w", errclass.ErrQuery, id, err)
	}

	buf := make([]byte, maxMessageSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.Conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: waiting for %s: %w", errclass.ErrQuery, id, err)
		}
		resp, err := ParseResponse(buf[:n])
		if err != nil {
			return nil, err
		}
		if resp.Sequence != seq || resp.Action != ActionResponse || resp.ID != id {
			if c.Logger != nil {
				c.Logger.DebugContext(
					ctx,
					"ptpQuerySkip",
					slog.Int("action", int(resp.Action)),
					slog.String("managementId", resp.ID.String()),
					slog.Int("sequenceId", int(resp.Sequence)),
				)
			}
			continue
		}
		if resp.Status != nil {
			return nil, resp.Status
		}
		return resp.Data, nil
	}
}

// DefaultDataSet returns the DEFAULT_DATA_SET of the clock.
func (c *Client) DefaultDataSet(ctx context.Context) (*DefaultDataSet, error) {
	data, err := c.Get(ctx, AllPorts, MIDDefaultDataSet)
	if err != nil {
		return nil, err
	}
	return parseDefaultDataSet(data)
}

// TimePropertiesDataSet returns the TIME_PROPERTIES_DATA_SET of the clock.
func (c *Client) TimePropertiesDataSet(ctx context.Context) (*TimePropertiesDataSet, error) {
	data, err := c.Get(ctx, AllPorts, MIDTimePropertiesDataSet)
	if err != nil {
		return nil, err
	}
	return parseTimePropertiesDataSet(data)
}

// TimeStatusNP returns the TIME_STATUS_NP of the clock.
func (c *Client) TimeStatusNP(ctx context.Context) (*TimeStatusNP, error) {
	data, err := c.Get(ctx, AllPorts, MIDTimeStatusNP)
	if err != nil {
		return nil, err
	}
	return parseTimeStatusNP(data)
}

// PortPropertiesNP returns the PORT_PROPERTIES_NP of the given port.
func (c *Client) PortPropertiesNP(ctx context.Context, port PortIdentity) (*PortPropertiesNP, error) {
	data, err := c.Get(ctx, port, MIDPortPropertiesNP)
	if err != nil {
		return nil, err
	}
	return parsePortPropertiesNP(data)
}

// PortDataSet returns the PORT_DATA_SET of the given port.
func (c *Client) PortDataSet(ctx context.Context, port PortIdentity) (*PortDataSet, error) {
	data, err := c.Get(ctx, port, MIDPortDataSet)
	if err != nil {
		return nil, err
	}
	return parsePortDataSet(data)
}
