// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package receiver implements the rcv mode: it reads the frames produced
by the send mode, together with their receive timestamps, and logs one
line per frame.

With timestamping the line format is

	[<txtime>] seqid <n> rxtstamp <hw> swts <sw>

and without it is

	[<txtime>] seqid <n>

where <txtime> is the departure time carried by the frame.
*/
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/frame"
	"github.com/rbmk-project/isochron/logbuf"
	"github.com/rbmk-project/isochron/nstime"
	"github.com/rbmk-project/isochron/txtstamp"
)

// Conn is the receive socket.
type Conn interface {
	// ReadTimestamp receives the next frame when errQueue is false. A nil
	// record with a nil error means that the read timed out.
	ReadTimestamp(ctx context.Context, errQueue bool, timeout time.Duration) (*txtstamp.Record, error)
}

// Observer receives run events, e.g., to update metrics.
type Observer interface {
	FrameReceived()
}

// Receiver receives frames until Count frames arrived or the context
// is done.
type Receiver struct {
	// Conn is the mandatory receive socket, configured with a read
	// timeout so that the context is checked periodically.
	Conn Conn

	// Count is the number of frames to receive. Zero means no limit.
	Count int64

	// Timestamping logs the receive timestamps.
	Timestamping bool

	// SetupFunc is the optional function arming timestamping.
	SetupFunc func(ctx context.Context) error

	// Observer is the optional [Observer].
	Observer Observer

	// Logger is the optional structured logger.
	Logger *slog.Logger

	// Output receives the flushed log lines. If nil, we use [os.Stdout].
	Output io.Writer

	// LogCapacity is the log buffer capacity in bytes. If zero, we
	// use [logbuf.DefaultCapacity].
	LogCapacity int
}

// Result summarizes a run.
type Result struct {
	// Received is the number of generated frames received.
	Received int64

	// Ignored is the number of other or malformed frames.
	Ignored int64

	// LinesDropped is the number of log lines lost to a full buffer.
	LinesDropped int
}

// Run receives frames. Cancelling ctx ends the run normally. The log
// lines are flushed before returning, even on failure.
func (r *Receiver) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	if r.Conn == nil {
		return result, fmt.Errorf("%w: missing socket", errclass.ErrConfigInvalid)
	}
	if r.SetupFunc != nil {
		if err := r.SetupFunc(ctx); err != nil {
			return result, err
		}
	}

	log := logbuf.New(r.LogCapacity)
	err := r.loop(ctx, log, result)

	output := r.Output
	if output == nil {
		output = os.Stdout
	}
	result.LinesDropped = log.Dropped()
	if ferr := log.Flush(output); err == nil {
		err = ferr
	}
	if r.Logger != nil {
		r.Logger.InfoContext(
			ctx,
			"receiveDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Int64("received", result.Received),
			slog.Int64("ignored", result.Ignored),
			slog.Int("linesDropped", result.LinesDropped),
		)
	}
	return result, err
}

func (r *Receiver) loop(ctx context.Context, log *logbuf.Buffer, result *Result) error {
	for r.Count == 0 || result.Received < r.Count {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := r.Conn.ReadTimestamp(ctx, false, 0)
		switch {
		case errors.Is(err, errclass.ErrDecodeMalformed):
			result.Ignored++
			continue
		case err != nil:
			return fmt.Errorf("receive: %w", err)
		case rec == nil:
			continue
		}

		hdr, err := frame.Parse(rec.Packet)
		if err != nil {
			result.Ignored++
			if r.Logger != nil {
				r.Logger.DebugContext(ctx, "frameIgnored",
					slog.Any("err", err),
					slog.String("errClass", errclass.New(err)),
				)
			}
			continue
		}
		result.Received++
		if r.Observer != nil {
			r.Observer.FrameReceived()
		}

		if r.Timestamping {
			err = log.Printf("[%s] seqid %d rxtstamp %s swts %s",
				nstime.Format(hdr.TxTime), hdr.SeqID,
				nstime.Format(rec.Hardware), nstime.Format(rec.Software))
		} else {
			err = log.Printf("[%s] seqid %d", nstime.Format(hdr.TxTime), hdr.SeqID)
		}
		if err != nil && r.Logger != nil && log.Dropped() == 1 {
			r.Logger.WarnContext(ctx, "logBufferFull", slog.Int("lines", log.Len()))
		}
	}
	return nil
}
