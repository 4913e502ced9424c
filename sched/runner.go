// SPDX-License-Identifier: GPL-3.0-or-later

package sched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/frame"
	"github.com/rbmk-project/isochron/logbuf"
	"github.com/rbmk-project/isochron/nstime"
	"github.com/rbmk-project/isochron/txtstamp"
)

// DefaultDrainTimeout is the default per-read timeout while draining.
const DefaultDrainTimeout = 10 * time.Millisecond

// Clock is the clock driving the schedule.
type Clock interface {
	// Now returns the current time in nanoseconds.
	Now() (int64, error)

	// SleepUntil sleeps until the given absolute time. It returns an
	// error wrapping [syscall.EINTR] when interrupted by a signal.
	SleepUntil(ns int64) error
}

// Conn is the transmit socket.
type Conn interface {
	// Send transmits a frame. A nonzero txtime requests scheduled
	// transmission at that instant.
	Send(data []byte, txtime int64) error

	// ReadTimestamp reads from the socket error queue when errQueue
	// is true. A nil record with a nil error means no timestamp yet.
	ReadTimestamp(ctx context.Context, errQueue bool, timeout time.Duration) (*txtstamp.Record, error)
}

// Observer receives run events, e.g., to update metrics.
type Observer interface {
	FrameSent()
	TimestampReceived(rec *txtstamp.Record)
	WakeLateness(d time.Duration)
	Unacknowledged(n int64)
}

// Runner runs a [Schedule].
//
// Schedule, Frame, Conn and Clock are mandatory. The other fields are
// optional and their zero value selects a sensible default.
type Runner struct {
	// Schedule is the schedule to run.
	Schedule Schedule

	// Frame is the frame to stamp and send each cycle.
	Frame *frame.Frame

	// Conn is the transmit socket.
	Conn Conn

	// Clock is the clock used for sleeping.
	Clock Clock

	// Timestamping enables collecting transmit timestamps.
	Timestamping bool

	// TxTime enables passing the scheduled departure time to the
	// kernel with each frame.
	TxTime bool

	// DrainTimeout is the per-read timeout while draining. If zero,
	// we use [DefaultDrainTimeout].
	DrainTimeout time.Duration

	// LockMemoryFunc is the optional function locking the process
	// memory. If nil, we lock all current and future pages.
	LockMemoryFunc func() error

	// SetupFunc is the optional function called at the end of INIT,
	// typically to arm timestamping on the socket.
	SetupFunc func(ctx context.Context) error

	// Matcher correlates timestamps with frames. If nil, we use
	// a [*FIFOMatcher].
	Matcher Matcher

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
	// State is the final state.
	State State

	// FirstWake is the first wake instant.
	FirstWake int64

	// Sent is the number of frames sent.
	Sent int64

	// Timestamped is the number of frames whose timestamp arrived.
	Timestamped int64

	// Unmatched is the number of records not matching any frame.
	Unmatched int64

	// Malformed is the number of reads failing to decode while running.
	Malformed int64

	// Drops is the number of frames dropped by the kernel because of
	// their scheduled departure time.
	Drops int64

	// LinesDropped is the number of log lines lost to a full buffer.
	LinesDropped int
}

// DrainTimeoutError is returned when the drain phase times out.
type DrainTimeoutError struct {
	// Unacknowledged is the number of frames without timestamp.
	Unacknowledged int64
}

var _ error = &DrainTimeoutError{}

// Error implements error.
func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("%s: %d timestamps unacknowledged", errclass.ErrDrainTimeout, e.Unacknowledged)
}

// Unwrap returns [errclass.ErrDrainTimeout].
func (e *DrainTimeoutError) Unwrap() error {
	return errclass.ErrDrainTimeout
}

// run is the state of a single invocation of [*Runner.Run].
type run struct {
	*Runner
	ctx     context.Context // only used for logging
	log     *logbuf.Buffer
	matcher Matcher
	result  *Result
}

// Run runs the schedule. It always returns a non-nil [*Result].
//
// The context is only used for logging: a run cannot be canceled
// once started and ends after the configured iterations.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	rx := &run{Runner: r, ctx: ctx, result: &Result{}}
	err := rx.runStates()
	if rx.log != nil {
		if ferr := rx.flush(); err == nil {
			err = ferr
		}
	}
	if err != nil {
		rx.enter(StateError, slog.Any("err", err), slog.String("errClass", errclass.New(err)))
		return rx.result, err
	}
	rx.enter(StateDone)
	return rx.result, nil
}

func (rx *run) runStates() error {
	rx.enter(StateInit)
	if err := rx.init(); err != nil {
		return err
	}
	rx.enter(StateRunning)
	if err := rx.loop(); err != nil {
		return err
	}
	if !rx.Timestamping {
		return nil
	}
	rx.enter(StateDraining)
	return rx.drain()
}

func (rx *run) enter(state State, attrs ...slog.Attr) {
	rx.result.State = state
	if rx.Logger != nil {
		attrs = append(attrs,
			slog.String("state", state.String()),
			slog.Int64("sent", rx.result.Sent),
			slog.Int64("timestamped", rx.result.Timestamped),
		)
		rx.Logger.LogAttrs(rx.ctx, slog.LevelInfo, "schedState", attrs...)
	}
}

func (rx *run) init() error {
	s := rx.Schedule
	if err := s.Validate(); err != nil {
		return err
	}
	if rx.Frame == nil || rx.Conn == nil || rx.Clock == nil {
		return fmt.Errorf("%w: missing frame, socket or clock", errclass.ErrConfigInvalid)
	}

	now, err := rx.Clock.Now()
	if err != nil {
		return fmt.Errorf("%w: %w", errclass.ErrResourceAcquisition, err)
	}
	rx.result.FirstWake = s.FirstWake(now)
	if rx.Logger != nil {
		rx.Logger.InfoContext(rx.ctx, "schedInit",
			slog.String("now", nstime.Format(now)),
			slog.String("baseTime", nstime.Format(rx.result.FirstWake)),
			slog.String("cycleTime", nstime.Format(s.CycleTime)),
			slog.Bool("wound", rx.result.FirstWake != s.BaseTime+s.ShiftTime-s.AdvanceTime),
		)
	}

	rx.log = logbuf.New(rx.LogCapacity)
	rx.matcher = rx.Matcher
	if rx.matcher == nil {
		rx.matcher = &FIFOMatcher{}
	}

	lock := rx.LockMemoryFunc
	if lock == nil {
		lock = lockMemory
	}
	if err := lock(); err != nil {
		return fmt.Errorf("%w: mlockall: %w", errclass.ErrResourceAcquisition, err)
	}

	if rx.SetupFunc != nil {
		if err := rx.SetupFunc(rx.ctx); err != nil {
			return err
		}
	}
	return nil
}

func (rx *run) loop() error {
	s := rx.Schedule
	wake := rx.result.FirstWake
	for i := int64(1); i <= s.Iterations; {
		if err := rx.Clock.SleepUntil(wake); err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("clock_nanosleep: %w", err)
		}
		if rx.Observer != nil {
			if now, err := rx.Clock.Now(); err == nil {
				rx.Observer.WakeLateness(time.Duration(now - wake))
			}
		}
		if err := rx.work(i, wake+s.AdvanceTime); err != nil {
			return err
		}
		wake += s.CycleTime
		i++
	}
	return nil
}

// work stamps and sends the frame for iteration i.
func (rx *run) work(i, scheduled int64) error {
	seqid := uint16(i)
	rx.Frame.Stamp(scheduled, seqid)

	var txtime int64
	if rx.TxTime {
		txtime = scheduled
	}
	if err := rx.Conn.Send(rx.Frame.Bytes(), txtime); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	rx.result.Sent++
	if rx.Observer != nil {
		rx.Observer.FrameSent()
	}

	if !rx.Timestamping {
		rx.printf("[%s] seqid %d", nstime.Format(scheduled), seqid)
		return nil
	}
	rx.matcher.Sent(Pending{Index: i - 1, SeqID: seqid, Scheduled: scheduled})

	rec, err := rx.Conn.ReadTimestamp(rx.ctx, true, 0)
	switch {
	case errors.Is(err, errclass.ErrDecodeMalformed):
		rx.result.Malformed++
		if rx.Logger != nil {
			rx.Logger.WarnContext(rx.ctx, "timestampMalformed",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.Int("seqid", int(seqid)),
			)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read timestamp: %w", err)
	case rec == nil:
		return nil
	}
	rx.process(rec)
	return nil
}

func (rx *run) drain() error {
	timeout := rx.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	for rx.result.Timestamped < rx.Schedule.Iterations {
		rec, err := rx.Conn.ReadTimestamp(rx.ctx, true, timeout)
		if err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		if rec == nil {
			n := rx.Schedule.Iterations - rx.result.Timestamped
			if rx.Observer != nil {
				rx.Observer.Unacknowledged(n)
			}
			return &DrainTimeoutError{Unacknowledged: n}
		}
		rx.process(rec)
	}
	if rx.Observer != nil {
		rx.Observer.Unacknowledged(0)
	}
	return nil
}

// process logs a timestamp record and updates the counters.
func (rx *run) process(rec *txtstamp.Record) {
	p, ok := rx.matcher.Match(rec)
	if !ok {
		rx.result.Unmatched++
		if rx.Logger != nil {
			rx.Logger.WarnContext(rx.ctx, "timestampUnmatched",
				slog.Uint64("key", uint64(rec.Key)),
				slog.Bool("hasKey", rec.HasKey),
			)
		}
		return
	}
	if rec.Drop != txtstamp.DropNone {
		rx.result.Drops++
	}
	rx.printf("[%s] seqid %d txtstamp %s swts %s", nstime.Format(p.Scheduled), p.SeqID,
		nstime.Format(rec.Hardware), nstime.Format(rec.Software))
	rx.result.Timestamped++
	if rx.Observer != nil {
		rx.Observer.TimestampReceived(rec)
	}
}

func (rx *run) printf(format string, args ...any) {
	if err := rx.log.Printf(format, args...); err != nil {
		rx.result.LinesDropped++
	}
}

// flush writes the log buffer to the output and releases it.
func (rx *run) flush() error {
	out := rx.Output
	if out == nil {
		out = os.Stdout
	}
	if rx.result.LinesDropped > 0 && rx.Logger != nil {
		rx.Logger.WarnContext(rx.ctx, "logBufferFull",
			slog.Int("linesDropped", rx.result.LinesDropped),
		)
	}
	err := rx.log.Flush(out)
	rx.log = nil
	if err != nil {
		return fmt.Errorf("flush log: %w", err)
	}
	return nil
}
