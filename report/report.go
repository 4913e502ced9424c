// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package report joins the logs written by the send and rcv modes and
computes per-frame latencies.

A frame is identified by its sequence id and scheduled departure time,
which the receiver reads back from the frame itself. The path delay of
a frame is the receive hardware timestamp minus its scheduled time.
*/
package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/nstime"
)

// Entry is a parsed log line.
type Entry struct {
	Scheduled int64
	SeqID     uint16

	// Timestamped tells whether Hardware and Software are set.
	Timestamped bool
	Hardware    int64
	Software    int64
}

// ParseLine parses a send or rcv log line.
func ParseLine(line string) (Entry, error) {
	var entry Entry
	fields := strings.Fields(line)
	if len(fields) != 3 && len(fields) != 7 {
		return entry, fmt.Errorf("%w: %d fields", errclass.ErrDecodeMalformed, len(fields))
	}
	sched := fields[0]
	if len(sched) < 2 || sched[0] != '[' || sched[len(sched)-1] != ']' {
		return entry, fmt.Errorf("%w: scheduled time %q", errclass.ErrDecodeMalformed, sched)
	}
	var err error
	if entry.Scheduled, err = nstime.Parse(sched[1 : len(sched)-1]); err != nil {
		return entry, fmt.Errorf("%w: %w", errclass.ErrDecodeMalformed, err)
	}
	if fields[1] != "seqid" {
		return entry, fmt.Errorf("%w: expected seqid, got %q", errclass.ErrDecodeMalformed, fields[1])
	}
	seqid, err := strconv.ParseUint(fields[2], 10, 16)
	if err != nil {
		return entry, fmt.Errorf("%w: %w", errclass.ErrDecodeMalformed, err)
	}
	entry.SeqID = uint16(seqid)
	if len(fields) == 3 {
		return entry, nil
	}

	if (fields[3] != "txtstamp" && fields[3] != "rxtstamp") || fields[5] != "swts" {
		return entry, fmt.Errorf("%w: unexpected keys %q and %q",
			errclass.ErrDecodeMalformed, fields[3], fields[5])
	}
	if entry.Hardware, err = nstime.Parse(fields[4]); err != nil {
		return entry, fmt.Errorf("%w: %w", errclass.ErrDecodeMalformed, err)
	}
	if entry.Software, err = nstime.Parse(fields[6]); err != nil {
		return entry, fmt.Errorf("%w: %w", errclass.ErrDecodeMalformed, err)
	}
	entry.Timestamped = true
	return entry, nil
}

// ParseLog parses a log, skipping blank lines.
func ParseLog(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Frame is a sent frame joined with its reception, if any.
type Frame struct {
	SeqID     uint16
	Scheduled int64

	// TxHardware is the transmit hardware timestamp, or zero.
	TxHardware int64

	// Received tells whether the frame was received.
	Received bool

	// RxHardware is the receive hardware timestamp, or zero.
	RxHardware int64

	// PathDelay is RxHardware minus Scheduled, when both are known.
	PathDelay int64
	HasDelay  bool
}

// Summary aggregates the path delays.
type Summary struct {
	Sent     int
	Received int
	Lost     int

	// Min, Max and Mean are in nanoseconds over the frames with a delay.
	Min  int64
	Max  int64
	Mean float64
}

type key struct {
	seqid     uint16
	scheduled int64
}

// Join matches each sent entry with the received entry having the same
// sequence id and scheduled time.
func Join(sent, received []Entry) ([]Frame, Summary) {
	rx := make(map[key]Entry, len(received))
	for _, entry := range received {
		rx[key{entry.SeqID, entry.Scheduled}] = entry
	}

	frames := make([]Frame, 0, len(sent))
	summary := Summary{Sent: len(sent), Min: math.MaxInt64, Max: math.MinInt64}
	var total float64
	var delays int
	for _, tx := range sent {
		frame := Frame{SeqID: tx.SeqID, Scheduled: tx.Scheduled, TxHardware: tx.Hardware}
		if entry, found := rx[key{tx.SeqID, tx.Scheduled}]; found {
			frame.Received = true
			summary.Received++
			if entry.Timestamped {
				frame.RxHardware = entry.Hardware
				frame.PathDelay = entry.Hardware - tx.Scheduled
				frame.HasDelay = true
				summary.Min = min(summary.Min, frame.PathDelay)
				summary.Max = max(summary.Max, frame.PathDelay)
				total += float64(frame.PathDelay)
				delays++
			}
		}
		frames = append(frames, frame)
	}
	summary.Lost = summary.Sent - summary.Received
	if delays > 0 {
		summary.Mean = total / float64(delays)
	} else {
		summary.Min, summary.Max = 0, 0
	}
	return frames, summary
}

// Write prints the frames and the summary.
func Write(w io.Writer, frames []Frame, summary Summary) error {
	bw := bufio.NewWriter(w)
	for _, f := range frames {
		switch {
		case !f.Received:
			fmt.Fprintf(bw, "seqid %d scheduled %s lost\n", f.SeqID, nstime.Format(f.Scheduled))
		case f.HasDelay:
			fmt.Fprintf(bw, "seqid %d scheduled %s rxtstamp %s path delay %d ns\n",
				f.SeqID, nstime.Format(f.Scheduled), nstime.Format(f.RxHardware), f.PathDelay)
		default:
			fmt.Fprintf(bw, "seqid %d scheduled %s received\n", f.SeqID, nstime.Format(f.Scheduled))
		}
	}
	fmt.Fprintf(bw, "sent %d received %d lost %d\n", summary.Sent, summary.Received, summary.Lost)
	fmt.Fprintf(bw, "path delay min %d ns max %d ns mean %.0f ns\n", summary.Min, summary.Max, summary.Mean)
	return bw.Flush()
}
