// SPDX-License-Identifier: GPL-3.0-or-later

// Package logbuf implements a bounded, append-only buffer of text
// lines that is filled while timing matters and flushed afterwards.
package logbuf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultCapacity is the default capacity in bytes.
const DefaultCapacity = 10 << 20

// ErrFull indicates that a line did not fit into the buffer.
var ErrFull = errors.New("log buffer full")

// Buffer is an append-only buffer of newline-terminated lines.
//
// The backing storage is allocated once by [New], so that appending
// does not allocate on the hot path. A [*Buffer] is not safe for
// concurrent use.
type Buffer struct {
	data    []byte
	dropped int
	lines   int
}

// New creates a [*Buffer] holding at most capacity bytes. A
// non-positive capacity selects [DefaultCapacity].
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Printf formats a line and appends it, adding the trailing newline
// when the format does not end with one. A line that would exceed the
// capacity is discarded and [ErrFull] is returned.
func (b *Buffer) Printf(format string, args ...any) error {
	mark := len(b.data)
	out := fmt.Appendf(b.data, format, args...)
	if len(out) == mark || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	if len(out) > cap(b.data) {
		b.data = b.data[:mark]
		b.dropped++
		return ErrFull
	}
	b.data = out
	b.lines++
	return nil
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	return b.lines
}

// Dropped returns the number of lines discarded because the buffer
// was full.
func (b *Buffer) Dropped() int {
	return b.dropped
}

// Lines returns a copy of the buffered lines, in order, without
// the trailing newlines.
func (b *Buffer) Lines() []string {
	out := make([]string, 0, b.lines)
	for _, line := range bytes.SplitAfter(b.data, []byte("\n")) {
		if len(line) > 0 {
			out = append(out, string(bytes.TrimSuffix(line, []byte("\n"))))
		}
	}
	return out
}

// Flush writes all the buffered lines to w and empties the buffer.
func (b *Buffer) Flush(w io.Writer) error {
	_, err := w.Write(b.data)
	b.data = b.data[:0]
	b.lines = 0
	return err
}
