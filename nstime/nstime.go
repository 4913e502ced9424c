// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package nstime converts between kernel time representations and
signed 64-bit nanosecond counts.

All instants handled by the traffic generator are plain int64
nanosecond counts on a given clock. This package converts them to
and from the two-field (seconds, nanoseconds) representation used by
the kernel, formats them for log lines, and computes cycle boundaries.
*/
package nstime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Second is one second expressed in nanoseconds.
const Second int64 = 1_000_000_000

// Timespec is a (seconds, nanoseconds) pair.
//
// Nsec is always non-negative when produced by [ToTimespec].
type Timespec struct {
	Sec  int64
	Nsec int64
}

// FromTimespec converts a kernel timespec to nanoseconds.
func FromTimespec(ts unix.Timespec) int64 {
	return int64(ts.Sec)*Second + int64(ts.Nsec)
}

// ToTimespec converts nanoseconds to a [Timespec].
//
// The fractional part is the absolute value of the remainder, so that
// printed negative instants never show a negative fractional part.
func ToTimespec(ns int64) Timespec {
	rem := ns % Second
	if rem < 0 {
		rem = -rem
	}
	return Timespec{Sec: ns / Second, Nsec: rem}
}

// Unix returns the kernel representation of ts.
func (ts Timespec) Unix() unix.Timespec {
	return unix.NsecToTimespec(ts.Sec*Second + ts.Nsec)
}

// Format formats ns as seconds.nanoseconds with nine fractional digits.
func Format(ns int64) string {
	ts := ToTimespec(ns)
	return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec)
}

// ErrSyntax indicates a string that [Parse] cannot parse.
var ErrSyntax = errors.New("invalid seconds.nanoseconds value")

// Parse parses the output of [Format]. A leading minus sign applies to
// the whole value; since Format drops the sign of instants between
// minus one second and zero, those parse back as positive.
func Parse(s string) (int64, error) {
	whole, frac, found := strings.Cut(s, ".")
	if !found || len(frac) != 9 {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	nsec, err := strconv.ParseUint(frac, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if strings.HasPrefix(whole, "-") {
		return sec*Second - int64(nsec), nil
	}
	return sec*Second + int64(nsec), nil
}

// WindForward returns the first instant at or after now that is
// congruent to base modulo cycle.
//
// When base is already at or after now, base is returned unchanged.
// The cycle must be positive.
func WindForward(base, cycle, now int64) int64 {
	if base >= now {
		return base
	}
	n := (now - base) / cycle
	return base + (n+1)*cycle
}
