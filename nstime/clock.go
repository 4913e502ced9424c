//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package nstime

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Clock is a kernel clock used for absolute-time sleeping.
//
// The zero value uses CLOCK_REALTIME.
type Clock struct {
	// ID is the kernel clock identifier (e.g., [unix.CLOCK_TAI]).
	ID int32
}

// ErrUnknownClock is returned by [ParseClock] for unsupported names.
var ErrUnknownClock = errors.New("unknown clock")

// ParseClock maps a clock name to a [Clock].
func ParseClock(name string) (Clock, error) {
	switch strings.ToUpper(name) {
	case "", "CLOCK_REALTIME", "REALTIME":
		return Clock{ID: unix.CLOCK_REALTIME}, nil
	case "CLOCK_TAI", "TAI":
		return Clock{ID: unix.CLOCK_TAI}, nil
	case "CLOCK_MONOTONIC", "MONOTONIC":
		return Clock{ID: unix.CLOCK_MONOTONIC}, nil
	default:
		return Clock{}, fmt.Errorf("%w: %q", ErrUnknownClock, name)
	}
}

// Now returns the current time on the clock in nanoseconds.
func (c Clock) Now() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(c.ID, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime: %w", err)
	}
	return FromTimespec(ts), nil
}

// SleepUntil sleeps until the absolute instant ns.
//
// A sleep interrupted by a signal returns [unix.EINTR] unwrapped, so
// the caller can retry the same instant.
func (c Clock) SleepUntil(ns int64) error {
	ts := unix.NsecToTimespec(ns)
	return unix.ClockNanosleep(c.ID, unix.TIMER_ABSTIME, &ts, nil)
}
