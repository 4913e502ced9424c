//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Errno returns the system error number wrapped by err, if any.
func Errno(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// Describe returns the numeric code of err and its textual meaning.
//
// Errors that do not wrap a system error number are reported as
// [unix.EINVAL] when they are configuration errors, [unix.ENODEV]
// when they are resolution errors, [unix.ETIMEDOUT] for drain
// timeouts and [unix.EIO] otherwise.
func Describe(err error) (int, string) {
	errno, ok := Errno(err)
	if !ok {
		switch {
		case errors.Is(err, ErrConfigInvalid):
			errno = unix.EINVAL
		case errors.Is(err, ErrResolution):
			errno = unix.ENODEV
		case errors.Is(err, ErrDrainTimeout):
			errno = unix.ETIMEDOUT
		default:
			errno = unix.EIO
		}
	}
	return int(errno), errno.Error()
}
