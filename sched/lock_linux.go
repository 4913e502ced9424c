//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package sched

import "golang.org/x/sys/unix"

// lockMemory locks all current and future pages in memory.
func lockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}
