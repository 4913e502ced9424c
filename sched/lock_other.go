//go:build !linux

// SPDX-License-Identifier: GPL-3.0-or-later

package sched

import "errors"

// lockMemory is not implemented on this platform.
func lockMemory() error {
	return errors.New("memory locking not implemented")
}
