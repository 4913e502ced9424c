// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package txtstamp reads kernel timestamps delivered as ancillary data.

Transmit timestamps and scheduled transmission failures are queued
by the kernel on the socket error queue. Receive timestamps travel
with the frame itself. A [*Channel] performs one read at a time and
decodes whatever ancillary data accompanies it into a [*Record].
Records are never correlated across reads.
*/
package txtstamp

import (
	"fmt"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/nstime"
)

// DropReason tells why the kernel dropped a scheduled frame.
type DropReason int

const (
	// DropNone means the record does not report a drop.
	DropNone DropReason = iota

	// DropInvalidParams means invalid scheduled transmission parameters.
	DropInvalidParams

	// DropMissed means the scheduled departure time had passed.
	DropMissed
)

// String implements [fmt.Stringer].
func (r DropReason) String() string {
	switch r {
	case DropInvalidParams:
		return "invalid params"
	case DropMissed:
		return "missed deadline"
	default:
		return "none"
	}
}

// Record is the result of one successful read.
type Record struct {
	// Software is the software timestamp in nanoseconds.
	Software int64

	// Hardware is the raw hardware timestamp in nanoseconds.
	Hardware int64

	// Key is the correlation key assigned by the kernel.
	Key uint32

	// Type is the timestamp type (e.g., SCM_TSTAMP_SND).
	Type uint32

	// HasKey tells whether Key and Type are valid.
	HasKey bool

	// TxTime is the scheduled departure time of a dropped frame.
	TxTime int64

	// Drop is the reason why the frame was dropped, if any.
	Drop DropReason

	// Packet contains the bytes returned along with the control data.
	// It is only valid until the next read on the same [*Channel];
	// copy it to keep it.
	Packet []byte
}

// DropError returns an error describing the drop, or nil.
func (r *Record) DropError() error {
	switch r.Drop {
	case DropInvalidParams:
		return fmt.Errorf("%w: txtime %s", errclass.ErrInvalidTxParams, nstime.Format(r.TxTime))
	case DropMissed:
		return fmt.Errorf("%w: txtime %s", errclass.ErrDeadlineMissed, nstime.Format(r.TxTime))
	default:
		return nil
	}
}
