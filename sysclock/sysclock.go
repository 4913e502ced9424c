//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

// Package sysclock reads and updates the UTC-TAI offset kept by the kernel,
// which CLOCK_TAI depends on.
package sysclock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/ptpmgmt"
	"golang.org/x/sys/unix"
)

// adjTAI is ADJ_TAI.
const adjTAI = 0x0080

// Kernel accesses the kernel time keeping.
//
// The zero value uses the real adjtimex system call.
type Kernel struct {
	// AdjtimexFunc is the optional adjtimex implementation.
	AdjtimexFunc func(buf *unix.Timex) (int, error)

	// Logger is the optional structured logger.
	Logger *slog.Logger
}

func (k *Kernel) adjtimex(buf *unix.Timex) error {
	adjtimex := unix.Adjtimex
	if k.AdjtimexFunc != nil {
		adjtimex = k.AdjtimexFunc
	}
	_, err := adjtimex(buf)
	return err
}

// setLong assigns to a field whose width follows the C long.
func setLong[T ~int32 | ~int64](dst *T, v int) {
	*dst = T(v)
}

// TAIOffset returns the UTC-TAI offset in seconds.
func (k *Kernel) TAIOffset() (int, error) {
	var tx unix.Timex
	if err := k.adjtimex(&tx); err != nil {
		return 0, fmt.Errorf("adjtimex: %w", err)
	}
	return int(tx.Tai), nil
}

// SetTAIOffset sets the UTC-TAI offset in seconds.
func (k *Kernel) SetTAIOffset(offset int) error {
	tx := unix.Timex{Modes: adjTAI}
	setLong(&tx.Constant, offset)
	if err := k.adjtimex(&tx); err != nil {
		return fmt.Errorf("%w: adjtimex(ADJ_TAI): %w", errclass.ErrResourceAcquisition, err)
	}
	return nil
}

// FixupTAIOffset sets the kernel offset to offset unless it already
// has that value.
func (k *Kernel) FixupTAIOffset(ctx context.Context, offset int) error {
	current, err := k.TAIOffset()
	if err != nil {
		return err
	}
	if current == offset {
		return nil
	}
	if k.Logger != nil {
		k.Logger.WarnContext(
			ctx,
			"kernelUTCOffsetOutOfDate",
			slog.Int("kernelOffset", current),
			slog.Int("ptpOffset", offset),
		)
	}
	return k.SetTAIOffset(offset)
}

// TimePropertiesClient returns the time properties of a PTP clock.
type TimePropertiesClient interface {
	TimePropertiesDataSet(ctx context.Context) (*ptpmgmt.TimePropertiesDataSet, error)
}

// FixupFromPTP updates the kernel offset with the current UTC offset
// advertised by ptp4l.
func (k *Kernel) FixupFromPTP(ctx context.Context, client TimePropertiesClient) error {
	tp, err := client.TimePropertiesDataSet(ctx)
	if err != nil {
		return err
	}
	if !tp.UTCOffsetValid() && k.Logger != nil {
		k.Logger.WarnContext(
			ctx,
			"ptpUTCOffsetNotValid",
			slog.Int("ptpOffset", int(tp.CurrentUTCOffset)),
		)
	}
	return k.FixupTAIOffset(ctx, int(tp.CurrentUTCOffset))
}
