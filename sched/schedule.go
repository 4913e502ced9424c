// SPDX-License-Identifier: GPL-3.0-or-later

package sched

import (
	"fmt"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/nstime"
)

// Schedule describes a cyclic transmission schedule. All the
// quantities are nanoseconds.
type Schedule struct {
	// BaseTime is the reference instant of the schedule.
	BaseTime int64

	// CycleTime is the interval between transmissions.
	CycleTime int64

	// AdvanceTime is added to each wake instant to obtain the
	// scheduled departure time of the frame.
	AdvanceTime int64

	// ShiftTime is a one-time offset applied to BaseTime.
	ShiftTime int64

	// Iterations is the number of frames to send.
	Iterations int64
}

// Validate returns an error wrapping [errclass.ErrConfigInvalid]
// if the schedule cannot be run.
func (s Schedule) Validate() error {
	switch {
	case s.CycleTime <= 0:
		return fmt.Errorf("%w: cycle time %d must be positive", errclass.ErrConfigInvalid, s.CycleTime)
	case s.Iterations <= 0:
		return fmt.Errorf("%w: iterations %d must be positive", errclass.ErrConfigInvalid, s.Iterations)
	case s.AdvanceTime > s.CycleTime:
		return fmt.Errorf("%w: advance time %d larger than cycle time %d",
			errclass.ErrConfigInvalid, s.AdvanceTime, s.CycleTime)
	case s.ShiftTime > s.CycleTime:
		return fmt.Errorf("%w: shift time %d larger than cycle time %d",
			errclass.ErrConfigInvalid, s.ShiftTime, s.CycleTime)
	}
	return nil
}

// FirstWake returns the first wake instant given the current time.
//
// The base time is shifted by ShiftTime-AdvanceTime and then wound
// forward to at least one second after now, so that the process has
// time to settle before the first transmission.
func (s Schedule) FirstWake(now int64) int64 {
	base := s.BaseTime + s.ShiftTime - s.AdvanceTime
	return nstime.WindForward(base, s.CycleTime, now+nstime.Second)
}
