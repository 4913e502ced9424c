// SPDX-License-Identifier: GPL-3.0-or-later

package sched

// State is a [*Runner] state.
type State int

const (
	// StateInit is the initialization state.
	StateInit State = iota

	// StateRunning is the state where frames are sent.
	StateRunning

	// StateDraining is the state where we wait for timestamps.
	StateDraining

	// StateDone is the final state of a successful run.
	StateDone

	// StateError is the final state of a failed run.
	StateError
)

var stateNames = [...]string{
	StateInit:     "INIT",
	StateRunning:  "RUNNING",
	StateDraining: "DRAINING",
	StateDone:     "DONE",
	StateError:    "ERROR",
}

// String implements [fmt.Stringer].
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
