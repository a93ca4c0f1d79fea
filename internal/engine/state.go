package engine

import (
	"time"
)

// State is the capture session state.
type State uint8

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Faulted
)

var stateNames = []string{"stopped", "starting", "running", "stopping", "faulted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// idle reports whether the loop has no session to drive.
func (s State) idle() bool {
	return s == Stopped || s == Faulted
}

// Status is the externally visible state. Err is set only in Faulted and
// carries the error that ended the session.
type Status struct {
	State  State
	Err    error
	Device string
	Since  time.Time
}
