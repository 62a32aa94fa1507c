package rowpipe

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned if the transition between states is not
// allowed.
var ErrInvalidState = errors.New("invalid state")

// Status identifies one of the states transform instance or the whole
// pipeline run can be in.
type Status int32

// Statuses. Finished, Failed and Stopped are terminal.
const (
	// Idle means that instance is created, but not started.
	Idle Status = iota
	// Running means that instance is executing at the moment.
	Running
	// Finished means that all inputs reached end of stream and instance
	// was finalized.
	Finished
	// Failed means that instance encountered a fatal error.
	Failed
	// Stopped means that instance observed stop before completion.
	Stopped
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Finished:
		return "Finished"
	case Failed:
		return "Failed"
	case Stopped:
		return "Stopped"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Terminal returns true if no transitions are possible from this state.
func (s Status) Terminal() bool {
	return s == Finished || s == Failed || s == Stopped
}

// transition validates the state change.
func transition(from, to Status) (Status, error) {
	switch from {
	case Idle:
		if to == Running {
			return to, nil
		}
	case Running:
		if to.Terminal() {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %v to %v", ErrInvalidState, from, to)
}
