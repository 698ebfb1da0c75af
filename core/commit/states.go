package commit

import (
	"errors"
	"slices"
)

var ErrInvalidStateTransition = errors.New("invalid commit state transition")

// State is a step of one orchestration pass.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateCommitting
	StateMerging
	StateForking
	StateReauthenticating
	StateResolving
	StateSuccess
	StateConflict
	StateForkOffered
	StateFatal
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StatePreparing:        "preparing",
	StateCommitting:       "committing",
	StateMerging:          "merging",
	StateForking:          "forking",
	StateReauthenticating: "reauthenticating",
	StateResolving:        "resolving",
	StateSuccess:          "success",
	StateConflict:         "conflict",
	StateForkOffered:      "fork_offered",
	StateFatal:            "fatal",
	StateCancelled:        "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether a pass ends in s.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateConflict, StateForkOffered, StateFatal, StateCancelled:
		return true
	}
	return false
}

// Every working state may also end in Fatal or Cancelled.
var validTransitions = map[State][]State{
	StateIdle:             {StatePreparing},
	StatePreparing:        {StateCommitting, StateReauthenticating, StateForkOffered, StateForking},
	StateCommitting:       {StateSuccess, StateMerging, StateReauthenticating, StateForkOffered, StateForking},
	StateMerging:          {StateSuccess, StateConflict, StateReauthenticating, StateForkOffered, StateForking},
	StateForking:          {StateCommitting, StateReauthenticating},
	StateReauthenticating: {StatePreparing, StateResolving},
	StateResolving:        {StateSuccess, StateConflict, StateReauthenticating, StateForkOffered, StateForking},
	StateConflict:         {StateResolving},
	StateForkOffered:      {StateForking},
}

func isValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	if to == StateFatal || to == StateCancelled {
		return !from.Terminal() || from == StateConflict || from == StateForkOffered
	}
	return slices.Contains(validTransitions[from], to)
}

// Status is the document-level commit status shown by the host.
type Status int32

const (
	StatusNone Status = iota
	StatusLoading
	StatusSuccess
)

var statusNames = map[Status]string{
	StatusNone:    "none",
	StatusLoading: "loading",
	StatusSuccess: "success",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}
