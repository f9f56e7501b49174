package tus

import "fmt"

// State is the lifecycle state of an Upload.
type State int

// Upload states.
const (
	StateIdle State = iota
	StateResuming
	StateCreating
	StateUploading
	StateRetrying
	StatePaused
	StateDone
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResuming:
		return "resuming"
	case StateCreating:
		return "creating"
	case StateUploading:
		return "uploading"
	case StateRetrying:
		return "retrying"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no more transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAborted
}

type event int

const (
	// evResume: a stored or configured url is reconciled.
	evResume event = iota
	// evCreate: a new upload resource is requested.
	evCreate
	// evRequestSucceeded: creation or reconciliation succeeded, data follows.
	evRequestSucceeded
	// evRequestFailed: a retryable failure, waiting for the retry timer.
	evRequestFailed
	// evTimerFired: the retry delay passed.
	evTimerFired
	// evSourceExhausted: the final length is known and acknowledged.
	evSourceExhausted
	evPause
	evContinue
	evFatal
	evCancelled
)

func (e event) String() string {
	return [...]string{
		"resume", "create", "request succeeded", "request failed", "timer fired",
		"source exhausted", "pause", "continue", "fatal", "cancelled",
	}[e]
}

// transitions lists the allowed moves. evFatal and evCancelled are allowed
// from every non-terminal state.
var transitions = map[State]map[event]State{
	StateIdle: {
		evResume: StateResuming,
		evCreate: StateCreating,
	},
	StateResuming: {
		evRequestSucceeded: StateUploading,
		evCreate:           StateCreating,
		evRequestFailed:    StateRetrying,
		evSourceExhausted:  StateDone,
	},
	StateCreating: {
		evRequestSucceeded: StateUploading,
		evRequestFailed:    StateRetrying,
		evSourceExhausted:  StateDone,
	},
	StateUploading: {
		evRequestFailed:   StateRetrying,
		evSourceExhausted: StateDone,
		evPause:           StatePaused,
	},
	StateRetrying: {
		evTimerFired: StateUploading,
		evCreate:     StateCreating,
		evResume:     StateResuming,
	},
	StatePaused: {
		evContinue: StateUploading,
	},
}

func transition(from State, ev event) (State, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	switch ev {
	case evFatal:
		return StateFailed, nil
	case evCancelled:
		return StateAborted, nil
	}
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}
