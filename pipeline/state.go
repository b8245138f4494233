package pipeline

import (
	"errors"
	"fmt"
)

// State is a pipeline state.
type State string

// Pipeline states.
//
// Idle -> Uploading -> Parsing -> Converting -> Validating -> Complete,
// with Errored reachable from any active state.
const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateParsing    State = "parsing"
	StateConverting State = "converting"
	StateValidating State = "validating"
	StateComplete   State = "complete"
	StateErrored    State = "errored"
)

// Progress checkpoints, reported once the corresponding remote call resolves.
const (
	PercentUploaded  = 10
	PercentParsed    = 25
	PercentConverted = 50
	PercentValidated = 75
	PercentDone      = 100
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateErrored
}

// transitions lists the legal successors of each state. Errored is legal
// from every active state and is checked separately.
var transitions = map[State][]State{
	StateIdle:       {StateUploading},
	StateUploading:  {StateParsing},
	StateParsing:    {StateConverting},
	StateConverting: {StateValidating, StateComplete},
	StateValidating: {StateComplete},
	StateComplete:   {StateUploading},
	StateErrored:    {StateUploading},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	if to == StateErrored {
		return !from.Terminal() && from != StateIdle
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var errNilFailure = errors.New("step failed without an error")

// ErrBusy is returned when Run is called while a run is in progress.
var ErrBusy = errors.New("pipeline is already running")

// StageError records the stage a run failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StageError) Unwrap() error {
	return e.Err
}
