package jobs

import (
	"slices"
	"time"
)

// State is the lifecycle state of a Supervisor.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateHealthy      State = "healthy"
	StateReconnecting State = "reconnecting"
	StateFatal        State = "fatal"
	StateStopped      State = "stopped"
)

// States lists every supervisor state.
var States = []State{
	StateIdle, StateConnecting, StateHealthy, StateReconnecting, StateFatal, StateStopped,
}

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateIdle:         {StateConnecting, StateFatal, StateStopped},
	StateConnecting:   {StateConnecting, StateHealthy, StateReconnecting, StateFatal, StateStopped},
	StateHealthy:      {StateConnecting, StateReconnecting, StateFatal, StateStopped},
	StateReconnecting: {StateConnecting, StateStopped},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func stateNames() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = string(s)
	}
	return out
}
