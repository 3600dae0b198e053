// Package health provides liveness state tracking and status reporting.
package health

import "sync/atomic"

// State is the liveness of a component. Reason is set when OK is false.
type State struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Checker reports the current State of a component.
type Checker interface {
	Health() State
}

// Tracker holds one current State, replaced atomically.
type Tracker struct {
	state atomic.Pointer[State]
}

// NewTracker creates a tracker in the given initial state.
func NewTracker(ok bool, reason string) *Tracker {
	t := &Tracker{}
	t.Set(ok, reason)
	return t
}

// Set replaces the current state.
func (t *Tracker) Set(ok bool, reason string) {
	if ok {
		reason = ""
	}
	t.state.Store(&State{OK: ok, Reason: reason})
}

// Health implements Checker.
func (t *Tracker) Health() State {
	if s := t.state.Load(); s != nil {
		return *s
	}
	return State{}
}
