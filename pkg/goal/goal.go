// Package goal defines the goal lifecycle state machine and the Goal model.
// A goal is a single unit of requested work tracked from draft through merge.
package goal

import (
	"fmt"
	"time"
)

// State identifies a goal lifecycle state.
type State string

// Goal lifecycle states.
const (
	StateDraft          State = "draft"
	StatePlanned        State = "planned"
	StateExecuting      State = "executing"
	StateNeedsUserInput State = "needs-user-input"
	StateVerifying      State = "verifying"
	StateReadyToMerge   State = "ready-to-merge"
	StateMerged         State = "merged"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Metadata carries planning artifacts attached to a goal.
type Metadata struct {
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	ClarifyingQuestions []string `json:"clarifying_questions,omitempty"`
	StyleOnly          bool     `json:"style_only,omitempty"`
}

// Goal is a unit of requested work. Mutated only through validated
// state transitions; never deleted while referenced by an active session.
//
//nolint:govet // struct alignment optimization not critical for this type
type Goal struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	ParentGoalID string    `json:"parent_goal_id,omitempty"`
	Prompt       string    `json:"prompt"`
	Title        string    `json:"title"`
	State        State     `json:"state"`
	Metadata     Metadata  `json:"metadata"`
}

// transitions is the canonical transition table for goals.
// This is the single source of truth; any code, tests, or diagrams
// must match it exactly. merged and cancelled are terminal. failed is
// recoverable back to executing.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var transitions = map[State][]State{
	StateDraft:          {StatePlanned, StateCancelled},
	StatePlanned:        {StateExecuting, StateCancelled},
	StateExecuting:      {StateVerifying, StateNeedsUserInput, StateFailed, StateCancelled},
	StateNeedsUserInput: {StateExecuting, StateFailed, StateCancelled},
	StateVerifying:      {StateReadyToMerge, StateFailed, StateCancelled},
	StateReadyToMerge:   {StateMerged, StateCancelled},
	StateFailed:         {StateExecuting, StateCancelled},
	StateMerged:         {},
	StateCancelled:      {},
}

// UnknownStateError reports a state name that is not part of the machine.
type UnknownStateError struct {
	State State
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown goal state: %q", string(e.State))
}

// InvalidTransitionError reports a disallowed edge between two known states.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid goal transition: %s -> %s", e.From, e.To)
}

// ValidStates returns every state of the machine in table order.
func ValidStates() []State {
	return []State{
		StateDraft, StatePlanned, StateExecuting, StateNeedsUserInput,
		StateVerifying, StateReadyToMerge, StateMerged, StateFailed, StateCancelled,
	}
}

// IsValidState reports whether state is part of the machine.
func IsValidState(state State) bool {
	_, ok := transitions[state]
	return ok
}

// IsTerminal reports whether state has no outgoing transitions.
func IsTerminal(state State) bool {
	allowed, ok := transitions[state]
	return ok && len(allowed) == 0
}

// AllowedTransitions returns the states reachable from the given state.
// Returns UnknownStateError if state is not part of the machine.
func AllowedTransitions(state State) ([]State, error) {
	allowed, ok := transitions[state]
	if !ok {
		return nil, &UnknownStateError{State: state}
	}

	out := make([]State, len(allowed))
	copy(out, allowed)
	return out, nil
}

// AssertTransition validates the edge from -> to without performing it.
// The caller performs the actual mutation after a nil return.
func AssertTransition(from, to State) error {
	allowed, ok := transitions[from]
	if !ok {
		return &UnknownStateError{State: from}
	}
	if !IsValidState(to) {
		return &UnknownStateError{State: to}
	}

	for _, state := range allowed {
		if state == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}
