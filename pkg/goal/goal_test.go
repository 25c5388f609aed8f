package goal

import (
	"errors"
	"testing"
)

// TestAllValidTransitions verifies that every documented edge of the goal
// lifecycle is accepted by AssertTransition.
func TestAllValidTransitions(t *testing.T) {
	documented := map[State][]State{
		StateDraft:          {StatePlanned, StateCancelled},
		StatePlanned:        {StateExecuting, StateCancelled},
		StateExecuting:      {StateVerifying, StateNeedsUserInput, StateFailed, StateCancelled},
		StateNeedsUserInput: {StateExecuting, StateFailed, StateCancelled},
		StateVerifying:      {StateReadyToMerge, StateFailed, StateCancelled},
		StateReadyToMerge:   {StateMerged, StateCancelled},
		StateFailed:         {StateExecuting, StateCancelled},
	}

	for from, targets := range documented {
		for _, to := range targets {
			if err := AssertTransition(from, to); err != nil {
				t.Errorf("expected %s -> %s to be valid, got %v", from, to, err)
			}
		}
	}
}

// TestInvalidTransitions ensures disallowed edges between known states are
// rejected with InvalidTransitionError naming both states.
func TestInvalidTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateDraft, StateMerged},
		{StateDraft, StateExecuting},
		{StatePlanned, StateVerifying},
		{StateExecuting, StateMerged},
		{StateVerifying, StateExecuting},
		{StateReadyToMerge, StateExecuting},
		{StateMerged, StateExecuting},
		{StateCancelled, StateDraft},
	}

	for _, tc := range cases {
		err := AssertTransition(tc.from, tc.to)
		if err == nil {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
			continue
		}

		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Errorf("expected InvalidTransitionError for %s -> %s, got %v", tc.from, tc.to, err)
			continue
		}
		if invalid.From != tc.from || invalid.To != tc.to {
			t.Errorf("error should name both states, got %v", invalid)
		}
	}
}

func TestUnknownState(t *testing.T) {
	if _, err := AllowedTransitions("nope"); err == nil {
		t.Error("expected AllowedTransitions to reject unknown state")
	} else {
		var unknown *UnknownStateError
		if !errors.As(err, &unknown) {
			t.Errorf("expected UnknownStateError, got %v", err)
		}
	}

	if err := AssertTransition("nope", StatePlanned); err == nil {
		t.Error("expected unknown from-state to be rejected")
	}
	if err := AssertTransition(StateDraft, "nope"); err == nil {
		t.Error("expected unknown to-state to be rejected")
	}

	var unknown *UnknownStateError
	err := AssertTransition(StateDraft, "nope")
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownStateError for unknown target, got %v", err)
	}
}

// TestTerminalStates ensures merged and cancelled have no outgoing edges.
func TestTerminalStates(t *testing.T) {
	for _, state := range []State{StateMerged, StateCancelled} {
		if !IsTerminal(state) {
			t.Errorf("expected %s to be terminal", state)
		}
		allowed, err := AllowedTransitions(state)
		if err != nil {
			t.Fatalf("AllowedTransitions(%s): %v", state, err)
		}
		if len(allowed) != 0 {
			t.Errorf("terminal state %s has outgoing transitions %v", state, allowed)
		}
	}

	// failed is recoverable, not terminal.
	if IsTerminal(StateFailed) {
		t.Error("failed must be recoverable")
	}
}

// TestAssertMatchesAllowed checks that AssertTransition succeeds exactly
// when the target appears in AllowedTransitions.
func TestAssertMatchesAllowed(t *testing.T) {
	for _, from := range ValidStates() {
		allowed, err := AllowedTransitions(from)
		if err != nil {
			t.Fatalf("AllowedTransitions(%s): %v", from, err)
		}
		allowedSet := make(map[State]bool, len(allowed))
		for _, to := range allowed {
			allowedSet[to] = true
		}

		for _, to := range ValidStates() {
			err := AssertTransition(from, to)
			if allowedSet[to] && err != nil {
				t.Errorf("%s -> %s should succeed, got %v", from, to, err)
			}
			if !allowedSet[to] && err == nil {
				t.Errorf("%s -> %s should fail", from, to)
			}
		}
	}
}

func TestValidStatesComplete(t *testing.T) {
	states := ValidStates()
	if len(states) != 9 {
		t.Fatalf("expected 9 states, got %d", len(states))
	}
	for _, state := range states {
		if !IsValidState(state) {
			t.Errorf("ValidStates returned unrecognized state %s", state)
		}
	}
}
