package autopilot

import (
	"testing"
)

func planEvent(steps ...string) Event {
	return Event{Type: EventPlan, Payload: EventPayload{Steps: steps}}
}

func stepStart(step string) Event {
	return Event{Type: EventStepStart, Payload: EventPayload{Step: step}}
}

func stepDone(step string) Event {
	return Event{Type: EventStepDone, Payload: EventPayload{Step: step}}
}

func TestDeriveProgress(t *testing.T) {
	tests := []struct {
		name          string
		events        []Event
		wantCurrent   string
		wantNext      string
		wantCompleted int
	}{
		{
			name:        "empty log",
			events:      nil,
			wantCurrent: "",
			wantNext:    "",
		},
		{
			// A session whose plan append failed at create time still
			// derives cleanly: no steps, nothing current or next.
			name:        "no plan event",
			events:      []Event{{Type: EventMessage, Payload: EventPayload{Text: "hello"}}},
			wantCurrent: "",
			wantNext:    "",
		},
		{
			name:        "plan only",
			events:      []Event{planEvent("a", "b", "c")},
			wantCurrent: "",
			wantNext:    "a",
		},
		{
			name:        "step in flight",
			events:      []Event{planEvent("a", "b", "c"), stepStart("a")},
			wantCurrent: "a",
			wantNext:    "b",
		},
		{
			name:          "step completed",
			events:        []Event{planEvent("a", "b", "c"), stepStart("a"), stepDone("a")},
			wantCurrent:   "",
			wantNext:      "b",
			wantCompleted: 1,
		},
		{
			name:          "second step in flight",
			events:        []Event{planEvent("a", "b", "c"), stepStart("a"), stepDone("a"), stepStart("b")},
			wantCurrent:   "b",
			wantNext:      "c",
			wantCompleted: 1,
		},
		{
			name:          "all steps done",
			events:        []Event{planEvent("a", "b"), stepStart("a"), stepDone("a"), stepStart("b"), stepDone("b")},
			wantCurrent:   "",
			wantNext:      "",
			wantCompleted: 2,
		},
		{
			name: "messages and controls do not affect position",
			events: []Event{
				planEvent("a", "b"),
				stepStart("a"),
				{Type: EventMessage, Payload: EventPayload{Text: "go faster"}},
				{Type: EventControl, Payload: EventPayload{Action: ActionPause}},
			},
			wantCurrent: "a",
			wantNext:    "b",
		},
		{
			name:          "repeated step start and done pair off",
			events:        []Event{planEvent("a", "b"), stepStart("a"), stepDone("a"), stepStart("a")},
			wantCurrent:   "a",
			wantNext:      "b",
			wantCompleted: 1,
		},
		{
			name:        "later plan replaces earlier plan",
			events:      []Event{planEvent("a"), planEvent("x", "y")},
			wantCurrent: "",
			wantNext:    "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveProgress(tt.events)
			if got.Current != tt.wantCurrent {
				t.Errorf("Current: expected %q, got %q", tt.wantCurrent, got.Current)
			}
			if got.Next != tt.wantNext {
				t.Errorf("Next: expected %q, got %q", tt.wantNext, got.Next)
			}
			if len(got.Completed) != tt.wantCompleted {
				t.Errorf("Completed: expected %d, got %d", tt.wantCompleted, len(got.Completed))
			}
		})
	}
}

func TestDeriveProgressIsPure(t *testing.T) {
	events := []Event{planEvent("a", "b"), stepStart("a"), stepDone("a")}
	first := DeriveProgress(events)
	second := DeriveProgress(events)
	if first.Current != second.Current || first.Next != second.Next {
		t.Error("Reducer produced different results for the same log")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	active := []Status{StatusPending, StatusRunning, StatusPaused}
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}

	for _, s := range active {
		if IsTerminalStatus(s) {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range terminal {
		if !IsTerminalStatus(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
}
