// Package autopilot drives long-running coding sessions: it plans a
// prompt into steps, dispatches them one at a time, and lets a client
// pause, redirect, or cancel the run mid-flight. All session state is
// derived from an append-only event log.
package autopilot

import (
	"encoding/json"
	"time"

	"autopilot/pkg/persistence"
)

// Status is the lifecycle state of a session.
type Status string

// Session statuses. Pending, running, and paused sessions are active
// and worth polling; the rest are terminal and read-only.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminalStatus reports whether a session status is terminal.
func IsTerminalStatus(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// EventType tags entries in a session's event log.
type EventType string

// Event types.
const (
	EventPlan      EventType = "plan"
	EventStepStart EventType = "step:start"
	EventStepDone  EventType = "step:done"
	EventMessage   EventType = "message"
	EventControl   EventType = "control"
)

// EventPayload carries the type-specific body of an event. Only the
// fields relevant to the event's type are set.
type EventPayload struct {
	Steps    []string          `json:"steps,omitempty"`    // plan
	Step     string            `json:"step,omitempty"`     // step:start, step:done
	Text     string            `json:"text,omitempty"`     // message
	Kind     string            `json:"kind,omitempty"`     // message
	Action   string            `json:"action,omitempty"`   // control
	Metadata map[string]string `json:"metadata,omitempty"` // message
}

// Event is one entry in a session's totally ordered log.
type Event struct {
	CreatedAt time.Time    `json:"created_at"`
	Seq       int64        `json:"seq"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
}

// Session is the full session object exchanged with clients: the row
// plus its complete event log.
type Session struct {
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	GoalID        string    `json:"goal_id"`
	UISessionID   string    `json:"ui_session_id"`
	Status        Status    `json:"status"`
	StatusMessage string    `json:"status_message"`
	Events        []Event   `json:"events"`
}

// Progress is the step position derived from an event log. It is never
// stored; the log is the single source of truth.
type Progress struct {
	Steps     []string `json:"steps"`
	Completed []string `json:"completed"`
	Current   string   `json:"current,omitempty"`
	Next      string   `json:"next,omitempty"`
}

// DeriveProgress replays an event log into the session's step position.
// The current step is the most recent step:start without a matching
// step:done; the next step is the first planned step neither completed
// nor current. The reducer is pure: same log, same result.
func DeriveProgress(events []Event) Progress {
	var progress Progress
	started := make([]string, 0, len(events))
	done := make(map[string]int)

	for _, e := range events {
		switch e.Type {
		case EventPlan:
			progress.Steps = e.Payload.Steps
		case EventStepStart:
			started = append(started, e.Payload.Step)
		case EventStepDone:
			done[e.Payload.Step]++
			progress.Completed = append(progress.Completed, e.Payload.Step)
		case EventMessage, EventControl:
			// No effect on step position.
		}
	}

	// Walk starts newest-first; the first one not consumed by a done
	// event is current.
	pending := make(map[string]int)
	for step, n := range done {
		pending[step] = n
	}
	for i := len(started) - 1; i >= 0; i-- {
		step := started[i]
		if pending[step] > 0 {
			pending[step]--
			continue
		}
		progress.Current = step
		break
	}

	completed := make(map[string]bool, len(done))
	for step := range done {
		completed[step] = true
	}

	// Next begins after the current step's planned position, or at the
	// start of the plan when nothing is in flight.
	from := 0
	if progress.Current != "" {
		for i, step := range progress.Steps {
			if step == progress.Current {
				from = i + 1
				break
			}
		}
	}
	for _, step := range progress.Steps[min(from, len(progress.Steps)):] {
		if step == progress.Current || completed[step] {
			continue
		}
		progress.Next = step
		break
	}
	return progress
}

// decodeEvent maps a persisted event row into the session event type.
// An unparseable payload yields an event with an empty payload rather
// than an error; the log must stay readable even if one entry is bad.
func decodeEvent(row persistence.EventRow) Event {
	e := Event{
		CreatedAt: row.CreatedAt,
		Seq:       row.Seq,
		Type:      EventType(row.Type),
	}
	_ = json.Unmarshal([]byte(row.Payload), &e.Payload)
	return e
}
