package persistence

import (
	"time"

	"github.com/google/uuid"
)

// SessionRow is the persisted form of an autopilot session. The event
// sequence lives in session_events; the engine's rich session object is
// assembled from both.
type SessionRow struct {
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	GoalID        string    `json:"goal_id"`
	UISessionID   string    `json:"ui_session_id"`
	Status        string    `json:"status"`
	StatusMessage string    `json:"status_message"`
}

// EventRow is one appended session event. Seq is assigned by the store
// and defines the total order within a session.
type EventRow struct {
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"` // JSON blob
}

// TestRunRow is the persisted record of one test-execution attempt.
// Summary and Details hold JSON blobs owned by the gate orchestrator.
type TestRunRow struct {
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	BranchID    string     `json:"branch_id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary"`
	Details     string     `json:"details"`
}

// Test run status constants.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusPassed  = "passed"
	RunStatusFailed  = "failed"
)

// IsTerminalRunStatus reports whether a test run status is terminal.
// Terminal runs are immutable; a new request always creates a new row.
func IsTerminalRunStatus(status string) bool {
	return status == RunStatusPassed || status == RunStatusFailed
}

// NewID generates a new UUID string for goals, sessions, and test runs.
func NewID() string {
	return uuid.New().String()
}
