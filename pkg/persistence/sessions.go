package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateSession inserts a new session row.
func (s *Store) CreateSession(row *SessionRow) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project_id, goal_id, ui_session_id, status, status_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.ProjectID, row.GoalID, row.UISessionID, row.Status, row.StatusMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", row.ID, err)
	}
	return nil
}

// GetSession loads a session row by id.
func (s *Store) GetSession(id string) (*SessionRow, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, goal_id, ui_session_id, status, status_message, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sr SessionRow
	err := row.Scan(&sr.ID, &sr.ProjectID, &sr.GoalID, &sr.UISessionID, &sr.Status, &sr.StatusMessage, &sr.CreatedAt, &sr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &sr, nil
}

// UpdateSessionStatus sets a session's status and status message.
func (s *Store) UpdateSessionStatus(id, status, statusMessage string) error {
	result, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, status_message = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`, status, statusMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session update for %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendEvent appends one event to a session's ordered log and returns
// its assigned sequence number.
func (s *Store) AppendEvent(sessionID, eventType, payload string) (int64, error) {
	if payload == "" {
		payload = "{}"
	}
	result, err := s.db.Exec(`
		INSERT INTO session_events (session_id, type, payload)
		VALUES (?, ?, ?)`, sessionID, eventType, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to append event to session %s: %w", sessionID, err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event sequence for session %s: %w", sessionID, err)
	}
	return seq, nil
}

// ListEvents returns a session's events in append order.
func (s *Store) ListEvents(sessionID string) ([]EventRow, error) {
	rows, err := s.db.Query(`
		SELECT seq, session_id, type, payload, created_at
		FROM session_events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event row iteration failed: %w", err)
	}
	return events, nil
}

// ListActiveSessionsByUI returns the most recently updated non-terminal
// sessions associated with a client-held UI session id, newest first,
// bounded by limit.
func (s *Store) ListActiveSessionsByUI(uiSessionID string, limit int) ([]*SessionRow, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.Query(`
		SELECT id, project_id, goal_id, ui_session_id, status, status_message, created_at, updated_at
		FROM sessions
		WHERE ui_session_id = ? AND status IN ('pending', 'running', 'paused')
		ORDER BY updated_at DESC
		LIMIT ?`, uiSessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions for ui session %s: %w", uiSessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*SessionRow
	for rows.Next() {
		var sr SessionRow
		if err := rows.Scan(&sr.ID, &sr.ProjectID, &sr.GoalID, &sr.UISessionID, &sr.Status, &sr.StatusMessage, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, &sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session row iteration failed: %w", err)
	}
	return sessions, nil
}
