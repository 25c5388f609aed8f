package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"autopilot/pkg/goal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateGoal inserts a new goal row.
func (s *Store) CreateGoal(g *goal.Goal) error {
	metadata, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal goal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO goals (id, project_id, parent_goal_id, prompt, title, state, metadata)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
		g.ID, g.ProjectID, g.ParentGoalID, g.Prompt, g.Title, string(g.State), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to create goal %s: %w", g.ID, err)
	}
	return nil
}

// GetGoal loads a goal by id.
func (s *Store) GetGoal(id string) (*goal.Goal, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, COALESCE(parent_goal_id, ''), prompt, title, state, metadata, created_at, updated_at
		FROM goals WHERE id = ?`, id)

	var g goal.Goal
	var state, metadata string
	err := row.Scan(&g.ID, &g.ProjectID, &g.ParentGoalID, &g.Prompt, &g.Title, &state, &metadata, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", id, err)
	}

	g.State = goal.State(state)
	if err := json.Unmarshal([]byte(metadata), &g.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse goal %s metadata: %w", id, err)
	}
	return &g, nil
}

// TransitionGoal validates and applies a goal state transition using a
// compare-and-swap on the current state, so two concurrent mutations of
// the same goal cannot both apply.
func (s *Store) TransitionGoal(id string, from, to goal.State) error {
	if err := goal.AssertTransition(from, to); err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE goals
		SET state = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND state = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition goal %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result for goal %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("goal %s is not in state %s (concurrent mutation or missing row)", id, from)
	}
	return nil
}

// UpdateGoalMetadata replaces a goal's metadata blob.
func (s *Store) UpdateGoalMetadata(id string, metadata goal.Metadata) error {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal goal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE goals
		SET metadata = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`, string(blob), id)
	if err != nil {
		return fmt.Errorf("failed to update goal %s metadata: %w", id, err)
	}
	return nil
}

// ListGoalsByProject returns all goals for a project in creation order.
func (s *Store) ListGoalsByProject(projectID string) ([]*goal.Goal, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, COALESCE(parent_goal_id, ''), prompt, title, state, metadata, created_at, updated_at
		FROM goals WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals for project %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var goals []*goal.Goal
	for rows.Next() {
		var g goal.Goal
		var state, metadata string
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.ParentGoalID, &g.Prompt, &g.Title, &state, &metadata, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal row: %w", err)
		}
		g.State = goal.State(state)
		if err := json.Unmarshal([]byte(metadata), &g.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse goal metadata: %w", err)
		}
		goals = append(goals, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("goal row iteration failed: %w", err)
	}
	return goals, nil
}
