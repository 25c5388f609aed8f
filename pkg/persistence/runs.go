package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// Test run sources. Manual runs are requested directly by a user and do
// not contribute verification proofs.
const (
	RunSourceAutopilot = "autopilot"
	RunSourceManual    = "manual"
)

// CreateTestRun inserts a new pending test run row.
func (s *Store) CreateTestRun(row *TestRunRow) error {
	if row.Status == "" {
		row.Status = RunStatusPending
	}
	if row.Source == "" {
		row.Source = RunSourceAutopilot
	}
	if row.Summary == "" {
		row.Summary = "{}"
	}
	if row.Details == "" {
		row.Details = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO test_runs (id, project_id, branch_id, source, status, summary, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ProjectID, row.BranchID, row.Source, row.Status, row.Summary, row.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to create test run %s: %w", row.ID, err)
	}
	return nil
}

// GetTestRun loads a test run row by id.
func (s *Store) GetTestRun(id string) (*TestRunRow, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, branch_id, source, status, summary, details, created_at, completed_at
		FROM test_runs WHERE id = ?`, id)

	var tr TestRunRow
	err := row.Scan(&tr.ID, &tr.ProjectID, &tr.BranchID, &tr.Source, &tr.Status, &tr.Summary, &tr.Details, &tr.CreatedAt, &tr.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test run %s: %w", id, err)
	}
	return &tr, nil
}

// UpdateTestRun moves a test run to a new status with fresh summary and
// details. Rows already in a terminal status are immutable; updating one
// is an error. A transition into a terminal status stamps completed_at.
func (s *Store) UpdateTestRun(id, status, summary, details string) error {
	completedAt := "NULL"
	if IsTerminalRunStatus(status) {
		completedAt = "strftime('%Y-%m-%dT%H:%M:%fZ','now')"
	}
	//nolint:gosec // completedAt is one of two fixed SQL expressions
	query := fmt.Sprintf(`
		UPDATE test_runs
		SET status = ?, summary = ?, details = ?, completed_at = %s
		WHERE id = ? AND status IN ('pending', 'running')`, completedAt)

	result, err := s.db.Exec(query, status, summary, details, id)
	if err != nil {
		return fmt.Errorf("failed to update test run %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check test run update for %s: %w", id, err)
	}
	if affected == 0 {
		existing, getErr := s.GetTestRun(id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("test run %s is already %s and cannot change", id, existing.Status)
	}
	return nil
}

// ListTestRunsByBranch returns a branch's test runs, newest first.
func (s *Store) ListTestRunsByBranch(projectID, branchID string) ([]*TestRunRow, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, branch_id, source, status, summary, details, created_at, completed_at
		FROM test_runs
		WHERE project_id = ? AND branch_id = ?
		ORDER BY created_at DESC`, projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test runs for branch %s: %w", branchID, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*TestRunRow
	for rows.Next() {
		var tr TestRunRow
		if err := rows.Scan(&tr.ID, &tr.ProjectID, &tr.BranchID, &tr.Source, &tr.Status, &tr.Summary, &tr.Details, &tr.CreatedAt, &tr.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test run row: %w", err)
		}
		runs = append(runs, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("test run row iteration failed: %w", err)
	}
	return runs, nil
}

// RecordProof stores a verification proof for a branch. Recording the
// same proof key twice is a no-op; the return value reports whether the
// proof was newly recorded.
func (s *Store) RecordProof(branchID, proofKey, runID string) (bool, error) {
	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO proofs (branch_id, proof_key, run_id)
		VALUES (?, ?, ?)`, branchID, proofKey, runID)
	if err != nil {
		return false, fmt.Errorf("failed to record proof for branch %s: %w", branchID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check proof insert for branch %s: %w", branchID, err)
	}
	return affected > 0, nil
}

// HasProof reports whether a proof key exists for a branch.
func (s *Store) HasProof(branchID, proofKey string) (bool, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*) FROM proofs WHERE branch_id = ? AND proof_key = ?`,
		branchID, proofKey)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check proof for branch %s: %w", branchID, err)
	}
	return count > 0, nil
}
