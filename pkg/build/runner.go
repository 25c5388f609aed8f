// Package build executes workspace test jobs behind an opaque job-runner
// contract: callers start a job by kind and later wait for its completion,
// interpreting only the reported status.
package build

import "context"

// JobStatus is the terminal outcome of a job as reported by the runner.
type JobStatus string

const (
	// StatusPending means the job has been accepted but not started.
	StatusPending JobStatus = "pending"
	// StatusRunning means the job is executing.
	StatusRunning JobStatus = "running"
	// StatusSucceeded means the job finished with exit code 0.
	StatusSucceeded JobStatus = "succeeded"
	// StatusFailed means the job finished with a non-zero exit code or
	// could not be executed at all.
	StatusFailed JobStatus = "failed"
)

// JobSpec carries the parameters for one workspace test job.
type JobSpec struct {
	ProjectID     string
	ProjectDir    string
	WorkspaceName string
	WorkspaceCwd  string
	WorkspaceKind string // runtime identifier, e.g. "node", "go"
	InstallDeps   bool   // run a dependency install before the test command
}

// CoverageStats is the coverage summary a job reports, percentages in [0,100].
type CoverageStats struct {
	Lines      float64 `json:"lines"`
	Statements float64 `json:"statements"`
	Functions  float64 `json:"functions"`
	Branches   float64 `json:"branches"`
}

// JobResult is the terminal report for a completed job.
//
//nolint:govet // struct alignment optimization not critical for this type
type JobResult struct {
	ID       string         `json:"id"`
	Status   JobStatus      `json:"status"`
	ExitCode int            `json:"exit_code"`
	Logs     string         `json:"logs"`
	Coverage *CoverageStats `json:"coverage,omitempty"`
}

// JobRunner starts workspace test jobs and reports their completion.
// Implementations are opaque to the gate - it interprets only the status
// and coverage fields of the result.
type JobRunner interface {
	// StartJob begins executing a job and returns its id immediately.
	StartJob(ctx context.Context, kind string, spec JobSpec) (string, error)

	// WaitForJobCompletion blocks until the job with the given id reaches
	// a terminal status and returns its result.
	WaitForJobCompletion(ctx context.Context, id string) (JobResult, error)
}

// Job kinds understood by the local service.
const (
	KindFrontendTests = "frontend-tests"
	KindBackendTests  = "backend-tests"
)
