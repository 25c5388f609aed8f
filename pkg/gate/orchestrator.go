package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"autopilot/pkg/build"
	"autopilot/pkg/config"
	"autopilot/pkg/coverage"
	"autopilot/pkg/git"
	"autopilot/pkg/logx"
	"autopilot/pkg/metrics"
	"autopilot/pkg/persistence"
)

// RunRequest describes one test-run request against a branch.
type RunRequest struct {
	ProjectID  string
	ProjectDir string
	BranchID   string
	BaseRef    string // diff base for changed-path discovery, e.g. "main"
	Scope      string // "all" or "changed"
	Source     string // persistence.RunSourceAutopilot or RunSourceManual

	// BranchReadyForMerge suppresses proof recording for branches that
	// already cleared the gate.
	BranchReadyForMerge bool
}

// WorkspaceRun is the per-workspace outcome recorded in a run's details.
type WorkspaceRun struct {
	Workspace   string               `json:"workspace"`
	JobID       string               `json:"jobId"`
	Status      build.JobStatus      `json:"status"`
	ExitCode    int                  `json:"exitCode"`
	Passed      bool                 `json:"passed"`
	Reason      string               `json:"reason,omitempty"`
	Coverage    *build.CoverageStats `json:"coverage,omitempty"`
	Thresholds  coverage.Thresholds  `json:"thresholds"`
	CoverageMet bool                 `json:"coverageMet"`
}

// Outcome is the aggregate result of one run.
type Outcome struct {
	RunID         string         `json:"runId"`
	Passed        bool           `json:"passed"`
	Reason        string         `json:"reason,omitempty"`
	WorkspaceRuns []WorkspaceRun `json:"workspaceRuns"`
	ProofRecorded bool           `json:"proofRecorded"`
}

// Orchestrator drives the verification gate: admission, workspace
// selection, job fan-out, result aggregation, and proof recording.
type Orchestrator struct {
	logger   *logx.Logger
	store    *persistence.Store
	runner   build.JobRunner
	gitRun   git.Runner
	limiter  *RunLimiter
	settings *config.Settings
}

// NewOrchestrator wires the gate's collaborators together.
func NewOrchestrator(store *persistence.Store, runner build.JobRunner, gitRun git.Runner, limiter *RunLimiter, settings *config.Settings) *Orchestrator {
	if limiter == nil {
		limiter = NewRunLimiter(nil)
	}
	if gitRun == nil {
		gitRun = git.NewDefaultRunner()
	}
	return &Orchestrator{
		logger:   logx.NewLogger("gate"),
		store:    store,
		runner:   runner,
		gitRun:   gitRun,
		limiter:  limiter,
		settings: settings,
	}
}

// Run executes the gate for one request. A rate-limited request returns
// a RateLimitedError without creating a run row; an automated request
// whose staged paths match the last passing run short-circuits with a
// passing outcome and no row. Job failures are recorded in the run's
// details, never raised as errors.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	changedPaths := o.discoverChangedPaths(ctx, req)

	if err := o.admit(req, changedPaths); err != nil {
		if errors.Is(err, ErrStagedPathsUnchanged) {
			o.logger.Info("staged paths for %s/%s unchanged since last passing run, skipping", req.ProjectID, req.BranchID)
			return &Outcome{Passed: true, Reason: ErrStagedPathsUnchanged.Error()}, nil
		}
		metrics.RateLimitRejections.WithLabelValues(req.ProjectID).Inc()
		o.logger.Info("run request for %s/%s rate limited: %v", req.ProjectID, req.BranchID, err)
		return nil, err
	}

	row := &persistence.TestRunRow{
		ID:        persistence.NewID(),
		ProjectID: req.ProjectID,
		BranchID:  req.BranchID,
		Source:    req.Source,
	}
	if err := o.store.CreateTestRun(row); err != nil {
		return nil, fmt.Errorf("failed to create test run: %w", err)
	}
	metrics.TestRunsStarted.WithLabelValues(req.ProjectID).Inc()

	if err := o.store.UpdateTestRun(row.ID, persistence.RunStatusRunning, "{}", "{}"); err != nil {
		return nil, fmt.Errorf("failed to start test run %s: %w", row.ID, err)
	}

	selected := SelectWorkspaces(o.settings.Workspaces, req.Scope, changedPaths)

	outcome := o.executeWorkspaces(ctx, req, row.ID, selected, changedPaths)

	status := persistence.RunStatusFailed
	if outcome.Passed {
		status = persistence.RunStatusPassed
	}
	if err := o.finishRun(row.ID, status, outcome); err != nil {
		return nil, err
	}
	metrics.TestRunsCompleted.WithLabelValues(req.ProjectID, status).Inc()

	if outcome.Passed {
		o.recordProof(req, outcome)
		if req.Source != persistence.RunSourceManual {
			o.limiter.RememberStagedPaths(req.ProjectID, req.BranchID, changedPaths)
		}
	}
	return outcome, nil
}

// admit runs the limiter checks. Automated requests additionally compare
// the freshly discovered staged paths against the last passing snapshot;
// manual requests always re-verify.
func (o *Orchestrator) admit(req RunRequest, changedPaths []string) error {
	if req.Source == persistence.RunSourceManual {
		return o.limiter.Admit(req.ProjectID, req.BranchID, o.settings.Gate.MinRunIntervalMS)
	}
	return o.limiter.AdmitAutomated(req.ProjectID, req.BranchID, o.settings.Gate.MinRunIntervalMS, changedPaths)
}

// discoverChangedPaths asks git for the branch's changed files. Any
// failure is absorbed: without change information the gate tests all
// workspaces, which is always safe.
func (o *Orchestrator) discoverChangedPaths(ctx context.Context, req RunRequest) []string {
	if req.Scope != ScopeChanged {
		return nil
	}
	if err := git.EnsureRepository(ctx, o.gitRun, req.ProjectDir); err != nil {
		o.logger.Warn("project dir %s is not a git repository, testing all workspaces: %v", req.ProjectDir, err)
		return nil
	}
	paths, err := git.ChangedPaths(ctx, o.gitRun, req.ProjectDir, req.BaseRef)
	if err != nil {
		o.logger.Warn("failed to discover changed paths for %s, testing all workspaces: %v", req.BranchID, err)
		return nil
	}
	return paths
}

// executeWorkspaces fans out one job per workspace and collects results.
// One workspace's failure never prevents the others from completing.
func (o *Orchestrator) executeWorkspaces(ctx context.Context, req RunRequest, runID string, selected []config.Workspace, changedPaths []string) *Outcome {
	outcome := &Outcome{
		RunID:         runID,
		WorkspaceRuns: make([]WorkspaceRun, len(selected)),
	}
	if len(selected) == 0 {
		outcome.Passed = true
		outcome.Reason = "no workspaces selected"
		return outcome
	}

	sources := o.settings.CoverageSources()

	g, gctx := errgroup.WithContext(ctx)
	for i, ws := range selected {
		g.Go(func() error {
			outcome.WorkspaceRuns[i] = o.runWorkspace(gctx, req, ws, changedPaths, sources)
			return nil
		})
	}
	// Workers only write their own slot and never return errors.
	_ = g.Wait()

	outcome.Passed = true
	var reasons []string
	for _, wr := range outcome.WorkspaceRuns {
		if !wr.Passed {
			outcome.Passed = false
			reasons = append(reasons, fmt.Sprintf("%s: %s", wr.Workspace, wr.Reason))
		}
	}
	if !outcome.Passed {
		outcome.Reason = strings.Join(reasons, "; ")
	}
	return outcome
}

func (o *Orchestrator) runWorkspace(ctx context.Context, req RunRequest, ws config.Workspace, changedPaths []string, sources coverage.Sources) WorkspaceRun {
	wr := WorkspaceRun{
		Workspace:  ws.Name,
		Thresholds: coverage.ResolvePolicy(ws.Name, sources),
	}

	kind := build.KindBackendTests
	if ws.Kind == "node" {
		kind = build.KindFrontendTests
	}
	spec := build.JobSpec{
		ProjectID:     req.ProjectID,
		ProjectDir:    req.ProjectDir,
		WorkspaceName: ws.Name,
		WorkspaceCwd:  ws.Cwd,
		WorkspaceKind: ws.Kind,
		InstallDeps:   ws.Kind == "node" && ShouldInstallNodeDependencies(ws.Name, changedPaths),
	}

	wsLogger := o.logger.WithComponent("gate:" + ws.Name)

	jobID, err := o.runner.StartJob(ctx, kind, spec)
	if err != nil {
		wr.Status = build.StatusFailed
		wr.Reason = fmt.Sprintf("failed to start job: %v", err)
		return wr
	}
	wr.JobID = jobID
	wsLogger.Debug("job %s started (kind %s)", jobID, kind)

	result, err := o.runner.WaitForJobCompletion(ctx, jobID)
	if err != nil {
		wr.Status = build.StatusFailed
		wr.Reason = fmt.Sprintf("failed waiting for job %s: %v", jobID, err)
		return wr
	}
	wsLogger.Debug("job %s finished with status %s", jobID, result.Status)

	wr.Status = result.Status
	wr.ExitCode = result.ExitCode
	wr.Coverage = result.Coverage

	if result.Status != build.StatusSucceeded {
		wr.Reason = fmt.Sprintf("tests failed with exit code %d", result.ExitCode)
		return wr
	}

	// Changed-files sub-check: a workspace whose files changed must
	// actually report coverage data, not just clear zero thresholds.
	if o.settings.Gate.ChangedFilesCoverage && result.Coverage == nil && workspaceTouched(ws, changedPaths) {
		wr.Reason = "changed files present but no coverage data reported"
		return wr
	}

	wr.CoverageMet = coverageMet(wr.Thresholds, result.Coverage)
	if !wr.CoverageMet {
		wr.Reason = coverageFailureReason(wr.Thresholds, result.Coverage)
		return wr
	}
	wr.Passed = true
	return wr
}

// coverageMet checks a job's coverage against the resolved thresholds.
// A job that reports no coverage data fails any non-zero threshold.
func coverageMet(t coverage.Thresholds, stats *build.CoverageStats) bool {
	if stats == nil {
		return t.Lines <= 0 && t.Statements <= 0 && t.Functions <= 0 && t.Branches <= 0
	}
	return t.Met(stats.Lines, stats.Statements, stats.Functions, stats.Branches)
}

func coverageFailureReason(t coverage.Thresholds, stats *build.CoverageStats) string {
	if stats == nil {
		return fmt.Sprintf("no coverage data reported; thresholds require %.0f%% lines", t.Lines)
	}
	var parts []string
	if stats.Lines < t.Lines {
		parts = append(parts, fmt.Sprintf("lines %.1f%% < %.0f%%", stats.Lines, t.Lines))
	}
	if stats.Statements < t.Statements {
		parts = append(parts, fmt.Sprintf("statements %.1f%% < %.0f%%", stats.Statements, t.Statements))
	}
	if stats.Functions < t.Functions {
		parts = append(parts, fmt.Sprintf("functions %.1f%% < %.0f%%", stats.Functions, t.Functions))
	}
	if stats.Branches < t.Branches {
		parts = append(parts, fmt.Sprintf("branches %.1f%% < %.0f%%", stats.Branches, t.Branches))
	}
	return "coverage below threshold: " + strings.Join(parts, ", ")
}

func (o *Orchestrator) finishRun(runID, status string, outcome *Outcome) error {
	summary, err := json.Marshal(map[string]any{
		"passed": outcome.Passed,
		"reason": outcome.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	details, err := json.Marshal(map[string]any{
		"workspaceRuns": outcome.WorkspaceRuns,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run details: %w", err)
	}
	if err := o.store.UpdateTestRun(runID, status, string(summary), string(details)); err != nil {
		return fmt.Errorf("failed to finish test run %s: %w", runID, err)
	}
	return nil
}

// recordProof stores an idempotent proof built from the sorted job ids.
// Manual runs and branches already cleared for merge are skipped.
func (o *Orchestrator) recordProof(req RunRequest, outcome *Outcome) {
	if req.Source == persistence.RunSourceManual {
		return
	}
	if req.BranchReadyForMerge {
		return
	}

	jobIDs := make([]string, 0, len(outcome.WorkspaceRuns))
	for _, wr := range outcome.WorkspaceRuns {
		if wr.JobID != "" {
			jobIDs = append(jobIDs, wr.JobID)
		}
	}
	if len(jobIDs) == 0 {
		return
	}
	sort.Strings(jobIDs)
	proofKey := strings.Join(jobIDs, "+")

	recorded, err := o.store.RecordProof(req.BranchID, proofKey, outcome.RunID)
	if err != nil {
		o.logger.Error("failed to record proof for branch %s: %v", req.BranchID, err)
		return
	}
	outcome.ProofRecorded = recorded
	if recorded {
		o.logger.Info("recorded verification proof for branch %s (run %s)", req.BranchID, outcome.RunID)
	} else {
		o.logger.Debug("proof for branch %s already recorded, skipping", req.BranchID)
	}
}
