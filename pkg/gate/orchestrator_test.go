package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"autopilot/pkg/build"
	"autopilot/pkg/config"
	"autopilot/pkg/persistence"
)

// fakeRunner returns scripted results keyed by workspace name, with
// deterministic job ids.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]build.JobResult
	started []string
}

func (r *fakeRunner) StartJob(_ context.Context, _ string, spec build.JobSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[spec.WorkspaceName]; !ok {
		return "", fmt.Errorf("no result scripted for workspace %s", spec.WorkspaceName)
	}
	id := "job-" + spec.WorkspaceName
	r.started = append(r.started, id)
	return id, nil
}

func (r *fakeRunner) WaitForJobCompletion(_ context.Context, id string) (build.JobResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	workspace := strings.TrimPrefix(id, "job-")
	result, ok := r.results[workspace]
	if !ok {
		return build.JobResult{}, fmt.Errorf("unknown job %s", id)
	}
	result.ID = id
	return result, nil
}

// fakeGit answers repository checks and changed-path queries without a
// real repository.
type fakeGit struct {
	changed []string
}

func (g *fakeGit) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	if len(args) > 0 && args[0] == "rev-parse" {
		return []byte("true\n"), nil
	}
	return []byte(strings.Join(g.changed, "\n")), nil
}

func newTestOrchestrator(t *testing.T, runner build.JobRunner, gitRun *fakeGit, settings *config.Settings) (*Orchestrator, *persistence.Store, *fakeClock, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "gate_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	store, err := persistence.Open(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	cleanup := func() {
		store.Close()
		os.RemoveAll(tempDir)
	}

	clock := &fakeClock{now: time.Unix(0, 0)}
	orch := NewOrchestrator(store, runner, gitRun, NewRunLimiter(clock.Now), settings)
	return orch, store, clock, cleanup
}

func passingSettings() *config.Settings {
	settings := config.Default()
	settings.Workspaces = []config.Workspace{
		{Name: "web", Cwd: "web", Kind: "node"},
		{Name: "api", Cwd: "api", Kind: "go"},
	}
	target := 80.0
	settings.Coverage.CoverageTarget = &target
	return &settings
}

func fullCoverage() *build.CoverageStats {
	return &build.CoverageStats{Lines: 95, Statements: 95, Functions: 95, Branches: 95}
}

func TestRunAllWorkspacesPass(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
		"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	orch, store, _, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
	defer cleanup()

	outcome, err := orch.Run(context.Background(), RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch", Scope: ScopeAll,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !outcome.Passed {
		t.Errorf("Expected pass, got failure: %s", outcome.Reason)
	}
	if len(outcome.WorkspaceRuns) != 2 {
		t.Fatalf("Expected 2 workspace runs, got %d", len(outcome.WorkspaceRuns))
	}
	if !outcome.ProofRecorded {
		t.Error("Expected a proof for a passing automated run")
	}

	row, err := store.GetTestRun(outcome.RunID)
	if err != nil {
		t.Fatalf("Failed to load run row: %v", err)
	}
	if row.Status != persistence.RunStatusPassed {
		t.Errorf("Expected passed row, got %s", row.Status)
	}
	if !strings.Contains(row.Details, "workspaceRuns") {
		t.Errorf("Expected details to carry workspace runs: %s", row.Details)
	}
}

func TestRunPartialFailure(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusFailed, ExitCode: 1},
		"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	orch, store, _, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
	defer cleanup()

	outcome, err := orch.Run(context.Background(), RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch", Scope: ScopeAll,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Passed {
		t.Error("Expected overall failure")
	}
	if !strings.Contains(outcome.Reason, "web") {
		t.Errorf("Expected the failing workspace named in the reason: %s", outcome.Reason)
	}

	// One workspace failing must not prevent the other from finishing.
	var apiRun *WorkspaceRun
	for i := range outcome.WorkspaceRuns {
		if outcome.WorkspaceRuns[i].Workspace == "api" {
			apiRun = &outcome.WorkspaceRuns[i]
		}
	}
	if apiRun == nil || !apiRun.Passed {
		t.Error("Expected api workspace to complete and pass")
	}
	if outcome.ProofRecorded {
		t.Error("Failed runs must not record proofs")
	}

	row, err := store.GetTestRun(outcome.RunID)
	if err != nil {
		t.Fatalf("Failed to load run row: %v", err)
	}
	if row.Status != persistence.RunStatusFailed {
		t.Errorf("Expected failed row, got %s", row.Status)
	}
}

func TestRunCoverageGate(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: &build.CoverageStats{Lines: 50, Statements: 50, Functions: 50, Branches: 50}},
		"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	orch, _, _, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
	defer cleanup()

	outcome, err := orch.Run(context.Background(), RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch", Scope: ScopeAll,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Passed {
		t.Error("Expected coverage gate failure")
	}
	if !strings.Contains(outcome.Reason, "coverage below threshold") {
		t.Errorf("Expected a detailed coverage reason, got: %s", outcome.Reason)
	}
	if !strings.Contains(outcome.Reason, "lines 50.0% < 80%") {
		t.Errorf("Expected the failing metric in the reason, got: %s", outcome.Reason)
	}
}

func TestRunRateLimited(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
		"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	orch, store, clock, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
	defer cleanup()

	req := RunRequest{ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch", Scope: ScopeAll}
	if _, err := orch.Run(context.Background(), req); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	clock.Advance(time.Second)
	_, err := orch.Run(context.Background(), req)
	var rateLimited *RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("Expected RateLimitedError, got %v", err)
	}

	// A rejected request must not create a run row.
	runs, err := store.ListTestRunsByBranch("proj", "branch")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("Expected 1 run row, got %d", len(runs))
	}
}

func TestRunIdempotentProof(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
		"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	orch, _, clock, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
	defer cleanup()

	req := RunRequest{ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch", Scope: ScopeAll}
	first, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if !first.ProofRecorded {
		t.Error("Expected first run to record the proof")
	}

	// The fake runner reuses job ids, so the second run submits the same
	// proof key. It must be recognized as a duplicate.
	clock.Advance(time.Minute)
	second, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if second.ProofRecorded {
		t.Error("Expected duplicate proof submission to be a no-op")
	}
}

func TestRunProofSkips(t *testing.T) {
	t.Run("ManualSource", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]build.JobResult{
			"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
			"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
		}}
		orch, _, _, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
		defer cleanup()

		outcome, err := orch.Run(context.Background(), RunRequest{
			ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch",
			Scope: ScopeAll, Source: persistence.RunSourceManual,
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if outcome.ProofRecorded {
			t.Error("Manual runs must not record proofs")
		}
	})

	t.Run("BranchAlreadyReady", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]build.JobResult{
			"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
			"api": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
		}}
		orch, _, _, cleanup := newTestOrchestrator(t, runner, &fakeGit{}, passingSettings())
		defer cleanup()

		outcome, err := orch.Run(context.Background(), RunRequest{
			ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch",
			Scope: ScopeAll, BranchReadyForMerge: true,
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if outcome.ProofRecorded {
			t.Error("Branches already ready for merge must not record proofs")
		}
	})
}

func TestRunSkipsRedundantAutomatedRun(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	gitRun := &fakeGit{changed: []string{"web/src/app.ts"}}
	orch, store, clock, cleanup := newTestOrchestrator(t, runner, gitRun, passingSettings())
	defer cleanup()

	req := RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch",
		BaseRef: "main", Scope: ScopeChanged,
	}
	first, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if !first.Passed {
		t.Fatalf("Expected first run to pass: %s", first.Reason)
	}

	// Same staged paths after the interval: the run is redundant and
	// short-circuits without a new row.
	clock.Advance(time.Minute)
	second, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if !second.Passed || second.RunID != "" {
		t.Errorf("Expected a rowless passing short-circuit, got %+v", second)
	}
	if !strings.Contains(second.Reason, "unchanged") {
		t.Errorf("Expected the redundancy named in the reason: %s", second.Reason)
	}
	runs, err := store.ListTestRunsByBranch("proj", "branch")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("Expected 1 run row after the skip, got %d", len(runs))
	}

	// New staged paths invalidate the snapshot and a real run happens.
	gitRun.changed = []string{"web/src/app.ts", "web/src/auth.ts"}
	clock.Advance(time.Minute)
	third, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Third run failed: %v", err)
	}
	if third.RunID == "" {
		t.Error("Expected changed paths to trigger a fresh run")
	}
}

func TestRunManualIgnoresStagedSnapshot(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	gitRun := &fakeGit{changed: []string{"web/src/app.ts"}}
	orch, _, clock, cleanup := newTestOrchestrator(t, runner, gitRun, passingSettings())
	defer cleanup()

	req := RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch",
		BaseRef: "main", Scope: ScopeChanged,
	}
	if _, err := orch.Run(context.Background(), req); err != nil {
		t.Fatalf("Automated run failed: %v", err)
	}

	// A user asking for a re-run always gets one.
	clock.Advance(time.Minute)
	req.Source = persistence.RunSourceManual
	manual, err := orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Manual run failed: %v", err)
	}
	if manual.RunID == "" {
		t.Error("Expected the manual run to execute despite the unchanged snapshot")
	}
}

func TestRunChangedFilesCoverage(t *testing.T) {
	// Zero thresholds alone would let a job without coverage data pass;
	// the changed-files check still demands data from touched workspaces.
	settings := passingSettings()
	zero := 0.0
	settings.Coverage.CoverageTarget = &zero
	settings.Gate.ChangedFilesCoverage = true

	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: nil},
	}}
	gitRun := &fakeGit{changed: []string{"web/src/app.ts"}}
	orch, _, _, cleanup := newTestOrchestrator(t, runner, gitRun, settings)
	defer cleanup()

	outcome, err := orch.Run(context.Background(), RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch",
		BaseRef: "main", Scope: ScopeChanged,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Passed {
		t.Error("Expected failure for a touched workspace without coverage data")
	}
	if !strings.Contains(outcome.Reason, "no coverage data reported") {
		t.Errorf("Expected the missing data named in the reason: %s", outcome.Reason)
	}
}

func TestRunChangedScope(t *testing.T) {
	runner := &fakeRunner{results: map[string]build.JobResult{
		"web": {Status: build.StatusSucceeded, Coverage: fullCoverage()},
	}}
	gitRun := &fakeGit{changed: []string{"web/src/app.ts"}}
	orch, _, _, cleanup := newTestOrchestrator(t, runner, gitRun, passingSettings())
	defer cleanup()

	outcome, err := orch.Run(context.Background(), RunRequest{
		ProjectID: "proj", ProjectDir: "/tmp/proj", BranchID: "branch",
		BaseRef: "main", Scope: ScopeChanged,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(outcome.WorkspaceRuns) != 1 || outcome.WorkspaceRuns[0].Workspace != "web" {
		t.Errorf("Expected only the touched workspace to run: %+v", outcome.WorkspaceRuns)
	}
	if !outcome.Passed {
		t.Errorf("Expected pass, got: %s", outcome.Reason)
	}
}
