package build

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"autopilot/pkg/logx"
)

// Service is the in-process JobRunner. It spawns workspace test commands
// selected by workspace kind and tracks each job until completion.
type Service struct {
	logger *logx.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	done   chan struct{}
	result JobResult
}

// NewService creates a local job runner.
func NewService() *Service {
	return &Service{
		logger: logx.NewLogger("build-service"),
		jobs:   make(map[string]*job),
	}
}

// StartJob implements JobRunner. The command runs in its own goroutine;
// failures are recorded in the job result, never raised to the caller.
func (s *Service) StartJob(ctx context.Context, kind string, spec JobSpec) (string, error) {
	argvs, err := commandsFor(kind, spec)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	j := &job{done: make(chan struct{})}

	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	s.logger.Info("Job %s started: %s for workspace %q (project %s)", id, kind, spec.WorkspaceName, spec.ProjectID)

	go s.execute(ctx, id, j, spec, argvs)
	return id, nil
}

// WaitForJobCompletion implements JobRunner.
func (s *Service) WaitForJobCompletion(ctx context.Context, id string) (JobResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return JobResult{}, fmt.Errorf("unknown job id: %s", id)
	}

	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return JobResult{}, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
	}
}

func (s *Service) execute(ctx context.Context, id string, j *job, spec JobSpec, argvs [][]string) {
	defer close(j.done)

	dir := spec.ProjectDir
	if spec.WorkspaceCwd != "" {
		dir = filepath.Join(spec.ProjectDir, spec.WorkspaceCwd)
	}

	var logs strings.Builder
	result := JobResult{ID: id, Status: StatusSucceeded}

	for _, argv := range argvs {
		logs.WriteString(fmt.Sprintf("$ %s\n", strings.Join(argv, " ")))

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv assembled from fixed kind tables
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		logs.Write(out)

		if err != nil {
			result.Status = StatusFailed
			result.ExitCode = exitCodeOf(cmd, err)
			s.logger.Warn("Job %s failed: %v", id, err)
			break
		}
	}

	result.Logs = logs.String()
	if result.Status == StatusSucceeded {
		result.Coverage = readCoverageSummary(dir)
		s.logger.Info("Job %s succeeded", id)
	}

	j.result = result
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// commandsFor maps a job kind to the argv sequence for the workspace.
func commandsFor(kind string, spec JobSpec) ([][]string, error) {
	switch kind {
	case KindFrontendTests:
		var argvs [][]string
		if spec.InstallDeps {
			argvs = append(argvs, []string{"npm", "ci"})
		}
		argvs = append(argvs, []string{"npm", "test", "--", "--watchAll=false"})
		return argvs, nil
	case KindBackendTests:
		switch spec.WorkspaceKind {
		case "go":
			return [][]string{{"go", "test", "./..."}}, nil
		case "python":
			return [][]string{{"pytest"}}, nil
		default:
			var argvs [][]string
			if spec.InstallDeps {
				argvs = append(argvs, []string{"npm", "ci"})
			}
			argvs = append(argvs, []string{"npm", "test"})
			return argvs, nil
		}
	default:
		return nil, fmt.Errorf("unknown job kind: %q", kind)
	}
}

// readCoverageSummary loads an istanbul-style coverage summary if the test
// run produced one. Absent or unreadable summaries return nil - coverage
// simply goes unreported for the job.
func readCoverageSummary(dir string) *CoverageStats {
	data, err := os.ReadFile(filepath.Join(dir, "coverage", "coverage-summary.json"))
	if err != nil {
		return nil
	}

	type metric struct {
		Pct float64 `json:"pct"`
	}
	var summary struct {
		Total struct {
			Lines      metric `json:"lines"`
			Statements metric `json:"statements"`
			Functions  metric `json:"functions"`
			Branches   metric `json:"branches"`
		} `json:"total"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil
	}

	return &CoverageStats{
		Lines:      summary.Total.Lines.Pct,
		Statements: summary.Total.Statements.Pct,
		Functions:  summary.Total.Functions.Pct,
		Branches:   summary.Total.Branches.Pct,
	}
}
