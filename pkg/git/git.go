// Package git provides the minimal git plumbing the test gate needs:
// repository checks and changed-path discovery. The engine never parses
// porcelain output beyond receiving a changed-path list.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"autopilot/pkg/logx"
)

// Runner executes git commands with dependency injection support.
type Runner interface {
	// Run executes a git command in the specified directory.
	// Returns stdout+stderr combined output and any error.
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// DefaultRunner implements Runner using the system git command.
type DefaultRunner struct {
	logger *logx.Logger
}

// NewDefaultRunner creates a runner backed by the system git binary.
func NewDefaultRunner() *DefaultRunner {
	return &DefaultRunner{
		logger: logx.NewLogger("git"),
	}
}

// Run executes a git command using exec.CommandContext.
func (g *DefaultRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	cmdDesc := strings.Join(args, " ")
	g.logger.Debug("Executing git command: cd %s && git %s", dir, cmdDesc)

	output, err := cmd.CombinedOutput()
	if err != nil {
		g.logger.Error("Git command failed: %s (exit status: %v)", cmdDesc, err)
		g.logger.Error("Git output: %s", string(output))
		return output, fmt.Errorf("git %s failed: %w", cmdDesc, err)
	}
	return output, nil
}

// EnsureRepository verifies that dir is inside a git work tree.
func EnsureRepository(ctx context.Context, runner Runner, dir string) error {
	out, err := runner.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return fmt.Errorf("%s is not a git repository: %w", dir, err)
	}
	if strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("%s is not inside a git work tree", dir)
	}
	return nil
}

// ChangedPaths returns the paths changed on the current branch relative to
// baseRef, plus any staged or unstaged modifications. Paths are repo-relative.
func ChangedPaths(ctx context.Context, runner Runner, dir, baseRef string) ([]string, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}

	out, err := runner.Run(ctx, dir, "diff", "--name-only", baseRef)
	if err != nil {
		return nil, fmt.Errorf("failed to discover changed paths: %w", err)
	}

	var paths []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		path := strings.TrimSpace(line)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths, nil
}
