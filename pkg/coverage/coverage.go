// Package coverage resolves effective per-workspace coverage thresholds
// from layered global and project settings.
package coverage

import (
	"math"

	"autopilot/pkg/logx"
)

// Thresholds holds the minimum coverage percentages a workspace must meet,
// each in [0,100].
type Thresholds struct {
	Lines      float64 `json:"lines"`
	Statements float64 `json:"statements"`
	Functions  float64 `json:"functions"`
	Branches   float64 `json:"branches"`
}

// DefaultTarget is the hard-coded coverage target applied when no
// configuration layer provides a valid one.
const DefaultTarget = 100

// WorkspaceMode selects how a workspace's coverage target is sourced.
type WorkspaceMode string

const (
	// ModeGlobal defers to the global coverage target.
	ModeGlobal WorkspaceMode = "global"
	// ModeCustom uses the workspace's own coverage target.
	ModeCustom WorkspaceMode = "custom"
)

// GlobalSettings is the orchestrator-wide coverage configuration layer.
type GlobalSettings struct {
	CoverageTarget *float64 `json:"coverage_target,omitempty" yaml:"coverage_target,omitempty"`
}

// WorkspaceSettings is the per-workspace project configuration layer.
type WorkspaceSettings struct {
	Mode                    WorkspaceMode `json:"mode" yaml:"mode"`
	CoverageTarget          *float64      `json:"coverage_target,omitempty" yaml:"coverage_target,omitempty"`
	EffectiveCoverageTarget *float64      `json:"effective_coverage_target,omitempty" yaml:"effective_coverage_target,omitempty"`
}

// Sources supplies the settings loaders consulted during resolution.
// Loader errors are absorbed - a failing layer is treated as absent, never
// propagated, so resolution always produces a usable policy.
type Sources struct {
	Global  func() (*GlobalSettings, error)
	Project func(workspace string) (*WorkspaceSettings, error)
}

//nolint:gochecknoglobals // Package-level component logger
var logger = logx.NewLogger("coverage")

// ResolvePolicy produces the effective thresholds for a workspace via the
// fallback chain: custom workspace target, precomputed effective target,
// global target, hard default. The first valid layer wins and its single
// percentage applies to all four sub-metrics.
func ResolvePolicy(workspace string, sources Sources) Thresholds {
	target := float64(DefaultTarget)

	ws := loadWorkspace(workspace, sources)
	global := loadGlobal(sources)

	switch {
	case ws != nil && ws.Mode == ModeCustom && validTarget(ws.CoverageTarget):
		target = *ws.CoverageTarget
	case ws != nil && validTarget(ws.EffectiveCoverageTarget):
		target = *ws.EffectiveCoverageTarget
	case global != nil && validTarget(global.CoverageTarget):
		target = *global.CoverageTarget
	}

	return Uniform(target)
}

// Uniform returns thresholds with the same target for all four sub-metrics.
func Uniform(target float64) Thresholds {
	return Thresholds{
		Lines:      target,
		Statements: target,
		Functions:  target,
		Branches:   target,
	}
}

// Met reports whether the measured percentages satisfy the thresholds.
func (t Thresholds) Met(lines, statements, functions, branches float64) bool {
	return lines >= t.Lines &&
		statements >= t.Statements &&
		functions >= t.Functions &&
		branches >= t.Branches
}

func loadWorkspace(workspace string, sources Sources) *WorkspaceSettings {
	if sources.Project == nil {
		return nil
	}
	ws, err := sources.Project(workspace)
	if err != nil {
		logger.Warn("project settings unavailable for workspace %q, falling back: %v", workspace, err)
		return nil
	}
	return ws
}

func loadGlobal(sources Sources) *GlobalSettings {
	if sources.Global == nil {
		return nil
	}
	global, err := sources.Global()
	if err != nil {
		logger.Warn("global settings unavailable, falling back: %v", err)
		return nil
	}
	return global
}

func validTarget(target *float64) bool {
	if target == nil {
		return false
	}
	v := *target
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 100
}
