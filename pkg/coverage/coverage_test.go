package coverage

import (
	"fmt"
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func sources(global *GlobalSettings, ws *WorkspaceSettings) Sources {
	return Sources{
		Global:  func() (*GlobalSettings, error) { return global, nil },
		Project: func(string) (*WorkspaceSettings, error) { return ws, nil },
	}
}

func TestCustomModeWins(t *testing.T) {
	got := ResolvePolicy("frontend", sources(
		&GlobalSettings{CoverageTarget: ptr(90)},
		&WorkspaceSettings{Mode: ModeCustom, CoverageTarget: ptr(75)},
	))
	if got != Uniform(75) {
		t.Errorf("expected custom target 75 on all metrics, got %+v", got)
	}
}

func TestOutOfRangeCustomFallsThroughToGlobal(t *testing.T) {
	// Custom 120 is out of range; global 90 is the next valid layer.
	got := ResolvePolicy("frontend", sources(
		&GlobalSettings{CoverageTarget: ptr(90)},
		&WorkspaceSettings{Mode: ModeCustom, CoverageTarget: ptr(120)},
	))
	want := Thresholds{Lines: 90, Statements: 90, Functions: 90, Branches: 90}
	if got != want {
		t.Errorf("expected global fallback %+v, got %+v", want, got)
	}
}

func TestEffectiveTargetLayer(t *testing.T) {
	got := ResolvePolicy("backend", sources(
		&GlobalSettings{CoverageTarget: ptr(90)},
		&WorkspaceSettings{Mode: ModeGlobal, EffectiveCoverageTarget: ptr(80)},
	))
	if got != Uniform(80) {
		t.Errorf("expected effective target 80, got %+v", got)
	}
}

func TestHardDefault(t *testing.T) {
	got := ResolvePolicy("backend", sources(nil, nil))
	if got != Uniform(DefaultTarget) {
		t.Errorf("expected hard default %d, got %+v", DefaultTarget, got)
	}

	got = ResolvePolicy("backend", Sources{})
	if got != Uniform(DefaultTarget) {
		t.Errorf("expected hard default with nil loaders, got %+v", got)
	}
}

func TestLoaderErrorsAbsorbed(t *testing.T) {
	got := ResolvePolicy("backend", Sources{
		Global:  func() (*GlobalSettings, error) { return nil, fmt.Errorf("storage unavailable") },
		Project: func(string) (*WorkspaceSettings, error) { return nil, fmt.Errorf("storage unavailable") },
	})
	if got != Uniform(DefaultTarget) {
		t.Errorf("loader errors must resolve to the default policy, got %+v", got)
	}
}

func TestNonFiniteTargetsRejected(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -5, 101} {
		got := ResolvePolicy("ws", sources(
			&GlobalSettings{CoverageTarget: ptr(bad)},
			nil,
		))
		if got != Uniform(DefaultTarget) {
			t.Errorf("target %v should be rejected, got %+v", bad, got)
		}
	}
}

func TestMet(t *testing.T) {
	th := Uniform(80)
	if !th.Met(80, 85, 90, 80) {
		t.Error("expected thresholds met at the boundary")
	}
	if th.Met(80, 85, 79.9, 80) {
		t.Error("expected thresholds unmet when one metric falls short")
	}
}
