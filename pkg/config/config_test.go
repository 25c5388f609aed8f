package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/pkg/coverage"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	settings, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, settings.SchemaVersion)
	assert.Equal(t, "anthropic", settings.LLM.Provider)
	assert.Equal(t, int64(DefaultMinRunIntervalMS), settings.Gate.MinRunIntervalMS)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	settings := Default()
	settings.LLM.Model = "claude-sonnet-4-20250514"
	target := 85.0
	settings.Coverage.CoverageTarget = &target
	settings.Workspaces = []Workspace{
		{Name: "frontend", Cwd: "frontend", Kind: "node"},
		{Name: "backend", Cwd: "backend", Kind: "go"},
	}

	require.NoError(t, Save(dir, settings))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, settings.LLM.Model, loaded.LLM.Model)
	require.NotNil(t, loaded.Coverage.CoverageTarget)
	assert.Equal(t, 85.0, *loaded.Coverage.CoverageTarget)
	assert.Len(t, loaded.Workspaces, 2)
}

func TestValidateRejectsDuplicateWorkspaces(t *testing.T) {
	settings := Default()
	settings.Workspaces = []Workspace{
		{Name: "frontend", Kind: "node"},
		{Name: "frontend", Kind: "node"},
	}
	assert.Error(t, settings.Validate())
}

func TestLoadCorruptFileFallsBackWithError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, SettingsDir), 0o755))
	require.NoError(t, os.WriteFile(Path(dir), []byte("{not yaml"), 0o644))

	settings, err := Load(dir)
	assert.Error(t, err)
	// Even on error the returned settings are usable defaults.
	assert.Equal(t, int64(DefaultMinRunIntervalMS), settings.Gate.MinRunIntervalMS)
}

func TestCoverageSourcesFeedResolver(t *testing.T) {
	settings := Default()
	global := 90.0
	custom := 70.0
	settings.Coverage.CoverageTarget = &global
	settings.WorkspaceCov = map[string]*coverage.WorkspaceSettings{
		"frontend": {Mode: coverage.ModeCustom, CoverageTarget: &custom},
	}

	sources := settings.CoverageSources()
	assert.Equal(t, coverage.Uniform(70), coverage.ResolvePolicy("frontend", sources))
	assert.Equal(t, coverage.Uniform(90), coverage.ResolvePolicy("backend", sources))
}
