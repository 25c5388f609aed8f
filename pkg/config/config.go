// Package config loads and validates project settings for the autopilot
// engine. Settings live in .autopilot/settings.yaml under the project
// root and are always accessed by value to prevent external mutation.
//
// Configuration is strictly separated from state: build results, run
// timestamps, and session data belong in the database, never in here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"autopilot/pkg/coverage"
	"autopilot/pkg/logx"
)

// SchemaVersion is the current settings schema version. Any settings
// change must increment it.
const SchemaVersion = 1

// SettingsDir is the project-relative directory holding autopilot files.
const SettingsDir = ".autopilot"

// SettingsFile is the settings file name inside SettingsDir.
const SettingsFile = "settings.yaml"

// DefaultMinRunIntervalMS is the default minimum interval between
// test-run requests per project+branch.
const DefaultMinRunIntervalMS = 10_000

// LLMSettings selects the planning model.
type LLMSettings struct {
	Provider string `yaml:"provider"` // anthropic, openai, google, ollama
	Model    string `yaml:"model"`
}

// GateSettings configures the test/coverage gate.
type GateSettings struct {
	MinRunIntervalMS     int64 `yaml:"min_run_interval_ms"`
	ChangedFilesCoverage bool  `yaml:"changed_files_coverage"`
}

// Workspace describes an independently testable sub-project.
type Workspace struct {
	Name string `yaml:"name"`
	Cwd  string `yaml:"cwd"`
	Kind string `yaml:"kind"` // runtime identifier, e.g. "node", "go"
}

// Settings is the full project configuration.
//
//nolint:govet // struct alignment optimization not critical for this type
type Settings struct {
	SchemaVersion int                                    `yaml:"schema_version"`
	LLM           LLMSettings                            `yaml:"llm"`
	Gate          GateSettings                           `yaml:"gate"`
	Coverage      coverage.GlobalSettings                `yaml:"coverage"`
	Workspaces    []Workspace                            `yaml:"workspaces"`
	WorkspaceCov  map[string]*coverage.WorkspaceSettings `yaml:"workspace_coverage"`
}

//nolint:gochecknoglobals // Package logger mirrors other component loggers
var logger = logx.NewLogger("config")

// Default returns settings with all defaults applied.
func Default() Settings {
	return Settings{
		SchemaVersion: SchemaVersion,
		LLM:           LLMSettings{Provider: "anthropic"},
		Gate:          GateSettings{MinRunIntervalMS: DefaultMinRunIntervalMS},
	}
}

// Path returns the settings file path for a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, SettingsDir, SettingsFile)
}

// Load reads settings from the project directory, returning defaults when
// the file is missing. The returned value is a copy - mutations do not
// affect the file until Save is called.
func Load(projectDir string) (Settings, error) {
	settings := Default()

	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("no settings file in %s, using defaults", projectDir)
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Default(), fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// Save validates and atomically writes settings to the project directory.
func Save(projectDir string, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid settings: %w", err)
	}
	settings.SchemaVersion = SchemaVersion

	dir := filepath.Join(projectDir, SettingsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(&settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := Path(projectDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, Path(projectDir)); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// Validate checks structural invariants.
func (s *Settings) Validate() error {
	if s.SchemaVersion > SchemaVersion {
		return fmt.Errorf("settings schema version %d is newer than supported version %d", s.SchemaVersion, SchemaVersion)
	}
	seen := make(map[string]bool, len(s.Workspaces))
	for i := range s.Workspaces {
		ws := &s.Workspaces[i]
		if ws.Name == "" {
			return fmt.Errorf("workspace %d has no name", i)
		}
		if seen[ws.Name] {
			return fmt.Errorf("duplicate workspace name %q", ws.Name)
		}
		seen[ws.Name] = true
	}
	return nil
}

// CoverageSources adapts the settings into the resolver's loader contract.
func (s *Settings) CoverageSources() coverage.Sources {
	return coverage.Sources{
		Global: func() (*coverage.GlobalSettings, error) {
			return &s.Coverage, nil
		},
		Project: func(workspace string) (*coverage.WorkspaceSettings, error) {
			if s.WorkspaceCov == nil {
				return nil, nil //nolint:nilnil // absent layer, resolver falls through
			}
			return s.WorkspaceCov[workspace], nil
		},
	}
}
