// Package kernel manages shared infrastructure for the autopilot
// process: configuration, persistence, the planning client, the build
// service, the test gate, and the session engine. It provides a single
// source of truth for startup and shutdown order.
package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"autopilot/pkg/autopilot"
	"autopilot/pkg/build"
	"autopilot/pkg/config"
	"autopilot/pkg/gate"
	"autopilot/pkg/llm"
	"autopilot/pkg/logx"
	"autopilot/pkg/persistence"
	"autopilot/pkg/planner"
	"autopilot/pkg/tokens"
)

// Kernel owns the process-wide services and their lifecycle.
type Kernel struct {
	// Context is embedded rather than a field to avoid containedctx lint error
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Settings *config.Settings
	Logger   *logx.Logger

	// Core services (concrete types, no over-abstraction)
	Store        *persistence.Store
	BuildService *build.Service
	LLMClient    llm.Client
	Generator    *planner.Generator
	Gate         *gate.Orchestrator
	Engine       *autopilot.Engine
	Exporter     *autopilot.EventExporter

	projectDir string
	running    bool
}

// NewKernel loads settings for the project directory and initializes
// all services. Nothing is started yet; call Start.
func NewKernel(parent context.Context, projectDir string) (*Kernel, error) {
	ctx, cancel := context.WithCancel(parent)
	logger := logx.NewLogger("kernel")

	// Load always returns usable settings; a corrupt file degrades to
	// defaults with a warning rather than blocking startup.
	settings, err := config.Load(projectDir)
	if err != nil {
		logger.Warn("settings load failed, continuing with defaults: %v", err)
	}

	k := &Kernel{
		ctx:        ctx,
		cancel:     cancel,
		Settings:   &settings,
		Logger:     logger,
		projectDir: projectDir,
	}

	if err := k.initializeServices(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices() error {
	if err := k.initializeStore(); err != nil {
		return err
	}

	k.BuildService = build.NewService()

	client, err := llm.NewClient(k.Settings.LLM.Provider, k.Settings.LLM.Model, "")
	if err != nil {
		return logx.Errorf("failed to create LLM client: %w", err)
	}
	k.LLMClient = client

	counter, err := tokens.NewCounter()
	if err != nil {
		return fmt.Errorf("failed to create token counter: %w", err)
	}
	k.Generator = planner.NewGenerator(k.LLMClient, counter)

	k.Gate = gate.NewOrchestrator(k.Store, k.BuildService, nil, gate.NewRunLimiter(nil), k.Settings)
	k.Engine = autopilot.NewEngine(k.Store, k.Generator, k.Gate)

	exporter, err := autopilot.NewEventExporter(filepath.Join(k.projectDir, config.SettingsDir, "events"))
	if err != nil {
		return fmt.Errorf("failed to create event exporter: %w", err)
	}
	k.Exporter = exporter
	k.Engine.SetExporter(exporter)

	k.Logger.Info("Kernel services initialized successfully")
	return nil
}

func (k *Kernel) initializeStore() error {
	stateDir := filepath.Join(k.projectDir, config.SettingsDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := filepath.Join(stateDir, "autopilot.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		return logx.Wrap(err, "failed to open database")
	}
	k.Store = store
	k.Logger.Info("Database initialized with schema: %s", dbPath)
	return nil
}

// Start marks the kernel running. Services are passive until driven by
// the engine, so startup is cheap; the method exists to keep the
// lifecycle explicit and symmetric with Stop.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}
	k.running = true
	k.Logger.Info("Kernel services started")
	return nil
}

// Context returns the kernel's lifecycle context. It is cancelled on
// Stop, which is how long-running operations learn about shutdown.
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// ProjectDir returns the project directory path.
func (k *Kernel) ProjectDir() string {
	return k.projectDir
}

// Stop gracefully shuts down all kernel services in reverse order of
// initialization.
func (k *Kernel) Stop() error {
	if !k.running {
		return nil
	}
	k.Logger.Info("Stopping kernel services...")

	// Cancel the context first so in-flight operations stop producing
	// writes before the database closes.
	k.cancel()

	if k.Exporter != nil {
		if err := k.Exporter.Close(); err != nil {
			k.Logger.Warn("Error closing event exporter: %v", err)
		}
	}
	if k.Store != nil {
		if err := k.Store.Close(); err != nil {
			k.Logger.Error("Error closing database: %v", err)
		}
	}

	k.running = false
	k.Logger.Info("Kernel services stopped")
	return nil
}
