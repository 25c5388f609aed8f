// Command autopilot plans a prompt into steps and drives them to
// completion, with pause/resume/cancel from the terminal and a test
// gate before anything is declared ready to merge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopilot/internal/kernel"
	"autopilot/pkg/autopilot"
	"autopilot/pkg/llm"
	"autopilot/pkg/metrics"
)

func main() {
	var projectDir string
	var prompt string
	var uiSessionID string
	var metricsAddr string
	var statsURL string
	var pollInterval time.Duration
	flag.StringVar(&projectDir, "project", "", "Project directory (default: current directory)")
	flag.StringVar(&prompt, "prompt", "", "Goal to run; omit to resume the last active session")
	flag.StringVar(&uiSessionID, "ui-session", "", "Opaque client session id used for resume")
	flag.StringVar(&metricsAddr, "metrics", "", "Address for the Prometheus /metrics endpoint, e.g. :9090")
	flag.StringVar(&statsURL, "stats", "", "Prometheus base URL; print the project's aggregate stats and exit")
	flag.DurationVar(&pollInterval, "poll", autopilot.DefaultPollInterval, "Status poll interval")
	flag.Parse()

	if projectDir == "" {
		projectDir, _ = os.Getwd()
	}

	if statsURL != "" {
		if err := printProjectStats(statsURL, projectDir); err != nil {
			log.Fatalf("Failed to query stats: %v", err)
		}
		return
	}

	k, err := kernel.NewKernel(context.Background(), projectDir)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	if err := k.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if err := k.Stop(); err != nil {
			k.Logger.Error("Shutdown error: %v", err)
		}
	}()

	if metricsAddr != "" {
		startMetricsServer(k, metricsAddr)
	}

	session, err := openSession(k, prompt, uiSessionID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	planned := autopilot.DeriveProgress(session.Events)
	fmt.Printf("session %s (%d planned steps)\n", session.ID, len(planned.Steps))

	// Cancel the session on the first signal; force exit on the second.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		k.Logger.Info("Received signal %v, cancelling session", sig)
		if err := k.Engine.Control(session.ID, autopilot.ActionCancel); err != nil {
			k.Logger.Error("Cancel failed: %v", err)
		}
		<-sigChan
		os.Exit(1)
	}()

	go driveSteps(k, session.ID)

	poller := autopilot.NewPoller(k.Engine, pollInterval)
	poller.Watch(k.Context(), session.ID, printStatus)
}

// openSession creates a session for the prompt, or resumes the most
// recent active one when no prompt is given.
func openSession(k *kernel.Kernel, prompt, uiSessionID string) (*autopilot.Session, error) {
	if prompt != "" {
		return k.Engine.Create(k.Context(), k.ProjectDir(), uiSessionID, prompt)
	}
	resumed := k.Engine.ResumeActive(uiSessionID, 1)
	if len(resumed) == 0 {
		return nil, fmt.Errorf("no prompt given and no active session to resume")
	}
	fmt.Printf("resuming session %s\n", resumed[0].ID)
	return resumed[0], nil
}

// driveSteps walks the plan, executing each step through the planning
// model until no next step remains. The engine handles parking for
// user input, pause, and cancellation; this loop only proposes work.
func driveSteps(k *kernel.Kernel, sessionID string) {
	lastCompleted := -1
	for {
		snapshot, err := k.Engine.StatusSnapshot(sessionID)
		if err != nil {
			k.Logger.Error("Failed to load session %s: %v", sessionID, err)
			return
		}
		if autopilot.IsTerminalStatus(snapshot.Status) {
			return
		}

		progress := autopilot.DeriveProgress(snapshot.Events)
		step := progress.Current
		if step == "" {
			step = progress.Next
		}
		if step == "" {
			return
		}

		err = k.Engine.AdvanceStep(k.Context(), sessionID, step, func(ctx context.Context) error {
			response, err := k.LLMClient.GenerateResponse(ctx, []llm.Message{
				{Role: llm.RoleUser, Content: step},
			}, llm.Options{})
			if err != nil {
				return err
			}
			k.Logger.Debug("step %q produced %d bytes", step, len(response))
			return nil
		})
		if err != nil {
			k.Logger.Error("Step %q failed: %v", step, err)
			return
		}

		// Back off while the session is blocked (parked for user input
		// or paused) so the loop does not spin on the same step.
		delay := 100 * time.Millisecond
		if len(progress.Completed) == lastCompleted {
			delay = 2 * time.Second
		}
		lastCompleted = len(progress.Completed)

		select {
		case <-k.Context().Done():
			return
		case <-time.After(delay):
		}
	}
}

func printStatus(s *autopilot.Session) {
	progress := autopilot.DeriveProgress(s.Events)
	line := fmt.Sprintf("[%s] %d/%d steps", s.Status, len(progress.Completed), len(progress.Steps))
	if progress.Current != "" {
		line += " | current: " + progress.Current
	}
	if s.StatusMessage != "" {
		line += " | " + s.StatusMessage
	}
	fmt.Println(line)
}

// printProjectStats reads the project's aggregate counters back from a
// Prometheus server scraping the -metrics endpoint.
func printProjectStats(prometheusURL, projectID string) error {
	svc, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pm, err := svc.GetProjectMetrics(ctx, projectID)
	if err != nil {
		return err
	}
	fmt.Printf("project %s\n", pm.ProjectID)
	fmt.Printf("  runs started:    %d\n", pm.RunsStarted)
	fmt.Printf("  runs passed:     %d\n", pm.RunsPassed)
	fmt.Printf("  runs failed:     %d\n", pm.RunsFailed)
	fmt.Printf("  steps completed: %d\n", pm.StepsCompleted)
	fmt.Printf("  rate limited:    %d\n", pm.RateLimited)

	usage, err := svc.GetTokenUsage(ctx)
	if err != nil {
		return err
	}
	for provider, tokens := range usage {
		fmt.Printf("  %s tokens:       %d\n", provider, tokens)
	}
	return nil
}

func startMetricsServer(k *kernel.Kernel, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		k.Logger.Info("Metrics available at http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			k.Logger.Error("Metrics server error: %v", err)
		}
	}()
	go func() {
		<-k.Context().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
