// Package metrics exposes Prometheus instrumentation for the gate and
// session engine, plus a query service for reading aggregates back.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are process-wide by design
var (
	// TestRunsStarted counts test runs admitted by the gate, by project.
	TestRunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_test_runs_started_total",
		Help: "Test runs admitted by the gate orchestrator.",
	}, []string{"project_id"})

	// TestRunsCompleted counts terminal test runs by project and outcome.
	TestRunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_test_runs_completed_total",
		Help: "Test runs that reached a terminal status.",
	}, []string{"project_id", "status"})

	// RateLimitRejections counts run requests rejected by the limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_rate_limit_rejections_total",
		Help: "Test run requests rejected by the minimum-interval limiter.",
	}, []string{"project_id"})

	// SessionsByStatus tracks active autopilot sessions per status.
	SessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autopilot_sessions",
		Help: "Autopilot sessions currently in each status.",
	}, []string{"status"})

	// StepsCompleted counts finished autopilot steps by project.
	StepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_steps_completed_total",
		Help: "Autopilot plan steps completed.",
	}, []string{"project_id"})

	// LLMTokens counts tokens exchanged with the planning model.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_llm_tokens_total",
		Help: "Tokens sent to and received from the planning model.",
	}, []string{"provider", "type"})
)
