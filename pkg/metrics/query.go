package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ProjectMetrics represents aggregated gate and session metrics for a project.
type ProjectMetrics struct {
	ProjectID      string `json:"project_id"`
	RunsStarted    int64  `json:"runs_started"`
	RunsPassed     int64  `json:"runs_passed"`
	RunsFailed     int64  `json:"runs_failed"`
	StepsCompleted int64  `json:"steps_completed"`
	RateLimited    int64  `json:"rate_limited"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetProjectMetrics retrieves aggregated run and step counts for a project.
func (q *QueryService) GetProjectMetrics(ctx context.Context, projectID string) (*ProjectMetrics, error) {
	metrics := &ProjectMetrics{
		ProjectID: projectID,
	}

	queries := []struct {
		target *int64
		expr   string
	}{
		{&metrics.RunsStarted, fmt.Sprintf(`sum(autopilot_test_runs_started_total{project_id=%q})`, projectID)},
		{&metrics.RunsPassed, fmt.Sprintf(`sum(autopilot_test_runs_completed_total{project_id=%q, status="passed"})`, projectID)},
		{&metrics.RunsFailed, fmt.Sprintf(`sum(autopilot_test_runs_completed_total{project_id=%q, status="failed"})`, projectID)},
		{&metrics.StepsCompleted, fmt.Sprintf(`sum(autopilot_steps_completed_total{project_id=%q})`, projectID)},
		{&metrics.RateLimited, fmt.Sprintf(`sum(autopilot_rate_limit_rejections_total{project_id=%q})`, projectID)},
	}

	for _, query := range queries {
		result, _, err := q.queryAPI.Query(ctx, query.expr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", query.expr, err)
		}
		if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
			*query.target = int64(vector[0].Value)
		}
	}

	return metrics, nil
}

// GetTokenUsage retrieves total planning-model token usage by provider.
func (q *QueryService) GetTokenUsage(ctx context.Context) (map[string]int64, error) {
	usage := make(map[string]int64)

	result, _, err := q.queryAPI.Query(ctx, `sum by (provider) (autopilot_llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}

	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if provider, ok := sample.Metric["provider"]; ok {
				usage[string(provider)] = int64(sample.Value)
			}
		}
	}

	return usage, nil
}
