package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newFakePrometheus serves the query API's JSON envelope, delegating the
// result body to a per-query function.
func newFakePrometheus(t *testing.T, result func(query string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":%s}}`, result(r.FormValue("query")))
	}))
}

func vectorSample(labels, value string) string {
	return fmt.Sprintf(`[{"metric":{%s},"value":[1700000000,"%s"]}]`, labels, value)
}

func TestGetProjectMetrics(t *testing.T) {
	server := newFakePrometheus(t, func(query string) string {
		switch {
		case strings.Contains(query, "test_runs_started"):
			return vectorSample("", "9")
		case strings.Contains(query, `status="passed"`):
			return vectorSample("", "7")
		case strings.Contains(query, `status="failed"`):
			return vectorSample("", "2")
		case strings.Contains(query, "steps_completed"):
			return vectorSample("", "31")
		case strings.Contains(query, "rate_limit"):
			return vectorSample("", "1")
		}
		return "[]"
	})
	defer server.Close()

	svc, err := NewQueryService(server.URL)
	if err != nil {
		t.Fatalf("NewQueryService failed: %v", err)
	}

	pm, err := svc.GetProjectMetrics(context.Background(), "proj")
	if err != nil {
		t.Fatalf("GetProjectMetrics failed: %v", err)
	}
	if pm.ProjectID != "proj" {
		t.Errorf("expected project id proj, got %s", pm.ProjectID)
	}
	if pm.RunsStarted != 9 || pm.RunsPassed != 7 || pm.RunsFailed != 2 {
		t.Errorf("unexpected run counts: %+v", pm)
	}
	if pm.StepsCompleted != 31 || pm.RateLimited != 1 {
		t.Errorf("unexpected step/limit counts: %+v", pm)
	}
}

func TestGetProjectMetricsEmptySeries(t *testing.T) {
	server := newFakePrometheus(t, func(string) string { return "[]" })
	defer server.Close()

	svc, err := NewQueryService(server.URL)
	if err != nil {
		t.Fatalf("NewQueryService failed: %v", err)
	}

	// A project with no recorded series reads back as all zeros.
	pm, err := svc.GetProjectMetrics(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("GetProjectMetrics failed: %v", err)
	}
	if pm.RunsStarted != 0 || pm.StepsCompleted != 0 {
		t.Errorf("expected zeroed metrics, got %+v", pm)
	}
}

func TestGetTokenUsage(t *testing.T) {
	server := newFakePrometheus(t, func(query string) string {
		if !strings.Contains(query, "llm_tokens") {
			return "[]"
		}
		return `[
			{"metric":{"provider":"anthropic"},"value":[1700000000,"1200"]},
			{"metric":{"provider":"openai"},"value":[1700000000,"300"]}
		]`
	})
	defer server.Close()

	svc, err := NewQueryService(server.URL)
	if err != nil {
		t.Fatalf("NewQueryService failed: %v", err)
	}

	usage, err := svc.GetTokenUsage(context.Background())
	if err != nil {
		t.Fatalf("GetTokenUsage failed: %v", err)
	}
	if usage["anthropic"] != 1200 || usage["openai"] != 300 {
		t.Errorf("unexpected usage map: %+v", usage)
	}
}

func TestNewQueryServiceRejectsBadURL(t *testing.T) {
	if _, err := NewQueryService("://not-a-url"); err == nil {
		t.Error("expected an error for an unparsable address")
	}
}
