package autopilot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPollerStopsOnTerminalStatus(t *testing.T) {
	engine, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	session := mustCreate(t, engine, "Add a rate limit header to API responses")
	if err := engine.Control(session.ID, ActionCancel); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	poller := NewPoller(engine, 10*time.Millisecond)
	var last *Session
	done := make(chan struct{})
	go func() {
		poller.Watch(context.Background(), session.ID, func(s *Session) { last = s })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poller did not stop on terminal status")
	}
	if last == nil || last.Status != StatusCancelled {
		t.Errorf("Expected the terminal snapshot delivered, got %+v", last)
	}
}

func TestPollerStop(t *testing.T) {
	engine, _, cleanup := newTestEngine(t, nil)
	defer cleanup()

	session := mustCreate(t, engine, "Add a rate limit header to API responses")

	poller := NewPoller(engine, 10*time.Millisecond)
	done := make(chan struct{})
	go func() {
		poller.Watch(context.Background(), session.ID, nil)
		close(done)
	}()

	poller.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poller did not stop on Stop")
	}

	// Stop is idempotent.
	poller.Stop()
}

func TestPollerErrorBackoffIsBounded(t *testing.T) {
	poller := NewPoller(nil, time.Second)
	if got := poller.errorBackoff(1); got != 2*time.Second {
		t.Errorf("Expected 2s after one failure, got %v", got)
	}
	if got := poller.errorBackoff(3); got != 8*time.Second {
		t.Errorf("Expected 8s after three failures, got %v", got)
	}
	if got := poller.errorBackoff(20); got != maxErrorBackoff {
		t.Errorf("Expected backoff capped at %v, got %v", maxErrorBackoff, got)
	}
}

func TestEventExporter(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "export_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	exporter, err := NewEventExporter(tempDir)
	if err != nil {
		t.Fatalf("Failed to create exporter: %v", err)
	}
	defer exporter.Close()

	exporter.Export("sess-1", Event{Seq: 1, Type: EventPlan, Payload: EventPayload{Steps: []string{"a"}}})
	exporter.Export("sess-1", Event{Seq: 2, Type: EventStepStart, Payload: EventPayload{Step: "a"}})

	matches, err := filepath.Glob(filepath.Join(tempDir, "events-*.jsonl"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Expected one event log file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("Failed to read event log: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var first exportedEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Failed to parse line: %v", err)
	}
	if first.SessionID != "sess-1" || first.Type != EventPlan {
		t.Errorf("Unexpected exported event: %+v", first)
	}
}
