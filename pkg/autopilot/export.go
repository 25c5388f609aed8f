package autopilot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autopilot/pkg/logx"
)

// EventExporter mirrors session events to daily rotated JSONL files so
// a run can be inspected or replayed outside the database.
type EventExporter struct {
	logger      *logx.Logger
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// exportedEvent is the JSONL line format.
type exportedEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Seq       int64        `json:"seq"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
}

// NewEventExporter creates an exporter writing into logDir.
func NewEventExporter(logDir string) (*EventExporter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	exporter := &EventExporter{
		logger: logx.NewLogger("eventlog"),
		logDir: logDir,
	}
	if err := exporter.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log file: %w", err)
	}
	return exporter, nil
}

// Export appends one event as a JSON line. Export is best-effort: a
// write failure is logged, never propagated, because the database copy
// of the event has already been committed.
func (x *EventExporter) Export(sessionID string, e Event) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.rotateIfNeeded(); err != nil {
		x.logger.Warn("failed to rotate event log: %v", err)
		return
	}

	line, err := json.Marshal(exportedEvent{
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Seq:       e.Seq,
		Type:      e.Type,
		Payload:   e.Payload,
	})
	if err != nil {
		x.logger.Warn("failed to serialize event for export: %v", err)
		return
	}

	if _, err := x.currentFile.Write(append(line, '\n')); err != nil {
		x.logger.Warn("failed to write event export: %v", err)
	}
}

// Close flushes and closes the current log file.
func (x *EventExporter) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.currentFile == nil {
		return nil
	}
	err := x.currentFile.Close()
	x.currentFile = nil
	return err
}

func (x *EventExporter) rotateIfNeeded() error {
	date := time.Now().UTC().Format("2006-01-02")
	if x.currentFile != nil && x.currentDate == date {
		return nil
	}

	if x.currentFile != nil {
		if err := x.currentFile.Close(); err != nil {
			x.logger.Warn("failed to close previous event log: %v", err)
		}
	}

	path := filepath.Join(x.logDir, fmt.Sprintf("events-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	x.currentFile = file
	x.currentDate = date
	return nil
}
