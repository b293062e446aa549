package model

import (
	"strings"
	"time"
)

// LogStatus is the outcome attached to a pipeline event.
type LogStatus string

const (
	StatusRunning LogStatus = "running"
	StatusOK      LogStatus = "ok"
	StatusWarning LogStatus = "warning"
	StatusError   LogStatus = "error"
)

// Valid reports whether s is a known status.
func (s LogStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusOK, StatusWarning, StatusError:
		return true
	}
	return false
}

// LogEntry is one persisted pipeline execution event. Entries are append-only.
type LogEntry struct {
	ID        string    `json:"id"`
	ReportID  *string   `json:"report_id,omitempty"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Status    LogStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks required fields and the status enumeration.
func (l *LogEntry) Validate() error {
	if l == nil {
		return NewValidationError("log", "is required")
	}
	if strings.TrimSpace(l.Stage) == "" {
		return NewValidationError("stage", "is required")
	}
	if strings.TrimSpace(l.Message) == "" {
		return NewValidationError("message", "is required")
	}
	if !l.Status.Valid() {
		return NewValidationError("status", "must be one of running, ok, warning, error")
	}
	return nil
}

// Event is a status update emitted by the orchestrator to any listening UI.
type Event struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Status    LogStatus `json:"status"`
	ReportID  string    `json:"report_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry converts the event into its persisted shape.
func (e Event) LogEntry() *LogEntry {
	entry := &LogEntry{
		Stage:     e.Stage,
		Message:   e.Message,
		Status:    e.Status,
		Timestamp: e.Timestamp,
	}
	if e.ReportID != "" {
		id := e.ReportID
		entry.ReportID = &id
	}
	return entry
}
