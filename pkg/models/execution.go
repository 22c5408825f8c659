package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	// ExecutionStatusCancelled is part of the schema but no code path
	// produces it yet; cancellation is a planned feature.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal one. An execution
// receives exactly one terminal write after creation.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusSuccess,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// LogLevel classifies a log entry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelDebug LogLevel = "debug"
)

// LogEntry is one line of an execution's append-only log trail.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	NodeID    string         `json:"nodeId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionError carries the human-readable failure cause of an execution.
type ExecutionError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Execution is one timestamped attempt to run a workflow graph with given
// input. Created in status pending with a seed log entry; a single terminal
// update sets status, outputData, logs, error and durationMs.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	OwnerID       string          `json:"ownerId"`
	ExecutedAt    time.Time       `json:"executedAt"`
	ExecutionName string          `json:"executionName"`
	Status        ExecutionStatus `json:"status"`
	InputData     map[string]any  `json:"inputData"`
	OutputData    map[string]any  `json:"outputData"`
	DurationMs    *int64          `json:"durationMs,omitempty"`
	Logs          []LogEntry      `json:"logs"`
	Error         *ExecutionError `json:"error,omitempty"`

	// Workflow is joined in on reads for display; never written back.
	Workflow *WorkflowSummary `json:"workflow,omitempty"`
}
