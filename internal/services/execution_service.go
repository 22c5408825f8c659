// Package services holds the business logic between the HTTP layer and the
// repositories, chiefly the execution orchestrator.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"flowline/backend/internal/executor"
	"flowline/backend/internal/logging"
	"flowline/backend/internal/repository"
	"flowline/backend/pkg/models"
)

// ErrInvalidInput marks request validation failures surfaced synchronously
// to the caller, before any execution record exists.
var ErrInvalidInput = errors.New("invalid input")

// maxRawOutputLength caps the raw executor stdout embedded in diagnostic
// messages; truncationMarker is appended when the cap is hit.
const (
	maxRawOutputLength = 5000
	truncationMarker   = "... [truncated]"
)

// terminalWriteTimeout bounds the final store update. It is independent of
// the execution context so a timed-out run can still be recorded.
const terminalWriteTimeout = 15 * time.Second

// RunRequest is the validated payload of a run-workflow call. InputData is
// kept raw so the service can reject non-object shapes itself.
type RunRequest struct {
	WorkflowID    string
	InputData     json.RawMessage
	ExecutionName string
}

// executorResult is the JSON document the interpreter prints on stdout.
type executorResult struct {
	Status     string            `json:"status"`
	OutputData map[string]any    `json:"output_data"`
	Logs       []models.LogEntry `json:"logs"`
	Error      string            `json:"error"`
}

// ExecutionStore is the slice of the repository the orchestrator depends on.
type ExecutionStore interface {
	GetWorkflow(ctx context.Context, ownerID, id string) (*models.Workflow, error)
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ListExecutions(ctx context.Context, ownerID string, filter repository.ExecutionFilter) ([]*models.Execution, error)
	GetExecution(ctx context.Context, ownerID, id string) (*models.Execution, error)
	FinishExecution(ctx context.Context, id string, result *repository.ExecutionResult) error
}

// ExecutionService orchestrates workflow executions: it validates the run
// request, creates the pending record, acknowledges the caller, and then
// runs the spawn-and-collect sequence on a detached goroutine. Each
// goroutine is the only writer of its own execution record, so terminal
// state needs no locking.
type ExecutionService struct {
	repo     ExecutionStore
	runner   executor.Runner
	logger   *slog.Logger
	storeDSN string
	timeout  time.Duration

	inflight sync.WaitGroup

	started  metric.Int64Counter
	finished metric.Int64Counter
	duration metric.Float64Histogram
}

// ExecutionServiceConfig carries the orchestrator knobs.
type ExecutionServiceConfig struct {
	// StoreDSN is handed to the executor process as its fourth argument.
	StoreDSN string
	// Timeout bounds one execution's wall-clock time; zero disables it.
	Timeout time.Duration
}

// NewExecutionService creates the orchestrator.
func NewExecutionService(repo ExecutionStore, runner executor.Runner, logger *slog.Logger, cfg ExecutionServiceConfig) *ExecutionService {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("flowline/backend/services")
	started, _ := meter.Int64Counter("flowline.executions.started")
	finished, _ := meter.Int64Counter("flowline.executions.finished")
	duration, _ := meter.Float64Histogram("flowline.executions.duration_ms")

	return &ExecutionService{
		repo:     repo,
		runner:   runner,
		logger:   logging.WithComponent(logger, "orchestrator"),
		storeDSN: cfg.StoreDSN,
		timeout:  cfg.Timeout,
		started:  started,
		finished: finished,
		duration: duration,
	}
}

// RunWorkflow validates the request, creates exactly one pending execution
// with its seed log entry, kicks off the background run and returns the new
// execution id. The caller gets the id immediately and polls the record for
// results; nothing after this point is reported synchronously.
func (s *ExecutionService) RunWorkflow(ctx context.Context, ownerID string, req RunRequest) (string, error) {
	if req.WorkflowID == "" {
		return "", fmt.Errorf("%w: workflow id is required", ErrInvalidInput)
	}
	inputData, err := decodeInputData(req.InputData)
	if err != nil {
		return "", err
	}

	// A miss here covers both "does not exist" and "not yours"; the two are
	// deliberately indistinguishable.
	workflow, err := s.repo.GetWorkflow(ctx, ownerID, req.WorkflowID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	name := req.ExecutionName
	if name == "" {
		name = "Execution " + now.Format("2006-01-02 15:04:05")
	}
	execution := &models.Execution{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		OwnerID:       ownerID,
		ExecutedAt:    now,
		ExecutionName: name,
		Status:        models.ExecutionStatusPending,
		InputData:     inputData,
		OutputData:    map[string]any{},
		Logs: []models.LogEntry{{
			Timestamp: now,
			Level:     models.LogLevelInfo,
			Message:   "Workflow execution requested.",
		}},
	}
	if err := s.repo.CreateExecution(ctx, execution); err != nil {
		return "", err
	}

	s.started.Add(ctx, 1)
	s.logger.Info("execution accepted",
		logging.ExecutionIDKey, execution.ID,
		logging.WorkflowIDKey, workflow.ID,
		logging.OwnerIDKey, ownerID)

	s.inflight.Add(1)
	go s.execute(workflow, execution, inputData)

	return execution.ID, nil
}

// GetExecutions lists the owner's executions, newest first, capped at 50.
func (s *ExecutionService) GetExecutions(ctx context.Context, ownerID, workflowID string) ([]*models.Execution, error) {
	return s.repo.ListExecutions(ctx, ownerID, repository.ExecutionFilter{WorkflowID: workflowID})
}

// GetExecution fetches one execution with the joined workflow snapshot.
func (s *ExecutionService) GetExecution(ctx context.Context, ownerID, id string) (*models.Execution, error) {
	return s.repo.GetExecution(ctx, ownerID, id)
}

// Drain blocks until every in-flight background run has finished its
// terminal write, or the context expires. Used during graceful shutdown; a
// hard kill before the terminal write still leaves records pending, which
// is an accepted limit of the design.
func (s *ExecutionService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs the spawn-and-collect sequence for one execution. Whatever
// path it takes, the deferred block applies the single terminal write:
// status, output, the full log trail and the elapsed duration.
func (s *ExecutionService) execute(workflow *models.Workflow, execution *models.Execution, inputData map[string]any) {
	defer s.inflight.Done()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	status := models.ExecutionStatusFailed
	outputData := map[string]any{}
	var errDetails *models.ExecutionError
	logs := append([]models.LogEntry(nil), execution.Logs...)

	pushLog := func(level models.LogLevel, message string) {
		logs = append(logs, models.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     level,
			Message:   message,
		})
	}

	defer func() {
		if r := recover(); r != nil {
			status = models.ExecutionStatusFailed
			msg := fmt.Sprintf("orchestrator error: %v", r)
			errDetails = &models.ExecutionError{Message: msg, Stack: string(debug.Stack())}
			pushLog(models.LogLevelError, msg)
		}
		durationMs := time.Since(start).Milliseconds()
		pushLog(models.LogLevelInfo, fmt.Sprintf("Execution finished with status: %s", status))

		writeCtx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		defer cancel()
		err := s.repo.FinishExecution(writeCtx, execution.ID, &repository.ExecutionResult{
			Status:     status,
			OutputData: outputData,
			Logs:       logs,
			Error:      errDetails,
			DurationMs: durationMs,
		})
		if err != nil {
			// Best effort only; the record may stay stale if the store is
			// down at this exact point.
			s.logger.Error("terminal write failed",
				logging.ExecutionIDKey, execution.ID, "error", err)
		}

		s.finished.Add(writeCtx, 1, metric.WithAttributes(attribute.String("status", string(status))))
		s.duration.Record(writeCtx, float64(durationMs))
		s.logger.Info("execution finished",
			logging.ExecutionIDKey, execution.ID,
			logging.WorkflowIDKey, execution.WorkflowID,
			"status", string(status),
			logging.DurationKey, durationMs)
	}()

	fail := func(msg string) {
		pushLog(models.LogLevelError, msg)
		errDetails = &models.ExecutionError{Message: msg}
	}

	workflowJSON, err := json.Marshal(workflow)
	if err != nil {
		fail(fmt.Sprintf("failed to serialize workflow: %v", err))
		return
	}
	inputJSON, err := json.Marshal(inputData)
	if err != nil {
		fail(fmt.Sprintf("failed to serialize input data: %v", err))
		return
	}

	result, err := s.runner.Run(ctx, executor.Invocation{
		WorkflowJSON: workflowJSON,
		InputJSON:    inputJSON,
		ExecutionID:  execution.ID,
		StoreDSN:     s.storeDSN,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fail(fmt.Sprintf("executor timed out after %s", s.timeout))
		} else {
			fail(err.Error())
		}
		return
	}

	if result.ExitCode != 0 {
		stderr := string(result.Stderr)
		if stderr == "" {
			stderr = "no stderr"
		}
		fail(fmt.Sprintf("executor exited with code %d. Stderr: %s", result.ExitCode, stderr))
		return
	}

	var parsed executorResult
	if err := json.Unmarshal(result.Stdout, &parsed); err != nil {
		raw, truncated := truncateRawOutput(string(result.Stdout))
		if truncated {
			pushLog(models.LogLevelWarn, "Executor stdout truncated due to size.")
		}
		fail(fmt.Sprintf("failed to parse executor output: %v. Raw output: %s", err, raw))
		return
	}

	if parsed.Status != "" {
		status = models.ExecutionStatus(parsed.Status)
	}
	if parsed.OutputData != nil {
		outputData = parsed.OutputData
	}
	logs = append(logs, parsed.Logs...)
	if parsed.Error != "" {
		errDetails = &models.ExecutionError{Message: parsed.Error}
	}
}

// decodeInputData enforces the open key/value shape of inputData. Absent or
// null input means an empty map; arrays and scalars are rejected.
func decodeInputData(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: input data must be an object", ErrInvalidInput)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// truncateRawOutput bounds raw stdout before it is embedded in a diagnostic
// message. The stored text is always the first maxRawOutputLength bytes plus
// the marker, no matter how large the original was.
func truncateRawOutput(s string) (string, bool) {
	if len(s) <= maxRawOutputLength {
		return s, false
	}
	return s[:maxRawOutputLength] + truncationMarker, true
}
