package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowline/backend/internal/executor"
	"flowline/backend/internal/repository"
	"flowline/backend/pkg/models"
)

// memStore is an in-memory ExecutionStore so the orchestrator can be tested
// without a database.
type memStore struct {
	mu          sync.Mutex
	workflows   map[string]*models.Workflow
	executions  map[string]*models.Execution
	finishCount map[string]int
	finishErr   error
}

func newMemStore() *memStore {
	return &memStore{
		workflows:   make(map[string]*models.Workflow),
		executions:  make(map[string]*models.Execution),
		finishCount: make(map[string]int),
	}
}

func (m *memStore) addWorkflow(w *models.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
}

func (m *memStore) GetWorkflow(_ context.Context, ownerID, id string) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok || w.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return w, nil
}

func (m *memStore) CreateExecution(_ context.Context, execution *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *execution
	m.executions[execution.ID] = &cp
	return nil
}

func (m *memStore) ListExecutions(_ context.Context, ownerID string, _ repository.ExecutionFilter) ([]*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Execution
	for _, e := range m.executions {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) GetExecution(_ context.Context, ownerID, id string) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) FinishExecution(_ context.Context, id string, result *repository.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishCount[id]++
	if m.finishErr != nil {
		return m.finishErr
	}
	e, ok := m.executions[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = result.Status
	e.OutputData = result.OutputData
	e.Logs = result.Logs
	e.Error = result.Error
	d := result.DurationMs
	e.DurationMs = &d
	return nil
}

func (m *memStore) executionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

// stubRunner lets each test script the executor process outcome.
type stubRunner struct {
	mu   sync.Mutex
	fn   func(inv executor.Invocation) (*executor.Result, error)
	last executor.Invocation
}

func (r *stubRunner) Run(_ context.Context, inv executor.Invocation) (*executor.Result, error) {
	r.mu.Lock()
	r.last = inv
	r.mu.Unlock()
	return r.fn(inv)
}

func (r *stubRunner) lastInvocation() executor.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

const testOwner = "owner-1"

func newTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:      uuid.New().String(),
		OwnerID: testOwner,
		Name:    "Two Step",
		Nodes: []models.Node{
			{ID: "n1", Type: "input", Label: "In"},
			{ID: "n2", Type: "output", Label: "Out"},
		},
		Edges: []models.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}
}

func newTestService(store *memStore, runner executor.Runner) *ExecutionService {
	return NewExecutionService(store, runner, nil, ExecutionServiceConfig{
		StoreDSN: "host=localhost dbname=flowline",
		Timeout:  time.Minute,
	})
}

// runToCompletion submits a run and waits for the terminal write.
func runToCompletion(t *testing.T, svc *ExecutionService, store *memStore, req RunRequest) *models.Execution {
	t.Helper()
	ctx := context.Background()
	id, err := svc.RunWorkflow(ctx, testOwner, req)
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(drainCtx))

	exec, err := svc.GetExecution(ctx, testOwner, id)
	require.NoError(t, err)
	return exec
}

func TestRunWorkflowSuccess(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte(`{"status":"success","output_data":{"y":2}}`)}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{
		WorkflowID: wf.ID,
		InputData:  json.RawMessage(`{"x":1}`),
	})

	assert.Equal(t, models.ExecutionStatusSuccess, exec.Status)
	assert.Equal(t, map[string]any{"y": float64(2)}, exec.OutputData)
	assert.Nil(t, exec.Error)
	require.GreaterOrEqual(t, len(exec.Logs), 2)
	assert.Equal(t, "Workflow execution requested.", exec.Logs[0].Message)
	assert.Equal(t, "Execution finished with status: success", exec.Logs[len(exec.Logs)-1].Message)
	require.NotNil(t, exec.DurationMs, "terminal write always carries a duration")
	assert.GreaterOrEqual(t, *exec.DurationMs, int64(0))
	assert.Equal(t, 1, store.finishCount[exec.ID], "exactly one terminal write")

	// The executor received the full positional contract.
	inv := runner.lastInvocation()
	assert.Equal(t, exec.ID, inv.ExecutionID)
	assert.Equal(t, "host=localhost dbname=flowline", inv.StoreDSN)
	var sentWorkflow models.Workflow
	require.NoError(t, json.Unmarshal(inv.WorkflowJSON, &sentWorkflow))
	assert.Len(t, sentWorkflow.Nodes, 2)
	assert.Len(t, sentWorkflow.Edges, 1)
	assert.JSONEq(t, `{"x":1}`, string(inv.InputJSON))
}

func TestRunWorkflowNonZeroExit(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stderr: []byte("boom"), ExitCode: 1}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Contains(t, exec.Error.Message, "1")
	assert.Contains(t, exec.Error.Message, "boom")
}

func TestRunWorkflowNonZeroExitEmptyStderr(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{ExitCode: 7}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	require.NotNil(t, exec.Error)
	assert.Contains(t, exec.Error.Message, "code 7")
	assert.Contains(t, exec.Error.Message, "no stderr")
}

func TestRunWorkflowRejectsNonObjectInput(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	svc := newTestService(store, &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		t.Fatal("runner must not be invoked for invalid input")
		return nil, nil
	}})

	for _, raw := range []string{`"not-an-object"`, `[1,2,3]`, `42`} {
		_, err := svc.RunWorkflow(context.Background(), testOwner, RunRequest{
			WorkflowID: wf.ID,
			InputData:  json.RawMessage(raw),
		})
		assert.ErrorIs(t, err, ErrInvalidInput, raw)
	}
	assert.Zero(t, store.executionCount(), "no record is created on validation failure")
}

func TestRunWorkflowMissingWorkflowID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &stubRunner{})

	_, err := svc.RunWorkflow(context.Background(), testOwner, RunRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, store.executionCount())
}

func TestRunWorkflowOwnershipIsolation(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	wf.OwnerID = "someone-else"
	store.addWorkflow(wf)
	svc := newTestService(store, &stubRunner{})

	_, err := svc.RunWorkflow(context.Background(), testOwner, RunRequest{WorkflowID: wf.ID})
	assert.ErrorIs(t, err, repository.ErrNotFound,
		"foreign workflow is a plain miss, not a permission error")
	assert.Zero(t, store.executionCount())
}

func TestRunWorkflowMalformedExecutorOutput(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte("not json")}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Contains(t, exec.Error.Message, "failed to parse executor output")
	assert.Contains(t, exec.Error.Message, "not json")
}

func TestRunWorkflowTruncatesRawOutput(t *testing.T) {
	// Whatever the original size, the embedded diagnostic is always the
	// first 5000 bytes plus the marker.
	for _, size := range []int{5001, 10000, 100000} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			store := newMemStore()
			wf := newTestWorkflow()
			store.addWorkflow(wf)
			raw := strings.Repeat("a", size)
			runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
				return &executor.Result{Stdout: []byte(raw)}, nil
			}}
			svc := newTestService(store, runner)

			exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

			require.NotNil(t, exec.Error)
			want := strings.Repeat("a", maxRawOutputLength) + truncationMarker
			assert.True(t, strings.HasSuffix(exec.Error.Message, want))
			assert.NotContains(t, exec.Error.Message, strings.Repeat("a", maxRawOutputLength+1))

			var sawWarn bool
			for _, entry := range exec.Logs {
				if entry.Level == models.LogLevelWarn &&
					strings.Contains(entry.Message, "truncated") {
					sawWarn = true
				}
			}
			assert.True(t, sawWarn, "truncation leaves a warn-level log entry")
		})
	}
}

func TestRunWorkflowSpawnFailure(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return nil, fmt.Errorf("failed to start executor process: no such file")
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Contains(t, exec.Error.Message, "failed to start executor process")
}

func TestRunWorkflowTimeout(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return nil, context.DeadlineExceeded
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Contains(t, exec.Error.Message, "timed out")
}

func TestRunWorkflowAdoptsExecutorReport(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	stdout := `{
		"status": "failed",
		"output_data": {"partial": true},
		"logs": [
			{"timestamp":"2026-01-02T03:04:05Z","level":"info","message":"node started","nodeId":"n1"},
			{"timestamp":"2026-01-02T03:04:06Z","level":"error","message":"node exploded","nodeId":"n2"}
		],
		"error": "node n2 exploded"
	}`
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte(stdout)}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, map[string]any{"partial": true}, exec.OutputData)
	require.NotNil(t, exec.Error)
	assert.Equal(t, "node n2 exploded", exec.Error.Message)

	// Executor entries land between the seed entry and the summary, in the
	// order the executor reported them.
	require.GreaterOrEqual(t, len(exec.Logs), 4)
	assert.Equal(t, "Workflow execution requested.", exec.Logs[0].Message)
	assert.Equal(t, "node started", exec.Logs[1].Message)
	assert.Equal(t, "n1", exec.Logs[1].NodeID)
	assert.Equal(t, "node exploded", exec.Logs[2].Message)
	assert.Equal(t, "Execution finished with status: failed", exec.Logs[len(exec.Logs)-1].Message)
}

func TestRunWorkflowStatusDefaultsToFailed(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte(`{"output_data":{"y":2}}`)}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status,
		"a result without a status is treated as a failure")
	assert.Equal(t, map[string]any{"y": float64(2)}, exec.OutputData)
}

func TestRunWorkflowRecoversRunnerPanic(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		panic("runner blew up")
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})

	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Contains(t, exec.Error.Message, "runner blew up")
	assert.NotEmpty(t, exec.Error.Stack)
	assert.Equal(t, 1, store.finishCount[exec.ID])
}

func TestRunWorkflowTerminalWriteFailureIsBestEffort(t *testing.T) {
	store := newMemStore()
	store.finishErr = fmt.Errorf("store is down")
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte(`{"status":"success"}`)}, nil
	}}
	svc := newTestService(store, runner)

	id, err := svc.RunWorkflow(context.Background(), testOwner, RunRequest{WorkflowID: wf.ID})
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(drainCtx), "a failed terminal write must not wedge the drain")

	// The record stays pending; the failure is only logged.
	exec, err := svc.GetExecution(context.Background(), testOwner, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, exec.Status)
	assert.Equal(t, 1, store.finishCount[id], "no retry of the terminal write")
}

func TestRunWorkflowExecutionNameDefaults(t *testing.T) {
	store := newMemStore()
	wf := newTestWorkflow()
	store.addWorkflow(wf)
	runner := &stubRunner{fn: func(executor.Invocation) (*executor.Result, error) {
		return &executor.Result{Stdout: []byte(`{"status":"success"}`)}, nil
	}}
	svc := newTestService(store, runner)

	exec := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID})
	assert.True(t, strings.HasPrefix(exec.ExecutionName, "Execution "))

	named := runToCompletion(t, svc, store, RunRequest{WorkflowID: wf.ID, ExecutionName: "smoke run"})
	assert.Equal(t, "smoke run", named.ExecutionName)
}

func TestDecodeInputData(t *testing.T) {
	data, err := decodeInputData(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)

	data, err = decodeInputData(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)

	data, err = decodeInputData(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, data)

	_, err = decodeInputData(json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTruncateRawOutput(t *testing.T) {
	short, truncated := truncateRawOutput("tiny")
	assert.Equal(t, "tiny", short)
	assert.False(t, truncated)

	exact, truncated := truncateRawOutput(strings.Repeat("b", maxRawOutputLength))
	assert.Len(t, exact, maxRawOutputLength)
	assert.False(t, truncated)

	long, truncated := truncateRawOutput(strings.Repeat("b", maxRawOutputLength+1))
	assert.True(t, truncated)
	assert.Equal(t, strings.Repeat("b", maxRawOutputLength)+truncationMarker, long)
}
