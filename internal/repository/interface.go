// Package repository provides owner-scoped persistence for the workflow
// builder documents. Every read and write on user-owned records is keyed by
// (id, owner id): a cross-tenant access is a lookup miss, never a permission
// check after fetch.
package repository

import (
	"context"
	"errors"

	"flowline/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to a
	// different owner. Callers must not distinguish the two cases.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a per-owner unique name is taken.
	ErrDuplicate = errors.New("record already exists")
)

// WorkflowUpdate carries the fields of a partial workflow update.
// Nil fields are left untouched.
type WorkflowUpdate struct {
	Name        *string
	Description *string
	Nodes       *[]models.Node
	Edges       *[]models.Edge
}

// ConnectionUpdate carries the fields of a partial connection update.
type ConnectionUpdate struct {
	Name        *string
	ServiceType *string
	Credentials *map[string]any
}

// ExecutionResult is the single terminal write applied to an execution.
type ExecutionResult struct {
	Status     models.ExecutionStatus
	OutputData map[string]any
	Logs       []models.LogEntry
	Error      *models.ExecutionError
	DurationMs int64
}

// ExecutionFilter restricts an execution listing.
type ExecutionFilter struct {
	// WorkflowID, when non-empty, limits results to one workflow.
	WorkflowID string
	// Limit caps the result size; zero means the default of 50.
	Limit int
}

// Repository is the persistence interface consumed by the API layer, the
// auth middleware and the execution orchestrator.
type Repository interface {
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)

	// Workflows
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	ListWorkflows(ctx context.Context, ownerID string) ([]*models.Workflow, error)
	GetWorkflow(ctx context.Context, ownerID, id string) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, ownerID, id string, update WorkflowUpdate) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, ownerID, id string) error

	// Connections
	CreateConnection(ctx context.Context, connection *models.Connection) error
	ListConnections(ctx context.Context, ownerID string) ([]*models.Connection, error)
	GetConnection(ctx context.Context, ownerID, id string) (*models.Connection, error)
	UpdateConnection(ctx context.Context, ownerID, id string, update ConnectionUpdate) (*models.Connection, error)
	DeleteConnection(ctx context.Context, ownerID, id string) error

	// Executions
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ListExecutions(ctx context.Context, ownerID string, filter ExecutionFilter) ([]*models.Execution, error)
	GetExecution(ctx context.Context, ownerID, id string) (*models.Execution, error)
	// FinishExecution applies the terminal write: status, output, the full
	// accumulated log list, error and duration, exactly once per execution.
	FinishExecution(ctx context.Context, id string, result *ExecutionResult) error
}
