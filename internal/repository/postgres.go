package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowline/backend/pkg/models"
)

const defaultExecutionListLimit = 50

// PostgresStore is the PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// --- Users ---

// CreateUser inserts a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, full_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.FullName, user.CreatedAt, user.UpdatedAt)
	return mapPgError(err)
}

// GetUserByEmail looks up a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, full_name, created_at, updated_at FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

// GetUser looks up a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, full_name, created_at, updated_at FROM users WHERE id = $1`,
		id).Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

// --- Workflows ---

// CreateWorkflow inserts a new workflow owned by workflow.OwnerID.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := marshalJSON(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := marshalJSON(workflow.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflows (id, owner_id, name, description, nodes, edges, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		workflow.ID, workflow.OwnerID, workflow.Name, workflow.Description,
		nodes, edges, workflow.CreatedAt, workflow.UpdatedAt)
	return mapPgError(err)
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	var nodes, edges []byte
	err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.Description, &nodes, &edges,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	if err := unmarshalJSON(nodes, &w.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := unmarshalJSON(edges, &w.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns the owner's workflows, most recently updated first.
func (s *PostgresStore) ListWorkflows(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, name, description, nodes, edges, created_at, updated_at
		 FROM workflows WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// GetWorkflow fetches one workflow by (owner, id).
func (s *PostgresStore) GetWorkflow(ctx context.Context, ownerID, id string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, description, nodes, edges, created_at, updated_at
		 FROM workflows WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanWorkflow(row)
}

// UpdateWorkflow applies a partial update and returns the updated record.
func (s *PostgresStore) UpdateWorkflow(ctx context.Context, ownerID, id string, update WorkflowUpdate) (*models.Workflow, error) {
	set := []string{"updated_at = $3"}
	args := []any{id, ownerID, time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Nodes != nil {
		nodes, err := marshalJSON(*update.Nodes)
		if err != nil {
			return nil, fmt.Errorf("marshal nodes: %w", err)
		}
		add("nodes", nodes)
	}
	if update.Edges != nil {
		edges, err := marshalJSON(*update.Edges)
		if err != nil {
			return nil, fmt.Errorf("marshal edges: %w", err)
		}
		add("edges", edges)
	}

	query := fmt.Sprintf(
		`UPDATE workflows SET %s WHERE id = $1 AND owner_id = $2
		 RETURNING id, owner_id, name, description, nodes, edges, created_at, updated_at`,
		strings.Join(set, ", "))
	return scanWorkflow(s.db.QueryRow(ctx, query, args...))
}

// DeleteWorkflow removes a workflow by (owner, id).
func (s *PostgresStore) DeleteWorkflow(ctx context.Context, ownerID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM workflows WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Connections ---

// CreateConnection inserts a new connection owned by connection.OwnerID.
func (s *PostgresStore) CreateConnection(ctx context.Context, connection *models.Connection) error {
	credentials, err := marshalJSON(connection.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	now := time.Now().UTC()
	connection.CreatedAt = now
	connection.UpdatedAt = now
	_, err = s.db.Exec(ctx,
		`INSERT INTO connections (id, owner_id, name, service_type, credentials, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		connection.ID, connection.OwnerID, connection.Name, connection.ServiceType,
		credentials, connection.CreatedAt, connection.UpdatedAt)
	return mapPgError(err)
}

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var c models.Connection
	var credentials []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.ServiceType, &credentials,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	if err := unmarshalJSON(credentials, &c.Credentials); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &c, nil
}

// ListConnections returns the owner's connections ordered by name.
func (s *PostgresStore) ListConnections(ctx context.Context, ownerID string) ([]*models.Connection, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, name, service_type, credentials, created_at, updated_at
		 FROM connections WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// GetConnection fetches one connection by (owner, id).
func (s *PostgresStore) GetConnection(ctx context.Context, ownerID, id string) (*models.Connection, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, service_type, credentials, created_at, updated_at
		 FROM connections WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanConnection(row)
}

// UpdateConnection applies a partial update and returns the updated record.
func (s *PostgresStore) UpdateConnection(ctx context.Context, ownerID, id string, update ConnectionUpdate) (*models.Connection, error) {
	set := []string{"updated_at = $3"}
	args := []any{id, ownerID, time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.ServiceType != nil {
		add("service_type", *update.ServiceType)
	}
	if update.Credentials != nil {
		credentials, err := marshalJSON(*update.Credentials)
		if err != nil {
			return nil, fmt.Errorf("marshal credentials: %w", err)
		}
		add("credentials", credentials)
	}

	query := fmt.Sprintf(
		`UPDATE connections SET %s WHERE id = $1 AND owner_id = $2
		 RETURNING id, owner_id, name, service_type, credentials, created_at, updated_at`,
		strings.Join(set, ", "))
	return scanConnection(s.db.QueryRow(ctx, query, args...))
}

// DeleteConnection removes a connection by (owner, id).
func (s *PostgresStore) DeleteConnection(ctx context.Context, ownerID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM connections WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Executions ---

// CreateExecution inserts the initial pending execution record, including
// its seed log entry.
func (s *PostgresStore) CreateExecution(ctx context.Context, execution *models.Execution) error {
	input, err := marshalJSON(execution.InputData)
	if err != nil {
		return fmt.Errorf("marshal input data: %w", err)
	}
	output, err := marshalJSON(execution.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output data: %w", err)
	}
	logs, err := marshalJSON(execution.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO executions
		 (id, workflow_id, owner_id, executed_at, execution_name, status, input_data, output_data, logs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		execution.ID, execution.WorkflowID, execution.OwnerID, execution.ExecutedAt,
		execution.ExecutionName, execution.Status, input, output, logs)
	return mapPgError(err)
}

func scanExecution(row pgx.Row, withGraph bool) (*models.Execution, error) {
	var e models.Execution
	var input, output, logs, errDetails []byte
	var workflowName *string
	var nodes, edges []byte

	dest := []any{&e.ID, &e.WorkflowID, &e.OwnerID, &e.ExecutedAt, &e.ExecutionName,
		&e.Status, &input, &output, &e.DurationMs, &logs, &errDetails, &workflowName}
	if withGraph {
		dest = append(dest, &nodes, &edges)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, mapPgError(err)
	}
	if err := unmarshalJSON(input, &e.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input data: %w", err)
	}
	if err := unmarshalJSON(output, &e.OutputData); err != nil {
		return nil, fmt.Errorf("unmarshal output data: %w", err)
	}
	if err := unmarshalJSON(logs, &e.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	if len(errDetails) > 0 {
		if err := unmarshalJSON(errDetails, &e.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	if workflowName != nil {
		e.Workflow = &models.WorkflowSummary{Name: *workflowName}
		if withGraph {
			if err := unmarshalJSON(nodes, &e.Workflow.Nodes); err != nil {
				return nil, fmt.Errorf("unmarshal workflow nodes: %w", err)
			}
			if err := unmarshalJSON(edges, &e.Workflow.Edges); err != nil {
				return nil, fmt.Errorf("unmarshal workflow edges: %w", err)
			}
		}
	}
	return &e, nil
}

// ListExecutions returns the owner's executions newest first, each joined
// with the owning workflow's name for display.
func (s *PostgresStore) ListExecutions(ctx context.Context, ownerID string, filter ExecutionFilter) ([]*models.Execution, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultExecutionListLimit
	}
	query := `SELECT e.id, e.workflow_id, e.owner_id, e.executed_at, e.execution_name,
	                 e.status, e.input_data, e.output_data, e.duration_ms, e.logs, e.error, w.name
	          FROM executions e
	          LEFT JOIN workflows w ON w.id = e.workflow_id
	          WHERE e.owner_id = $1`
	args := []any{ownerID}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND e.workflow_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY e.executed_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows, false)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// GetExecution fetches one execution by (owner, id) joined with the owning
// workflow's name and graph snapshot.
func (s *PostgresStore) GetExecution(ctx context.Context, ownerID, id string) (*models.Execution, error) {
	row := s.db.QueryRow(ctx,
		`SELECT e.id, e.workflow_id, e.owner_id, e.executed_at, e.execution_name,
		        e.status, e.input_data, e.output_data, e.duration_ms, e.logs, e.error,
		        w.name, w.nodes, w.edges
		 FROM executions e
		 LEFT JOIN workflows w ON w.id = e.workflow_id
		 WHERE e.id = $1 AND e.owner_id = $2`, id, ownerID)
	return scanExecution(row, true)
}

// FinishExecution applies the terminal write for an execution.
func (s *PostgresStore) FinishExecution(ctx context.Context, id string, result *ExecutionResult) error {
	output, err := marshalJSON(result.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output data: %w", err)
	}
	logs, err := marshalJSON(result.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	var errDetails []byte
	if result.Error != nil {
		errDetails, err = marshalJSON(result.Error)
		if err != nil {
			return fmt.Errorf("marshal error details: %w", err)
		}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE executions
		 SET status = $2, output_data = $3, logs = $4, error = $5, duration_ms = $6
		 WHERE id = $1`,
		id, result.Status, output, logs, errDetails, result.DurationMs)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
