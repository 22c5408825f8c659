package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"flowline/backend/internal/repository"
	"flowline/backend/pkg/models"
)

// workflowPayload is the write shape of a workflow. Pointer fields let the
// update handler tell "absent" from "set to zero".
type workflowPayload struct {
	Name        *string        `json:"workflowName"`
	Description *string        `json:"description"`
	Nodes       *[]models.Node `json:"nodes"`
	Edges       *[]models.Edge `json:"edges"`
}

// ListWorkflows returns the owner's workflows.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	workflows, err := s.repo.ListWorkflows(c.Request().Context(), owner)
	if err != nil {
		return s.repoError(c, err, "workflow")
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow creates a workflow for the owner.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var payload workflowPayload
	if err := c.Bind(&payload); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if payload.Name == nil || strings.TrimSpace(*payload.Name) == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "workflowName is required")
	}

	workflow := &models.Workflow{
		ID:      uuid.New().String(),
		OwnerID: owner,
		Name:    strings.TrimSpace(*payload.Name),
		Nodes:   []models.Node{},
		Edges:   []models.Edge{},
	}
	if payload.Description != nil {
		workflow.Description = *payload.Description
	}
	if payload.Nodes != nil {
		workflow.Nodes = *payload.Nodes
	}
	if payload.Edges != nil {
		workflow.Edges = *payload.Edges
	}
	if err := workflow.ValidateGraph(); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid graph: "+err.Error())
	}

	if err := s.repo.CreateWorkflow(c.Request().Context(), workflow); err != nil {
		return s.repoError(c, err, "workflow")
	}
	return c.JSON(http.StatusCreated, workflow)
}

// GetWorkflow fetches one workflow by id.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	workflow, err := s.repo.GetWorkflow(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return s.repoError(c, err, "workflow")
	}
	return c.JSON(http.StatusOK, workflow)
}

// UpdateWorkflow applies a partial update: absent fields are left untouched.
// The resulting graph is validated as a whole before anything is written.
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var payload workflowPayload
	if err := c.Bind(&payload); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if payload.Name != nil && strings.TrimSpace(*payload.Name) == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "workflowName must not be empty")
	}

	current, err := s.repo.GetWorkflow(ctx, owner, c.Param("id"))
	if err != nil {
		return s.repoError(c, err, "workflow")
	}
	merged := *current
	if payload.Nodes != nil {
		merged.Nodes = *payload.Nodes
	}
	if payload.Edges != nil {
		merged.Edges = *payload.Edges
	}
	if err := merged.ValidateGraph(); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid graph: "+err.Error())
	}

	updated, err := s.repo.UpdateWorkflow(ctx, owner, c.Param("id"), repository.WorkflowUpdate{
		Name:        payload.Name,
		Description: payload.Description,
		Nodes:       payload.Nodes,
		Edges:       payload.Edges,
	})
	if err != nil {
		return s.repoError(c, err, "workflow")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteWorkflow removes a workflow.
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteWorkflow(c.Request().Context(), owner, c.Param("id")); err != nil {
		return s.repoError(c, err, "workflow")
	}
	return c.NoContent(http.StatusNoContent)
}
