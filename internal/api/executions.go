package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"flowline/backend/internal/services"
)

// runPayload is the request body of a run call. InputData stays raw so the
// orchestrator can enforce its shape.
type runPayload struct {
	WorkflowID    string          `json:"workflowId"`
	InputData     json.RawMessage `json:"inputData"`
	ExecutionName string          `json:"executionName"`
}

// runAccepted is the 202 body: the id the client polls for results.
type runAccepted struct {
	ExecutionID string `json:"executionId"`
}

// RunWorkflow accepts an asynchronous execution request. The response is
// only an acknowledgment; outcome and logs are read from the execution
// record afterwards.
// (POST /api/v1/executions/run)
func (s *Server) RunWorkflow(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var payload runPayload
	if err := c.Bind(&payload); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	executionID, err := s.executions.RunWorkflow(c.Request().Context(), owner, services.RunRequest{
		WorkflowID:    payload.WorkflowID,
		InputData:     payload.InputData,
		ExecutionName: payload.ExecutionName,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			return problem(c, http.StatusBadRequest, "Bad Request", err.Error())
		}
		return s.repoError(c, err, "workflow")
	}

	return c.JSON(http.StatusAccepted, runAccepted{ExecutionID: executionID})
}

// ListExecutions returns the owner's execution history, newest first. The
// optional workflowId query parameter narrows it to one workflow.
// (GET /api/v1/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	executions, err := s.executions.GetExecutions(c.Request().Context(), owner, c.QueryParam("workflowId"))
	if err != nil {
		return s.repoError(c, err, "execution")
	}
	return c.JSON(http.StatusOK, executions)
}

// GetExecution fetches one execution with its workflow snapshot.
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	execution, err := s.executions.GetExecution(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return s.repoError(c, err, "execution")
	}
	return c.JSON(http.StatusOK, execution)
}
