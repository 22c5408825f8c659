// Package api contains the HTTP handlers for the workflow builder REST API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"flowline/backend/internal/auth"
	"flowline/backend/internal/repository"
	"flowline/backend/internal/services"
)

// Server holds the dependencies for the API handlers.
type Server struct {
	repo       repository.Repository
	executions *services.ExecutionService
	logger     *slog.Logger
	version    string
}

// NewServer creates a new Server.
func NewServer(repo repository.Repository, executions *services.ExecutionService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		repo:       repo,
		executions: executions,
		logger:     logger,
		version:    "1.0.0",
	}
}

// RegisterRoutes mounts every authenticated API route on the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/users/me", s.Me)

	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PUT("/workflows/:id", s.UpdateWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)

	g.GET("/connections", s.ListConnections)
	g.POST("/connections", s.CreateConnection)
	g.GET("/connections/:id", s.GetConnection)
	g.PUT("/connections/:id", s.UpdateConnection)
	g.DELETE("/connections/:id", s.DeleteConnection)

	g.POST("/executions/run", s.RunWorkflow)
	g.GET("/executions", s.ListExecutions)
	g.GET("/executions/:id", s.GetExecution)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth reports service liveness including a database ping.
// (GET /healthz)
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "flowline",
		Version:   s.version,
	}
	if err := s.repo.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 Problem Details JSON error response.
func problem(c echo.Context, status int, title, detail string) error {
	p := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(p)
}

// ownerID pulls the authenticated owner out of the request context.
func ownerID(c echo.Context) (string, error) {
	id, ok := auth.OwnerID(c.Request().Context())
	if !ok {
		return "", problem(c, http.StatusUnauthorized, "Unauthorized", "no authenticated user in request")
	}
	return id, nil
}

// repoError maps repository sentinel errors onto problem responses.
func (s *Server) repoError(c echo.Context, err error, kind string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", kind+" not found")
	case errors.Is(err, repository.ErrDuplicate):
		return problem(c, http.StatusConflict, "Conflict", kind+" with that name already exists")
	default:
		s.logger.Error("request failed", "kind", kind, "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
	}
}
