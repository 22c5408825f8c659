package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"flowline/backend/internal/repository"
	"flowline/backend/pkg/models"
)

type connectionPayload struct {
	Name        *string         `json:"connectionName"`
	ServiceType *string         `json:"serviceType"`
	Credentials *map[string]any `json:"credentials"`
}

// ListConnections returns the owner's service connections.
// (GET /api/v1/connections)
func (s *Server) ListConnections(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	connections, err := s.repo.ListConnections(c.Request().Context(), owner)
	if err != nil {
		return s.repoError(c, err, "connection")
	}
	return c.JSON(http.StatusOK, connections)
}

// CreateConnection stores a named credential set for an external service.
// (POST /api/v1/connections)
func (s *Server) CreateConnection(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var payload connectionPayload
	if err := c.Bind(&payload); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if payload.Name == nil || strings.TrimSpace(*payload.Name) == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "connectionName is required")
	}
	if payload.ServiceType == nil || *payload.ServiceType == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "serviceType is required")
	}

	connection := &models.Connection{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		Name:        strings.TrimSpace(*payload.Name),
		ServiceType: *payload.ServiceType,
		Credentials: map[string]any{},
	}
	if payload.Credentials != nil {
		connection.Credentials = *payload.Credentials
	}

	if err := s.repo.CreateConnection(c.Request().Context(), connection); err != nil {
		return s.repoError(c, err, "connection")
	}
	return c.JSON(http.StatusCreated, connection)
}

// GetConnection fetches one connection by id.
// (GET /api/v1/connections/:id)
func (s *Server) GetConnection(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	connection, err := s.repo.GetConnection(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return s.repoError(c, err, "connection")
	}
	return c.JSON(http.StatusOK, connection)
}

// UpdateConnection applies a partial update to a connection.
// (PUT /api/v1/connections/:id)
func (s *Server) UpdateConnection(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var payload connectionPayload
	if err := c.Bind(&payload); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if payload.Name != nil && strings.TrimSpace(*payload.Name) == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "connectionName must not be empty")
	}

	updated, err := s.repo.UpdateConnection(c.Request().Context(), owner, c.Param("id"), repository.ConnectionUpdate{
		Name:        payload.Name,
		ServiceType: payload.ServiceType,
		Credentials: payload.Credentials,
	})
	if err != nil {
		return s.repoError(c, err, "connection")
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteConnection removes a connection.
// (DELETE /api/v1/connections/:id)
func (s *Server) DeleteConnection(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteConnection(c.Request().Context(), owner, c.Param("id")); err != nil {
		return s.repoError(c, err, "connection")
	}
	return c.NoContent(http.StatusNoContent)
}
