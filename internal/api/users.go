package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Me returns the authenticated user's profile.
// (GET /api/v1/users/me)
func (s *Server) Me(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	user, err := s.repo.GetUser(c.Request().Context(), owner)
	if err != nil {
		return s.repoError(c, err, "user")
	}
	return c.JSON(http.StatusOK, user)
}
