package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": s.sessions.List(),
	})
}

// destroySessionHandler handles DELETE /api/v1/sessions/:container_id.
// Used when a container exited without the runtime publishing a
// session.stopped event.
func (s *Server) destroySessionHandler(c *echo.Context) error {
	containerID := c.Param("container_id")
	if containerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "container id is required")
	}
	if err := s.sessions.Destroy(containerID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no session for that container")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"container_id": containerID,
		"status":       "destroyed",
	})
}
