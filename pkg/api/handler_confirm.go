package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listConfirmationsHandler handles GET /api/v1/confirmations.
func (s *Server) listConfirmationsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"pending": s.gate.Pending(),
	})
}

// approveConfirmationHandler handles POST /api/v1/confirmations/:id/approve.
// Resolving the gate entry pre-approves the correlation for one retry.
func (s *Server) approveConfirmationHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "confirmation id is required")
	}
	if !s.gate.Approve(id) {
		return echo.NewHTTPError(http.StatusNotFound, "no pending confirmation with that id")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"confirmation_id": id,
		"outcome":         "approved",
	})
}

// denyConfirmationHandler handles POST /api/v1/confirmations/:id/deny.
func (s *Server) denyConfirmationHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "confirmation id is required")
	}
	if !s.gate.Deny(id) {
		return echo.NewHTTPError(http.StatusNotFound, "no pending confirmation with that id")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"confirmation_id": id,
		"outcome":         "denied",
	})
}
