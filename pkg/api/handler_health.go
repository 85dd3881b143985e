package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/colonyforge/hiveforge/pkg/version"
)

// healthHandler handles GET /health. Unauthenticated; reports only
// process-local state so an external monitor never restarts the
// process because of a sick downstream.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    version.Full(),
		ActiveRuns: s.sched.ActiveRuns(),
	})
}
