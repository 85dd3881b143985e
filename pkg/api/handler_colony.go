package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// startColonyHandler handles POST /colonies/:id/start.
func (s *Server) startColonyHandler(c *echo.Context) error {
	if err := s.sched.StartColony(c.Param("id")); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "running"})
}

// completeColonyHandler handles POST /colonies/:id/complete.
func (s *Server) completeColonyHandler(c *echo.Context) error {
	if err := s.sched.CompleteColony(c.Param("id")); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "completed"})
}
