package api

import (
	"context"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/colonyforge/hiveforge/pkg/scheduler"
)

// createRunHandler handles POST /runs.
func (s *Server) createRunHandler(c *echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Goal == "" {
		return respondDetail(c, http.StatusUnprocessableEntity, "goal is required")
	}

	var opts []scheduler.RunOption
	if req.ColonyID != "" {
		opts = append(opts, scheduler.InColony(req.ColonyID))
	}
	runID, err := s.sched.StartRun(req.Goal, opts...)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusCreated, CreatedResponse{ID: runID})
}

// getRunHandler handles GET /runs/:id — the run projection rebuilt
// from the stream.
func (s *Server) getRunHandler(c *echo.Context) error {
	run, err := s.sched.GetRun(c.Param("id"))
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// completeRunHandler handles POST /runs/:id/complete.
func (s *Server) completeRunHandler(c *echo.Context) error {
	var req CompleteRunRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := s.sched.CompleteRun(c.Param("id"), req.Summary); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "completed"})
}

// dispatchRunHandler handles POST /runs/:id/dispatch — hands every
// task of the run to the configured agent executor in the background.
// Progress is observable through the event stream and GET /runs/:id.
func (s *Server) dispatchRunHandler(c *echo.Context) error {
	if s.executor == nil {
		return respondDetail(c, http.StatusServiceUnavailable, "no agent executor configured")
	}
	runID := c.Param("id")
	if _, err := s.sched.GetRun(runID); err != nil {
		return mapSchedulerError(c, err)
	}

	go func() {
		if err := s.sched.DispatchRun(context.Background(), runID, s.executor); err != nil {
			slog.Error("Run dispatch failed", "run_id", runID, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, StatusResponse{Status: "dispatching"})
}

// emergencyStopHandler handles POST /runs/:id/emergency-stop.
func (s *Server) emergencyStopHandler(c *echo.Context) error {
	var req EmergencyStopRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		return respondDetail(c, http.StatusUnprocessableEntity, "reason is required")
	}

	affected, err := s.sched.EmergencyStop(scheduler.StopRun, c.Param("id"), req.Reason)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	if affected == 0 {
		return respondDetail(c, http.StatusNotFound, "resource not found")
	}
	return c.JSON(http.StatusOK, EmergencyStopResponse{Status: "aborted", RunsAffected: affected})
}
