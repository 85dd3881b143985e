package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createTaskHandler handles POST /runs/:id/tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		return respondDetail(c, http.StatusUnprocessableEntity, "title is required")
	}

	taskID, err := s.sched.CreateTask(c.Param("id"), req.Title, req.Description, req.DependsOn)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusCreated, CreatedResponse{ID: taskID})
}

// completeTaskHandler handles POST /runs/:id/tasks/:tid/complete.
func (s *Server) completeTaskHandler(c *echo.Context) error {
	var req CompleteTaskRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if err := s.sched.CompleteTask(c.Param("id"), c.Param("tid"), req.Result); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "completed"})
}
