package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createHiveHandler handles POST /hives.
func (s *Server) createHiveHandler(c *echo.Context) error {
	var req CreateHiveRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return respondDetail(c, http.StatusUnprocessableEntity, "name is required")
	}

	hive, err := s.sched.CreateHive(req.Name, req.Description)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusCreated, hive)
}

// listHivesHandler handles GET /hives.
func (s *Server) listHivesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.sched.ListHives())
}

// getHiveHandler handles GET /hives/:id. The response includes every
// colony the hive owns.
func (s *Server) getHiveHandler(c *echo.Context) error {
	hive, err := s.sched.GetHive(c.Param("id"))
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, hive)
}

// closeHiveHandler handles POST /hives/:id/close. Active colonies are
// soft-terminated as part of the close.
func (s *Server) closeHiveHandler(c *echo.Context) error {
	if err := s.sched.CloseHive(c.Param("id")); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "closed"})
}

// createColonyHandler handles POST /hives/:id/colonies.
func (s *Server) createColonyHandler(c *echo.Context) error {
	var req CreateColonyRequest
	if err := c.Bind(&req); err != nil {
		return respondDetail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return respondDetail(c, http.StatusUnprocessableEntity, "name is required")
	}

	hiveID := c.Param("id")
	colonyID, err := s.sched.CreateColony(hiveID, req.Name, req.Goal)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusCreated, ColonyCreatedResponse{ColonyID: colonyID, HiveID: hiveID})
}
