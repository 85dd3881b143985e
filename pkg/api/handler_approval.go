package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// grantApprovalHandler handles POST /runs/:id/approvals/:aid/grant.
// Records approval.granted on the run stream and releases the parked
// agent turn.
func (s *Server) grantApprovalHandler(c *echo.Context) error {
	if err := s.sched.GrantApproval(c.Param("id"), c.Param("aid"), approvalAuthor(c)); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "granted"})
}

// denyApprovalHandler handles POST /runs/:id/approvals/:aid/deny.
func (s *Server) denyApprovalHandler(c *echo.Context) error {
	if err := s.sched.DenyApproval(c.Param("id"), c.Param("aid"), approvalAuthor(c)); err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "denied"})
}

// approvalAuthor names the deciding party for the approval event.
// Proxy identity headers win over the generic fallback.
func approvalAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	return "user"
}
