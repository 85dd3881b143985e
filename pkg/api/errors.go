package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/scheduler"
)

// ErrorResponse is the wire shape of every API error.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// respondDetail writes the standard error body. Handlers return its
// result directly so every failure path produces the same shape.
func respondDetail(c *echo.Context, status int, detail string) error {
	return c.JSON(status, ErrorResponse{Detail: detail})
}

// mapSchedulerError translates scheduler/store errors into HTTP error
// responses. Unexpected errors are logged in full and surfaced as a
// generic 500 — no internals leak into the body.
func mapSchedulerError(c *echo.Context, err error) error {
	var validErr *scheduler.ValidationError
	if errors.As(err, &validErr) {
		return respondDetail(c, http.StatusUnprocessableEntity, validErr.Error())
	}
	if errors.Is(err, scheduler.ErrNotFound) ||
		errors.Is(err, akashic.ErrStreamNotFound) ||
		errors.Is(err, akashic.ErrEventNotFound) {
		return respondDetail(c, http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, scheduler.ErrConflict) {
		return respondDetail(c, http.StatusUnprocessableEntity, err.Error())
	}
	if errors.Is(err, scheduler.ErrAlreadyExists) {
		return respondDetail(c, http.StatusUnprocessableEntity, "resource already exists")
	}
	if errors.Is(err, scheduler.ErrShuttingDown) {
		return respondDetail(c, http.StatusServiceUnavailable, "shutting down")
	}
	if errors.Is(err, akashic.ErrInvalidStreamID) {
		return respondDetail(c, http.StatusBadRequest, "invalid stream id")
	}

	slog.Error("Unexpected service error", "error", err)
	return respondDetail(c, http.StatusInternalServerError, "internal server error")
}
