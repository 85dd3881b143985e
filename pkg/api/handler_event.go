package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/lineage"
)

// listEventsHandler handles GET /runs/:id/events. Accepts an optional
// `since` RFC3339 query parameter filtering by timestamp.
func (s *Server) listEventsHandler(c *echo.Context) error {
	streamID := c.Param("id")

	var events []*event.Event
	var err error
	if v := c.QueryParam("since"); v != "" {
		since, parseErr := time.Parse(time.RFC3339, v)
		if parseErr != nil {
			return respondDetail(c, http.StatusBadRequest, "since must be RFC3339")
		}
		events, err = replayCollect(s, streamID, since)
	} else {
		events, err = s.sched.Store().ReplayAll(streamID)
	}
	if err != nil {
		return mapSchedulerError(c, err)
	}
	if events == nil {
		events = []*event.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func replayCollect(s *Server, streamID string, since time.Time) ([]*event.Event, error) {
	cur, err := s.sched.Store().ReplaySince(streamID, since)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var events []*event.Event
	for {
		e, err := cur.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
}

// lineageHandler handles GET /runs/:id/events/:eid/lineage — the
// ancestry DAG of one event, walked breadth-first.
func (s *Server) lineageHandler(c *echo.Context) error {
	maxDepth := 0
	if v := c.QueryParam("max_depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			return respondDetail(c, http.StatusBadRequest, "max_depth must be a positive integer")
		}
		maxDepth = d
	}

	graph, err := lineage.Query(s.sched.Store(), c.Param("id"), c.Param("eid"), maxDepth)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, LineageResponse{Graph: graph})
}

// verifyChainHandler handles GET /runs/:id/verify — recomputes every
// hash in the stream and checks the prev_hash chain.
func (s *Server) verifyChainHandler(c *echo.Context) error {
	streamID := c.Param("id")
	ok, firstFailure, err := s.sched.Store().VerifyChain(streamID)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	count, err := s.sched.Store().CountEvents(streamID)
	if err != nil {
		return mapSchedulerError(c, err)
	}
	return c.JSON(http.StatusOK, VerifyResponse{OK: ok, FirstFailureIndex: firstFailure, Events: count})
}
