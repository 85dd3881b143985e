package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/lineage"
)

// lineageBody mirrors the lineage endpoint response.
type lineageBody struct {
	Graph lineage.Graph `json:"graph"`
}

// Lineage over REST: task.completed → task.created → run.started, with
// depths assigned by distance from the queried event.
func TestLineageWalkOverREST(t *testing.T) {
	env := NewEnv(t)

	var run created
	require.Equal(t, http.StatusCreated,
		env.Post("/runs", map[string]any{"goal": "trace me"}, &run))
	var task created
	require.Equal(t, http.StatusCreated,
		env.Post("/runs/"+run.ID+"/tasks", map[string]any{"title": "t1"}, &task))
	require.Equal(t, http.StatusOK,
		env.Post("/runs/"+run.ID+"/tasks/"+task.ID+"/complete",
			map[string]any{"result": map[string]any{"message": "done"}}, nil))

	var startedID, createdID, completedID string
	for _, e := range env.Events(run.ID) {
		switch e.Type {
		case event.TypeRunStarted:
			startedID = e.ID
		case event.TypeTaskCreated:
			createdID = e.ID
		case event.TypeTaskCompleted:
			completedID = e.ID
		}
	}
	require.NotEmpty(t, startedID)
	require.NotEmpty(t, createdID)
	require.NotEmpty(t, completedID)

	var body lineageBody
	require.Equal(t, http.StatusOK,
		env.Get("/runs/"+run.ID+"/events/"+completedID+"/lineage", &body))

	assert.Equal(t, completedID, body.Graph.Root)
	assert.False(t, body.Graph.Truncated)
	require.Len(t, body.Graph.Nodes, 3)

	byID := make(map[string]lineage.Node, len(body.Graph.Nodes))
	for _, n := range body.Graph.Nodes {
		byID[n.ID] = n
	}
	assert.Equal(t, 0, byID[completedID].Depth)
	assert.Equal(t, []string{createdID}, byID[completedID].Parents)
	assert.Equal(t, 1, byID[createdID].Depth)
	assert.Equal(t, []string{startedID}, byID[createdID].Parents)
	assert.Equal(t, 2, byID[startedID].Depth)
	assert.Empty(t, byID[startedID].Parents)
}

// A max_depth bound cuts the walk short and says so.
func TestLineageDepthBoundOverREST(t *testing.T) {
	env := NewEnv(t)

	var run created
	env.Post("/runs", map[string]any{"goal": "shallow"}, &run)
	var task created
	env.Post("/runs/"+run.ID+"/tasks", map[string]any{"title": "t1"}, &task)
	env.Post("/runs/"+run.ID+"/tasks/"+task.ID+"/complete",
		map[string]any{"result": map[string]any{"message": "done"}}, nil)

	var completedID string
	for _, e := range env.Events(run.ID) {
		if e.Type == event.TypeTaskCompleted {
			completedID = e.ID
		}
	}
	require.NotEmpty(t, completedID)

	var body lineageBody
	require.Equal(t, http.StatusOK,
		env.Get("/runs/"+run.ID+"/events/"+completedID+"/lineage?max_depth=1", &body))
	assert.True(t, body.Graph.Truncated)
	assert.Len(t, body.Graph.Nodes, 2, "only the root and its direct parent fit in depth 1")

	// An unknown event is a 404, not an empty graph.
	assert.Equal(t, http.StatusNotFound,
		env.Get("/runs/"+run.ID+"/events/ev-doesnotexist/lineage", nil))
}
