package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/event"
)

func TestResolverRunLifecycle(t *testing.T) {
	r := NewResolver()

	started := event.New(event.TypeRunStarted, event.WithRunID("run-1"))
	started.ID = "ev-start"
	assert.Empty(t, r.Resolve(started))
	r.Observe(started)

	created := event.New(event.TypeTaskCreated, event.WithRunID("run-1"), event.WithTaskID("task-1"))
	created.ID = "ev-created"
	assert.Equal(t, []string{"ev-start"}, r.Resolve(created))
	r.Observe(created)

	assigned := event.New(event.TypeTaskAssigned, event.WithRunID("run-1"), event.WithTaskID("task-1"))
	assert.Equal(t, []string{"ev-created"}, r.Resolve(assigned))

	completed := event.New(event.TypeTaskCompleted, event.WithRunID("run-1"), event.WithTaskID("task-1"))
	completed.ID = "ev-done-1"
	assert.Equal(t, []string{"ev-created"}, r.Resolve(completed))
	r.Observe(completed)

	completed2 := event.New(event.TypeTaskCompleted, event.WithRunID("run-1"), event.WithTaskID("task-2"))
	completed2.ID = "ev-done-2"
	r.Observe(completed2)

	runDone := event.New(event.TypeRunCompleted, event.WithRunID("run-1"))
	assert.Equal(t, []string{"ev-done-1", "ev-done-2"}, r.Resolve(runDone))
}

func TestResolverExplicitParentsWin(t *testing.T) {
	r := NewResolver()
	started := event.New(event.TypeRunStarted, event.WithRunID("run-1"))
	started.ID = "ev-start"
	r.Observe(started)

	created := event.New(event.TypeTaskCreated,
		event.WithRunID("run-1"), event.WithTaskID("task-1"),
		event.WithParents("ev-custom"))
	assert.Equal(t, []string{"ev-custom"}, r.Resolve(created))
}

func TestResolverMissingPrerequisites(t *testing.T) {
	r := NewResolver()

	// task.created with no observed run.started resolves to [].
	created := event.New(event.TypeTaskCreated, event.WithRunID("run-x"), event.WithTaskID("task-x"))
	assert.Empty(t, r.Resolve(created))

	// task progress with no observed task.created resolves to [].
	progressed := event.New(event.TypeTaskProgressed, event.WithRunID("run-x"), event.WithTaskID("task-x"))
	assert.Empty(t, r.Resolve(progressed))

	// events without IDs resolve to [].
	anonymous := event.New(event.TypeTaskCompleted)
	assert.Empty(t, r.Resolve(anonymous))
}

func TestResolverDecisions(t *testing.T) {
	r := NewResolver()

	recorded := event.New(event.TypeDecisionRecorded,
		event.WithPayload(map[string]any{"decision_id": "dec-1"}))
	recorded.ID = "ev-recorded"
	r.Observe(recorded)

	applied := event.New(event.TypeDecisionApplied,
		event.WithPayload(map[string]any{"decision_id": "dec-1"}))
	assert.Equal(t, []string{"ev-recorded"}, r.Resolve(applied))

	orphan := event.New(event.TypeDecisionApplied,
		event.WithPayload(map[string]any{"decision_id": "dec-404"}))
	assert.Empty(t, r.Resolve(orphan))
}

func TestResolverRebuildMatchesIncremental(t *testing.T) {
	events := []*event.Event{
		event.New(event.TypeRunStarted, event.WithRunID("run-1")),
		event.New(event.TypeTaskCreated, event.WithRunID("run-1"), event.WithTaskID("task-1")),
		event.New(event.TypeTaskCompleted, event.WithRunID("run-1"), event.WithTaskID("task-1")),
	}
	rebuilt := Rebuild(events)

	incremental := NewResolver()
	for _, e := range events {
		incremental.Observe(e)
	}

	probe := event.New(event.TypeRunCompleted, event.WithRunID("run-1"))
	assert.Equal(t, incremental.Resolve(probe), rebuilt.Resolve(probe))
}

func appendWithLineage(t *testing.T, store *akashic.Store, r *Resolver, streamID string, e *event.Event) *event.Event {
	t.Helper()
	e.Parents = r.Resolve(e)
	committed, err := store.Append(streamID, e)
	require.NoError(t, err)
	r.Observe(committed)
	return committed
}

func TestQueryWalksAncestry(t *testing.T) {
	store, err := akashic.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r := NewResolver()
	const stream = "run-1"

	started := appendWithLineage(t, store, r, stream,
		event.New(event.TypeRunStarted, event.WithRunID("run-1")))
	created := appendWithLineage(t, store, r, stream,
		event.New(event.TypeTaskCreated, event.WithRunID("run-1"), event.WithTaskID("task-1")))
	completed := appendWithLineage(t, store, r, stream,
		event.New(event.TypeTaskCompleted, event.WithRunID("run-1"), event.WithTaskID("task-1")))
	runDone := appendWithLineage(t, store, r, stream,
		event.New(event.TypeRunCompleted, event.WithRunID("run-1")))

	graph, err := Query(store, stream, runDone.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, runDone.ID, graph.Root)
	assert.False(t, graph.Truncated)
	require.Len(t, graph.Nodes, 4)

	depths := make(map[string]int, len(graph.Nodes))
	for _, n := range graph.Nodes {
		depths[n.ID] = n.Depth
	}
	assert.Equal(t, 0, depths[runDone.ID])
	assert.Equal(t, 1, depths[completed.ID])
	assert.Equal(t, 2, depths[created.ID])
	assert.Equal(t, 3, depths[started.ID])
}

func TestQueryDepthBound(t *testing.T) {
	store, err := akashic.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r := NewResolver()
	const stream = "run-1"

	appendWithLineage(t, store, r, stream,
		event.New(event.TypeRunStarted, event.WithRunID("run-1")))
	created := appendWithLineage(t, store, r, stream,
		event.New(event.TypeTaskCreated, event.WithRunID("run-1"), event.WithTaskID("task-1")))
	completed := appendWithLineage(t, store, r, stream,
		event.New(event.TypeTaskCompleted, event.WithRunID("run-1"), event.WithTaskID("task-1")))

	graph, err := Query(store, stream, completed.ID, 1)
	require.NoError(t, err)

	assert.True(t, graph.Truncated)
	require.Len(t, graph.Nodes, 2)
	assert.Equal(t, completed.ID, graph.Nodes[0].ID)
	assert.Equal(t, created.ID, graph.Nodes[1].ID)
}

func TestQueryUnknownEvent(t *testing.T) {
	store, err := akashic.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Append("run-1", event.New(event.TypeRunStarted, event.WithRunID("run-1")))
	require.NoError(t, err)

	_, err = Query(store, "run-1", "no-such-event", 0)
	assert.ErrorIs(t, err, akashic.ErrEventNotFound)
}

func TestQueryUnresolvableParentListedNotWalked(t *testing.T) {
	store, err := akashic.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	e := event.New(event.TypeTaskCreated,
		event.WithRunID("run-1"), event.WithTaskID("task-1"),
		event.WithParents("ghost-event"))
	committed, err := store.Append("run-1", e)
	require.NoError(t, err)

	graph, err := Query(store, "run-1", committed.ID, 0)
	require.NoError(t, err)

	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, []string{"ghost-event"}, graph.Nodes[0].Parents)
}
