package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
)

func runEvent(typ event.Type, taskID string, payload map[string]any) *event.Event {
	opts := []event.Option{event.WithRunID("run-1"), event.WithPayload(payload)}
	if taskID != "" {
		opts = append(opts, event.WithTaskID(taskID))
	}
	return event.New(typ, opts...)
}

func TestRunProjection_HappyPath(t *testing.T) {
	events := []*event.Event{
		runEvent(event.TypeRunStarted, "", event.RunStartedPayload("ship feature")),
		runEvent(event.TypeTaskCreated, "task-1", event.TaskCreatedPayload("build", "", nil)),
		runEvent(event.TypeTaskAssigned, "task-1", event.TaskAssignedPayload("worker:w1")),
		runEvent(event.TypeTaskProgressed, "task-1", event.TaskProgressedPayload(40)),
		runEvent(event.TypeTaskCompleted, "task-1", event.TaskCompletedPayload(map[string]any{"message": "ok"})),
		runEvent(event.TypeRunCompleted, "", event.RunCompletedPayload("all done")),
	}

	p := Build(events, NewRunProjection("run-1"))

	assert.Equal(t, RunCompleted, p.State)
	assert.Equal(t, "ship feature", p.Goal)
	assert.Equal(t, events[0].Timestamp, p.StartedAt)
	assert.Equal(t, events[5].Timestamp, p.CompletedAt)
	assert.Equal(t, 6, p.EventCount)
	assert.Empty(t, p.Errors)

	task := p.Tasks["task-1"]
	require.NotNil(t, task)
	assert.Equal(t, TaskCompleted, task.State)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, "worker:w1", task.Assignee)
	assert.Equal(t, "ok", event.Str(task.Result, "message"))
}

func TestRunProjection_IllegalTransitionsRecordedNotFatal(t *testing.T) {
	p := NewRunProjection("run-1")

	// Completing a run that never started.
	p.Apply(runEvent(event.TypeRunCompleted, "", nil))
	assert.Equal(t, RunPending, p.State)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, event.TypeRunCompleted, p.Errors[0].EventType)

	// The projection keeps folding afterwards.
	p.Apply(runEvent(event.TypeRunStarted, "", event.RunStartedPayload("g")))
	assert.Equal(t, RunRunning, p.State)
}

func TestRunProjection_AbortFromAnyNonTerminal(t *testing.T) {
	fromPending := NewRunProjection("run-1")
	fromPending.Apply(runEvent(event.TypeRunAborted, "", event.RunAbortedPayload("stop")))
	assert.Equal(t, RunAborted, fromPending.State)
	assert.Empty(t, fromPending.Errors)

	fromRunning := NewRunProjection("run-1")
	fromRunning.Apply(runEvent(event.TypeRunStarted, "", nil))
	fromRunning.Apply(runEvent(event.TypeRunAborted, "", nil))
	assert.Equal(t, RunAborted, fromRunning.State)

	// Aborting a completed run is an anomaly, not a state change.
	done := NewRunProjection("run-1")
	done.Apply(runEvent(event.TypeRunStarted, "", nil))
	done.Apply(runEvent(event.TypeRunCompleted, "", nil))
	done.Apply(runEvent(event.TypeRunAborted, "", nil))
	assert.Equal(t, RunCompleted, done.State)
	assert.Len(t, done.Errors, 1)
}

func TestRunProjection_TaskAnomalies(t *testing.T) {
	p := NewRunProjection("run-1")
	p.Apply(runEvent(event.TypeRunStarted, "", nil))

	// Progress for a task that was never created.
	p.Apply(runEvent(event.TypeTaskProgressed, "ghost", event.TaskProgressedPayload(10)))
	require.Len(t, p.Errors, 1)

	// Duplicate creation.
	p.Apply(runEvent(event.TypeTaskCreated, "task-1", event.TaskCreatedPayload("a", "", nil)))
	p.Apply(runEvent(event.TypeTaskCreated, "task-1", event.TaskCreatedPayload("b", "", nil)))
	require.Len(t, p.Errors, 2)
	assert.Equal(t, "a", p.Tasks["task-1"].Title)
}

func TestRunProjection_TaskFailureAndBlocking(t *testing.T) {
	p := NewRunProjection("run-1")
	p.Apply(runEvent(event.TypeRunStarted, "", nil))
	p.Apply(runEvent(event.TypeTaskCreated, "task-1", event.TaskCreatedPayload("t1", "", nil)))
	p.Apply(runEvent(event.TypeTaskCreated, "task-2", event.TaskCreatedPayload("t2", "", []string{"task-1"})))
	p.Apply(runEvent(event.TypeTaskFailed, "task-1", event.TaskFailedPayload("boom")))
	p.Apply(runEvent(event.TypeTaskBlocked, "task-2", event.TaskBlockedPayload([]string{"task-1"})))

	assert.Equal(t, TaskFailed, p.Tasks["task-1"].State)
	assert.Equal(t, "boom", p.Tasks["task-1"].ErrorMessage)
	assert.Equal(t, TaskBlocked, p.Tasks["task-2"].State)
	assert.Equal(t, []string{"task-1"}, p.Tasks["task-2"].BlockedBy)
	assert.Equal(t, []string{"task-1"}, p.Tasks["task-2"].DependsOn)
}

func TestRunProjection_Requirements(t *testing.T) {
	p := NewRunProjection("run-1")
	p.Apply(runEvent(event.TypeRunStarted, "", nil))

	created := event.RequirementCreatedPayload("which database?")
	created["requirement_id"] = "req-1"
	p.Apply(runEvent(event.TypeRequirementCreated, "", created))

	decided := event.RequirementDecidedPayload("user")
	decided["requirement_id"] = "req-1"
	p.Apply(runEvent(event.TypeRequirementApproved, "", decided))

	req := p.Requirements["req-1"]
	require.NotNil(t, req)
	assert.Equal(t, RequirementApproved, req.State)
	assert.Equal(t, "user", req.DecidedBy)
	assert.Equal(t, "which database?", req.Question)

	// Deciding twice is an anomaly.
	p.Apply(runEvent(event.TypeRequirementRejected, "", decided))
	assert.Equal(t, RequirementApproved, req.State)
	assert.Len(t, p.Errors, 1)
}

func TestRunProjection_UnknownTypesCountedNotApplied(t *testing.T) {
	p := NewRunProjection("run-1")
	p.Apply(runEvent(event.TypeRunStarted, "", nil))
	p.Apply(runEvent(event.Type("martian.landed"), "", map[string]any{"x": 1}))

	assert.Equal(t, 2, p.EventCount)
	assert.Equal(t, RunRunning, p.State)
	assert.Empty(t, p.Errors)
}

func TestRunProjection_Deterministic(t *testing.T) {
	events := []*event.Event{
		runEvent(event.TypeRunStarted, "", event.RunStartedPayload("g")),
		runEvent(event.TypeTaskCreated, "task-1", event.TaskCreatedPayload("t", "", nil)),
		runEvent(event.TypeTaskCompleted, "task-1", event.TaskCompletedPayload(nil)),
		runEvent(event.TypeRunCompleted, "", event.RunCompletedPayload("s")),
	}

	first := Build(events, NewRunProjection("run-1"))
	second := Build(events, NewRunProjection("run-1"))

	assert.Equal(t, first, second)
}
