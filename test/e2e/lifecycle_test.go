package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/projection"
)

// Full hierarchy walk over REST: hive → colony → run → task →
// completion → close, then verify the chain end to end.
func TestFullHierarchyLifecycle(t *testing.T) {
	env := NewEnv(t)

	var hive projection.HiveProjection
	require.Equal(t, http.StatusCreated, env.Post("/hives", map[string]any{"name": "E2E"}, &hive))

	var colony created
	require.Equal(t, http.StatusCreated,
		env.Post("/hives/"+hive.HiveID+"/colonies", map[string]any{"name": "Feat"}, &colony))
	require.Equal(t, http.StatusOK, env.Post("/colonies/"+colony.ColonyID+"/start", map[string]any{}, nil))

	var run created
	require.Equal(t, http.StatusCreated,
		env.Post("/runs", map[string]any{"goal": "do", "colony_id": colony.ColonyID}, &run))

	var task created
	require.Equal(t, http.StatusCreated,
		env.Post("/runs/"+run.ID+"/tasks", map[string]any{"title": "t1"}, &task))
	require.Equal(t, http.StatusOK,
		env.Post("/runs/"+run.ID+"/tasks/"+task.ID+"/complete",
			map[string]any{"result": map[string]any{"message": "ok"}}, nil))

	require.Equal(t, http.StatusOK,
		env.Post("/runs/"+run.ID+"/complete", map[string]any{"summary": "all"}, nil))
	require.Equal(t, http.StatusOK, env.Post("/colonies/"+colony.ColonyID+"/complete", map[string]any{}, nil))
	require.Equal(t, http.StatusOK, env.Post("/hives/"+hive.HiveID+"/close", map[string]any{}, nil))

	var gotHive projection.HiveProjection
	require.Equal(t, http.StatusOK, env.Get("/hives/"+hive.HiveID, &gotHive))
	assert.Equal(t, projection.HiveClosed, gotHive.Status)

	var gotRun projection.RunProjection
	require.Equal(t, http.StatusOK, env.Get("/runs/"+run.ID, &gotRun))
	assert.Equal(t, projection.RunCompleted, gotRun.State)
	assert.Equal(t, projection.TaskCompleted, gotRun.Tasks[task.ID].State)

	for _, streamID := range []string{hive.HiveID, run.ID} {
		ok, failIdx, err := env.Store.VerifyChain(streamID)
		require.NoError(t, err)
		assert.True(t, ok, "chain of %s broken at %d", streamID, failIdx)
	}
}

// A colony whose child runs all complete is auto-completed exactly once
// by the progress roll-up.
func TestColonyAutoCompletionFromRunRollup(t *testing.T) {
	env := NewEnv(t)

	var hive projection.HiveProjection
	env.Post("/hives", map[string]any{"name": "rollup"}, &hive)
	var colony created
	env.Post("/hives/"+hive.HiveID+"/colonies", map[string]any{"name": "c"}, &colony)
	env.Post("/colonies/"+colony.ColonyID+"/start", map[string]any{}, nil)

	var run1, run2 created
	env.Post("/runs", map[string]any{"goal": "one", "colony_id": colony.ColonyID}, &run1)
	env.Post("/runs", map[string]any{"goal": "two", "colony_id": colony.ColonyID}, &run2)

	require.Equal(t, http.StatusOK, env.Post("/runs/"+run1.ID+"/complete", map[string]any{"summary": "s1"}, nil))
	require.Equal(t, http.StatusOK, env.Post("/runs/"+run2.ID+"/complete", map[string]any{"summary": "s2"}, nil))

	completions := 0
	for _, e := range env.Events(hive.HiveID) {
		if e.Type == event.TypeColonyComplete && e.Payload["colony_id"] == colony.ColonyID {
			completions++
		}
	}
	assert.Equal(t, 1, completions, "colony.completed must be emitted exactly once")

	var gotHive projection.HiveProjection
	env.Get("/hives/"+hive.HiveID, &gotHive)
	assert.Equal(t, projection.ColonyCompleted, gotHive.Colonies[colony.ColonyID].State)
}

// A failed run rolls the colony up to failed.
func TestColonyFailureFromRunRollup(t *testing.T) {
	env := NewEnv(t)

	var hive projection.HiveProjection
	env.Post("/hives", map[string]any{"name": "rollup-fail"}, &hive)
	var colony created
	env.Post("/hives/"+hive.HiveID+"/colonies", map[string]any{"name": "c"}, &colony)
	env.Post("/colonies/"+colony.ColonyID+"/start", map[string]any{}, nil)

	var run created
	env.Post("/runs", map[string]any{"goal": "doomed", "colony_id": colony.ColonyID}, &run)
	require.NoError(t, env.Sched.FailRun(run.ID, "exploded"))

	var gotHive projection.HiveProjection
	env.Get("/hives/"+hive.HiveID, &gotHive)
	assert.Equal(t, projection.ColonyFailed, gotHive.Colonies[colony.ColonyID].State)
}
