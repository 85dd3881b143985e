package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
)

func hiveEvent(typ event.Type, payload map[string]any) *event.Event {
	return event.New(typ, event.WithPayload(payload))
}

func colonyPayload(colonyID string, extra map[string]any) map[string]any {
	p := map[string]any{"colony_id": colonyID}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func TestHiveProjection_Lifecycle(t *testing.T) {
	p := NewHiveProjection("hive-1")

	p.Apply(hiveEvent(event.TypeHiveCreated, event.HiveCreatedPayload("prod", "main tenant")))
	p.Apply(hiveEvent(event.TypeColonyCreated, colonyPayload("col-1", map[string]any{"name": "feat", "goal": "ship"})))
	p.Apply(hiveEvent(event.TypeColonyStarted, colonyPayload("col-1", nil)))

	assert.Equal(t, "prod", p.Name)
	assert.Equal(t, HiveActive, p.Status)
	require.Contains(t, p.Colonies, "col-1")
	assert.Equal(t, ColonyRunning, p.Colonies["col-1"].State)
	assert.Equal(t, "ship", p.Colonies["col-1"].Goal)

	p.Apply(hiveEvent(event.TypeColonyComplete, colonyPayload("col-1", nil)))
	p.Apply(hiveEvent(event.TypeHiveClosed, nil))

	assert.Equal(t, HiveClosed, p.Status)
	assert.Equal(t, ColonyCompleted, p.Colonies["col-1"].State)
	assert.Empty(t, p.Errors)
}

func TestHiveProjection_ForcedColonyCompletion(t *testing.T) {
	p := NewHiveProjection("hive-1")
	p.Apply(hiveEvent(event.TypeHiveCreated, event.HiveCreatedPayload("h", "")))
	p.Apply(hiveEvent(event.TypeColonyCreated, colonyPayload("col-1", map[string]any{"name": "c"})))
	p.Apply(hiveEvent(event.TypeColonyStarted, colonyPayload("col-1", nil)))

	// Closing the hive soft-terminates colonies with a forced marker.
	p.Apply(hiveEvent(event.TypeColonyComplete, colonyPayload("col-1", map[string]any{"forced": true})))

	assert.True(t, p.Colonies["col-1"].Forced)
	assert.Equal(t, ColonyCompleted, p.Colonies["col-1"].State)
}

func TestHiveProjection_Anomalies(t *testing.T) {
	p := NewHiveProjection("hive-1")
	p.Apply(hiveEvent(event.TypeHiveCreated, event.HiveCreatedPayload("h", "")))

	// Unknown colony.
	p.Apply(hiveEvent(event.TypeColonyStarted, colonyPayload("ghost", nil)))
	require.Len(t, p.Errors, 1)

	// Terminal colonies stay terminal.
	p.Apply(hiveEvent(event.TypeColonyCreated, colonyPayload("col-1", map[string]any{"name": "c"})))
	p.Apply(hiveEvent(event.TypeColonyStarted, colonyPayload("col-1", nil)))
	p.Apply(hiveEvent(event.TypeColonyFailed, colonyPayload("col-1", nil)))
	p.Apply(hiveEvent(event.TypeColonyComplete, colonyPayload("col-1", nil)))

	assert.Equal(t, ColonyFailed, p.Colonies["col-1"].State)
	assert.Len(t, p.Errors, 2)

	// Double close.
	p.Apply(hiveEvent(event.TypeHiveClosed, nil))
	p.Apply(hiveEvent(event.TypeHiveClosed, nil))
	assert.Len(t, p.Errors, 3)
}

func TestHiveProjection_ColonyStatesRollUp(t *testing.T) {
	p := NewHiveProjection("hive-1")
	p.Apply(hiveEvent(event.TypeHiveCreated, event.HiveCreatedPayload("h", "")))
	for _, id := range []string{"a", "b", "c"} {
		p.Apply(hiveEvent(event.TypeColonyCreated, colonyPayload(id, map[string]any{"name": id})))
	}
	p.Apply(hiveEvent(event.TypeColonyStarted, colonyPayload("a", nil)))
	p.Apply(hiveEvent(event.TypeColonyStarted, colonyPayload("b", nil)))
	p.Apply(hiveEvent(event.TypeColonyComplete, colonyPayload("b", nil)))

	counts := p.ColonyStates()
	assert.Equal(t, 1, counts[ColonyPending])
	assert.Equal(t, 1, counts[ColonyRunning])
	assert.Equal(t, 1, counts[ColonyCompleted])

	assert.ElementsMatch(t, []string{"a", "c"}, p.ActiveColonies())
}
