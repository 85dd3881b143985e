package projection

import "github.com/colonyforge/hiveforge/pkg/event"

// HiveStatus is the lifecycle state of a hive.
type HiveStatus string

const (
	HiveActive HiveStatus = "active"
	HiveClosed HiveStatus = "closed"
)

// ColonyState is the lifecycle state of a colony.
type ColonyState string

const (
	ColonyPending   ColonyState = "pending"
	ColonyRunning   ColonyState = "running"
	ColonyCompleted ColonyState = "completed"
	ColonyFailed    ColonyState = "failed"
)

// Terminal reports whether the colony reached an end state.
func (s ColonyState) Terminal() bool {
	return s == ColonyCompleted || s == ColonyFailed
}

// ColonyProjection is the folded view of one colony within a hive stream.
type ColonyProjection struct {
	ColonyID string      `json:"colony_id"`
	Name     string      `json:"name"`
	Goal     string      `json:"goal,omitempty"`
	State    ColonyState `json:"state"`
	Forced   bool        `json:"forced,omitempty"` // terminal state imposed by closing the hive
}

// HiveProjection is the folded view of a hive stream: hive metadata plus the
// lifecycle of every colony it owns.
type HiveProjection struct {
	HiveID      string                       `json:"hive_id"`
	Name        string                       `json:"name"`
	Description string                       `json:"description,omitempty"`
	Status      HiveStatus                   `json:"status"`
	Colonies    map[string]*ColonyProjection `json:"colonies"`
	EventCount  int                          `json:"event_count"`
	Errors      []TransitionError            `json:"errors,omitempty"`
}

// NewHiveProjection returns an empty projection; hive.created activates it.
func NewHiveProjection(hiveID string) *HiveProjection {
	return &HiveProjection{
		HiveID:   hiveID,
		Status:   HiveActive,
		Colonies: make(map[string]*ColonyProjection),
	}
}

// Apply folds one event from the hive stream.
func (p *HiveProjection) Apply(e *event.Event) {
	p.EventCount++

	switch e.Type {
	case event.TypeHiveCreated:
		p.Name = event.Str(e.Payload, "name")
		p.Description = event.Str(e.Payload, "description")
		p.Status = HiveActive

	case event.TypeHiveClosed:
		if p.Status == HiveClosed {
			p.fail(e, "hive.closed on closed hive")
			return
		}
		p.Status = HiveClosed

	case event.TypeColonyCreated:
		id := colonyID(e)
		if id == "" {
			p.fail(e, "colony.created without colony_id")
			return
		}
		if _, exists := p.Colonies[id]; exists {
			p.fail(e, "duplicate colony.created for %s", id)
			return
		}
		p.Colonies[id] = &ColonyProjection{
			ColonyID: id,
			Name:     event.Str(e.Payload, "name"),
			Goal:     event.Str(e.Payload, "goal"),
			State:    ColonyPending,
		}

	case event.TypeColonyStarted:
		c := p.colony(e)
		if c == nil {
			return
		}
		if c.State != ColonyPending {
			p.fail(e, "colony.started in state %s", c.State)
			return
		}
		c.State = ColonyRunning

	case event.TypeColonyComplete:
		c := p.colony(e)
		if c == nil {
			return
		}
		if c.State.Terminal() {
			p.fail(e, "colony.completed in terminal state %s", c.State)
			return
		}
		c.State = ColonyCompleted
		c.Forced = event.Bool(e.Payload, "forced")

	case event.TypeColonyFailed:
		c := p.colony(e)
		if c == nil {
			return
		}
		if c.State.Terminal() {
			p.fail(e, "colony.failed in terminal state %s", c.State)
			return
		}
		c.State = ColonyFailed
	}
}

// ColonyStates aggregates colony lifecycle states into counts, the roll-up
// the API reports per hive.
func (p *HiveProjection) ColonyStates() map[ColonyState]int {
	counts := make(map[ColonyState]int, 4)
	for _, c := range p.Colonies {
		counts[c.State]++
	}
	return counts
}

// ActiveColonies returns the IDs of colonies not yet terminal, ordered not
// guaranteed.
func (p *HiveProjection) ActiveColonies() []string {
	var ids []string
	for id, c := range p.Colonies {
		if !c.State.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *HiveProjection) colony(e *event.Event) *ColonyProjection {
	id := colonyID(e)
	c, ok := p.Colonies[id]
	if !ok {
		p.fail(e, "%s for unknown colony %q", e.Type, id)
		return nil
	}
	return c
}

func colonyID(e *event.Event) string {
	return event.Str(e.Payload, "colony_id")
}

func (p *HiveProjection) fail(e *event.Event, format string, args ...any) {
	p.Errors = append(p.Errors, illegal(e, format, args...))
}
