package projection

import "github.com/colonyforge/hiveforge/pkg/event"

// ColonyProgressState is the tracker's per-colony state machine:
// unknown → running → (completed | failed).
type ColonyProgressState string

const (
	ColonyProgressUnknown   ColonyProgressState = "unknown"
	ColonyProgressRunning   ColonyProgressState = "running"
	ColonyProgressCompleted ColonyProgressState = "completed"
	ColonyProgressFailed    ColonyProgressState = "failed"
)

// ColonyProgressTracker derives colony terminal state from run results.
// run.completed for every child run transitions the colony to completed;
// any run.failed transitions it to failed. Each terminal transition is
// reported to onTransition exactly once.
//
// Events without a run ID or a colony_id payload field are ignored — runs
// outside a colony do not feed the roll-up. Owned by a single goroutine.
type ColonyProgressTracker struct {
	colonies     map[string]*colonyProgress
	onTransition func(colonyID string, state ColonyProgressState)
}

type colonyProgress struct {
	state ColonyProgressState
	runs  map[string]bool // run ID → completed
}

// NewColonyProgressTracker builds a tracker; onTransition may be nil.
func NewColonyProgressTracker(onTransition func(string, ColonyProgressState)) *ColonyProgressTracker {
	return &ColonyProgressTracker{
		colonies:     make(map[string]*colonyProgress),
		onTransition: onTransition,
	}
}

// Apply folds one event. Only run.started / run.completed / run.failed
// participate; terminal colonies ignore further run activity.
func (t *ColonyProgressTracker) Apply(e *event.Event) {
	switch e.Type {
	case event.TypeRunStarted, event.TypeRunCompleted, event.TypeRunFailed:
	default:
		return
	}

	colonyID := event.Str(e.Payload, "colony_id")
	if colonyID == "" || e.RunID == "" {
		return
	}

	c, ok := t.colonies[colonyID]
	if !ok {
		c = &colonyProgress{state: ColonyProgressUnknown, runs: make(map[string]bool)}
		t.colonies[colonyID] = c
	}
	if c.state == ColonyProgressCompleted || c.state == ColonyProgressFailed {
		return
	}

	switch e.Type {
	case event.TypeRunStarted:
		c.runs[e.RunID] = false
		c.state = ColonyProgressRunning

	case event.TypeRunCompleted:
		if _, known := c.runs[e.RunID]; !known {
			return
		}
		c.runs[e.RunID] = true
		if c.allDone() {
			c.state = ColonyProgressCompleted
			t.fire(colonyID, ColonyProgressCompleted)
		}

	case event.TypeRunFailed:
		if _, known := c.runs[e.RunID]; !known {
			return
		}
		c.state = ColonyProgressFailed
		t.fire(colonyID, ColonyProgressFailed)
	}
}

// State returns the tracked state for a colony (unknown when never seen).
func (t *ColonyProgressTracker) State(colonyID string) ColonyProgressState {
	if c, ok := t.colonies[colonyID]; ok {
		return c.state
	}
	return ColonyProgressUnknown
}

// Runs returns the IDs of runs the tracker has seen for a colony.
func (t *ColonyProgressTracker) Runs(colonyID string) []string {
	c, ok := t.colonies[colonyID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(c.runs))
	for id := range c.runs {
		ids = append(ids, id)
	}
	return ids
}

func (c *colonyProgress) allDone() bool {
	if len(c.runs) == 0 {
		return false
	}
	for _, done := range c.runs {
		if !done {
			return false
		}
	}
	return true
}

func (t *ColonyProgressTracker) fire(colonyID string, state ColonyProgressState) {
	if t.onTransition != nil {
		t.onTransition(colonyID, state)
	}
}
