// Package lineage computes and queries the causal parent DAG of events.
//
// The resolver assigns parents to outbound events that did not carry
// explicit ones; the query side walks the recorded DAG breadth-first for
// the REST lineage endpoint. Missing prerequisites never fail resolution —
// an empty parent list is visible, queryable provenance.
package lineage

import (
	"github.com/colonyforge/hiveforge/pkg/event"
)

// Resolver indexes one stream's committed events and derives parents for
// new ones. Feed every appended event through Observe (or rebuild from
// replay); the index is derived state, rebuildable at any time.
//
// Rules, all same-stream:
//
//	run.started                         → []
//	run.completed                       → every task.completed of the run, in ID order
//	task.created                        → [run.started of the run]
//	task.assigned|progressed|completed|failed → [task.created of the task]
//	decision.applied                    → [decision.recorded of the decision_id]
//	anything else                       → []
//
// Owned by a single goroutine (the stream's writer).
type Resolver struct {
	runStarted       map[string]string   // run ID → event ID
	taskCreated      map[string]string   // task ID → event ID
	taskCompleted    map[string][]string // run ID → task.completed event IDs, append order
	decisionRecorded map[string]string   // decision ID → event ID
}

// NewResolver returns an empty index.
func NewResolver() *Resolver {
	return &Resolver{
		runStarted:       make(map[string]string),
		taskCreated:      make(map[string]string),
		taskCompleted:    make(map[string][]string),
		decisionRecorded: make(map[string]string),
	}
}

// Rebuild constructs a resolver from a stream's history.
func Rebuild(events []*event.Event) *Resolver {
	r := NewResolver()
	for _, e := range events {
		r.Observe(e)
	}
	return r
}

// Observe indexes one committed event. First writer wins on duplicate keys;
// anomalies are the projection layer's concern, not the resolver's.
func (r *Resolver) Observe(e *event.Event) {
	switch e.Type {
	case event.TypeRunStarted:
		if e.RunID != "" {
			if _, ok := r.runStarted[e.RunID]; !ok {
				r.runStarted[e.RunID] = e.ID
			}
		}
	case event.TypeTaskCreated:
		if e.TaskID != "" {
			if _, ok := r.taskCreated[e.TaskID]; !ok {
				r.taskCreated[e.TaskID] = e.ID
			}
		}
	case event.TypeTaskCompleted:
		if e.RunID != "" {
			r.taskCompleted[e.RunID] = append(r.taskCompleted[e.RunID], e.ID)
		}
	case event.TypeDecisionRecorded:
		if id := event.Str(e.Payload, "decision_id"); id != "" {
			if _, ok := r.decisionRecorded[id]; !ok {
				r.decisionRecorded[id] = e.ID
			}
		}
	}
}

// Resolve computes parents for an event about to be appended. Explicit
// parents always win; missing prerequisites and null keys yield [].
func (r *Resolver) Resolve(e *event.Event) []string {
	if len(e.Parents) > 0 {
		return e.Parents
	}

	switch e.Type {
	case event.TypeRunStarted:
		return []string{}

	case event.TypeRunCompleted:
		if e.RunID == "" {
			return []string{}
		}
		completed := r.taskCompleted[e.RunID]
		return append([]string{}, completed...)

	case event.TypeTaskCreated:
		if e.RunID == "" {
			return []string{}
		}
		if id, ok := r.runStarted[e.RunID]; ok {
			return []string{id}
		}
		return []string{}

	case event.TypeTaskAssigned, event.TypeTaskProgressed,
		event.TypeTaskCompleted, event.TypeTaskFailed:
		if e.TaskID == "" {
			return []string{}
		}
		if id, ok := r.taskCreated[e.TaskID]; ok {
			return []string{id}
		}
		return []string{}

	case event.TypeDecisionApplied:
		decisionID := event.Str(e.Payload, "decision_id")
		if decisionID == "" {
			return []string{}
		}
		if id, ok := r.decisionRecorded[decisionID]; ok {
			return []string{id}
		}
		return []string{}

	default:
		return []string{}
	}
}
