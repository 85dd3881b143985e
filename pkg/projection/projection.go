// Package projection folds event streams into in-memory views.
//
// Projections are deterministic: the same events in the same order always
// produce an equivalent state. They never consult the wall clock or perform
// I/O — timestamps come from the events themselves. Illegal transitions are
// recorded on the projection's error list and otherwise ignored; the record
// is truth, projections surface anomalies.
//
// A projection instance is owned by a single goroutine (the scheduler mutates
// its copies; sinks fold their own).
package projection

import (
	"fmt"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// Projector is one fold step. Apply must be total: it never fails, it
// records anomalies instead.
type Projector interface {
	Apply(e *event.Event)
}

// Build folds events into p and returns p.
func Build[P Projector](events []*event.Event, p P) P {
	for _, e := range events {
		p.Apply(e)
	}
	return p
}

// TransitionError records an event that arrived in a state where its
// transition is not legal.
type TransitionError struct {
	EventID   string     `json:"event_id"`
	EventType event.Type `json:"event_type"`
	Detail    string     `json:"detail"`
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s (%s): %s", e.EventType, e.EventID, e.Detail)
}

func illegal(e *event.Event, format string, args ...any) TransitionError {
	return TransitionError{
		EventID:   e.ID,
		EventType: e.Type,
		Detail:    fmt.Sprintf(format, args...),
	}
}
