package sink

import (
	"context"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// Broadcaster fans an applied event out to live subscribers. The
// WebSocket connection manager implements this.
type Broadcaster interface {
	BroadcastEvent(streamID string, e *event.Event)
}

// ActivitySink pushes every applied event to dashboard subscribers. It
// never fails: a slow or absent audience must not stall the tail.
type ActivitySink struct {
	broadcaster Broadcaster
}

// NewActivitySink wraps a broadcaster as a sink.
func NewActivitySink(b Broadcaster) *ActivitySink {
	return &ActivitySink{broadcaster: b}
}

func (s *ActivitySink) Name() string { return "activity" }

func (s *ActivitySink) Apply(_ context.Context, streamID string, e *event.Event) error {
	s.broadcaster.BroadcastEvent(streamID, e)
	return nil
}
