package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/event"
)

// Sink consumes committed events. Apply must be safe to retry: the runner
// re-delivers after failures, and the checkpoint only suppresses events
// that were applied successfully. Sinks never write back into the store.
type Sink interface {
	Name() string
	Apply(ctx context.Context, streamID string, e *event.Event) error
}

// StatefulSink additionally persists per-stream state inside its
// checkpoint sidecar, surviving process restarts.
type StatefulSink interface {
	Sink
	// RestoreState hands back the state captured before the last restart.
	RestoreState(streamID string, state map[string]any)
	// CaptureState returns the state to persist; nil means none.
	CaptureState(streamID string) map[string]any
}

// Runner tails every stream in the store and feeds committed events to
// each registered sink, at-least-once, in append order per stream. One
// checkpoint sidecar per stream per sink records what has been applied.
type Runner struct {
	store *akashic.Store
	sinks []Sink
	log   *slog.Logger

	// interval bounds how long a failed apply waits before retry; the
	// normal wakeup is the store's append notification.
	interval time.Duration

	mu          sync.Mutex
	offsets     map[string]int64
	checkpoints map[string]*checkpoint // keyed by streamID + "/" + sink name
	restored    map[string]struct{}

	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetryInterval sets the fallback sweep interval used after apply
// failures. Default 5s.
func WithRetryInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

// NewRunner builds a runner over the given sinks.
func NewRunner(store *akashic.Store, sinks []Sink, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:       store,
		sinks:       sinks,
		log:         slog.With("component", "sink_runner"),
		interval:    5 * time.Second,
		offsets:     make(map[string]int64),
		checkpoints: make(map[string]*checkpoint),
		restored:    make(map[string]struct{}),
		done:        make(chan struct{}),
		finished:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the tail loop. It returns immediately; call Stop (or
// cancel ctx) to shut down.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		defer close(r.finished)
		for {
			// Grab the wakeup channel before sweeping so an append that
			// lands mid-sweep still fires it.
			wake := r.store.WatchAll()
			r.Sweep(ctx)
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-wake:
			case <-time.After(r.interval):
			}
		}
	}()
}

// Stop halts the tail loop and waits for the in-flight sweep to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.finished
}

// Sweep processes everything currently unapplied across all streams. It
// is the unit of work the tail loop repeats; tests and shutdown paths
// call it directly for a deterministic drain.
func (r *Runner) Sweep(ctx context.Context) {
	streams, err := r.store.ListStreams()
	if err != nil {
		r.log.Error("Failed to list streams", "error", err)
		return
	}
	for _, streamID := range streams {
		if ctx.Err() != nil {
			return
		}
		if err := r.sweepStream(ctx, streamID); err != nil {
			r.log.Warn("Stream sweep interrupted", "stream_id", streamID, "error", err)
		}
	}
}

// sweepStream reads forward from the stream's resume offset. The offset
// only advances past an event once every sink has it applied, so a
// failing sink is retried next sweep while the others no-op via their
// checkpoints.
func (r *Runner) sweepStream(ctx context.Context, streamID string) error {
	r.mu.Lock()
	offset := r.offsets[streamID]
	r.mu.Unlock()

	cur, err := r.store.ReplayFrom(streamID, offset)
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		e, err := cur.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, s := range r.sinks {
			if err := r.applyOnce(ctx, streamID, s, e); err != nil {
				return fmt.Errorf("sink %s on event %s: %w", s.Name(), e.ID, err)
			}
		}
		r.mu.Lock()
		r.offsets[streamID] = cur.Offset()
		r.mu.Unlock()
	}
}

// applyOnce delivers one event to one sink unless its checkpoint already
// records it, then persists the updated checkpoint.
func (r *Runner) applyOnce(ctx context.Context, streamID string, s Sink, e *event.Event) error {
	cp, err := r.checkpointFor(streamID, s)
	if err != nil {
		return err
	}
	if cp.has(e.ID) {
		return nil
	}
	if err := s.Apply(ctx, streamID, e); err != nil {
		return err
	}
	cp.mark(e.ID)
	if stateful, ok := s.(StatefulSink); ok {
		cp.state = stateful.CaptureState(streamID)
	}
	if err := cp.save(); err != nil {
		// The apply landed; a lost checkpoint only costs a redundant
		// retry, which Apply tolerates.
		r.log.Warn("Checkpoint save failed", "sink", s.Name(), "stream_id", streamID, "error", err)
	}
	return nil
}

func (r *Runner) checkpointFor(streamID string, s Sink) (*checkpoint, error) {
	key := streamID + "/" + s.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cp, ok := r.checkpoints[key]; ok {
		return cp, nil
	}
	cp, err := loadCheckpoint(checkpointPath(r.store.Root(), streamID, s.Name()))
	if err != nil {
		return nil, err
	}
	r.checkpoints[key] = cp
	if stateful, ok := s.(StatefulSink); ok {
		if _, done := r.restored[key]; !done {
			stateful.RestoreState(streamID, cp.state)
			r.restored[key] = struct{}{}
		}
	}
	return cp, nil
}
