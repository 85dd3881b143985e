// Package scheduler orchestrates hives, colonies, runs, and tasks. It is
// the only writer of lifecycle events; the Akashic Record stays the
// canonical truth and every in-memory view here is a rebuildable fold.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/colonyforge/hiveforge/pkg/agent"
	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/lineage"
	"github.com/colonyforge/hiveforge/pkg/projection"
	"github.com/colonyforge/hiveforge/pkg/waggle"
)

// Options tunes the scheduler.
type Options struct {
	// Actor stamps scheduler-emitted events; default "scheduler".
	Actor string
	// SilenceTimeout is the per-run watchdog threshold; default 60 s.
	SilenceTimeout time.Duration
	// MaxWorkers bounds concurrent task dispatch per run; default 4.
	MaxWorkers int
	// ShutdownBudget bounds how long Shutdown waits for in-flight runs
	// before cancelling them; default 10 s.
	ShutdownBudget time.Duration
}

func (o Options) withDefaults() Options {
	if o.Actor == "" {
		o.Actor = "scheduler"
	}
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 60 * time.Second
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 4
	}
	if o.ShutdownBudget <= 0 {
		o.ShutdownBudget = 10 * time.Second
	}
	return o
}

// runState tracks one active run: its projection, owning colony, and the
// cancel funcs emergency stop fans out over.
type runState struct {
	runID    string
	colonyID string
	hiveID   string
	proj     *projection.RunProjection
	ctx      context.Context
	cancel   context.CancelFunc
	// taskCancels holds per-dispatched-task cancel funcs.
	taskCancels map[string]context.CancelFunc
}

type colonyTransition struct {
	colonyID string
	state    projection.ColonyProgressState
}

// Scheduler owns the run registry, hive/colony projections, lineage
// resolvers, and the silence watchdog. All mutation funnels through
// append(), which resolves parents, commits to the store, and folds the
// committed event back into the in-memory views.
type Scheduler struct {
	store     *akashic.Store
	opts      Options
	watchdog  *Watchdog
	approvals *agent.ApprovalBroker
	waggle    *waggle.Validator
	messenger *Messenger
	log       *slog.Logger

	mu        sync.Mutex
	hives     map[string]*projection.HiveProjection
	colonies  map[string]string // colony ID → hive ID
	runs      map[string]*runState
	resolvers map[string]*lineage.Resolver
	tracker   *projection.ColonyProgressTracker
	// pending colony transitions collected under mu, emitted outside it.
	pendingTransitions []colonyTransition
	escalations        map[string]*Escalation
	conferences        map[string]*Conference
	closing            bool

	wg sync.WaitGroup
}

// New builds a scheduler over an open store.
func New(store *akashic.Store, opts Options) *Scheduler {
	s := &Scheduler{
		store:       store,
		opts:        opts.withDefaults(),
		approvals:   agent.NewApprovalBroker(),
		log:         slog.With("component", "scheduler"),
		hives:       make(map[string]*projection.HiveProjection),
		colonies:    make(map[string]string),
		runs:        make(map[string]*runState),
		resolvers:   make(map[string]*lineage.Resolver),
		escalations: make(map[string]*Escalation),
		conferences: make(map[string]*Conference),
	}
	s.tracker = projection.NewColonyProgressTracker(func(colonyID string, state projection.ColonyProgressState) {
		// Called under s.mu from the append path; defer the emit.
		s.pendingTransitions = append(s.pendingTransitions, colonyTransition{colonyID, state})
	})
	s.watchdog = NewWatchdog(s.opts.SilenceTimeout, s.onSilence)
	s.messenger = NewMessenger(s.recordMessage)
	validator, err := waggle.NewValidator()
	if err != nil {
		// Embedded schemas failing to compile is a build defect; dispatch
		// still works, messages just go unvalidated.
		s.log.Error("Waggle validator unavailable", "error", err)
	} else {
		s.waggle = validator
	}
	return s
}

// appender funnels waggle compliance events through the scheduler's
// append path so they pick up lineage and projection folding.
type appender struct{ s *Scheduler }

func (a appender) Append(streamID string, e *event.Event) (*event.Event, error) {
	return a.s.append(streamID, e)
}

// Messenger exposes the inter-colony mail system. Delivery is in-memory;
// every send/receive/lock event lands on the owning hive's stream.
func (s *Scheduler) Messenger() *Messenger { return s.messenger }

// recordMessage routes a messenger event to the hive stream owning the
// involved colony. Messages between unregistered colonies are delivered
// but leave no trail.
func (s *Scheduler) recordMessage(t event.Type, payload map[string]any) {
	colonyID := event.Str(payload, "to")
	if colonyID == "" {
		colonyID = event.Str(payload, "colony_id")
	}
	if colonyID == "" {
		colonyID = event.Str(payload, "from")
	}

	s.mu.Lock()
	hiveID, ok := s.colonies[colonyID]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("Messenger event for unregistered colony", "colony_id", colonyID, "type", string(t))
		return
	}

	if _, err := s.append(hiveID, event.New(t,
		event.WithActor(s.opts.Actor),
		event.WithPayload(payload),
	)); err != nil {
		s.log.Error("Failed to record messenger event", "hive_id", hiveID, "type", string(t), "error", err)
	}
}

// validateMessage checks one inter-role message against its waggle
// schema and records the outcome on the run stream. A violation never
// blocks the message; the event is the evidence trail.
func (s *Scheduler) validateMessage(runID string, direction waggle.Direction, payload map[string]any) {
	if s.waggle == nil {
		return
	}
	result, err := s.waggle.Validate(direction, payload)
	if err != nil {
		s.log.Error("Waggle validation failed", "direction", string(direction), "error", err)
		return
	}
	if !result.Valid {
		s.log.Warn("Waggle protocol violation",
			"run_id", runID, "direction", string(direction), "errors", result.Errors)
	}
	if _, err := s.waggle.Record(appender{s}, runID, runID, s.opts.Actor, result, payload); err != nil {
		s.log.Error("Failed to record waggle outcome", "run_id", runID, "error", err)
	}
}

// Store exposes the underlying Akashic Record for read paths (API event
// listing, lineage queries).
func (s *Scheduler) Store() *akashic.Store { return s.store }

// ActiveRuns reports how many runs are registered and not yet terminal.
func (s *Scheduler) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if !r.proj.State.Terminal() {
			n++
		}
	}
	return n
}

// newID mints a prefixed ULID entity ID ("run-01H…").
func newID(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}

// append resolves lineage, commits the event, folds it into projections,
// and feeds the watchdog. Deferred colony transitions are drained after
// the lock is released.
func (s *Scheduler) append(streamID string, e *event.Event) (*event.Event, error) {
	s.mu.Lock()
	resolver, ok := s.resolvers[streamID]
	if !ok {
		resolver = lineage.NewResolver()
		s.resolvers[streamID] = resolver
	}
	if len(e.Parents) == 0 {
		e.Parents = resolver.Resolve(e)
	}
	s.mu.Unlock()

	committed, err := s.store.Append(streamID, e)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	resolver.Observe(committed)
	if hive, ok := s.hives[streamID]; ok {
		hive.Apply(committed)
	}
	if run, ok := s.runs[streamID]; ok {
		run.proj.Apply(committed)
	}
	s.tracker.Apply(committed)
	transitions := s.pendingTransitions
	s.pendingTransitions = nil
	s.mu.Unlock()

	s.watchdog.Touch(streamID)
	for _, tr := range transitions {
		s.emitColonyTransition(tr)
	}
	return committed, nil
}

// emitColonyTransition writes the exactly-once colony terminal event to
// the owning hive's stream.
func (s *Scheduler) emitColonyTransition(tr colonyTransition) {
	s.mu.Lock()
	hiveID, ok := s.colonies[tr.colonyID]
	s.mu.Unlock()
	if !ok {
		return
	}

	var t event.Type
	switch tr.state {
	case projection.ColonyProgressCompleted:
		t = event.TypeColonyComplete
	case projection.ColonyProgressFailed:
		t = event.TypeColonyFailed
	default:
		return
	}

	payload := map[string]any{"colony_id": tr.colonyID, "hive_id": hiveID}
	if _, err := s.append(hiveID, event.New(t,
		event.WithActor(s.opts.Actor),
		event.WithPayload(payload),
	)); err != nil {
		s.log.Error("Failed to record colony transition", "colony_id", tr.colonyID, "state", string(tr.state), "error", err)
		return
	}
	s.log.Info("Colony reached terminal state", "colony_id", tr.colonyID, "state", string(tr.state))
}

// onSilence is the watchdog callback: record the breach on the run stream.
func (s *Scheduler) onSilence(runID string, silentFor time.Duration) {
	// Append via the store directly: going through append() would touch
	// the watchdog and immediately re-arm the silence we are reporting.
	e := event.New(event.TypeSystemSilenceDetected,
		event.WithRunID(runID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(event.SilenceDetectedPayload(silentFor.Seconds())),
	)
	if _, err := s.store.Append(runID, e); err != nil {
		s.log.Error("Failed to record silence", "run_id", runID, "error", err)
		return
	}
	s.mu.Lock()
	if run, ok := s.runs[runID]; ok {
		run.proj.Apply(e)
	}
	s.mu.Unlock()
	s.log.Warn("Run silent past watchdog threshold", "run_id", runID, "silent_for", silentFor)
}

// Shutdown stops intake, waits for in-flight runs within the budget, then
// cancels what remains and flushes the store.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	active := make([]*runState, 0, len(s.runs))
	for _, r := range s.runs {
		if !r.proj.State.Terminal() {
			active = append(active, r)
		}
	}
	s.mu.Unlock()

	s.log.Info("Scheduler shutting down", "active_runs", len(active), "budget", s.opts.ShutdownBudget)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	budget := time.NewTimer(s.opts.ShutdownBudget)
	defer budget.Stop()
	select {
	case <-done:
	case <-budget.C:
		s.log.Warn("Shutdown budget exhausted, cancelling remaining runs")
		for _, r := range active {
			r.cancel()
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.watchdog.Stop()
	return s.store.Sync()
}
