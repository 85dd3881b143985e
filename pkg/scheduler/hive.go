package scheduler

import (
	"fmt"
	"sort"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/projection"
)

// CreateHive opens a new hive stream and emits hive.created.
func (s *Scheduler) CreateHive(name, description string) (*projection.HiveProjection, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	hiveID := newID("hive")
	hive := projection.NewHiveProjection(hiveID)
	s.hives[hiveID] = hive
	s.mu.Unlock()

	_, err := s.append(hiveID, event.New(event.TypeHiveCreated,
		event.WithActor(s.opts.Actor),
		event.WithPayload(event.HiveCreatedPayload(name, description)),
	))
	if err != nil {
		s.mu.Lock()
		delete(s.hives, hiveID)
		s.mu.Unlock()
		return nil, fmt.Errorf("create hive: %w", err)
	}

	s.log.Info("Hive created", "hive_id", hiveID, "name", name)
	return s.hiveSnapshot(hiveID)
}

// ListHives returns snapshots of every hive, ordered by ID.
func (s *Scheduler) ListHives() []*projection.HiveProjection {
	s.mu.Lock()
	ids := make([]string, 0, len(s.hives))
	for id := range s.hives {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]*projection.HiveProjection, 0, len(ids))
	for _, id := range ids {
		if snap, err := s.hiveSnapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// GetHive returns a snapshot of one hive.
func (s *Scheduler) GetHive(hiveID string) (*projection.HiveProjection, error) {
	return s.hiveSnapshot(hiveID)
}

// CloseHive soft-terminates every active colony (forced completion) and
// emits hive.closed.
func (s *Scheduler) CloseHive(hiveID string) error {
	s.mu.Lock()
	hive, ok := s.hives[hiveID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("hive %s: %w", hiveID, ErrNotFound)
	}
	if hive.Status == projection.HiveClosed {
		s.mu.Unlock()
		return fmt.Errorf("hive %s already closed: %w", hiveID, ErrConflict)
	}
	active := hive.ActiveColonies()
	s.mu.Unlock()
	sort.Strings(active)

	for _, colonyID := range active {
		payload := event.ColonyTerminalPayload(hiveID, true)
		payload["colony_id"] = colonyID
		if _, err := s.append(hiveID, event.New(event.TypeColonyComplete,
			event.WithActor(s.opts.Actor),
			event.WithPayload(payload),
		)); err != nil {
			return fmt.Errorf("force-complete colony %s: %w", colonyID, err)
		}
	}

	if _, err := s.append(hiveID, event.New(event.TypeHiveClosed,
		event.WithActor(s.opts.Actor),
	)); err != nil {
		return fmt.Errorf("close hive: %w", err)
	}

	s.log.Info("Hive closed", "hive_id", hiveID, "forced_colonies", len(active))
	return nil
}

// CreateColony adds a colony to a hive and emits colony.created on the
// hive stream.
func (s *Scheduler) CreateColony(hiveID, name, goal string) (string, error) {
	if name == "" {
		return "", NewValidationError("name", "required")
	}
	s.mu.Lock()
	hive, ok := s.hives[hiveID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("hive %s: %w", hiveID, ErrNotFound)
	}
	if hive.Status == projection.HiveClosed {
		s.mu.Unlock()
		return "", fmt.Errorf("hive %s is closed: %w", hiveID, ErrConflict)
	}
	colonyID := newID("colony")
	s.colonies[colonyID] = hiveID
	s.mu.Unlock()

	payload := event.ColonyCreatedPayload(hiveID, name, goal)
	payload["colony_id"] = colonyID
	_, err := s.append(hiveID, event.New(event.TypeColonyCreated,
		event.WithActor(s.opts.Actor),
		event.WithPayload(payload),
	))
	if err != nil {
		s.mu.Lock()
		delete(s.colonies, colonyID)
		s.mu.Unlock()
		return "", fmt.Errorf("create colony: %w", err)
	}

	s.log.Info("Colony created", "colony_id", colonyID, "hive_id", hiveID, "name", name)
	return colonyID, nil
}

// StartColony transitions a pending colony to running.
func (s *Scheduler) StartColony(colonyID string) error {
	return s.transitionColony(colonyID, event.TypeColonyStarted, projection.ColonyPending, projection.ColonyRunning)
}

// CompleteColony manually completes a running colony (the roll-up path in
// emitColonyTransition is the automatic one).
func (s *Scheduler) CompleteColony(colonyID string) error {
	return s.transitionColony(colonyID, event.TypeColonyComplete, projection.ColonyRunning, projection.ColonyCompleted)
}

// FailColony manually fails a running colony.
func (s *Scheduler) FailColony(colonyID string) error {
	return s.transitionColony(colonyID, event.TypeColonyFailed, projection.ColonyRunning, projection.ColonyFailed)
}

func (s *Scheduler) transitionColony(colonyID string, t event.Type, from, to projection.ColonyState) error {
	s.mu.Lock()
	hiveID, ok := s.colonies[colonyID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("colony %s: %w", colonyID, ErrNotFound)
	}
	colony := s.hives[hiveID].Colonies[colonyID]
	if colony == nil || colony.State != from {
		state := projection.ColonyState("missing")
		if colony != nil {
			state = colony.State
		}
		s.mu.Unlock()
		if state == to {
			// Already there, usually because the run roll-up got in first.
			// The terminal event exists; a second one would break the
			// exactly-once guarantee.
			return nil
		}
		return fmt.Errorf("colony %s in state %s: %w", colonyID, state, ErrConflict)
	}
	s.mu.Unlock()

	payload := map[string]any{"colony_id": colonyID, "hive_id": hiveID}
	if _, err := s.append(hiveID, event.New(t,
		event.WithActor(s.opts.Actor),
		event.WithPayload(payload),
	)); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	return nil
}

// hiveSnapshot deep-copies a hive projection so callers can read it
// without holding the scheduler lock.
func (s *Scheduler) hiveSnapshot(hiveID string) (*projection.HiveProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hive, ok := s.hives[hiveID]
	if !ok {
		return nil, fmt.Errorf("hive %s: %w", hiveID, ErrNotFound)
	}
	snap := *hive
	snap.Colonies = make(map[string]*projection.ColonyProjection, len(hive.Colonies))
	for id, c := range hive.Colonies {
		colony := *c
		snap.Colonies[id] = &colony
	}
	snap.Errors = append([]projection.TransitionError(nil), hive.Errors...)
	return &snap, nil
}
